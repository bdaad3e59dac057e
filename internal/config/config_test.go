package config

import "testing"

func validConfig() *Config {
	return &Config{
		Addr:               ":3002",
		DBDir:              "./data/rooms",
		MaxConnections:      500,
		PostRate:           50,
		PostBurst:          100,
		CPURejectThreshold: 75,
		CPUPauseThreshold:  85,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	c := validConfig()
	c.CPUPauseThreshold = 50
	c.CPURejectThreshold = 75
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for pause threshold below reject threshold")
	}
}

func TestValidateRejectsKafkaTopicMissing(t *testing.T) {
	c := validConfig()
	c.KafkaBrokers = "localhost:9092"
	c.KafkaTopic = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when kafka brokers set without topic")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	c := validConfig()
	c.LogLevel = "verbose"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestNATSAndKafkaEnabledFlags(t *testing.T) {
	c := validConfig()
	if c.NATSEnabled() || c.KafkaEnabled() {
		t.Fatal("expected both disabled by default")
	}
	c.NATSURL = "nats://localhost:4222"
	c.KafkaBrokers = "localhost:9092"
	c.KafkaTopic = "room-posts"
	if !c.NATSEnabled() || !c.KafkaEnabled() {
		t.Fatal("expected both enabled once configured")
	}
}
