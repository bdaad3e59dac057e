// Package config loads the broker's configuration from environment
// variables (with an optional local .env file for convenience),
// mirroring the teacher's LoadConfig/Validate/LogConfig shape.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all broker configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server basics
	Addr  string `env:"BROKER_ADDR" envDefault:"0.0.0.0:8080"`
	DBDir string `env:"BROKER_DB_DIR" envDefault:"./data/rooms"`

	// Capacity
	MaxConnections int `env:"BROKER_MAX_CONNECTIONS" envDefault:"500"`

	// Per-connection post rate limiting (golang.org/x/time/rate)
	PostRate  float64 `env:"BROKER_POST_RATE" envDefault:"50"`
	PostBurst int     `env:"BROKER_POST_BURST" envDefault:"100"`

	// CPU Safety Thresholds (Container-Aware)
	//
	// These thresholds are relative to CONTAINER CPU ALLOCATION, not
	// host CPU: the broker uses container-aware cgroup measurement when
	// running under Docker/Kubernetes, falling back to host CPU percent
	// otherwise.
	CPURejectThreshold float64 `env:"BROKER_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"BROKER_CPU_PAUSE_THRESHOLD" envDefault:"85.0"`

	// Cross-instance and audit export
	NATSURL      string `env:"BROKER_NATS_URL" envDefault:""`
	KafkaBrokers string `env:"BROKER_KAFKA_BROKERS" envDefault:""`
	KafkaTopic   string `env:"BROKER_KAFKA_TOPIC" envDefault:"room-posts"`

	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file (if present) and the
// environment. ENV vars take priority over .env, which takes priority
// over defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("BROKER_ADDR is required")
	}
	if c.DBDir == "" {
		return fmt.Errorf("BROKER_DB_DIR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("BROKER_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.PostRate <= 0 {
		return fmt.Errorf("BROKER_POST_RATE must be > 0, got %.2f", c.PostRate)
	}
	if c.PostBurst < 1 {
		return fmt.Errorf("BROKER_POST_BURST must be > 0, got %d", c.PostBurst)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("BROKER_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("BROKER_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("BROKER_CPU_PAUSE_THRESHOLD (%.1f) must be >= BROKER_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, text, pretty (got: %s)", c.LogFormat)
	}

	if c.KafkaBrokers != "" && c.KafkaTopic == "" {
		return fmt.Errorf("BROKER_KAFKA_TOPIC is required when BROKER_KAFKA_BROKERS is set")
	}
	return nil
}

// NATSEnabled reports whether cross-instance event export is configured.
func (c *Config) NATSEnabled() bool { return c.NATSURL != "" }

// KafkaEnabled reports whether offline audit export is configured.
func (c *Config) KafkaEnabled() bool { return c.KafkaBrokers != "" }

// LogConfig logs configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("db_dir", c.DBDir).
		Int("max_connections", c.MaxConnections).
		Float64("post_rate", c.PostRate).
		Int("post_burst", c.PostBurst).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Bool("nats_enabled", c.NATSEnabled()).
		Bool("kafka_enabled", c.KafkaEnabled()).
		Str("kafka_topic", c.KafkaTopic).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("broker configuration loaded")
}
