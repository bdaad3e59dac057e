package broker

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/adred-codev/netplay/internal/config"
	"github.com/adred-codev/netplay/internal/metrics"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// exportRecord is the cross-instance/audit wire format for both sinks.
// It is deliberately plain JSON, not the client-facing bit codec: these
// are internal/operational feeds, not the latency-sensitive client
// protocol.
type exportRecord struct {
	Room       string `json:"room"`
	Index      int64  `json:"index"`
	ServerTime int64  `json:"server_time"`
	ClientTime int64  `json:"client_time"`
	Name       string `json:"name"`
	Payload    []byte `json:"payload"`
}

func encodeExportRecord(room string, index, serverTime, clientTime int64, name string, payload []byte) ([]byte, error) {
	return json.Marshal(exportRecord{
		Room:       room,
		Index:      index,
		ServerTime: serverTime,
		ClientTime: clientTime,
		Name:       name,
		Payload:    payload,
	})
}

// exportSinks holds the broker's two best-effort outbound feeds: a NATS
// connection mirroring every post to other broker instances, and a
// Kafka producer writing every post to an offline audit topic. Neither
// sink is on the client's critical path — a publish failure is logged
// and counted, never surfaced to the poster.
type exportSinks struct {
	logger zerolog.Logger

	nats      *nats.Conn
	natsTopic func(room string) string

	kafka      *kgo.Client
	kafkaTopic string
}

func newExportSinks(cfg *config.Config, logger zerolog.Logger) *exportSinks {
	es := &exportSinks{
		logger:     logger,
		natsTopic:  func(room string) string { return "netplay.room." + room + ".posts" },
		kafkaTopic: cfg.KafkaTopic,
	}

	if cfg.NATSEnabled() {
		conn, err := nats.Connect(cfg.NATSURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn().Err(err).Msg("nats disconnected")
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
			}),
		)
		if err != nil {
			logger.Warn().Err(err).Msg("nats connect failed, cross-instance fanout disabled")
		} else {
			es.nats = conn
		}
	}

	if cfg.KafkaEnabled() {
		client, err := kgo.NewClient(
			kgo.SeedBrokers(splitCommaList(cfg.KafkaBrokers)...),
			kgo.DefaultProduceTopic(cfg.KafkaTopic),
			kgo.ProducerBatchMaxBytes(1<<20),
		)
		if err != nil {
			logger.Warn().Err(err).Msg("kafka client init failed, audit export disabled")
		} else {
			es.kafka = client
		}
	}

	return es
}

// publishPost mirrors one appended post to both sinks, skipping either
// that is unconfigured, unavailable, or asked to back off under CPU
// pressure.
func (es *exportSinks) publishPost(room string, index, serverTime, clientTime int64, name string, payload []byte, relax bool) {
	if relax {
		return
	}

	if es.nats != nil {
		buf, err := encodeExportRecord(room, index, serverTime, clientTime, name, payload)
		if err != nil {
			es.logger.Error().Err(err).Msg("failed to encode nats export record")
		} else if err := es.nats.Publish(es.natsTopic(room), buf); err != nil {
			metrics.NATSPublishErrors.Inc()
			es.logger.Debug().Err(err).Msg("nats publish failed")
		} else {
			metrics.NATSPublished.Inc()
		}
	}

	if es.kafka != nil {
		buf, err := encodeExportRecord(room, index, serverTime, clientTime, name, payload)
		if err != nil {
			es.logger.Error().Err(err).Msg("failed to encode kafka export record")
			return
		}
		rec := &kgo.Record{Topic: es.kafkaTopic, Key: []byte(room), Value: buf}
		es.kafka.Produce(context.Background(), rec, func(_ *kgo.Record, err error) {
			if err != nil {
				metrics.KafkaPublishErrors.Inc()
				es.logger.Debug().Err(err).Msg("kafka produce failed")
				return
			}
			metrics.KafkaPublished.Inc()
		})
	}
}

func (es *exportSinks) close() {
	if es.nats != nil {
		es.nats.Close()
	}
	if es.kafka != nil {
		es.kafka.Close()
	}
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
