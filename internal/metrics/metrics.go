// Package metrics exposes the broker's Prometheus metrics, mirroring
// the teacher's flat package-level-vars-plus-init() registration style.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netplay_connections_total",
		Help: "Total number of broker connections established",
	})
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netplay_connections_active",
		Help: "Current number of active connections",
	})
	ConnectionsMax = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netplay_connections_max",
		Help: "Maximum allowed connections",
	})
	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netplay_connections_rejected_total",
		Help: "Total connection rejections by reason",
	}, []string{"reason"})
	Disconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netplay_disconnects_total",
		Help: "Total disconnections by reason",
	}, []string{"reason"})
	ConnectionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "netplay_connection_duration_seconds",
		Help:    "Connection duration before disconnect",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
	})

	PostsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netplay_posts_received_total",
		Help: "Total posts accepted from clients",
	})
	PostsBroadcast = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netplay_posts_broadcast_total",
		Help: "Total post deliveries sent to watching connections",
	})
	BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netplay_bytes_sent_total",
		Help: "Total bytes sent to clients",
	})
	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netplay_bytes_received_total",
		Help: "Total bytes received from clients",
	})

	RateLimitedPosts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netplay_rate_limited_posts_total",
		Help: "Total posts rejected by the per-connection rate limiter",
	})
	ReplayRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netplay_replay_requests_total",
		Help: "Total load requests served from the room log",
	})
	DrainGapWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netplay_drain_gap_waits_total",
		Help: "Total times a connection's drain loop waited for a log gap to fill",
	})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netplay_memory_bytes",
		Help: "Current process memory usage in bytes",
	})
	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netplay_cpu_usage_percent",
		Help: "Current CPU usage percentage, relative to the container's CPU allocation when cgroup-aware",
	})
	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netplay_goroutines_active",
		Help: "Current number of active goroutines",
	})

	CapacityCPURejectThreshold = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netplay_capacity_cpu_reject_threshold_percent",
		Help: "CPU threshold above which new connections are rejected",
	})
	CapacityCPUPauseThreshold = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netplay_capacity_cpu_pause_threshold_percent",
		Help: "CPU threshold above which NATS/Kafka post export is skipped",
	})

	NATSPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netplay_nats_published_total",
		Help: "Total post events mirrored to NATS for cross-instance fanout",
	})
	NATSPublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netplay_nats_publish_errors_total",
		Help: "Total errors publishing post events to NATS",
	})
	KafkaPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netplay_kafka_published_total",
		Help: "Total post events exported to Kafka for offline audit",
	})
	KafkaPublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netplay_kafka_publish_errors_total",
		Help: "Total errors exporting post events to Kafka",
	})

	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netplay_errors_total",
		Help: "Total errors by type and severity",
	}, []string{"type", "severity"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal, ConnectionsActive, ConnectionsMax, ConnectionsRejected,
		Disconnects, ConnectionDuration,
		PostsReceived, PostsBroadcast, BytesSent, BytesReceived,
		RateLimitedPosts, ReplayRequests, DrainGapWaits,
		MemoryUsageBytes, CPUUsagePercent, GoroutinesActive,
		CapacityCPURejectThreshold, CapacityCPUPauseThreshold,
		NATSPublished, NATSPublishErrors, KafkaPublished, KafkaPublishErrors,
		ErrorsTotal,
	)
}

// RuntimeSource supplies the numbers the Collector cannot read itself —
// connection count and CPU percent are broker/cgroup concerns, not
// metrics concerns.
type RuntimeSource interface {
	ActiveConnections() int64
	CPUPercent() float64
}

// Collector periodically samples runtime and broker state into the
// gauges above, mirroring the teacher's MetricsCollector.
type Collector struct {
	source   RuntimeSource
	interval time.Duration
	stop     chan struct{}
}

func NewCollector(source RuntimeSource, interval time.Duration) *Collector {
	return &Collector{source: source, interval: interval, stop: make(chan struct{})}
}

func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *Collector) Stop() { close(c.stop) }

func (c *Collector) collect() {
	ConnectionsActive.Set(float64(c.source.ActiveConnections()))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	MemoryUsageBytes.Set(float64(mem.Alloc))

	CPUUsagePercent.Set(c.source.CPUPercent())
	GoroutinesActive.Set(float64(runtime.NumGoroutine()))
}
