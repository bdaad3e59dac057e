package broker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adred-codev/netplay/internal/config"
	"github.com/adred-codev/netplay/internal/metrics"
	"github.com/rs/zerolog"
)

// resourceGuard enforces the broker's static admission-control limits:
// a hard connection cap and a CPU emergency brake, per §4.4. Unlike a
// capacity manager, it never recalculates its limits from measurements
// — only accepts or rejects against the configured thresholds.
type resourceGuard struct {
	cfg    *config.Config
	logger zerolog.Logger
	cpu    *cpuMonitor

	activeConns *int64
	currentCPU  atomic.Value // float64
}

func newResourceGuard(cfg *config.Config, logger zerolog.Logger, activeConns *int64) *resourceGuard {
	rg := &resourceGuard{
		cfg:         cfg,
		logger:      logger,
		cpu:         newCPUMonitor(logger),
		activeConns: activeConns,
	}
	rg.currentCPU.Store(0.0)

	metrics.CapacityCPURejectThreshold.Set(cfg.CPURejectThreshold)
	metrics.CapacityCPUPauseThreshold.Set(cfg.CPUPauseThreshold)
	metrics.ConnectionsMax.Set(float64(cfg.MaxConnections))

	return rg
}

// shouldAccept reports whether a new connection should be admitted.
func (rg *resourceGuard) shouldAccept() (accept bool, reason string) {
	conns := atomic.LoadInt64(rg.activeConns)
	cpuPct := rg.currentCPU.Load().(float64)

	if conns >= int64(rg.cfg.MaxConnections) {
		metrics.ConnectionsRejected.WithLabelValues("at_max_connections").Inc()
		return false, fmt.Sprintf("at max connections (%d)", rg.cfg.MaxConnections)
	}
	if cpuPct > rg.cfg.CPURejectThreshold {
		metrics.ConnectionsRejected.WithLabelValues("cpu_overload").Inc()
		return false, fmt.Sprintf("cpu %.1f%% > %.1f%%", cpuPct, rg.cfg.CPURejectThreshold)
	}
	return true, "ok"
}

// shouldRelaxDurability reports whether the broker is under enough CPU
// pressure that non-critical work (cross-instance NATS fanout, Kafka
// export) should be skipped rather than risk falling further behind.
func (rg *resourceGuard) shouldRelaxDurability() bool {
	return rg.currentCPU.Load().(float64) > rg.cfg.CPUPauseThreshold
}

func (rg *resourceGuard) update() {
	pct := rg.cpu.percent()
	rg.currentCPU.Store(pct)
	rg.logger.Debug().
		Float64("cpu_percent", pct).
		Int64("connections", atomic.LoadInt64(rg.activeConns)).
		Msg("resource state updated")
}

func (rg *resourceGuard) startMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rg.update()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ActiveConnections implements metrics.RuntimeSource.
func (rg *resourceGuard) ActiveConnections() int64 { return atomic.LoadInt64(rg.activeConns) }

// CPUPercent implements metrics.RuntimeSource.
func (rg *resourceGuard) CPUPercent() float64 { return rg.currentCPU.Load().(float64) }
