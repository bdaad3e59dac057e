package broker

import (
	"testing"

	"github.com/adred-codev/netplay/internal/config"
	"github.com/rs/zerolog"
)

func newTestGuard(maxConns int, rejectPct, pausePct float64) (*resourceGuard, *int64) {
	conns := new(int64)
	rg := newResourceGuard(&config.Config{
		MaxConnections:     maxConns,
		CPURejectThreshold: rejectPct,
		CPUPauseThreshold:  pausePct,
	}, zerolog.Nop(), conns)
	return rg, conns
}

func TestShouldAcceptRejectsAtMaxConnections(t *testing.T) {
	rg, conns := newTestGuard(2, 75, 85)
	*conns = 2
	if accept, _ := rg.shouldAccept(); accept {
		t.Fatal("expected rejection at max connections")
	}
}

func TestShouldAcceptRejectsOverCPUThreshold(t *testing.T) {
	rg, _ := newTestGuard(500, 75, 85)
	rg.currentCPU.Store(80.0)
	if accept, reason := rg.shouldAccept(); accept {
		t.Fatalf("expected rejection over cpu threshold, got accept (reason=%q)", reason)
	}
}

func TestShouldAcceptAllowsUnderThresholds(t *testing.T) {
	rg, conns := newTestGuard(500, 75, 85)
	*conns = 10
	rg.currentCPU.Store(50.0)
	if accept, reason := rg.shouldAccept(); !accept {
		t.Fatalf("expected acceptance, got rejection (reason=%q)", reason)
	}
}

func TestShouldRelaxDurabilityOnlyPastPauseThreshold(t *testing.T) {
	rg, _ := newTestGuard(500, 75, 85)

	rg.currentCPU.Store(80.0)
	if rg.shouldRelaxDurability() {
		t.Fatal("expected durability to stay on below pause threshold")
	}

	rg.currentCPU.Store(90.0)
	if !rg.shouldRelaxDurability() {
		t.Fatal("expected durability relaxation above pause threshold")
	}
}
