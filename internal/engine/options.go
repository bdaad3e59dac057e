package engine

import (
	"fmt"

	"github.com/adred-codev/netplay/internal/codec"
)

// Options configures a new Engine, per §4.6's construction options.
type Options struct {
	Room string

	// Initial is the state value before any tick has been applied.
	Initial any
	// OnTick advances state by exactly one tick, with no posts applied.
	OnTick func(state any) any
	// OnPost folds one post's effect into state.
	OnPost func(p Post, state any) any
	// Packer decodes/encodes post payloads for this room.
	Packer codec.Schema

	TickRate    int
	ToleranceMS int64

	// Smooth composes the lagged remote-confirmed state and the
	// unlagged local-predicted state into a render state. Defaults to
	// returning the remote state unchanged.
	Smooth func(remote, local any) any

	// CacheEnabled toggles the snapshot cache; defaults to true.
	CacheEnabled *bool
	// SnapshotStride is the tick spacing between cached snapshots.
	// Defaults to 8.
	SnapshotStride int
	// SnapshotCount bounds the number of cached snapshots kept at once.
	// Defaults to 256.
	SnapshotCount int
}

func (o Options) validate() error {
	if o.Room == "" {
		return fmt.Errorf("engine: room is required")
	}
	if o.OnTick == nil {
		return fmt.Errorf("engine: on_tick is required")
	}
	if o.OnPost == nil {
		return fmt.Errorf("engine: on_post is required")
	}
	if o.TickRate <= 0 {
		return fmt.Errorf("engine: tick_rate must be positive, got %d", o.TickRate)
	}
	if o.ToleranceMS < 0 {
		return fmt.Errorf("engine: tolerance_ms must be non-negative, got %d", o.ToleranceMS)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.SnapshotStride <= 0 {
		o.SnapshotStride = 8
	}
	if o.SnapshotCount <= 0 {
		o.SnapshotCount = 256
	}
	if o.CacheEnabled == nil {
		t := true
		o.CacheEnabled = &t
	}
	if o.Smooth == nil {
		o.Smooth = func(remote, local any) any { return remote }
	}
	return o
}
