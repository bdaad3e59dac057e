package engine

import (
	"context"
	"testing"

	"github.com/adred-codev/netplay/internal/codec"
)

func counterOptions(room string, tickRate int, tolerance int64, stride, count int) Options {
	return Options{
		Room:           room,
		Initial:        0,
		OnTick:         func(s any) any { return s },
		OnPost:         func(p Post, s any) any { return s.(int) + p.Data.(int) },
		Packer:         codec.UInt(8),
		TickRate:       tickRate,
		ToleranceMS:    tolerance,
		SnapshotStride: stride,
		SnapshotCount:  count,
	}
}

func TestComputeStateAtIsDeterministic(t *testing.T) {
	ft := newFakeTransport()
	e, err := New(ft, counterOptions("room-a", 20, 100, 8, 256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Start(context.Background())
	ft.triggerSync(0)

	for i := 0; i < 5; i++ {
		st := int64(i * 50)
		e.HandleRemotePost(Post{Room: "room-a", Index: int64(i), ServerTime: st, ClientTime: st, Name: "n", Data: i + 1})
	}

	a := e.ComputeStateAt(4)
	b := e.ComputeStateAt(4)
	if a != b {
		t.Fatalf("compute_state_at is not deterministic: %v != %v", a, b)
	}
	if a.(int) != 15 {
		t.Fatalf("expected sum 15, got %v", a)
	}
}

func TestLocalPredictionIsReplacedByEcho(t *testing.T) {
	ft := newFakeTransport()
	e, err := New(ft, counterOptions("room-b", 20, 100, 8, 256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Start(context.Background())
	ft.triggerSync(500)

	name, err := e.Post(7)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	if got := e.ComputeStateAt(10); got.(int) != 7 {
		t.Fatalf("expected predicted value 7, got %v", got)
	}

	ft.deliver("room-b", Post{Room: "room-b", Index: 0, ServerTime: 500, ClientTime: 500, Name: name, Data: 7})

	got := e.ComputeStateAt(10)
	if got.(int) != 7 {
		t.Fatalf("expected echoed value to replace (not double-count) prediction, got %v", got)
	}
	if cnt := e.PostCount(); cnt != 1 {
		t.Fatalf("expected post count 1 after echo, got %d", cnt)
	}
}

func TestUnechoedLocalPredictionStaysUntilEchoed(t *testing.T) {
	ft := newFakeTransport()
	e, err := New(ft, counterOptions("room-c", 20, 100, 8, 256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Start(context.Background())
	ft.triggerSync(0)

	if _, err := e.Post(3); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if _, err := e.Post(4); err != nil {
		t.Fatalf("Post: %v", err)
	}

	if got := e.ComputeStateAt(0); got.(int) != 7 {
		t.Fatalf("expected both local predictions applied, got %v", got)
	}
}

func TestSnapshotCacheMatchesUncachedReplay(t *testing.T) {
	ft := newFakeTransport()
	cached, err := New(ft, counterOptions("room-d", 20, 100, 4, 3))
	if err != nil {
		t.Fatalf("New cached: %v", err)
	}
	cached.Start(context.Background())
	ft.triggerSync(0)

	ft2 := newFakeTransport()
	falseVal := false
	opts := counterOptions("room-d", 20, 100, 4, 3)
	opts.CacheEnabled = &falseVal
	uncached, err := New(ft2, opts)
	if err != nil {
		t.Fatalf("New uncached: %v", err)
	}
	uncached.Start(context.Background())
	ft2.triggerSync(0)

	const n = 40
	for i := 0; i < n; i++ {
		st := int64(i * 50)
		p := Post{Room: "room-d", Index: int64(i), ServerTime: st, ClientTime: st, Name: "n", Data: i}
		cached.HandleRemotePost(p)
		uncached.HandleRemotePost(p)
	}

	cachedState := cached.ComputeStateAt(n - 1)
	uncachedState := uncached.ComputeStateAt(n - 1)
	if cachedState != uncachedState {
		t.Fatalf("cached replay %v diverged from uncached replay %v", cachedState, uncachedState)
	}

	dump := cached.Diagnostics()
	if dump.SnapshotCount > 3 {
		t.Fatalf("expected snapshot ring bounded at 3 entries, got %d", dump.SnapshotCount)
	}
}

// TestLongBacklogJoinWithoutDesync is spec.md §8 scenario 5: a room
// seeded with 1,500 historical posts at 100ms spacing (spawns of
// characters at indices 0/10/20/1200/1300), rendered for 90 simulated
// seconds past the end of the backlog. A cached engine must match an
// uncached replay at every probe and never trip the pre-window/prune
// guard, since the backlog arrives strictly in order with no gaps.
func TestLongBacklogJoinWithoutDesync(t *testing.T) {
	const (
		tickRate      = 24
		tolerance     = 300
		backlog       = 1500
		renderSeconds = 90
	)
	spawns := map[int]string{0: "x", 10: "y", 20: "l", 1200: "f", 1300: "j"}

	onPost := func(p Post, s any) any {
		name, _ := p.Data.(string)
		if name == "" {
			return s
		}
		old := s.(map[string]bool)
		next := make(map[string]bool, len(old)+1)
		for k := range old {
			next[k] = true
		}
		next[name] = true
		return next
	}

	newSpawnEngine := func(room string, cacheEnabled *bool) *Engine {
		ft := newFakeTransport()
		e, err := New(ft, Options{
			Room:         room,
			Initial:      map[string]bool{},
			OnTick:       func(s any) any { return s },
			OnPost:       onPost,
			Packer:       codec.StringSchema(),
			TickRate:     tickRate,
			ToleranceMS:  tolerance,
			CacheEnabled: cacheEnabled,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		e.Start(context.Background())
		ft.triggerSync(0)
		return e
	}

	falseVal := false
	cached := newSpawnEngine("room-backlog", nil)
	uncached := newSpawnEngine("room-backlog", &falseVal)

	for i := 0; i < backlog; i++ {
		st := int64(i * 100)
		data := ""
		if name, ok := spawns[i]; ok {
			data = name
		}
		p := Post{Room: "room-backlog", Index: int64(i), ServerTime: st, ClientTime: st, Name: "n", Data: data}
		cached.HandleRemotePost(p)
		uncached.HandleRemotePost(p)
	}

	lastTick := cached.officialTick(Post{ServerTime: int64((backlog - 1) * 100), ClientTime: int64((backlog - 1) * 100)})

	for sec := 0; sec <= renderSeconds; sec++ {
		probe := lastTick + int64(sec*tickRate)
		cachedState := cached.ComputeStateAt(probe).(map[string]bool)
		uncachedState := uncached.ComputeStateAt(probe).(map[string]bool)
		if !playerSetsEqual(cachedState, uncachedState) {
			t.Fatalf("cached/uncached diverged at probe tick %d (simulated second %d): %v vs %v", probe, sec, cachedState, uncachedState)
		}
	}

	final := cached.ComputeStateAt(lastTick + renderSeconds*tickRate).(map[string]bool)
	for _, want := range []string{"x", "y", "l", "f", "j"} {
		if !final[want] {
			t.Fatalf("expected player %q present after full backlog replay, got %v", want, final)
		}
	}

	dump := cached.Diagnostics()
	if dump.CacheDropGuardHits != 0 {
		t.Fatalf("expected cache_drop_guard_hits == 0 for a gap-free in-order backlog join, got %d", dump.CacheDropGuardHits)
	}
}

func playerSetsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func TestComputeStateAtBeforeFirstPostReturnsInitial(t *testing.T) {
	ft := newFakeTransport()
	e, err := New(ft, counterOptions("room-e", 20, 100, 8, 256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Start(context.Background())
	ft.triggerSync(0)

	if got := e.ComputeStateAt(0); got.(int) != 0 {
		t.Fatalf("expected initial state 0 with no posts, got %v", got)
	}
}

func TestRemoteDuplicateIndexIgnored(t *testing.T) {
	ft := newFakeTransport()
	e, err := New(ft, counterOptions("room-f", 20, 100, 8, 256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Start(context.Background())
	ft.triggerSync(0)

	p := Post{Room: "room-f", Index: 0, ServerTime: 0, ClientTime: 0, Name: "n", Data: 5}
	e.HandleRemotePost(p)
	e.HandleRemotePost(p)

	if got := e.ComputeStateAt(0); got.(int) != 5 {
		t.Fatalf("expected duplicate index to be ignored, got %v", got)
	}
}
