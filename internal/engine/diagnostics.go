package engine

// Dump is a point-in-time snapshot of internal bookkeeping, exposed for
// tests and operational introspection — never consulted by the replay
// algorithm itself.
type Dump struct {
	MaxContiguousRemoteIndex int64
	MaxRemoteIndex           int64
	RemotePostCount          int
	LocalPostCount           int
	TimelineTickCount        int
	SnapshotCount            int
	SnapshotTicks            []int64
	CacheDropGuardHits       int64
	InitialTick              *int64
	SafePruneTick            *int64
}

func (e *Engine) Diagnostics() Dump {
	ticks := make([]int64, len(e.snapshotTicks))
	copy(ticks, e.snapshotTicks)
	return Dump{
		MaxContiguousRemoteIndex: e.maxContiguousRemoteIndex,
		MaxRemoteIndex:           e.maxRemoteIndex,
		RemotePostCount:          len(e.remotePosts),
		LocalPostCount:           len(e.localPosts),
		TimelineTickCount:        len(e.timeline),
		SnapshotCount:            len(e.snapshotTicks),
		SnapshotTicks:            ticks,
		CacheDropGuardHits:       e.cacheDropGuardHits,
		InitialTick:              e.initialTickValue,
		SafePruneTick:            e.safePruneTick(),
	}
}
