package engine

// safePruneTick is the highest tick below which history is provably
// complete — every index up to the contiguous frontier has arrived —
// or nil if no authoritative post has arrived yet.
func (e *Engine) safePruneTick() *int64 {
	if e.noPendingPostsBeforeMS == nil {
		return nil
	}
	t := floorDiv(*e.noPendingPostsBeforeMS*int64(e.tickRate), 1000)
	return &t
}

func (e *Engine) cacheWindowTicks() int64 {
	n := e.snapshotCount - 1
	if n < 0 {
		n = 0
	}
	return int64(e.snapshotStride) * int64(n)
}

// safeComputeTick clamps a requested tick to the end of the safely
// cacheable window, per §4.6, so compute_state_at never has to pretend
// completeness it cannot prove.
func (e *Engine) safeComputeTick(req int64) int64 {
	sp := e.safePruneTick()
	if sp == nil {
		return req
	}
	limit := *sp + e.cacheWindowTicks()
	if req < limit {
		return req
	}
	return limit
}

// applyTick advances state by exactly one tick: on_tick, then every
// remote post at that tick in index order, then every local post in
// insertion order.
func (e *Engine) applyTick(state any, tick int64) any {
	state = e.onTick(state)
	if b, ok := e.timeline[tick]; ok {
		for _, p := range b.remote {
			state = e.onPost(p, state)
		}
		for _, p := range b.local {
			state = e.onPost(p, state)
		}
	}
	return state
}

func (e *Engine) advance(state any, fromExclusive, toInclusive int64) any {
	for t := fromExclusive + 1; t <= toInclusive; t++ {
		state = e.applyTick(state, t)
	}
	return state
}

// ensureSnapshots extends the snapshot ring forward, in stride steps,
// until it holds the greatest stride tick <= at, evicting the oldest
// snapshot and pruning history below it whenever the ring would exceed
// snapshot_count entries. It never caches a tick past at, so a request
// clamped by safeComputeTick keeps the ring's start within the safe
// prune frontier.
func (e *Engine) ensureSnapshots(at int64) {
	if e.snapshotStart == nil {
		s := *e.epochTick
		e.snapshotStart = &s
	}

	for len(e.snapshotTicks) == 0 || e.snapshotTicks[len(e.snapshotTicks)-1]+int64(e.snapshotStride) <= at {
		var nextTick, baseTick int64
		var baseState any
		if len(e.snapshotTicks) == 0 {
			nextTick = *e.snapshotStart
			baseTick = *e.epochTick - 1
			baseState = e.initial
		} else {
			baseTick = e.snapshotTicks[len(e.snapshotTicks)-1]
			baseState = e.snapshots[baseTick]
			nextTick = baseTick + int64(e.snapshotStride)
		}

		state := e.advance(baseState, baseTick, nextTick)
		e.snapshots[nextTick] = state
		e.snapshotTicks = append(e.snapshotTicks, nextTick)

		if len(e.snapshotTicks) > e.snapshotCount {
			oldest := e.snapshotTicks[0]
			delete(e.snapshots, oldest)
			e.snapshotTicks = e.snapshotTicks[1:]
			newStart := e.snapshotTicks[0]
			e.snapshotStart = &newStart
			e.pruneBeforeTick(newStart)
		}
	}
}

// pruneBeforeTick discards timeline/post bookkeeping strictly before
// tick, clamped to what safe_prune_tick proves is complete — an
// invariant that takes priority over the stride eviction that triggers
// pruning, so the engine never drops history it cannot later prove was
// accounted for.
func (e *Engine) pruneBeforeTick(tick int64) {
	limit := tick
	if sp := e.safePruneTick(); sp != nil && limit > *sp {
		limit = *sp
		e.cacheDropGuardHits++
	}
	for t, b := range e.timeline {
		if t >= limit {
			continue
		}
		for _, p := range b.remote {
			delete(e.remotePosts, p.Index)
		}
		for _, p := range b.local {
			delete(e.localPosts, p.Name)
		}
		delete(e.timeline, t)
	}
}

// snapshotAtOrBefore returns the cached state at the greatest snapshot
// tick <= at, and that tick, or (nil, 0, false) if none qualifies.
func (e *Engine) snapshotAtOrBefore(at int64) (any, int64, bool) {
	var best = -1
	for i, tk := range e.snapshotTicks {
		if tk <= at {
			best = i
		} else {
			break
		}
	}
	if best < 0 {
		return nil, 0, false
	}
	tk := e.snapshotTicks[best]
	return e.snapshots[tk], tk, true
}

// ComputeStateAt replays state forward to tick at, per §4.6: before the
// room's first post, returns the initial value unchanged; otherwise
// uses the snapshot cache (if enabled) or a full from-scratch replay.
func (e *Engine) ComputeStateAt(at int64) any {
	at = e.safeComputeTick(at)

	if e.epochTick == nil {
		return e.initial
	}
	if at < *e.epochTick {
		return e.initial
	}

	if !e.cacheEnabled {
		return e.advance(e.initial, *e.epochTick-1, at)
	}

	e.ensureSnapshots(at)
	base, baseTick, ok := e.snapshotAtOrBefore(at)
	if !ok {
		base, baseTick = e.initial, *e.epochTick-1
	}
	return e.advance(base, baseTick, at)
}
