package engine

// bucketAt returns (creating if needed) the timeline bucket for tick t.
func (e *Engine) bucketAt(t int64) *bucket {
	b, ok := e.timeline[t]
	if !ok {
		b = &bucket{}
		e.timeline[t] = b
	}
	return b
}

// applyPreWindowGuard drops the entire snapshot cache if a post lands
// at a tick before the cache's current window start — an insertion the
// cache cannot represent without discarding its progression, per §4.6's
// out-of-window invariant.
func (e *Engine) applyPreWindowGuard(t int64) {
	if !e.cacheEnabled || e.snapshotStart == nil {
		return
	}
	if t < *e.snapshotStart {
		e.cacheDropGuardHits++
		e.snapshots = make(map[int64]any)
		e.snapshotTicks = nil
		e.snapshotStart = nil
	}
}

// invalidateSnapshotsFrom drops every cached snapshot at a tick >= t.
func (e *Engine) invalidateSnapshotsFrom(t int64) {
	if len(e.snapshotTicks) == 0 {
		return
	}
	i := 0
	for i < len(e.snapshotTicks) && e.snapshotTicks[i] < t {
		i++
	}
	for _, tk := range e.snapshotTicks[i:] {
		delete(e.snapshots, tk)
	}
	e.snapshotTicks = e.snapshotTicks[:i]
	if len(e.snapshotTicks) == 0 {
		e.snapshotStart = nil
	}
}

// admitLocal records a locally predicted post, per §4.6's "predicting a
// local post" algorithm.
func (e *Engine) admitLocal(p Post) {
	t := e.officialTick(p)
	e.noteEpoch(t)
	e.applyPreWindowGuard(t)
	e.localPosts[p.Name] = p
	e.bucketAt(t).local = append(e.bucketAt(t).local, p)
	e.invalidateSnapshotsFrom(t)
}

// noteEpoch records the earliest tick any post has ever been admitted
// at, which is where replay starts from.
func (e *Engine) noteEpoch(t int64) {
	if e.epochTick == nil || t < *e.epochTick {
		tc := t
		e.epochTick = &tc
	}
}

func (e *Engine) removeLocal(p Post) {
	t := e.officialTick(p)
	if b, ok := e.timeline[t]; ok {
		b.removeLocalByName(p.Name)
	}
	delete(e.localPosts, p.Name)
	e.invalidateSnapshotsFrom(t)
}

// HandleRemotePost admits an authoritative post from the broker,
// resolving it against any matching local prediction first. It is
// registered as the handler passed to Transport.Load and
// Transport.Watch, and is safe to call directly in tests to simulate
// delivery.
func (e *Engine) HandleRemotePost(p Post) {
	if e.closed.Load() {
		return
	}
	if local, ok := e.localPosts[p.Name]; ok {
		e.removeLocal(local)
	}
	e.admitRemote(p)
}

func (e *Engine) admitRemote(p Post) {
	if _, dup := e.remotePosts[p.Index]; dup {
		return
	}
	if p.Index == 0 && e.initialTickValue == nil {
		it := e.officialTime(p)
		tk := e.officialTick(p)
		e.initialTimeValue = &it
		e.initialTickValue = &tk
	}

	t := e.officialTick(p)
	e.noteEpoch(t)
	e.applyPreWindowGuard(t)

	e.remotePosts[p.Index] = p
	if p.Index > e.maxRemoteIndex {
		e.maxRemoteIndex = p.Index
	}
	e.bucketAt(t).insertRemoteSorted(p)
	e.invalidateSnapshotsFrom(t)

	e.advanceContiguousFrontier()
}

func (e *Engine) advanceContiguousFrontier() {
	for {
		next := e.maxContiguousRemoteIndex + 1
		p, ok := e.remotePosts[next]
		if !ok {
			return
		}
		e.maxContiguousRemoteIndex = next
		ot := e.officialTime(p)
		if e.noPendingPostsBeforeMS == nil {
			e.noPendingPostsBeforeMS = &ot
		} else {
			w := max64(*e.noPendingPostsBeforeMS, ot)
			e.noPendingPostsBeforeMS = &w
		}
	}
}
