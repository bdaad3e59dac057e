// Package engine implements the deterministic replay engine of §4.6 —
// the core of the system: official-time assignment, per-tick timeline
// indexing, remote/local post bookkeeping, local prediction with
// rollback on authoritative echo, a bounded snapshot cache with safe
// pruning, and smoothed render state composition.
package engine

// Post is an authoritative or predicted input event, per §3. Index is
// -1 for a local post that has not yet been acknowledged by the broker.
type Post struct {
	Room       string
	Index      int64
	ServerTime int64
	ClientTime int64
	Name       string
	Data       any
}

// bucket is the per-tick timeline entry of §3: remote posts ordered by
// ascending index, local posts in insertion order. Remote posts apply
// before local posts within a tick.
type bucket struct {
	remote []Post
	local  []Post
}

func (b *bucket) insertRemoteSorted(p Post) {
	i := 0
	for i < len(b.remote) && b.remote[i].Index < p.Index {
		i++
	}
	b.remote = append(b.remote, Post{})
	copy(b.remote[i+1:], b.remote[i:])
	b.remote[i] = p
}

func (b *bucket) removeLocalByName(name string) {
	for i, p := range b.local {
		if p.Name == name {
			b.local = append(b.local[:i], b.local[i+1:]...)
			return
		}
	}
}
