package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/adred-codev/netplay/internal/codec"
)

// Engine replays one room's input log into application state. Per §5,
// all of its mutating methods are meant to run on a single logical
// dispatch context — the transport's callback goroutine — so the
// mutation path carries no locks; only the closed flag is atomic, since
// Close may race with in-flight delivery from the transport.
type Engine struct {
	room        string
	initial     any
	onTick      func(state any) any
	onPost      func(p Post, state any) any
	packer      codec.Schema
	tickRate    int
	toleranceMS int64
	smooth      func(remote, local any) any

	cacheEnabled   bool
	snapshotStride int
	snapshotCount  int

	transport Transport

	remotePosts map[int64]Post
	localPosts  map[string]Post
	timeline    map[int64]*bucket

	snapshots     map[int64]any
	snapshotTicks []int64
	snapshotStart *int64

	// epochTick is the earliest tick any post (local or remote) has ever
	// been admitted at. It is what ComputeStateAt and the snapshot cache
	// treat as "the start of history" — it exists from the very first
	// local prediction, long before the broker's authoritative index 0
	// for the room necessarily arrives.
	epochTick *int64

	// initialTimeValue/initialTickValue record the authoritative index-0
	// post's official time/tick specifically, as reported by InitialTick
	// and Diagnostics. The contiguous-frontier/safe-prune bookkeeping does
	// not read them: it only advances once remote index 0 itself has
	// arrived, so local predictions never move it.
	initialTimeValue *int64
	initialTickValue *int64

	maxContiguousRemoteIndex int64
	maxRemoteIndex           int64
	noPendingPostsBeforeMS   *int64

	cacheDropGuardHits int64

	closed atomic.Bool
	cancel context.CancelFunc
}

// New constructs an Engine bound to transport but does not yet start
// replay; call Start to register with the transport and begin draining
// the room.
func New(transport Transport, opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	return &Engine{
		room:        opts.Room,
		initial:     opts.Initial,
		onTick:      opts.OnTick,
		onPost:      opts.OnPost,
		packer:      opts.Packer,
		tickRate:    opts.TickRate,
		toleranceMS: opts.ToleranceMS,
		smooth:      opts.Smooth,

		cacheEnabled:   *opts.CacheEnabled,
		snapshotStride: opts.SnapshotStride,
		snapshotCount:  opts.SnapshotCount,

		transport: transport,

		remotePosts: make(map[int64]Post),
		localPosts:  make(map[string]Post),
		timeline:    make(map[int64]*bucket),
		snapshots:   make(map[int64]any),

		maxContiguousRemoteIndex: -1,
		maxRemoteIndex:           -1,
	}, nil
}

// Start registers with the transport: on first sync it loads the
// room's full history, subscribes to live posts, and begins polling
// get_latest_post_index every 2 seconds per §4.6.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.transport.OnLatestPostIndex(e.room, e.onLatestPostIndexReply)
	e.transport.OnSync(func() {
		if e.closed.Load() {
			return
		}
		_ = e.transport.Load(e.room, 0, e.packer, e.HandleRemotePost)
		_ = e.transport.Watch(e.room, e.packer, e.HandleRemotePost)
		go e.pollLatestIndexLoop(ctx)
	})
}

func (e *Engine) pollLatestIndexLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.closed.Load() {
				return
			}
			_ = e.transport.RequestLatestPostIndex(e.room)
		}
	}
}

// onLatestPostIndexReply implements §4.6's "latest-index listener": once
// the contiguous frontier has caught up to a reported latest_index, the
// room is known fully replicated through that point, so the watermark
// can advance past posts that will never arrive — even if the last post
// at the frontier itself lands later than expected.
func (e *Engine) onLatestPostIndexReply(latestIndex, serverTime int64) {
	if latestIndex < 0 || latestIndex > e.maxContiguousRemoteIndex {
		return
	}
	candidate := serverTime - e.toleranceMS - int64(1000)/int64(e.tickRate)
	if e.noPendingPostsBeforeMS == nil || candidate > *e.noPendingPostsBeforeMS {
		e.noPendingPostsBeforeMS = &candidate
	}
}

// Post predicts a local post locally and hands it to the transport,
// which generates its name and sends or queues it.
func (e *Engine) Post(data any) (string, error) {
	if e.closed.Load() {
		return "", ErrClosed
	}
	st, err := e.transport.ServerTime()
	if err != nil {
		return "", err
	}
	name, err := e.transport.Post(e.room, e.packer, data)
	if err != nil {
		return "", err
	}
	e.admitLocal(Post{
		Room:       e.room,
		Index:      -1,
		ServerTime: st,
		ClientTime: st,
		Name:       name,
		Data:       data,
	})
	return name, nil
}

// PostCount is the count implied by the highest remote index ever seen,
// per §6 (`post_count() = max_remote_index + 1`) — this can exceed the
// contiguous frontier when later indices have arrived out of order
// ahead of a gap.
func (e *Engine) PostCount() int64 {
	return e.maxRemoteIndex + 1
}

// InitialTick returns the tick of the first-ever authoritative post
// (index 0), and false if it has not arrived yet.
func (e *Engine) InitialTick() (int64, bool) {
	if e.initialTickValue == nil {
		return 0, false
	}
	return *e.initialTickValue, true
}

func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	return e.transport.Close()
}
