package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/adred-codev/netplay/internal/codec"
)

// fakeTransport is a minimal in-process stand-in for internal/transport,
// driven synchronously by the test so the engine's replay logic can be
// exercised without a broker.
type fakeTransport struct {
	synced        bool
	onSync        []func()
	serverTimeMS  int64
	postSeq       int
	watchHandlers map[string]func(Post)
	latestCBs     map[string]func(int64, int64)
	pingRTT       time.Duration
	havePing      bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		watchHandlers: make(map[string]func(Post)),
		latestCBs:     make(map[string]func(int64, int64)),
	}
}

func (f *fakeTransport) triggerSync(serverTimeMS int64) {
	f.serverTimeMS = serverTimeMS
	f.synced = true
	for _, cb := range f.onSync {
		cb()
	}
}

func (f *fakeTransport) OnSync(cb func()) {
	if f.synced {
		cb()
		return
	}
	f.onSync = append(f.onSync, cb)
}

func (f *fakeTransport) Load(room string, from int64, schema codec.Schema, handler func(Post)) error {
	f.watchHandlers[room] = handler
	return nil
}

func (f *fakeTransport) Watch(room string, schema codec.Schema, handler func(Post)) error {
	f.watchHandlers[room] = handler
	return nil
}

func (f *fakeTransport) Post(room string, schema codec.Schema, data any) (string, error) {
	f.postSeq++
	return fmt.Sprintf("local-%d", f.postSeq), nil
}

func (f *fakeTransport) ServerTime() (int64, error) {
	if !f.synced {
		return 0, errors.New("fakeTransport: not synced")
	}
	return f.serverTimeMS, nil
}

func (f *fakeTransport) Ping() (time.Duration, bool) {
	return f.pingRTT, f.havePing
}

func (f *fakeTransport) RequestLatestPostIndex(room string) error { return nil }

func (f *fakeTransport) OnLatestPostIndex(room string, cb func(int64, int64)) {
	f.latestCBs[room] = cb
}

func (f *fakeTransport) Close() error { return nil }

// deliver simulates the broker echoing an authoritative post back to
// room's registered handler (as Watch/Load would).
func (f *fakeTransport) deliver(room string, p Post) {
	if h, ok := f.watchHandlers[room]; ok {
		h(p)
	}
}
