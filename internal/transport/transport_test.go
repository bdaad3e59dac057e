package transport

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adred-codev/netplay/internal/codec"
	"github.com/adred-codev/netplay/internal/engine"
	"github.com/adred-codev/netplay/internal/wire"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

func TestGenerateNameLengthAndAlphabet(t *testing.T) {
	c := &Client{logger: zerolog.Nop()}
	name := c.generateName()
	if len(name) != nameLength {
		t.Fatalf("expected length %d, got %d (%q)", nameLength, len(name), name)
	}
	for _, r := range name {
		if !strings.ContainsRune(nameAlphabet, r) {
			t.Fatalf("name %q contains character outside alphabet: %q", name, r)
		}
	}
}

func TestGenerateNameIsVaried(t *testing.T) {
	c := &Client{logger: zerolog.Nop()}
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		seen[c.generateName()] = true
	}
	if len(seen) < 40 {
		t.Fatalf("expected mostly-unique names across 50 draws, got %d distinct", len(seen))
	}
}

func TestSchemasEqual(t *testing.T) {
	a := codec.StructOf(codec.Field{Name: "x", Schema: codec.UInt(8)})
	b := codec.StructOf(codec.Field{Name: "x", Schema: codec.UInt(8)})
	c := codec.StructOf(codec.Field{Name: "x", Schema: codec.UInt(16)})

	if !schemasEqual(a, b) {
		t.Fatalf("expected identical schemas to compare equal")
	}
	if schemasEqual(a, c) {
		t.Fatalf("expected differing schemas to compare unequal")
	}
}

// fakeMsg is one decoded client→broker message, tagged with the index
// (in accept order) of the connection it arrived on.
type fakeMsg struct {
	connIdx int
	msg     wire.ClientMessage
}

// fakeBroker is a minimal gobwas/ws server standing in for the real
// broker: it upgrades every accepted connection, replies to get_time so
// the transport under test can sync, and forwards every other decoded
// message onto a channel the test can assert against. It lets tests
// drive Client.connectionLoop/reconnect (scenarios 3 and 4 of spec.md
// §8) against a real, if tiny, WebSocket server instead of mocking the
// transport's internals.
type fakeBroker struct {
	ln   net.Listener
	msgs chan fakeMsg

	mu    sync.Mutex
	conns []net.Conn
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakeBroker: listen: %v", err)
	}
	fb := &fakeBroker{ln: ln, msgs: make(chan fakeMsg, 256)}
	go fb.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return fb
}

func (fb *fakeBroker) url() string {
	return "ws://" + fb.ln.Addr().String() + "/ws"
}

func (fb *fakeBroker) acceptLoop() {
	for {
		conn, err := fb.ln.Accept()
		if err != nil {
			return
		}
		if _, err := ws.Upgrade(conn); err != nil {
			conn.Close()
			continue
		}
		fb.mu.Lock()
		idx := len(fb.conns)
		fb.conns = append(fb.conns, conn)
		fb.mu.Unlock()
		go fb.readLoop(idx, conn)
	}
}

func (fb *fakeBroker) readLoop(idx int, conn net.Conn) {
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op != ws.OpBinary {
			continue
		}
		m, err := wire.DecodeClientMessage(data)
		if err != nil {
			continue
		}
		if m.Kind == wire.ClientGetTime {
			reply, err := wire.EncodeBrokerMessage(wire.BrokerMessage{
				Kind:     wire.BrokerInfoTime,
				InfoTime: time.Now().UnixMilli(),
			})
			if err == nil {
				wsutil.WriteServerMessage(conn, ws.OpBinary, reply)
			}
			continue
		}
		fb.msgs <- fakeMsg{connIdx: idx, msg: m}
	}
}

// closeConn severs connection idx from the broker side, simulating the
// non-clean disconnect spec.md §8 scenario 3 requires.
func (fb *fakeBroker) closeConn(idx int) {
	fb.mu.Lock()
	conn := fb.conns[idx]
	fb.mu.Unlock()
	conn.Close()
}

// waitForConns blocks until at least n connections have completed the
// WebSocket handshake, so a test can safely reference fb.conns[idx]
// right after Dial returns without racing the server-side bookkeeping.
func (fb *fakeBroker) waitForConns(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		fb.mu.Lock()
		have := len(fb.conns)
		fb.mu.Unlock()
		if have >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("fakeBroker: timed out waiting for %d connection(s), have %d", n, have)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (fb *fakeBroker) nextMsg(t *testing.T) fakeMsg {
	t.Helper()
	select {
	case m := <-fb.msgs:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("fakeBroker: timed out waiting for client message")
		return fakeMsg{}
	}
}

// TestReconnectResubscribesWatchedRooms is spec.md §8 scenario 3: after
// a non-clean disconnect, the new connection sends watch{room} for
// every previously watched room before any user action.
func TestReconnectResubscribesWatchedRooms(t *testing.T) {
	fb := newFakeBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := Dial(ctx, fb.url(), zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	schema := codec.StructOf(codec.Field{Name: "x", Schema: codec.UInt(8)})
	if err := c.Watch("room-a", schema, func(engine.Post) {}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	first := fb.nextMsg(t)
	if first.connIdx != 0 || first.msg.Kind != wire.ClientWatch || first.msg.Room != "room-a" {
		t.Fatalf("expected initial watch{room-a} on connection 0, got %+v", first)
	}

	fb.closeConn(0)

	resub := fb.nextMsg(t)
	if resub.connIdx != 1 {
		t.Fatalf("expected watch re-emission on a new connection, got connection %d", resub.connIdx)
	}
	if resub.msg.Kind != wire.ClientWatch || resub.msg.Room != "room-a" {
		t.Fatalf("expected watch{room-a} re-emitted on reconnect before any user action, got %+v", resub.msg)
	}
}

// TestPostsQueueWhileDisconnectedAndFlushInOrder is spec.md §8 scenario
// 4: three posts made while disconnected are queued and, once the
// reconnect succeeds, flushed to the broker in the order they were
// called.
func TestPostsQueueWhileDisconnectedAndFlushInOrder(t *testing.T) {
	fb := newFakeBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := Dial(ctx, fb.url(), zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	fb.waitForConns(t, 1)
	fb.closeConn(0)
	// Give connectionLoop a moment to notice the dead read and enter
	// backoff before posting, so these posts are genuinely made while
	// disconnected rather than racing the still-live first connection.
	time.Sleep(150 * time.Millisecond)

	schema := codec.StructOf(codec.Field{Name: "x", Schema: codec.UInt(8)})
	var names [3]string
	for i := range names {
		name, err := c.Post("room-c", schema, map[string]any{"x": i})
		if err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
		names[i] = name
	}

	for i := 0; i < 3; i++ {
		m := fb.nextMsg(t)
		if m.msg.Kind != wire.ClientPost || m.msg.Post.Room != "room-c" {
			t.Fatalf("expected post{room-c}, got %+v", m.msg)
		}
		if m.msg.Post.Name != names[i] {
			t.Fatalf("expected posts flushed in call order: position %d expected name %q, got %q", i, names[i], m.msg.Post.Name)
		}
	}
}
