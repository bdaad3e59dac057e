package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/adred-codev/netplay/internal/config"
	"github.com/adred-codev/netplay/internal/wire"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(&config.Config{
		DBDir:              t.TempDir(),
		MaxConnections:     10,
		PostRate:           1000,
		PostBurst:          1000,
		CPURejectThreshold: 100,
		CPUPauseThreshold:  100,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.pool.start(ctx)
	t.Cleanup(func() {
		cancel()
		s.pool.stop()
		s.store.Close()
	})
	return s
}

// newTestConn wires a conn to one end of an in-process net.Pipe, leaving
// the other end for the test to read broker frames from with
// wsutil.ReadServerData, matching how internal/transport reads them.
func newTestConn(s *Server, id int64) (*conn, net.Conn) {
	serverSide, clientSide := net.Pipe()
	c := newConn(id, serverSide, s)
	go c.writePump()
	return c, clientSide
}

func readInfoPost(t *testing.T, clientSide net.Conn) wire.Post {
	t.Helper()
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, _, err := wsutil.ReadServerData(clientSide)
	if err != nil {
		t.Fatalf("read server frame: %v", err)
	}
	m, err := wire.DecodeBrokerMessage(msg)
	if err != nil {
		t.Fatalf("decode broker message: %v", err)
	}
	if m.Kind != wire.BrokerInfoPost {
		t.Fatalf("expected info_post, got kind %d", m.Kind)
	}
	return m.InfoPost
}

func expectNoMoreFrames(t *testing.T, clientSide net.Conn) {
	t.Helper()
	clientSide.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := wsutil.ReadServerData(clientSide)
	if err == nil {
		t.Fatal("expected no further frames, but one arrived")
	}
}

func appendPost(t *testing.T, s *Server, room, name string, i int) {
	t.Helper()
	if _, err := s.store.Append(room, int64(i*10), int64(i*10), name, []byte{byte(i)}); err != nil {
		t.Fatalf("append: %v", err)
	}
}

// TestLoadCapsDeliveryAtRoomSizeWhenNotWatching exercises §4.4's
// one-shot load contract: a load against a connection that is not
// already watching live delivers exactly the posts present at call
// time and stops, even though the room keeps growing.
func TestLoadCapsDeliveryAtRoomSizeWhenNotWatching(t *testing.T) {
	s := newTestServer(t)
	room := "room-one-shot"
	for i := 0; i < 3; i++ {
		appendPost(t, s, room, "n", i)
	}

	c, clientSide := newTestConn(s, 1)
	s.load(c, room, 0)

	for i := int64(0); i < 3; i++ {
		p := readInfoPost(t, clientSide)
		if p.Index != i {
			t.Fatalf("expected index %d, got %d", i, p.Index)
		}
	}

	// A post appended after the one-shot snapshot must not be delivered
	// to a connection that never called watch.
	appendPost(t, s, room, "n", 3)
	expectNoMoreFrames(t, clientSide)
}

// TestLoadNeverRewindsCursor confirms the documented Open Question
// resolution: a second load{from: 0} against a room already registered
// does not restart delivery from the beginning.
func TestLoadNeverRewindsCursor(t *testing.T) {
	s := newTestServer(t)
	room := "room-no-rewind"
	for i := 0; i < 2; i++ {
		appendPost(t, s, room, "n", i)
	}

	c, clientSide := newTestConn(s, 1)
	s.load(c, room, 0)
	for i := int64(0); i < 2; i++ {
		readInfoPost(t, clientSide)
	}

	s.load(c, room, 0)
	expectNoMoreFrames(t, clientSide)
}

// TestWatchDeliversLiveAndGapFree confirms that once a connection
// calls watch, subsequent appends are delivered in strictly ascending,
// contiguous index order with no cap.
func TestWatchDeliversLiveAndGapFree(t *testing.T) {
	s := newTestServer(t)
	room := "room-live"
	appendPost(t, s, room, "n", 0)

	c, clientSide := newTestConn(s, 1)
	s.watch(c, room)
	if p := readInfoPost(t, clientSide); p.Index != 0 {
		t.Fatalf("expected index 0, got %d", p.Index)
	}

	for i := 1; i < 4; i++ {
		appendPost(t, s, room, "n", i)
		s.notifyRoom(room)
	}
	for i := int64(1); i < 4; i++ {
		p := readInfoPost(t, clientSide)
		if p.Index != i {
			t.Fatalf("gap in live delivery: expected index %d, got %d", i, p.Index)
		}
	}
}

// TestUnwatchStopsLiveDelivery confirms unwatch removes the connection
// from the room's watcher set so future appends are no longer drained
// to it automatically.
func TestUnwatchStopsLiveDelivery(t *testing.T) {
	s := newTestServer(t)
	room := "room-unwatch"
	appendPost(t, s, room, "n", 0)

	c, clientSide := newTestConn(s, 1)
	s.watch(c, room)
	readInfoPost(t, clientSide)

	s.unwatch(c, room)
	appendPost(t, s, room, "n", 1)
	s.notifyRoom(room)
	expectNoMoreFrames(t, clientSide)
}

// TestWatchTwoRoomsOnOneConnection confirms a single connection can
// watch two rooms concurrently without one registration evicting the
// other — the scenario an engine pair sharing one transport connection
// (one engine.Engine per room, per §4.6) relies on.
func TestWatchTwoRoomsOnOneConnection(t *testing.T) {
	s := newTestServer(t)
	roomA := "room-a"
	roomB := "room-b"
	appendPost(t, s, roomA, "n", 0)
	appendPost(t, s, roomB, "n", 0)

	c, clientSide := newTestConn(s, 1)
	s.watch(c, roomA)
	s.watch(c, roomB)

	seen := map[string][]int64{}
	for i := 0; i < 2; i++ {
		p := readInfoPost(t, clientSide)
		seen[p.Room] = append(seen[p.Room], p.Index)
	}
	if got := seen[roomA]; len(got) != 1 || got[0] != 0 {
		t.Fatalf("room-a: expected [0], got %v", got)
	}
	if got := seen[roomB]; len(got) != 1 || got[0] != 0 {
		t.Fatalf("room-b: expected [0], got %v", got)
	}

	// Appending to room-a must not disturb room-b's cursor, and
	// vice versa: both keep delivering gap-free live streams.
	for i := 1; i < 4; i++ {
		appendPost(t, s, roomA, "n", i)
		s.notifyRoom(roomA)
	}
	for i := int64(1); i < 4; i++ {
		p := readInfoPost(t, clientSide)
		if p.Room != roomA || p.Index != i {
			t.Fatalf("gap in room-a live delivery: expected (room-a, %d), got (%s, %d)", i, p.Room, p.Index)
		}
	}

	appendPost(t, s, roomB, "n", 1)
	s.notifyRoom(roomB)
	p := readInfoPost(t, clientSide)
	if p.Room != roomB || p.Index != 1 {
		t.Fatalf("expected (room-b, 1) still deliverable after room-a traffic, got (%s, %d)", p.Room, p.Index)
	}

	s.unwatch(c, roomA)
	appendPost(t, s, roomA, "n", 4)
	s.notifyRoom(roomA)
	appendPost(t, s, roomB, "n", 2)
	s.notifyRoom(roomB)
	p = readInfoPost(t, clientSide)
	if p.Room != roomB || p.Index != 2 {
		t.Fatalf("expected room-a's unwatch to leave room-b unaffected, got (%s, %d)", p.Room, p.Index)
	}
	expectNoMoreFrames(t, clientSide)
}
