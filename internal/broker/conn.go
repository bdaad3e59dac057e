package broker

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/netplay/internal/wire"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// roomCursor is one connection's drain state against one room, per
// §4.4's "state per connection: for each subscribed room, a
// next_to_send cursor... a watching flag... a re-entrant drain_active
// flag" — a connection can hold one of these per room it has loaded or
// watched, not just one overall.
type roomCursor struct {
	nextToSend int64 // next room-log index this connection has not yet received
	watching   bool  // true once a watch{room} has registered live delivery
	draining   bool  // re-entrance guard for triggerDrain, per room
}

// conn is one accepted connection: its socket, its outbound queue, and
// a drain cursor per room it has loaded or watched. Rooms are additive:
// watching a second room does not disturb the cursor of the first,
// matching the transport client's N-rooms-over-one-connection design.
type conn struct {
	id      int64
	ws      net.Conn
	send    chan []byte
	limiter *rate.Limiter

	server *Server

	closeOnce sync.Once

	mu    sync.Mutex
	rooms map[string]*roomCursor
}

func newConn(id int64, ws net.Conn, s *Server) *conn {
	return &conn{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.PostRate), s.cfg.PostBurst),
		server:  s,
		rooms:   make(map[string]*roomCursor),
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.server.stopWatching(c)
		close(c.send)
	})
}

// enqueue queues a message for delivery, dropping the connection if its
// outbound buffer is full rather than let one slow reader back up the
// whole room's drain.
func (c *conn) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		c.server.logger.Debug().Int64("conn_id", c.id).Msg("send buffer full, disconnecting slow client")
		c.ws.Close()
	}
}

func (c *conn) readPump() {
	defer func() {
		c.close()
		c.server.onDisconnect(c)
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	for {
		msg, op, err := wsutil.ReadClientData(c.ws)
		if err != nil {
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpBinary:
			atomic.AddInt64(&c.server.bytesReceived, int64(len(msg)))
			c.server.handleClientMessage(c, msg)
		case ws.OpClose:
			return
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				wsutil.WriteServerMessage(c.ws, ws.OpClose, nil)
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.ws, ws.OpBinary, payload); err != nil {
				return
			}
			atomic.AddInt64(&c.server.bytesSent, int64(len(payload)))
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.ws, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) sendBrokerMessage(m wire.BrokerMessage) {
	payload, err := wire.EncodeBrokerMessage(m)
	if err != nil {
		c.server.logger.Error().Err(err).Msg("failed to encode broker message")
		return
	}
	c.enqueue(payload)
}
