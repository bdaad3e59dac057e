// Package transport implements the reusable broker connection of §4.5:
// one logical connection to the broker (reconnecting transparently
// underneath), a time-sync loop, per-room subscription state that
// survives reconnect, and post queueing while disconnected. It speaks
// the same gobwas/ws framing the broker's connection handler uses on
// the accept side.
package transport

import (
	"context"
	cryptorand "crypto/rand"
	"fmt"
	mathrand "math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/adred-codev/netplay/internal/codec"
	"github.com/adred-codev/netplay/internal/engine"
	"github.com/adred-codev/netplay/internal/wire"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

const (
	timeSyncPeriod    = 2 * time.Second
	latestIndexPeriod = 2 * time.Second
	backoffBase       = 500 * time.Millisecond
	backoffCap        = 8 * time.Second
	backoffJitterMax  = 250 * time.Millisecond
	nameAlphabet      = "_abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-"
	nameLength        = 8
	dialTimeout       = 10 * time.Second
)

// watch is one room's live subscription state, re-emitted on reconnect.
type watch struct {
	schema  codec.Schema
	handler func(engine.Post)
}

// Client is a single logical connection to a broker, implementing
// engine.Transport by structural typing. Reconnects happen internally;
// callers never see a "disconnected" error from Post, Watch, or Load —
// only ServerTime/Ping fail before the first sync.
type Client struct {
	url    string
	logger zerolog.Logger

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	synced      bool
	syncOnce    []func()
	clockOffset int64
	lastPingRTT time.Duration
	lowestPing  time.Duration
	pingSentAt  time.Time

	watches               map[string]watch
	latestIndexListeners  map[string]func(int64, int64)

	sendQueue [][]byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fallbackOnce sync.Once
}

// Dial opens a connection to url ("ws://host:port/ws") and starts its
// background loops. The returned Client owns its own reconnection from
// here on; Dial itself blocks only for the first handshake attempt.
func Dial(ctx context.Context, url string, logger zerolog.Logger) (*Client, error) {
	cctx, cancel := context.WithCancel(ctx)
	c := &Client{
		url:                  url,
		logger:               logger,
		watches:              make(map[string]watch),
		latestIndexListeners: make(map[string]func(int64, int64)),
		ctx:                  cctx,
		cancel:               cancel,
	}

	conn, err := c.dial()
	if err != nil {
		cancel()
		return nil, err
	}
	c.setConn(conn)

	c.wg.Add(1)
	go c.connectionLoop(conn)
	c.wg.Add(1)
	go c.timeSyncLoop()
	c.wg.Add(1)
	go c.latestIndexLoop()

	return c, nil
}

func (c *Client) dial() (net.Conn, error) {
	dialer := ws.Dialer{Timeout: dialTimeout}
	dctx, cancel := context.WithTimeout(c.ctx, dialTimeout)
	defer cancel()
	conn, _, _, err := dialer.Dial(dctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", c.url, err)
	}
	return conn, nil
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// connectionLoop reads frames from conn until it dies, then (unless the
// client has been closed) reconnects with exponential backoff and jitter,
// re-emitting every active watch before resuming normal operation.
func (c *Client) connectionLoop(conn net.Conn) {
	defer c.wg.Done()

	for {
		c.readFrames(conn)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		next, ok := c.reconnect()
		if !ok {
			return
		}
		conn = next
	}
}

func (c *Client) readFrames(conn net.Conn) {
	for {
		msg, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			return
		}
		if op != ws.OpBinary {
			continue
		}
		m, err := wire.DecodeBrokerMessage(msg)
		if err != nil {
			c.logger.Debug().Err(err).Msg("transport: failed to decode broker message")
			continue
		}
		c.handleBrokerMessage(m)
	}
}

// reconnect retries dialing with exponential backoff until it succeeds
// or the client is closed, then resubscribes every active watch and
// flushes anything queued while disconnected.
func (c *Client) reconnect() (net.Conn, bool) {
	attempt := 0
	for {
		select {
		case <-c.ctx.Done():
			return nil, false
		default:
		}

		delay := backoffBase * time.Duration(1<<uint(attempt))
		if delay > backoffCap {
			delay = backoffCap
		}
		delay += time.Duration(mathrand.Int64N(int64(backoffJitterMax)))

		select {
		case <-c.ctx.Done():
			return nil, false
		case <-time.After(delay):
		}

		conn, err := c.dial()
		if err != nil {
			attempt++
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("transport: reconnect attempt failed")
			continue
		}

		c.setConn(conn)
		c.resubscribeAll()
		c.flushQueue(conn)
		return conn, true
	}
}

func (c *Client) resubscribeAll() {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.watches))
	for room := range c.watches {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	for _, room := range rooms {
		c.send(wire.ClientMessage{Kind: wire.ClientWatch, Room: room})
	}
}

func (c *Client) handleBrokerMessage(m wire.BrokerMessage) {
	switch m.Kind {
	case wire.BrokerInfoTime:
		c.handleInfoTime(m.InfoTime)
	case wire.BrokerInfoPost:
		c.handleInfoPost(m.InfoPost)
	case wire.BrokerInfoLatestPostIndex:
		c.handleInfoLatestPostIndex(m)
	}
}

// handleInfoTime implements the time-sync loop's reply side, per §4.5:
// t0 is when the get_time request was sent, t1 is now. rtt = t1 - t0;
// whenever this round trip is the best seen so far, the clock offset is
// recomputed against the midpoint of [t0, t1]. The first reply of any
// kind marks the transport synced and fires one-shot callbacks.
func (c *Client) handleInfoTime(serverTime int64) {
	t1 := time.Now()
	c.mu.Lock()
	t0 := c.pingSentAt
	rtt := t1.Sub(t0)
	if t0.IsZero() {
		rtt = 0
	}

	firstSync := !c.synced
	if firstSync || rtt < c.lowestPing {
		c.lowestPing = rtt
		midpoint := t0.Add(rtt / 2)
		c.clockOffset = serverTime - midpoint.UnixMilli()
	}
	c.lastPingRTT = rtt
	c.synced = true

	var callbacks []func()
	if firstSync {
		callbacks = c.syncOnce
		c.syncOnce = nil
	}
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

func (c *Client) handleInfoPost(p wire.Post) {
	c.mu.Lock()
	w, ok := c.watches[p.Room]
	c.mu.Unlock()
	if !ok {
		return
	}

	data, err := codec.Decode(w.schema, p.Payload)
	if err != nil {
		c.logger.Error().Err(err).Str("room", p.Room).Msg("transport: failed to decode post payload")
		return
	}

	w.handler(engine.Post{
		Room:       p.Room,
		Index:      p.Index,
		ServerTime: p.ServerTime,
		ClientTime: p.ClientTime,
		Name:       p.Name,
		Data:       data,
	})
}

func (c *Client) handleInfoLatestPostIndex(m wire.BrokerMessage) {
	c.mu.Lock()
	cb, ok := c.latestIndexListeners[m.LatestIndexRoom]
	c.mu.Unlock()
	if ok {
		cb(m.LatestIndex, m.LatestIndexServerTime)
	}
}

func (c *Client) timeSyncLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(timeSyncPeriod)
	defer ticker.Stop()

	c.sendTimeSync()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sendTimeSync()
		}
	}
}

func (c *Client) sendTimeSync() {
	c.mu.Lock()
	c.pingSentAt = time.Now()
	c.mu.Unlock()
	c.send(wire.ClientMessage{Kind: wire.ClientGetTime})
}

func (c *Client) latestIndexLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(latestIndexPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			rooms := make([]string, 0, len(c.latestIndexListeners))
			for room := range c.latestIndexListeners {
				rooms = append(rooms, room)
			}
			c.mu.Unlock()
			for _, room := range rooms {
				c.RequestLatestPostIndex(room)
			}
		}
	}
}

// OnSync implements engine.Transport.
func (c *Client) OnSync(cb func()) {
	c.mu.Lock()
	if c.synced {
		c.mu.Unlock()
		cb()
		return
	}
	c.syncOnce = append(c.syncOnce, cb)
	c.mu.Unlock()
}

// ServerTime implements engine.Transport.
func (c *Client) ServerTime() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.synced {
		return 0, engine.ErrNotSynced
	}
	return time.Now().UnixMilli() + c.clockOffset, nil
}

// Ping implements engine.Transport.
func (c *Client) Ping() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.synced {
		return 0, false
	}
	return c.lastPingRTT, true
}

// Watch implements engine.Transport.
func (c *Client) Watch(room string, schema codec.Schema, handler func(engine.Post)) error {
	c.mu.Lock()
	if existing, ok := c.watches[room]; ok && !schemasEqual(existing.schema, schema) {
		c.mu.Unlock()
		return fmt.Errorf("transport: room %q already watched with a different schema", room)
	}
	c.watches[room] = watch{schema: schema, handler: handler}
	c.mu.Unlock()

	return c.send(wire.ClientMessage{Kind: wire.ClientWatch, Room: room})
}

// Load implements engine.Transport. It shares the room's handler slot
// with Watch, and on the broker side a load and a watch of the same room
// advance that room's single per-connection cursor.
func (c *Client) Load(room string, from int64, schema codec.Schema, handler func(engine.Post)) error {
	c.mu.Lock()
	if existing, ok := c.watches[room]; ok && !schemasEqual(existing.schema, schema) {
		c.mu.Unlock()
		return fmt.Errorf("transport: room %q already watched with a different schema", room)
	}
	c.watches[room] = watch{schema: schema, handler: handler}
	c.mu.Unlock()

	return c.send(wire.ClientMessage{Kind: wire.ClientLoad, LoadRoom: room, LoadFrom: from})
}

// Post implements engine.Transport. It always returns a generated name,
// even while disconnected: the message is queued and flushed on the
// next successful (re)connect.
func (c *Client) Post(room string, schema codec.Schema, data any) (string, error) {
	name := c.generateName()

	payload, err := codec.Encode(schema, data)
	if err != nil {
		return "", fmt.Errorf("transport: encode post payload: %w", err)
	}

	serverNow, err := c.ServerTime()
	if err != nil {
		serverNow = time.Now().UnixMilli()
	}

	err = c.send(wire.ClientMessage{
		Kind: wire.ClientPost,
		Post: wire.Post{Room: room, ClientTime: serverNow, Name: name, Payload: payload},
	})
	return name, err
}

// RequestLatestPostIndex implements engine.Transport.
func (c *Client) RequestLatestPostIndex(room string) error {
	return c.send(wire.ClientMessage{Kind: wire.ClientGetLatestPostIndex, Room: room})
}

// OnLatestPostIndex implements engine.Transport.
func (c *Client) OnLatestPostIndex(room string, cb func(latestIndex, serverTime int64)) {
	c.mu.Lock()
	c.latestIndexListeners[room] = cb
	c.mu.Unlock()
}

// Close implements engine.Transport.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	return nil
}

// send encodes and writes m, queueing it if currently disconnected
// rather than failing the caller — per §4.5, posts (and every other
// outbound message) queue across reconnects and flush in FIFO order.
func (c *Client) send(m wire.ClientMessage) error {
	payload, err := wire.EncodeClientMessage(m)
	if err != nil {
		return fmt.Errorf("transport: encode client message: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.sendQueue = append(c.sendQueue, payload)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := wsutil.WriteClientMessage(conn, ws.OpBinary, payload); err != nil {
		c.mu.Lock()
		c.sendQueue = append(c.sendQueue, payload)
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}
	return nil
}

func (c *Client) flushQueue(conn net.Conn) {
	c.mu.Lock()
	queue := c.sendQueue
	c.sendQueue = nil
	c.mu.Unlock()

	for i, payload := range queue {
		if err := wsutil.WriteClientMessage(conn, ws.OpBinary, payload); err != nil {
			c.mu.Lock()
			c.sendQueue = append(append([][]byte{}, queue[i:]...), c.sendQueue...)
			c.mu.Unlock()
			return
		}
	}
}

// generateName produces 8 characters from the 64-symbol alphabet
// specified in §4.5, sampled uniformly from a cryptographic RNG when
// available, falling back to math/rand/v2 (logged once) only if the
// crypto source errors.
func (c *Client) generateName() string {
	buf := make([]byte, nameLength)
	if _, err := cryptorand.Read(buf); err != nil {
		c.fallbackOnce.Do(func() {
			c.logger.Warn().Err(err).Msg("transport: crypto/rand unavailable, using math/rand/v2 for name generation")
		})
		for i := range buf {
			buf[i] = byte(mathrand.IntN(256))
		}
	}
	out := make([]byte, nameLength)
	for i, b := range buf {
		out[i] = nameAlphabet[int(b)%len(nameAlphabet)]
	}
	return string(out)
}

func schemasEqual(a, b codec.Schema) bool {
	return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
}
