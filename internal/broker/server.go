// Package broker implements the server side of §4.4: WebSocket
// connection handling, admission control, per-room append-and-drain,
// and best-effort cross-instance/audit event export.
package broker

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/adred-codev/netplay/internal/config"
	"github.com/adred-codev/netplay/internal/metrics"
	"github.com/adred-codev/netplay/internal/roomlog"
	"github.com/gobwas/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the broker: it owns the room log, the resource guard, the
// drain worker pool, and every accepted connection.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  *roomlog.Store
	guard  *resourceGuard
	pool   *workerPool
	export *exportSinks

	httpServer *http.Server

	nextConnID   int64
	activeConns  int64
	shuttingDown int32

	bytesSent     int64
	bytesReceived int64

	watchersMu sync.Mutex
	watchers   map[string]map[int64]*conn

	metricsCollector *metrics.Collector
}

// New constructs a Server bound to cfg, opening its room log and
// connecting (best-effort) to NATS/Kafka if configured.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	store, err := roomlog.NewStore(cfg.DBDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		watchers: make(map[string]map[int64]*conn),
	}
	s.guard = newResourceGuard(cfg, logger, &s.activeConns)
	s.pool = newWorkerPool(drainWorkerCount(), drainWorkerCount()*100, logger)
	s.export = newExportSinks(cfg, logger)
	s.metricsCollector = metrics.NewCollector(s.guard, cfg.MetricsInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	s.httpServer = &http.Server{Addr: cfg.Addr, Handler: mux}

	return s, nil
}

// drainWorkerCount scales the drain pool with GOMAXPROCS, which
// automaxprocs has already set to match the container's CPU quota by
// the time Server is constructed.
func drainWorkerCount() int {
	n := runtime.GOMAXPROCS(0) * 8
	if n < 16 {
		n = 16
	}
	return n
}

// Start begins serving HTTP/WebSocket traffic and background monitoring.
// It blocks until the listener stops (normally via Shutdown).
func (s *Server) Start(ctx context.Context) error {
	s.pool.start(ctx)
	s.guard.startMonitoring(ctx, s.cfg.MetricsInterval)
	s.metricsCollector.Start()

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("broker listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits (bounded by ctx)
// for the HTTP server and drain workers to quiesce.
func (s *Server) Shutdown(ctx context.Context) error {
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.metricsCollector.Stop()
	err := s.httpServer.Shutdown(ctx)
	s.pool.stop()
	s.export.close()
	s.store.Close()
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("shutting down"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	if accept, reason := s.guard.shouldAccept(); !accept {
		s.logger.Warn().Str("reason", reason).Msg("connection rejected")
		metrics.ConnectionsRejected.WithLabelValues("resource_guard").Inc()
		http.Error(w, "server overloaded", http.StatusServiceUnavailable)
		return
	}

	wsConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		metrics.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := atomic.AddInt64(&s.nextConnID, 1)
	c := newConn(id, wsConn, s)

	atomic.AddInt64(&s.activeConns, 1)
	metrics.ConnectionsTotal.Inc()

	s.logger.Info().Int64("conn_id", id).Msg("connection accepted")

	go c.writePump()
	go c.readPump()
}

func (s *Server) onDisconnect(c *conn) {
	atomic.AddInt64(&s.activeConns, -1)
	metrics.Disconnects.WithLabelValues("closed").Inc()
}

// cursorFor returns c's drain cursor for room, creating it (at
// next_to_send 0) on first reference. A connection holds one cursor per
// room it has ever loaded or watched — rooms are additive, per §4.4's
// "state per connection: for each subscribed room...".
func (c *conn) cursorFor(room string) *roomCursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	rc, ok := c.rooms[room]
	if !ok {
		rc = &roomCursor{}
		c.rooms[room] = rc
	}
	return rc
}

// load implements §4.4's load{room, from}: next_to_send only ever
// advances (load{from: 0} against an already-registered room does
// nothing), and delivery is capped at the room's size at call time
// unless c is already watching that room live.
func (s *Server) load(c *conn, room string, from int64) {
	rc := c.cursorFor(room)

	c.mu.Lock()
	if from > rc.nextToSend {
		rc.nextToSend = from
	}
	watching := rc.watching
	c.mu.Unlock()

	if watching {
		s.triggerDrain(c, room, nil)
		return
	}

	count, err := s.store.Count(room)
	if err != nil {
		s.logger.Error().Err(err).Str("room", room).Msg("room log count failed")
		return
	}
	s.triggerDrain(c, room, &count)
}

// watch implements §4.4's watch{room}: registers c for uncapped live
// delivery of room and adds it to the room's watcher set so future
// appends drain to it, without disturbing any other room c has loaded
// or watched.
func (s *Server) watch(c *conn, room string) {
	rc := c.cursorFor(room)

	c.mu.Lock()
	rc.watching = true
	c.mu.Unlock()

	s.watchersMu.Lock()
	if s.watchers[room] == nil {
		s.watchers[room] = make(map[int64]*conn)
	}
	s.watchers[room][c.id] = c
	s.watchersMu.Unlock()

	s.triggerDrain(c, room, nil)
}

// unwatch implements §4.4's unwatch{room}: clears room's watching flag
// and removes c from room's watcher set; it leaves the drain cursor
// intact for a possible later load against the same room.
func (s *Server) unwatch(c *conn, room string) {
	c.mu.Lock()
	rc, ok := c.rooms[room]
	if ok {
		rc.watching = false
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	s.watchersMu.Lock()
	delete(s.watchers[room], c.id)
	s.watchersMu.Unlock()
}

// stopWatching removes c from every room's watcher set, used on
// disconnect.
func (s *Server) stopWatching(c *conn) {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	if len(rooms) == 0 {
		return
	}
	s.watchersMu.Lock()
	for _, room := range rooms {
		delete(s.watchers[room], c.id)
	}
	s.watchersMu.Unlock()
}

// notifyRoom schedules a drain attempt for every watcher of room,
// called once per successful append so the delivery fan-out happens
// off the append goroutine.
func (s *Server) notifyRoom(room string) {
	s.watchersMu.Lock()
	conns := make([]*conn, 0, len(s.watchers[room]))
	for _, c := range s.watchers[room] {
		conns = append(conns, c)
	}
	s.watchersMu.Unlock()

	for _, c := range conns {
		cc := c
		s.pool.submit(func() { s.triggerDrain(cc, room, nil) })
	}
}
