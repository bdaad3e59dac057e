package broker

import (
	"time"

	"github.com/adred-codev/netplay/internal/metrics"
	"github.com/adred-codev/netplay/internal/wire"
)

// handleClientMessage decodes and dispatches one client frame. It is
// called from conn.readPump, so it must never block on anything other
// than the bounded, non-blocking paths below (room log append is
// fsync'd but single-room-serialized, not network-bound).
func (s *Server) handleClientMessage(c *conn, raw []byte) {
	msg, err := wire.DecodeClientMessage(raw)
	if err != nil {
		s.logger.Debug().Err(err).Int64("conn_id", c.id).Msg("failed to decode client message")
		return
	}

	switch msg.Kind {
	case wire.ClientGetTime:
		c.sendBrokerMessage(wire.BrokerMessage{Kind: wire.BrokerInfoTime, InfoTime: nowMillis()})

	case wire.ClientPost:
		s.handlePost(c, msg.Post)

	case wire.ClientLoad:
		s.load(c, msg.LoadRoom, msg.LoadFrom)

	case wire.ClientWatch:
		s.watch(c, msg.Room)

	case wire.ClientUnwatch:
		s.unwatch(c, msg.Room)

	case wire.ClientGetLatestPostIndex:
		s.handleGetLatestPostIndex(c, msg.Room)

	default:
		s.logger.Debug().Int("kind", int(msg.Kind)).Msg("unhandled client message kind")
	}
}

func (s *Server) handlePost(c *conn, p wire.Post) {
	if !c.limiter.Allow() {
		metrics.RateLimitedPosts.Inc()
		s.logger.Warn().Int64("conn_id", c.id).Str("room", p.Room).Msg("post rate limit exceeded, dropping post")
		return
	}

	serverTime := nowMillis()
	index, err := s.store.Append(p.Room, serverTime, p.ClientTime, p.Name, p.Payload)
	if err != nil {
		s.logger.Error().Err(err).Str("room", p.Room).Msg("room log append failed")
		metrics.ErrorsTotal.WithLabelValues("append_failed", "error").Inc()
		return
	}
	metrics.PostsReceived.Inc()

	s.notifyRoom(p.Room)
	s.export.publishPost(p.Room, index, serverTime, p.ClientTime, p.Name, p.Payload, s.guard.shouldRelaxDurability())
}

func (s *Server) handleGetLatestPostIndex(c *conn, room string) {
	count, err := s.store.Count(room)
	if err != nil {
		s.logger.Error().Err(err).Str("room", room).Msg("room log count failed")
		return
	}
	c.sendBrokerMessage(wire.BrokerMessage{
		Kind:                  wire.BrokerInfoLatestPostIndex,
		LatestIndexRoom:       room,
		LatestIndex:           count - 1,
		LatestIndexServerTime: nowMillis(),
	})
}

func nowMillis() int64 { return time.Now().UnixMilli() }
