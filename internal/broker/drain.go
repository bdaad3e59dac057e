package broker

import (
	"github.com/adred-codev/netplay/internal/metrics"
	"github.com/adred-codev/netplay/internal/wire"
)

// triggerDrain sends every post in room that c has not yet received,
// starting at its per-room cursor's next_to_send, stopping at the first
// gap (the room log assigns indices without gaps, so a missing index
// means the append simply hasn't happened yet) or, if oneShotCap is
// non-nil, at that index — the §4.4 "one-shot" cap a load{} against a
// not-yet-watching registration applies, frozen at the room size when
// the load was issued. Re-entrant calls for the same (c, room) collapse
// via that room's draining guard: one worker-pool task draining now
// will pick up any posts that arrived during its own run before it
// returns. A connection's cursors for other rooms are untouched.
func (s *Server) triggerDrain(c *conn, room string, oneShotCap *int64) {
	c.mu.Lock()
	rc, ok := c.rooms[room]
	if !ok || rc.draining {
		c.mu.Unlock()
		return
	}
	rc.draining = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		rc.draining = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		next := rc.nextToSend
		c.mu.Unlock()

		if oneShotCap != nil && next >= *oneShotCap {
			return
		}

		rec, ok, err := s.store.Get(room, next)
		if err != nil {
			s.logger.Error().Err(err).Str("room", room).Int64("index", next).Msg("room log read failed")
			return
		}
		if !ok {
			metrics.DrainGapWaits.Inc()
			return
		}

		c.sendBrokerMessage(wire.BrokerMessage{
			Kind: wire.BrokerInfoPost,
			InfoPost: wire.Post{
				Room:       room,
				Index:      next,
				ServerTime: rec.ServerTime,
				ClientTime: rec.ClientTime,
				Name:       rec.Name,
				Payload:    rec.Payload,
			},
		})
		metrics.PostsBroadcast.Inc()

		c.mu.Lock()
		if rc.nextToSend == next {
			rc.nextToSend = next + 1
		}
		c.mu.Unlock()
	}
}
