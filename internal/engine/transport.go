package engine

import (
	"time"

	"github.com/adred-codev/netplay/internal/codec"
)

// Transport is everything the engine needs from a connection to the
// broker. internal/transport's Client implements this by structural
// typing; the engine never imports internal/transport, so it can be
// driven by a fake in tests.
type Transport interface {
	// OnSync registers cb to run once, the first time the transport
	// establishes a valid server-time offset. If sync has already
	// happened, cb runs immediately.
	OnSync(cb func())

	// Load requests a one-shot replay of room starting at index from,
	// decoding each payload with schema and delivering it to handler.
	Load(room string, from int64, schema codec.Schema, handler func(Post)) error
	// Watch subscribes to room's live post stream.
	Watch(room string, schema codec.Schema, handler func(Post)) error

	// Post encodes data with schema, sends (or queues) it for room, and
	// returns the locally generated post name.
	Post(room string, schema codec.Schema, data any) (name string, err error)

	// ServerTime returns the current estimated broker time in
	// milliseconds. Returns ErrNotSynced-like error before first sync.
	ServerTime() (int64, error)
	// Ping returns the last measured round-trip time, or ok == false if
	// none has been measured yet.
	Ping() (rtt time.Duration, ok bool)

	// RequestLatestPostIndex sends an asynchronous get_latest_post_index
	// request for room; the reply arrives via the OnLatestPostIndex
	// listener.
	RequestLatestPostIndex(room string) error
	// OnLatestPostIndex registers the listener invoked whenever a
	// get_latest_post_index reply for room arrives.
	OnLatestPostIndex(room string, cb func(latestIndex, serverTime int64))

	Close() error
}
