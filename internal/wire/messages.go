// Package wire implements the broker wire protocol of §4.2: a small
// tagged message set between client and broker, each message framed as
// one WebSocket binary frame and self-tagged by the bit codec's union
// mechanism (internal/codec).
package wire

// Post is the decoded form of a post message, shared by the client→
// broker Post request and the broker→client InfoPost echo.
type Post struct {
	Room       string
	Index      int64 // -1 for a not-yet-acknowledged local post
	ServerTime int64
	ClientTime int64
	Name       string
	Payload    []byte
}

// ClientMessage is the decoded form of any message a client may send to
// the broker. Exactly one of the typed fields is meaningful, selected by
// Kind.
type ClientMessage struct {
	Kind ClientKind

	// Post
	Post Post // Room, ClientTime (as Time), Name, Payload populated

	// Load
	LoadRoom string
	LoadFrom int64

	// Watch / Unwatch / GetLatestPostIndex
	Room string
}

type ClientKind int

const (
	ClientGetTime ClientKind = iota
	ClientPost
	ClientLoad
	ClientWatch
	ClientUnwatch
	ClientGetLatestPostIndex
)

// BrokerMessage is the decoded form of any message the broker may send
// to a client.
type BrokerMessage struct {
	Kind BrokerKind

	InfoTime int64

	InfoPost Post

	LatestIndexRoom       string
	LatestIndex           int64 // -1 if the room is empty
	LatestIndexServerTime int64
}

type BrokerKind int

const (
	BrokerInfoTime BrokerKind = iota
	BrokerInfoPost
	BrokerInfoLatestPostIndex
)
