package wire

import "github.com/adred-codev/netplay/internal/codec"

// timeWidth is the bit width used for every millisecond timestamp and
// index field on the wire. 53 bits (2^53 ~= 9e15) comfortably covers
// decades of millisecond timestamps and post indices while staying
// inside the codec's plain-integer boundary, so application code never
// has to juggle *big.Int for ordinary protocol fields.
const timeWidth = 53

var bytesSchema = codec.ListOf(codec.UInt(8))

var postSchema = codec.StructOf(
	codec.Field{Name: "room", Schema: codec.StringSchema()},
	codec.Field{Name: "time", Schema: codec.UInt(timeWidth)},
	codec.Field{Name: "name", Schema: codec.StringSchema()},
	codec.Field{Name: "payload", Schema: bytesSchema},
)

var loadSchema = codec.StructOf(
	codec.Field{Name: "room", Schema: codec.StringSchema()},
	codec.Field{Name: "from", Schema: codec.UInt(timeWidth)},
)

var roomOnlySchema = codec.StructOf(
	codec.Field{Name: "room", Schema: codec.StringSchema()},
)

var emptySchema = codec.StructOf()

// clientMessageSchema is the Union schema for every message a client may
// send. Variant names are exactly the wire names from §4.2; the codec
// assigns ordinals by alphabetical sort of these names, so reordering
// this list has no wire effect — only renaming a variant does.
var clientMessageSchema = codec.UnionOf(
	codec.Variant{Name: "get_time", Schema: emptySchema},
	codec.Variant{Name: "post", Schema: postSchema},
	codec.Variant{Name: "load", Schema: loadSchema},
	codec.Variant{Name: "watch", Schema: roomOnlySchema},
	codec.Variant{Name: "unwatch", Schema: roomOnlySchema},
	codec.Variant{Name: "get_latest_post_index", Schema: roomOnlySchema},
)

var infoTimeSchema = codec.StructOf(
	codec.Field{Name: "time", Schema: codec.UInt(timeWidth)},
)

var infoPostSchema = codec.StructOf(
	codec.Field{Name: "room", Schema: codec.StringSchema()},
	codec.Field{Name: "index", Schema: codec.UInt(timeWidth)},
	codec.Field{Name: "server_time", Schema: codec.UInt(timeWidth)},
	codec.Field{Name: "client_time", Schema: codec.UInt(timeWidth)},
	codec.Field{Name: "name", Schema: codec.StringSchema()},
	codec.Field{Name: "payload", Schema: bytesSchema},
)

var infoLatestPostIndexSchema = codec.StructOf(
	codec.Field{Name: "room", Schema: codec.StringSchema()},
	codec.Field{Name: "latest_index", Schema: codec.Int(timeWidth)},
	codec.Field{Name: "server_time", Schema: codec.UInt(timeWidth)},
)

var brokerMessageSchema = codec.UnionOf(
	codec.Variant{Name: "info_time", Schema: infoTimeSchema},
	codec.Variant{Name: "info_post", Schema: infoPostSchema},
	codec.Variant{Name: "info_latest_post_index", Schema: infoLatestPostIndexSchema},
)
