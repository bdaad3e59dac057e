package wire

import (
	"fmt"

	"github.com/adred-codev/netplay/internal/codec"
)

// EncodeClientMessage serializes a client→broker message into one
// WebSocket binary frame payload.
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	uv, err := clientUnionValue(m)
	if err != nil {
		return nil, err
	}
	return codec.Encode(clientMessageSchema, uv)
}

// DecodeClientMessage is the broker-side counterpart of
// EncodeClientMessage.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	v, err := codec.Decode(clientMessageSchema, data)
	if err != nil {
		return ClientMessage{}, err
	}
	uv := v.(codec.UnionValue)
	fields := uv.Payload.(map[string]any)

	switch uv.Tag {
	case "get_time":
		return ClientMessage{Kind: ClientGetTime}, nil
	case "post":
		return ClientMessage{
			Kind: ClientPost,
			Post: Post{
				Room:       fields["room"].(string),
				ClientTime: fields["time"].(int64),
				Name:       fields["name"].(string),
				Payload:    bytesFromList(fields["payload"].([]any)),
			},
		}, nil
	case "load":
		return ClientMessage{
			Kind:     ClientLoad,
			LoadRoom: fields["room"].(string),
			LoadFrom: fields["from"].(int64),
		}, nil
	case "watch":
		return ClientMessage{Kind: ClientWatch, Room: fields["room"].(string)}, nil
	case "unwatch":
		return ClientMessage{Kind: ClientUnwatch, Room: fields["room"].(string)}, nil
	case "get_latest_post_index":
		return ClientMessage{Kind: ClientGetLatestPostIndex, Room: fields["room"].(string)}, nil
	default:
		return ClientMessage{}, fmt.Errorf("wire: unhandled client message tag %q", uv.Tag)
	}
}

func clientUnionValue(m ClientMessage) (codec.UnionValue, error) {
	switch m.Kind {
	case ClientGetTime:
		return codec.UnionValue{Tag: "get_time", Payload: map[string]any{}}, nil
	case ClientPost:
		return codec.UnionValue{Tag: "post", Payload: map[string]any{
			"room":    m.Post.Room,
			"time":    m.Post.ClientTime,
			"name":    m.Post.Name,
			"payload": m.Post.Payload,
		}}, nil
	case ClientLoad:
		return codec.UnionValue{Tag: "load", Payload: map[string]any{
			"room": m.LoadRoom,
			"from": m.LoadFrom,
		}}, nil
	case ClientWatch:
		return codec.UnionValue{Tag: "watch", Payload: map[string]any{"room": m.Room}}, nil
	case ClientUnwatch:
		return codec.UnionValue{Tag: "unwatch", Payload: map[string]any{"room": m.Room}}, nil
	case ClientGetLatestPostIndex:
		return codec.UnionValue{Tag: "get_latest_post_index", Payload: map[string]any{"room": m.Room}}, nil
	default:
		return codec.UnionValue{}, fmt.Errorf("wire: unknown client message kind %d", m.Kind)
	}
}

// EncodeBrokerMessage serializes a broker→client message into one
// WebSocket binary frame payload.
func EncodeBrokerMessage(m BrokerMessage) ([]byte, error) {
	uv, err := brokerUnionValue(m)
	if err != nil {
		return nil, err
	}
	return codec.Encode(brokerMessageSchema, uv)
}

// DecodeBrokerMessage is the client-side counterpart of
// EncodeBrokerMessage.
func DecodeBrokerMessage(data []byte) (BrokerMessage, error) {
	v, err := codec.Decode(brokerMessageSchema, data)
	if err != nil {
		return BrokerMessage{}, err
	}
	uv := v.(codec.UnionValue)
	fields := uv.Payload.(map[string]any)

	switch uv.Tag {
	case "info_time":
		return BrokerMessage{Kind: BrokerInfoTime, InfoTime: fields["time"].(int64)}, nil
	case "info_post":
		return BrokerMessage{
			Kind: BrokerInfoPost,
			InfoPost: Post{
				Room:       fields["room"].(string),
				Index:      fields["index"].(int64),
				ServerTime: fields["server_time"].(int64),
				ClientTime: fields["client_time"].(int64),
				Name:       fields["name"].(string),
				Payload:    bytesFromList(fields["payload"].([]any)),
			},
		}, nil
	case "info_latest_post_index":
		return BrokerMessage{
			Kind:                  BrokerInfoLatestPostIndex,
			LatestIndexRoom:       fields["room"].(string),
			LatestIndex:           fields["latest_index"].(int64),
			LatestIndexServerTime: fields["server_time"].(int64),
		}, nil
	default:
		return BrokerMessage{}, fmt.Errorf("wire: unhandled broker message tag %q", uv.Tag)
	}
}

func brokerUnionValue(m BrokerMessage) (codec.UnionValue, error) {
	switch m.Kind {
	case BrokerInfoTime:
		return codec.UnionValue{Tag: "info_time", Payload: map[string]any{"time": m.InfoTime}}, nil
	case BrokerInfoPost:
		return codec.UnionValue{Tag: "info_post", Payload: map[string]any{
			"room":        m.InfoPost.Room,
			"index":       m.InfoPost.Index,
			"server_time": m.InfoPost.ServerTime,
			"client_time": m.InfoPost.ClientTime,
			"name":        m.InfoPost.Name,
			"payload":     m.InfoPost.Payload,
		}}, nil
	case BrokerInfoLatestPostIndex:
		return codec.UnionValue{Tag: "info_latest_post_index", Payload: map[string]any{
			"room":         m.LatestIndexRoom,
			"latest_index": m.LatestIndex,
			"server_time":  m.LatestIndexServerTime,
		}}, nil
	default:
		return codec.UnionValue{}, fmt.Errorf("wire: unknown broker message kind %d", m.Kind)
	}
}

func bytesFromList(elems []any) []byte {
	out := make([]byte, len(elems))
	for i, e := range elems {
		out[i] = byte(e.(int64))
	}
	return out
}
