package wire

import (
	"bytes"
	"testing"
)

func TestPostRoundTrip(t *testing.T) {
	msg := ClientMessage{
		Kind: ClientPost,
		Post: Post{
			Room:       "room-a",
			ClientTime: 1234567,
			Name:       "abc12345",
			Payload:    []byte{1, 2, 3, 4},
		},
	}
	enc, err := EncodeClientMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := DecodeClientMessage(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Kind != ClientPost || dec.Post.Room != "room-a" || dec.Post.ClientTime != 1234567 ||
		dec.Post.Name != "abc12345" || !bytes.Equal(dec.Post.Payload, []byte{1, 2, 3, 4}) {
		t.Fatalf("round-trip mismatch: %+v", dec)
	}
}

func TestGetTimeRoundTrip(t *testing.T) {
	enc, err := EncodeClientMessage(ClientMessage{Kind: ClientGetTime})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := DecodeClientMessage(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Kind != ClientGetTime {
		t.Fatalf("expected ClientGetTime, got %v", dec.Kind)
	}
}

func TestInfoLatestPostIndexNegative(t *testing.T) {
	msg := BrokerMessage{
		Kind:                  BrokerInfoLatestPostIndex,
		LatestIndexRoom:       "room-b",
		LatestIndex:           -1,
		LatestIndexServerTime: 99,
	}
	enc, err := EncodeBrokerMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := DecodeBrokerMessage(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.LatestIndex != -1 || dec.LatestIndexRoom != "room-b" {
		t.Fatalf("round-trip mismatch: %+v", dec)
	}
}

func TestInfoPostRoundTrip(t *testing.T) {
	msg := BrokerMessage{
		Kind: BrokerInfoPost,
		InfoPost: Post{
			Room:       "room-c",
			Index:      42,
			ServerTime: 1000,
			ClientTime: 990,
			Name:       "xyz98765",
			Payload:    []byte("hello"),
		},
	}
	enc, err := EncodeBrokerMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := DecodeBrokerMessage(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.InfoPost.Index != 42 || dec.InfoPost.Room != "room-c" || string(dec.InfoPost.Payload) != "hello" {
		t.Fatalf("round-trip mismatch: %+v", dec.InfoPost)
	}
}
