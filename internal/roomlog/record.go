// Package roomlog implements the per-room append-only record log of
// §4.3: a data file of length-prefixed post records plus a side index of
// byte offsets, giving the broker contiguous, gap-free index assignment.
package roomlog

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Record is one post as it is stored on disk, little-endian:
//
//	[u32 record_len][u64 server_time][u64 client_time]
//	[u32 name_len][name bytes][u32 payload_len][payload bytes]
//
// record_len covers every byte after itself.
type Record struct {
	ServerTime int64
	ClientTime int64
	Name       string
	Payload    []byte
}

func (r Record) bodyLen() int {
	return 8 + 8 + 4 + len(r.Name) + 4 + len(r.Payload)
}

// marshal serializes r to the on-disk record layout, including its
// leading length prefix.
func (r Record) marshal() []byte {
	body := r.bodyLen()
	buf := make([]byte, 4+body)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(body))
	off := 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.ServerTime))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.ClientTime))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Name)))
	off += 4
	copy(buf[off:], r.Name)
	off += len(r.Name)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Payload)))
	off += 4
	copy(buf[off:], r.Payload)
	return buf
}

// readRecordAt reads one full record (length prefix included) starting
// at the reader's current position.
func readRecordAt(r io.Reader) (Record, int, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Record{}, 0, err
	}
	bodyLen := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, 0, fmt.Errorf("roomlog: truncated record body: %w", err)
	}
	if len(body) < 20 {
		return Record{}, 0, fmt.Errorf("roomlog: record body too short: %d bytes", len(body))
	}
	rec := Record{}
	rec.ServerTime = int64(binary.LittleEndian.Uint64(body[0:8]))
	rec.ClientTime = int64(binary.LittleEndian.Uint64(body[8:16]))
	nameLen := binary.LittleEndian.Uint32(body[16:20])
	pos := 20
	if len(body) < pos+int(nameLen)+4 {
		return Record{}, 0, fmt.Errorf("roomlog: record body too short for name")
	}
	rec.Name = string(body[pos : pos+int(nameLen)])
	pos += int(nameLen)
	payloadLen := binary.LittleEndian.Uint32(body[pos : pos+4])
	pos += 4
	if len(body) < pos+int(payloadLen) {
		return Record{}, 0, fmt.Errorf("roomlog: record body too short for payload")
	}
	rec.Payload = append([]byte(nil), body[pos:pos+int(payloadLen)]...)
	return rec, 4 + int(bodyLen), nil
}
