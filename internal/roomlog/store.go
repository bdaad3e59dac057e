package roomlog

import (
	"fmt"
	"os"
	"sync"
)

// Store is the broker's handle onto every room's append log. Open rooms
// are cached in memory with their offset table and current size; the
// room log is single-writer per room, so each room's append path is
// serialized by that room's own mutex rather than a store-wide lock.
type Store struct {
	dir string

	mu    sync.Mutex
	rooms map[string]*room
}

// NewStore opens (creating if necessary) a room log directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("roomlog: create db dir: %w", err)
	}
	return &Store{dir: dir, rooms: make(map[string]*room)}, nil
}

func (s *Store) roomFor(name string) (*room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rm, ok := s.rooms[name]; ok {
		return rm, nil
	}
	rm, err := openRoom(s.dir, name)
	if err != nil {
		return nil, err
	}
	s.rooms[name] = rm
	return rm, nil
}

// Append writes a post to room's log and returns the newly assigned,
// 0-based monotonically increasing index.
func (s *Store) Append(roomName string, serverTime, clientTime int64, name string, payload []byte) (int64, error) {
	rm, err := s.roomFor(roomName)
	if err != nil {
		return 0, err
	}
	return rm.append(Record{ServerTime: serverTime, ClientTime: clientTime, Name: name, Payload: payload})
}

// Get returns the record at index i in room, or ok == false if i is out
// of range.
func (s *Store) Get(roomName string, i int64) (Record, bool, error) {
	rm, err := s.roomFor(roomName)
	if err != nil {
		return Record{}, false, err
	}
	return rm.get(i)
}

// Count returns the number of records appended to room so far.
func (s *Store) Count(roomName string) (int64, error) {
	rm, err := s.roomFor(roomName)
	if err != nil {
		return 0, err
	}
	return rm.count(), nil
}

// Close closes every open room file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, rm := range s.rooms {
		if err := rm.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
