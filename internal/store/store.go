// Package store persists chat messages in a PebbleDB key-value store.
// Keys are 8-byte big-endian sequence numbers increasing monotonically;
// values are the JSON-encoded message records.
package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/goccy/go-json"

	"duochat/internal/protocol"
)

// Store is an append-only message log. Append assigns the message id and the
// server timestamp; both are immutable once written.
type Store struct {
	db   *pebble.DB
	mu   sync.Mutex
	next uint64
	last time.Time
}

// Open opens (or creates) the store at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	s := &Store{db: db}
	// Discover next sequence and last timestamp from the final record.
	it, err := db.NewIter(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	defer func() { _ = it.Close() }()
	if it.Last() {
		if len(it.Key()) >= 8 {
			s.next = binary.BigEndian.Uint64(it.Key()[:8]) + 1
		}
		var m protocol.Message
		if err := json.Unmarshal(it.Value(), &m); err == nil {
			s.last = m.Timestamp.Time
		}
	}
	return s, nil
}

// Append persists m, assigning its id and timestamp. The timestamp is
// clamped so it never decreases in assignment order, even across clock
// slew or process restarts.
func (s *Store) Append(m protocol.Message) (protocol.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := protocol.Now()
	if ts.Before(s.last) {
		ts = protocol.FlexTime{Time: s.last}
	}
	s.last = ts.Time

	m.ID = fmt.Sprintf("m%d", s.next)
	m.Timestamp = ts
	if m.Status == "" {
		m.Status = protocol.StatusSent
	}

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, s.next)
	val, err := json.Marshal(m)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("encode message: %w", err)
	}
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return protocol.Message{}, fmt.Errorf("persist message: %w", err)
	}
	s.next++
	return m, nil
}

// Recent returns the most recent limit messages in append order. A
// non-positive limit returns everything. The scan walks backwards from the
// newest record so it touches at most limit entries.
func (s *Store) Recent(limit int) ([]protocol.Message, error) {
	it, err := s.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	out := make([]protocol.Message, 0, 64)
	for ok := it.Last(); ok; ok = it.Prev() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var m protocol.Message
		if err := json.Unmarshal(it.Value(), &m); err == nil {
			out = append(out, m)
		}
	}
	// Reverse back into append order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
