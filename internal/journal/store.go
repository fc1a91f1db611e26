package journal

import (
	"context"
	"strings"
	"sync"
)

const defaultLimit = 20

// Store persists turn records. Recent returns the newest records first; an
// empty sessionID matches every session.
type Store interface {
	SaveTurn(ctx context.Context, record Record) error
	Recent(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}

// NewStore returns a Postgres store when databaseURL is set and an in-memory
// one otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(0), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// MemoryStore keeps the last capacity records.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	records  []Record
}

const defaultCapacity = 500

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) SaveTurn(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].TurnID == record.TurnID {
			s.records[i] = record
			return nil
		}
	}
	s.records = append(s.records, record)
	if over := len(s.records) - s.capacity; over > 0 {
		s.records = append([]Record(nil), s.records[over:]...)
	}
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, min(limit, len(s.records)))
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionID != "" && s.records[i].SessionID != sessionID {
			continue
		}
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
