package history

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore is an in-process Store used when no database is configured
// and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
	nextID  int64
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string][]Record{},
		nextID:  1,
	}
}

func (s *MemoryStore) SaveRecord(_ context.Context, rec Record) error {
	if s == nil {
		return errors.New("memory history store: store is nil")
	}
	rec.ConversationID = strings.TrimSpace(rec.ConversationID)
	if rec.ConversationID == "" {
		return errors.New("memory history store: conversation id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextID
	s.nextID++
	s.records[rec.ConversationID] = append(s.records[rec.ConversationID], rec)
	return nil
}

func (s *MemoryStore) Records(_ context.Context, conversationID string) ([]Record, error) {
	if s == nil {
		return nil, errors.New("memory history store: store is nil")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("memory history store: conversation id is empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records[conversationID]))
	copy(out, s.records[conversationID])
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
