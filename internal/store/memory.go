package store

import (
	"context"
	"sync"

	"github.com/raphaelgruber/memu-go/internal/apperr"
	"github.com/raphaelgruber/memu-go/internal/models"
)

// MemoryStore keeps records in process memory. Records are stored in their
// encoded form so callers never share slices with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) Persist(ctx context.Context, rec *models.ConversationRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := models.NewID()
	data, err := encode(rec, id)
	if err != nil {
		return "", apperr.Storage("encode conversation", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = data
	return id, nil
}

func (s *MemoryStore) Locate(_ context.Context, id string) (*models.ConversationRecord, error) {
	s.mu.RLock()
	data, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
