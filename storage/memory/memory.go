// Package memory provides an in-memory implementation of the subledger.Storage
// interface. This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sync"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// Storage implements subledger.Storage using an in-memory map
type Storage struct {
	mu      sync.RWMutex
	records map[string]*subledger.SubscriptionRecord
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		records: make(map[string]*subledger.SubscriptionRecord),
	}
}

// GetRecord implements subledger.Storage
func (s *Storage) GetRecord(ctx context.Context, userID string) (*subledger.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, subledger.ErrRecordNotFound
	}

	// Return a copy to prevent external mutations
	return rec.Clone(), nil
}

// UpdateRecord implements subledger.Storage with mutex-protected
// read-modify-write. A callback error aborts the update with no write.
func (s *Storage) UpdateRecord(ctx context.Context, userID string,
	apply func(existing *subledger.SubscriptionRecord) (*subledger.SubscriptionRecord, error)) (*subledger.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *subledger.SubscriptionRecord
	if rec, ok := s.records[userID]; ok {
		existing = rec.Clone()
	}

	updated, err := apply(existing)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, subledger.ErrInvalidEvent
	}

	stored := updated.Clone()
	stored.UserID = userID
	s.records[userID] = stored
	return stored.Clone(), nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*subledger.SubscriptionRecord)
}
