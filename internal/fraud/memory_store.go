package fraud

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu     sync.RWMutex
	events []*FingerprintEvent // append order; listings walk backwards
}

// NewMemoryStore creates a new in-memory event store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, e *FingerprintEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]*FingerprintEvent, error) {
	return s.list(func(e *FingerprintEvent) bool { return e.SessionID == sessionID }, limit), nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*FingerprintEvent, error) {
	return s.list(func(e *FingerprintEvent) bool { return e.UserID == userID }, limit), nil
}

func (s *MemoryStore) ListByEmail(ctx context.Context, email string, limit int) ([]*FingerprintEvent, error) {
	return s.list(func(e *FingerprintEvent) bool { return e.Email == email }, limit), nil
}

// list returns matching events newest-first, honoring the limit.
func (s *MemoryStore) list(match func(*FingerprintEvent) bool, limit int) []*FingerprintEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*FingerprintEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if match(s.events[i]) {
			cp := *s.events[i]
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result
}
