package catalog

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu    sync.RWMutex
	items []*Item
}

// NewMemoryStore creates a new in-memory catalog store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Create(ctx context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.items = append(s.items, &cp)
	return nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Item
	for _, item := range s.items {
		if item.Active {
			cp := *item
			result = append(result, &cp)
		}
	}
	return result, nil
}
