package orders

import (
	"context"
	"sort"
	"sync"

	"github.com/avelar/shopfence/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu     sync.RWMutex
	orders []*Order
}

// NewMemoryStore creates a new in-memory order store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Create(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	s.orders = append(s.orders, &cp)
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Order
	for _, o := range s.orders {
		if o.UserID != userID {
			continue
		}
		if before != nil && !olderThan(o, before) {
			continue
		}
		cp := *o
		cp.Items = append([]LineItem(nil), o.Items...)
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// olderThan reports whether o sorts strictly after the cursor position in the
// (created_at DESC, id DESC) ordering.
func olderThan(o *Order, c *pagination.Cursor) bool {
	if o.CreatedAt.Equal(c.CreatedAt) {
		return o.ID < c.ID
	}
	return o.CreatedAt.Before(c.CreatedAt)
}
