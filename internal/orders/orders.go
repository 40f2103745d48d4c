// Package orders handles order creation and listing for authenticated users.
package orders

import (
	"context"
	"time"

	"github.com/avelar/shopfence/internal/pagination"
)

// Status values for an order.
const (
	StatusNew = "new"
)

// LineItem is one item position inside an order.
type LineItem struct {
	ItemID    string  `json:"itemId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// Order is one placed order. OriginIP and SessionID tie the order back to
// the antifraud context it was created under.
type Order struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	SessionID string     `json:"sessionId,omitempty"`
	Status    string     `json:"status"`
	Total     float64    `json:"total"`
	OriginIP  string     `json:"originIp,omitempty"`
	Items     []LineItem `json:"items,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Store persists orders. ListByUser returns rows newest-first; a non-nil
// cursor restricts the listing to rows strictly older than the cursor
// position, and limit > 0 caps the result size.
type Store interface {
	Create(ctx context.Context, o *Order) error
	ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Order, error)
}
