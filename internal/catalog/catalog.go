// Package catalog serves the storefront item listing.
package catalog

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avelar/shopfence/internal/logging"
)

// ErrNotFound reports a missing item.
var ErrNotFound = errors.New("catalog: item not found")

// Item is one sellable catalog entry.
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       float64   `json:"price"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists catalog items
type Store interface {
	Create(ctx context.Context, item *Item) error
	ListActive(ctx context.Context) ([]*Item, error)
}

// Handler provides the catalog HTTP endpoints.
type Handler struct {
	store Store
}

// NewHandler creates a catalog handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// List handles GET /api/items.
func (h *Handler) List(c *gin.Context) {
	items, err := h.store.ListActive(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list items"})
		return
	}
	if items == nil {
		items = []*Item{}
	}
	c.JSON(http.StatusOK, items)
}
