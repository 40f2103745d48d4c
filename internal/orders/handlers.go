package orders

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avelar/shopfence/internal/audit"
	"github.com/avelar/shopfence/internal/fingerprint"
	"github.com/avelar/shopfence/internal/idgen"
	"github.com/avelar/shopfence/internal/logging"
	"github.com/avelar/shopfence/internal/pagination"
	"github.com/avelar/shopfence/internal/session"
)

// Page size bounds for order listings.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handler provides the order HTTP endpoints. All routes require a validated
// session.
type Handler struct {
	store  Store
	audits audit.Store
}

// NewHandler creates an orders handler.
func NewHandler(store Store, audits audit.Store) *Handler {
	return &Handler{store: store, audits: audits}
}

// Create handles POST /api/orders.
func (h *Handler) Create(c *gin.Context) {
	ident, ok := session.IdentityFromGin(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req struct {
		Items []struct {
			ID       string  `json:"id" binding:"required"`
			Quantity int     `json:"quantity" binding:"required,gt=0"`
			Price    float64 `json:"price" binding:"required,gte=0"`
		} `json:"items" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order payload"})
		return
	}

	total := 0.0
	items := make([]LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		total += it.Price * float64(it.Quantity)
		items = append(items, LineItem{ItemID: it.ID, Quantity: it.Quantity, UnitPrice: it.Price})
	}

	fc := fingerprint.FromGin(c)
	o := &Order{
		ID:        idgen.WithPrefix("ord_"),
		UserID:    ident.UserID,
		SessionID: ident.SessionID,
		Status:    StatusNew,
		Total:     total,
		OriginIP:  fc.IP,
		Items:     items,
		CreatedAt: time.Now().UTC(),
	}

	ctx := c.Request.Context()
	if err := h.store.Create(ctx, o); err != nil {
		logging.L(ctx).Error("failed to create order", "error", err, "user_id", ident.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	if err := h.audits.Insert(ctx, &audit.Entry{
		SessionID: ident.SessionID,
		UserID:    ident.UserID,
		Action:    audit.ActionOrderCreated,
		Resource:  "order",
		Details:   map[string]any{"order_id": o.ID, "total": o.Total},
		IP:        fc.IP,
		UserAgent: c.Request.UserAgent(),
		Status:    "success",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		logging.L(ctx).Error("failed to record audit entry", "error", err, "action", audit.ActionOrderCreated)
	}

	c.JSON(http.StatusCreated, gin.H{"id": o.ID, "total": o.Total, "status": o.Status})
}

// List handles GET /api/orders with cursor pagination
// (?limit=20&cursor=<opaque>).
func (h *Handler) List(c *gin.Context) {
	ident, ok := session.IdentityFromGin(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	limit := pagination.ClampLimit(c.Query("limit"), defaultPageSize, maxPageSize)
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}

	// Fetch one extra row to learn whether another page exists
	list, err := h.store.ListByUser(c.Request.Context(), ident.UserID, limit+1, cursor)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list orders", "error", err, "user_id", ident.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}

	page, next, hasMore := pagination.ComputePage(list, limit, func(o *Order) (time.Time, string) {
		return o.CreatedAt, o.ID
	})
	if page == nil {
		page = []*Order{}
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":      page,
		"next_cursor": next,
		"has_more":    hasMore,
	})
}
