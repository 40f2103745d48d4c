package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avelar/shopfence/internal/audit"
	"github.com/avelar/shopfence/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeIdentity stands in for RequireSession in handler tests.
func fakeIdentity(userID, sessionID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(session.ContextKeyIdentity, &session.Identity{
			UserID:    userID,
			SessionID: sessionID,
			Email:     "alice@example.com",
		})
		c.Next()
	}
}

func setupOrderRouter(store Store, audits audit.Store, auth gin.HandlerFunc) *gin.Engine {
	h := NewHandler(store, audits)
	r := gin.New()
	grp := r.Group("/api")
	if auth != nil {
		grp.Use(auth)
	}
	grp.POST("/orders", h.Create)
	grp.GET("/orders", h.List)
	return r
}

func TestCreateOrder(t *testing.T) {
	store := NewMemoryStore()
	audits := audit.NewMemoryStore()
	r := setupOrderRouter(store, audits, fakeIdentity("usr_1", "sess_1"))

	payload := `{"items":[{"id":"itm_1","quantity":2,"price":19.99},{"id":"itm_2","quantity":1,"price":5.00}]}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/orders", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body struct {
		ID     string  `json:"id"`
		Total  float64 `json:"total"`
		Status string  `json:"status"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.ID == "" || body.Status != StatusNew {
		t.Errorf("body = %s", w.Body.String())
	}
	if math.Abs(body.Total-44.98) > 1e-9 {
		t.Errorf("total = %v, want 44.98", body.Total)
	}

	// Stored with the session identity and line items
	list, err := store.ListByUser(context.Background(), "usr_1", 0, nil)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("orders = %d, want 1", len(list))
	}
	o := list[0]
	if o.SessionID != "sess_1" || len(o.Items) != 2 {
		t.Errorf("order = %+v", o)
	}

	// And an audit entry carrying the order id
	entries, _ := audits.ListBySession(context.Background(), "sess_1", 0)
	found := false
	for _, e := range entries {
		if e.Action == audit.ActionOrderCreated && e.Details["order_id"] == o.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected an order_created audit entry")
	}
}

func TestCreateOrderValidation(t *testing.T) {
	r := setupOrderRouter(NewMemoryStore(), audit.NewMemoryStore(), fakeIdentity("usr_1", "sess_1"))

	cases := []string{
		`{}`,
		`{"items":[]}`,
		`{"items":[{"id":"itm_1","quantity":0,"price":1.00}]}`,
		`{"items":[{"id":"itm_1","quantity":1,"price":-1.00}]}`,
	}
	for _, payload := range cases {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/orders", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("payload %s: status = %d, want 400", payload, w.Code)
		}
	}
}

func TestCreateOrderWithoutIdentity(t *testing.T) {
	r := setupOrderRouter(NewMemoryStore(), audit.NewMemoryStore(), nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/orders", bytes.NewBufferString(`{"items":[{"id":"itm_1","quantity":1,"price":1.00}]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestListOrdersScopedToUser(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	_ = store.Create(context.Background(), &Order{ID: "ord_1", UserID: "usr_1", Status: StatusNew, CreatedAt: now.Add(-time.Hour)})
	_ = store.Create(context.Background(), &Order{ID: "ord_2", UserID: "usr_1", Status: StatusNew, CreatedAt: now})
	_ = store.Create(context.Background(), &Order{ID: "ord_3", UserID: "usr_2", Status: StatusNew, CreatedAt: now})

	r := setupOrderRouter(store, audit.NewMemoryStore(), fakeIdentity("usr_1", "sess_1"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/orders", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body listResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(body.Orders))
	}
	// Newest first
	if body.Orders[0].ID != "ord_2" || body.Orders[1].ID != "ord_1" {
		t.Errorf("order ids = %s, %s", body.Orders[0].ID, body.Orders[1].ID)
	}
	if body.HasMore || body.NextCursor != "" {
		t.Errorf("single page must not advertise more: %+v", body)
	}
}

type listResponse struct {
	Orders     []*Order `json:"orders"`
	NextCursor string   `json:"next_cursor"`
	HasMore    bool     `json:"has_more"`
}

func TestListOrdersPagination(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_ = store.Create(context.Background(), &Order{
			ID:        "ord_" + string(rune('1'+i)),
			UserID:    "usr_1",
			Status:    StatusNew,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	r := setupOrderRouter(store, audit.NewMemoryStore(), fakeIdentity("usr_1", "sess_1"))

	// First page of 2
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/orders?limit=2", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var first listResponse
	_ = json.Unmarshal(w.Body.Bytes(), &first)
	if len(first.Orders) != 2 || !first.HasMore || first.NextCursor == "" {
		t.Fatalf("first page = %+v", first)
	}
	if first.Orders[0].ID != "ord_5" || first.Orders[1].ID != "ord_4" {
		t.Errorf("first page ids = %s, %s", first.Orders[0].ID, first.Orders[1].ID)
	}

	// Second page continues where the first left off
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/orders?limit=2&cursor="+first.NextCursor, nil)
	r.ServeHTTP(w, req)

	var second listResponse
	_ = json.Unmarshal(w.Body.Bytes(), &second)
	if len(second.Orders) != 2 || second.Orders[0].ID != "ord_3" {
		t.Fatalf("second page = %+v", second)
	}

	// A garbage cursor is rejected
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/orders?cursor=!!!not-a-cursor", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad cursor status = %d, want 400", w.Code)
	}
}

func TestListOrdersEmpty(t *testing.T) {
	r := setupOrderRouter(NewMemoryStore(), audit.NewMemoryStore(), fakeIdentity("usr_1", "sess_1"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/orders", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body listResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Orders == nil || len(body.Orders) != 0 || body.HasMore {
		t.Errorf("empty listing = %s", w.Body.String())
	}
}
