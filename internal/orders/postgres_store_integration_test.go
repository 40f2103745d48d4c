//go:build integration

package orders

import (
	"context"
	"testing"
	"time"

	"github.com/avelar/shopfence/internal/pagination"
	"github.com/avelar/shopfence/internal/testutil"
)

func TestPostgresOrders_CreateAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	orders := []*Order{
		{
			ID: "ord_it_1", UserID: "usr_it_1", SessionID: "sess_it_1",
			Status: StatusNew, Total: 44.98, OriginIP: "203.0.113.10",
			Items: []LineItem{
				{ItemID: "itm_1", Quantity: 2, UnitPrice: 19.99},
				{ItemID: "itm_2", Quantity: 1, UnitPrice: 5.00},
			},
			CreatedAt: base.Add(-2 * time.Minute),
		},
		{
			ID: "ord_it_2", UserID: "usr_it_1",
			Status: StatusNew, Total: 9.99,
			Items:     []LineItem{{ItemID: "itm_3", Quantity: 1, UnitPrice: 9.99}},
			CreatedAt: base.Add(-time.Minute),
		},
		{
			ID: "ord_it_3", UserID: "usr_it_2",
			Status: StatusNew, Total: 1.00,
			Items:     []LineItem{{ItemID: "itm_4", Quantity: 1, UnitPrice: 1.00}},
			CreatedAt: base,
		},
	}
	for _, o := range orders {
		if err := store.Create(ctx, o); err != nil {
			t.Fatalf("Create %s: %v", o.ID, err)
		}
	}

	list, err := store.ListByUser(ctx, "usr_it_1", 0, nil)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("orders = %d, want 2", len(list))
	}
	if list[0].ID != "ord_it_2" || list[1].ID != "ord_it_1" {
		t.Errorf("order ids = %s, %s", list[0].ID, list[1].ID)
	}
	if len(list[1].Items) != 2 {
		t.Errorf("ord_it_1 items = %d, want 2", len(list[1].Items))
	}
	if list[1].SessionID != "sess_it_1" || list[1].OriginIP != "203.0.113.10" {
		t.Errorf("ord_it_1 = %+v", list[1])
	}
	if list[0].SessionID != "" {
		t.Errorf("ord_it_2 session = %q, want empty", list[0].SessionID)
	}
}

func TestPostgresOrders_CursorPagination(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	ids := []string{"ord_pg_1", "ord_pg_2", "ord_pg_3"}
	for i, id := range ids {
		o := &Order{
			ID: id, UserID: "usr_pg_1", Status: StatusNew, Total: 1.00,
			Items:     []LineItem{{ItemID: "itm_1", Quantity: 1, UnitPrice: 1.00}},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Create(ctx, o); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	first, err := store.ListByUser(ctx, "usr_pg_1", 2, nil)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first) != 2 || first[0].ID != "ord_pg_3" || first[1].ID != "ord_pg_2" {
		t.Fatalf("first page = %+v", first)
	}

	cursor := &pagination.Cursor{CreatedAt: first[1].CreatedAt, ID: first[1].ID}
	rest, err := store.ListByUser(ctx, "usr_pg_1", 2, cursor)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "ord_pg_1" {
		t.Fatalf("second page = %+v", rest)
	}
}
