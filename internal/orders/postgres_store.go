package orders

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/avelar/shopfence/internal/pagination"
)

// PostgresStore persists orders in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, session_id, status, total, origin_ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.UserID, nullString(o.SessionID), o.Status, o.Total, nullString(o.OriginIP), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, item_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
		`, o.ID, it.ItemID, it.Quantity, it.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Order, error) {
	query := `
		SELECT id, user_id, session_id, status, total, origin_ip, created_at
		FROM orders WHERE user_id = $1`
	args := []any{userID}
	if before != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, before.CreatedAt, before.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Order
	for rows.Next() {
		o := &Order{}
		var sessionID, originIP sql.NullString
		if err := rows.Scan(&o.ID, &o.UserID, &sessionID, &o.Status, &o.Total, &originIP, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.SessionID = sessionID.String
		o.OriginIP = originIP.String
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range result {
		items, err := p.listItems(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		o.Items = items
	}
	return result, nil
}

func (p *PostgresStore) listItems(ctx context.Context, orderID string) ([]LineItem, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT item_id, quantity, unit_price
		FROM order_items WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ItemID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Migrate creates the orders tables if they don't exist
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id         VARCHAR(64) PRIMARY KEY,
			user_id    VARCHAR(64) NOT NULL,
			session_id VARCHAR(64),
			status     VARCHAR(32) NOT NULL,
			total      NUMERIC(12,2) NOT NULL,
			origin_ip  VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id, created_at DESC);
		CREATE TABLE IF NOT EXISTS order_items (
			order_id   VARCHAR(64) NOT NULL REFERENCES orders(id),
			item_id    VARCHAR(64) NOT NULL,
			quantity   INTEGER NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
	`)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
