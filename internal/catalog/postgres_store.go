package catalog

import (
	"context"
	"database/sql"
)

// PostgresStore persists catalog items in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, item *Item) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO items (id, name, description, price, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.Name, item.Description, item.Price, item.Active, item.CreatedAt)
	return err
}

func (p *PostgresStore) ListActive(ctx context.Context) ([]*Item, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, price, active, created_at
		FROM items WHERE active = TRUE ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []*Item
	for rows.Next() {
		item := &Item{}
		var desc sql.NullString
		if err := rows.Scan(&item.ID, &item.Name, &desc, &item.Price, &item.Active, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Description = desc.String
		items = append(items, item)
	}
	return items, rows.Err()
}

// Migrate creates the items table if it doesn't exist
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS items (
			id          VARCHAR(36) PRIMARY KEY,
			name        VARCHAR(255) NOT NULL,
			description TEXT,
			price       NUMERIC(12,2) NOT NULL,
			active      BOOLEAN NOT NULL DEFAULT TRUE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}
