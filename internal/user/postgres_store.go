package user

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore persists users in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Name, strings.ToLower(u.Email), u.PasswordHash, u.Status, u.CreatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return p.get(ctx, `WHERE email = $1`, strings.ToLower(email))
}

func (p *PostgresStore) GetByID(ctx context.Context, id string) (*User, error) {
	return p.get(ctx, `WHERE id = $1`, id)
}

func (p *PostgresStore) get(ctx context.Context, where, arg string) (*User, error) {
	u := &User{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, status, created_at
		FROM users `+where,
		arg,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Status, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Migrate creates the users table if it doesn't exist
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            VARCHAR(36) PRIMARY KEY,
			name          VARCHAR(255) NOT NULL,
			email         VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(72) NOT NULL,
			status        VARCHAR(32) NOT NULL DEFAULT 'active',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}
