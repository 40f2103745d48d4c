package session

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists sessions in PostgreSQL. Token uniqueness and the
// active/expiry predicate are enforced by the database, so two concurrent
// validations of one token observe a consistent state without in-process
// locking.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO user_sessions
			(id, user_id, session_token, fingerprint_hash, ip_address, user_agent,
			 created_at, expires_at, last_activity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.UserID, s.Token, s.FingerprintHash, s.IP, s.UserAgent,
		s.CreatedAt, s.ExpiresAt, s.LastActivity, s.Active)
	return err
}

func (p *PostgresStore) FindActiveByToken(ctx context.Context, token string, now time.Time) (*Session, error) {
	s := &Session{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, session_token, fingerprint_hash, ip_address, user_agent,
		       created_at, expires_at, last_activity, is_active
		FROM user_sessions
		WHERE session_token = $1 AND is_active = TRUE AND expires_at > $2
	`, token, now).Scan(
		&s.ID, &s.UserID, &s.Token, &s.FingerprintHash, &s.IP, &s.UserAgent,
		&s.CreatedAt, &s.ExpiresAt, &s.LastActivity, &s.Active,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) UpdateLastActivity(ctx context.Context, id string, t time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE user_sessions SET last_activity = $1 WHERE id = $2
	`, t, id)
	return err
}

func (p *PostgresStore) Deactivate(ctx context.Context, token string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE user_sessions SET is_active = FALSE WHERE session_token = $1
	`, token)
	return err
}

func (p *PostgresStore) DeactivateAllForUser(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE user_sessions SET is_active = FALSE WHERE user_id = $1
	`, userID)
	return err
}

func (p *PostgresStore) ListActiveByUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, session_token, fingerprint_hash, ip_address, user_agent,
		       created_at, expires_at, last_activity, is_active
		FROM user_sessions WHERE user_id = $1 AND is_active = TRUE
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		s := &Session{}
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Token, &s.FingerprintHash, &s.IP, &s.UserAgent,
			&s.CreatedAt, &s.ExpiresAt, &s.LastActivity, &s.Active,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Migrate creates the user_sessions table if it doesn't exist
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_sessions (
			id               VARCHAR(36) PRIMARY KEY,
			user_id          VARCHAR(36) NOT NULL,
			session_token    TEXT NOT NULL UNIQUE,
			fingerprint_hash VARCHAR(64) NOT NULL,
			ip_address       VARCHAR(64),
			user_agent       TEXT,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at       TIMESTAMPTZ NOT NULL,
			last_activity    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_active        BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE INDEX IF NOT EXISTS idx_user_sessions_token ON user_sessions(session_token);
		CREATE INDEX IF NOT EXISTS idx_user_sessions_user ON user_sessions(user_id);
	`)
	return err
}
