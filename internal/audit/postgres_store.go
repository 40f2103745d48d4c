package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/avelar/shopfence/internal/idgen"
)

// PostgresStore persists audit entries in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed audit store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert appends one audit entry.
func (p *PostgresStore) Insert(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = idgen.WithPrefix("aud_")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details []byte
	if e.Details != nil {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return err
		}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_logs
			(id, session_id, user_id, action, resource, details, ip_address, user_agent, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, nullString(e.SessionID), nullString(e.UserID), e.Action, e.Resource,
		nullBytes(details), nullString(e.IP), nullString(e.UserAgent), nullString(e.Status), e.CreatedAt)
	return err
}

// ListBySession returns entries for a session, newest first. A non-positive
// limit returns everything.
func (p *PostgresStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, session_id, user_id, action, resource, details, ip_address, user_agent, status, created_at
		FROM audit_logs WHERE session_id = $1 ORDER BY created_at DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var sessID, userID, ip, ua, status sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &sessID, &userID, &e.Action, &e.Resource,
			&details, &ip, &ua, &status, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SessionID = sessID.String
		e.UserID = userID.String
		e.IP = ip.String
		e.UserAgent = ua.String
		e.Status = status.String
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Migrate creates the audit_logs table if it doesn't exist
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id          VARCHAR(36) PRIMARY KEY,
			session_id  VARCHAR(36),
			user_id     VARCHAR(36),
			action      VARCHAR(64) NOT NULL,
			resource    VARCHAR(64) NOT NULL,
			details     JSONB,
			ip_address  VARCHAR(64),
			user_agent  TEXT,
			status      VARCHAR(32),
			created_at  TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_session ON audit_logs(session_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs(user_id);
	`)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
