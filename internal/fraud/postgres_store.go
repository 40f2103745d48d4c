package fraud

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/avelar/shopfence/internal/fingerprint"
	"github.com/avelar/shopfence/internal/risk"
)

// PostgresStore persists fingerprint events in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed event store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, e *FingerprintEvent) error {
	var fp []byte
	if e.Fingerprint != nil {
		var err error
		fp, err = json.Marshal(e.Fingerprint)
		if err != nil {
			return err
		}
	}

	factors := make([]string, 0, len(e.Factors))
	for _, f := range e.Factors {
		factors = append(factors, string(f))
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO fingerprint_logs
			(id, session_id, user_id, email, ip_address, feature, fingerprint_json,
			 user_agent, risk_score, risk_level, is_blocked, risk_factors, event_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, nullString(e.SessionID), nullString(e.UserID), nullString(e.Email),
		e.IP, e.Feature, nullBytes(fp), nullString(e.UserAgent),
		e.RiskScore, string(e.RiskLevel), e.Blocked, pq.Array(factors), e.EventTime)
	return err
}

func (p *PostgresStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]*FingerprintEvent, error) {
	return p.query(ctx, `WHERE session_id = $1`, sessionID, limit)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*FingerprintEvent, error) {
	return p.query(ctx, `WHERE user_id = $1`, userID, limit)
}

func (p *PostgresStore) ListByEmail(ctx context.Context, email string, limit int) ([]*FingerprintEvent, error) {
	return p.query(ctx, `WHERE email = $1`, email, limit)
}

// query lists events newest-first; a non-positive limit returns everything.
func (p *PostgresStore) query(ctx context.Context, where, arg string, limit int) ([]*FingerprintEvent, error) {
	q := `
		SELECT id, session_id, user_id, email, ip_address, feature, fingerprint_json,
		       user_agent, risk_score, risk_level, is_blocked, risk_factors, event_time
		FROM fingerprint_logs ` + where + ` ORDER BY event_time DESC`
	args := []any{arg}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*FingerprintEvent
	for rows.Next() {
		e := &FingerprintEvent{}
		var sessID, userID, email, ua sql.NullString
		var fp []byte
		var level string
		var factors pq.StringArray
		if err := rows.Scan(&e.ID, &sessID, &userID, &email, &e.IP, &e.Feature, &fp,
			&ua, &e.RiskScore, &level, &e.Blocked, &factors, &e.EventTime); err != nil {
			return nil, err
		}
		e.SessionID = sessID.String
		e.UserID = userID.String
		e.Email = email.String
		e.UserAgent = ua.String
		e.RiskLevel = risk.Level(level)
		if len(fp) > 0 {
			rec := &fingerprint.Record{}
			if err := json.Unmarshal(fp, rec); err == nil {
				e.Fingerprint = rec
			}
		}
		for _, f := range factors {
			e.Factors = append(e.Factors, risk.Factor(f))
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Migrate creates the fingerprint_logs table if it doesn't exist
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fingerprint_logs (
			id               VARCHAR(36) PRIMARY KEY,
			session_id       VARCHAR(36),
			user_id          VARCHAR(36),
			email            VARCHAR(255),
			ip_address       VARCHAR(64) NOT NULL,
			feature          VARCHAR(64) NOT NULL,
			fingerprint_json JSONB,
			user_agent       TEXT,
			risk_score       INTEGER NOT NULL,
			risk_level       VARCHAR(16) NOT NULL,
			is_blocked       BOOLEAN NOT NULL DEFAULT FALSE,
			risk_factors     TEXT[],
			event_time       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_fingerprint_logs_session ON fingerprint_logs(session_id, event_time DESC);
		CREATE INDEX IF NOT EXISTS idx_fingerprint_logs_user ON fingerprint_logs(user_id, event_time DESC);
		CREATE INDEX IF NOT EXISTS idx_fingerprint_logs_email ON fingerprint_logs(email, event_time DESC);
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
