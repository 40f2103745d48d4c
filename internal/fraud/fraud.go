// Package fraud runs the per-request antifraud pipeline.
//
// For every inbound request the orchestrator resolves the caller's identity,
// pulls a bounded window of historical fingerprint events, fetches the user's
// active sessions, scores the request with the risk engine, emits one
// structured security event, persists one fingerprint event, and decides
// whether to block. The pipeline is fail-open by policy: any internal error
// degrades to "continue" — availability wins over strict enforcement.
package fraud

import (
	"context"
	"time"

	"github.com/avelar/shopfence/internal/fingerprint"
	"github.com/avelar/shopfence/internal/risk"
)

// FingerprintEvent is one append-only scoring telemetry row. SessionID,
// UserID, and Email are optional: whichever identity signals were available
// at evaluation time. Events are never mutated; recency ordering defines the
// historical window.
type FingerprintEvent struct {
	ID          string              `json:"id"`
	SessionID   string              `json:"sessionId,omitempty"`
	UserID      string              `json:"userId,omitempty"`
	Email       string              `json:"email,omitempty"`
	IP          string              `json:"ip"`
	Feature     string              `json:"feature"`
	Fingerprint *fingerprint.Record `json:"fingerprint,omitempty"`
	UserAgent   string              `json:"userAgent,omitempty"`
	RiskScore   int                 `json:"riskScore"`
	RiskLevel   risk.Level          `json:"riskLevel"`
	Blocked     bool                `json:"blocked"`
	Factors     []risk.Factor       `json:"factors,omitempty"`
	EventTime   time.Time           `json:"eventTime"`
}

// Store is the historical event repository: append-only, queryable by
// session, user, or email. Listings are newest-first; limit > 0 caps the
// window, zero or negative means unbounded.
type Store interface {
	Insert(ctx context.Context, e *FingerprintEvent) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*FingerprintEvent, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*FingerprintEvent, error)
	ListByEmail(ctx context.Context, email string, limit int) ([]*FingerprintEvent, error)
}
