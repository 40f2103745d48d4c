// Package session issues, validates, and revokes session credentials bound
// to a fingerprint identity digest.
//
// A session couples a signed JWT with a server-side row. Validation requires
// both: a verifiable, unexpired token AND an active, unexpired row. Every
// failure mode collapses to one opaque error so callers (and attackers)
// cannot distinguish tamper, expiry, revocation, or store trouble.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidSession is the single error surfaced for every validation
// failure: bad signature, expired token, revoked or missing session, store
// failure. Deliberately opaque.
var ErrInvalidSession = errors.New("invalid or compromised session")

// ErrNotFound reports a missing session row. Internal to stores; the manager
// collapses it into ErrInvalidSession before it reaches callers.
var ErrNotFound = errors.New("session: not found")

// Session is one server-side session row. Revocation (Active=false) is
// one-way; ExpiresAt is fixed at creation and independent of revocation.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	Token           string    `json:"-"` // opaque credential, never serialized
	FingerprintHash string    `json:"-"` // one-way digest, equality only
	IP              string    `json:"ip"`
	UserAgent       string    `json:"userAgent"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	LastActivity    time.Time `json:"lastActivity"`
	Active          bool      `json:"active"`
}

// Identity is the claim set returned by a successful validation.
type Identity struct {
	SessionID string
	UserID    string
	Email     string
}

// Store persists sessions. One row per token; creation and deactivation must
// be linearizable per token at the storage layer.
type Store interface {
	Insert(ctx context.Context, s *Session) error
	// FindActiveByToken returns the session for token only when it is active
	// and unexpired at instant now; ErrNotFound otherwise.
	FindActiveByToken(ctx context.Context, token string, now time.Time) (*Session, error)
	UpdateLastActivity(ctx context.Context, id string, t time.Time) error
	// Deactivate revokes the session holding token. Idempotent: no-op when
	// the session is already inactive or absent.
	Deactivate(ctx context.Context, token string) error
	DeactivateAllForUser(ctx context.Context, userID string) error
	ListActiveByUser(ctx context.Context, userID string) ([]*Session, error)
}
