package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/avelar/shopfence/internal/audit"
	"github.com/avelar/shopfence/internal/fingerprint"
	"github.com/avelar/shopfence/internal/idgen"
	"github.com/avelar/shopfence/internal/logging"
	"github.com/avelar/shopfence/internal/metrics"
)

// DefaultTTL is the fixed session validity window.
const DefaultTTL = 2 * time.Hour

// Claims are the identity claims carried inside the session credential.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Manager handles the session lifecycle.
type Manager struct {
	store  Store
	audits audit.Store
	secret []byte
	ttl    time.Duration
}

// NewManager creates a session manager. The audit store receives hijack
// flags; it may be nil in tests that don't assert on them.
func NewManager(store Store, audits audit.Store, secret []byte) *Manager {
	return &Manager{
		store:  store,
		audits: audits,
		secret: secret,
		ttl:    DefaultTTL,
	}
}

// WithTTL overrides the default session validity window.
func (m *Manager) WithTTL(ttl time.Duration) *Manager {
	m.ttl = ttl
	return m
}

// Create mints a signed, time-boxed credential for the user and persists the
// matching session row, bound to the digest of the request's fingerprint
// (the empty-record digest when none is present).
func (m *Manager) Create(ctx context.Context, userID, email string, fc *fingerprint.Context) (token, sessionID string, err error) {
	now := time.Now().UTC()
	expiresAt := now.Add(m.ttl)
	sessionID = idgen.WithPrefix("sess_")

	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID, // jti keeps concurrently minted tokens distinct
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", err
	}

	var fp *fingerprint.Record
	ip, userAgent := "", ""
	if fc != nil {
		fp = fc.Fingerprint
		ip = fc.IP
		userAgent = fc.UserAgent
	}

	s := &Session{
		ID:              sessionID,
		UserID:          userID,
		Token:           token,
		FingerprintHash: fingerprint.Digest(fp),
		IP:              ip,
		UserAgent:       userAgent,
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
		LastActivity:    now,
		Active:          true,
	}
	if err := m.store.Insert(ctx, s); err != nil {
		return "", "", err
	}

	metrics.SessionsCreatedTotal.Inc()
	return token, s.ID, nil
}

// Validate checks the credential and its session row, returning the identity
// claims. Order matters: signature and expiry first, then the row lookup
// (active, unexpired), then the fingerprint consistency check.
//
// A fingerprint digest mismatch does NOT fail validation: it appends a
// hijack-detection audit entry and lets the request through (detect-only).
// Everything else — tampered token, expired token, revoked or missing row,
// store failure — returns ErrInvalidSession. Validation fails closed:
// a store outage never silently authenticates anyone.
func (m *Manager) Validate(ctx context.Context, token string, fc *fingerprint.Context) (*Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSession
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidSession
	}

	now := time.Now().UTC()
	s, err := m.store.FindActiveByToken(ctx, token, now)
	if err != nil {
		return nil, ErrInvalidSession
	}

	if fc != nil && fc.Fingerprint != nil {
		if fingerprint.Digest(fc.Fingerprint) != s.FingerprintHash {
			// Possible hijacking: flag it, don't block it.
			m.FlagSuspicious(ctx, s.ID, "fingerprint_mismatch")
		}
	}

	if err := m.store.UpdateLastActivity(ctx, s.ID, now); err != nil {
		return nil, ErrInvalidSession
	}

	return &Identity{SessionID: s.ID, UserID: claims.UserID, Email: claims.Email}, nil
}

// Resolve is the antifraud fast path: it maps a bearer token to its session
// and user without a full validation pass (no signature check, no activity
// update). Returns ErrNotFound for unknown, revoked, or expired tokens.
func (m *Manager) Resolve(ctx context.Context, token string) (sessionID, userID string, err error) {
	s, err := m.store.FindActiveByToken(ctx, token, time.Now().UTC())
	if err != nil {
		return "", "", err
	}
	return s.ID, s.UserID, nil
}

// Revoke deactivates the session holding token. Idempotent.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if err := m.store.Deactivate(ctx, token); err != nil {
		return err
	}
	metrics.SessionsRevokedTotal.Inc()
	return nil
}

// RevokeAllForUser deactivates every session belonging to userID.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) error {
	return m.store.DeactivateAllForUser(ctx, userID)
}

// ActiveSessions lists the user's currently active session rows.
func (m *Manager) ActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	return m.store.ListActiveByUser(ctx, userID)
}

// FlagSuspicious appends one hijack-detection audit entry. Best-effort: audit
// failures are logged and swallowed, never surfaced to the caller.
func (m *Manager) FlagSuspicious(ctx context.Context, sessionID, reason string) {
	metrics.HijackFlagsTotal.Inc()
	logging.L(ctx).Warn("session hijacking suspected",
		"session_id", sessionID,
		"reason", reason,
	)
	if m.audits == nil {
		return
	}
	err := m.audits.Insert(ctx, &audit.Entry{
		SessionID: sessionID,
		Action:    audit.ActionHijackingFlagged,
		Resource:  "session",
		Details:   map[string]any{"session_id": sessionID, "reason": reason},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		logging.L(ctx).Error("failed to record hijack flag", "error", err, "session_id", sessionID)
	}
}
