// Package audit records discrete security actions as an append-only trail.
//
// Audit entries are distinct from fingerprint events: they record actions
// (registration, login, logout, hijack flags, order creation), not scoring
// telemetry. Entries are never mutated after insert.
package audit

import (
	"context"
	"time"
)

// Well-known actions.
const (
	ActionUserRegister     = "user_register"
	ActionUserLogin        = "user_login"
	ActionUserLogout       = "user_logout"
	ActionOrderCreated     = "order_created"
	ActionHijackingFlagged = "session_hijacking_detected"
)

// Entry is one audit log row. SessionID and UserID are optional: actions
// like registration happen before any session exists.
type Entry struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Details   map[string]any `json:"details,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Status    string         `json:"status,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	// ListBySession returns a session's entries newest-first. limit > 0 caps
	// the result; zero or negative means unbounded.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*Entry, error)
}
