package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avelar/shopfence/internal/audit"
	"github.com/avelar/shopfence/internal/fingerprint"
)

var testSecret = []byte("test-secret-at-least-16-chars")

func testFingerprintContext(platform string) *fingerprint.Context {
	return &fingerprint.Context{
		Fingerprint: &fingerprint.Record{Platform: platform, UserAgent: "ua", Language: "en-US"},
		IP:          "203.0.113.10",
		Feature:     "login",
		UserAgent:   "ua",
		Timestamp:   time.Now().UTC(),
	}
}

func TestCreateAndValidate(t *testing.T) {
	m := NewManager(NewMemoryStore(), audit.NewMemoryStore(), testSecret)
	ctx := context.Background()
	fc := testFingerprintContext("Linux x86_64")

	token, sessionID, err := m.Create(ctx, "usr_1", "alice@example.com", fc)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if token == "" || sessionID == "" {
		t.Fatal("expected token and session id")
	}

	ident, err := m.Validate(ctx, token, fc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ident.UserID != "usr_1" || ident.Email != "alice@example.com" || ident.SessionID != sessionID {
		t.Errorf("identity = %+v", ident)
	}
}

func TestValidateTamperedToken(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil, testSecret)
	ctx := context.Background()

	token, _, err := m.Create(ctx, "usr_1", "alice@example.com", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = m.Validate(ctx, token+"x", nil)
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
	if err.Error() != "invalid or compromised session" {
		t.Errorf("error message must stay opaque, got %q", err.Error())
	}
}

func TestValidateForeignToken(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Token signed with a different secret
	other := NewManager(store, nil, []byte("another-secret-16-chars-long"))
	token, _, err := other.Create(ctx, "usr_1", "alice@example.com", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m := NewManager(store, nil, testSecret)
	if _, err := m.Validate(ctx, token, nil); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
}

func TestValidateExpired(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil, testSecret).WithTTL(-time.Minute)
	ctx := context.Background()

	token, _, err := m.Create(ctx, "usr_1", "alice@example.com", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := m.Validate(ctx, token, nil); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expired token err = %v, want ErrInvalidSession", err)
	}
}

func TestRevokeIsImmediateAndIdempotent(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil, testSecret)
	ctx := context.Background()

	token, _, err := m.Create(ctx, "usr_1", "alice@example.com", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := m.Validate(ctx, token, nil); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("revoked token err = %v, want ErrInvalidSession", err)
	}
	// Idempotent
	if err := m.Revoke(ctx, token); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil, testSecret)
	ctx := context.Background()

	t1, _, _ := m.Create(ctx, "usr_1", "alice@example.com", nil)
	t2, _, _ := m.Create(ctx, "usr_1", "alice@example.com", nil)
	t3, _, _ := m.Create(ctx, "usr_2", "bob@example.com", nil)

	if err := m.RevokeAllForUser(ctx, "usr_1"); err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}

	if _, err := m.Validate(ctx, t1, nil); err == nil {
		t.Error("usr_1 session 1 still valid")
	}
	if _, err := m.Validate(ctx, t2, nil); err == nil {
		t.Error("usr_1 session 2 still valid")
	}
	if _, err := m.Validate(ctx, t3, nil); err != nil {
		t.Errorf("usr_2 session revoked: %v", err)
	}
}

func TestFingerprintMismatchIsDetectOnly(t *testing.T) {
	audits := audit.NewMemoryStore()
	m := NewManager(NewMemoryStore(), audits, testSecret)
	ctx := context.Background()

	created := testFingerprintContext("Linux x86_64")
	token, sessionID, err := m.Create(ctx, "usr_1", "alice@example.com", created)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Validation with a different fingerprint still succeeds
	drifted := testFingerprintContext("Win32")
	ident, err := m.Validate(ctx, token, drifted)
	if err != nil {
		t.Fatalf("detect-only mismatch must not fail validation: %v", err)
	}
	if ident.SessionID != sessionID {
		t.Errorf("session id = %s, want %s", ident.SessionID, sessionID)
	}

	// But it leaves a hijack-detection audit entry
	entries, err := audits.ListBySession(ctx, sessionID, 0)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Action == audit.ActionHijackingFlagged {
			found = true
		}
	}
	if !found {
		t.Error("expected a hijack-detection audit entry")
	}
}

func TestValidateWithoutFingerprintSkipsCheck(t *testing.T) {
	audits := audit.NewMemoryStore()
	m := NewManager(NewMemoryStore(), audits, testSecret)
	ctx := context.Background()

	token, sessionID, err := m.Create(ctx, "usr_1", "alice@example.com", testFingerprintContext("Linux x86_64"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// No fingerprint in the request: no mismatch, no flag
	if _, err := m.Validate(ctx, token, &fingerprint.Context{IP: "203.0.113.10"}); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	entries, _ := audits.ListBySession(ctx, sessionID, 0)
	for _, e := range entries {
		if e.Action == audit.ActionHijackingFlagged {
			t.Error("absent fingerprint must not raise a hijack flag")
		}
	}
}

// failingStore simulates a storage outage.
type failingStore struct {
	Store
}

func (f *failingStore) FindActiveByToken(ctx context.Context, token string, now time.Time) (*Session, error) {
	return nil, errors.New("connection refused")
}

func TestValidateFailsClosedOnStoreError(t *testing.T) {
	mem := NewMemoryStore()
	good := NewManager(mem, nil, testSecret)
	ctx := context.Background()

	token, _, err := good.Create(ctx, "usr_1", "alice@example.com", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	bad := NewManager(&failingStore{mem}, nil, testSecret)
	if _, err := bad.Validate(ctx, token, nil); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("store outage err = %v, want ErrInvalidSession (fail closed)", err)
	}
}

func TestResolveFastPath(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil, testSecret)
	ctx := context.Background()

	token, sessionID, err := m.Create(ctx, "usr_1", "alice@example.com", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	gotSession, gotUser, err := m.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if gotSession != sessionID || gotUser != "usr_1" {
		t.Errorf("Resolve = (%s, %s)", gotSession, gotUser)
	}

	if _, _, err := m.Resolve(ctx, "unknown-token"); err == nil {
		t.Error("unknown token must not resolve")
	}
}

func TestActiveSessions(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil, testSecret)
	ctx := context.Background()

	t1, _, _ := m.Create(ctx, "usr_1", "alice@example.com", nil)
	_, _, _ = m.Create(ctx, "usr_1", "alice@example.com", nil)

	list, err := m.ActiveSessions(ctx, "usr_1")
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("active sessions = %d, want 2", len(list))
	}

	_ = m.Revoke(ctx, t1)
	list, _ = m.ActiveSessions(ctx, "usr_1")
	if len(list) != 1 {
		t.Fatalf("after revoke active sessions = %d, want 1", len(list))
	}
}
