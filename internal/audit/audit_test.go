package audit

import (
	"context"
	"testing"
	"time"
)

func entry(id, sessionID, action string, at time.Time) *Entry {
	return &Entry{
		ID:        id,
		SessionID: sessionID,
		Action:    action,
		Resource:  "session",
		CreatedAt: at,
	}
}

func TestMemoryStoreListBySession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	_ = store.Insert(ctx, entry("aud_1", "sess_1", ActionUserLogin, now.Add(-2*time.Minute)))
	_ = store.Insert(ctx, entry("aud_2", "sess_2", ActionUserLogin, now.Add(-time.Minute)))
	_ = store.Insert(ctx, entry("aud_3", "sess_1", ActionUserLogout, now))

	entries, err := store.ListBySession(ctx, "sess_1", 0)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// Newest first
	if entries[0].ID != "aud_3" || entries[1].ID != "aud_1" {
		t.Errorf("order = %s, %s", entries[0].ID, entries[1].ID)
	}
}

func TestMemoryStoreLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = store.Insert(ctx, entry("aud_"+string(rune('a'+i)), "sess_1", ActionUserLogin, time.Now()))
	}

	entries, _ := store.ListBySession(ctx, "sess_1", 3)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3 (limit)", len(entries))
	}
}

func TestMemoryStoreCopiesEntries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	e := entry("aud_1", "sess_1", ActionHijackingFlagged, time.Now())
	_ = store.Insert(ctx, e)

	// Mutating the inserted value must not reach the stored copy
	e.Action = "tampered"

	entries, _ := store.ListBySession(ctx, "sess_1", 0)
	if entries[0].Action != ActionHijackingFlagged {
		t.Errorf("stored entry mutated: %s", entries[0].Action)
	}
}
