package dedupe

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/werserk/kira/internal/clock"
)

func openStore(t *testing.T) (*Store, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC))
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "dedupe.db"), c)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, c
}

func TestNormalizeSortsAndStripsTimingKeys(t *testing.T) {
	a := map[string]any{
		"text":        "hi",
		"user":        "alice",
		"received_at": "2025-01-15T09:00:00Z",
		"trace_id":    "t-1",
	}
	b := map[string]any{
		"user":         "alice",
		"text":         "hi",
		"processed_at": "2025-01-15T09:05:00Z",
		"retry_count":  3,
	}
	if Normalize(a) != Normalize(b) {
		t.Errorf("normalization differs:\n%s\n%s", Normalize(a), Normalize(b))
	}
	if Normalize(a) != `{"text":"hi","user":"alice"}` {
		t.Errorf("normalized form = %s", Normalize(a))
	}
}

func TestGenerateEventIDDeterministic(t *testing.T) {
	// Same logical telegram message delivered twice with different
	// receive timestamps.
	first := GenerateEventID("telegram", "msg-123", map[string]any{"text": "hi", "received_at": "T1"})
	second := GenerateEventID("telegram", "msg-123", map[string]any{"received_at": "T2", "text": "hi"})
	if first != second {
		t.Errorf("event IDs differ: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("event ID length = %d, want 64 hex chars", len(first))
	}

	other := GenerateEventID("telegram", "msg-124", map[string]any{"text": "hi"})
	if other == first {
		t.Error("different external_id produced the same event ID")
	}
}

func TestMarkSeenAtMostOnce(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	eventID := GenerateEventID("telegram", "msg-123", map[string]any{"text": "hi"})

	const n = 5
	firsts := 0
	for i := 0; i < n; i++ {
		first, err := store.MarkSeen(ctx, eventID, MarkOptions{Source: "telegram", ExternalID: "msg-123"})
		if err != nil {
			t.Fatalf("MarkSeen failed: %v", err)
		}
		if first {
			firsts++
		}
	}
	if firsts != 1 {
		t.Errorf("MarkSeen returned true %d times, want exactly once", firsts)
	}

	info, err := store.GetEventInfo(ctx, eventID)
	if err != nil {
		t.Fatalf("GetEventInfo failed: %v", err)
	}
	if info == nil || info.SeenCount != n {
		t.Errorf("seen_count = %+v, want %d", info, n)
	}
	if info.Source != "telegram" || info.ExternalID != "msg-123" {
		t.Errorf("provenance = %q/%q", info.Source, info.ExternalID)
	}
}

func TestIsDuplicate(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	dup, err := store.IsDuplicate(ctx, "unseen")
	if err != nil || dup {
		t.Errorf("IsDuplicate(unseen) = %v, %v", dup, err)
	}
	if _, err := store.MarkSeen(ctx, "seen-1", MarkOptions{}); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	dup, err = store.IsDuplicate(ctx, "seen-1")
	if err != nil || !dup {
		t.Errorf("IsDuplicate(seen) = %v, %v", dup, err)
	}
}

func TestGetEventInfoUnseen(t *testing.T) {
	store, _ := openStore(t)
	info, err := store.GetEventInfo(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetEventInfo failed: %v", err)
	}
	if info != nil {
		t.Errorf("info for unseen event = %+v", info)
	}
}

func TestCleanupOldEvents(t *testing.T) {
	store, c := openStore(t)
	ctx := context.Background()

	if _, err := store.MarkSeen(ctx, "old", MarkOptions{}); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	c.Advance(40 * 24 * time.Hour)
	if _, err := store.MarkSeen(ctx, "fresh", MarkOptions{}); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}

	deleted, err := store.CleanupOldEvents(ctx, DefaultTTLDays)
	if err != nil {
		t.Fatalf("CleanupOldEvents failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if dup, _ := store.IsDuplicate(ctx, "old"); dup {
		t.Error("expired event still present")
	}
	if dup, _ := store.IsDuplicate(ctx, "fresh"); !dup {
		t.Error("fresh event swept")
	}
}

func TestStats(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.MarkSeen(ctx, "tg-1", MarkOptions{Source: "telegram"}); err != nil {
			t.Fatalf("MarkSeen failed: %v", err)
		}
	}
	if _, err := store.MarkSeen(ctx, "cal-1", MarkOptions{Source: "gcal"}); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalEvents != 2 || stats.TotalSightings != 4 || stats.Duplicates != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.DuplicateRate != 0.5 {
		t.Errorf("duplicate rate = %v, want 0.5", stats.DuplicateRate)
	}
	if stats.BySource["telegram"] != 1 || stats.BySource["gcal"] != 1 {
		t.Errorf("by source = %v", stats.BySource)
	}
}
