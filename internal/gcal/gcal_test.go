package gcal

import (
	"context"
	"testing"
	"time"

	"github.com/werserk/kira/internal/testutil"
	"github.com/werserk/kira/internal/types"
)

type fakeRemote struct {
	events  []RemoteEvent
	upserts []RemoteEvent
	nextID  int
}

func (f *fakeRemote) List(_ context.Context, _, _ time.Time) ([]RemoteEvent, error) {
	return f.events, nil
}

func (f *fakeRemote) Upsert(_ context.Context, ev RemoteEvent) (string, error) {
	f.upserts = append(f.upserts, ev)
	if ev.ID != "" {
		return ev.ID, nil
	}
	f.nextID++
	return "remote-" + string(rune('a'+f.nextID-1)), nil
}

func (f *fakeRemote) Delete(_ context.Context, _ string) error { return nil }

func TestReconcilePullsNewRemoteEvents(t *testing.T) {
	h := testutil.NewVault(t)
	r := New(h.Vault, nil, h.Clock, nil)
	remote := &fakeRemote{events: []RemoteEvent{{
		ID:      "g-1",
		Title:   "Standup",
		Start:   time.Date(2025, 1, 16, 10, 0, 0, 0, time.UTC),
		End:     time.Date(2025, 1, 16, 10, 30, 0, 0, time.UTC),
		Updated: time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC),
	}}}

	result, err := r.Reconcile(context.Background(), remote, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Pulled != 1 {
		t.Errorf("result = %+v", result)
	}

	events := h.Vault.List(types.EntityFilter{Type: types.EntityEvent})
	if len(events) != 1 {
		t.Fatalf("events in vault = %d", len(events))
	}
	if events[0].MetaString("gcal_id") != "g-1" {
		t.Errorf("gcal_id = %q", events[0].MetaString("gcal_id"))
	}
}

func TestReconcilePushesLocalOnlyEvents(t *testing.T) {
	h := testutil.NewVault(t)
	r := New(h.Vault, nil, h.Clock, nil)
	if _, err := h.Vault.Create(types.EntityEvent, map[string]any{
		"title": "Dentist",
		"start": "2025-01-20T14:00:00Z",
		"end":   "2025-01-20T15:00:00Z",
	}, ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	remote := &fakeRemote{}
	result, err := r.Reconcile(context.Background(), remote, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Pushed != 1 || len(remote.upserts) != 1 {
		t.Errorf("result = %+v, upserts = %d", result, len(remote.upserts))
	}

	events := h.Vault.List(types.EntityFilter{Type: types.EntityEvent})
	if events[0].MetaString("gcal_id") == "" {
		t.Error("remote ID not recorded after push")
	}
	if events[0].MetaString("gcal_last_synced") == "" {
		t.Error("gcal_last_synced not recorded")
	}
}

func TestReconcileLastWriterWinsRemoteNewer(t *testing.T) {
	h := testutil.NewVault(t)
	r := New(h.Vault, nil, h.Clock, nil)
	if _, err := h.Vault.Create(types.EntityEvent, map[string]any{
		"title":   "Old title",
		"start":   "2025-01-20T14:00:00Z",
		"end":     "2025-01-20T15:00:00Z",
		"gcal_id": "g-1",
	}, ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	remote := &fakeRemote{events: []RemoteEvent{{
		ID:      "g-1",
		Title:   "New title",
		Start:   time.Date(2025, 1, 20, 14, 0, 0, 0, time.UTC),
		End:     time.Date(2025, 1, 20, 15, 0, 0, 0, time.UTC),
		Updated: h.Clock.Now().Add(time.Hour), // remote edited later
	}}}

	result, err := r.Reconcile(context.Background(), remote, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Updated != 1 {
		t.Errorf("result = %+v", result)
	}
	events := h.Vault.List(types.EntityFilter{Type: types.EntityEvent})
	if events[0].Title != "New title" {
		t.Errorf("title = %q, want remote's", events[0].Title)
	}
}

func TestReconcileLastWriterWinsLocalNewer(t *testing.T) {
	h := testutil.NewVault(t)
	r := New(h.Vault, nil, h.Clock, nil)
	if _, err := h.Vault.Create(types.EntityEvent, map[string]any{
		"title":   "Local title",
		"start":   "2025-01-20T14:00:00Z",
		"end":     "2025-01-20T15:00:00Z",
		"gcal_id": "g-1",
	}, ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	remote := &fakeRemote{events: []RemoteEvent{{
		ID:      "g-1",
		Title:   "Stale remote title",
		Start:   time.Date(2025, 1, 20, 14, 0, 0, 0, time.UTC),
		End:     time.Date(2025, 1, 20, 15, 0, 0, 0, time.UTC),
		Updated: h.Clock.Now().Add(-time.Hour), // remote is older
	}}}

	result, err := r.Reconcile(context.Background(), remote, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Pushed != 1 || len(remote.upserts) != 1 {
		t.Errorf("result = %+v", result)
	}
	if remote.upserts[0].Title != "Local title" {
		t.Errorf("pushed title = %q", remote.upserts[0].Title)
	}
	events := h.Vault.List(types.EntityFilter{Type: types.EntityEvent})
	if events[0].Title != "Local title" {
		t.Errorf("local title lost: %q", events[0].Title)
	}
}
