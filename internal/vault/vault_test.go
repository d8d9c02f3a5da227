package vault_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/werserk/kira/internal/testutil"
	"github.com/werserk/kira/internal/types"
	"github.com/werserk/kira/internal/vault"
)

func TestCreateTask(t *testing.T) {
	h := testutil.NewVault(t)
	capture := testutil.Capture(h.Bus)

	entity, err := h.Vault.Create(types.EntityTask, map[string]any{"title": "Write tests"}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if entity.Status() != types.StatusTodo {
		t.Errorf("status = %s, want todo", entity.Status())
	}
	if !entity.CreatedAt.Equal(entity.UpdatedAt) {
		t.Errorf("created_at != updated_at on create")
	}

	path := filepath.Join(h.Root, "tasks", entity.ID+".md")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("entity file missing: %v", err)
	}

	created := capture.Named("entity.created")
	if len(created) != 1 {
		t.Fatalf("entity.created events = %d, want 1", len(created))
	}
	if created[0].Payload["entity_id"] != entity.ID {
		t.Errorf("event payload = %v", created[0].Payload)
	}
}

func TestCreateRequiresTitle(t *testing.T) {
	h := testutil.NewVault(t)
	_, err := h.Vault.Create(types.EntityTask, map[string]any{}, "")
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestCreateDuplicateID(t *testing.T) {
	h := testutil.NewVault(t)
	if _, err := h.Vault.Create(types.EntityTask, map[string]any{"id": "task-x", "title": "First"}, ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := h.Vault.Create(types.EntityTask, map[string]any{"id": "task-x", "title": "Second"}, "")
	var dup *types.DuplicateIDError
	if !errors.As(err, &dup) {
		t.Fatalf("want DuplicateIDError, got %v", err)
	}
}

func TestIDUniquenessAcrossCreates(t *testing.T) {
	h := testutil.NewVault(t)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		entity, err := h.Vault.Create(types.EntityTask, map[string]any{"title": fmt.Sprintf("Task %d", i)}, "")
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
		if seen[entity.ID] {
			t.Fatalf("duplicate id minted: %s", entity.ID)
		}
		seen[entity.ID] = true
	}
}

func TestGuardFailureLeavesFileUntouched(t *testing.T) {
	h := testutil.NewVault(t)
	entity, err := h.Vault.Create(types.EntityTask, map[string]any{"title": "Write tests"}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	path := filepath.Join(h.Root, "tasks", entity.ID+".md")
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	// todo -> doing with no assignee or start_ts: NeedsAssignment.
	_, err = h.Vault.Update(entity.ID, map[string]any{"status": "doing"})
	var guard *types.FSMGuardError
	if !errors.As(err, &guard) || guard.Code != types.GuardNeedsAssignment {
		t.Fatalf("want NeedsAssignment, got %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(before) != string(after) {
		t.Error("guard failure modified the file")
	}
}

func TestTransitionWithAssignee(t *testing.T) {
	h := testutil.NewVault(t)
	capture := testutil.Capture(h.Bus)
	entity, err := h.Vault.Create(types.EntityTask, map[string]any{"title": "Write tests"}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	h.Clock.Advance(time.Minute)
	updated, err := h.Vault.Update(entity.ID, map[string]any{"status": "doing", "assignee": "alice"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Status() != types.StatusDoing {
		t.Errorf("status = %s", updated.Status())
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Error("updated_at did not advance past created_at")
	}
	if events := capture.Named("task.enter_doing"); len(events) != 1 {
		t.Errorf("task.enter_doing events = %d, want 1", len(events))
	}
}

func TestTransitionToDoneAugmentsPatch(t *testing.T) {
	h := testutil.NewVault(t)
	entity, err := h.Vault.Create(types.EntityTask,
		map[string]any{"title": "Write tests", "assignee": "alice", "estimate": "2h"}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := h.Vault.Update(entity.ID, map[string]any{"status": "doing"}); err != nil {
		t.Fatalf("to doing failed: %v", err)
	}
	done, err := h.Vault.Update(entity.ID, map[string]any{"status": "done"})
	if err != nil {
		t.Fatalf("to done failed: %v", err)
	}
	if done.MetaString("done_ts") == "" {
		t.Error("done_ts not stamped")
	}
	if !done.MetaBool("estimate_frozen") {
		t.Error("estimate_frozen not set")
	}
}

func TestUpdatedAtStrictlyIncreases(t *testing.T) {
	h := testutil.NewVault(t)
	entity, err := h.Vault.Create(types.EntityTask, map[string]any{"title": "Write tests"}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// The fake clock does not advance; updated_at must still move forward.
	updated, err := h.Vault.Update(entity.ID, map[string]any{"assignee": "alice"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.UpdatedAt.After(entity.UpdatedAt) {
		t.Errorf("updated_at did not strictly increase: %v -> %v", entity.UpdatedAt, updated.UpdatedAt)
	}
}

func TestDelete(t *testing.T) {
	h := testutil.NewVault(t)
	capture := testutil.Capture(h.Bus)
	entity, err := h.Vault.Create(types.EntityTask, map[string]any{"title": "Write tests"}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := h.Vault.Delete(entity.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := h.Vault.Get(entity.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(h.Root, "tasks", entity.ID+".md")); !os.IsNotExist(err) {
		t.Error("file survived delete")
	}
	if events := capture.Named("entity.deleted"); len(events) != 1 {
		t.Errorf("entity.deleted events = %d, want 1", len(events))
	}
}

func TestLinkIndex(t *testing.T) {
	h := testutil.NewVault(t)
	b, err := h.Vault.Create(types.EntityTask, map[string]any{"id": "task-b", "title": "B"}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	a, err := h.Vault.Create(types.EntityTask,
		map[string]any{"id": "task-a", "title": "A", "depends_on": []string{"task-b"}},
		"See [[task-b]] for details.\n")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	out, err := h.Vault.QueryLinks(a.ID, types.LinkOut)
	if err != nil {
		t.Fatalf("QueryLinks failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("outgoing links = %v", out)
	}
	typesSeen := map[types.LinkType]bool{}
	for _, l := range out {
		if l.Target != "task-b" || l.Broken {
			t.Errorf("link = %+v", l)
		}
		typesSeen[l.Type] = true
	}
	if !typesSeen[types.LinkWikilink] || !typesSeen[types.LinkDependsOn] {
		t.Errorf("link types = %v", typesSeen)
	}

	in, err := h.Vault.QueryLinks(b.ID, types.LinkIn)
	if err != nil {
		t.Fatalf("QueryLinks failed: %v", err)
	}
	if len(in) != 2 || in[0].Source != "task-a" {
		t.Errorf("incoming links = %v", in)
	}

	// Rewriting the body re-derives the index.
	if _, err := h.Vault.Update(a.ID, map[string]any{"body": "No more links.\n", "depends_on": nil}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	out, _ = h.Vault.QueryLinks(a.ID, types.LinkOut)
	if len(out) != 0 {
		t.Errorf("links survived body rewrite: %v", out)
	}
}

func TestBrokenLinkIndexedNotRejected(t *testing.T) {
	h := testutil.NewVault(t)
	a, err := h.Vault.Create(types.EntityTask, map[string]any{"title": "A"}, "See [[task-ghost]].\n")
	if err != nil {
		t.Fatalf("Create with broken link rejected: %v", err)
	}
	out, _ := h.Vault.QueryLinks(a.ID, types.LinkOut)
	if len(out) != 1 || !out[0].Broken {
		t.Errorf("broken link not flagged: %v", out)
	}
}

func TestSelfLinkRejected(t *testing.T) {
	h := testutil.NewVault(t)
	_, err := h.Vault.Create(types.EntityTask,
		map[string]any{"id": "task-self", "title": "Self", "depends_on": []string{"task-self"}}, "")
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("self-link accepted: %v", err)
	}
}

func TestCrashBeforeRenameLeavesTargetUntouched(t *testing.T) {
	h := testutil.NewVault(t)
	entity, err := h.Vault.Create(types.EntityTask, map[string]any{"title": "Write tests"}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	path := filepath.Join(h.Root, "tasks", entity.ID+".md")
	before, _ := os.ReadFile(path)

	injected := errors.New("injected crash")
	h.Vault.SetFailBeforeCommit(func() error { return injected })
	_, err = h.Vault.Update(entity.ID, map[string]any{"assignee": "alice"})
	if !errors.Is(err, injected) {
		t.Fatalf("crash not surfaced: %v", err)
	}
	h.Vault.SetFailBeforeCommit(nil)

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("target changed despite crash before rename")
	}

	// The in-memory view matches the file.
	got, err := h.Vault.Get(entity.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MetaString("assignee") != "" {
		t.Error("aborted patch visible in memory")
	}
}

func TestRoundTripAfterUpdatePreservesKeyOrder(t *testing.T) {
	h := testutil.NewVault(t)
	entity, err := h.Vault.Create(types.EntityTask,
		map[string]any{"title": "Write tests", "assignee": "alice"}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	path := filepath.Join(h.Root, "tasks", entity.ID+".md")
	before, _ := os.ReadFile(path)

	if _, err := h.Vault.Update(entity.ID, map[string]any{"assignee": "bob"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	after, _ := os.ReadFile(path)

	// Only the assignee and updated_at lines may differ.
	beforeLines := string(before)
	afterLines := string(after)
	if len(beforeLines) == 0 || len(afterLines) == 0 {
		t.Fatal("empty files")
	}
	if countLineDiffs(t, beforeLines, afterLines) != 2 {
		t.Errorf("unexpected diff:\n--- before ---\n%s\n--- after ---\n%s", beforeLines, afterLines)
	}
}

func countLineDiffs(t *testing.T, a, b string) int {
	t.Helper()
	as := splitLines(a)
	bs := splitLines(b)
	if len(as) != len(bs) {
		t.Fatalf("line counts differ: %d vs %d", len(as), len(bs))
	}
	diffs := 0
	for i := range as {
		if as[i] != bs[i] {
			diffs++
		}
	}
	return diffs
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func TestHydrateRestoresState(t *testing.T) {
	h := testutil.NewVault(t)
	a, err := h.Vault.Create(types.EntityTask,
		map[string]any{"id": "task-a", "title": "A", "depends_on": []string{"task-b"}}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := h.Vault.Create(types.EntityTask, map[string]any{"id": "task-b", "title": "B"}, ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := h.Vault.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := vault.Open(h.Root, vault.Options{Clock: h.Clock})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get(a.ID)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Title != "A" {
		t.Errorf("title = %q", got.Title)
	}
	links, err := reopened.QueryLinks("task-a", types.LinkOut)
	if err != nil || len(links) != 1 {
		t.Errorf("links after rehydration = %v (%v)", links, err)
	}
}

func TestSecondOpenFailsLocked(t *testing.T) {
	h := testutil.NewVault(t)
	_, err := vault.Open(h.Root, vault.Options{Clock: h.Clock})
	if !errors.Is(err, types.ErrLocked) {
		t.Errorf("second open = %v, want ErrLocked", err)
	}
}

func TestListFilter(t *testing.T) {
	h := testutil.NewVault(t)
	if _, err := h.Vault.Create(types.EntityTask,
		map[string]any{"id": "task-1", "title": "One", "tags": []string{"work"}}, ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := h.Vault.Create(types.EntityTask,
		map[string]any{"id": "task-2", "title": "Two"}, ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := h.Vault.Create(types.EntityNote, map[string]any{"id": "note-1", "title": "Note"}, ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	tasks := h.Vault.List(types.EntityFilter{Type: types.EntityTask})
	if len(tasks) != 2 {
		t.Errorf("tasks = %d", len(tasks))
	}
	tagged := h.Vault.List(types.EntityFilter{Tag: "work"})
	if len(tagged) != 1 || tagged[0].ID != "task-1" {
		t.Errorf("tagged = %v", tagged)
	}
	limited := h.Vault.List(types.EntityFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limited = %d", len(limited))
	}
}
