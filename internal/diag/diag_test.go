package diag

import (
	"os"
	"path/filepath"
	"testing"
)

func writeLog(t *testing.T, root, category, component, content string) {
	t.Helper()
	dir := filepath.Join(root, "logs", category)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, component+".jsonl"), []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestQueryFilters(t *testing.T) {
	root := t.TempDir()
	writeLog(t, root, "core", "vault",
		`{"timestamp":"2025-01-15T09:30:00Z","level":"info","component":"vault","trace_id":"t-1","message":"created"}
{"timestamp":"2025-01-15T09:31:00Z","level":"error","component":"vault","trace_id":"t-2","message":"failed"}
`)
	writeLog(t, root, "pipelines", "inbox",
		`{"timestamp":"2025-01-15T09:32:00Z","level":"info","component":"inbox","trace_id":"t-1","message":"routed"}
`)

	q := New(root)

	all, err := q.Query(Filter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("all = %d (%v)", len(all), err)
	}

	byTrace, err := q.Query(Filter{TraceID: "t-1"})
	if err != nil || len(byTrace) != 2 {
		t.Errorf("trace filter = %d (%v)", len(byTrace), err)
	}

	byLevel, err := q.Query(Filter{Level: "error"})
	if err != nil || len(byLevel) != 1 {
		t.Errorf("level filter = %d (%v)", len(byLevel), err)
	}

	byComponent, err := q.Query(Filter{Component: "inbox"})
	if err != nil || len(byComponent) != 1 {
		t.Errorf("component filter = %d (%v)", len(byComponent), err)
	}

	byCategory, err := q.Query(Filter{Category: "core"})
	if err != nil || len(byCategory) != 2 {
		t.Errorf("category filter = %d (%v)", len(byCategory), err)
	}
}

func TestQueryToleratesPartialFinalLine(t *testing.T) {
	root := t.TempDir()
	writeLog(t, root, "core", "vault",
		`{"timestamp":"2025-01-15T09:30:00Z","level":"info","component":"vault","message":"ok"}
{"timestamp":"2025-01-15T09:31:00Z","level":"info","compo`)

	q := New(root)
	records, err := q.Query(Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %d, want 1 (partial line skipped)", len(records))
	}
}

func TestTailReturnsMostRecent(t *testing.T) {
	root := t.TempDir()
	writeLog(t, root, "core", "vault",
		`{"timestamp":"2025-01-15T09:30:00Z","level":"info","message":"one"}
{"timestamp":"2025-01-15T09:31:00Z","level":"info","message":"two"}
{"timestamp":"2025-01-15T09:32:00Z","level":"info","message":"three"}
`)
	q := New(root)
	records, err := q.Tail(Filter{}, 2)
	if err != nil || len(records) != 2 {
		t.Fatalf("tail = %d (%v)", len(records), err)
	}
	if records[0].Fields["message"] != "two" || records[1].Fields["message"] != "three" {
		t.Errorf("tail window wrong: %v", records)
	}
}

func TestStats(t *testing.T) {
	root := t.TempDir()
	writeLog(t, root, "core", "vault",
		`{"timestamp":"2025-01-15T09:30:00Z","level":"info","component":"vault","message":"ok"}
{"timestamp":"2025-01-15T09:31:00Z","level":"error","component":"vault","message":"bad"}
`)
	q := New(root)
	stats, err := q.Stats(Filter{})
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalLines != 2 || stats.Errors != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByLevel["info"] != 1 || stats.ByComponent["vault"] != 2 {
		t.Errorf("breakdowns = %+v", stats)
	}
}

func TestQueryEmptyVault(t *testing.T) {
	q := New(t.TempDir())
	records, err := q.Query(Filter{})
	if err != nil || len(records) != 0 {
		t.Errorf("empty vault query = %v (%v)", records, err)
	}
}
