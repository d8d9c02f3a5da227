package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func parseLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			t.Fatalf("line is not JSON: %q", line)
		}
		out = append(out, fields)
	}
	return out
}

func TestEntryShape(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "vault", LevelDebug)
	log.Info("entity created", map[string]any{"entity_id": "task-1", "latency_ms": 3})

	lines := parseLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines = %d", len(lines))
	}
	e := lines[0]
	if e["level"] != "info" || e["component"] != "vault" || e["message"] != "entity created" {
		t.Errorf("entry = %v", e)
	}
	if e["entity_id"] != "task-1" {
		t.Errorf("custom field lost: %v", e)
	}
	if e["timestamp"] == "" {
		t.Error("missing timestamp")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "vault", LevelWarn)
	log.Debug("hidden", nil)
	log.Info("hidden", nil)
	log.Warn("shown", nil)
	log.Error("shown", nil)
	if lines := parseLines(t, &buf); len(lines) != 2 {
		t.Errorf("lines = %d, want 2", len(lines))
	}
}

func TestBoundFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "vault", LevelDebug).WithTrace("t-1").With(map[string]any{"entity_id": "task-9"})
	log.Info("x", nil)

	lines := parseLines(t, &buf)
	if lines[0]["trace_id"] != "t-1" || lines[0]["entity_id"] != "task-9" {
		t.Errorf("bound fields missing: %v", lines[0])
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != LevelDebug || ParseLevel("nope") != LevelInfo {
		t.Error("ParseLevel mapping wrong")
	}
}
