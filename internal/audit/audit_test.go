package audit

import (
	"os"
	"testing"
	"time"

	"github.com/werserk/kira/internal/clock"
)

func TestAppendAndRead(t *testing.T) {
	root := t.TempDir()
	c := clock.NewFake(time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC))
	l := New(root, c)

	entries := []*Entry{
		{TraceID: "t-1", Command: "task", Args: []string{"create", "--title", "X"}, Result: "success", ExitCode: 0},
		{TraceID: "t-2", Command: "validate", Result: "error(2)", ExitCode: 2},
	}
	for _, e := range entries {
		if err := l.Append(e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := l.Read(c.Now())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d", len(got))
	}
	if got[0].TraceID != "t-1" || got[0].ExitCode != 0 {
		t.Errorf("first entry = %+v", got[0])
	}
	if got[1].Command != "validate" || got[1].ExitCode != 2 {
		t.Errorf("second entry = %+v", got[1])
	}
}

func TestPartitionedByDate(t *testing.T) {
	root := t.TempDir()
	c := clock.NewFake(time.Date(2025, 1, 15, 23, 59, 0, 0, time.UTC))
	l := New(root, c)

	if err := l.Append(&Entry{TraceID: "t-1", Command: "task"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	day1 := c.Now()
	c.Advance(2 * time.Minute) // crosses midnight
	if err := l.Append(&Entry{TraceID: "t-2", Command: "task"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	first, _ := l.Read(day1)
	second, _ := l.Read(c.Now())
	if len(first) != 1 || len(second) != 1 {
		t.Errorf("partitioning wrong: day1=%d day2=%d", len(first), len(second))
	}
}

func TestReadToleratesPartialLine(t *testing.T) {
	root := t.TempDir()
	c := clock.NewFake(time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC))
	l := New(root, c)
	if err := l.Append(&Entry{TraceID: "t-1", Command: "task"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Simulate a crash mid-append.
	f, err := os.OpenFile(l.Path(c.Now()), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := f.WriteString(`{"trace_id":"t-2","comm`); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = f.Close()

	got, err := l.Read(c.Now())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("entries = %d, want 1 (partial skipped)", len(got))
	}
}

func TestAppendRequiresCommand(t *testing.T) {
	l := New(t.TempDir(), nil)
	if err := l.Append(&Entry{TraceID: "t"}); err == nil {
		t.Error("entry without command accepted")
	}
	if err := l.Append(nil); err == nil {
		t.Error("nil entry accepted")
	}
}
