// Package audit writes the append-only command audit trail: one JSONL line
// per CLI or agent command, partitioned by UTC date under
// artifacts/audit/audit-YYYY-MM-DD.jsonl.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/werserk/kira/internal/clock"
)

// Entry is one audited command invocation.
type Entry struct {
	TraceID   string    `json:"trace_id"`
	CreatedAt time.Time `json:"created_at"`
	Command   string    `json:"command"`
	Args      []string  `json:"args,omitempty"`
	Result    string    `json:"result,omitempty"`
	ExitCode  int       `json:"exit_code"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Logger appends audit entries under the vault's artifacts directory.
type Logger struct {
	root  string
	clock clock.Clock
}

// New returns an audit logger for the vault at root.
func New(root string, c clock.Clock) *Logger {
	if c == nil {
		c = clock.System{}
	}
	return &Logger{root: root, clock: c}
}

// Path returns the audit file for the given UTC date.
func (l *Logger) Path(t time.Time) string {
	name := fmt.Sprintf("audit-%s.jsonl", t.UTC().Format("2006-01-02"))
	return filepath.Join(l.root, "artifacts", "audit", name)
}

// Append writes e as a single JSON line. The file never rotates mid-write;
// readers must tolerate a final partial line after a crash.
func (l *Logger) Append(e *Entry) error {
	if e == nil {
		return fmt.Errorf("nil entry")
	}
	if e.Command == "" {
		return fmt.Errorf("command is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.clock.Now()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}

	p := l.Path(e.CreatedAt)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit log: %w", err)
	}
	return nil
}

// Read returns the entries for one UTC date, skipping a truncated final
// line if present.
func (l *Logger) Read(date time.Time) ([]*Entry, error) {
	f, err := os.Open(l.Path(date))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// Partial final line from an interrupted writer.
			continue
		}
		entries = append(entries, &e)
	}
	return entries, scanner.Err()
}
