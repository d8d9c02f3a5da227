// Package logging writes structured JSONL logs partitioned by category and
// component under logs/<category>/<component>.jsonl, with rotation handled
// by lumberjack.
package logging

import (
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return Level(s)
	default:
		return LevelInfo
	}
}

// Entry is one log line. Component-specific fields ride in Fields and are
// flattened into the emitted object.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     Level          `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"-"`
}

// Logger emits JSONL entries for one component. With returns child loggers
// carrying bound fields (trace_id, entity_id, ...).
type Logger struct {
	mu        *sync.Mutex
	w         io.Writer
	component string
	min       Level
	bound     map[string]any
	now       func() time.Time
}

// New returns a logger writing to w. w may be shared across loggers; writes
// are serialized through the logger's mutex.
func New(w io.Writer, component string, min Level) *Logger {
	return &Logger{
		mu:        &sync.Mutex{},
		w:         w,
		component: component,
		min:       min,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// With returns a child logger that adds fields to every entry. The child
// shares the parent's writer and mutex.
func (l *Logger) With(fields map[string]any) *Logger {
	merged := make(map[string]any, len(l.bound)+len(fields))
	for k, v := range l.bound {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	child := *l
	child.bound = merged
	return &child
}

// WithTrace binds a trace_id to every entry.
func (l *Logger) WithTrace(traceID string) *Logger {
	return l.With(map[string]any{"trace_id": traceID})
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.emit(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.emit(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.emit(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.emit(LevelError, msg, fields) }

func (l *Logger) emit(level Level, msg string, fields map[string]any) {
	if l == nil || l.w == nil {
		return
	}
	if levelRank[level] < levelRank[l.min] {
		return
	}
	obj := make(map[string]any, 4+len(l.bound)+len(fields))
	for k, v := range l.bound {
		obj[k] = v
	}
	for k, v := range fields {
		obj[k] = v
	}
	obj["timestamp"] = l.now().Format(time.RFC3339Nano)
	obj["level"] = string(level)
	obj["component"] = l.component
	obj["message"] = msg

	line, err := json.Marshal(obj)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(append(line, '\n'))
}

// Manager hands out per-component loggers backed by rotating files under
// <root>/logs/<category>/<component>.jsonl. Writers are shared per file.
type Manager struct {
	mu      sync.Mutex
	root    string
	min     Level
	writers map[string]io.Writer
}

// NewManager creates a manager rooted at the vault directory.
func NewManager(vaultRoot string, min Level) *Manager {
	return &Manager{root: vaultRoot, min: min, writers: make(map[string]io.Writer)}
}

// Logger returns the logger for category/component, creating the rotating
// file writer on first use.
func (m *Manager) Logger(category, component string) *Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := filepath.Join(m.root, "logs", category, component+".jsonl")
	w, ok := m.writers[path]
	if !ok {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     90, // days
		}
		m.writers[path] = w
	}
	return New(w, component, m.min)
}
