// Package diag queries the structured JSONL logs for end-to-end trace
// inspection: tailing, filtering, and summary statistics.
package diag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Filter narrows a log query. Zero values match everything.
type Filter struct {
	Category  string
	Component string
	TraceID   string
	EntityID  string
	Level     string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Record is one parsed log line plus its origin file.
type Record struct {
	File   string         `json:"file"`
	Fields map[string]any `json:"fields"`
}

// Stats summarizes a query result.
type Stats struct {
	TotalLines  int            `json:"total_lines"`
	ByLevel     map[string]int `json:"by_level"`
	ByComponent map[string]int `json:"by_component"`
	Errors      int            `json:"errors"`
}

// Querier reads logs/<category>/<component>.jsonl under the vault root.
type Querier struct {
	root string
}

// New returns a querier for the vault at root.
func New(root string) *Querier {
	return &Querier{root: root}
}

// Query returns matching records, oldest first. A truncated final line
// (from a writer interrupted mid-append) is skipped silently.
func (q *Querier) Query(f Filter) ([]Record, error) {
	files, err := q.logFiles(f)
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, path := range files {
		records, err := readRecords(path, f)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, _ := out[i].Fields["timestamp"].(string)
		tj, _ := out[j].Fields["timestamp"].(string)
		return ti < tj
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// Tail returns the most recent n matching records.
func (q *Querier) Tail(f Filter, n int) ([]Record, error) {
	f.Limit = n
	return q.Query(f)
}

// Stats aggregates level/component counts over the matching records.
func (q *Querier) Stats(f Filter) (*Stats, error) {
	f.Limit = 0
	records, err := q.Query(f)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		ByLevel:     make(map[string]int),
		ByComponent: make(map[string]int),
	}
	for _, r := range records {
		stats.TotalLines++
		if level, _ := r.Fields["level"].(string); level != "" {
			stats.ByLevel[level]++
			if level == "error" {
				stats.Errors++
			}
		}
		if component, _ := r.Fields["component"].(string); component != "" {
			stats.ByComponent[component]++
		}
	}
	return stats, nil
}

func (q *Querier) logFiles(f Filter) ([]string, error) {
	logsDir := filepath.Join(q.root, "logs")
	var files []string
	err := filepath.WalkDir(logsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		rel, relErr := filepath.Rel(logsDir, path)
		if relErr != nil {
			return relErr
		}
		category := filepath.Dir(rel)
		component := strings.TrimSuffix(filepath.Base(rel), ".jsonl")
		if f.Category != "" && category != f.Category {
			return nil
		}
		if f.Component != "" && component != f.Component {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to scan logs: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func readRecords(path string, f Filter) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	var out []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(line, &fields); err != nil {
			continue
		}
		if !matches(fields, f) {
			continue
		}
		out = append(out, Record{File: path, Fields: fields})
	}
	return out, scanner.Err()
}

func matches(fields map[string]any, f Filter) bool {
	if f.TraceID != "" {
		if id, _ := fields["trace_id"].(string); id != f.TraceID {
			return false
		}
	}
	if f.EntityID != "" {
		if id, _ := fields["entity_id"].(string); id != f.EntityID {
			return false
		}
	}
	if f.Level != "" {
		if level, _ := fields["level"].(string); level != f.Level {
			return false
		}
	}
	if !f.Since.IsZero() || !f.Until.IsZero() {
		ts, _ := fields["timestamp"].(string)
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return false
		}
		if !f.Since.IsZero() && t.Before(f.Since) {
			return false
		}
		if !f.Until.IsZero() && t.After(f.Until) {
			return false
		}
	}
	return true
}
