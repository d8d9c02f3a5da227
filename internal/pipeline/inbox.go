// Package pipeline hosts the periodic pipelines that feed the core: the
// inbox scanner that routes dropped files to normalization plugins, and the
// rollup generator. Pipelines never write to the vault directly except to
// compose rollup entities through the single writer.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/werserk/kira/internal/bus"
	"github.com/werserk/kira/internal/clock"
	"github.com/werserk/kira/internal/dedupe"
	"github.com/werserk/kira/internal/logging"
	"github.com/werserk/kira/internal/schema"
)

// InboxConfig tunes one scanner run.
type InboxConfig struct {
	MaxItemsPerRun int
	MaxRetries     int
	RetryDelay     time.Duration
	RetryBackoff   float64
}

// DefaultInboxConfig mirrors the defaults the pipelines shipped with.
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		MaxItemsPerRun: 50,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		RetryBackoff:   2.0,
	}
}

// InboxResult summarizes one run.
type InboxResult struct {
	Scanned   int `json:"scanned"`
	Published int `json:"published"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Inbox scans the drop zone and routes items onto the bus. Markdown files
// publish file.dropped; plain text publishes message.received. The dedupe
// store gates publication so a rescanned item is processed at most once.
type Inbox struct {
	dir    string
	bus    *bus.Bus
	dedupe *dedupe.Store
	clock  clock.Clock
	log    *logging.Logger
	cfg    InboxConfig
}

// NewInbox builds the scanner for the inbox directory.
func NewInbox(dir string, b *bus.Bus, d *dedupe.Store, c clock.Clock, log *logging.Logger, cfg InboxConfig) *Inbox {
	if cfg.MaxItemsPerRun <= 0 {
		cfg = DefaultInboxConfig()
	}
	return &Inbox{dir: dir, bus: b, dedupe: d, clock: c, log: log, cfg: cfg}
}

// Run scans the inbox once. Items are processed oldest-first by mtime,
// capped at MaxItemsPerRun. Failed items are retried with exponential
// backoff up to MaxRetries before counting as failed.
func (p *Inbox) Run(ctx context.Context) (*InboxResult, error) {
	items, err := p.scan()
	if err != nil {
		return nil, err
	}

	result := &InboxResult{Scanned: len(items)}
	for _, item := range items {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		switch p.processWithRetry(ctx, item) {
		case outcomePublished:
			result.Published++
		case outcomeSkipped:
			result.Skipped++
		case outcomeFailed:
			result.Failed++
		}
	}
	return result, nil
}

func (p *Inbox) scan() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan inbox: %w", err)
	}

	type item struct {
		path  string
		mtime time.Time
	}
	var items []item
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".md") && !strings.HasSuffix(name, ".txt") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, item{path: filepath.Join(p.dir, name), mtime: info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].mtime.Equal(items[j].mtime) {
			return items[i].mtime.Before(items[j].mtime)
		}
		return items[i].path < items[j].path
	})
	if len(items) > p.cfg.MaxItemsPerRun {
		items = items[:p.cfg.MaxItemsPerRun]
	}

	paths := make([]string, len(items))
	for i, it := range items {
		paths[i] = it.path
	}
	return paths, nil
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (p *Inbox) processWithRetry(ctx context.Context, path string) outcome {
	traceID := uuid.NewString()
	log := p.log
	if log != nil {
		log = log.WithTrace(traceID)
	}

	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		out, err := p.processItem(ctx, path, traceID)
		if err == nil {
			return out
		}
		if log != nil {
			log.Warn("inbox item failed", map[string]any{
				"path":    path,
				"attempt": attempt,
				"error":   map[string]any{"type": "inbox_error", "message": err.Error()},
			})
		}
		if attempt == p.cfg.MaxRetries {
			break
		}
		delay := p.cfg.RetryDelay
		for i := 1; i < attempt; i++ {
			delay = time.Duration(float64(delay) * p.cfg.RetryBackoff)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return outcomeFailed
		}
	}

	if log != nil {
		log.Error("inbox item exhausted retries", map[string]any{"path": path})
	}
	if p.bus != nil {
		p.bus.Publish("inbox.item.failed", map[string]any{
			"path":     path,
			"trace_id": traceID,
		}, traceID)
	}
	return outcomeFailed
}

func (p *Inbox) processItem(ctx context.Context, path string, traceID string) (outcome, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return outcomeFailed, fmt.Errorf("failed to read inbox item: %w", err)
	}

	eventName := "message.received"
	if strings.HasSuffix(path, ".md") {
		eventName = "file.dropped"
	}

	payload := map[string]any{
		"path":        filepath.Base(path),
		"content":     string(content),
		"trace_id":    traceID,
		"received_at": schema.FormatTimestamp(p.clock.Now()),
	}

	// Gate on the dedupe store: only the first sighting publishes onward.
	if p.dedupe != nil {
		eventID := dedupe.GenerateEventID("inbox", filepath.Base(path), payload)
		first, err := p.dedupe.MarkSeen(ctx, eventID, dedupe.MarkOptions{
			Source:     "inbox",
			ExternalID: filepath.Base(path),
		})
		if err != nil {
			return outcomeFailed, fmt.Errorf("failed to mark inbox item seen: %w", err)
		}
		if !first {
			return outcomeSkipped, nil
		}
	}

	if p.bus != nil {
		p.bus.Publish(eventName, payload, traceID)
	}
	if p.log != nil {
		p.log.Info("inbox item routed", map[string]any{
			"path":     path,
			"event":    eventName,
			"trace_id": traceID,
		})
	}
	return outcomePublished, nil
}
