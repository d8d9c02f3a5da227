// Package dedupe is the persistent idempotency store. Every adapter computes
// a deterministic event ID for each incoming event and publishes onward only
// if MarkSeen reports a first sighting, which yields at-most-once logical
// delivery across retries, duplicate deliveries, and process restarts.
package dedupe

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/werserk/kira/internal/clock"
	"github.com/werserk/kira/internal/schema"
)

// timingKeys are stripped before hashing so retry metadata never changes the
// event identity.
var timingKeys = []string{"received_at", "processed_at", "retry_count", "trace_id"}

const initSchema = `
CREATE TABLE IF NOT EXISTS seen_events (
    event_id TEXT PRIMARY KEY,
    first_seen_ts TEXT NOT NULL,
    last_seen_ts TEXT NOT NULL,
    seen_count INTEGER NOT NULL DEFAULT 1,
    source TEXT,
    external_id TEXT,
    metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_seen_events_first_seen
    ON seen_events(first_seen_ts);
`

// DefaultTTLDays is the retention window for seen events.
const DefaultTTLDays = 30

// Normalize renders payload as compact JSON with keys sorted
// lexicographically and the timing fields removed. Pure function: identical
// logical payloads normalize identically regardless of retry metadata.
func Normalize(payload map[string]any) string {
	normalized := make(map[string]any, len(payload))
	for k, v := range payload {
		normalized[k] = v
	}
	for _, k := range timingKeys {
		delete(normalized, k)
	}
	// encoding/json sorts map keys, giving the canonical form for free.
	data, err := json.Marshal(normalized)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// GenerateEventID computes sha256(source | external_id | normalized_payload)
// hex-encoded. Pure function.
func GenerateEventID(source, externalID string, payload map[string]any) string {
	combined := strings.Join([]string{source, externalID, Normalize(payload)}, "|")
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}

// EventInfo is one row of the seen_events table.
type EventInfo struct {
	EventID     string         `json:"event_id"`
	FirstSeenTS string         `json:"first_seen_ts"`
	LastSeenTS  string         `json:"last_seen_ts"`
	SeenCount   int64          `json:"seen_count"`
	Source      string         `json:"source,omitempty"`
	ExternalID  string         `json:"external_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Stats summarizes the dedupe table.
type Stats struct {
	TotalEvents    int64            `json:"total_events"`
	TotalSightings int64            `json:"total_sightings"`
	Duplicates     int64            `json:"duplicates"`
	DuplicateRate  float64          `json:"duplicate_rate"`
	BySource       map[string]int64 `json:"by_source"`
}

// Store is the sqlite-backed dedupe table.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// Open opens (creating if needed) the dedupe database at path.
func Open(ctx context.Context, path string, c clock.Clock) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create dedupe directory: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedupe database: %w", err)
	}
	if _, err := db.ExecContext(ctx, initSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize dedupe schema: %w", err)
	}
	return &Store{db: db, clock: c}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// IsDuplicate reports whether eventID has been seen before, without
// recording a sighting.
func (s *Store) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM seen_events WHERE event_id = ?", eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query seen_events: %w", err)
	}
	return true, nil
}

// MarkOptions carries optional provenance recorded on first sighting.
type MarkOptions struct {
	Source     string
	ExternalID string
	Metadata   map[string]any
}

// MarkSeen records a sighting of eventID. Returns true iff this is the first
// sighting; subsequent sightings update last_seen_ts and increment
// seen_count. Safe for concurrent callers: the insert-or-update runs in a
// single transaction.
func (s *Store) MarkSeen(ctx context.Context, eventID string, opts MarkOptions) (bool, error) {
	now := schema.FormatTimestamp(s.clock.Now())

	var metadataJSON any
	if len(opts.Metadata) > 0 {
		data, err := json.Marshal(opts.Metadata)
		if err != nil {
			return false, fmt.Errorf("failed to encode event metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin dedupe transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO seen_events
		    (event_id, first_seen_ts, last_seen_ts, seen_count, source, external_id, metadata)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
		    last_seen_ts = excluded.last_seen_ts,
		    seen_count = seen_count + 1`,
		eventID, now, now, nullable(opts.Source), nullable(opts.ExternalID), metadataJSON)
	if err != nil {
		return false, fmt.Errorf("failed to mark event seen: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	var count int64
	if err := tx.QueryRowContext(ctx,
		"SELECT seen_count FROM seen_events WHERE event_id = ?", eventID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to read seen_count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit dedupe transaction: %w", err)
	}
	return count == 1, nil
}

// GetEventInfo returns the stored record for eventID, or nil if unseen.
func (s *Store) GetEventInfo(ctx context.Context, eventID string) (*EventInfo, error) {
	var info EventInfo
	var source, externalID, metadata sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT event_id, first_seen_ts, last_seen_ts, seen_count, source, external_id, metadata
		FROM seen_events WHERE event_id = ?`, eventID).
		Scan(&info.EventID, &info.FirstSeenTS, &info.LastSeenTS, &info.SeenCount,
			&source, &externalID, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read event info: %w", err)
	}
	info.Source = source.String
	info.ExternalID = externalID.String
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &info.Metadata)
	}
	return &info, nil
}

// CleanupOldEvents deletes rows first seen before now - ttlDays and returns
// the number deleted. Timestamps are ISO-8601 UTC strings, so lexical
// comparison matches chronological order.
func (s *Store) CleanupOldEvents(ctx context.Context, ttlDays int) (int64, error) {
	cutoff := schema.FormatTimestamp(s.clock.Now().Add(-time.Duration(ttlDays) * 24 * time.Hour))
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM seen_events WHERE first_seen_ts < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return deleted, nil
}

// GetStats aggregates totals, duplicate counts, and a by-source breakdown.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{BySource: make(map[string]int64)}
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(seen_count), 0) FROM seen_events").
		Scan(&stats.TotalEvents, &stats.TotalSightings)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate dedupe stats: %w", err)
	}
	stats.Duplicates = stats.TotalSightings - stats.TotalEvents
	if stats.TotalSightings > 0 {
		stats.DuplicateRate = float64(stats.Duplicates) / float64(stats.TotalSightings)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(source, ''), COUNT(*)
		FROM seen_events GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by-source stats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan by-source row: %w", err)
		}
		if source == "" {
			source = "unknown"
		}
		stats.BySource[source] = count
	}
	return stats, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
