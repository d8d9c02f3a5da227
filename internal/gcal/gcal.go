// Package gcal holds the core-side reconciliation logic for bidirectional
// calendar sync. The HTTP client lives outside the core; it implements
// Remote. Conflicts resolve last-writer-wins on update timestamps, and
// inbound events are gated through the dedupe store.
package gcal

import (
	"context"
	"fmt"
	"time"

	"github.com/werserk/kira/internal/clock"
	"github.com/werserk/kira/internal/dedupe"
	"github.com/werserk/kira/internal/logging"
	"github.com/werserk/kira/internal/schema"
	"github.com/werserk/kira/internal/types"
	"github.com/werserk/kira/internal/vault"
)

// RemoteEvent is the provider-neutral shape of a remote calendar entry.
type RemoteEvent struct {
	ID        string
	Title     string
	Start     time.Time
	End       time.Time
	Location  string
	Attendees []string
	AllDay    bool
	Updated   time.Time
}

// Remote is implemented by the calendar adapter.
type Remote interface {
	List(ctx context.Context, from, to time.Time) ([]RemoteEvent, error)
	Upsert(ctx context.Context, ev RemoteEvent) (string, error)
	Delete(ctx context.Context, id string) error
}

// Result summarizes one reconciliation pass.
type Result struct {
	Pulled  int `json:"pulled"`
	Pushed  int `json:"pushed"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Reconciler drives one bidirectional pass between the vault's event
// entities and a remote calendar.
type Reconciler struct {
	vault  *vault.Store
	dedupe *dedupe.Store
	clock  clock.Clock
	log    *logging.Logger
}

// New builds a reconciler. dedupe and log may be nil.
func New(v *vault.Store, d *dedupe.Store, c clock.Clock, log *logging.Logger) *Reconciler {
	if c == nil {
		c = clock.System{}
	}
	return &Reconciler{vault: v, dedupe: d, clock: c, log: log}
}

// Reconcile pulls the remote window, merges with local events
// last-writer-wins, and pushes local events the remote has not seen.
func (r *Reconciler) Reconcile(ctx context.Context, remote Remote, from, to time.Time) (*Result, error) {
	remoteEvents, err := remote.List(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote events: %w", err)
	}

	result := &Result{}
	now := schema.FormatTimestamp(r.clock.Now())

	local := r.vault.List(types.EntityFilter{Type: types.EntityEvent})
	byGCalID := make(map[string]*types.Entity, len(local))
	for _, e := range local {
		if gid := e.MetaString("gcal_id"); gid != "" {
			byGCalID[gid] = e
		}
	}

	for _, rev := range remoteEvents {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		entity, exists := byGCalID[rev.ID]
		if !exists {
			if skip, err := r.seenBefore(ctx, rev); err != nil {
				return result, err
			} else if skip {
				result.Skipped++
				continue
			}
			if _, err := r.vault.Create(types.EntityEvent, remoteToData(rev, now), ""); err != nil {
				return result, fmt.Errorf("failed to create event from remote %s: %w", rev.ID, err)
			}
			result.Pulled++
			continue
		}

		// Last-writer-wins: the newer side overwrites the older.
		if rev.Updated.After(entity.UpdatedAt) {
			patch := remoteToData(rev, now)
			if _, err := r.vault.Update(entity.ID, patch); err != nil {
				return result, fmt.Errorf("failed to update event %s from remote: %w", entity.ID, err)
			}
			result.Updated++
		} else if entity.UpdatedAt.After(rev.Updated) {
			if err := r.push(ctx, remote, entity, rev.ID); err != nil {
				return result, err
			}
			result.Pushed++
		} else {
			result.Skipped++
		}
	}

	// Local events the remote has never seen.
	for _, e := range local {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if e.MetaString("gcal_id") != "" {
			continue
		}
		if err := r.push(ctx, remote, e, ""); err != nil {
			return result, err
		}
		result.Pushed++
	}

	if r.log != nil {
		r.log.Info("calendar reconciled", map[string]any{
			"pulled":  result.Pulled,
			"pushed":  result.Pushed,
			"updated": result.Updated,
			"skipped": result.Skipped,
		})
	}
	return result, nil
}

func remoteToData(rev RemoteEvent, syncedAt string) map[string]any {
	data := map[string]any{
		"title":            rev.Title,
		"start":            schema.FormatTimestamp(rev.Start),
		"end":              schema.FormatTimestamp(rev.End),
		"all_day":          rev.AllDay,
		"gcal_id":          rev.ID,
		"gcal_last_synced": syncedAt,
	}
	if rev.Location != "" {
		data["location"] = rev.Location
	}
	if len(rev.Attendees) > 0 {
		data["attendees"] = rev.Attendees
	}
	return data
}

// seenBefore gates inbound remote events through the dedupe store so a
// re-listed event is imported at most once.
func (r *Reconciler) seenBefore(ctx context.Context, rev RemoteEvent) (bool, error) {
	if r.dedupe == nil {
		return false, nil
	}
	payload := map[string]any{
		"title":   rev.Title,
		"start":   schema.FormatTimestamp(rev.Start),
		"end":     schema.FormatTimestamp(rev.End),
		"updated": schema.FormatTimestamp(rev.Updated),
	}
	eventID := dedupe.GenerateEventID("gcal", rev.ID, payload)
	first, err := r.dedupe.MarkSeen(ctx, eventID, dedupe.MarkOptions{Source: "gcal", ExternalID: rev.ID})
	if err != nil {
		return false, fmt.Errorf("failed to mark remote event seen: %w", err)
	}
	return !first, nil
}

func (r *Reconciler) push(ctx context.Context, remote Remote, e *types.Entity, knownRemoteID string) error {
	start, err := schema.ParseTimestamp(e.MetaString("start"))
	if err != nil {
		return fmt.Errorf("event %s has bad start: %w", e.ID, err)
	}
	end, err := schema.ParseTimestamp(e.MetaString("end"))
	if err != nil {
		return fmt.Errorf("event %s has bad end: %w", e.ID, err)
	}

	rev := RemoteEvent{
		ID:        knownRemoteID,
		Title:     e.Title,
		Start:     start,
		End:       end,
		Location:  e.MetaString("location"),
		Attendees: types.StringSlice(e.Metadata["attendees"]),
		AllDay:    e.MetaBool("all_day"),
	}
	remoteID, err := remote.Upsert(ctx, rev)
	if err != nil {
		return fmt.Errorf("failed to push event to remote: %w", err)
	}

	patch := map[string]any{
		"gcal_id":          remoteID,
		"gcal_last_synced": schema.FormatTimestamp(r.clock.Now()),
	}
	if _, err := r.vault.Update(e.ID, patch); err != nil {
		return fmt.Errorf("failed to record sync state for %s: %w", e.ID, err)
	}
	return nil
}
