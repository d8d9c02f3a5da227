// Package kira provides a minimal public API for extending the Kira core
// with custom tooling. Most extensions should go through the CLI; this
// package exports only the types and constructors needed to use the vault
// store and dedupe layer programmatically.
package kira

import (
	"context"

	"github.com/werserk/kira/internal/clock"
	"github.com/werserk/kira/internal/dedupe"
	"github.com/werserk/kira/internal/types"
	"github.com/werserk/kira/internal/vault"
)

// Core types.
type (
	Entity        = types.Entity
	EntityType    = types.EntityType
	EntityFilter  = types.EntityFilter
	Status        = types.Status
	Priority      = types.Priority
	Link          = types.Link
	LinkType      = types.LinkType
	LinkDirection = types.LinkDirection
)

// Entity type constants.
const (
	EntityTask    = types.EntityTask
	EntityNote    = types.EntityNote
	EntityEvent   = types.EntityEvent
	EntityProject = types.EntityProject
	EntityRollup  = types.EntityRollup
)

// Task status constants.
const (
	StatusTodo    = types.StatusTodo
	StatusDoing   = types.StatusDoing
	StatusReview  = types.StatusReview
	StatusDone    = types.StatusDone
	StatusBlocked = types.StatusBlocked
)

// Link constants.
const (
	LinkWikilink  = types.LinkWikilink
	LinkDependsOn = types.LinkDependsOn
	LinkOut       = types.LinkOut
	LinkIn        = types.LinkIn
	LinkBoth      = types.LinkBoth
)

// Sentinel errors.
var (
	ErrNotFound = types.ErrNotFound
	ErrLocked   = types.ErrLocked
)

// Store is the single-writer vault store.
type Store = vault.Store

// OpenVault opens the vault at root with a system clock and no event bus.
// Extensions that need events or the FSM should wire vault.Options
// themselves through the internal packages' public surface in cmd/kira.
func OpenVault(root string) (*Store, error) {
	return vault.Open(root, vault.Options{Clock: clock.System{}})
}

// DedupeStore is the persistent idempotency store.
type DedupeStore = dedupe.Store

// OpenDedupe opens the idempotency store at path.
func OpenDedupe(ctx context.Context, path string) (*DedupeStore, error) {
	return dedupe.Open(ctx, path, clock.System{})
}

// GenerateEventID computes the deterministic logical-event hash used by
// every adapter.
func GenerateEventID(source, externalID string, payload map[string]any) string {
	return dedupe.GenerateEventID(source, externalID, payload)
}
