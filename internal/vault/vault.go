// Package vault is the single-writer store for the Markdown vault. Every
// mutation from any input channel funnels through this API, which validates
// against the schema registry, consults the task FSM for status changes,
// writes atomically, maintains the link index, and publishes domain events
// after commit.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/werserk/kira/internal/bus"
	"github.com/werserk/kira/internal/clock"
	"github.com/werserk/kira/internal/codec"
	"github.com/werserk/kira/internal/fsm"
	"github.com/werserk/kira/internal/logging"
	"github.com/werserk/kira/internal/schema"
	"github.com/werserk/kira/internal/types"
)

// LockFileName is the advisory lock taken on the vault root. Concurrent
// process access without this lock is undefined behavior.
const LockFileName = ".kira.lock"

// envelopeKeys are front-matter fields owned by the envelope, not metadata.
var envelopeKeys = map[string]bool{
	"id": true, "entity_type": true, "title": true, "tags": true,
	"created_at": true, "updated_at": true,
}

// transitionArgKeys are patch keys consumed by the FSM transition itself
// rather than stored as fields.
var transitionArgKeys = map[string]bool{"reason": true, "force": true}

type record struct {
	entity *types.Entity
	doc    *codec.Document
	path   string
}

// Store is the single-writer vault store.
type Store struct {
	root  string
	clock clock.Clock
	bus   *bus.Bus
	fsm   *fsm.FSM
	log   *logging.Logger
	lock  *flock.Flock

	// writeMu enforces the single-writer property in-process; the flock
	// covers cross-process access.
	writeMu sync.Mutex

	mu      sync.RWMutex
	records map[string]*record
	index   *linkIndex

	// failBeforeCommit is invoked between staging and rename when set.
	// Crash-injection hook for tests; nil in production.
	failBeforeCommit func() error
}

// Options configures Open.
type Options struct {
	Clock  clock.Clock
	Bus    *bus.Bus
	FSM    *fsm.FSM
	Logger *logging.Logger
}

// Open acquires the vault lock, hydrates the entity set and link index from
// disk, and returns the store. Fails with types.ErrLocked if another process
// holds the lock.
func Open(root string, opts Options) (*Store, error) {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}

	lock := flock.New(filepath.Join(root, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire vault lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", types.ErrLocked, root)
	}

	s := &Store{
		root:    root,
		clock:   opts.Clock,
		bus:     opts.Bus,
		fsm:     opts.FSM,
		log:     opts.Logger,
		lock:    lock,
		records: make(map[string]*record),
		index:   newLinkIndex(),
	}
	if err := s.hydrate(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// Close releases the vault lock.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// Root returns the vault root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) hydrate() error {
	for _, t := range []types.EntityType{
		types.EntityTask, types.EntityNote, types.EntityEvent,
		types.EntityProject, types.EntityRollup,
	} {
		dir := filepath.Join(s.root, t.Folder())
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := s.hydrateFile(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) hydrateFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := codec.Parse(content)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrCorrupt, path, err)
	}
	entity, err := entityFromDoc(doc)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrCorrupt, path, err)
	}
	if _, exists := s.records[entity.ID]; exists {
		return fmt.Errorf("%w: duplicate id %s in %s", types.ErrCorrupt, entity.ID, path)
	}
	s.records[entity.ID] = &record{entity: entity, doc: doc, path: path}
	s.index.set(entity.ID, extractLinks(entity))
	return nil
}

// Exists reports whether id is a known entity. Used by ID minting.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok
}

// Get returns the entity for id, or types.ErrNotFound.
func (s *Store) Get(id string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return cloneEntity(rec.entity), nil
}

// List returns entities matching the filter, sorted by ID.
func (s *Store) List(filter types.EntityFilter) []*types.Entity {
	s.mu.RLock()
	var out []*types.Entity
	for _, rec := range s.records {
		if filter.Matches(rec.entity) {
			out = append(out, cloneEntity(rec.entity))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// QueryLinks returns links touching id in the given direction.
func (s *Store) QueryLinks(id string, direction types.LinkDirection) ([]types.Link, error) {
	if !s.Exists(id) {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return s.index.query(id, direction, s.Exists), nil
}

// AllLinks returns the full link index, for the graph validator.
func (s *Store) AllLinks() []types.Link {
	return s.index.all(s.Exists)
}

// Create mints an ID, validates, writes the entity file atomically, indexes
// its links, and publishes entity.created.
func (s *Store) Create(entityType types.EntityType, data map[string]any, body string) (*types.Entity, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !entityType.Valid() {
		return nil, types.NewValidationError(entityType, "entity_type", fmt.Sprintf("unknown entity type %q", entityType))
	}

	title, _ := data["title"].(string)
	if title == "" {
		return nil, types.NewValidationError(entityType, "title", "required field is missing")
	}

	metadata := make(map[string]any)
	for k, v := range data {
		if !envelopeKeys[k] {
			metadata[k] = v
		}
	}
	schema.ApplyDefaults(entityType, metadata)
	if err := schema.Validate(entityType, metadata); err != nil {
		return nil, err
	}

	var id string
	if given, _ := data["id"].(string); given != "" {
		if s.Exists(given) {
			return nil, &types.DuplicateIDError{ID: given}
		}
		id = given
	} else {
		minted, err := clock.MintID(s.clock, string(entityType), s.Exists)
		if err != nil {
			return nil, err
		}
		id = minted
	}

	now := s.clock.Now()
	entity := &types.Entity{
		ID:        id,
		Type:      entityType,
		Title:     title,
		Tags:      normalizeTags(data["tags"]),
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
		Body:      body,
	}
	if err := rejectSelfLinks(entity); err != nil {
		return nil, err
	}

	doc := composeDoc(entity)
	path := filepath.Join(s.root, entityType.Folder(), id+".md")
	if err := s.commit(path, doc); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records[id] = &record{entity: entity, doc: doc, path: path}
	s.mu.Unlock()
	s.index.set(id, extractLinks(entity))

	s.publish("entity.created", entity, "")
	return cloneEntity(entity), nil
}

// Update applies a typed patch to an entity. Patch keys title, tags, and
// body address the envelope; reason and force are transition arguments; all
// other keys patch metadata (nil deletes a key). A status patch on a task is
// delegated to the FSM, whose guard may reject the write or contribute
// additional mutations.
func (s *Store) Update(id string, patch map[string]any) (*types.Entity, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	old := rec.entity

	next := cloneEntity(old)
	reason, _ := patch["reason"].(string)
	force, _ := patch["force"].(bool)

	for k, v := range patch {
		if transitionArgKeys[k] {
			continue
		}
		switch k {
		case "title":
			if title, ok := v.(string); ok && title != "" {
				next.Title = title
			} else {
				return nil, types.NewValidationError(old.Type, "title", "must be a non-empty string")
			}
		case "tags":
			next.Tags = normalizeTags(v)
		case "body":
			body, ok := v.(string)
			if !ok {
				return nil, types.NewValidationError(old.Type, "body", "must be a string")
			}
			next.Body = body
		case "id", "entity_type", "created_at", "updated_at":
			return nil, types.NewValidationError(old.Type, k, "field is immutable")
		default:
			if v == nil {
				delete(next.Metadata, k)
			} else {
				next.Metadata[k] = v
			}
		}
	}

	// Status changes on tasks go through the FSM guard before anything
	// touches the filesystem.
	var transitioned bool
	var fromState, toState types.Status
	var guardMutations map[string]any
	if old.Type == types.EntityTask {
		if _, hasStatus := patch["status"]; hasStatus {
			fromState = old.Status()
			toState = next.Status()
			if fromState != toState {
				if s.fsm == nil {
					return nil, fmt.Errorf("no FSM configured for task transition")
				}
				mutations, err := s.fsm.Guard(fromState, toState, next.Metadata, reason, force)
				if err != nil {
					return nil, err
				}
				guardMutations = mutations
				for k, v := range mutations {
					if v == nil {
						delete(next.Metadata, k)
					} else {
						next.Metadata[k] = v
					}
				}
				transitioned = true
			}
		}
	}

	if err := schema.Validate(next.Type, next.Metadata); err != nil {
		return nil, err
	}
	if err := rejectSelfLinks(next); err != nil {
		return nil, err
	}

	// updated_at must strictly increase even under a coarse or frozen clock.
	now := s.clock.Now()
	if !now.After(old.UpdatedAt) {
		now = old.UpdatedAt.Add(time.Second)
	}
	next.UpdatedAt = now

	doc := rewriteDoc(rec.doc, next)
	if err := s.commit(rec.path, doc); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records[id] = &record{entity: next, doc: doc, path: rec.path}
	s.mu.Unlock()
	s.index.set(id, extractLinks(next))

	correlationID := s.publish("entity.updated", next, "")
	if transitioned && s.fsm != nil {
		s.fsm.EmitEntered(fsm.HookContext{
			TaskID:        id,
			From:          fromState,
			To:            toState,
			Reason:        reason,
			Mutations:     guardMutations,
			CorrelationID: correlationID,
		})
	}
	return cloneEntity(next), nil
}

// Delete removes the entity file and its index entries and publishes
// entity.deleted.
func (s *Store) Delete(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}

	if err := os.Remove(rec.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", rec.path, err)
	}

	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	s.index.remove(id)

	s.publish("entity.deleted", rec.entity, "")
	return nil
}

func (s *Store) commit(path string, doc *codec.Document) error {
	return atomicWrite(path, codec.Serialize(doc), s.failBeforeCommit)
}

// publish emits a domain event after a successful commit. Emission failures
// are the subscribers' problem (the bus isolates them); nothing rolls back
// the file.
func (s *Store) publish(name string, e *types.Entity, correlationID string) string {
	if s.bus == nil {
		return correlationID
	}
	payload := map[string]any{
		"entity_id":   e.ID,
		"entity_type": string(e.Type),
		"title":       e.Title,
		"data":        composeDoc(e).FrontMatter.ToNative(),
	}
	return s.bus.Publish(name, payload, correlationID)
}

func rejectSelfLinks(e *types.Entity) error {
	for _, ed := range extractLinks(e) {
		if ed.target == e.ID {
			return types.NewValidationError(e.Type, "links", "self-links are not allowed")
		}
	}
	return nil
}

func normalizeTags(v any) []string {
	raw := types.StringSlice(v)
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, t := range raw {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func cloneEntity(e *types.Entity) *types.Entity {
	c := *e
	c.Tags = append([]string(nil), e.Tags...)
	c.Metadata = make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// composeDoc renders an entity into a front-matter document with the
// canonical key order: envelope identity fields, then metadata in schema
// declaration order (extras sorted last), then the timestamps.
func composeDoc(e *types.Entity) *codec.Document {
	fm := codec.NewMap()
	fm.Set("id", e.ID)
	fm.Set("entity_type", string(e.Type))
	fm.Set("title", e.Title)
	tags := make([]any, len(e.Tags))
	for i, t := range e.Tags {
		tags[i] = t
	}
	fm.Set("tags", tags)

	for _, key := range metadataKeyOrder(e) {
		fm.Set(key, metaToYAML(e.Metadata[key]))
	}

	fm.Set("created_at", schema.FormatTimestamp(e.CreatedAt))
	fm.Set("updated_at", schema.FormatTimestamp(e.UpdatedAt))
	return &codec.Document{FrontMatter: fm, Body: normalizeBody(e.Body)}
}

// rewriteDoc updates an existing document in place, preserving front-matter
// key order for round-trip stability. Removed metadata keys are deleted;
// new keys are appended before the timestamps.
func rewriteDoc(old *codec.Document, e *types.Entity) *codec.Document {
	fm := codec.NewMap()
	handled := map[string]bool{}

	writeKey := func(key string) {
		switch key {
		case "id":
			fm.Set("id", e.ID)
		case "entity_type":
			fm.Set("entity_type", string(e.Type))
		case "title":
			fm.Set("title", e.Title)
		case "tags":
			tags := make([]any, len(e.Tags))
			for i, t := range e.Tags {
				tags[i] = t
			}
			fm.Set("tags", tags)
		case "created_at":
			fm.Set("created_at", schema.FormatTimestamp(e.CreatedAt))
		case "updated_at":
			fm.Set("updated_at", schema.FormatTimestamp(e.UpdatedAt))
		default:
			if v, ok := e.Metadata[key]; ok {
				fm.Set(key, metaToYAML(v))
			}
		}
	}

	for _, key := range old.FrontMatter.Keys() {
		writeKey(key)
		handled[key] = true
	}
	for _, key := range []string{"id", "entity_type", "title", "tags"} {
		if !handled[key] {
			writeKey(key)
			handled[key] = true
		}
	}
	for _, key := range metadataKeyOrder(e) {
		if !handled[key] {
			fm.Set(key, metaToYAML(e.Metadata[key]))
			handled[key] = true
		}
	}
	for _, key := range []string{"created_at", "updated_at"} {
		if !handled[key] {
			writeKey(key)
		}
	}
	return &codec.Document{FrontMatter: fm, Body: normalizeBody(e.Body)}
}

func metadataKeyOrder(e *types.Entity) []string {
	declared := schema.FieldOrder(e.Type)
	var out []string
	seen := make(map[string]bool)
	for _, key := range declared {
		if _, ok := e.Metadata[key]; ok {
			out = append(out, key)
			seen[key] = true
		}
	}
	var rest []string
	for key := range e.Metadata {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func metaToYAML(v any) any {
	switch vv := v.(type) {
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out
	case map[string]any:
		return codec.FromNative(vv, nil)
	default:
		return v
	}
}

func normalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return body
}

func entityFromDoc(doc *codec.Document) (*types.Entity, error) {
	fm := doc.FrontMatter
	id, _ := getString(fm, "id")
	if id == "" {
		return nil, fmt.Errorf("missing id")
	}
	typeStr, _ := getString(fm, "entity_type")
	entityType := types.EntityType(typeStr)
	if !entityType.Valid() {
		return nil, fmt.Errorf("unknown entity_type %q", typeStr)
	}
	title, _ := getString(fm, "title")
	if title == "" {
		return nil, fmt.Errorf("missing title")
	}

	createdStr, _ := getString(fm, "created_at")
	createdAt, err := schema.ParseTimestamp(createdStr)
	if err != nil {
		return nil, fmt.Errorf("bad created_at %q", createdStr)
	}
	updatedStr, _ := getString(fm, "updated_at")
	updatedAt, err := schema.ParseTimestamp(updatedStr)
	if err != nil {
		return nil, fmt.Errorf("bad updated_at %q", updatedStr)
	}
	if updatedAt.Before(createdAt) {
		return nil, fmt.Errorf("updated_at precedes created_at")
	}

	var tags []string
	if v, ok := fm.Get("tags"); ok {
		tags = types.StringSlice(v)
	}

	metadata := make(map[string]any)
	for _, key := range fm.Keys() {
		if envelopeKeys[key] {
			continue
		}
		v, _ := fm.Get(key)
		if m, ok := v.(*codec.Map); ok {
			metadata[key] = m.ToNative()
		} else {
			metadata[key] = v
		}
	}

	return &types.Entity{
		ID:        id,
		Type:      entityType,
		Title:     title,
		Tags:      tags,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Metadata:  metadata,
		Body:      doc.Body,
	}, nil
}

func getString(m *codec.Map, key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
