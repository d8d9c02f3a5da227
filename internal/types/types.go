// Package types defines the core entity model shared by the vault store,
// the task FSM, the validators, and the CLI.
package types

import (
	"time"
)

// EntityType identifies a registered entity kind. The type selects the
// validation schema and the vault folder the entity file lives in.
type EntityType string

const (
	EntityTask    EntityType = "task"
	EntityNote    EntityType = "note"
	EntityEvent   EntityType = "event"
	EntityProject EntityType = "project"
	EntityRollup  EntityType = "rollup"
)

// Folder returns the vault subdirectory for this entity type.
func (t EntityType) Folder() string {
	switch t {
	case EntityTask:
		return "tasks"
	case EntityNote:
		return "notes"
	case EntityEvent:
		return "events"
	case EntityProject:
		return "projects"
	case EntityRollup:
		return "journal"
	default:
		return string(t)
	}
}

// Valid reports whether t is one of the registered entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTask, EntityNote, EntityEvent, EntityProject, EntityRollup:
		return true
	}
	return false
}

// Status is a task workflow state.
type Status string

const (
	StatusTodo    Status = "todo"
	StatusDoing   Status = "doing"
	StatusReview  Status = "review"
	StatusDone    Status = "done"
	StatusBlocked Status = "blocked"
)

// Valid reports whether s is a known task state.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusReview, StatusDone, StatusBlocked:
		return true
	}
	return false
}

// Priority levels for tasks.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// RollupType is the aggregation period of a rollup entity.
type RollupType string

const (
	RollupDaily   RollupType = "daily"
	RollupWeekly  RollupType = "weekly"
	RollupMonthly RollupType = "monthly"
)

// Entity is the common envelope persisted as one Markdown file.
//
// Metadata carries the type-specific extension fields (task status, event
// start/end, ...) exactly as they appear in front-matter; the schema registry
// validates them per type. Body is the Markdown text below the front-matter
// and may contain wikilinks of the form [[entity-id]].
type Entity struct {
	ID        string         `yaml:"id" json:"id"`
	Type      EntityType     `yaml:"entity_type" json:"entity_type"`
	Title     string         `yaml:"title" json:"title"`
	Tags      []string       `yaml:"tags" json:"tags"`
	CreatedAt time.Time      `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time      `yaml:"updated_at" json:"updated_at"`
	Metadata  map[string]any `yaml:"-" json:"metadata,omitempty"`
	Body      string         `yaml:"-" json:"body,omitempty"`
}

// MetaString returns a string metadata field, or "" if absent or not a string.
func (e *Entity) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[key].(string)
	return s
}

// MetaBool returns a boolean metadata field, or false if absent.
func (e *Entity) MetaBool(key string) bool {
	if e.Metadata == nil {
		return false
	}
	b, _ := e.Metadata[key].(bool)
	return b
}

// Status returns the task status, or "" for non-task entities.
func (e *Entity) Status() Status {
	return Status(e.MetaString("status"))
}

// DependsOn returns the depends_on metadata as a slice of entity IDs.
// Accepts []string and []any encodings (yaml decodes sequences as []any).
func (e *Entity) DependsOn() []string {
	if e.Metadata == nil {
		return nil
	}
	return StringSlice(e.Metadata["depends_on"])
}

// StringSlice coerces a decoded YAML sequence into []string, dropping
// non-string elements.
func StringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// LinkType distinguishes how a link was expressed in the source entity.
type LinkType string

const (
	// LinkWikilink is an inline [[target-id]] reference in the body.
	LinkWikilink LinkType = "wikilink"
	// LinkDependsOn is a typed depends_on reference in task metadata.
	LinkDependsOn LinkType = "depends_on"
)

// Link is one directed edge in the entity graph.
type Link struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   LinkType `json:"type"`
	// Broken marks links whose target is not a known entity. Broken links
	// are indexed (so the validator can report them) but never rejected.
	Broken bool `json:"broken,omitempty"`
}

// LinkDirection selects which edges QueryLinks returns.
type LinkDirection string

const (
	LinkOut  LinkDirection = "out"
	LinkIn   LinkDirection = "in"
	LinkBoth LinkDirection = "both"
)

// EntityFilter narrows List results. Zero values match everything.
type EntityFilter struct {
	Type     EntityType
	Status   Status
	Assignee string
	Tag      string
	Limit    int
}

// Matches reports whether e passes the filter (Limit is applied by the caller).
func (f EntityFilter) Matches(e *Entity) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Status != "" && e.Status() != f.Status {
		return false
	}
	if f.Assignee != "" && e.MetaString("assignee") != f.Assignee {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range e.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
