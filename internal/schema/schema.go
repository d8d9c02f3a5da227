// Package schema holds the compiled-in field schemas for every registered
// entity type and validates metadata against them.
package schema

import (
	"fmt"
	"time"

	"github.com/werserk/kira/internal/types"
)

// Kind is the semantic type of a metadata field.
type Kind int

const (
	KindString Kind = iota
	KindTimestamp
	KindDate
	KindEnum
	KindBool
	KindInt
	KindDuration
	KindStrings
	KindIDs
)

// Field declares one metadata field of an entity type.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	Enum     []string
	Default  any
}

// Check is a cross-field rule evaluated after per-field validation.
type Check func(data map[string]any) *types.FieldIssue

// Schema is the full declaration for one entity type.
type Schema struct {
	Type   types.EntityType
	Open   bool
	Fields []Field
	Checks []Check
}

var registry = map[types.EntityType]*Schema{
	types.EntityTask: {
		Type: types.EntityTask,
		Fields: []Field{
			{Name: "status", Kind: KindEnum, Required: true, Enum: []string{"todo", "doing", "review", "done", "blocked"}, Default: "todo"},
			{Name: "priority", Kind: KindEnum, Enum: []string{"low", "medium", "high"}, Default: "medium"},
			{Name: "due_ts", Kind: KindTimestamp},
			{Name: "start_ts", Kind: KindTimestamp},
			{Name: "done_ts", Kind: KindTimestamp},
			{Name: "estimate", Kind: KindDuration},
			{Name: "estimate_frozen", Kind: KindBool, Default: false},
			{Name: "assignee", Kind: KindString},
			{Name: "reopen_reason", Kind: KindString},
			{Name: "blocked_reason", Kind: KindString},
			{Name: "gcal_id", Kind: KindString},
			{Name: "gcal_last_synced", Kind: KindTimestamp},
			{Name: "depends_on", Kind: KindIDs},
		},
	},
	types.EntityNote: {
		Type: types.EntityNote,
		Open: true,
	},
	types.EntityEvent: {
		Type: types.EntityEvent,
		Fields: []Field{
			{Name: "start", Kind: KindTimestamp, Required: true},
			{Name: "end", Kind: KindTimestamp, Required: true},
			{Name: "location", Kind: KindString},
			{Name: "attendees", Kind: KindStrings},
			{Name: "all_day", Kind: KindBool, Default: false},
			{Name: "gcal_id", Kind: KindString},
			{Name: "gcal_last_synced", Kind: KindTimestamp},
		},
		Checks: []Check{checkEventSpan},
	},
	types.EntityProject: {
		Type: types.EntityProject,
		Fields: []Field{
			{Name: "status", Kind: KindEnum, Required: true, Enum: []string{"planning", "active", "on_hold", "done", "archived"}, Default: "active"},
			{Name: "members", Kind: KindStrings},
		},
	},
	types.EntityRollup: {
		Type: types.EntityRollup,
		Fields: []Field{
			{Name: "rollup_type", Kind: KindEnum, Required: true, Enum: []string{"daily", "weekly", "monthly"}},
			{Name: "period_start", Kind: KindDate, Required: true},
			{Name: "period_end", Kind: KindDate, Required: true},
			{Name: "sections_count", Kind: KindInt, Default: int64(0)},
		},
	},
}

// Lookup returns the schema for t, or nil for unregistered types.
func Lookup(t types.EntityType) *Schema {
	return registry[t]
}

// FieldOrder returns the declared metadata field names for t, in schema
// declaration order. Used for canonical front-matter key ordering.
func FieldOrder(t types.EntityType) []string {
	s := registry[t]
	if s == nil {
		return nil
	}
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// ApplyDefaults fills missing optional fields that declare a default.
// The input map is mutated.
func ApplyDefaults(t types.EntityType, data map[string]any) {
	s := registry[t]
	if s == nil {
		return
	}
	for _, f := range s.Fields {
		if f.Default == nil {
			continue
		}
		if _, ok := data[f.Name]; !ok {
			data[f.Name] = f.Default
		}
	}
}

// Validate checks data (the metadata mapping of an entity) against the
// schema for t. Returns a *types.ValidationError listing every violation,
// or nil when data conforms.
func Validate(t types.EntityType, data map[string]any) error {
	s := registry[t]
	if s == nil {
		return types.NewValidationError(t, "entity_type", fmt.Sprintf("unknown entity type %q", t))
	}

	var issues []types.FieldIssue
	known := make(map[string]*Field, len(s.Fields))
	for i := range s.Fields {
		known[s.Fields[i].Name] = &s.Fields[i]
	}

	for _, f := range s.Fields {
		v, ok := data[f.Name]
		if !ok || v == nil {
			if f.Required {
				issues = append(issues, types.FieldIssue{Field: f.Name, Rule: "required field is missing"})
			}
			continue
		}
		if iss := validateField(&f, v); iss != nil {
			issues = append(issues, *iss)
		}
	}

	if !s.Open {
		for name := range data {
			if _, ok := known[name]; !ok {
				issues = append(issues, types.FieldIssue{Field: name, Rule: "unknown field", Value: data[name]})
			}
		}
	}

	if len(issues) == 0 {
		for _, check := range s.Checks {
			if iss := check(data); iss != nil {
				issues = append(issues, *iss)
			}
		}
	}

	if len(issues) > 0 {
		return &types.ValidationError{EntityType: t, Issues: issues}
	}
	return nil
}

func validateField(f *Field, v any) *types.FieldIssue {
	switch f.Kind {
	case KindString:
		if _, ok := v.(string); !ok {
			return &types.FieldIssue{Field: f.Name, Rule: "must be a string", Value: v}
		}
	case KindTimestamp:
		s, ok := v.(string)
		if !ok {
			return &types.FieldIssue{Field: f.Name, Rule: "must be an RFC-3339 timestamp string", Value: v}
		}
		if _, err := ParseTimestamp(s); err != nil {
			return &types.FieldIssue{Field: f.Name, Rule: "must be an RFC-3339 UTC timestamp", Value: v}
		}
	case KindDate:
		s, ok := v.(string)
		if !ok {
			return &types.FieldIssue{Field: f.Name, Rule: "must be a YYYY-MM-DD date string", Value: v}
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return &types.FieldIssue{Field: f.Name, Rule: "must be a YYYY-MM-DD date", Value: v}
		}
	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return &types.FieldIssue{Field: f.Name, Rule: "must be a string", Value: v}
		}
		for _, allowed := range f.Enum {
			if s == allowed {
				return nil
			}
		}
		return &types.FieldIssue{Field: f.Name, Rule: fmt.Sprintf("must be one of %v", f.Enum), Value: v}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return &types.FieldIssue{Field: f.Name, Rule: "must be a boolean", Value: v}
		}
	case KindInt:
		switch v.(type) {
		case int, int64:
		default:
			return &types.FieldIssue{Field: f.Name, Rule: "must be an integer", Value: v}
		}
	case KindDuration:
		s, ok := v.(string)
		if !ok {
			return &types.FieldIssue{Field: f.Name, Rule: "must be a duration string", Value: v}
		}
		if _, err := time.ParseDuration(s); err != nil {
			return &types.FieldIssue{Field: f.Name, Rule: "must be a Go duration (e.g. 2h30m)", Value: v}
		}
	case KindStrings, KindIDs:
		switch vv := v.(type) {
		case []string:
		case []any:
			for _, item := range vv {
				if _, ok := item.(string); !ok {
					return &types.FieldIssue{Field: f.Name, Rule: "must be a sequence of strings", Value: v}
				}
			}
		default:
			return &types.FieldIssue{Field: f.Name, Rule: "must be a sequence of strings", Value: v}
		}
	}
	return nil
}

// ParseTimestamp parses an RFC-3339 instant and normalizes it to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatTimestamp renders t as RFC-3339 UTC with the Z suffix, the canonical
// on-disk form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z07:00")
}

func checkEventSpan(data map[string]any) *types.FieldIssue {
	startStr, _ := data["start"].(string)
	endStr, _ := data["end"].(string)
	if startStr == "" || endStr == "" {
		return nil
	}
	start, err1 := ParseTimestamp(startStr)
	end, err2 := ParseTimestamp(endStr)
	if err1 != nil || err2 != nil {
		return nil
	}
	if end.Before(start) {
		return &types.FieldIssue{Field: "end", Rule: "must not precede start", Value: endStr}
	}
	return nil
}
