// Package agent translates natural-language requests into validated tool
// calls against the vault: planning, optional dry-run, execution, and
// verification, with session memory and a provider router for LLM calls.
package agent

import (
	"fmt"
	"math"

	"github.com/werserk/kira/internal/types"
)

// Prop describes one tool argument in a JSON-schema-equivalent form.
type Prop struct {
	Type        string   // "string", "integer", "number", "boolean", "array"
	Description string
	Enum        []string
	Items       *Prop
	Default     any
	Minimum     *float64
	Maximum     *float64
}

// ArgSpec is the declarative argument contract of a tool.
type ArgSpec struct {
	Properties map[string]*Prop
	Required   []string
}

// JSONSchema renders the spec as a JSON-schema object for the planner
// prompt.
func (s *ArgSpec) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.jsonSchema()
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

func (p *Prop) jsonSchema() map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Items != nil {
		out["items"] = p.Items.jsonSchema()
	}
	if p.Default != nil {
		out["default"] = p.Default
	}
	if p.Minimum != nil {
		out["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		out["maximum"] = *p.Maximum
	}
	return out
}

// ValidateArgs checks args against the spec, coercing where safe (float64
// to integer for whole numbers, since JSON decoding yields float64).
// Unknown arguments are rejected. Returns the coerced copy.
func (s *ArgSpec) ValidateArgs(toolName string, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))

	for name := range args {
		if _, ok := s.Properties[name]; !ok {
			return nil, types.NewValidationError("", name, fmt.Sprintf("unknown argument for tool %s", toolName))
		}
	}
	for _, req := range s.Required {
		if v, ok := args[req]; !ok || v == nil {
			return nil, types.NewValidationError("", req, "required argument is missing")
		}
	}

	for name, p := range s.Properties {
		v, ok := args[name]
		if !ok || v == nil {
			if p.Default != nil {
				out[name] = p.Default
			}
			continue
		}
		coerced, err := p.coerce(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	return out, nil
}

func (p *Prop) coerce(name string, v any) (any, error) {
	switch p.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return nil, types.NewValidationError("", name, "must be a string")
		}
		if len(p.Enum) > 0 {
			for _, allowed := range p.Enum {
				if s == allowed {
					return s, nil
				}
			}
			return nil, types.NewValidationError("", name, fmt.Sprintf("must be one of %v", p.Enum))
		}
		return s, nil
	case "integer":
		var n int64
		switch vv := v.(type) {
		case int:
			n = int64(vv)
		case int64:
			n = vv
		case float64:
			if vv != math.Trunc(vv) {
				return nil, types.NewValidationError("", name, "must be an integer")
			}
			n = int64(vv)
		default:
			return nil, types.NewValidationError("", name, "must be an integer")
		}
		if p.Minimum != nil && float64(n) < *p.Minimum {
			return nil, types.NewValidationError("", name, fmt.Sprintf("must be >= %v", *p.Minimum))
		}
		if p.Maximum != nil && float64(n) > *p.Maximum {
			return nil, types.NewValidationError("", name, fmt.Sprintf("must be <= %v", *p.Maximum))
		}
		return n, nil
	case "number":
		switch vv := v.(type) {
		case float64:
			return vv, nil
		case int:
			return float64(vv), nil
		case int64:
			return float64(vv), nil
		default:
			return nil, types.NewValidationError("", name, "must be a number")
		}
	case "boolean":
		b, ok := v.(bool)
		if !ok {
			return nil, types.NewValidationError("", name, "must be a boolean")
		}
		return b, nil
	case "array":
		items, ok := v.([]any)
		if !ok {
			if ss, ok := v.([]string); ok {
				items = make([]any, len(ss))
				for i, s := range ss {
					items[i] = s
				}
			} else {
				return nil, types.NewValidationError("", name, "must be an array")
			}
		}
		if p.Items != nil {
			out := make([]any, len(items))
			for i, item := range items {
				coerced, err := p.Items.coerce(fmt.Sprintf("%s[%d]", name, i), item)
				if err != nil {
					return nil, err
				}
				out[i] = coerced
			}
			return out, nil
		}
		return items, nil
	default:
		return v, nil
	}
}
