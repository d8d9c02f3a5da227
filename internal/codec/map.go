package codec

import "sort"

// Map is a string-keyed mapping that preserves insertion order, the unit of
// front-matter round-trip stability.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap returns an empty ordered map.
func NewMap() *Map {
	return &Map{values: make(map[string]any)}
}

// Set inserts or replaces key. A new key is appended to the key order;
// replacing an existing key keeps its position.
func (m *Map) Set(key string, v any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value for key and whether it is present.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Delete removes key, preserving the order of the remaining keys.
func (m *Map) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order. The slice is shared; callers
// must not mutate it.
func (m *Map) Keys() []string { return m.keys }

// Len returns the number of keys.
func (m *Map) Len() int { return len(m.keys) }

// ToNative deep-converts the map to plain map[string]any for consumers that
// do not care about ordering (schema validation, JSON output).
func (m *Map) ToNative() map[string]any {
	out := make(map[string]any, len(m.keys))
	for _, k := range m.keys {
		out[k] = toNativeValue(m.values[k])
	}
	return out
}

func toNativeValue(v any) any {
	switch vv := v.(type) {
	case *Map:
		return vv.ToNative()
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = toNativeValue(item)
		}
		return out
	default:
		return v
	}
}

// FromNative builds an ordered map from a plain map using the supplied key
// order; keys missing from order are appended in sorted order so the result
// is deterministic regardless of map iteration.
func FromNative(data map[string]any, order []string) *Map {
	m := NewMap()
	seen := make(map[string]bool, len(order))
	for _, k := range order {
		if v, ok := data[k]; ok {
			m.Set(k, fromNativeValue(v))
			seen[k] = true
		}
	}
	var rest []string
	for k := range data {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		m.Set(k, fromNativeValue(data[k]))
	}
	return m
}

func fromNativeValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return FromNative(vv, nil)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = fromNativeValue(item)
		}
		return out
	case []string:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = item
		}
		return out
	default:
		return v
	}
}
