// Package codec parses and serializes vault documents: a YAML front-matter
// block between --- fences followed by a Markdown body.
//
// The serializer is deterministic so that parse/serialize round-trips are
// byte-stable: front-matter keys keep their insertion order, scalars are
// re-emitted with a fixed quoting policy, and the body is preserved verbatim
// apart from newline normalization.
package codec

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/werserk/kira/internal/types"
)

// Document is one parsed vault file.
type Document struct {
	FrontMatter *Map
	// Body is the raw remainder after the closing fence, including any
	// leading blank lines, normalized to \n line endings.
	Body string
}

const fence = "---"

// Parse splits content into front-matter and body. Line endings are
// normalized (\r\n -> \n) before parsing. Returns a *types.CodecError
// (matching types.ErrMalformed) on truncated front-matter, duplicate keys,
// or invalid UTF-8.
func Parse(content []byte) (*Document, error) {
	if !utf8.Valid(content) {
		return nil, &types.CodecError{Reason: "invalid UTF-8"}
	}
	text := strings.ReplaceAll(string(content), "\r\n", "\n")

	if !strings.HasPrefix(text, fence+"\n") {
		return nil, &types.CodecError{Reason: "missing opening front-matter fence"}
	}
	rest := text[len(fence)+1:]
	end := findClosingFence(rest)
	if end < 0 {
		return nil, &types.CodecError{Reason: "truncated front-matter: no closing fence"}
	}
	fmText := rest[:end]
	body := rest[end+len(fence):]
	body = strings.TrimPrefix(body, "\n")

	fm, err := parseFrontMatter(fmText)
	if err != nil {
		return nil, err
	}
	return &Document{FrontMatter: fm, Body: body}, nil
}

// findClosingFence returns the offset in s of a line consisting solely of
// "---", or -1. The fence must start at a line boundary.
func findClosingFence(s string) int {
	offset := 0
	for {
		line := s[offset:]
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			if line[:i] == fence {
				return offset
			}
			offset += i + 1
		} else {
			if line == fence {
				return offset
			}
			return -1
		}
	}
}

// Serialize emits the document deterministically. The result always ends
// with exactly one trailing newline.
func Serialize(doc *Document) []byte {
	var b strings.Builder
	b.WriteString(fence)
	b.WriteByte('\n')
	emitMap(&b, doc.FrontMatter, 0)
	b.WriteString(fence)
	b.WriteByte('\n')
	body := strings.ReplaceAll(doc.Body, "\r\n", "\n")
	b.WriteString(body)
	out := b.String()
	out = strings.TrimRight(out, "\n") + "\n"
	return []byte(out)
}

func parseFrontMatter(text string) (*Map, error) {
	if strings.TrimSpace(text) == "" {
		return NewMap(), nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return nil, &types.CodecError{Reason: fmt.Sprintf("front-matter is not valid YAML: %v", err)}
	}
	if len(root.Content) == 0 {
		return NewMap(), nil
	}
	node := root.Content[0]
	if node.Kind != yaml.MappingNode {
		return nil, &types.CodecError{Reason: "front-matter is not a mapping"}
	}
	return mapFromNode(node)
}

func mapFromNode(node *yaml.Node) (*Map, error) {
	m := NewMap()
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]
		key := keyNode.Value
		if _, exists := m.Get(key); exists {
			return nil, &types.CodecError{Reason: fmt.Sprintf("duplicate front-matter key %q", key)}
		}
		v, err := valueFromNode(valNode)
		if err != nil {
			return nil, err
		}
		m.Set(key, v)
	}
	return m, nil
}

// valueFromNode converts a YAML node to the codec value model. Timestamps
// are deliberately kept as their raw string form; the vault layer owns
// time parsing.
func valueFromNode(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.Tag {
		case "!!null":
			return nil, nil
		case "!!bool":
			return node.Value == "true" || node.Value == "True", nil
		case "!!int":
			n, err := strconv.ParseInt(node.Value, 10, 64)
			if err != nil {
				return node.Value, nil
			}
			return n, nil
		case "!!float":
			f, err := strconv.ParseFloat(node.Value, 64)
			if err != nil {
				return node.Value, nil
			}
			return f, nil
		default:
			return node.Value, nil
		}
	case yaml.SequenceNode:
		seq := make([]any, 0, len(node.Content))
		for _, c := range node.Content {
			v, err := valueFromNode(c)
			if err != nil {
				return nil, err
			}
			seq = append(seq, v)
		}
		return seq, nil
	case yaml.MappingNode:
		return mapFromNode(node)
	case yaml.AliasNode:
		return valueFromNode(node.Alias)
	default:
		return nil, &types.CodecError{Reason: fmt.Sprintf("unsupported YAML node kind %d", node.Kind)}
	}
}

func emitMap(b *strings.Builder, m *Map, indent int) {
	pad := strings.Repeat("  ", indent)
	for _, key := range m.Keys() {
		v, _ := m.Get(key)
		switch vv := v.(type) {
		case *Map:
			fmt.Fprintf(b, "%s%s:\n", pad, key)
			emitMap(b, vv, indent+1)
		case []any:
			if isScalarSeq(vv) {
				fmt.Fprintf(b, "%s%s: %s\n", pad, key, flowSeq(vv))
			} else {
				fmt.Fprintf(b, "%s%s:\n", pad, key)
				emitBlockSeq(b, vv, indent+1)
			}
		default:
			fmt.Fprintf(b, "%s%s: %s\n", pad, key, emitScalar(v))
		}
	}
}

func emitBlockSeq(b *strings.Builder, seq []any, indent int) {
	pad := strings.Repeat("  ", indent)
	for _, item := range seq {
		switch vv := item.(type) {
		case *Map:
			first := true
			for _, key := range vv.Keys() {
				iv, _ := vv.Get(key)
				prefix := pad + "  "
				if first {
					prefix = pad + "- "
					first = false
				}
				switch ivv := iv.(type) {
				case *Map:
					fmt.Fprintf(b, "%s%s:\n", prefix, key)
					emitMap(b, ivv, indent+2)
				case []any:
					fmt.Fprintf(b, "%s%s: %s\n", prefix, key, flowSeq(ivv))
				default:
					fmt.Fprintf(b, "%s%s: %s\n", prefix, key, emitScalar(iv))
				}
			}
			if first {
				fmt.Fprintf(b, "%s- {}\n", pad)
			}
		default:
			fmt.Fprintf(b, "%s- %s\n", pad, emitScalar(item))
		}
	}
}

func isScalarSeq(seq []any) bool {
	for _, item := range seq {
		switch item.(type) {
		case *Map, []any:
			return false
		}
	}
	return true
}

func flowSeq(seq []any) string {
	parts := make([]string, len(seq))
	for i, item := range seq {
		parts[i] = emitScalar(item)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func emitScalar(v any) string {
	switch vv := v.(type) {
	case nil:
		return "null"
	case bool:
		if vv {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case float64:
		return strconv.FormatFloat(vv, 'g', -1, 64)
	case string:
		if needsQuoting(vv) {
			return strconv.Quote(vv)
		}
		return vv
	default:
		return strconv.Quote(fmt.Sprintf("%v", v))
	}
}

// needsQuoting implements the fixed quoting policy: plain style unless the
// scalar would be ambiguous or change meaning when re-parsed.
func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	if s != strings.TrimSpace(s) {
		return true
	}
	switch strings.ToLower(s) {
	case "true", "false", "null", "~", "yes", "no", "on", "off":
		return true
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	switch s[0] {
	case '!', '&', '*', '-', '?', '|', '>', '%', '@', '`', '"', '\'', '[', ']', '{', '}', '#', ',':
		return true
	}
	if strings.Contains(s, ": ") || strings.HasSuffix(s, ":") {
		return true
	}
	if strings.Contains(s, " #") || strings.ContainsAny(s, "\n\t") {
		return true
	}
	// Flow-sequence metacharacters, since scalar sequences emit in flow style.
	if strings.ContainsAny(s, "[]{},") {
		return true
	}
	return false
}
