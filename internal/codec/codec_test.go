package codec

import (
	"errors"
	"strings"
	"testing"

	"github.com/werserk/kira/internal/types"
)

const sampleDoc = `---
id: task-20250115-0930-a7f2
entity_type: task
title: Review design doc
tags: [work, urgent]
status: doing
created_at: 2025-01-15T09:30:00Z
updated_at: 2025-01-15T09:45:12Z
---

# Review design doc

Depends on [[task-20250114-1400-xxxx]].
`

func TestParseSample(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got, _ := doc.FrontMatter.Get("id"); got != "task-20250115-0930-a7f2" {
		t.Errorf("id = %v", got)
	}
	if got, _ := doc.FrontMatter.Get("status"); got != "doing" {
		t.Errorf("status = %v", got)
	}
	tags, _ := doc.FrontMatter.Get("tags")
	seq, ok := tags.([]any)
	if !ok || len(seq) != 2 || seq[0] != "work" || seq[1] != "urgent" {
		t.Errorf("tags = %#v", tags)
	}
	if !strings.HasPrefix(doc.Body, "\n# Review design doc") {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestRoundTripByteStable(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	out := Serialize(doc)
	if string(out) != sampleDoc {
		t.Errorf("round trip changed bytes:\n--- got ---\n%s\n--- want ---\n%s", out, sampleDoc)
	}

	// A second pass must be a fixed point.
	doc2, err := Parse(out)
	if err != nil {
		t.Fatalf("re-Parse failed: %v", err)
	}
	if string(Serialize(doc2)) != string(out) {
		t.Error("second round trip is not a fixed point")
	}
}

func TestRoundTripNormalizesCRLF(t *testing.T) {
	crlf := strings.ReplaceAll(sampleDoc, "\n", "\r\n")
	doc, err := Parse([]byte(crlf))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if string(Serialize(doc)) != sampleDoc {
		t.Error("CRLF input did not normalize to the canonical form")
	}
}

func TestRoundTripAddsTrailingNewline(t *testing.T) {
	noTrailing := strings.TrimRight(sampleDoc, "\n")
	doc, err := Parse([]byte(noTrailing))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	out := string(Serialize(doc))
	if !strings.HasSuffix(out, ".\n") || strings.HasSuffix(out, "\n\n") {
		t.Errorf("trailing newline not normalized: %q", out[len(out)-4:])
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no opening fence", "id: x\n"},
		{"truncated", "---\nid: x\ntitle: y\n"},
		{"duplicate keys", "---\nid: a\nid: b\n---\n"},
		{"not a mapping", "---\n- a\n- b\n---\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.content))
			if !errors.Is(err, types.ErrMalformed) {
				t.Errorf("want ErrMalformed, got %v", err)
			}
		})
	}
}

func TestParseInvalidUTF8(t *testing.T) {
	_, err := Parse([]byte("---\nid: \xff\xfe\n---\n"))
	if !errors.Is(err, types.ErrMalformed) {
		t.Errorf("want ErrMalformed, got %v", err)
	}
}

func TestScalarQuoting(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"plain", "plain"},
		{"2025-01-15T09:30:00Z", "2025-01-15T09:30:00Z"},
		{"", `""`},
		{"true", `"true"`},
		{"42", `"42"`},
		{"a: b", `"a: b"`},
		{"[bracketed]", `"[bracketed]"`},
		{true, "true"},
		{false, "false"},
		{int64(7), "7"},
		{nil, "null"},
	}
	for _, tc := range cases {
		if got := emitScalar(tc.in); got != tc.want {
			t.Errorf("emitScalar(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestQuotedScalarRoundTrip(t *testing.T) {
	fm := NewMap()
	fm.Set("id", "note-1")
	fm.Set("title", "true")
	out := Serialize(&Document{FrontMatter: fm})
	doc, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got, _ := doc.FrontMatter.Get("title"); got != "true" {
		t.Errorf("quoted title decoded as %#v, want string \"true\"", got)
	}
}

func TestEmptyFrontMatter(t *testing.T) {
	doc, err := Parse([]byte("---\n---\n\nbody\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.FrontMatter.Len() != 0 {
		t.Errorf("front matter keys = %v", doc.FrontMatter.Keys())
	}
	if doc.Body != "\nbody\n" {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestNestedMapBlockStyle(t *testing.T) {
	inner := NewMap()
	inner.Set("depth", int64(2))
	inner.Set("label", "inner")
	fm := NewMap()
	fm.Set("id", "note-2")
	fm.Set("extra", inner)
	out := string(Serialize(&Document{FrontMatter: fm}))
	want := "---\nid: note-2\nextra:\n  depth: 2\n  label: inner\n---\n"
	if out != want {
		t.Errorf("got:\n%s\nwant:\n%s", out, want)
	}
}
