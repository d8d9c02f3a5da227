// Package graph validates the entity graph: dependency cycles, orphaned
// entities, broken links, and near-duplicate titles.
package graph

import (
	"sort"
	"strings"

	"github.com/werserk/kira/internal/types"
)

// DefaultDuplicateThreshold is the Jaccard similarity at or above which two
// same-type titles are reported as near-duplicates.
const DefaultDuplicateThreshold = 0.85

// Options tunes a validation run.
type Options struct {
	// IgnoreTypes excludes entity types from orphan detection.
	IgnoreTypes []types.EntityType
	// IgnoreFolders excludes vault folders (e.g. "journal") from orphan
	// detection.
	IgnoreFolders []string
	// DuplicateThreshold overrides DefaultDuplicateThreshold when > 0.
	DuplicateThreshold float64
}

// DuplicatePair is one near-duplicate title pair of the same entity type.
type DuplicatePair struct {
	A          string  `json:"a"`
	B          string  `json:"b"`
	TitleA     string  `json:"title_a"`
	TitleB     string  `json:"title_b"`
	Similarity float64 `json:"similarity"`
}

// Report is the result of one validation run.
type Report struct {
	Orphans       []string        `json:"orphans"`
	Cycles        [][]string      `json:"cycles"`
	BrokenLinks   []types.Link    `json:"broken_links"`
	Duplicates    []DuplicatePair `json:"duplicates"`
	TotalEntities int             `json:"total_entities"`
	TotalLinks    int             `json:"total_links"`
}

// HasIssues reports whether any of the four lists is non-empty.
func (r *Report) HasIssues() bool {
	return len(r.Orphans) > 0 || len(r.Cycles) > 0 || len(r.BrokenLinks) > 0 || len(r.Duplicates) > 0
}

// Validate runs all four checks over the supplied entities and link index.
func Validate(entities []*types.Entity, links []types.Link, opts Options) *Report {
	report := &Report{
		TotalEntities: len(entities),
		TotalLinks:    len(links),
	}

	known := make(map[string]*types.Entity, len(entities))
	for _, e := range entities {
		known[e.ID] = e
	}

	report.BrokenLinks = brokenLinks(known, links)
	report.Cycles = dependencyCycles(known, links)
	report.Orphans = orphans(entities, links, opts)
	report.Duplicates = FindDuplicates(entities, opts.DuplicateThreshold)
	return report
}

func brokenLinks(known map[string]*types.Entity, links []types.Link) []types.Link {
	var broken []types.Link
	for _, l := range links {
		if _, ok := known[l.Target]; !ok {
			broken = append(broken, types.Link{Source: l.Source, Target: l.Target, Type: l.Type, Broken: true})
		}
	}
	sort.Slice(broken, func(i, j int) bool {
		if broken[i].Source != broken[j].Source {
			return broken[i].Source < broken[j].Source
		}
		return broken[i].Target < broken[j].Target
	})
	return broken
}

// dependencyCycles finds strongly-connected components of size >= 2 in the
// depends_on subgraph using Tarjan's algorithm. Self-loops are rejected at
// insertion so cannot appear. Each cycle is rotated to start with its
// lexicographically smallest ID; cycles are sorted by that ID.
func dependencyCycles(known map[string]*types.Entity, links []types.Link) [][]string {
	adj := make(map[string][]string)
	for _, l := range links {
		if l.Type != types.LinkDependsOn {
			continue
		}
		if _, ok := known[l.Target]; !ok {
			continue
		}
		adj[l.Source] = append(adj[l.Source], l.Target)
	}
	for _, targets := range adj {
		sort.Strings(targets)
	}

	nodes := make([]string, 0, len(adj))
	for id := range adj {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	t := &tarjan{
		adj:     adj,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
	}
	for _, id := range nodes {
		if _, visited := t.index[id]; !visited {
			t.strongConnect(id)
		}
	}

	var cycles [][]string
	for _, scc := range t.sccs {
		if len(scc) < 2 {
			continue
		}
		cycles = append(cycles, rotateToSmallest(scc))
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

type tarjan struct {
	adj     map[string][]string
	index   map[string]int
	lowlink map[string]int
	onStack map[string]bool
	stack   []string
	counter int
	sccs    [][]string
}

func (t *tarjan) strongConnect(v string) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.adj[v] {
		if _, visited := t.index[w]; !visited {
			t.strongConnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] && t.index[w] < t.lowlink[v] {
			t.lowlink[v] = t.index[w]
		}
	}

	if t.lowlink[v] == t.index[v] {
		var scc []string
		for {
			w := t.stack[len(t.stack)-1]
			t.stack = t.stack[:len(t.stack)-1]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}

// rotateToSmallest reorders the SCC to start at its lexicographically
// smallest member while preserving the cycle order discovered by Tarjan.
func rotateToSmallest(scc []string) []string {
	smallest := 0
	for i, id := range scc {
		if id < scc[smallest] {
			smallest = i
		}
	}
	out := make([]string, 0, len(scc))
	out = append(out, scc[smallest:]...)
	out = append(out, scc[:smallest]...)
	return out
}

func orphans(entities []*types.Entity, links []types.Link, opts Options) []string {
	degree := make(map[string]int)
	for _, l := range links {
		degree[l.Source]++
		degree[l.Target]++
	}

	ignoreType := make(map[types.EntityType]bool, len(opts.IgnoreTypes))
	for _, t := range opts.IgnoreTypes {
		ignoreType[t] = true
	}
	ignoreFolder := make(map[string]bool, len(opts.IgnoreFolders))
	for _, f := range opts.IgnoreFolders {
		ignoreFolder[f] = true
	}

	var out []string
	for _, e := range entities {
		if degree[e.ID] > 0 {
			continue
		}
		if ignoreType[e.Type] || ignoreFolder[e.Type.Folder()] {
			continue
		}
		out = append(out, e.ID)
	}
	sort.Strings(out)
	return out
}

// FindDuplicates reports same-type entity pairs whose normalized title terms
// have Jaccard similarity >= threshold. Exact title matches score 1.0.
func FindDuplicates(entities []*types.Entity, threshold float64) []DuplicatePair {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}

	byType := make(map[types.EntityType][]*types.Entity)
	for _, e := range entities {
		byType[e.Type] = append(byType[e.Type], e)
	}

	var pairs []DuplicatePair
	for _, group := range byType {
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		terms := make([]map[string]bool, len(group))
		for i, e := range group {
			terms[i] = titleTerms(e.Title)
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				sim := jaccard(terms[i], terms[j])
				if normalizeTitle(group[i].Title) == normalizeTitle(group[j].Title) {
					sim = 1.0
				}
				if sim >= threshold {
					pairs = append(pairs, DuplicatePair{
						A:          group[i].ID,
						B:          group[j].ID,
						TitleA:     group[i].Title,
						TitleB:     group[j].Title,
						Similarity: sim,
					})
				}
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "the": true, "to": true, "with": true,
}

func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '-' || r == '_':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func titleTerms(title string) map[string]bool {
	terms := make(map[string]bool)
	for _, w := range strings.Fields(normalizeTitle(title)) {
		if !stopWords[w] {
			terms[w] = true
		}
	}
	return terms
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for term := range a {
		if b[term] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
