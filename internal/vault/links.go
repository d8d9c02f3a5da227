package vault

import (
	"regexp"
	"sort"
	"sync"

	"github.com/werserk/kira/internal/types"
)

var wikilinkRe = regexp.MustCompile(`\[\[([A-Za-z0-9][A-Za-z0-9._-]*)\]\]`)

// edge is one directed link with its type tag.
type edge struct {
	target string
	typ    types.LinkType
}

// linkIndex is the in-memory bidirectional adjacency map. It is hydrated on
// startup by parsing every entity and re-derived per write from the diff of
// old and new links. Reads take the RLock and tolerate the index advancing
// between calls.
type linkIndex struct {
	mu       sync.RWMutex
	outgoing map[string][]edge
	incoming map[string][]edge
}

func newLinkIndex() *linkIndex {
	return &linkIndex{
		outgoing: make(map[string][]edge),
		incoming: make(map[string][]edge),
	}
}

// extractLinks derives the outgoing edges of an entity: wikilinks from the
// body and depends_on references from metadata. Duplicate representations of
// the same (target, type) pair coalesce into one edge.
func extractLinks(e *types.Entity) []edge {
	seen := make(map[edge]bool)
	var out []edge
	add := func(target string, typ types.LinkType) {
		ed := edge{target: target, typ: typ}
		if !seen[ed] {
			seen[ed] = true
			out = append(out, ed)
		}
	}
	for _, m := range wikilinkRe.FindAllStringSubmatch(e.Body, -1) {
		add(m[1], types.LinkWikilink)
	}
	for _, dep := range e.DependsOn() {
		add(dep, types.LinkDependsOn)
	}
	return out
}

// set replaces the outgoing edges of source, updating both endpoints.
func (idx *linkIndex) set(source string, edges []edge) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(source)
	if len(edges) > 0 {
		idx.outgoing[source] = edges
		for _, ed := range edges {
			idx.incoming[ed.target] = append(idx.incoming[ed.target], edge{target: source, typ: ed.typ})
		}
	}
}

// remove drops source's outgoing edges and any incoming edges recorded for
// it at other endpoints. Incoming edges pointing at source from elsewhere
// remain; they surface as broken links once source is gone.
func (idx *linkIndex) remove(source string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(source)
}

func (idx *linkIndex) removeLocked(source string) {
	for _, ed := range idx.outgoing[source] {
		in := idx.incoming[ed.target]
		filtered := in[:0]
		for _, rev := range in {
			if rev.target != source || rev.typ != ed.typ {
				filtered = append(filtered, rev)
			}
		}
		if len(filtered) == 0 {
			delete(idx.incoming, ed.target)
		} else {
			idx.incoming[ed.target] = filtered
		}
	}
	delete(idx.outgoing, source)
}

// query returns the links touching id in the requested direction. known
// resolves whether a target exists so broken links can be flagged.
func (idx *linkIndex) query(id string, direction types.LinkDirection, known func(string) bool) []types.Link {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []types.Link
	if direction == types.LinkOut || direction == types.LinkBoth {
		for _, ed := range idx.outgoing[id] {
			out = append(out, types.Link{
				Source: id,
				Target: ed.target,
				Type:   ed.typ,
				Broken: !known(ed.target),
			})
		}
	}
	if direction == types.LinkIn || direction == types.LinkBoth {
		for _, ed := range idx.incoming[id] {
			out = append(out, types.Link{Source: ed.target, Target: id, Type: ed.typ})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// all returns every indexed link, for the graph validator.
func (idx *linkIndex) all(known func(string) bool) []types.Link {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	sources := make([]string, 0, len(idx.outgoing))
	for s := range idx.outgoing {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	var out []types.Link
	for _, s := range sources {
		for _, ed := range idx.outgoing[s] {
			out = append(out, types.Link{
				Source: s,
				Target: ed.target,
				Type:   ed.typ,
				Broken: !known(ed.target),
			})
		}
	}
	return out
}
