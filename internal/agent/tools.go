package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/werserk/kira/internal/types"
)

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// OK builds a success result.
func OK(data map[string]any) *ToolResult {
	return &ToolResult{Status: "ok", Data: data}
}

// Tool is one callable contract exposed to the planner. Execute with
// dryRun=true must validate and simulate without reaching the single
// writer.
type Tool interface {
	Name() string
	Description() string
	Parameters() *ArgSpec
	Execute(ctx context.Context, args map[string]any, dryRun bool) (*ToolResult, error)
}

// Registry holds the tools available to the agent.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the tool but keeps
// its position.
func (r *Registry) Register(t Tool) {
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Call validates args against the tool's spec and executes it. Validation
// failures surface as ValidationError before the tool runs; tool-internal
// failures are wrapped in ToolError.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any, dryRun bool) (*ToolResult, error) {
	t := r.tools[name]
	if t == nil {
		suggestion := r.closest(name)
		msg := fmt.Sprintf("unknown tool %q", name)
		if suggestion != "" {
			msg = fmt.Sprintf("unknown tool %q (did you mean %q?)", name, suggestion)
		}
		return nil, &types.ToolError{Tool: name, Err: fmt.Errorf("%s", msg)}
	}
	coerced, err := t.Parameters().ValidateArgs(name, args)
	if err != nil {
		return nil, err
	}
	result, err := t.Execute(ctx, coerced, dryRun)
	if err != nil {
		return nil, &types.ToolError{Tool: name, Err: err}
	}
	return result, nil
}

// closest finds the registered name with the smallest edit distance to
// name, within a small cutoff.
func (r *Registry) closest(name string) string {
	best := ""
	bestDist := 4 // suggestions beyond this distance are noise
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	for _, candidate := range names {
		if d := editDistance(name, candidate); d < bestDist {
			bestDist = d
			best = candidate
		}
	}
	return best
}

func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(min(curr[j-1]+1, prev[j]+1), prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
