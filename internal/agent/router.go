package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/werserk/kira/internal/logging"
	"github.com/werserk/kira/internal/types"
)

// TaskType selects which provider chain handles a request.
type TaskType string

const (
	TaskPlanning    TaskType = "planning"
	TaskStructuring TaskType = "structuring"
	TaskDefault     TaskType = "default"
)

// Router selects among configured providers by task type. Failure of one
// provider falls through to the next in priority order before surfacing an
// error.
type Router struct {
	chains map[TaskType][]Provider
	log    *logging.Logger
}

// NewRouter returns an empty router.
func NewRouter(log *logging.Logger) *Router {
	return &Router{chains: make(map[TaskType][]Provider), log: log}
}

// AddProvider appends p to the chain for task. Lower positions are tried
// first; a local fallback goes last.
func (r *Router) AddProvider(task TaskType, p Provider) {
	r.chains[task] = append(r.chains[task], p)
}

// Complete routes the request through the chain for task, falling back to
// the default chain when task has none configured.
func (r *Router) Complete(ctx context.Context, task TaskType, system string, messages []Message, maxTokens int) (string, error) {
	chain := r.chains[task]
	if len(chain) == 0 {
		chain = r.chains[TaskDefault]
	}
	if len(chain) == 0 {
		return "", &types.PlanningError{Kind: types.PlanProviderFailure, Err: fmt.Errorf("no providers configured for task %q", task)}
	}

	var errs []error
	for _, p := range chain {
		response, err := p.Complete(ctx, system, messages, maxTokens)
		if err == nil {
			return response, nil
		}
		if ctx.Err() != nil {
			return "", &types.PlanningError{Kind: types.PlanTimeout, Err: ctx.Err()}
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if r.log != nil {
			r.log.Warn("provider failed, trying next", map[string]any{
				"provider": p.Name(),
				"task":     string(task),
				"error":    map[string]any{"type": "provider_error", "message": err.Error()},
			})
		}
	}
	return "", &types.PlanningError{Kind: types.PlanProviderFailure, Err: errors.Join(errs...)}
}
