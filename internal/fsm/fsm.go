// Package fsm implements the task state machine: the edge table, the guards
// that enforce business invariants before any vault write, and the hook
// dispatch on accepted transitions.
package fsm

import (
	"fmt"

	"github.com/werserk/kira/internal/bus"
	"github.com/werserk/kira/internal/clock"
	"github.com/werserk/kira/internal/logging"
	"github.com/werserk/kira/internal/schema"
	"github.com/werserk/kira/internal/types"
)

// validTransitions is the edge table. Anything absent fails with
// InvalidTransitionError unless force is set (reserved for migrations).
var validTransitions = map[types.Status][]types.Status{
	types.StatusTodo:    {types.StatusDoing, types.StatusBlocked, types.StatusDone},
	types.StatusDoing:   {types.StatusReview, types.StatusBlocked, types.StatusDone},
	types.StatusReview:  {types.StatusDone, types.StatusDoing, types.StatusBlocked},
	types.StatusDone:    {types.StatusDoing},
	types.StatusBlocked: {types.StatusTodo, types.StatusDoing},
}

// HookContext is passed to per-state hooks on a successful transition.
type HookContext struct {
	TaskID        string
	From          types.Status
	To            types.Status
	Reason        string
	Mutations     map[string]any
	CorrelationID string
}

// Hook runs after a task enters its target state. Errors are logged and
// suppressed.
type Hook func(HookContext) error

// FSM validates task state transitions and dispatches hooks.
type FSM struct {
	clock clock.Clock
	bus   *bus.Bus
	log   *logging.Logger
	hooks map[types.Status][]Hook
}

// New builds an FSM. bus and log may be nil: with no bus, task.enter_*
// events are not published; with no log, hook failures are not logged.
// Hooks run either way.
func New(c clock.Clock, b *bus.Bus, log *logging.Logger) *FSM {
	return &FSM{
		clock: c,
		bus:   b,
		log:   log,
		hooks: make(map[types.Status][]Hook),
	}
}

// RegisterHook adds a callback invoked when a task enters state. Hooks run
// in registration order.
func (f *FSM) RegisterHook(state types.Status, h Hook) {
	f.hooks[state] = append(f.hooks[state], h)
}

// CanTransition reports whether from -> to is in the edge table.
func (f *FSM) CanTransition(from, to types.Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Guard validates from -> to against the edge table and the guard rules and
// returns the mutations the FSM contributes to the patch (done_ts,
// estimate_frozen, cleared fields). data is the task metadata as it would
// look after the caller's patch. No state is written here; the vault merges
// the mutations and performs the write.
func (f *FSM) Guard(from, to types.Status, data map[string]any, reason string, force bool) (map[string]any, error) {
	if !to.Valid() {
		return nil, types.NewValidationError(types.EntityTask, "status", fmt.Sprintf("unknown status %q", to))
	}
	if !force && !f.CanTransition(from, to) {
		return nil, &types.InvalidTransitionError{From: from, To: to}
	}

	mutations := make(map[string]any)

	// todo -> doing needs an owner or a scheduled start.
	if from == types.StatusTodo && to == types.StatusDoing {
		assignee, _ := data["assignee"].(string)
		startTS, _ := data["start_ts"].(string)
		if assignee == "" && startTS == "" {
			return nil, &types.FSMGuardError{
				Code:    types.GuardNeedsAssignment,
				From:    from,
				To:      to,
				Message: "todo -> doing requires assignee or start_ts",
			}
		}
	}

	// Entering done stamps done_ts and freezes the estimate.
	if to == types.StatusDone {
		if ts, _ := data["done_ts"].(string); ts == "" {
			mutations["done_ts"] = schema.FormatTimestamp(f.clock.Now())
		}
		if est, _ := data["estimate"].(string); est != "" {
			mutations["estimate_frozen"] = true
		}
	}

	// Reopening requires a reason and clears the completion stamp.
	if from == types.StatusDone && to == types.StatusDoing {
		reopenReason, _ := data["reopen_reason"].(string)
		if reopenReason == "" {
			reopenReason = reason
		}
		if reopenReason == "" {
			return nil, &types.FSMGuardError{
				Code:    types.GuardMissingReopenReason,
				From:    from,
				To:      to,
				Message: "done -> doing requires a non-empty reopen_reason",
			}
		}
		mutations["reopen_reason"] = reopenReason
		mutations["done_ts"] = nil
	}

	if to == types.StatusBlocked {
		blockedReason, _ := data["blocked_reason"].(string)
		if blockedReason == "" {
			blockedReason = reason
		}
		if blockedReason == "" {
			return nil, &types.FSMGuardError{
				Code:    types.GuardMissingBlockReason,
				From:    from,
				To:      to,
				Message: "transition to blocked requires a non-empty reason",
			}
		}
		mutations["blocked_reason"] = blockedReason
	}

	return mutations, nil
}

// EmitEntered runs the hooks for the target state and publishes
// task.enter_<state>. Called by the vault after the transition committed.
func (f *FSM) EmitEntered(ctx HookContext) {
	for _, h := range f.hooks[ctx.To] {
		if err := h(ctx); err != nil && f.log != nil {
			f.log.Error("transition hook failed", map[string]any{
				"entity_id":      ctx.TaskID,
				"to_state":       string(ctx.To),
				"correlation_id": ctx.CorrelationID,
				"error":          map[string]any{"type": "hook_error", "message": err.Error()},
			})
		}
	}
	if f.bus != nil {
		f.bus.Publish("task.enter_"+string(ctx.To), map[string]any{
			"task_id":    ctx.TaskID,
			"from_state": string(ctx.From),
			"to_state":   string(ctx.To),
			"reason":     ctx.Reason,
			"mutations":  ctx.Mutations,
		}, ctx.CorrelationID)
	}
}
