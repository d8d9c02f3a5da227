package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/werserk/kira/internal/clock"
	"github.com/werserk/kira/internal/logging"
	"github.com/werserk/kira/internal/schema"
	"github.com/werserk/kira/internal/types"
)

// Step is one planned tool call.
type Step struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	DryRun bool           `json:"dry_run"`
}

// Plan is the parsed planner output.
type Plan struct {
	Steps     []Step
	Reasoning string
}

// Result is the outcome of one agent request.
type Result struct {
	Status    string           `json:"status"` // "ok", "partial", "error"
	Results   []map[string]any `json:"results,omitempty"`
	Response  string           `json:"response,omitempty"`
	Error     string           `json:"error,omitempty"`
	TraceID   string           `json:"trace_id"`
	Timestamp string           `json:"timestamp"`
}

// Config tunes the executor.
type Config struct {
	// Timeout bounds each whole request (default 60s).
	Timeout time.Duration
	// DryRunFirst re-invokes every step with dry_run=true before executing.
	DryRunFirst bool
	// MaxToolCalls caps the plan length.
	MaxToolCalls int
	// MaxTokens bounds planner responses.
	MaxTokens int
}

// Executor runs the agent workflow: plan, optional dry-run, execute,
// verify/respond.
type Executor struct {
	router   *Router
	registry *Registry
	memory   *Memory
	clock    clock.Clock
	log      *logging.Logger
	cfg      Config
}

// NewExecutor wires the executor.
func NewExecutor(router *Router, registry *Registry, memory *Memory, c clock.Clock, log *logging.Logger, cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if c == nil {
		c = clock.System{}
	}
	return &Executor{router: router, registry: registry, memory: memory, clock: c, log: log, cfg: cfg}
}

// HandleRequest runs the full workflow for one user message. Errors are
// folded into the Result rather than returned: the adapter always gets a
// well-formed outcome to render.
func (e *Executor) HandleRequest(ctx context.Context, sessionID, userMessage string) *Result {
	traceID := uuid.NewString()
	result := &Result{
		Status:    "ok",
		TraceID:   traceID,
		Timestamp: schema.FormatTimestamp(e.clock.Now()),
	}
	log := e.log
	if log != nil {
		log = log.WithTrace(traceID)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	started := time.Now()
	plan, err := e.plan(ctx, sessionID, userMessage)
	if err != nil {
		return e.fail(result, log, err, started)
	}
	if len(plan.Steps) == 0 {
		result.Response = plan.Reasoning
		if result.Response == "" {
			result.Response = "Nothing to do."
		}
		e.remember(sessionID, userMessage, result.Response)
		return result
	}
	if len(plan.Steps) > e.cfg.MaxToolCalls {
		return e.fail(result, log,
			fmt.Errorf("plan has %d steps, limit is %d", len(plan.Steps), e.cfg.MaxToolCalls), started)
	}

	if e.cfg.DryRunFirst {
		for i, step := range plan.Steps {
			if _, err := e.registry.Call(ctx, step.Tool, step.Args, true); err != nil {
				return e.fail(result, log,
					fmt.Errorf("dry-run failed at step %d (%s): %w", i+1, step.Tool, err), started)
			}
		}
	}

	executed := 0
	for i, step := range plan.Steps {
		if ctx.Err() != nil {
			return e.fail(result, log, ctx.Err(), started)
		}
		stepResult, err := e.registry.Call(ctx, step.Tool, step.Args, step.DryRun)
		entry := map[string]any{"tool": step.Tool, "step": i + 1}
		if err != nil {
			entry["status"] = "error"
			entry["error"] = err.Error()
			result.Results = append(result.Results, entry)
			// First failure halts the plan; earlier successes stand.
			if executed > 0 {
				result.Status = "partial"
			} else {
				result.Status = "error"
			}
			result.Error = err.Error()
			break
		}
		entry["status"] = stepResult.Status
		if stepResult.Data != nil {
			entry["data"] = stepResult.Data
		}
		if stepResult.Error != "" {
			entry["error"] = stepResult.Error
		}
		result.Results = append(result.Results, entry)
		// A tool-reported error halts the plan just like a call failure.
		if stepResult.Status == "error" {
			if executed > 0 {
				result.Status = "partial"
			} else {
				result.Status = "error"
			}
			result.Error = stepResult.Error
			break
		}
		executed++
	}

	result.Response = e.respond(plan, result)
	e.remember(sessionID, userMessage, result.Response)

	if log != nil {
		log.Info("agent request handled", map[string]any{
			"session_id": sessionID,
			"status":     result.Status,
			"steps":      len(plan.Steps),
			"latency_ms": time.Since(started).Milliseconds(),
			"outcome":    result.Status,
		})
	}
	return result
}

// plan asks the planner for a JSON tool-call plan, retrying once with an
// explicit JSON-only reminder when the response cannot be parsed.
func (e *Executor) plan(ctx context.Context, sessionID, userMessage string) (*Plan, error) {
	system := systemPrompt(e.registry)
	messages := append(e.memory.ContextMessages(sessionID), Message{Role: "user", Content: userMessage})

	response, err := e.router.Complete(ctx, TaskPlanning, system, messages, e.cfg.MaxTokens)
	if err != nil {
		return nil, err
	}
	plan, parseErr := parsePlan(response)
	if parseErr == nil {
		return plan, nil
	}

	retryMessages := append(messages,
		Message{Role: "assistant", Content: response},
		Message{Role: "user", Content: jsonReminder},
	)
	response, err = e.router.Complete(ctx, TaskPlanning, system, retryMessages, e.cfg.MaxTokens)
	if err != nil {
		return nil, err
	}
	plan, parseErr = parsePlan(response)
	if parseErr != nil {
		return nil, &types.PlanningError{Kind: types.PlanUnparseable, Err: parseErr}
	}
	return plan, nil
}

// parsePlan accepts raw or code-fenced JSON.
func parsePlan(response string) (*Plan, error) {
	text := extractJSON(response)
	if text == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var raw struct {
		ToolCalls []Step `json:"tool_calls"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	for i := range raw.ToolCalls {
		if raw.ToolCalls[i].Tool == "" {
			return nil, fmt.Errorf("step %d has no tool name", i+1)
		}
		if raw.ToolCalls[i].Args == nil {
			raw.ToolCalls[i].Args = map[string]any{}
		}
	}
	return &Plan{Steps: raw.ToolCalls, Reasoning: raw.Reasoning}, nil
}

func extractJSON(response string) string {
	text := strings.TrimSpace(response)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// respond synthesizes the user-facing reply from per-step outcomes.
func (e *Executor) respond(plan *Plan, result *Result) string {
	var b strings.Builder
	for _, entry := range result.Results {
		tool, _ := entry["tool"].(string)
		status, _ := entry["status"].(string)
		switch status {
		case "ok":
			fmt.Fprintf(&b, "%s: done. ", tool)
		case "error":
			errMsg, _ := entry["error"].(string)
			fmt.Fprintf(&b, "%s: failed (%s). ", tool, errMsg)
		default:
			fmt.Fprintf(&b, "%s: %s. ", tool, status)
		}
	}
	if result.Status != "ok" && result.Error != "" {
		fmt.Fprintf(&b, "Stopped after the failure.")
	}
	return strings.TrimSpace(b.String())
}

func (e *Executor) fail(result *Result, log *logging.Logger, err error, started time.Time) *Result {
	result.Status = "error"
	if errors.Is(err, context.DeadlineExceeded) {
		result.Error = "timeout"
	} else {
		result.Error = err.Error()
	}
	if log != nil {
		log.Error("agent request failed", map[string]any{
			"latency_ms": time.Since(started).Milliseconds(),
			"outcome":    "error",
			"error":      map[string]any{"type": errorType(err), "message": result.Error},
		})
	}
	return result
}

func (e *Executor) remember(sessionID, userMessage, response string) {
	if e.memory != nil && response != "" {
		e.memory.AddTurn(sessionID, userMessage, response)
	}
}

func errorType(err error) string {
	var planErr *types.PlanningError
	if errors.As(err, &planErr) {
		return "planning_" + string(planErr.Kind)
	}
	var toolErr *types.ToolError
	if errors.As(err, &toolErr) {
		return "tool_error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
