package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/werserk/kira/internal/clock"
	"github.com/werserk/kira/internal/pipeline"
	"github.com/werserk/kira/internal/schema"
	"github.com/werserk/kira/internal/types"
	"github.com/werserk/kira/internal/vault"
)

// Deps carries the services the standard tools operate on.
type Deps struct {
	Vault  *vault.Store
	Rollup *pipeline.Rollup
	Inbox  *pipeline.Inbox
	Clock  clock.Clock
}

// RegisterStandardTools registers the built-in vault tools on r.
func RegisterStandardTools(r *Registry, deps Deps) {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	r.Register(&taskCreateTool{deps})
	r.Register(&taskUpdateTool{deps})
	r.Register(&taskDeleteTool{deps})
	r.Register(&taskGetTool{deps})
	r.Register(&taskListTool{deps})
	if deps.Rollup != nil {
		r.Register(&rollupDailyTool{deps})
	}
	if deps.Inbox != nil {
		r.Register(&inboxNormalizeTool{deps})
	}
}

// parseWhen accepts an RFC-3339 timestamp, a bare date, or a natural
// language phrase ("tomorrow 5pm") and returns the canonical RFC-3339 UTC
// form.
func parseWhen(s string, c clock.Clock) (string, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return schema.FormatTimestamp(t), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return schema.FormatTimestamp(t), nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	result, err := w.Parse(s, c.Now())
	if err != nil || result == nil {
		return "", fmt.Errorf("cannot parse timestamp %q", s)
	}
	return schema.FormatTimestamp(result.Time), nil
}

func entityData(e *types.Entity) map[string]any {
	data := map[string]any{
		"id":          e.ID,
		"entity_type": string(e.Type),
		"title":       e.Title,
		"tags":        e.Tags,
		"created_at":  schema.FormatTimestamp(e.CreatedAt),
		"updated_at":  schema.FormatTimestamp(e.UpdatedAt),
	}
	for k, v := range e.Metadata {
		data[k] = v
	}
	return data
}

type taskCreateTool struct{ deps Deps }

func (t *taskCreateTool) Name() string { return "task_create" }
func (t *taskCreateTool) Description() string {
	return "Create a new task in the vault"
}
func (t *taskCreateTool) Parameters() *ArgSpec {
	return &ArgSpec{
		Properties: map[string]*Prop{
			"title":    {Type: "string", Description: "Task title"},
			"tags":     {Type: "array", Items: &Prop{Type: "string"}, Description: "Task tags"},
			"due_ts":   {Type: "string", Description: "Due timestamp (ISO 8601 or natural language)"},
			"assignee": {Type: "string", Description: "Task assignee"},
			"priority": {Type: "string", Enum: []string{"low", "medium", "high"}, Description: "Task priority"},
			"estimate": {Type: "string", Description: "Time estimate (e.g. 2h30m)"},
		},
		Required: []string{"title"},
	}
}

func (t *taskCreateTool) Execute(_ context.Context, args map[string]any, dryRun bool) (*ToolResult, error) {
	data := map[string]any{"title": args["title"]}
	if tags, ok := args["tags"]; ok {
		data["tags"] = tags
	}
	for _, key := range []string{"assignee", "priority", "estimate"} {
		if v, ok := args[key]; ok {
			data[key] = v
		}
	}
	if due, ok := args["due_ts"].(string); ok && due != "" {
		ts, err := parseWhen(due, t.deps.Clock)
		if err != nil {
			return &ToolResult{Status: "error", Error: err.Error()}, nil
		}
		data["due_ts"] = ts
	}

	if dryRun {
		return OK(map[string]any{"dry_run": true, "would_create": data}), nil
	}
	entity, err := t.deps.Vault.Create(types.EntityTask, data, "")
	if err != nil {
		return nil, err
	}
	return OK(map[string]any{"task": entityData(entity)}), nil
}

type taskUpdateTool struct{ deps Deps }

func (t *taskUpdateTool) Name() string { return "task_update" }
func (t *taskUpdateTool) Description() string {
	return "Update fields or status of an existing task"
}
func (t *taskUpdateTool) Parameters() *ArgSpec {
	return &ArgSpec{
		Properties: map[string]*Prop{
			"uid":      {Type: "string", Description: "Task ID"},
			"title":    {Type: "string", Description: "New title"},
			"status":   {Type: "string", Enum: []string{"todo", "doing", "review", "done", "blocked"}, Description: "New status"},
			"assignee": {Type: "string", Description: "New assignee"},
			"due_ts":   {Type: "string", Description: "New due timestamp"},
			"reason":   {Type: "string", Description: "Transition reason (required for blocked and reopening)"},
		},
		Required: []string{"uid"},
	}
}

func (t *taskUpdateTool) Execute(_ context.Context, args map[string]any, dryRun bool) (*ToolResult, error) {
	uid := args["uid"].(string)
	patch := make(map[string]any)
	for _, key := range []string{"title", "status", "assignee", "reason"} {
		if v, ok := args[key]; ok {
			patch[key] = v
		}
	}
	if due, ok := args["due_ts"].(string); ok && due != "" {
		ts, err := parseWhen(due, t.deps.Clock)
		if err != nil {
			return &ToolResult{Status: "error", Error: err.Error()}, nil
		}
		patch["due_ts"] = ts
	}

	if dryRun {
		if _, err := t.deps.Vault.Get(uid); err != nil {
			return nil, err
		}
		return OK(map[string]any{"dry_run": true, "would_patch": patch}), nil
	}
	entity, err := t.deps.Vault.Update(uid, patch)
	if err != nil {
		return nil, err
	}
	return OK(map[string]any{"task": entityData(entity)}), nil
}

type taskDeleteTool struct{ deps Deps }

func (t *taskDeleteTool) Name() string { return "task_delete" }
func (t *taskDeleteTool) Description() string {
	return "Delete a task from the vault"
}
func (t *taskDeleteTool) Parameters() *ArgSpec {
	return &ArgSpec{
		Properties: map[string]*Prop{
			"uid": {Type: "string", Description: "Task ID to delete"},
		},
		Required: []string{"uid"},
	}
}

func (t *taskDeleteTool) Execute(_ context.Context, args map[string]any, dryRun bool) (*ToolResult, error) {
	uid := args["uid"].(string)
	if dryRun {
		if _, err := t.deps.Vault.Get(uid); err != nil {
			return nil, err
		}
		return OK(map[string]any{"dry_run": true, "would_delete": uid}), nil
	}
	if err := t.deps.Vault.Delete(uid); err != nil {
		return nil, err
	}
	return OK(map[string]any{"deleted": uid}), nil
}

type taskGetTool struct{ deps Deps }

func (t *taskGetTool) Name() string { return "task_get" }
func (t *taskGetTool) Description() string {
	return "Fetch a single task by ID"
}
func (t *taskGetTool) Parameters() *ArgSpec {
	return &ArgSpec{
		Properties: map[string]*Prop{
			"uid": {Type: "string", Description: "Task ID"},
		},
		Required: []string{"uid"},
	}
}

func (t *taskGetTool) Execute(_ context.Context, args map[string]any, _ bool) (*ToolResult, error) {
	entity, err := t.deps.Vault.Get(args["uid"].(string))
	if err != nil {
		return nil, err
	}
	return OK(map[string]any{"task": entityData(entity)}), nil
}

type taskListTool struct{ deps Deps }

func (t *taskListTool) Name() string { return "task_list" }
func (t *taskListTool) Description() string {
	return "List tasks, optionally filtered by status or tag"
}
func (t *taskListTool) Parameters() *ArgSpec {
	minLimit := float64(1)
	return &ArgSpec{
		Properties: map[string]*Prop{
			"status": {Type: "string", Enum: []string{"todo", "doing", "review", "done", "blocked"}, Description: "Filter by status"},
			"tag":    {Type: "string", Description: "Filter by tag"},
			"limit":  {Type: "integer", Description: "Maximum number of results", Default: int64(50), Minimum: &minLimit},
		},
	}
}

func (t *taskListTool) Execute(_ context.Context, args map[string]any, _ bool) (*ToolResult, error) {
	filter := types.EntityFilter{Type: types.EntityTask}
	if status, ok := args["status"].(string); ok {
		filter.Status = types.Status(status)
	}
	if tag, ok := args["tag"].(string); ok {
		filter.Tag = tag
	}
	if limit, ok := args["limit"].(int64); ok {
		filter.Limit = int(limit)
	}
	tasks := t.deps.Vault.List(filter)
	items := make([]map[string]any, len(tasks))
	for i, task := range tasks {
		items[i] = entityData(task)
	}
	return OK(map[string]any{"tasks": items, "count": len(items)}), nil
}

type rollupDailyTool struct{ deps Deps }

func (t *rollupDailyTool) Name() string { return "rollup_daily" }
func (t *rollupDailyTool) Description() string {
	return "Generate the daily rollup for a date"
}
func (t *rollupDailyTool) Parameters() *ArgSpec {
	return &ArgSpec{
		Properties: map[string]*Prop{
			"date": {Type: "string", Description: "Date (YYYY-MM-DD, default today)"},
		},
	}
}

func (t *rollupDailyTool) Execute(_ context.Context, args map[string]any, dryRun bool) (*ToolResult, error) {
	date := t.deps.Clock.Now()
	if s, ok := args["date"].(string); ok && s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			return &ToolResult{Status: "error", Error: fmt.Sprintf("invalid date %q", s)}, nil
		}
		date = parsed
	}
	if dryRun {
		return OK(map[string]any{"dry_run": true, "date": date.Format("2006-01-02")}), nil
	}
	entity, err := t.deps.Rollup.CreateDaily(date)
	if err != nil {
		return nil, err
	}
	return OK(map[string]any{"rollup": entityData(entity)}), nil
}

type inboxNormalizeTool struct{ deps Deps }

func (t *inboxNormalizeTool) Name() string { return "inbox_normalize" }
func (t *inboxNormalizeTool) Description() string {
	return "Scan the inbox folder and route pending items"
}
func (t *inboxNormalizeTool) Parameters() *ArgSpec {
	return &ArgSpec{Properties: map[string]*Prop{}}
}

func (t *inboxNormalizeTool) Execute(ctx context.Context, _ map[string]any, dryRun bool) (*ToolResult, error) {
	if dryRun {
		return OK(map[string]any{"dry_run": true}), nil
	}
	result, err := t.deps.Inbox.Run(ctx)
	if err != nil {
		return nil, err
	}
	return OK(map[string]any{
		"scanned":   result.Scanned,
		"published": result.Published,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	}), nil
}
