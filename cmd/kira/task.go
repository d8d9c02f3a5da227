package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/werserk/kira/internal/schema"
	"github.com/werserk/kira/internal/types"
)

func (a *app) taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, update, list, and delete tasks",
	}
	cmd.AddCommand(
		a.taskCreateCmd(),
		a.taskUpdateCmd(),
		a.taskListCmd(),
		a.taskGetCmd(),
		a.taskDeleteCmd(),
	)
	return cmd
}

func taskData(e *types.Entity) map[string]any {
	data := map[string]any{
		"id":         e.ID,
		"title":      e.Title,
		"tags":       e.Tags,
		"created_at": schema.FormatTimestamp(e.CreatedAt),
		"updated_at": schema.FormatTimestamp(e.UpdatedAt),
	}
	for k, v := range e.Metadata {
		data[k] = v
	}
	return data
}

func (a *app) taskCreateCmd() *cobra.Command {
	var (
		title    string
		tags     []string
		assignee string
		priority string
		due      string
		estimate string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.openVault(); err != nil {
				return err
			}
			data := map[string]any{"title": title}
			if len(tags) > 0 {
				data["tags"] = tags
			}
			if assignee != "" {
				data["assignee"] = assignee
			}
			if priority != "" {
				data["priority"] = priority
			}
			if due != "" {
				data["due_ts"] = due
			}
			if estimate != "" {
				data["estimate"] = estimate
			}

			if a.dryRun {
				a.printSuccess(map[string]any{"dry_run": true, "would_create": data}, nil, func() {
					fmt.Printf("dry run: would create task %q\n", title)
				})
				return nil
			}
			entity, err := a.store.Create(types.EntityTask, data, "")
			if err != nil {
				return err
			}
			a.printSuccess(taskData(entity), nil, func() {
				fmt.Printf("created %s: %s\n", entity.ID, entity.Title)
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title (required)")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "comma-separated tags")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee")
	cmd.Flags().StringVar(&priority, "priority", "", "priority: low, medium, high")
	cmd.Flags().StringVar(&due, "due", "", "due timestamp (RFC 3339)")
	cmd.Flags().StringVar(&estimate, "estimate", "", "estimate (e.g. 2h30m)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func (a *app) taskUpdateCmd() *cobra.Command {
	var (
		title    string
		status   string
		assignee string
		due      string
		reason   string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task's fields or status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openVault(); err != nil {
				return err
			}
			patch := make(map[string]any)
			if title != "" {
				patch["title"] = title
			}
			if status != "" {
				patch["status"] = status
			}
			if assignee != "" {
				patch["assignee"] = assignee
			}
			if due != "" {
				patch["due_ts"] = due
			}
			if reason != "" {
				patch["reason"] = reason
			}
			if force {
				patch["force"] = true
			}

			if a.dryRun {
				if _, err := a.store.Get(args[0]); err != nil {
					return err
				}
				a.printSuccess(map[string]any{"dry_run": true, "would_patch": patch}, nil, func() {
					fmt.Printf("dry run: would update %s\n", args[0])
				})
				return nil
			}
			entity, err := a.store.Update(args[0], patch)
			if err != nil {
				return err
			}
			a.printSuccess(taskData(entity), nil, func() {
				fmt.Printf("updated %s: status=%s\n", entity.ID, entity.Status())
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&status, "status", "", "new status: todo, doing, review, done, blocked")
	cmd.Flags().StringVar(&assignee, "assignee", "", "new assignee")
	cmd.Flags().StringVar(&due, "due", "", "new due timestamp")
	cmd.Flags().StringVar(&reason, "reason", "", "transition reason")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the transition table (migrations only)")
	return cmd
}

func (a *app) taskListCmd() *cobra.Command {
	var (
		status string
		tag    string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.openVault(); err != nil {
				return err
			}
			filter := types.EntityFilter{
				Type:   types.EntityTask,
				Status: types.Status(status),
				Tag:    tag,
				Limit:  limit,
			}
			tasks := a.store.List(filter)
			items := make([]map[string]any, len(tasks))
			for i, e := range tasks {
				items[i] = taskData(e)
			}
			a.printSuccess(map[string]any{"tasks": items, "count": len(items)}, nil, func() {
				for _, e := range tasks {
					fmt.Printf("%s  [%s]  %s\n", e.ID, e.Status(), e.Title)
				}
				fmt.Printf("%d task(s)\n", len(tasks))
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&tag, "tag", "", "filter by tag")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	return cmd
}

func (a *app) taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openVault(); err != nil {
				return err
			}
			entity, err := a.store.Get(args[0])
			if err != nil {
				return err
			}
			links, err := a.store.QueryLinks(entity.ID, types.LinkBoth)
			if err != nil {
				return err
			}
			data := taskData(entity)
			data["links"] = links
			a.printSuccess(data, nil, func() {
				fmt.Printf("%s  [%s]  %s\n", entity.ID, entity.Status(), entity.Title)
				if entity.Body != "" {
					fmt.Println(entity.Body)
				}
				for _, l := range links {
					fmt.Printf("  link: %s -> %s (%s)\n", l.Source, l.Target, l.Type)
				}
			})
			return nil
		},
	}
}

func (a *app) taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openVault(); err != nil {
				return err
			}
			if _, err := a.store.Get(args[0]); err != nil {
				return err
			}
			if a.dryRun {
				a.printSuccess(map[string]any{"dry_run": true, "would_delete": args[0]}, nil, func() {
					fmt.Printf("dry run: would delete %s\n", args[0])
				})
				return nil
			}
			if !a.confirm(fmt.Sprintf("Delete %s?", args[0])) {
				return fmt.Errorf("aborted")
			}
			if err := a.store.Delete(args[0]); err != nil {
				return err
			}
			a.printSuccess(map[string]any{"deleted": args[0]}, nil, func() {
				fmt.Printf("deleted %s\n", args[0])
			})
			return nil
		},
	}
}
