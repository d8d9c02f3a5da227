package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/werserk/kira/internal/diag"
)

func (a *app) diagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diag",
		Short: "Inspect structured logs and dedupe statistics",
	}
	cmd.AddCommand(a.diagTailCmd(), a.diagStatsCmd())
	return cmd
}

func (a *app) diagTailCmd() *cobra.Command {
	var (
		category  string
		component string
		trace     string
		entity    string
		level     string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent log entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			q := diag.New(a.cfg.VaultPath)
			records, err := q.Tail(diag.Filter{
				Category:  category,
				Component: component,
				TraceID:   trace,
				EntityID:  entity,
				Level:     level,
			}, limit)
			if err != nil {
				return err
			}
			a.printSuccess(map[string]any{"records": records, "count": len(records)}, nil, func() {
				for _, r := range records {
					line, _ := json.Marshal(r.Fields)
					fmt.Println(string(line))
				}
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "log category (core, adapters, plugins, pipelines)")
	cmd.Flags().StringVar(&component, "component", "", "component name")
	cmd.Flags().StringVar(&trace, "trace", "", "trace ID")
	cmd.Flags().StringVar(&entity, "entity", "", "entity ID")
	cmd.Flags().StringVar(&level, "level", "", "log level to show (exact match)")
	cmd.Flags().IntVar(&limit, "limit", 50, "number of entries")
	return cmd
}

func (a *app) diagStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize logs and dedupe activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			q := diag.New(a.cfg.VaultPath)
			logStats, err := q.Stats(diag.Filter{})
			if err != nil {
				return err
			}
			if err := a.openDedupe(cmd); err != nil {
				return err
			}
			dedupeStats, err := a.dedup.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			a.printSuccess(map[string]any{"logs": logStats, "dedupe": dedupeStats}, nil, func() {
				fmt.Printf("log lines: %d (%d errors)\n", logStats.TotalLines, logStats.Errors)
				fmt.Printf("events seen: %d, duplicates: %d (%.1f%%)\n",
					dedupeStats.TotalEvents, dedupeStats.Duplicates, dedupeStats.DuplicateRate*100)
				for source, count := range dedupeStats.BySource {
					fmt.Printf("  %s: %d\n", source, count)
				}
			})
			return nil
		},
	}
}
