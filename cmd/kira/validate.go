package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/werserk/kira/internal/graph"
	"github.com/werserk/kira/internal/types"
)

func (a *app) validateCmd() *cobra.Command {
	var (
		threshold     float64
		ignoreTypes   []string
		ignoreFolders []string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the vault graph for cycles, orphans, broken links, and duplicates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.openVault(); err != nil {
				return err
			}
			opts := graph.Options{DuplicateThreshold: threshold}
			for _, t := range ignoreTypes {
				opts.IgnoreTypes = append(opts.IgnoreTypes, types.EntityType(t))
			}
			opts.IgnoreFolders = ignoreFolders

			report := graph.Validate(a.store.List(types.EntityFilter{}), a.store.AllLinks(), opts)
			a.printSuccess(report, map[string]any{"has_issues": report.HasIssues()}, func() {
				fmt.Printf("entities: %d, links: %d\n", report.TotalEntities, report.TotalLinks)
				if !report.HasIssues() {
					fmt.Println("no issues found")
					return
				}
				for _, cycle := range report.Cycles {
					fmt.Printf("cycle: %v\n", cycle)
				}
				for _, orphan := range report.Orphans {
					fmt.Printf("orphan: %s\n", orphan)
				}
				for _, link := range report.BrokenLinks {
					fmt.Printf("broken link: %s -> %s (%s)\n", link.Source, link.Target, link.Type)
				}
				for _, dup := range report.Duplicates {
					fmt.Printf("duplicate titles: %s / %s (%.2f)\n", dup.A, dup.B, dup.Similarity)
				}
			})
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", graph.DefaultDuplicateThreshold, "title similarity threshold")
	cmd.Flags().StringSliceVar(&ignoreTypes, "ignore-type", nil, "entity types to skip in orphan detection")
	cmd.Flags().StringSliceVar(&ignoreFolders, "ignore-folder", nil, "vault folders to skip in orphan detection")
	return cmd
}
