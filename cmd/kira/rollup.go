package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/werserk/kira/internal/pipeline"
	"github.com/werserk/kira/internal/types"
)

func (a *app) rollupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Generate periodic rollups",
	}
	for _, period := range []types.RollupType{types.RollupDaily, types.RollupWeekly, types.RollupMonthly} {
		cmd.AddCommand(a.rollupPeriodCmd(period))
	}
	return cmd
}

func (a *app) rollupPeriodCmd(period types.RollupType) *cobra.Command {
	var dateStr string
	cmd := &cobra.Command{
		Use:   string(period),
		Short: fmt.Sprintf("Generate the %s rollup", period),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.openVault(); err != nil {
				return err
			}
			date := a.clock.Now()
			if dateStr != "" {
				parsed, err := time.Parse("2006-01-02", dateStr)
				if err != nil {
					return types.NewValidationError(types.EntityRollup, "date", "must be a YYYY-MM-DD date")
				}
				date = parsed
			}
			if a.dryRun {
				a.printSuccess(map[string]any{"dry_run": true, "period": string(period), "date": date.Format("2006-01-02")}, nil, func() {
					fmt.Printf("dry run: would generate %s rollup for %s\n", period, date.Format("2006-01-02"))
				})
				return nil
			}

			p := pipeline.NewRollup(a.store, a.bus, a.clock, a.logs.Logger("pipelines", "rollup").WithTrace(a.traceID))
			var (
				entity *types.Entity
				err    error
			)
			switch period {
			case types.RollupWeekly:
				entity, err = p.CreateWeekly(date)
			case types.RollupMonthly:
				entity, err = p.CreateMonthly(date)
			default:
				entity, err = p.CreateDaily(date)
			}
			if err != nil {
				return err
			}
			a.printSuccess(taskData(entity), nil, func() {
				fmt.Printf("created %s: %s\n", entity.ID, entity.Title)
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&dateStr, "date", "", "target date (YYYY-MM-DD, default today)")
	return cmd
}
