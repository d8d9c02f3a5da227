package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/werserk/kira/internal/agent"
	"github.com/werserk/kira/internal/pipeline"
)

func (a *app) agentCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "agent <message>",
		Short: "Send a natural-language request to the agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openVault(); err != nil {
				return err
			}
			if err := a.openDedupe(cmd); err != nil {
				return err
			}

			planning, err := agent.NewAnthropicProvider(a.cfg.AnthropicAPIKey, a.cfg.PlanningModel)
			if err != nil {
				return err
			}
			structuring, err := agent.NewAnthropicProvider(a.cfg.AnthropicAPIKey, a.cfg.StructuringModel)
			if err != nil {
				return err
			}

			agentLog := a.logs.Logger("core", "agent").WithTrace(a.traceID)
			router := agent.NewRouter(agentLog)
			router.AddProvider(agent.TaskPlanning, planning)
			router.AddProvider(agent.TaskPlanning, structuring)
			router.AddProvider(agent.TaskStructuring, structuring)
			router.AddProvider(agent.TaskDefault, planning)

			registry := agent.NewRegistry()
			rollup := pipeline.NewRollup(a.store, a.bus, a.clock, a.logs.Logger("pipelines", "rollup").WithTrace(a.traceID))
			inbox := pipeline.NewInbox(a.cfg.InboxDir(), a.bus, a.dedup, a.clock,
				a.logs.Logger("pipelines", "inbox").WithTrace(a.traceID), pipeline.DefaultInboxConfig())
			agent.RegisterStandardTools(registry, agent.Deps{
				Vault:  a.store,
				Rollup: rollup,
				Inbox:  inbox,
				Clock:  a.clock,
			})

			executor := agent.NewExecutor(router, registry, agent.NewMemory(a.cfg.MemoryMaxExchanges),
				a.clock, agentLog, agent.Config{
					Timeout:      a.cfg.AgentTimeout,
					DryRunFirst:  a.cfg.DryRunByDefault || a.dryRun,
					MaxToolCalls: a.cfg.MaxToolCalls,
				})

			result := executor.HandleRequest(cmd.Context(), session, strings.Join(args, " "))
			if result.Status == "error" {
				return fmt.Errorf("agent: %s", result.Error)
			}
			a.printSuccess(result, map[string]any{"status": result.Status}, func() {
				fmt.Println(result.Response)
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "cli", "session ID for conversation memory")
	return cmd
}
