package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/werserk/kira/internal/pipeline"
)

func (a *app) inboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Scan or watch the inbox drop zone",
	}
	cmd.AddCommand(a.inboxScanCmd(), a.inboxWatchCmd())
	return cmd
}

func (a *app) buildInbox(cmd *cobra.Command) (*pipeline.Inbox, error) {
	if err := a.openVault(); err != nil {
		return nil, err
	}
	if err := a.openDedupe(cmd); err != nil {
		return nil, err
	}
	log := a.logs.Logger("pipelines", "inbox").WithTrace(a.traceID)
	return pipeline.NewInbox(a.cfg.InboxDir(), a.bus, a.dedup, a.clock, log, pipeline.DefaultInboxConfig()), nil
}

func (a *app) inboxScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan the inbox once and route pending items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			inbox, err := a.buildInbox(cmd)
			if err != nil {
				return err
			}
			result, err := inbox.Run(cmd.Context())
			if err != nil {
				return err
			}
			a.printSuccess(result, nil, func() {
				fmt.Printf("scanned %d, published %d, skipped %d, failed %d\n",
					result.Scanned, result.Published, result.Skipped, result.Failed)
			})
			return nil
		},
	}
}

func (a *app) inboxWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the inbox and route items as they arrive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			inbox, err := a.buildInbox(cmd)
			if err != nil {
				return err
			}
			log := a.logs.Logger("pipelines", "inbox-watcher").WithTrace(a.traceID)
			watcher := pipeline.NewWatcher(inbox, a.cfg.InboxDir(), log)
			fmt.Fprintf(cmd.ErrOrStderr(), "watching %s (ctrl-c to stop)\n", a.cfg.InboxDir())
			return watcher.Watch(cmd.Context())
		},
	}
}
