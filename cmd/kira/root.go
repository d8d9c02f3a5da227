package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/werserk/kira/internal/audit"
	"github.com/werserk/kira/internal/bus"
	"github.com/werserk/kira/internal/clock"
	"github.com/werserk/kira/internal/config"
	"github.com/werserk/kira/internal/dedupe"
	"github.com/werserk/kira/internal/fsm"
	"github.com/werserk/kira/internal/logging"
	"github.com/werserk/kira/internal/vault"
)

// app is the constructor-injected application context shared by every
// command. No globals: tests build their own.
type app struct {
	configPath string
	jsonOut    bool
	dryRun     bool
	yes        bool
	verbose    bool
	traceID    string

	cfg   *config.Settings
	clock clock.Clock
	logs  *logging.Manager
	bus   *bus.Bus
	fsm   *fsm.FSM
	store *vault.Store
	dedup *dedupe.Store
	audit *audit.Logger
}

func run(args []string) int {
	a := &app{clock: clock.System{}}
	root := a.rootCmd()
	root.SetArgs(args)

	err := root.Execute()
	code := exitCode(err)
	if err != nil {
		a.printError(err, code)
	}
	a.writeAudit(args, code)
	a.shutdown()
	return code
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kira",
		Short:         "Local-first personal knowledge and task management",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.traceID == "" {
				a.traceID = uuid.NewString()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to kira.env (default ./kira.env)")
	pf.BoolVar(&a.jsonOut, "json", false, "machine-readable JSON output")
	pf.BoolVar(&a.dryRun, "dry-run", false, "validate and simulate without writing")
	pf.BoolVar(&a.yes, "yes", false, "skip confirmation prompts")
	pf.StringVar(&a.traceID, "trace-id", "", "trace ID to correlate across components")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		a.initCmd(),
		a.taskCmd(),
		a.validateCmd(),
		a.rollupCmd(),
		a.inboxCmd(),
		a.agentCmd(),
		a.diagCmd(),
		a.doctorCmd(),
	)
	return root
}

// loadConfig resolves settings once per invocation.
func (a *app) loadConfig() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return &configError{err: err}
	}
	a.cfg = cfg
	a.logs = logging.NewManager(cfg.VaultPath, logging.ParseLevel(cfg.LogLevel))
	a.audit = audit.New(cfg.VaultPath, a.clock)
	return nil
}

// openVault lazily wires the bus, FSM, and single-writer store.
func (a *app) openVault() error {
	if a.store != nil {
		return nil
	}
	if err := a.loadConfig(); err != nil {
		return err
	}
	coreLog := a.logs.Logger("core", "vault").WithTrace(a.traceID)
	a.bus = bus.New(a.logs.Logger("core", "bus").WithTrace(a.traceID))
	a.fsm = fsm.New(a.clock, a.bus, a.logs.Logger("core", "fsm").WithTrace(a.traceID))
	store, err := vault.Open(a.cfg.VaultPath, vault.Options{
		Clock:  a.clock,
		Bus:    a.bus,
		FSM:    a.fsm,
		Logger: coreLog,
	})
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

// openDedupe lazily opens the idempotency store.
func (a *app) openDedupe(cmd *cobra.Command) error {
	if a.dedup != nil {
		return nil
	}
	if err := a.loadConfig(); err != nil {
		return err
	}
	store, err := dedupe.Open(cmd.Context(), a.cfg.DedupeDBPath(), a.clock)
	if err != nil {
		return err
	}
	a.dedup = store
	return nil
}

func (a *app) writeAudit(args []string, code int) {
	if a.audit == nil || len(args) == 0 {
		return
	}
	result := "success"
	if code != exitOK {
		result = fmt.Sprintf("error(%d)", code)
	}
	_ = a.audit.Append(&audit.Entry{
		TraceID:  a.traceID,
		Command:  args[0],
		Args:     args[1:],
		Result:   result,
		ExitCode: code,
	})
}

func (a *app) shutdown() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.dedup != nil {
		_ = a.dedup.Close()
	}
}

// confirm asks before destructive actions unless --yes or --json.
func (a *app) confirm(prompt string) bool {
	if a.yes || a.jsonOut {
		return true
	}
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	var answer string
	_, _ = fmt.Scanln(&answer)
	return strings.EqualFold(strings.TrimSpace(answer), "y")
}
