package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/werserk/kira/internal/config"
	"github.com/werserk/kira/internal/dedupe"
)

type check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func (a *app) doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the environment and vault health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var checks []check

			cfg, err := config.Load(a.configPath)
			if err != nil {
				checks = append(checks, check{Name: "config", OK: false, Detail: err.Error()})
			} else {
				checks = append(checks, check{Name: "config", OK: true, Detail: "loaded"})
				checks = append(checks, checkVaultDir(cfg)...)
				checks = append(checks, checkDedupe(cmd, cfg, a)...)
			}

			healthy := true
			for _, c := range checks {
				if !c.OK {
					healthy = false
				}
			}
			a.printSuccess(map[string]any{"checks": checks, "healthy": healthy}, nil, func() {
				for _, c := range checks {
					mark := "ok"
					if !c.OK {
						mark = "FAIL"
					}
					fmt.Printf("[%s] %s: %s\n", mark, c.Name, c.Detail)
				}
			})
			if !healthy {
				return fmt.Errorf("doctor found problems")
			}
			return nil
		},
	}
}

func checkVaultDir(cfg *config.Settings) []check {
	var checks []check

	info, err := os.Stat(cfg.VaultPath)
	switch {
	case os.IsNotExist(err):
		return append(checks, check{Name: "vault", OK: false, Detail: fmt.Sprintf("%s does not exist (run kira init)", cfg.VaultPath)})
	case err != nil:
		return append(checks, check{Name: "vault", OK: false, Detail: err.Error()})
	case !info.IsDir():
		return append(checks, check{Name: "vault", OK: false, Detail: cfg.VaultPath + " is not a directory"})
	}
	checks = append(checks, check{Name: "vault", OK: true, Detail: cfg.VaultPath})

	probe := filepath.Join(cfg.VaultPath, ".kira.doctor")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		checks = append(checks, check{Name: "vault-writable", OK: false, Detail: err.Error()})
	} else {
		_ = os.Remove(probe)
		checks = append(checks, check{Name: "vault-writable", OK: true, Detail: "writable"})
	}
	return checks
}

func checkDedupe(cmd *cobra.Command, cfg *config.Settings, a *app) []check {
	store, err := dedupe.Open(cmd.Context(), cfg.DedupeDBPath(), a.clock)
	if err != nil {
		return []check{{Name: "dedupe-db", OK: false, Detail: err.Error()}}
	}
	defer func() { _ = store.Close() }()
	stats, err := store.GetStats(cmd.Context())
	if err != nil {
		return []check{{Name: "dedupe-db", OK: false, Detail: err.Error()}}
	}
	return []check{{Name: "dedupe-db", OK: true, Detail: fmt.Sprintf("%d events tracked", stats.TotalEvents)}}
}
