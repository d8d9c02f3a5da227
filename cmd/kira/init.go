package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/werserk/kira/internal/config"
)

const configTemplate = `# Kira configuration
vault_path=%s
mode=alpha
default_timezone=UTC
gcal_enabled=false
telegram_enabled=false
enable_plugins=false
log_level=info
`

func (a *app) initCmd() *cobra.Command {
	var vaultPath string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new vault and config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			abs, err := filepath.Abs(vaultPath)
			if err != nil {
				return err
			}
			for _, dir := range []string{
				"tasks", "notes", "events", "projects", "journal", "inbox",
				filepath.Join("artifacts", "audit"), "logs",
			} {
				if err := os.MkdirAll(filepath.Join(abs, dir), 0o750); err != nil {
					return fmt.Errorf("failed to create %s: %w", dir, err)
				}
			}

			configPath := a.configPath
			if configPath == "" {
				configPath = config.DefaultFileName
			}
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				content := fmt.Sprintf(configTemplate, abs)
				if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", configPath, err)
				}
			}

			a.printSuccess(map[string]any{"vault_path": abs, "config": configPath}, nil, func() {
				fmt.Printf("initialized vault at %s (config: %s)\n", abs, configPath)
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&vaultPath, "vault", "vault", "vault root directory")
	return cmd
}
