// Package config loads typed settings from a single env-format file, with
// environment-variable overrides. Missing required keys fail at startup with
// a message naming the key.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode is the release channel the vault runs in.
type Mode string

const (
	ModeAlpha  Mode = "alpha"
	ModeBeta   Mode = "beta"
	ModeStable Mode = "stable"
)

// Settings is the fully resolved configuration.
type Settings struct {
	VaultPath       string
	Mode            Mode
	DefaultTimezone string

	// Feature flags
	GCalEnabled     bool
	TelegramEnabled bool
	EnablePlugins   bool

	// Sandbox limits for plugin execution
	SandboxMaxCPUSeconds int
	SandboxMaxMemoryMB   int
	SandboxAllowNetwork  bool

	// Logging
	LogLevel string
	LogFile  string

	// Agent
	AnthropicAPIKey    string
	PlanningModel      string
	StructuringModel   string
	AgentTimeout       time.Duration
	MaxToolCalls       int
	MemoryMaxExchanges int
	EnableRAG          bool
	DryRunByDefault    bool
}

// DefaultFileName is the config file looked up next to the working
// directory when no explicit path is given.
const DefaultFileName = "kira.env"

// Load reads settings from path (or ./kira.env when path is empty), applies
// KIRA_-prefixed environment overrides, and validates required keys.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("env")

	if path == "" {
		path = DefaultFileName
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("KIRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	vaultPath := v.GetString("vault_path")
	if vaultPath == "" {
		return nil, fmt.Errorf("missing required configuration key %q: set vault_path in %s or export KIRA_VAULT_PATH", "vault_path", path)
	}
	if !filepath.IsAbs(vaultPath) {
		abs, err := filepath.Abs(vaultPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve vault_path: %w", err)
		}
		vaultPath = abs
	}

	mode := Mode(v.GetString("mode"))
	switch mode {
	case ModeAlpha, ModeBeta, ModeStable:
	default:
		return nil, fmt.Errorf("invalid mode %q: must be one of alpha, beta, stable", mode)
	}

	s := &Settings{
		VaultPath:            vaultPath,
		Mode:                 mode,
		DefaultTimezone:      v.GetString("default_timezone"),
		GCalEnabled:          v.GetBool("gcal_enabled"),
		TelegramEnabled:      v.GetBool("telegram_enabled"),
		EnablePlugins:        v.GetBool("enable_plugins"),
		SandboxMaxCPUSeconds: v.GetInt("sandbox_max_cpu_seconds"),
		SandboxMaxMemoryMB:   v.GetInt("sandbox_max_memory_mb"),
		SandboxAllowNetwork:  v.GetBool("sandbox_allow_network"),
		LogLevel:             v.GetString("log_level"),
		LogFile:              v.GetString("log_file"),
		AnthropicAPIKey:      v.GetString("anthropic_api_key"),
		PlanningModel:        v.GetString("planning_model"),
		StructuringModel:     v.GetString("structuring_model"),
		AgentTimeout:         v.GetDuration("agent_timeout"),
		MaxToolCalls:         v.GetInt("agent_max_tool_calls"),
		MemoryMaxExchanges:   v.GetInt("agent_memory_max_exchanges"),
		EnableRAG:            v.GetBool("agent_enable_rag"),
		DryRunByDefault:      v.GetBool("agent_dry_run_by_default"),
	}

	if _, err := time.LoadLocation(s.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("invalid default_timezone %q: %w", s.DefaultTimezone, err)
	}
	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "alpha")
	v.SetDefault("default_timezone", "UTC")

	v.SetDefault("gcal_enabled", false)
	v.SetDefault("telegram_enabled", false)
	v.SetDefault("enable_plugins", false)

	v.SetDefault("sandbox_max_cpu_seconds", 30)
	v.SetDefault("sandbox_max_memory_mb", 256)
	v.SetDefault("sandbox_allow_network", false)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	v.SetDefault("planning_model", "claude-sonnet-4-5")
	v.SetDefault("structuring_model", "claude-3-5-haiku-20241022")
	v.SetDefault("agent_timeout", "60s")
	v.SetDefault("agent_max_tool_calls", 10)
	v.SetDefault("agent_memory_max_exchanges", 3)
	v.SetDefault("agent_enable_rag", false)
	v.SetDefault("agent_dry_run_by_default", false)
}

// ArtifactsDir returns the vault's artifacts directory.
func (s *Settings) ArtifactsDir() string {
	return filepath.Join(s.VaultPath, "artifacts")
}

// DedupeDBPath returns the idempotency store path.
func (s *Settings) DedupeDBPath() string {
	return filepath.Join(s.ArtifactsDir(), "dedupe.db")
}

// InboxDir returns the pre-normalization drop zone.
func (s *Settings) InboxDir() string {
	return filepath.Join(s.VaultPath, "inbox")
}
