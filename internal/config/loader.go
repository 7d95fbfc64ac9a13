package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from defaults, file, env, and flags.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "CONVEYOR",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "CONVEYOR",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (bound via viper.BindPFlag)
// 2. Environment variables (CONVEYOR_*)
// 3. Config file (<workspace>/.conveyor/config.yaml)
// 4. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		workspace := l.v.GetString("workspace")
		l.v.AddConfigPath(filepath.Join(workspace, ".conveyor"))
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No config file is fine; defaults + env + flags apply.
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Resolve relative paths against the current directory so the scheduler,
	// git adapter, and worktree manager all agree on locations.
	if cfg.Workspace != "" {
		abs, err := filepath.Abs(cfg.Workspace)
		if err != nil {
			return nil, fmt.Errorf("resolving workspace path: %w", err)
		}
		cfg.Workspace = abs
	}
	if cfg.Repo.Path != "" {
		abs, err := filepath.Abs(cfg.Repo.Path)
		if err != nil {
			return nil, fmt.Errorf("resolving repo path: %w", err)
		}
		cfg.Repo.Path = abs
	}
	if cfg.Repo.WorktreesDir == "" {
		cfg.Repo.WorktreesDir = filepath.Join(filepath.Dir(cfg.Repo.Path), "worktrees")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("workspace", "workspace")
	l.v.SetDefault("repo.path", ".")
	l.v.SetDefault("repo.mainline", "main")
	l.v.SetDefault("repo.remote", "origin")
	l.v.SetDefault("repo.push_branches", false)
	l.v.SetDefault("scheduler.concurrency", 3)
	l.v.SetDefault("scheduler.tick_interval", 5*time.Second)
	l.v.SetDefault("merge.freeze_timeout", 60*time.Second)
	l.v.SetDefault("merge.terminate_grace", 30*time.Second)
	l.v.SetDefault("merge.rebase_attempts", 3)
	l.v.SetDefault("agents.claude.path", "claude")
	l.v.SetDefault("agents.claude.model", "")
	l.v.SetDefault("agents.codex.path", "codex")
	l.v.SetDefault("agents.codex.model", "")
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")
	l.v.SetDefault("history.enabled", true)
}
