package config

import (
	"fmt"
	"time"
)

// Config holds all orchestrator configuration.
type Config struct {
	Workspace string          `mapstructure:"workspace"`
	Repo      RepoConfig      `mapstructure:"repo"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Merge     MergeConfig     `mapstructure:"merge"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Log       LogConfig       `mapstructure:"log"`
	History   HistoryConfig   `mapstructure:"history"`
}

// RepoConfig configures the version-controlled repository.
type RepoConfig struct {
	// Path is the repository checkout the workspace lives in.
	Path string `mapstructure:"path"`
	// Mainline is the integration branch.
	Mainline string `mapstructure:"mainline"`
	// Remote is the remote used for fetch/pull/push; empty disables remote
	// operations entirely.
	Remote string `mapstructure:"remote"`
	// PushBranches controls whether task branches are pushed and deleted on
	// the remote during finalize.
	PushBranches bool `mapstructure:"push_branches"`
	// WorktreesDir overrides where per-task worktrees are created. Default
	// is a worktrees/ directory beside the repository.
	WorktreesDir string `mapstructure:"worktrees_dir"`
}

// SchedulerConfig configures the control loop.
type SchedulerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// MergeConfig configures the integration pipeline.
type MergeConfig struct {
	FreezeTimeout  time.Duration `mapstructure:"freeze_timeout"`
	TerminateGrace time.Duration `mapstructure:"terminate_grace"`
	RebaseAttempts int           `mapstructure:"rebase_attempts"`
}

// AgentsConfig configures the external agent backends.
type AgentsConfig struct {
	Claude AgentConfig `mapstructure:"claude"`
	Codex  AgentConfig `mapstructure:"codex"`
}

// AgentConfig configures a single agent CLI.
type AgentConfig struct {
	Path  string `mapstructure:"path"`
	Model string `mapstructure:"model"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HistoryConfig configures the lifecycle ledger.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace path is required")
	}
	if c.Repo.Path == "" {
		return fmt.Errorf("repo.path is required")
	}
	if c.Repo.Mainline == "" {
		return fmt.Errorf("repo.mainline is required")
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be >= 1, got %d", c.Scheduler.Concurrency)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if c.Merge.RebaseAttempts < 1 {
		return fmt.Errorf("merge.rebase_attempts must be >= 1, got %d", c.Merge.RebaseAttempts)
	}
	if c.Agents.Claude.Path == "" || c.Agents.Codex.Path == "" {
		return fmt.Errorf("both agent paths must be configured")
	}
	return nil
}
