package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/conveyor/internal/adapters/agent"
	"github.com/hugo-lorenzo-mato/conveyor/internal/adapters/git"
	"github.com/hugo-lorenzo-mato/conveyor/internal/config"
	"github.com/hugo-lorenzo-mato/conveyor/internal/filelock"
	"github.com/hugo-lorenzo-mato/conveyor/internal/history"
	"github.com/hugo-lorenzo-mato/conveyor/internal/scheduler"
	"github.com/hugo-lorenzo-mato/conveyor/internal/workspace"
	"github.com/hugo-lorenzo-mato/conveyor/internal/worktree"
)

var runCmd = &cobra.Command{
	Use:   "run [TASK...]",
	Short: "Run the orchestration loop",
	Long: `Run starts the scheduler: it admits tasks from the todo queue up to the
concurrency ceiling, drives planning and execution agents in per-task
worktrees, and serializes squash integration into the mainline.

Positional TASK arguments form the priority queue: each is a full slug or a
numeric prefix (a bare integer is zero-padded to four digits and matched as
NNNN or NNNN-*). Matching tasks are admitted first, in argument order.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntP("jobs", "j", 3, "maximum concurrent tasks")
	runCmd.Flags().String("workspace", "workspace", "workspace root directory")
	runCmd.Flags().String("repo", ".", "repository checkout containing the workspace")
	runCmd.Flags().String("mainline", "main", "integration branch")
	runCmd.Flags().Duration("interval", 5*time.Second, "scheduler tick interval")

	_ = viper.BindPFlag("scheduler.concurrency", runCmd.Flags().Lookup("jobs"))
	_ = viper.BindPFlag("workspace", runCmd.Flags().Lookup("workspace"))
	_ = viper.BindPFlag("repo.path", runCmd.Flags().Lookup("repo"))
	_ = viper.BindPFlag("repo.mainline", runCmd.Flags().Lookup("mainline"))
	_ = viper.BindPFlag("scheduler.tick_interval", runCmd.Flags().Lookup("interval"))

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	selectors := make([]workspace.Selector, 0, len(args))
	for _, arg := range args {
		sel, err := workspace.ParseSelector(arg)
		if err != nil {
			return fmt.Errorf("invalid priority selector %q: %w", arg, err)
		}
		selectors = append(selectors, sel)
	}

	layout := workspace.NewLayout(cfg.Workspace)
	if err := layout.EnsureTree(); err != nil {
		return err
	}
	store := workspace.NewStore(layout, selectors)

	repoGit, err := git.NewClient(cfg.Repo.Path)
	if err != nil {
		return err
	}

	worktrees := worktree.NewManager(repoGit, cfg.Repo.WorktreesDir, cfg.Repo.Mainline, logger)
	agents := agent.NewRegistry(cfg.Agents)
	lock := filelock.New(layout.MergeLockPath())

	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(filepath.Join(layout.LogsDir(), "history.db"))
		if err != nil {
			logger.Warn("history ledger unavailable", "error", err)
			hist = nil
		} else {
			defer hist.Close()
		}
	}

	mgr, err := scheduler.New(cfg, logger, store, worktrees, agents, repoGit, lock, hist)
	if err != nil {
		return err
	}

	sessionPath, err := writeRunSession(layout, cfg, args)
	if err != nil {
		logger.Warn("recording run session", "error", err)
	} else {
		defer os.Remove(sessionPath)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return mgr.Run(ctx)
}

// runSession records one orchestrator invocation in the sessions area.
type runSession struct {
	ID          string    `json:"id"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
	Concurrency int       `json:"concurrency"`
	Selectors   []string  `json:"selectors,omitempty"`
}

func writeRunSession(layout workspace.Layout, cfg *config.Config, selectors []string) (string, error) {
	session := runSession{
		ID:          uuid.NewString(),
		PID:         os.Getpid(),
		StartedAt:   time.Now().UTC(),
		Concurrency: cfg.Scheduler.Concurrency,
		Selectors:   selectors,
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(layout.SessionsDir(), "run-"+session.ID+".json")
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
