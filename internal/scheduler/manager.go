// Package scheduler drives every active task through its lifecycle with a
// single periodic control loop. The loop never waits on agents: it polls
// exit status and file existence, then sleeps until the next tick.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/conveyor/internal/adapters/agent"
	"github.com/hugo-lorenzo-mato/conveyor/internal/adapters/git"
	"github.com/hugo-lorenzo-mato/conveyor/internal/config"
	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
	"github.com/hugo-lorenzo-mato/conveyor/internal/filelock"
	"github.com/hugo-lorenzo-mato/conveyor/internal/history"
	"github.com/hugo-lorenzo-mato/conveyor/internal/logging"
	"github.com/hugo-lorenzo-mato/conveyor/internal/state"
	"github.com/hugo-lorenzo-mato/conveyor/internal/workspace"
	"github.com/hugo-lorenzo-mato/conveyor/internal/worktree"
)

// Manager is the explicit parallel task manager: every scheduler step
// receives it; there is no process-global mutable state.
type Manager struct {
	cfg    *config.Config
	logger *logging.Logger

	store     *workspace.Store
	worktrees *worktree.Manager
	agents    *agent.Registry
	repoGit   *git.Client
	lock      *filelock.MergeLock
	hist      *history.Store // nil when disabled

	// relWorkspace locates the workspace tree inside any checkout of the
	// repository, so the same layout can be projected into each worktree.
	relWorkspace string

	active     map[string]*ActiveTask
	mergeQueue []string
	merging    string // slug whose merge agent/finalize is in flight
}

// New wires a manager from configuration.
func New(cfg *config.Config, logger *logging.Logger, store *workspace.Store,
	worktrees *worktree.Manager, agents *agent.Registry, repoGit *git.Client,
	lock *filelock.MergeLock, hist *history.Store) (*Manager, error) {

	rel, err := filepath.Rel(cfg.Repo.Path, cfg.Workspace)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, core.ErrValidation("WORKSPACE_OUTSIDE_REPO",
			fmt.Sprintf("workspace %s must live inside repo %s", cfg.Workspace, cfg.Repo.Path))
	}

	return &Manager{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		worktrees:    worktrees,
		agents:       agents,
		repoGit:      repoGit,
		lock:         lock,
		hist:         hist,
		relWorkspace: rel,
		active:       make(map[string]*ActiveTask),
	}, nil
}

// wtLayout projects the workspace layout into a task's worktree.
func (m *Manager) wtLayout(t *ActiveTask) workspace.Layout {
	return workspace.NewLayout(filepath.Join(t.WorktreePath, m.relWorkspace))
}

// wtStore returns a queue store rooted in a task's worktree.
func (m *Manager) wtStore(t *ActiveTask) *workspace.Store {
	return workspace.NewStore(m.wtLayout(t), nil)
}

// wtGit returns a git client rooted in a task's worktree.
func (m *Manager) wtGit(t *ActiveTask) *git.Client {
	return m.repoGit.At(t.WorktreePath)
}

// activeSlugs returns the active set as a lookup map.
func (m *Manager) activeSlugs() map[string]bool {
	out := make(map[string]bool, len(m.active))
	for slug := range m.active {
		out[slug] = true
	}
	return out
}

// Run executes the control loop until the context is cancelled, then shuts
// down gracefully.
func (m *Manager) Run(ctx context.Context) error {
	if reclaimed, err := m.lock.ReclaimStale(); err != nil {
		return fmt.Errorf("checking merge lock: %w", err)
	} else if reclaimed {
		m.logger.Warn("reclaimed stale merge lock", "path", m.lock.Path())
	}

	if err := m.Recover(ctx); err != nil {
		return fmt.Errorf("recovering tasks: %w", err)
	}

	ticker := time.NewTicker(m.cfg.Scheduler.TickInterval)
	defer ticker.Stop()

	m.logger.Info("scheduler started",
		"concurrency", m.cfg.Scheduler.Concurrency,
		"interval", m.cfg.Scheduler.TickInterval,
	)

	for {
		m.Tick(ctx)

		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

// Tick advances every active task once. Steps run in a fixed order; a
// failure in one task is logged and never aborts the loop.
func (m *Manager) Tick(ctx context.Context) {
	m.step(ctx, "check_completed", m.checkCompletedTasks)
	m.step(ctx, "process_merge_queue", m.processMergeQueue)
	m.step(ctx, "advance_planning", m.advancePlanningTasks)
	m.step(ctx, "start_new_tasks", m.startNewTasks)
	m.step(ctx, "handle_execution", m.handleExecutionTasks)
	m.step(ctx, "handle_merging", m.handleMergingTasks)
	m.step(ctx, "housekeeping", m.housekeeping)
	m.printStatus()
}

func (m *Manager) step(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("scheduler step panicked", "step", name, "panic", r)
		}
	}()
	if err := fn(ctx); err != nil {
		m.logger.Error("scheduler step failed", "step", name, "error", err)
	}
}

// printStatus emits the one-line-per-tick summary.
func (m *Manager) printStatus() {
	if len(m.active) == 0 {
		m.logger.Info("Idle")
		return
	}

	slugs := make([]string, 0, len(m.active))
	for slug := range m.active {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	parts := make([]string, 0, len(slugs))
	for _, slug := range slugs {
		t := m.active[slug]
		live := "idle"
		if t.Alive() {
			live = "running"
		}
		part := fmt.Sprintf("%s=%s/%s", slug, t.Phase, live)
		if t.Phase == core.PhasePlanning {
			part += fmt.Sprintf("(iter %d)", t.Iteration)
		}
		parts = append(parts, part)
	}
	m.logger.Info("tick", "tasks", strings.Join(parts, " "), "merge_queue", len(m.mergeQueue))
}

// saveState persists a task's state file and logs the transition.
func (m *Manager) saveState(t *ActiveTask) {
	if err := state.Save(t.WorktreePath, t.State()); err != nil {
		m.logger.WithTask(t.Slug).Error("persisting task state", "error", err)
	}
}

// setPhase transitions a task and persists the change.
func (m *Manager) setPhase(t *ActiveTask, phase core.Phase) {
	if t.Phase == phase {
		return
	}
	prev := t.Phase
	t.Phase = phase
	m.saveState(t)
	m.logger.WithTask(t.Slug).Info("phase transition", "from", prev, "to", phase)
	m.record(t.Slug, history.EventPhase, fmt.Sprintf("%s -> %s", prev, phase))
}

// record appends to the history ledger, best-effort.
func (m *Manager) record(slug, event, detail string) {
	if m.hist == nil {
		return
	}
	if err := m.hist.Append(context.Background(), slug, event, detail); err != nil {
		m.logger.Debug("history append failed", "task", slug, "event", event, "error", err)
	}
}

// shutdown terminates every running child, releases the lock, and exits.
// Task state is already on disk.
func (m *Manager) shutdown() {
	m.logger.Info("shutting down", "active", len(m.active))

	var g errgroup.Group
	for _, t := range m.active {
		t := t
		if !t.Alive() {
			continue
		}
		g.Go(func() error {
			return t.Proc.Terminate(m.cfg.Merge.TerminateGrace)
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("terminating children", "error", err)
	}

	if m.lock.Locked() {
		if err := m.lock.Unlock(); err != nil {
			m.logger.Warn("releasing merge lock", "error", err)
		}
	}
	m.logger.Info("shutdown complete")
}

// Active returns a snapshot of the active tasks, for status display.
func (m *Manager) Active() []*ActiveTask {
	out := make([]*ActiveTask, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// launch starts an agent invocation for a task in its worktree.
func (m *Manager) launch(t *ActiveTask, role core.Role, prompt string, q core.Queue) error {
	backend, err := m.agents.ForRole(role, t.RateLimited)
	if err != nil {
		return err
	}

	t.LogSeq++
	logPath := filepath.Join(t.agentLogsDir(m.wtLayout(t), q), agent.LogName(backend, role, t.LogSeq))

	spec := backend.Command(agent.Request{
		Prompt:  prompt,
		WorkDir: t.WorktreePath,
		LogPath: logPath,
	})

	if err := t.Proc.Start(spec); err != nil {
		return err
	}
	m.logger.WithTask(t.Slug).WithAgent(backend.Name()).Info("agent started",
		"role", role, "pid", t.Proc.PID())
	return nil
}

// removeSessionFiles drops per-task session artifacts from the shared
// workspace sessions area.
func (m *Manager) removeSessionFiles(slug string) {
	pattern := filepath.Join(m.store.Layout().SessionsDir(), "*"+slug+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, match := range matches {
		_ = os.Remove(match)
	}
}
