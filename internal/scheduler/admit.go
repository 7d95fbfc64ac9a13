package scheduler

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
	"github.com/hugo-lorenzo-mato/conveyor/internal/history"
	"github.com/hugo-lorenzo-mato/conveyor/internal/state"
	"github.com/hugo-lorenzo-mato/conveyor/internal/supervise"
	"github.com/hugo-lorenzo-mato/conveyor/internal/workspace"
)

// startNewTasks admits todo tasks while below the concurrency ceiling.
func (m *Manager) startNewTasks(ctx context.Context) error {
	for len(m.active) < m.cfg.Scheduler.Concurrency {
		slug, ok, err := m.store.PickNext(m.activeSlugs())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := m.admit(ctx, slug); err != nil {
			// Leave the task in todo and retry on a later tick rather than
			// hot-looping on a broken admission.
			m.logger.WithTask(slug).Error("admission failed", "error", err)
			return nil
		}
	}
	return nil
}

// admit creates the task's worktree and registers it as active.
func (m *Manager) admit(ctx context.Context, slug string) error {
	path, err := m.worktrees.Create(ctx, slug)
	if err != nil {
		return err
	}

	t := &ActiveTask{
		Slug:         slug,
		WorktreePath: path,
		Branch:       core.BranchFor(slug),
		Phase:        core.PhasePlanning,
		Proc:         supervise.New(m.logger.WithTask(slug)),
	}

	ws := m.wtStore(t)
	q, ok := ws.Queue(slug)
	if !ok {
		return core.ErrState("TICKET_MISSING",
			fmt.Sprintf("worktree for %s has no ticket in any queue", slug))
	}

	// A preserved branch carries prior state; a fresh branch starts at zero.
	st, loaded, err := state.Load(path)
	if err != nil {
		m.logger.WithTask(slug).Warn("ignoring corrupt task state", "error", err)
		st, loaded = state.TaskState{Phase: core.PhasePlanning}, false
	}
	if loaded {
		t.Iteration = st.Iteration
		t.RateLimited = st.RateLimited
	}

	if q == core.QueueTodo {
		if err := ws.Move(slug, core.QueueTodo, core.QueueInProgress); err != nil {
			return err
		}
		if _, err := m.wtGit(t).CommitAll(ctx, "start task "+slug); err != nil {
			return err
		}
		q = core.QueueInProgress
	}

	t.Phase = m.derivePhase(t, q, st, loaded)
	m.saveState(t)

	m.store.ConsumeSelector(slug)
	m.active[slug] = t
	if t.Phase == core.PhaseOutbound {
		m.enqueueMerge(t)
	}

	m.logger.WithTask(slug).Info("task admitted", "phase", t.Phase, "worktree", path)
	m.record(slug, history.EventAdmitted, string(t.Phase))
	return nil
}

// derivePhase resolves a task's phase from its queue location first, then
// the plan.md invariant. The persisted state file does not change the result;
// a state file that disagrees is only logged.
func (m *Manager) derivePhase(t *ActiveTask, q core.Queue, st state.TaskState, loaded bool) core.Phase {
	switch q {
	case core.QueueOutbound:
		return core.PhaseOutbound
	case core.QueueDone:
		// The merge agent finished but finalize did not; re-run the pipeline.
		return core.PhaseOutbound
	case core.QueueInProgress:
		if m.planComplete(t) {
			return core.PhaseExecuting
		}
		if loaded && st.Phase == core.PhaseExecuting {
			// Queue and plan.md disagree with the state file; the plan.md
			// invariant wins.
			m.logger.WithTask(t.Slug).Warn("state file says EXECUTING but plan.md is missing, replanning")
		}
		return core.PhasePlanning
	default:
		return core.PhasePlanning
	}
}

// planComplete reports the plan.md invariant: planning is complete iff the
// final plan exists in the task directory.
func (m *Manager) planComplete(t *ActiveTask) bool {
	l := m.wtLayout(t)
	for _, q := range []core.Queue{core.QueueInProgress, core.QueueOutbound, core.QueueDone} {
		if _, err := os.Stat(m.planPath(l, t, q)); err == nil {
			return true
		}
	}
	return false
}

func (m *Manager) planPath(l workspace.Layout, t *ActiveTask, q core.Queue) string {
	return l.TaskDir(q, t.Slug) + "/plan.md"
}

// Recover rebuilds the active set from worktrees left by a previous run.
// The queue location inside each worktree is authoritative; the state file
// fills in iteration and the rate-limit flag.
func (m *Manager) Recover(ctx context.Context) error {
	entries, err := os.ReadDir(m.cfg.Repo.WorktreesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "task-") {
			continue
		}
		slug := strings.TrimPrefix(entry.Name(), "task-")
		if core.ValidateSlug(slug) != nil {
			continue
		}
		log := m.logger.WithTask(slug)

		path := m.worktrees.PathFor(slug)
		if !m.worktrees.IsHealthy(ctx, path) {
			log.Warn("unhealthy worktree left behind, will rebuild on admission", "path", path)
			continue
		}

		t := &ActiveTask{
			Slug:         slug,
			WorktreePath: path,
			Branch:       core.BranchFor(slug),
			Proc:         supervise.New(log),
		}

		if _, err := os.Stat(t.NeedsManualRebasePath()); err == nil {
			log.Warn("task parked for manual rebase, leaving untouched", "sentinel", t.NeedsManualRebasePath())
			continue
		}

		ws := m.wtStore(t)
		q, ok := ws.Queue(slug)
		if !ok {
			log.Warn("worktree has no ticket, skipping recovery", "path", path)
			continue
		}

		st, loaded, err := state.Load(path)
		if err != nil {
			log.Warn("ignoring corrupt task state, deriving phase from queue", "error", err)
			st, loaded = state.TaskState{Phase: core.PhasePlanning}, false
		}
		if loaded {
			t.Iteration = st.Iteration
			t.RateLimited = st.RateLimited
		}

		t.Phase = m.derivePhase(t, q, st, loaded)
		// Drop any stale freeze request; the merge pipeline rewrites it.
		_ = os.Remove(t.MergeRequestedPath())

		m.active[slug] = t
		if t.Phase == core.PhaseOutbound {
			m.enqueueMerge(t)
		}
		log.Info("recovered task", "phase", t.Phase, "iteration", t.Iteration, "rate_limited", t.RateLimited)
	}
	return nil
}
