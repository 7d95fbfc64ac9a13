package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
	"github.com/hugo-lorenzo-mato/conveyor/internal/history"
	"github.com/hugo-lorenzo-mato/conveyor/internal/state"
)

// processMergeQueue starts or advances the merge of the queue-head task.
// Merges are strictly serialized: one in flight process-wide, enforced by
// the exclusive cross-process lock.
func (m *Manager) processMergeQueue(ctx context.Context) error {
	if m.merging != "" || len(m.mergeQueue) == 0 {
		return nil
	}

	slug := m.mergeQueue[0]
	t := m.active[slug]
	if t == nil {
		m.mergeQueue = m.mergeQueue[1:]
		return core.ErrState("MERGE_QUEUE_STALE", fmt.Sprintf("queued task %s is not active", slug))
	}
	log := m.logger.WithTask(slug)

	// Freeze protocol: signal the agent, give it FreezeTimeout to finish,
	// then force-terminate and keep whatever it left behind.
	if err := touch(t.MergeRequestedPath()); err != nil {
		return fmt.Errorf("writing freeze sentinel: %w", err)
	}
	if t.Alive() {
		if t.FreezeRequestedAt.IsZero() {
			t.FreezeRequestedAt = time.Now()
			log.Info("freeze requested, waiting for agent to finish")
			return nil
		}
		if time.Since(t.FreezeRequestedAt) < m.cfg.Merge.FreezeTimeout {
			return nil
		}
		log.Warn("freeze timeout, terminating agent")
		if err := t.Proc.Terminate(m.cfg.Merge.TerminateGrace); err != nil {
			return err
		}
	}

	// The freeze is over; the sentinel has served its purpose and should not
	// end up committed on the branch.
	_ = os.Remove(t.MergeRequestedPath())

	// Unclean worktree after freeze gets a canned checkpoint commit.
	if sha, err := m.wtGit(t).CommitAll(ctx, "checkpoint: residual changes before merge"); err != nil {
		return err
	} else if sha != "" {
		log.Info("committed residual changes", "commit", sha[:min(12, len(sha))])
	}

	acquired, err := m.lock.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		log.Debug("merge lock busy, task stays at queue head")
		return nil
	}

	m.setPhase(t, core.PhaseMerging)
	m.merging = slug
	if err := m.launch(t, core.RoleMerger,
		mergerPrompt(t.Slug, m.cfg.Repo.Mainline), core.QueueOutbound); err != nil {
		m.merging = ""
		m.setPhase(t, core.PhaseOutbound)
		if unlockErr := m.lock.Unlock(); unlockErr != nil {
			log.Error("releasing merge lock", "error", unlockErr)
		}
		return err
	}
	return nil
}

// handleMergingTasks polls the merge agent and classifies its outcome.
func (m *Manager) handleMergingTasks(ctx context.Context) error {
	if m.merging == "" {
		return nil
	}
	t := m.active[m.merging]
	if t == nil {
		m.merging = ""
		if m.lock.Locked() {
			return m.lock.Unlock()
		}
		return nil
	}
	if t.Alive() {
		return nil
	}

	q, _ := m.wtStore(t).Queue(t.Slug)
	switch {
	case q == core.QueueDone:
		return m.finalize(ctx, t)
	case fileExists(t.NeedsManualRebasePath()):
		m.park(t, "merge agent reported irrecoverable conflicts")
		return nil
	default:
		m.logger.WithTask(t.Slug).Warn("merge agent exited without verdict, relaunching")
		return m.launch(t, core.RoleMerger,
			mergerPrompt(t.Slug, m.cfg.Repo.Mainline), core.QueueOutbound)
	}
}

// finalize integrates the task branch into mainline under the held lock.
func (m *Manager) finalize(ctx context.Context, t *ActiveTask) error {
	log := m.logger.WithTask(t.Slug)
	mainline := m.cfg.Repo.Mainline
	remote := m.cfg.Repo.Remote

	// Mainline checkout up to date first.
	if err := m.repoGit.CheckoutBranch(ctx, mainline); err != nil {
		return err
	}
	if remote != "" && m.repoGit.HasRemote(ctx, remote) {
		if err := m.repoGit.PullFFOnly(ctx, remote, mainline); err != nil {
			log.Warn("fast-forward pull failed, integrating against local mainline", "error", err)
		}
	}

	// Bounded rebase-before-merge: the merge agent already rebased once, but
	// mainline may have moved while this task waited in the queue.
	wtG := m.wtGit(t)
	// State written since the merge agent's last commit (the MERGING phase
	// file) would make the rebase refuse to start.
	if _, err := wtG.CommitAll(ctx, "checkpoint: residual changes before merge"); err != nil {
		return err
	}
	rebased := false
	for attempt := 1; attempt <= m.cfg.Merge.RebaseAttempts; attempt++ {
		if err := wtG.Rebase(ctx, mainline); err != nil {
			log.Warn("rebase attempt failed", "attempt", attempt, "error", err)
			if abortErr := wtG.AbortRebase(ctx); abortErr != nil {
				log.Error("aborting rebase", "error", abortErr)
			}
			continue
		}
		rebased = true
		break
	}
	if !rebased {
		m.park(t, fmt.Sprintf("rebase failed after %d attempts", m.cfg.Merge.RebaseAttempts))
		return nil
	}

	// Commit list before squashing flattens it away.
	subjects, err := m.repoGit.LogOneline(ctx, mainline, t.Branch)
	if err != nil {
		return err
	}

	if err := m.repoGit.MergeSquash(ctx, t.Branch); err != nil {
		if abortErr := m.repoGit.AbortMerge(ctx); abortErr != nil {
			log.Error("aborting squash merge", "error", abortErr)
		}
		// Requeue at the head and retry on a later tick.
		m.setPhase(t, core.PhaseOutbound)
		m.merging = ""
		if unlockErr := m.lock.Unlock(); unlockErr != nil {
			log.Error("releasing merge lock", "error", unlockErr)
		}
		return fmt.Errorf("squash integrate failed, requeued: %w", err)
	}

	// The squash can drag per-worktree bookkeeping files into mainline;
	// drop them before committing.
	for _, name := range []string{state.FileName, MergeRequestedFile, NeedsManualRebaseFile} {
		_ = os.Remove(filepath.Join(m.repoGit.RepoPath(), name))
	}

	// Carry the task's done/ directory into the mainline workspace in case
	// the squash left anything behind.
	src := m.wtLayout(t).TaskDir(core.QueueDone, t.Slug)
	dst := m.store.Layout().TaskDir(core.QueueDone, t.Slug)
	if err := copyTree(src, dst); err != nil {
		return fmt.Errorf("copying done task directory: %w", err)
	}

	message := completionMessage(t.Slug, subjects)
	if _, err := m.repoGit.CommitAll(ctx, message); err != nil {
		return err
	}
	log.Info("squash integrated", "commits", len(subjects))

	// Teardown: worktree first (the branch is checked out there), then the
	// branch, then bookkeeping.
	if err := m.worktrees.Cleanup(ctx, t.Slug); err != nil {
		log.Error("worktree cleanup failed", "error", err)
	}
	if err := m.repoGit.DeleteBranch(ctx, t.Branch); err != nil {
		log.Warn("deleting task branch", "error", err)
	}
	if m.cfg.Repo.PushBranches && remote != "" && m.repoGit.HasRemote(ctx, remote) {
		if err := m.repoGit.PushDelete(ctx, remote, t.Branch); err != nil {
			log.Warn("deleting remote task branch", "error", err)
		}
	}
	m.removeSessionFiles(t.Slug)

	delete(m.active, t.Slug)
	m.popMergeQueue(t.Slug)
	m.merging = ""
	if err := m.lock.Unlock(); err != nil {
		return err
	}

	m.record(t.Slug, history.EventMerged, message)
	m.record(t.Slug, history.EventReaped, "")
	log.Info("task complete", "message", firstLine(message))
	return nil
}

// park removes a task from the merge queue for human intervention. Its
// worktree and branch are retained; the state file stays at MERGING until
// someone removes the sentinel and the task is re-admitted.
func (m *Manager) park(t *ActiveTask, reason string) {
	if err := touch(t.NeedsManualRebasePath()); err != nil {
		m.logger.WithTask(t.Slug).Error("writing park sentinel", "error", err)
	}
	m.saveState(t)

	m.popMergeQueue(t.Slug)
	delete(m.active, t.Slug)
	if m.merging == t.Slug {
		m.merging = ""
	}
	if m.lock.Locked() {
		if err := m.lock.Unlock(); err != nil {
			m.logger.WithTask(t.Slug).Error("releasing merge lock", "error", err)
		}
	}

	m.logger.WithTask(t.Slug).Warn("task parked, needs manual rebase",
		"reason", reason, "sentinel", t.NeedsManualRebasePath())
	m.record(t.Slug, history.EventParked, reason)
}

func (m *Manager) popMergeQueue(slug string) {
	for i, queued := range m.mergeQueue {
		if queued == slug {
			m.mergeQueue = append(m.mergeQueue[:i], m.mergeQueue[i+1:]...)
			return
		}
	}
}

// housekeeping commits stray workspace changes on mainline when no merge is
// active. It takes the merge lock non-blocking so it can never interleave
// with an integration from another process.
func (m *Manager) housekeeping(ctx context.Context) error {
	if m.merging != "" || len(m.mergeQueue) > 0 {
		return nil
	}
	acquired, err := m.lock.TryLock()
	if err != nil || !acquired {
		return err
	}
	defer func() {
		if unlockErr := m.lock.Unlock(); unlockErr != nil {
			m.logger.Error("releasing merge lock after housekeeping", "error", unlockErr)
		}
	}()

	sha, err := m.repoGit.CommitAll(ctx, "housekeeping: workspace state")
	if err != nil {
		return err
	}
	if sha != "" {
		m.logger.Info("housekeeping commit", "commit", sha[:min(12, len(sha))])
	}
	return nil
}

// completionMessage composes the squash commit message: the completion line
// plus the squashed commit subjects in order.
func completionMessage(slug string, subjects []string) string {
	var b strings.Builder
	b.WriteString("complete task " + slug)
	if len(subjects) > 0 {
		b.WriteString("\n\nSquashed commits:\n")
		for _, s := range subjects {
			b.WriteString("- " + s + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// copyTree copies a directory recursively. Existing destination files are
// overwritten.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
