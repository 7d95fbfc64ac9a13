package scheduler

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
)

// checkCompletedTasks promotes any PLANNING or EXECUTING task whose ticket
// now sits in the outbound queue of its worktree and lines it up for merge.
func (m *Manager) checkCompletedTasks(_ context.Context) error {
	for _, t := range m.Active() {
		if t.Phase != core.PhasePlanning && t.Phase != core.PhaseExecuting {
			continue
		}
		q, ok := m.wtStore(t).Queue(t.Slug)
		if !ok || q != core.QueueOutbound {
			continue
		}
		m.setPhase(t, core.PhaseOutbound)
		m.enqueueMerge(t)
	}
	return nil
}

// enqueueMerge appends a task to the FIFO merge queue exactly once.
func (m *Manager) enqueueMerge(t *ActiveTask) {
	for _, slug := range m.mergeQueue {
		if slug == t.Slug {
			return
		}
	}
	if t.OutboundSince.IsZero() {
		t.OutboundSince = time.Now()
	}
	m.mergeQueue = append(m.mergeQueue, t.Slug)
	m.logger.WithTask(t.Slug).Info("queued for merge", "position", len(m.mergeQueue))
}

// handleExecutionTasks restarts crashed or incomplete execution children.
//
// Policy on exit:
//   - outbound sentinel present        -> transition handled by checkCompletedTasks
//   - exit != 0 with rate-limit marker -> flip flag, relaunch on backup agent
//   - exit != 0 otherwise              -> relaunch same agent
//   - exit == 0 without sentinel       -> relaunch (incomplete)
func (m *Manager) handleExecutionTasks(_ context.Context) error {
	for _, t := range m.Active() {
		if t.Phase != core.PhaseExecuting || t.Alive() {
			continue
		}

		q, ok := m.wtStore(t).Queue(t.Slug)
		if ok && q == core.QueueOutbound {
			// Completed between steps; next tick's completion scan picks it up.
			continue
		}

		if _, exitCode := t.Proc.Poll(); exitCode != 0 {
			m.refreshRateLimit(t, core.QueueInProgress)
			m.logger.WithTask(t.Slug).Warn("execution agent exited abnormally, restarting",
				"exit_code", exitCode, "rate_limited", t.RateLimited)
		}

		taskDir := t.taskDir(m.wtLayout(t), core.QueueInProgress)
		if err := m.launch(t, core.RoleExecutor, executorPrompt(t.Slug, taskDir), core.QueueInProgress); err != nil {
			m.logger.WithTask(t.Slug).Error("launching execution agent", "error", err)
		}
	}
	return nil
}
