package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
	"github.com/hugo-lorenzo-mato/conveyor/internal/history"
	"github.com/hugo-lorenzo-mato/conveyor/internal/ratelimit"
)

// minArtifactSize is the watch-file threshold: a plan or feedback file this
// small is still being written.
const minArtifactSize = 64

// advancePlanningTasks evaluates the planning sub-state machine for every
// PLANNING task whose subprocess is not running.
func (m *Manager) advancePlanningTasks(ctx context.Context) error {
	for _, t := range m.Active() {
		if t.Phase != core.PhasePlanning || t.Alive() {
			continue
		}
		if err := m.advancePlanning(ctx, t); err != nil {
			m.logger.WithTask(t.Slug).Error("advancing planning", "error", err)
		}
	}
	return nil
}

func (m *Manager) advancePlanning(ctx context.Context, t *ActiveTask) error {
	l := m.wtLayout(t)
	taskDir := t.taskDir(l, core.QueueInProgress)

	m.refreshRateLimit(t, core.QueueInProgress)

	if m.planComplete(t) {
		m.setPhase(t, core.PhaseExecuting)
		return nil
	}

	for v := 1; v <= core.MaxPlanningIterations; v++ {
		planFile := filepath.Join(taskDir, fmt.Sprintf("plan-v%d.md", v))
		if _, err := os.Stat(planFile); err != nil {
			if err := m.launchWatched(t, core.RolePlanner,
				plannerPrompt(t.Slug, taskDir, v), planFile); err != nil {
				return err
			}
			if t.Iteration != v {
				t.Iteration = v
				m.saveState(t)
			}
			return nil
		}

		feedbackFile := filepath.Join(taskDir, fmt.Sprintf("feedback-%d.md", v))
		if _, err := os.Stat(feedbackFile); err != nil {
			return m.launchWatched(t, core.RoleReviewer,
				reviewerPrompt(t.Slug, taskDir, v), feedbackFile)
		}
	}

	// Three rounds complete: promote plan-v3 to the final plan.
	finalPlan := filepath.Join(taskDir, "plan.md")
	lastPlan := filepath.Join(taskDir, fmt.Sprintf("plan-v%d.md", core.MaxPlanningIterations))
	if err := copyFile(lastPlan, finalPlan); err != nil {
		return fmt.Errorf("promoting final plan: %w", err)
	}
	if _, err := m.wtGit(t).CommitAll(ctx, "finalize plan for "+t.Slug); err != nil {
		return err
	}
	m.setPhase(t, core.PhaseExecuting)
	return nil
}

// launchWatched starts a plan-writing invocation in watch-file mode: the
// child is terminated once the expected artifact appears with a plausible
// size, because planning agents tend to idle after producing it.
func (m *Manager) launchWatched(t *ActiveTask, role core.Role, prompt, target string) error {
	if err := m.launch(t, role, prompt, core.QueueInProgress); err != nil {
		return err
	}
	t.Proc.WatchFile(target, minArtifactSize, m.cfg.Merge.TerminateGrace)
	return nil
}

// refreshRateLimit flips the sticky rate-limit flag when the newest primary
// log announces exhaustion. The flag never clears for a task's lifetime.
func (m *Manager) refreshRateLimit(t *ActiveTask, q core.Queue) {
	if t.RateLimited {
		return
	}
	limited, err := ratelimit.CheckDir(t.agentLogsDir(m.wtLayout(t), q))
	if err != nil {
		m.logger.WithTask(t.Slug).Debug("rate-limit scan failed", "error", err)
		return
	}
	if limited {
		t.RateLimited = true
		m.saveState(t)
		m.logger.WithTask(t.Slug).Warn("primary agent rate-limited, switching to backup")
		m.record(t.Slug, history.EventPhase, "rate-limited, backup agent engaged")
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
