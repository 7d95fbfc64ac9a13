package scheduler

import (
	"path/filepath"
	"time"

	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
	"github.com/hugo-lorenzo-mato/conveyor/internal/state"
	"github.com/hugo-lorenzo-mato/conveyor/internal/supervise"
	"github.com/hugo-lorenzo-mato/conveyor/internal/workspace"
)

// MergeRequestedFile is the cooperative shutdown sentinel agents watch for.
const MergeRequestedFile = ".merge-requested"

// NeedsManualRebaseFile parks a task for human intervention.
const NeedsManualRebaseFile = ".needs-manual-rebase"

// ActiveTask is the in-memory record of one live task. It owns at most one
// child process at a time; the scheduler touches tasks sequentially, so no
// locking is needed here.
type ActiveTask struct {
	Slug         string
	WorktreePath string
	Branch       string

	Phase       core.Phase
	Iteration   int
	RateLimited bool

	Proc *supervise.Process

	// LogSeq numbers agent invocations for this task within this run.
	LogSeq int

	// OutboundSince orders the FIFO merge queue.
	OutboundSince time.Time

	// FreezeRequestedAt is set when .merge-requested was written while the
	// task's child was still running.
	FreezeRequestedAt time.Time
}

// State projects the task onto its persistent record.
func (t *ActiveTask) State() state.TaskState {
	return state.TaskState{
		Phase:       t.Phase,
		Iteration:   t.Iteration,
		RateLimited: t.RateLimited,
	}
}

// Alive reports whether the task's child process is running.
func (t *ActiveTask) Alive() bool {
	return t.Proc != nil && t.Proc.Alive()
}

// MergeRequestedPath returns the freeze sentinel path in the worktree.
func (t *ActiveTask) MergeRequestedPath() string {
	return filepath.Join(t.WorktreePath, MergeRequestedFile)
}

// NeedsManualRebasePath returns the parked sentinel path in the worktree.
func (t *ActiveTask) NeedsManualRebasePath() string {
	return filepath.Join(t.WorktreePath, NeedsManualRebaseFile)
}

// taskDir returns the task's directory inside its worktree for a queue.
func (t *ActiveTask) taskDir(l workspace.Layout, q core.Queue) string {
	return l.TaskDir(q, t.Slug)
}

// agentLogsDir returns the agent_logs subtree for the queue currently
// holding the task. Logs travel with the task directory between queues.
func (t *ActiveTask) agentLogsDir(l workspace.Layout, q core.Queue) string {
	return filepath.Join(t.taskDir(l, q), "agent_logs")
}
