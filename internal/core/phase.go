package core

import "fmt"

// Phase is the lifecycle stage of an active task.
type Phase string

const (
	PhasePlanning  Phase = "PLANNING"
	PhaseExecuting Phase = "EXECUTING"
	PhaseOutbound  Phase = "OUTBOUND"
	PhaseMerging   Phase = "MERGING"
)

// ParsePhase converts a persisted phase name back to a Phase.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhasePlanning, PhaseExecuting, PhaseOutbound, PhaseMerging:
		return Phase(s), nil
	}
	return "", ErrValidation("INVALID_PHASE", fmt.Sprintf("unknown phase %q", s))
}

// Queue is one of the four on-disk task queues. The queue holding a task's
// directory is the authoritative projection of its phase.
type Queue string

const (
	QueueTodo       Queue = "todo"
	QueueInProgress Queue = "in-progress"
	QueueOutbound   Queue = "outbound"
	QueueDone       Queue = "done"
)

// Queues lists all queues in lifecycle order.
func Queues() []Queue {
	return []Queue{QueueTodo, QueueInProgress, QueueOutbound, QueueDone}
}

// PhaseFor maps a queue location to the phase it implies on recovery.
func PhaseFor(q Queue) Phase {
	switch q {
	case QueueOutbound:
		return PhaseOutbound
	case QueueInProgress:
		return PhaseExecuting
	default:
		return PhasePlanning
	}
}

// Role identifies what an agent invocation is for. Roles are contractual:
// the planner and merger are pinned to the claude backend, the reviewer and
// executor prefer codex and fall back to claude once a task is rate-limited.
type Role string

const (
	RolePlanner  Role = "plan"
	RoleReviewer Role = "review"
	RoleExecutor Role = "exec"
	RoleMerger   Role = "merge"
)

// MaxPlanningIterations bounds the plan/feedback loop.
const MaxPlanningIterations = 3
