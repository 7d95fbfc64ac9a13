// Package state persists per-task orchestration state inside the worktree
// so a crash loses no progress.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
)

// FileName is the state file kept at the worktree root.
const FileName = ".task-state"

// TaskState is the crash-recovery record for one task: three lines — phase,
// planning iteration, rate-limited flag.
type TaskState struct {
	Phase       core.Phase
	Iteration   int
	RateLimited bool
}

// Path returns the state file path for a worktree.
func Path(worktree string) string {
	return filepath.Join(worktree, FileName)
}

// Save writes the state file atomically. It is called after every phase or
// iteration transition.
func Save(worktree string, st TaskState) error {
	content := fmt.Sprintf("%s\n%d\n%t\n", st.Phase, st.Iteration, st.RateLimited)
	if err := renameio.WriteFile(Path(worktree), []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing task state: %w", err)
	}
	return nil
}

// Load reads the state file. A missing file yields the zero state (fresh
// PLANNING task) with ok=false. A corrupt file is reported as an error; the
// caller falls back to deriving phase from the queue location.
func Load(worktree string) (TaskState, bool, error) {
	data, err := os.ReadFile(Path(worktree))
	if err != nil {
		if os.IsNotExist(err) {
			return TaskState{Phase: core.PhasePlanning}, false, nil
		}
		return TaskState{}, false, fmt.Errorf("reading task state: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		return TaskState{}, false, core.ErrState("STATE_CORRUPTED",
			fmt.Sprintf("expected 3 lines in %s, got %d", FileName, len(lines)))
	}

	phase, err := core.ParsePhase(strings.TrimSpace(lines[0]))
	if err != nil {
		return TaskState{}, false, err
	}
	iter, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil || iter < 0 || iter > core.MaxPlanningIterations {
		return TaskState{}, false, core.ErrState("STATE_CORRUPTED",
			fmt.Sprintf("invalid planning iteration %q", lines[1]))
	}
	limited, err := strconv.ParseBool(strings.TrimSpace(lines[2]))
	if err != nil {
		return TaskState{}, false, core.ErrState("STATE_CORRUPTED",
			fmt.Sprintf("invalid rate-limited flag %q", lines[2]))
	}

	return TaskState{Phase: phase, Iteration: iter, RateLimited: limited}, true, nil
}
