// Package workspace defines the on-disk layout of the task workspace and
// the store that moves tasks between queues.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
)

// TicketFile is the required input artifact of every task.
const TicketFile = "ticket.md"

// Layout resolves canonical paths under a workspace root.
type Layout struct {
	Root string
}

// NewLayout creates a layout rooted at the given workspace directory.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// TasksDir returns the parent directory of all queues.
func (l Layout) TasksDir() string {
	return filepath.Join(l.Root, "tasks")
}

// QueueDir returns the directory of one queue.
func (l Layout) QueueDir(q core.Queue) string {
	return filepath.Join(l.TasksDir(), string(q))
}

// TaskDir returns the task directory inside a queue.
func (l Layout) TaskDir(q core.Queue, slug string) string {
	return filepath.Join(l.QueueDir(q), slug)
}

// TicketPath returns the ticket file of a task inside a queue.
func (l Layout) TicketPath(q core.Queue, slug string) string {
	return filepath.Join(l.TaskDir(q, slug), TicketFile)
}

// SessionsDir returns the sessions area.
func (l Layout) SessionsDir() string {
	return filepath.Join(l.Root, "sessions")
}

// LogsDir returns the logs area.
func (l Layout) LogsDir() string {
	return filepath.Join(l.Root, "logs")
}

// MergeLockPath returns the cross-process merge lock file.
func (l Layout) MergeLockPath() string {
	return filepath.Join(l.Root, ".merge.lock")
}

// EnsureTree creates the queue, sessions, and logs directories.
func (l Layout) EnsureTree() error {
	dirs := []string{l.SessionsDir(), l.LogsDir()}
	for _, q := range core.Queues() {
		dirs = append(dirs, l.QueueDir(q))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
