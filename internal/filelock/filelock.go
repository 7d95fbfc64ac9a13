// Package filelock provides the cross-process merge lock: an exclusive
// advisory file lock whose file records the holder's PID so stale locks
// left by crashed processes can be reclaimed.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// MergeLock serializes integrations across processes.
type MergeLock struct {
	flock *flock.Flock
	path  string
}

// New creates a merge lock at the given path.
func New(path string) *MergeLock {
	return &MergeLock{
		flock: flock.New(path),
		path:  path,
	}
}

// Path returns the lock file path.
func (l *MergeLock) Path() string {
	return l.path
}

// TryLock attempts to acquire the exclusive lock without blocking. On
// success the holder's PID is written into the lock file.
func (l *MergeLock) TryLock() (bool, error) {
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring lock on %s: %w", l.path, err)
	}
	if !acquired {
		return false, nil
	}
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = l.flock.Unlock()
		return false, fmt.Errorf("stamping lock on %s: %w", l.path, err)
	}
	return true, nil
}

// Unlock releases the lock and clears the PID stamp.
func (l *MergeLock) Unlock() error {
	// Truncate before releasing so a reader never sees our PID after the
	// advisory lock is gone.
	_ = os.Truncate(l.path, 0)
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("releasing lock on %s: %w", l.path, err)
	}
	return nil
}

// Locked reports whether this process holds the lock.
func (l *MergeLock) Locked() bool {
	return l.flock.Locked()
}

// HolderPID reads the PID recorded in the lock file. Returns 0 when the
// file is absent or empty.
func (l *MergeLock) HolderPID() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(content)
	if err != nil {
		return 0, fmt.Errorf("parsing lock holder pid %q: %w", content, err)
	}
	return pid, nil
}

// ReclaimStale removes the lock file if its recorded holder is no longer
// alive. Called on startup before the scheduler begins merging. Returns
// true when a stale lock was removed.
func (l *MergeLock) ReclaimStale() (bool, error) {
	pid, err := l.HolderPID()
	if err != nil {
		return false, err
	}
	if pid == 0 || pid == os.Getpid() || pidAlive(pid) {
		return false, nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("removing stale lock %s: %w", l.path, err)
	}
	return true, nil
}

// pidAlive probes a process with signal 0.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
