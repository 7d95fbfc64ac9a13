// Package supervise launches and tracks external agent processes. Each
// Process owns one child and one output drain; the scheduler never reads
// from the child directly, it only polls exit status and file existence.
package supervise

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
	"github.com/hugo-lorenzo-mato/conveyor/internal/logging"
)

// Spec describes one agent invocation.
type Spec struct {
	// Argv is the full command line; Argv[0] is the binary.
	Argv []string
	// Dir is the working directory (the task worktree).
	Dir string
	// LogPath receives the merged stdout+stderr stream.
	LogPath string
	// Stdin is written to the child's stdin and closed. Used for prompts.
	Stdin string
	// ExtraEnv entries are appended to the scrubbed inherited environment.
	ExtraEnv []string
}

// Process supervises a single child. The zero value is idle; Start arms it.
// A Process is owned by one task and is not safe for concurrent Start calls,
// but Poll/Alive/Terminate may race with the internal reaper.
type Process struct {
	logger *logging.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	running  bool
	exitCode int
	done     chan struct{}
	watch    *watcher
}

// New creates a supervisor.
func New(logger *logging.Logger) *Process {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Process{logger: logger}
}

// Start launches the child described by spec. The environment is scrubbed
// of terminal hints so agents emit plain non-interactive output.
func (p *Process) Start(spec Spec) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return core.ErrState("CHILD_RUNNING", "supervisor already owns a live child")
	}
	if len(spec.Argv) == 0 {
		return core.ErrValidation("EMPTY_ARGV", "no command to launch")
	}

	if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o750); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening agent log: %w", err)
	}

	// #nosec G204 -- argv comes from the agent registry, not user input
	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(scrubEnv(os.Environ()), spec.ExtraEnv...)
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}
	configureProcAttr(cmd)

	// Merge stderr into the stdout pipe so one drain owns the stream.
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logFile.Close()
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		logFile.Close()
		return fmt.Errorf("starting %s: %w", spec.Argv[0], err)
	}

	p.cmd = cmd
	p.running = true
	p.exitCode = 0
	p.done = make(chan struct{})
	done := p.done

	p.logger.Debug("child started", "pid", cmd.Process.Pid, "argv", strings.Join(spec.Argv, " "), "log", spec.LogPath)

	// Drain goroutine: append until the pipe closes, then reap. The drain is
	// unowned beyond the pipe's lifetime; it never touches task state.
	go func() {
		writer := bufio.NewWriter(logFile)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			_, _ = writer.WriteString(scanner.Text())
			_ = writer.WriteByte('\n')
			_ = writer.Flush()
		}
		_ = writer.Flush()
		logFile.Close()

		err := cmd.Wait()

		p.mu.Lock()
		p.running = false
		p.exitCode = exitCodeOf(err)
		p.mu.Unlock()
		close(done)
	}()

	return nil
}

// Alive reports whether the child is still running.
func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Poll returns (running, exitCode). The exit code is meaningful only once
// running is false; an idle supervisor that never started reports (false, 0).
func (p *Process) Poll() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, p.exitCode
}

// PID returns the child's process id, or 0 when idle.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Terminate stops the child: cooperative signal first, hard kill after the
// grace period. Safe and idempotent on a dead or never-started child.
func (p *Process) Terminate(grace time.Duration) error {
	p.mu.Lock()
	cmd := p.cmd
	running := p.running
	done := p.done
	if p.watch != nil {
		p.watch.stop()
		p.watch = nil
	}
	p.mu.Unlock()

	if cmd == nil || !running {
		return nil
	}

	if err := signalGroup(cmd, false); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-time.After(grace):
	}

	if err := signalGroup(cmd, true); err != nil {
		return err
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		p.logger.Warn("child did not exit after kill", "pid", cmd.Process.Pid)
	}
	return nil
}

// Wait blocks until the child exits or the timeout elapses. Returns true
// when the child is gone.
func (p *Process) Wait(timeout time.Duration) bool {
	p.mu.Lock()
	done := p.done
	running := p.running
	p.mu.Unlock()

	if !running || done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// scrubEnv removes terminal hints so child agents produce non-interactive
// output. Everything else is inherited.
func scrubEnv(env []string) []string {
	out := env[:0:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	// Wait failed for some other reason; report a generic failure code.
	return -1
}
