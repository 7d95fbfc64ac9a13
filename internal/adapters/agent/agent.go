// Package agent models the external CLI backends and the role registry that
// picks a backend per invocation. Backends are opaque to the orchestrator:
// they receive a prompt and a working directory and are observed only
// through exit codes and the files they produce.
package agent

import (
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/conveyor/internal/config"
	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
	"github.com/hugo-lorenzo-mato/conveyor/internal/supervise"
)

// Backend names are contractual role identities; the binaries behind them
// are configurable.
const (
	BackendClaude = "claude"
	BackendCodex  = "codex"
)

// Request describes one agent invocation.
type Request struct {
	Prompt  string
	WorkDir string
	LogPath string
}

// Backend builds a launchable command for a request.
type Backend interface {
	Name() string
	Command(req Request) supervise.Spec
}

// claudeBackend drives the claude CLI in non-interactive print mode.
type claudeBackend struct {
	cfg config.AgentConfig
}

func (b *claudeBackend) Name() string { return BackendClaude }

func (b *claudeBackend) Command(req Request) supervise.Spec {
	args := []string{"--print", "--dangerously-skip-permissions"}
	if b.cfg.Model != "" {
		args = append(args, "--model", b.cfg.Model)
	}

	argv := append(strings.Fields(b.cfg.Path), args...)
	return supervise.Spec{
		Argv:    argv,
		Dir:     req.WorkDir,
		LogPath: req.LogPath,
		Stdin:   req.Prompt,
	}
}

// codexBackend drives the codex CLI in headless exec mode.
type codexBackend struct {
	cfg config.AgentConfig
}

func (b *codexBackend) Name() string { return BackendCodex }

func (b *codexBackend) Command(req Request) supervise.Spec {
	args := []string{
		"exec", "--skip-git-repo-check",
		"-c", `approval_policy="never"`,
		"-c", `sandbox_mode="workspace-write"`,
	}
	if b.cfg.Model != "" {
		args = append(args, "--model", b.cfg.Model)
	}

	argv := append(strings.Fields(b.cfg.Path), args...)
	return supervise.Spec{
		Argv:    argv,
		Dir:     req.WorkDir,
		LogPath: req.LogPath,
		Stdin:   req.Prompt,
	}
}

// Registry selects a backend for a role, honoring the per-task rate-limit
// flag: the planner and merger are pinned to claude; the reviewer and
// executor prefer codex and fall back to claude once the task is limited.
type Registry struct {
	claude Backend
	codex  Backend
}

// NewRegistry creates a registry from agent configuration.
func NewRegistry(cfg config.AgentsConfig) *Registry {
	return &Registry{
		claude: &claudeBackend{cfg: cfg.Claude},
		codex:  &codexBackend{cfg: cfg.Codex},
	}
}

// ForRole returns the backend to use for a role given the task's rate-limit
// state.
func (r *Registry) ForRole(role core.Role, rateLimited bool) (Backend, error) {
	switch role {
	case core.RolePlanner, core.RoleMerger:
		return r.claude, nil
	case core.RoleReviewer, core.RoleExecutor:
		if rateLimited {
			return r.claude, nil
		}
		return r.codex, nil
	}
	return nil, core.ErrValidation("UNKNOWN_ROLE", fmt.Sprintf("no backend for role %q", role))
}

// LogName builds the per-invocation log file name inside agent_logs/. The
// rate-limit detector globs on these names, so the backend prefix matters.
func LogName(backend Backend, role core.Role, sequence int) string {
	return fmt.Sprintf("%s-%s-%d.log", backend.Name(), role, sequence)
}
