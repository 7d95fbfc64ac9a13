// Package worktree creates, heals, and removes the isolated per-task
// checkouts. The branch is authoritative: the worktree directory is a
// projection of branch state and is rebuilt from it whenever the two
// disagree.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/conveyor/internal/adapters/git"
	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
	"github.com/hugo-lorenzo-mato/conveyor/internal/logging"
)

// ExecLogGlob is the pathspec used as execution evidence: any commit on the
// task branch touching a matching blob means real work happened and the
// branch is preserved.
const ExecLogGlob = "*exec*.log"

// Manager owns the worktrees root beside the repository.
type Manager struct {
	git      *git.Client
	root     string
	mainline string
	logger   *logging.Logger
}

// NewManager creates a worktree manager.
func NewManager(gitClient *git.Client, root, mainline string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		git:      gitClient,
		root:     root,
		mainline: mainline,
		logger:   logger,
	}
}

// PathFor returns the canonical worktree path for a slug.
func (m *Manager) PathFor(slug string) string {
	return filepath.Join(m.root, core.WorktreeDirFor(slug))
}

// Create builds (or rebuilds) the worktree for a task and returns its path.
//
// Branch decision:
//   - branch missing              -> create from mainline head
//   - branch equal to mainline    -> reset to current mainline head
//   - branch ahead, exec evidence -> preserve progress
//   - branch ahead, planning only -> reset to mainline (planning is cheap
//     and re-deriving it beats diverging from current mainline)
func (m *Manager) Create(ctx context.Context, slug string) (string, error) {
	if err := core.ValidateSlug(slug); err != nil {
		return "", err
	}
	branch := core.BranchFor(slug)
	path := m.PathFor(slug)
	log := m.logger.WithTask(slug)

	if err := m.git.PruneWorktrees(ctx); err != nil {
		return "", fmt.Errorf("pruning worktrees: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		log.Warn("removing stale worktree directory", "path", path)
		if err := m.forceRemove(ctx, path); err != nil {
			return "", err
		}
	}

	exists, err := m.git.BranchExists(ctx, branch)
	if err != nil {
		return "", err
	}

	switch {
	case !exists:
		if err := m.git.CreateBranch(ctx, branch, m.mainline); err != nil {
			return "", fmt.Errorf("creating branch %s: %w", branch, err)
		}
		log.Info("created task branch", "branch", branch)
	default:
		ahead, err := m.git.RevListCount(ctx, m.mainline, branch)
		if err != nil {
			return "", err
		}
		if ahead == 0 {
			if err := m.git.ResetBranch(ctx, branch, m.mainline); err != nil {
				return "", fmt.Errorf("resetting branch %s: %w", branch, err)
			}
			log.Info("reset task branch to mainline", "branch", branch)
		} else {
			hasExec, err := m.git.BranchTouchesPath(ctx, m.mainline, branch, ExecLogGlob)
			if err != nil {
				return "", err
			}
			if hasExec {
				log.Info("preserving diverged branch with execution progress",
					"branch", branch, "ahead", ahead)
			} else {
				if err := m.git.ResetBranch(ctx, branch, m.mainline); err != nil {
					return "", fmt.Errorf("resetting branch %s: %w", branch, err)
				}
				log.Info("discarded planning-only branch", "branch", branch, "ahead", ahead)
			}
		}
	}

	if err := m.git.AddWorktree(ctx, path, branch); err != nil {
		return "", fmt.Errorf("attaching worktree for %s: %w", branch, err)
	}
	return path, nil
}

// Cleanup removes the worktree for a slug: VCS-aware removal first, then a
// filesystem fallback, then metadata pruning.
func (m *Manager) Cleanup(ctx context.Context, slug string) error {
	if err := core.ValidateSlug(slug); err != nil {
		return err
	}
	return m.forceRemove(ctx, m.PathFor(slug))
}

func (m *Manager) forceRemove(ctx context.Context, path string) error {
	if err := m.git.RemoveWorktree(ctx, path, true); err != nil {
		m.logger.Debug("git worktree remove failed, falling back to filesystem", "path", path, "error", err)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing worktree directory %s: %w", path, err)
		}
	}
	if err := m.git.PruneWorktrees(ctx); err != nil {
		return fmt.Errorf("pruning worktrees: %w", err)
	}
	return nil
}

// IsHealthy reports whether a worktree directory is usable: it exists, has
// VCS metadata, and the status command completes.
func (m *Manager) IsHealthy(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return false
	}
	if _, err := m.git.At(path).Status(ctx); err != nil {
		return false
	}
	return true
}
