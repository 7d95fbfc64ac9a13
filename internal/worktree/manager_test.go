package worktree_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/conveyor/internal/adapters/git"
	"github.com/hugo-lorenzo-mato/conveyor/internal/testutil"
	"github.com/hugo-lorenzo-mato/conveyor/internal/worktree"
)

func newManager(t *testing.T) (*worktree.Manager, *testutil.GitRepo, *git.Client) {
	t.Helper()

	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# repo")
	repo.Commit("initial")

	client, err := git.NewClient(repo.Path)
	require.NoError(t, err)

	root := filepath.Join(t.TempDir(), "worktrees")
	return worktree.NewManager(client, root, "main", nil), repo, client
}

func TestCreate_NewBranch(t *testing.T) {
	m, repo, client := newManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "0001-noop")
	require.NoError(t, err)
	assert.Equal(t, m.PathFor("0001-noop"), path)

	exists, err := client.BranchExists(ctx, "task/0001-noop")
	require.NoError(t, err)
	assert.True(t, exists)

	// The worktree is a checkout of the branch at mainline head.
	wtGit, err := git.NewClient(path)
	require.NoError(t, err)
	branch, err := wtGit.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task/0001-noop", branch)

	head, err := wtGit.RevParse(ctx, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, repo.Head(), head)

	assert.True(t, m.IsHealthy(ctx, path))
}

func TestCreate_InvalidSlug(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.Create(context.Background(), "../evil")
	require.Error(t, err)
}

func TestCreate_ResetsBranchAtMainline(t *testing.T) {
	m, repo, client := newManager(t)
	ctx := context.Background()

	// Branch exists at the old mainline head.
	require.NoError(t, client.CreateBranch(ctx, "task/0002-x", "main"))

	// Mainline advances.
	repo.WriteFile("new.txt", "new")
	newHead := repo.Commit("advance main")

	path, err := m.Create(ctx, "0002-x")
	require.NoError(t, err)

	wtGit, err := git.NewClient(path)
	require.NoError(t, err)
	head, err := wtGit.RevParse(ctx, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, newHead, head, "branch at old mainline must be reset to new head")
}

func TestCreate_DiscardsPlanningOnlyBranch(t *testing.T) {
	m, repo, _ := newManager(t)
	ctx := context.Background()

	// Diverged branch with only planning artifacts committed.
	repo.CreateBranch("task/0003-plan")
	repo.WriteFile("workspace/tasks/in-progress/0003-plan/plan-v1.md", "# plan")
	planningHead := repo.Commit("plan only")
	repo.Checkout("main")

	path, err := m.Create(ctx, "0003-plan")
	require.NoError(t, err)

	wtGit, err := git.NewClient(path)
	require.NoError(t, err)
	head, err := wtGit.RevParse(ctx, "HEAD")
	require.NoError(t, err)
	assert.NotEqual(t, planningHead, head, "planning-only branch must be reset")
	assert.Equal(t, repo.Head(), head)
}

func TestCreate_PreservesExecutionProgress(t *testing.T) {
	m, repo, _ := newManager(t)
	ctx := context.Background()

	repo.CreateBranch("task/0004-exec")
	repo.WriteFile("workspace/tasks/in-progress/0004-exec/agent_logs/codex-exec-1.log", "ran")
	execHead := repo.Commit("execution progress")
	repo.Checkout("main")

	path, err := m.Create(ctx, "0004-exec")
	require.NoError(t, err)

	wtGit, err := git.NewClient(path)
	require.NoError(t, err)
	head, err := wtGit.RevParse(ctx, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, execHead, head, "branch with execution evidence must be preserved")
}

func TestCreate_ReplacesStaleDirectory(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	// A leftover directory that is not a registered worktree.
	stale := m.PathFor("0005-stale")
	require.NoError(t, os.MkdirAll(stale, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "junk"), []byte("x"), 0o644))

	path, err := m.Create(ctx, "0005-stale")
	require.NoError(t, err)
	assert.True(t, m.IsHealthy(ctx, path))

	_, err = os.Stat(filepath.Join(path, "junk"))
	assert.True(t, os.IsNotExist(err), "stale content must be gone")
}

func TestCleanup(t *testing.T) {
	m, _, client := newManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "0006-clean")
	require.NoError(t, err)

	require.NoError(t, m.Cleanup(ctx, "0006-clean"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Only the main checkout remains registered.
	wts, err := client.ListWorktrees(ctx)
	require.NoError(t, err)
	assert.Len(t, wts, 1)

	// Idempotent.
	require.NoError(t, m.Cleanup(ctx, "0006-clean"))
}

func TestIsHealthy(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	assert.False(t, m.IsHealthy(ctx, filepath.Join(t.TempDir(), "missing")))

	noGit := t.TempDir()
	assert.False(t, m.IsHealthy(ctx, noGit))

	path, err := m.Create(ctx, "0007-health")
	require.NoError(t, err)
	assert.True(t, m.IsHealthy(ctx, path))
}
