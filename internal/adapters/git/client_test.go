package git_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/conveyor/internal/adapters/git"
	"github.com/hugo-lorenzo-mato/conveyor/internal/testutil"
)

func TestNewClient_NotARepo(t *testing.T) {
	testutil.RequireGit(t)
	_, err := git.NewClient(t.TempDir())
	require.Error(t, err)
}

func TestBranchLifecycle(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("initial")

	client, err := git.NewClient(repo.Path)
	require.NoError(t, err)
	ctx := context.Background()

	exists, err := client.BranchExists(ctx, "task/0001-noop")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.CreateBranch(ctx, "task/0001-noop", "main"))

	exists, err = client.BranchExists(ctx, "task/0001-noop")
	require.NoError(t, err)
	assert.True(t, exists)

	branches, err := client.ListBranches(ctx)
	require.NoError(t, err)
	assert.Contains(t, branches, "task/0001-noop")

	require.NoError(t, client.DeleteBranch(ctx, "task/0001-noop"))
	exists, err = client.BranchExists(ctx, "task/0001-noop")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRevListCount(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("a.txt", "a")
	repo.Commit("one")

	client, err := git.NewClient(repo.Path)
	require.NoError(t, err)
	ctx := context.Background()

	repo.CreateBranch("task/0001-noop")
	repo.WriteFile("b.txt", "b")
	repo.Commit("two")
	repo.WriteFile("c.txt", "c")
	repo.Commit("three")

	n, err := client.RevListCount(ctx, "main", "task/0001-noop")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = client.RevListCount(ctx, "task/0001-noop", "main")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	subjects, err := client.LogOneline(ctx, "main", "task/0001-noop")
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Contains(t, subjects[0], "three")
}

func TestBranchTouchesPath(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "x")
	repo.Commit("initial")

	client, err := git.NewClient(repo.Path)
	require.NoError(t, err)
	ctx := context.Background()

	repo.CreateBranch("task/0002-work")
	repo.WriteFile("workspace/tasks/in-progress/0002-work/agent_logs/codex-exec-1.log", "log")
	repo.Commit("exec progress")

	touched, err := client.BranchTouchesPath(ctx, "main", "task/0002-work", "*exec*.log")
	require.NoError(t, err)
	assert.True(t, touched)

	touched, err = client.BranchTouchesPath(ctx, "main", "task/0002-work", "*plan-v9*.md")
	require.NoError(t, err)
	assert.False(t, touched)
}

func TestCommitAll_NothingToCommit(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("a.txt", "a")
	repo.Commit("one")

	client, err := git.NewClient(repo.Path)
	require.NoError(t, err)

	sha, err := client.CommitAll(context.Background(), "noop")
	require.NoError(t, err)
	assert.Empty(t, sha)

	repo.WriteFile("b.txt", "b")
	sha, err = client.CommitAll(context.Background(), "change")
	require.NoError(t, err)
	assert.NotEmpty(t, sha)
}

func TestMergeSquash(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("base.txt", "base")
	repo.Commit("initial")

	client, err := git.NewClient(repo.Path)
	require.NoError(t, err)
	ctx := context.Background()

	repo.CreateBranch("task/0003-feature")
	repo.WriteFile("feature.txt", "feature")
	repo.Commit("add feature")
	repo.Checkout("main")

	require.NoError(t, client.MergeSquash(ctx, "task/0003-feature"))
	sha, err := client.CommitAll(ctx, "complete task 0003-feature")
	require.NoError(t, err)
	assert.NotEmpty(t, sha)

	_, statErr := os.Stat(filepath.Join(repo.Path, "feature.txt"))
	assert.NoError(t, statErr)
}

func TestMergeSquash_Conflict(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("shared.txt", "base\n")
	repo.Commit("initial")

	client, err := git.NewClient(repo.Path)
	require.NoError(t, err)
	ctx := context.Background()

	repo.CreateBranch("task/0004-conflict")
	repo.WriteFile("shared.txt", "branch change\n")
	repo.Commit("branch edit")

	repo.Checkout("main")
	repo.WriteFile("shared.txt", "main change\n")
	repo.Commit("main edit")

	err = client.MergeSquash(ctx, "task/0004-conflict")
	require.Error(t, err)
	assert.ErrorIs(t, err, git.ErrMergeConflict)

	require.NoError(t, client.AbortMerge(ctx))
	clean, err := client.IsClean(ctx)
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestRebase_Conflict(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("shared.txt", "base\n")
	repo.Commit("initial")

	client, err := git.NewClient(repo.Path)
	require.NoError(t, err)
	ctx := context.Background()

	repo.CreateBranch("task/0005-rebase")
	repo.WriteFile("shared.txt", "branch change\n")
	repo.Commit("branch edit")

	repo.Checkout("main")
	repo.WriteFile("shared.txt", "main change\n")
	repo.Commit("main edit")

	repo.Checkout("task/0005-rebase")
	err = client.Rebase(ctx, "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, git.ErrRebaseConflict)

	require.NoError(t, client.AbortRebase(ctx))
	assert.Equal(t, "task/0005-rebase", repo.CurrentBranch())
}

func TestWorktreeLifecycle(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("a.txt", "a")
	repo.Commit("initial")

	client, err := git.NewClient(repo.Path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, client.CreateBranch(ctx, "task/0006-wt", "main"))

	wtPath := filepath.Join(t.TempDir(), "task-0006-wt")
	require.NoError(t, client.AddWorktree(ctx, wtPath, "task/0006-wt"))

	wts, err := client.ListWorktrees(ctx)
	require.NoError(t, err)
	found := false
	for _, wt := range wts {
		if wt.Branch == "task/0006-wt" {
			found = true
		}
	}
	assert.True(t, found, "worktree for task branch should be listed")

	require.NoError(t, client.RemoveWorktree(ctx, wtPath, true))
	require.NoError(t, client.PruneWorktrees(ctx))
}

func TestValidation_RejectsOptionInjection(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("a.txt", "a")
	repo.Commit("initial")

	client, err := git.NewClient(repo.Path)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Error(t, client.CreateBranch(ctx, "--force", "main"))
	assert.Error(t, client.DeleteBranch(ctx, "-D"))
	assert.Error(t, client.Fetch(ctx, "-v"))
	_, err = client.RevParse(ctx, "--verify")
	assert.Error(t, err)
}
