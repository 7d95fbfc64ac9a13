package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// RequireGit skips the test when git is not installed.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// GitRepo is a temporary git repository for testing.
type GitRepo struct {
	Path string
	t    *testing.T
}

// NewGitRepo creates a new temporary git repository with a main branch.
func NewGitRepo(t *testing.T) *GitRepo {
	t.Helper()
	RequireGit(t)

	repo := &GitRepo{
		Path: t.TempDir(),
		t:    t,
	}

	repo.run("init")
	repo.run("config", "user.email", "test@example.com")
	repo.run("config", "user.name", "Test User")
	repo.run("checkout", "-b", "main")

	return repo
}

// run executes a git command in the repo, failing the test on error.
func (r *GitRepo) run(args ...string) string {
	r.t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = r.Path

	output, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %v: %s: %v", args, output, err)
	}

	return strings.TrimSpace(string(output))
}

// Run executes a git command (exported for test access).
func (r *GitRepo) Run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Path

	output, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(output)), err
}

// WriteFile creates a file in the repo, creating parent directories.
func (r *GitRepo) WriteFile(name, content string) {
	r.t.Helper()

	path := filepath.Join(r.Path, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.t.Fatalf("creating directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		r.t.Fatalf("writing file: %v", err)
	}
}

// Commit stages all and commits, returning the new HEAD.
func (r *GitRepo) Commit(message string) string {
	r.t.Helper()

	r.run("add", "-A")
	r.run("commit", "-m", message, "--allow-empty")

	return r.run("rev-parse", "HEAD")
}

// CreateBranch creates and checks out a new branch.
func (r *GitRepo) CreateBranch(name string) {
	r.t.Helper()
	r.run("checkout", "-b", name)
}

// Checkout switches to a branch.
func (r *GitRepo) Checkout(name string) {
	r.t.Helper()
	r.run("checkout", name)
}

// CurrentBranch returns the current branch name.
func (r *GitRepo) CurrentBranch() string {
	r.t.Helper()
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// Head returns the current HEAD commit.
func (r *GitRepo) Head() string {
	r.t.Helper()
	return r.run("rev-parse", "HEAD")
}

// SetRemote sets up a remote (can be another repo's path).
func (r *GitRepo) SetRemote(name, url string) {
	r.t.Helper()
	r.run("remote", "add", name, url)
}

// CreateBareRemote creates a bare repository to use as a remote.
func CreateBareRemote(t *testing.T) string {
	t.Helper()
	RequireGit(t)

	dir := t.TempDir()

	cmd := exec.Command("git", "init", "--bare", dir)
	if err := cmd.Run(); err != nil {
		t.Fatalf("creating bare repo: %v", err)
	}
	return dir
}
