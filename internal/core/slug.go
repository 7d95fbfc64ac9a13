package core

import (
	"fmt"
	"strings"
)

// ValidateSlug checks that a task slug is safe to use as a directory name
// and a branch suffix. Alphanumerics, '-' and '_' only; no path separators,
// no "..".
func ValidateSlug(slug string) error {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return ErrValidation("SLUG_REQUIRED", "task slug must not be empty")
	}
	if trimmed != slug {
		return ErrValidation("SLUG_INVALID", "task slug must not have surrounding whitespace")
	}
	if strings.Contains(slug, "..") || strings.ContainsAny(slug, "/\\") {
		return ErrValidation("SLUG_INVALID", "task slug contains path characters")
	}
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			continue
		}
		return ErrValidation("SLUG_INVALID", fmt.Sprintf("task slug contains invalid character %q", r))
	}
	return nil
}

// BranchFor returns the task branch name for a slug.
func BranchFor(slug string) string {
	return "task/" + slug
}

// WorktreeDirFor returns the worktree directory name for a slug.
func WorktreeDirFor(slug string) string {
	return "task-" + slug
}
