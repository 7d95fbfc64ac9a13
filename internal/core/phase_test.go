package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	for _, p := range []Phase{PhasePlanning, PhaseExecuting, PhaseOutbound, PhaseMerging} {
		got, err := ParsePhase(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParsePhase("DANCING")
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatValidation))
}

func TestPhaseFor(t *testing.T) {
	tests := []struct {
		queue Queue
		want  Phase
	}{
		{QueueTodo, PhasePlanning},
		{QueueInProgress, PhaseExecuting},
		{QueueOutbound, PhaseOutbound},
		{QueueDone, PhasePlanning},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PhaseFor(tt.queue), "queue %s", tt.queue)
	}
}

func TestValidateSlug(t *testing.T) {
	valid := []string{"0001-noop", "fix_bug", "A-1", "0005-anything"}
	for _, s := range valid {
		assert.NoError(t, ValidateSlug(s), s)
	}

	invalid := []string{"", " padded ", "a/b", `a\b`, "a..b", "a b", "task!"}
	for _, s := range invalid {
		assert.Error(t, ValidateSlug(s), s)
	}
}

func TestBranchFor(t *testing.T) {
	assert.Equal(t, "task/0001-noop", BranchFor("0001-noop"))
	assert.Equal(t, "task-0001-noop", WorktreeDirFor("0001-noop"))
}
