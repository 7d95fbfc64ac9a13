package state

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	want := TaskState{Phase: core.PhasePlanning, Iteration: 2, RateLimited: false}
	require.NoError(t, Save(dir, want))

	got, ok, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestSave_Format(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, TaskState{Phase: core.PhaseExecuting, Iteration: 3, RateLimited: true}))

	data, err := os.ReadFile(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, "EXECUTING\n3\ntrue\n", string(data))
}

func TestLoad_Missing(t *testing.T) {
	got, ok, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, core.PhasePlanning, got.Phase)
	assert.Equal(t, 0, got.Iteration)
	assert.False(t, got.RateLimited)
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"too few lines", "PLANNING\n1\n"},
		{"bad phase", "NAPPING\n1\nfalse\n"},
		{"bad iteration", "PLANNING\nnine\nfalse\n"},
		{"iteration out of range", "PLANNING\n7\nfalse\n"},
		{"bad flag", "PLANNING\n1\nmaybe\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(Path(dir), []byte(tt.content), 0o644))

			_, _, err := Load(dir)
			require.Error(t, err)
		})
	}
}
