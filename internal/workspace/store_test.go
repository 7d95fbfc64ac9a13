package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
)

func newTestStore(t *testing.T, slugs []string, args ...string) *Store {
	t.Helper()

	layout := NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureTree())
	for _, slug := range slugs {
		dir := layout.TaskDir(core.QueueTodo, slug)
		require.NoError(t, os.MkdirAll(dir, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(dir, TicketFile), []byte("# "+slug+"\n"), 0o644))
	}

	selectors := make([]Selector, 0, len(args))
	for _, arg := range args {
		sel, err := ParseSelector(arg)
		require.NoError(t, err)
		selectors = append(selectors, sel)
	}
	return NewStore(layout, selectors)
}

func TestParseSelector(t *testing.T) {
	sel, err := ParseSelector("5")
	require.NoError(t, err)
	assert.True(t, sel.Matches("0005"))
	assert.True(t, sel.Matches("0005-anything"))
	assert.False(t, sel.Matches("0055"))
	assert.False(t, sel.Matches("00051"))

	sel, err = ParseSelector("0005-anything")
	require.NoError(t, err)
	assert.True(t, sel.Matches("0005-anything"))
	assert.False(t, sel.Matches("0005"))

	_, err = ParseSelector("")
	assert.Error(t, err)
	_, err = ParseSelector("../evil")
	assert.Error(t, err)
}

func TestPickNext_PriorityOrder(t *testing.T) {
	// Startup args `5 3`; todo contains 0002, 0003, 0005, 0007.
	store := newTestStore(t, []string{"0002", "0003", "0005", "0007"}, "5", "3")
	active := map[string]bool{}

	admit := func() string {
		slug, ok, err := store.PickNext(active)
		require.NoError(t, err)
		require.True(t, ok)
		store.ConsumeSelector(slug)
		active[slug] = true
		require.NoError(t, store.Move(slug, core.QueueTodo, core.QueueInProgress))
		return slug
	}

	assert.Equal(t, "0005", admit())
	assert.Equal(t, "0003", admit())
	assert.Equal(t, "0002", admit())
	assert.Equal(t, "0007", admit())

	_, ok, err := store.PickNext(active)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPickNext_Idempotent(t *testing.T) {
	store := newTestStore(t, []string{"0002", "0005"}, "5")

	first, ok, err := store.PickNext(nil)
	require.NoError(t, err)
	require.True(t, ok)

	second, ok, err := store.PickNext(nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.Equal(t, "0005", first)
}

func TestPickNext_DiscardsUnmatchedSelectors(t *testing.T) {
	store := newTestStore(t, []string{"0002"}, "9")

	slug, ok, err := store.PickNext(nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0002", slug)

	store.ConsumeSelector(slug)
	assert.Empty(t, store.PendingSelectors())
}

func TestPickNext_ExcludesActive(t *testing.T) {
	store := newTestStore(t, []string{"0002", "0003"})

	slug, ok, err := store.PickNext(map[string]bool{"0002": true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0003", slug)
}

func TestMove(t *testing.T) {
	store := newTestStore(t, []string{"0001-noop"})

	q, ok := store.Queue("0001-noop")
	require.True(t, ok)
	assert.Equal(t, core.QueueTodo, q)

	require.NoError(t, store.Move("0001-noop", core.QueueTodo, core.QueueInProgress))

	q, ok = store.Queue("0001-noop")
	require.True(t, ok)
	assert.Equal(t, core.QueueInProgress, q)

	// The source queue no longer holds the ticket.
	todo, err := store.List(core.QueueTodo)
	require.NoError(t, err)
	assert.Empty(t, todo)

	// Moving a missing task fails.
	err = store.Move("0001-noop", core.QueueTodo, core.QueueDone)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestList_IgnoresNonTasks(t *testing.T) {
	store := newTestStore(t, []string{"0001-noop"})

	// A directory without a ticket is not a task.
	require.NoError(t, os.MkdirAll(store.Layout().TaskDir(core.QueueTodo, "junk"), 0o750))
	// A stray file is not a task either.
	require.NoError(t, os.WriteFile(filepath.Join(store.Layout().QueueDir(core.QueueTodo), "note.txt"), []byte("x"), 0o644))

	slugs, err := store.List(core.QueueTodo)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001-noop"}, slugs)
}
