package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hugo-lorenzo-mato/conveyor/internal/core"
)

// Selector matches todo tasks for priority admission. A selector is either a
// full slug or a numeric prefix; bare integers are zero-padded to four
// digits and match `NNNN` or `NNNN-*`.
type Selector struct {
	raw    string
	prefix string // zero-padded numeric prefix, empty for full-slug selectors
}

// ParseSelector builds a selector from a CLI argument.
func ParseSelector(arg string) (Selector, error) {
	trimmed := strings.TrimSpace(arg)
	if trimmed == "" {
		return Selector{}, core.ErrValidation("SELECTOR_EMPTY", "priority selector must not be empty")
	}
	if n, err := strconv.Atoi(trimmed); err == nil && n >= 0 {
		return Selector{raw: trimmed, prefix: fmt.Sprintf("%04d", n)}, nil
	}
	if err := core.ValidateSlug(trimmed); err != nil {
		return Selector{}, err
	}
	return Selector{raw: trimmed}, nil
}

// Matches reports whether the selector matches a slug.
func (s Selector) Matches(slug string) bool {
	if s.prefix != "" {
		return slug == s.prefix || strings.HasPrefix(slug, s.prefix+"-")
	}
	return slug == s.raw
}

// String returns the original argument.
func (s Selector) String() string {
	return s.raw
}

// Store looks up and moves task directories between queues.
type Store struct {
	layout    Layout
	selectors []Selector
}

// NewStore creates a store over a layout with an ordered priority queue.
func NewStore(layout Layout, selectors []Selector) *Store {
	return &Store{layout: layout, selectors: selectors}
}

// Layout returns the store's workspace layout.
func (s *Store) Layout() Layout {
	return s.layout
}

// List returns the slugs present in a queue, sorted lexicographically. Only
// directories containing a ticket file count as tasks.
func (s *Store) List(q core.Queue) ([]string, error) {
	entries, err := os.ReadDir(s.layout.QueueDir(q))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading queue %s: %w", q, err)
	}

	slugs := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.layout.TicketPath(q, e.Name())); err != nil {
			continue
		}
		slugs = append(slugs, e.Name())
	}
	sort.Strings(slugs)
	return slugs, nil
}

// Queue returns which queue currently holds a slug.
func (s *Store) Queue(slug string) (core.Queue, bool) {
	for _, q := range core.Queues() {
		if _, err := os.Stat(s.layout.TicketPath(q, slug)); err == nil {
			return q, true
		}
	}
	return "", false
}

// PickNext returns the next todo task to admit, honoring priority selectors
// in declaration order, falling back to lexicographic slug order when no
// selector matches. Slugs in the active set are excluded. PickNext does not
// mutate the selector queue, so repeated calls without an intervening
// ConsumeSelector return the same slug.
func (s *Store) PickNext(active map[string]bool) (string, bool, error) {
	todo, err := s.List(core.QueueTodo)
	if err != nil {
		return "", false, err
	}

	candidates := todo[:0:0]
	for _, slug := range todo {
		if !active[slug] {
			candidates = append(candidates, slug)
		}
	}
	if len(candidates) == 0 {
		return "", false, nil
	}

	for _, sel := range s.selectors {
		for _, slug := range candidates {
			if sel.Matches(slug) {
				return slug, true, nil
			}
		}
	}

	return candidates[0], true, nil
}

// ConsumeSelector records that a picked slug was actually admitted: the
// matching selector is popped, and leading selectors that were scanned past
// without matching anything in todo are discarded. When the admission came
// from the lexicographic fallback, every selector has completed a full todo
// scan without a match and the queue is cleared.
func (s *Store) ConsumeSelector(slug string) {
	for i, sel := range s.selectors {
		if sel.Matches(slug) {
			s.selectors = s.selectors[i+1:]
			return
		}
	}
	s.selectors = nil
}

// PendingSelectors returns the selectors not yet consumed.
func (s *Store) PendingSelectors() []Selector {
	out := make([]Selector, len(s.selectors))
	copy(out, s.selectors)
	return out
}

// Move atomically renames a task directory between queues.
func (s *Store) Move(slug string, from, to core.Queue) error {
	if err := core.ValidateSlug(slug); err != nil {
		return err
	}
	src := s.layout.TaskDir(from, slug)
	dst := s.layout.TaskDir(to, slug)

	if _, err := os.Stat(src); err != nil {
		return core.ErrNotFound("task", slug).WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("creating queue %s: %w", to, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving task %s from %s to %s: %w", slug, from, to, err)
	}
	return nil
}
