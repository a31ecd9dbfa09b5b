package routing

import (
	"sort"
	"sync"

	apperrors "logistics/pkg/errors"
)

type entry[H any] struct {
	pattern     string
	specificity int
	value       H
}

// Table maps patterns to values and resolves a key to the value of the most
// specific matching pattern. Registrations that would make the winner
// undefined for some key are rejected.
type Table[H any] struct {
	mu      sync.RWMutex
	entries []entry[H]
}

func NewTable[H any]() *Table[H] {
	return &Table[H]{}
}

func (t *Table[H]) Add(pattern string, value H) error {
	if err := ValidatePattern(pattern); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if e.pattern == pattern {
			return apperrors.ErrAmbiguousHandler.WithMessage("pattern %q is already registered", pattern)
		}
		if Ambiguous(e.pattern, pattern) {
			return apperrors.ErrAmbiguousHandler.WithMessage("pattern %q overlaps %q with equal specificity", pattern, e.pattern)
		}
	}

	t.entries = append(t.entries, entry[H]{pattern: pattern, specificity: Specificity(pattern), value: value})
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].specificity > t.entries[j].specificity
	})
	return nil
}

// Lookup returns the value registered under the most specific pattern that
// matches key, and that pattern.
func (t *Table[H]) Lookup(key string) (H, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if Matches(key, e.pattern) {
			return e.value, e.pattern, true
		}
	}
	var zero H
	return zero, "", false
}

func (t *Table[H]) Patterns() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.pattern
	}
	return out
}

func (t *Table[H]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
