package shutdown

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// CleanupFunc releases one resource at the end of a campaign. It should
// respect ctx's deadline and be safe to call more than once.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name     string
	priority int // lower runs earlier
	fn       CleanupFunc
}

// Registry holds the cleanup steps of a run in priority order.
//
// The runner registers, lowest first: the history writer flush, the
// database close, then the logger sync.
type Registry struct {
	mu      sync.Mutex
	entries []cleanupEntry
	closed  bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds fn. Registrations after Run are ignored.
func (r *Registry) Register(name string, priority int, fn CleanupFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.entries = append(r.entries, cleanupEntry{name: name, priority: priority, fn: fn})
}

// Run calls every registered function in priority order, registration
// order breaking ties, and returns the failures. Only the first call runs
// anything.
func (r *Registry) Run(ctx context.Context) []error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.sorted()
	r.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		if err := entry.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
		}
	}
	return errs
}

// Names returns the registered names in the order Run would call them.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.sorted()
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.name
	}
	return names
}

// Closed reports whether Run has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// sorted must be called with r.mu held.
func (r *Registry) sorted() []cleanupEntry {
	entries := slices.Clone(r.entries)
	slices.SortStableFunc(entries, func(a, b cleanupEntry) int {
		return a.priority - b.priority
	})
	return entries
}
