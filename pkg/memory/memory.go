package memory

import "sync"

// History keeps the most recent entries up to a fixed capacity
type History[T any] struct {
	entries  []T
	capacity int
	mu       sync.RWMutex
}

func NewHistory[T any](capacity int) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// GetAll returns a copy of the entries, oldest first
func (h *History[T]) GetAll() []T {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Return a copy to prevent external modifications
	entries := make([]T, len(h.entries))
	copy(entries, h.entries)
	return entries
}

// Last returns the newest entry
func (h *History[T]) Last() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var zero T
	if len(h.entries) == 0 {
		return zero, false
	}
	return h.entries[len(h.entries)-1], true
}

func (h *History[T]) Store(entry T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, entry)
	if len(h.entries) > h.capacity {
		h.entries = h.entries[1:]
	}
}
