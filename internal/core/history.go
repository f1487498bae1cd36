package core

// History is a bounded FIFO ring of snapshots. Appending beyond capacity
// drops the oldest entry. Not synchronized; owners hold their own lock.
type History[T any] struct {
	items []T
	head  int
	size  int
}

// NewHistory creates a ring with the given capacity. Capacity must be
// positive; zero or negative falls back to 1 so Latest always works.
func NewHistory[T any](capacity int) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[T]{items: make([]T, capacity)}
}

// Append adds an entry, evicting the oldest when full
func (h *History[T]) Append(item T) {
	tail := (h.head + h.size) % len(h.items)
	h.items[tail] = item
	if h.size == len(h.items) {
		h.head = (h.head + 1) % len(h.items)
	} else {
		h.size++
	}
}

// Len returns the number of stored entries
func (h *History[T]) Len() int {
	return h.size
}

// Cap returns the ring capacity
func (h *History[T]) Cap() int {
	return len(h.items)
}

// Latest returns the most recently appended entry
func (h *History[T]) Latest() (T, bool) {
	var zero T
	if h.size == 0 {
		return zero, false
	}
	idx := (h.head + h.size - 1) % len(h.items)
	return h.items[idx], true
}

// Items returns the entries oldest-first as a fresh slice
func (h *History[T]) Items() []T {
	out := make([]T, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.items[(h.head+i)%len(h.items)]
	}
	return out
}
