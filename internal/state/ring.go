package state

import "sync"

// Ring is a thread-safe ring buffer holding a fixed number of items. When
// full, adding a new item overwrites the oldest one.
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	head     int // next write position
	size     int
}

// NewRing creates a ring with the given capacity, which must be positive.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ring capacity must be greater than zero")
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add inserts an item, evicting the oldest one when full.
func (r *Ring[T]) Add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// All returns every item oldest first. The slice is a copy.
func (r *Ring[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return nil
	}

	out := make([]T, r.size)
	if r.size < r.capacity {
		copy(out, r.items[:r.size])
	} else {
		// Wrapped: head is the oldest item.
		n := copy(out, r.items[r.head:])
		copy(out[n:], r.items[:r.head])
	}
	return out
}
