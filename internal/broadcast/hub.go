// Package broadcast fans change signals out to subscribers.
package broadcast

import "sync"

// Hub fans a change signal out to subscribers. Each subscriber gets a
// channel buffered with capacity 1 so bursts of changes coalesce into one
// wake-up.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]chan struct{}
	nextID uint64
}

// NewHub creates a Hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan struct{})}
}

// Subscribe returns a notification channel and an unsubscribe function.
func (b *Hub) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan struct{}, 1)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
		})
	}
}

// Notify signals every subscriber without blocking.
func (b *Hub) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Already pending; coalesce.
		}
	}
}
