// Package events provides the in-process publish/subscribe bus used for sync
// status, operation outcomes and transport lifecycle notifications.
package events

import "sync"

// Bus fans values out to subscribers. Publish runs handlers synchronously on
// the caller's goroutine, in subscription order. A nil *Bus drops everything.
type Bus[T any] struct {
	mu       sync.Mutex
	nextID   int
	handlers []subscription[T]
}

type subscription[T any] struct {
	id int
	fn func(T)
}

// NewBus returns an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus[T]) Subscribe(fn func(T)) (cancel func()) {
	if b == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.handlers {
				if s.id == id {
					b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers v to every current subscriber. Handlers may subscribe or
// cancel from inside a callback.
func (b *Bus[T]) Publish(v T) {
	if b == nil {
		return
	}
	b.mu.Lock()
	hs := make([]subscription[T], len(b.handlers))
	copy(hs, b.handlers)
	b.mu.Unlock()

	for _, s := range hs {
		s.fn(v)
	}
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}
