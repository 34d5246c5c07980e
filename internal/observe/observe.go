// Package observe provides a single-owner observable value: the owner mutates
// through Update, everyone else reads Get or subscribes to changes.
package observe

import "sync"

// Value holds a snapshot of T and notifies subscribers after each change.
// Subscribers run synchronously on the mutating goroutine and must not call
// Update themselves.
type Value[T any] struct {
	mu     sync.RWMutex
	cur    T
	subs   map[int]func(T)
	nextID int
}

// New returns a Value initialised to v.
func New[T any](v T) *Value[T] {
	return &Value[T]{cur: v, subs: make(map[int]func(T))}
}

// Get returns the current snapshot.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cur
}

// Update applies fn to a copy of the current value, stores the result and
// notifies subscribers.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	next := fn(v.cur)
	v.cur = next
	subs := make([]func(T), 0, len(v.subs))
	for _, s := range v.subs {
		subs = append(subs, s)
	}
	v.mu.Unlock()

	for _, s := range subs {
		s(next)
	}
	return next
}

// Subscribe registers fn and returns a function that removes it.
func (v *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subs, id)
	}
}
