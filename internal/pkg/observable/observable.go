// Package observable holds a value that notifies subscribers on every change.
package observable

import "sync"

// Value is a mutex-guarded value with synchronous change callbacks.
// Callbacks run on the goroutine that called Set, after the lock is released,
// in the order they were registered.
type Value[T any] struct {
	mu     sync.RWMutex
	value  T
	nextID int
	subs   map[int]func(T)
	order  []int
}

// New creates a Value holding initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{value: initial, subs: make(map[int]func(T))}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set replaces the value and notifies subscribers.
func (v *Value[T]) Set(value T) {
	v.mu.Lock()
	v.value = value
	handlers := v.snapshotLocked()
	v.mu.Unlock()

	for _, h := range handlers {
		h(value)
	}
}

// Update applies fn to the current value under the lock. If fn reports a change,
// the new value is stored and subscribers are notified.
func (v *Value[T]) Update(fn func(current T) (T, bool)) T {
	v.mu.Lock()
	next, changed := fn(v.value)
	if !changed {
		current := v.value
		v.mu.Unlock()
		return current
	}
	v.value = next
	handlers := v.snapshotLocked()
	v.mu.Unlock()

	for _, h := range handlers {
		h(next)
	}
	return next
}

// Subscribe registers fn and returns the function that removes it.
func (v *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.order = append(v.order, id)
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
			for i, oid := range v.order {
				if oid == id {
					v.order = append(v.order[:i], v.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (v *Value[T]) snapshotLocked() []func(T) {
	handlers := make([]func(T), 0, len(v.order))
	for _, id := range v.order {
		handlers = append(handlers, v.subs[id])
	}
	return handlers
}
