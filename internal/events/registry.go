package events

import "sync"

// registry is the listener bookkeeping shared by the event types in this package.
// V is whatever a listener is represented by (a callback, a channel).
type registry[V any] struct {
	mu        sync.RWMutex
	listeners map[uint64]V
	nextID    uint64
}

func newRegistry[V any]() registry[V] {
	return registry[V]{listeners: make(map[uint64]V)}
}

// add stores v and returns an idempotent deregistration function
func (r *registry[V]) add(v V) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = v
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// snapshot copies the current listeners so they can be invoked without holding the lock
func (r *registry[V]) snapshot() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]V, 0, len(r.listeners))
	for _, v := range r.listeners {
		out = append(out, v)
	}
	return out
}

func (r *registry[V]) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// lastValue remembers the most recent Notify argument for sendLastEventOnListen events
type lastValue[T any] struct {
	mu      sync.Mutex
	enabled bool
	set     bool
	value   T
}

func (l *lastValue[T]) store(v T) {
	if !l.enabled {
		return
	}
	l.mu.Lock()
	l.value = v
	l.set = true
	l.mu.Unlock()
}

func (l *lastValue[T]) load() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.enabled && l.set
}
