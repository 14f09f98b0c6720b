package events

import "sync"

// KeyedEvent is a set of CallbackEvents indexed by key, e.g. one per device.
// Subscriptions are explicit; nothing is removed implicitly when a subscriber goes away.
type KeyedEvent[K comparable, T any] struct {
	mu    sync.RWMutex
	byKey map[K]*CallbackEvent[T]
}

func NewKeyedEvent[K comparable, T any]() *KeyedEvent[K, T] {
	return &KeyedEvent[K, T]{byKey: make(map[K]*CallbackEvent[T])}
}

// Subscribe registers callback for values published under key.
// The returned function removes only this subscription.
func (e *KeyedEvent[K, T]) Subscribe(key K, callback func(T)) func() {
	e.mu.Lock()
	ev, ok := e.byKey[key]
	if !ok {
		ev = NewCallbackEvent[T](false)
		e.byKey[key] = ev
	}
	e.mu.Unlock()
	return ev.Listen(callback)
}

// Publish delivers value to the subscribers of key and reports how many there were
func (e *KeyedEvent[K, T]) Publish(key K, value T) int {
	e.mu.RLock()
	ev, ok := e.byKey[key]
	e.mu.RUnlock()
	if !ok {
		return 0
	}
	n := ev.ListenerCount()
	ev.Notify(value)
	return n
}

// SubscriberCount returns the number of subscribers for key
func (e *KeyedEvent[K, T]) SubscriberCount(key K) int {
	e.mu.RLock()
	ev, ok := e.byKey[key]
	e.mu.RUnlock()
	if !ok {
		return 0
	}
	return ev.ListenerCount()
}
