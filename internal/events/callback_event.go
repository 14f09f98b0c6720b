package events

// CallbackEvent provides pub/sub behavior with type-safe callbacks.
// Callbacks run synchronously on the goroutine that calls Notify, outside any lock,
// so a callback may deregister itself or others.
type CallbackEvent[T any] struct {
	listeners             registry[func(T)]
	last                  lastValue[T]
	sendLastEventOnListen bool
}

// NewCallbackEvent creates a new CallbackEvent instance
// sendLastEventOnListen: if true, new listeners are called immediately with the
// last notified value (if any)
func NewCallbackEvent[T any](sendLastEventOnListen bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		listeners:             newRegistry[func(T)](),
		last:                  lastValue[T]{enabled: sendLastEventOnListen},
		sendLastEventOnListen: sendLastEventOnListen,
	}
}

// Listen registers a callback and returns its deregistration function
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}
	unregister := e.listeners.add(callback)
	if v, ok := e.last.load(); ok {
		callback(v)
	}
	return unregister
}

// Notify calls every registered callback with value
func (e *CallbackEvent[T]) Notify(value T) {
	e.last.store(value)
	for _, callback := range e.listeners.snapshot() {
		callback(value)
	}
}

// ListenerCount returns the current number of registered listeners
func (e *CallbackEvent[T]) ListenerCount() int {
	return e.listeners.count()
}
