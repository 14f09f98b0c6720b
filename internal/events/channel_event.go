package events

// ChannelEvent provides pub/sub behavior using channels.
// Sends never block: a listener whose channel is full misses that value.
type ChannelEvent[T any] struct {
	channels              registry[chan<- T]
	last                  lastValue[T]
	sendLastEventOnListen bool
}

// NewChannelEvent creates a new ChannelEvent instance
// sendLastEventOnListen: if true, new listeners immediately receive the last
// notified value (if any and if the channel has room)
func NewChannelEvent[T any](sendLastEventOnListen bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		channels:              newRegistry[chan<- T](),
		last:                  lastValue[T]{enabled: sendLastEventOnListen},
		sendLastEventOnListen: sendLastEventOnListen,
	}
}

// Listen registers ch and returns its deregistration function
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}
	unregister := e.channels.add(ch)
	if v, ok := e.last.load(); ok {
		trySend(ch, v)
	}
	return unregister
}

// Notify offers value to every registered channel without blocking
func (e *ChannelEvent[T]) Notify(value T) {
	e.last.store(value)
	for _, ch := range e.channels.snapshot() {
		trySend(ch, value)
	}
}

// ListenerCount returns the current number of registered listeners
func (e *ChannelEvent[T]) ListenerCount() int {
	return e.channels.count()
}

func trySend[T any](ch chan<- T, value T) bool {
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}
