package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type linkState int

const (
	disconnected linkState = iota
	connecting
	connected
)

type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *recorder[T]) get() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func TestCallbackEvent_NotifyInOrder(t *testing.T) {
	event := NewCallbackEvent[linkState](false)
	var got recorder[linkState]

	unregister := event.Listen(got.add)
	assert.Equal(t, 1, event.ListenerCount())

	event.Notify(connecting)
	event.Notify(connected)
	event.Notify(disconnected)
	assert.Equal(t, []linkState{connecting, connected, disconnected}, got.get())

	unregister()
	event.Notify(connecting)
	assert.Len(t, got.get(), 3)
	assert.Equal(t, 0, event.ListenerCount())
}

func TestCallbackEvent_EveryListenerCalled(t *testing.T) {
	event := NewCallbackEvent[string](false)
	var a, b recorder[string]
	unregisterA := event.Listen(a.add)
	defer event.Listen(b.add)()

	event.Notify("Entered Green Zone")
	unregisterA()
	event.Notify("Entered Red Zone. Center your leg.")

	assert.Equal(t, []string{"Entered Green Zone"}, a.get())
	assert.Equal(t, []string{"Entered Green Zone", "Entered Red Zone. Center your leg."}, b.get())
}

func TestCallbackEvent_SendLastOnListen(t *testing.T) {
	cases := []struct {
		name     string
		sendLast bool
		notified bool
		want     []linkState
	}{
		{"replay after notify", true, true, []linkState{connected}},
		{"nothing to replay", true, false, nil},
		{"replay disabled", false, true, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := NewCallbackEvent[linkState](tc.sendLast)
			if tc.notified {
				event.Notify(connecting)
				event.Notify(connected)
			}
			var got recorder[linkState]
			defer event.Listen(got.add)()
			assert.Equal(t, tc.want, got.get())
		})
	}
}

func TestCallbackEvent_NilCallbackPanics(t *testing.T) {
	event := NewCallbackEvent[int](false)
	assert.Panics(t, func() { event.Listen(nil) })
}

func TestCallbackEvent_UnregisterInsideCallback(t *testing.T) {
	event := NewCallbackEvent[int](false)
	calls := 0
	var unregister func()
	unregister = event.Listen(func(int) {
		calls++
		unregister()
	})

	event.Notify(1)
	event.Notify(2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, event.ListenerCount())
}

func TestCallbackEvent_UnregisterIsIdempotent(t *testing.T) {
	event := NewCallbackEvent[int](false)
	unregisterA := event.Listen(func(int) {})
	defer event.Listen(func(int) {})()

	unregisterA()
	unregisterA()
	assert.Equal(t, 1, event.ListenerCount())
}

func TestCallbackEvent_ConcurrentListenAndNotify(t *testing.T) {
	event := NewCallbackEvent[int](true)
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unregister := event.Listen(func(v int) {
				mu.Lock()
				total += v
				mu.Unlock()
			})
			defer unregister()
			for j := 0; j < 50; j++ {
				event.Notify(1)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = event.ListenerCount()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 0, event.ListenerCount())
	mu.Lock()
	assert.Positive(t, total)
	mu.Unlock()
}
