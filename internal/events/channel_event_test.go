package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func drain[T any](ch <-chan T) []T {
	var out []T
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestChannelEvent_NotifyReachesEveryChannel(t *testing.T) {
	event := NewChannelEvent[string](false)
	a := make(chan string, 4)
	b := make(chan string, 4)
	unregisterA := event.Listen(a)
	defer event.Listen(b)()
	assert.Equal(t, 2, event.ListenerCount())

	event.Notify("Session: connected")
	unregisterA()
	event.Notify("Engine: started")

	assert.Equal(t, []string{"Session: connected"}, drain(a))
	assert.Equal(t, []string{"Session: connected", "Engine: started"}, drain(b))
}

func TestChannelEvent_FullChannelDropsWithoutBlocking(t *testing.T) {
	event := NewChannelEvent[int](false)
	slow := make(chan int, 1)
	fast := make(chan int, 8)
	defer event.Listen(slow)()
	defer event.Listen(fast)()

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 3; i++ {
			event.Notify(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full channel")
	}
	assert.Equal(t, []int{1}, drain(slow))
	assert.Equal(t, []int{1, 2, 3}, drain(fast))
}

func TestChannelEvent_SendLastOnListen(t *testing.T) {
	event := NewChannelEvent[string](true)
	early := make(chan string, 1)
	defer event.Listen(early)()
	assert.Empty(t, drain(early), "nothing notified yet")

	event.Notify("first")
	event.Notify("second")
	drain(early)

	late := make(chan string, 1)
	defer event.Listen(late)()
	assert.Equal(t, []string{"second"}, drain(late))

	// a full channel just misses the replay
	full := make(chan string, 1)
	full <- "pending"
	defer event.Listen(full)()
	assert.Equal(t, []string{"pending"}, drain(full))
}

func TestChannelEvent_NoReplayWhenDisabled(t *testing.T) {
	event := NewChannelEvent[string](false)
	event.Notify("lost")
	ch := make(chan string, 1)
	defer event.Listen(ch)()
	assert.Empty(t, drain(ch))
}

func TestChannelEvent_NilChannelPanics(t *testing.T) {
	event := NewChannelEvent[int](false)
	assert.Panics(t, func() { event.Listen(nil) })
}

func TestChannelEvent_ConcurrentAccess(t *testing.T) {
	event := NewChannelEvent[int](true)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := make(chan int, 100)
			unregister := event.Listen(ch)
			for j := 0; j < 50; j++ {
				event.Notify(j)
			}
			unregister()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, event.ListenerCount())
}
