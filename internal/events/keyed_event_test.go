package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedEvent_PublishOnlyReachesKey(t *testing.T) {
	event := NewKeyedEvent[string, float64]()

	var left, right []float64
	unsubLeft := event.Subscribe("COM3", func(v float64) { left = append(left, v) })
	unsubRight := event.Subscribe("COM4", func(v float64) { right = append(right, v) })

	assert.Equal(t, 1, event.Publish("COM3", 1.5))
	assert.Equal(t, 1, event.Publish("COM4", -2))
	assert.Equal(t, 0, event.Publish("COM9", 7))

	assert.Equal(t, []float64{1.5}, left)
	assert.Equal(t, []float64{-2}, right)

	unsubLeft()
	assert.Equal(t, 0, event.SubscriberCount("COM3"))
	assert.Equal(t, 0, event.Publish("COM3", 3))
	assert.Equal(t, []float64{1.5}, left)

	unsubRight()
	unsubRight()
	assert.Equal(t, 0, event.SubscriberCount("COM4"))
}

func TestKeyedEvent_MultipleSubscribersPerKey(t *testing.T) {
	event := NewKeyedEvent[string, int]()

	var a, b int
	unsubA := event.Subscribe("dev", func(v int) { a += v })
	unsubB := event.Subscribe("dev", func(v int) { b += v })
	defer unsubB()

	assert.Equal(t, 2, event.SubscriberCount("dev"))
	assert.Equal(t, 2, event.Publish("dev", 5))

	unsubA()
	assert.Equal(t, 1, event.Publish("dev", 5))
	assert.Equal(t, 5, a)
	assert.Equal(t, 10, b)
}
