package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanout(t *testing.T) {
	bus := NewBus(16)
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(b)

	bus.Publish(Event{Type: TypeComplete, RequestID: "r1"})

	for _, ch := range []chan Event{a, b} {
		select {
		case evt := <-ch:
			assert.Equal(t, TypeComplete, evt.Type)
			assert.Equal(t, "r1", evt.RequestID)
			assert.False(t, evt.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("no event delivered")
		}
	}
}

func TestBusDropsWhenSubscriberSlow(t *testing.T) {
	bus := NewBus(16)
	ch := bus.Subscribe(1)
	defer bus.Unsubscribe(ch)

	bus.Publish(Event{Type: TypeIteration})
	bus.Publish(Event{Type: TypeIteration}) // buffer full, dropped

	assert.Len(t, ch, 1)
}

func TestBusReplaySince(t *testing.T) {
	bus := NewBus(4)
	for i := 0; i < 6; i++ {
		bus.Publish(Event{Type: TypeIteration})
	}

	// Capacity 4 keeps seq 2..5; asking since 3 yields 4 and 5.
	got := bus.ReplaySince(3)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(4), got[0].Seq)
	assert.Equal(t, uint64(5), got[1].Seq)
}

func TestBusUnsubscribeCloses(t *testing.T) {
	bus := NewBus(4)
	ch := bus.Subscribe(1)
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Double unsubscribe is harmless.
	bus.Unsubscribe(ch)
}
