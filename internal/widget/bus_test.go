package widget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryBusDeliversInOrder(t *testing.T) {
	bus := NewMemoryBus()

	var got []string
	bus.Subscribe(func(sig Signal) { got = append(got, "first:"+sig.Prefill) })
	bus.Subscribe(func(sig Signal) { got = append(got, "second:"+sig.Prefill) })

	bus.Publish(Signal{Open: true, Prefill: "dune"})

	assert.Equal(t, []string{"first:dune", "second:dune"}, got)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus()

	var calls int
	unsubscribe := bus.Subscribe(func(Signal) { calls++ })
	bus.Publish(Signal{Open: true})

	unsubscribe()
	unsubscribe()
	bus.Publish(Signal{Open: true})

	assert.Equal(t, 1, calls)
	assert.Zero(t, bus.Len())
}

func TestMemoryBusSubscriberMayUnsubscribeDuringPublish(t *testing.T) {
	bus := NewMemoryBus()

	var unsubscribe func()
	var calls int
	unsubscribe = bus.Subscribe(func(Signal) {
		calls++
		unsubscribe()
	})

	bus.Publish(Signal{Open: true})
	bus.Publish(Signal{Open: true})

	assert.Equal(t, 1, calls)
}
