package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelSinkDropsOldestWhenFull(t *testing.T) {
	sink := NewChannelSink(1)

	sink.Publish(Event{Kind: ServerOpening, Address: "a:27017"})
	sink.Publish(Event{Kind: ServerOpening, Address: "b:27017"})

	got := <-sink.Events()
	assert.Equal(t, Event{Kind: ServerOpening, Address: "b:27017"}, got)
	assert.Equal(t, int64(1), sink.Dropped)
}

func TestMultiSinkFansOutInOrder(t *testing.T) {
	var order []string
	record := func(name string) Sink {
		return sinkFunc(func(Event) { order = append(order, name) })
	}

	m := MultiSink{record("first"), nil, record("second")}
	m.Publish(Event{Kind: TopologyOpening})

	assert.Equal(t, []string{"first", "second"}, order)
}

type sinkFunc func(Event)

func (f sinkFunc) Publish(e Event) { f(e) }

func TestNullSinkDiscards(t *testing.T) {
	var s NullSink
	s.Publish(Event{Kind: TopologyClosed})
}
