package event

import "sync/atomic"

// Sink receives events emitted by a Manager. Implementations must not block
// the Manager indefinitely (spec.md §5): a sink that cannot keep up with its
// subscribers is responsible for its own bounded delivery, exactly as it
// would be for any broadcast bus in the real system.
type Sink interface {
	Publish(Event)
}

// NullSink discards every event. Useful as a default when an embedder does
// not care about lifecycle notifications.
type NullSink struct{}

// Publish implements Sink.
func (NullSink) Publish(Event) {}

// ChannelSink fans events out to one internal, bounded channel drained by a
// caller-supplied handler goroutine. When the channel is full, the oldest
// queued event is evicted to make room for the new one rather than blocking
// the publisher — the Manager task must never stall on a slow subscriber.
// Dropped is incremented every time this happens, so an embedder can notice
// and react (e.g. log a warning) without the Sink itself panicking or
// blocking.
type ChannelSink struct {
	events  chan Event
	Dropped int64
}

// NewChannelSink creates a ChannelSink with the given buffer size. A size of
// 0 means every Publish that isn't immediately consumed is dropped.
func NewChannelSink(size int) *ChannelSink {
	if size < 0 {
		size = 0
	}
	return &ChannelSink{events: make(chan Event, size)}
}

// Events returns the channel subscribers should range over.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// Publish implements Sink. It never blocks: if the buffer is full, the
// oldest buffered event is discarded to make room.
func (s *ChannelSink) Publish(e Event) {
	if cap(s.events) == 0 {
		select {
		case s.events <- e:
		default:
			atomic.AddInt64(&s.Dropped, 1)
		}
		return
	}
	for {
		select {
		case s.events <- e:
			return
		default:
		}

		select {
		case <-s.events:
			atomic.AddInt64(&s.Dropped, 1)
		default:
			// Raced with a consumer draining the channel; retry the send.
		}
	}
}

// Close closes the underlying channel. Publish must not be called again
// afterwards.
func (s *ChannelSink) Close() {
	close(s.events)
}

// MultiSink fans a single Publish call out to every underlying Sink, in
// order, on the caller's goroutine. Each Sink is responsible for its own
// bounded delivery; MultiSink adds no buffering of its own, matching
// spec.md §4.5's "fan-out to multiple subscribers need not be atomic across
// subscribers."
type MultiSink []Sink

// Publish implements Sink.
func (m MultiSink) Publish(e Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(e)
		}
	}
}
