package live

import (
	"sync"
	"sync/atomic"

	"github.com/maximhq/bifrost-live/core/schemas"
)

// EventSink receives every event a bridge produces. Emit is called with the
// bridge's state lock held and must not block or call back into the bridge.
type EventSink interface {
	Emit(event *schemas.LiveEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(event *schemas.LiveEvent)

func (f EventSinkFunc) Emit(event *schemas.LiveEvent) { f(event) }

// MultiSink fans each event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(event *schemas.LiveEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(event)
		}
	}
}

var discardSink = EventSinkFunc(func(*schemas.LiveEvent) {})

// ChannelSink queues events on a buffered channel for a consumer goroutine,
// typically the transport writer for one client session. A full buffer drops
// the event rather than stalling the bridge.
type ChannelSink struct {
	mu      sync.RWMutex
	events  chan *schemas.LiveEvent
	closed  bool
	dropped atomic.Int64
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	if size <= 0 {
		size = 1
	}
	return &ChannelSink{events: make(chan *schemas.LiveEvent, size)}
}

// Events returns the receive side of the queue. It is closed by Close.
func (s *ChannelSink) Events() <-chan *schemas.LiveEvent {
	return s.events
}

func (s *ChannelSink) Emit(event *schemas.LiveEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events and closes the channel. Safe to call twice.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
