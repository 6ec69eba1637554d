package ingest

import (
	"sync"

	"github.com/railwatch/railwatch/pkg/models"
)

// eventBuffer is the bounded per-subscription outbound buffer. When the
// detector cannot keep up, the oldest events are evicted and counted;
// the transport reader is never blocked.
type eventBuffer struct {
	mu      sync.Mutex
	events  []models.LogEvent
	cap     int
	dropped uint64
	closed  bool
	notify  chan struct{}
}

func newEventBuffer(capacity int) *eventBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &eventBuffer{
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// push appends an event, evicting the oldest when full.
func (b *eventBuffer) push(ev models.LogEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.events) >= b.cap {
		b.events = b.events[1:]
		b.dropped++
	}
	b.events = append(b.events, ev)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// pop blocks until an event is available or the buffer is closed.
func (b *eventBuffer) pop() (models.LogEvent, bool) {
	for {
		b.mu.Lock()
		if len(b.events) > 0 {
			ev := b.events[0]
			b.events = b.events[1:]
			b.mu.Unlock()
			return ev, true
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return models.LogEvent{}, false
		}
		<-b.notify
	}
}

// close wakes any blocked pop after the remaining events drain.
func (b *eventBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// droppedCount returns the number of evicted events.
func (b *eventBuffer) droppedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// len returns the current buffer size.
func (b *eventBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
