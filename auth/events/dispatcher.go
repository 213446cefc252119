package events

import (
	"sync"

	"github.com/jrsteele09/go-auth-session/sessions"
)

// dispatcher is an unbounded FIFO drained by a single goroutine. enqueue never blocks.
type dispatcher struct {
	mu      sync.Mutex
	pending []sessions.Event
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (d *dispatcher) enqueue(ev sessions.Event) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// next blocks until an event is queued or the dispatcher stops.
func (d *dispatcher) next() (sessions.Event, bool) {
	for {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return sessions.Event{}, false
		}
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending[0] = sessions.Event{}
			d.pending = d.pending[1:]
			d.mu.Unlock()
			return ev, true
		}
		d.mu.Unlock()

		select {
		case <-d.wake:
		case <-d.done:
		}
	}
}

func (d *dispatcher) stop() {
	d.once.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.pending = nil
		d.mu.Unlock()
		close(d.done)
	})
}
