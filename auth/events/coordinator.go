package events

import (
	"errors"
	"sync"

	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNilListener is returned by Acquire when no listener is given.
var ErrNilListener = errors.New("listener is required")

// Source is the backend's change feed.
type Source interface {
	OnSessionChanged(listener sessions.Listener) (sessions.Subscription, error)
}

// Handle identifies one Acquire call. The zero Handle is never issued.
type Handle struct {
	id uint64
}

type registration struct {
	id       uint64
	listener sessions.Listener
}

// Coordinator multiplexes one backend subscription across any number of consumers.
// The subscription is created by the first Acquire and removed by the last Release.
// Backend callbacks only enqueue; delivery happens on a dispatcher goroutine so
// listeners may call back into the coordinator or the backend.
type Coordinator struct {
	source  Source
	hooks   []func(sessions.Event)
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	count     int
	sub       sessions.Subscription
	listeners []registration
	nextID    uint64
	active    *dispatcher
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithEventHook runs fn once per event, before any listener sees it.
func WithEventHook(fn func(sessions.Event)) Option {
	return func(c *Coordinator) {
		c.hooks = append(c.hooks, fn)
	}
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = logger
	}
}

// WithMetrics counts delivered events on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New creates a Coordinator that subscribes to source once the first listener registers.
func New(source Source, options ...Option) *Coordinator {
	c := &Coordinator{
		source: source,
		log:    log.With().Str("component", "auth-events").Logger(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Acquire registers listener for every subsequent event. If the backend
// subscription cannot be created nothing is registered.
func (c *Coordinator) Acquire(listener sessions.Listener) (Handle, error) {
	if listener == nil {
		return Handle{}, ErrNilListener
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		d := newDispatcher()
		sub, err := c.source.OnSessionChanged(d.enqueue)
		if err != nil {
			return Handle{}, err
		}
		c.sub = sub
		c.active = d
		go c.run(d)
		c.log.Debug().Msg("backend subscription created")
	}

	c.nextID++
	c.listeners = append(c.listeners, registration{id: c.nextID, listener: listener})
	c.count++
	c.metrics.SetSubscribers(c.count)
	return Handle{id: c.nextID}, nil
}

// Release drops the listener behind h. Releasing the last handle unsubscribes
// from the backend. Unknown or already released handles are ignored.
func (c *Coordinator) Release(h Handle) {
	c.mu.Lock()
	idx := -1
	for i, r := range c.listeners {
		if r.id == h.id {
			idx = i
			break
		}
	}
	if h.id == 0 || idx < 0 {
		c.mu.Unlock()
		return
	}

	c.listeners = append(c.listeners[:idx:idx], c.listeners[idx+1:]...)
	c.count--
	c.metrics.SetSubscribers(c.count)

	var sub sessions.Subscription
	var d *dispatcher
	if c.count == 0 {
		sub, d = c.sub, c.active
		c.sub, c.active = nil, nil
		c.listeners = nil
	}
	c.mu.Unlock()

	if d != nil {
		d.stop()
	}
	if sub != nil {
		sub.Unsubscribe()
		c.log.Debug().Msg("backend subscription released")
	}
}

// Notify broadcasts a locally originated event through the same path as backend
// events. It is dropped when nobody is subscribed.
func (c *Coordinator) Notify(ev sessions.Event) {
	c.mu.Lock()
	d := c.active
	c.mu.Unlock()

	if d != nil {
		d.enqueue(ev)
	}
}

// SubscriberCount is the number of unreleased handles.
func (c *Coordinator) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Active reports whether a backend subscription exists.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil
}

func (c *Coordinator) run(d *dispatcher) {
	for {
		ev, ok := d.next()
		if !ok {
			return
		}
		c.deliver(d, ev)
	}
}

func (c *Coordinator) deliver(d *dispatcher, ev sessions.Event) {
	c.mu.Lock()
	if c.active != d {
		c.mu.Unlock()
		return
	}
	listeners := make([]registration, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, hook := range c.hooks {
		c.call(ev, hook)
	}
	for _, r := range listeners {
		c.call(ev, r.listener)
	}
	c.metrics.EventDelivered(ev.Type.String())
}

func (c *Coordinator) call(ev sessions.Event, fn func(sessions.Event)) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("event", ev.Type.String()).Msg("auth event listener panicked")
		}
	}()
	fn(ev)
}
