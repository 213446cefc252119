package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-session/auth/events"
	"github.com/jrsteele09/go-auth-session/cache"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCheckInterval  = 5 * time.Minute
	DefaultRequestTimeout = 30 * time.Second
)

// Manager owns the state shared by every mounted Store: the session cache,
// the current session, the refresher and the event coordinator.
// Create one per process and mount as many Stores as needed.
type Manager struct {
	backend     Backend
	cache       *cache.TTLCache[string, *sessions.Session]
	cacheKey    string
	current     *sessions.Holder
	refresher   *refresh.Refresher
	coordinator *events.Coordinator
	loads       singleflight.Group

	refreshMargin  time.Duration
	debounce       time.Duration
	checkInterval  time.Duration
	requestTimeout time.Duration
	nowFunc        func() time.Time
	newTicker      func(time.Duration) Ticker
	log            zerolog.Logger
	metrics        *metrics.Metrics
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithCache shares an existing session cache instead of creating one.
func WithCache(c *cache.TTLCache[string, *sessions.Session]) ManagerOption {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithCacheKey sets the key the current session is cached under.
func WithCacheKey(key string) ManagerOption {
	return func(m *Manager) {
		m.cacheKey = key
	}
}

// WithRefreshMargin sets how close to expiry a session is refreshed.
func WithRefreshMargin(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshMargin = d
	}
}

// WithDebounce sets the minimum gap between backend refresh calls.
func WithDebounce(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.debounce = d
	}
}

// WithCheckInterval sets how often mounted stores check whether their session needs refreshing.
// Zero disables the periodic check.
func WithCheckInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.checkInterval = d
	}
}

// WithRequestTimeout bounds backend calls made in the background.
func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.requestTimeout = d
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = nowFunc
	}
}

// WithLogger replaces the base logger; components derive from it.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = logger
	}
}

// WithMetrics records cache, refresh and event counters on mt.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a Manager over backend. It returns NilBackendErr if backend is nil.
func NewManager(backend Backend, options ...ManagerOption) (*Manager, error) {
	if backend == nil {
		return nil, NilBackendErr
	}

	m := &Manager{
		backend:        backend,
		cacheKey:       refresh.DefaultCacheKey,
		current:        sessions.NewHolder(),
		refreshMargin:  refresh.DefaultRefreshMargin,
		debounce:       refresh.DefaultDebounce,
		checkInterval:  DefaultCheckInterval,
		requestTimeout: DefaultRequestTimeout,
		nowFunc:        time.Now,
		newTicker:      newTimeTicker,
		log:            log.Logger,
	}
	for _, option := range options {
		option(m)
	}
	if m.cache == nil {
		m.cache = cache.New[string, *sessions.Session](cache.WithNowFunc(m.nowFunc))
	}

	m.refresher = refresh.NewRefresher(backend, m.cache, m.current,
		refresh.WithCacheKey(m.cacheKey),
		refresh.WithRefreshMargin(m.refreshMargin),
		refresh.WithDebounce(m.debounce),
		refresh.WithNowFunc(m.nowFunc),
		refresh.WithOnRefreshed(m.onRefreshed),
		refresh.WithLogger(m.log.With().Str("component", "refresher").Logger()),
		refresh.WithMetrics(m.metrics),
	)
	m.coordinator = events.New(backend,
		events.WithEventHook(m.applyEvent),
		events.WithLogger(m.log.With().Str("component", "auth-events").Logger()),
		events.WithMetrics(m.metrics),
	)
	return m, nil
}

// Mount attaches a new Store to the shared session state and starts loading it.
// The Store must be unmounted when no longer needed.
func (m *Manager) Mount(ctx context.Context, options ...StoreOption) (*Store, error) {
	s := newStore(ctx, m, options...)

	handle, err := m.coordinator.Acquire(s.handleEvent)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Mount] subscribe to auth events")
	}
	s.handle = handle

	go s.run()
	return s, nil
}

// CurrentSession is the most recent session known to the process, or nil
// once that session has expired.
func (m *Manager) CurrentSession() *sessions.Session {
	if s := m.current.Load(); m.usable(s) {
		return s
	}
	return nil
}

// NeedsRefresh reports whether s is missing, has no expiry, or is close to expiring.
func (m *Manager) NeedsRefresh(s *sessions.Session) bool {
	return m.refresher.NeedsRefresh(s)
}

// RefreshSession runs a debounced refresh. Details of a failure are in RefreshError.
func (m *Manager) RefreshSession(ctx context.Context) bool {
	return m.refresher.Refresh(ctx)
}

// RefreshError is the error from the last failed refresh.
func (m *Manager) RefreshError() error {
	return m.refresher.LastError()
}

// SignOut signs out at the backend, then clears local state and tells every
// mounted Store whatever the backend said. The backend error is returned.
func (m *Manager) SignOut(ctx context.Context) error {
	err := m.backend.SignOut(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("backend sign out failed, clearing local session anyway")
		err = fmt.Errorf("%w: %w", autherrors.ErrSignOutFailed, err)
	}

	// a refresh still in flight must not bring the session back
	m.refresher.Invalidate()
	m.clear()
	m.coordinator.Notify(sessions.Event{Type: sessions.EventSignedOut, At: m.nowFunc()})
	return err
}

// Subscribers is the number of mounted Stores.
func (m *Manager) Subscribers() int {
	return m.coordinator.SubscriberCount()
}

// RunJanitor sweeps expired cache entries until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context) {
	m.cache.RunJanitor(ctx, m.checkInterval)
}

func (m *Manager) cachedSession() (*sessions.Session, bool) {
	s, ok := m.cache.Get(m.cacheKey)
	if ok {
		m.metrics.CacheHit()
	} else {
		m.metrics.CacheMiss()
	}
	return s, ok
}

// loadCurrent coalesces concurrent GetCurrentSession calls from stores mounting together.
func (m *Manager) loadCurrent(ctx context.Context) (*sessions.Session, error) {
	v, err, _ := m.loads.Do("current", func() (interface{}, error) {
		return m.backend.GetCurrentSession(ctx)
	})
	if err != nil {
		return nil, err
	}
	s, _ := v.(*sessions.Session)
	return s, nil
}

func (m *Manager) publish(s *sessions.Session) {
	m.current.Store(s)
	if err := m.cache.Set(m.cacheKey, s, s.ExpiresIn(m.nowFunc())); err != nil {
		m.log.Debug().Err(err).Msg("session not cached")
	}
}

func (m *Manager) clear() {
	m.current.Clear()
	m.cache.Delete(m.cacheKey)
}

func (m *Manager) usable(s *sessions.Session) bool {
	return s != nil && !s.IsExpired(m.nowFunc())
}

func (m *Manager) applyEvent(ev sessions.Event) {
	switch {
	case ev.Type.ClearsSession():
		m.clear()
	case m.usable(ev.Session):
		if ev.Session != m.current.Load() {
			m.publish(ev.Session)
		}
	}
}

func (m *Manager) onRefreshed(s *sessions.Session) {
	m.coordinator.Notify(sessions.Event{Type: sessions.EventTokenRefreshed, Session: s, At: m.nowFunc()})
}
