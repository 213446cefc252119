package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRefreshMargin = 5 * time.Minute
	DefaultDebounce      = 10 * time.Second
	DefaultCacheKey      = "auth-session"
)

// Backend is the part of an auth backend the refresher needs.
type Backend interface {
	RefreshSession(ctx context.Context) (*sessions.Session, error)
}

// Cache is where refreshed sessions are published for other readers.
type Cache interface {
	Set(key string, s *sessions.Session, ttl time.Duration) error
	Delete(key string)
}

// Refresher decides when a session needs renewing and performs debounced
// refreshes against the backend. One Refresher is shared by every consumer so
// the debounce window is process wide.
type Refresher struct {
	backend     Backend
	cache       Cache
	current     *sessions.Holder
	cacheKey    string
	margin      time.Duration
	debounce    time.Duration
	nowFunc     func() time.Time
	onRefreshed func(*sessions.Session)
	log         zerolog.Logger
	metrics     *metrics.Metrics

	mu            sync.Mutex
	lastRefreshAt time.Time
	lastErr       error
	// epoch is bumped by Invalidate; a refresh started in an older epoch is discarded.
	epoch uint64
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithCacheKey sets the cache key refreshed sessions are published under.
func WithCacheKey(key string) Option {
	return func(r *Refresher) {
		r.cacheKey = key
	}
}

// WithRefreshMargin sets how close to expiry a session must be before it needs refreshing.
func WithRefreshMargin(d time.Duration) Option {
	return func(r *Refresher) {
		r.margin = d
	}
}

// WithDebounce sets the minimum gap between two backend refresh calls.
func WithDebounce(d time.Duration) Option {
	return func(r *Refresher) {
		r.debounce = d
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(nowFunc func() time.Time) Option {
	return func(r *Refresher) {
		r.nowFunc = nowFunc
	}
}

// WithOnRefreshed registers a callback run after each successful refresh.
func WithOnRefreshed(fn func(*sessions.Session)) Option {
	return func(r *Refresher) {
		r.onRefreshed = fn
	}
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Refresher) {
		r.log = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Refresher) {
		r.metrics = m
	}
}

// NewRefresher creates a refresher that writes successful refreshes into current and cache.
func NewRefresher(backend Backend, cache Cache, current *sessions.Holder, options ...Option) *Refresher {
	r := &Refresher{
		backend:  backend,
		cache:    cache,
		current:  current,
		cacheKey: DefaultCacheKey,
		margin:   DefaultRefreshMargin,
		debounce: DefaultDebounce,
		nowFunc:  time.Now,
		log:      log.With().Str("component", "refresher").Logger(),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// NeedsRefresh reports whether s is missing, has no expiry, or expires within the margin.
func (r *Refresher) NeedsRefresh(s *sessions.Session) bool {
	if s == nil || !s.HasExpiry() {
		return true
	}
	return s.ExpiresAt.Sub(r.nowFunc()) < r.margin
}

// Refresh asks the backend for a new session unless another refresh started
// within the debounce window, in which case it reports whether a usable
// session is currently held. Failures are recorded in LastError and never
// returned. A result that arrives after Invalidate is dropped.
func (r *Refresher) Refresh(ctx context.Context) bool {
	epoch, ok := r.claim()
	if !ok {
		r.metrics.RefreshDebounce()
		r.log.Debug().Msg("refresh debounced")
		cur := r.current.Load()
		return cur != nil && !cur.IsExpired(r.nowFunc())
	}

	r.metrics.RefreshAttempt()
	sess, err := r.backend.RefreshSession(ctx)
	if err == nil {
		err = r.validate(sess)
	}
	if err != nil {
		r.fail(epoch, err)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch {
		r.log.Debug().Msg("refresh result discarded after sign out")
		return false
	}

	r.current.Store(sess)
	if err := r.cache.Set(r.cacheKey, sess, sess.ExpiresIn(r.nowFunc())); err != nil {
		r.log.Debug().Err(err).Msg("refreshed session not cached")
	}
	r.lastErr = nil

	r.log.Info().Str("user_id", sess.User.ID).Time("expires_at", sess.ExpiresAt).Msg("session refreshed")
	// under the lock so the notification is queued before any later sign out
	if r.onRefreshed != nil {
		r.onRefreshed(sess)
	}
	return true
}

// Invalidate drops the result of any refresh already in flight and clears
// LastError. Call it when the session is signed out.
func (r *Refresher) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	r.lastErr = nil
}

// LastError returns the error from the most recent failed refresh, nil after a success.
func (r *Refresher) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// LastRefreshAt is when the last backend refresh started.
func (r *Refresher) LastRefreshAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRefreshAt
}

// claim stamps the guard before the backend is called so concurrent callers
// inside the window see it.
func (r *Refresher) claim() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	if !r.lastRefreshAt.IsZero() && now.Sub(r.lastRefreshAt) < r.debounce {
		return r.epoch, false
	}
	r.lastRefreshAt = now
	return r.epoch, true
}

func (r *Refresher) validate(s *sessions.Session) error {
	if s == nil {
		return errors.ErrNoSession
	}
	if s.IsExpired(r.nowFunc()) {
		return errors.ErrSessionExpired
	}
	return nil
}

// fail records err and drops a held session that has already expired.
func (r *Refresher) fail(epoch uint64, err error) {
	err = fmt.Errorf("%w: %w", errors.ErrRefreshFailed, err)

	r.mu.Lock()
	if r.epoch == epoch {
		r.lastErr = err
	}
	if cur := r.current.Load(); cur != nil && cur.IsExpired(r.nowFunc()) {
		r.current.Clear()
		r.cache.Delete(r.cacheKey)
	}
	r.mu.Unlock()

	r.metrics.RefreshFailure()
	r.log.Warn().Err(err).Msg("session refresh failed")
}
