package auth

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-session/auth/events"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog"
)

// State is where a Store is in its lifecycle.
type State int

const (
	StateInitializing State = iota
	StateReady
	StateRefreshing
	StateUnmounted
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRefreshing:
		return "refreshing"
	case StateUnmounted:
		return "unmounted"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent view of a Store.
type Snapshot struct {
	State        State
	User         *sessions.User
	Session      *sessions.Session
	Loading      bool
	RefreshError error
}

// StoreOption configures a Store at mount time.
type StoreOption func(*Store)

// WithOnChange registers fn to receive a snapshot after every state change.
// fn runs on a background goroutine and must not block for long.
func WithOnChange(fn func(Snapshot)) StoreOption {
	return func(s *Store) {
		s.onChange = append(s.onChange, fn)
	}
}

// Store is one consumer's view of the session: who is signed in, whether the
// session is still loading, and the last refresh failure.
type Store struct {
	m        *Manager
	handle   events.Handle
	ctx      context.Context
	log      zerolog.Logger
	onChange []func(Snapshot)

	mu         sync.RWMutex
	state      State
	session    *sessions.Session
	refreshErr error
	version    uint64

	ready     chan struct{}
	readyOnce sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
}

func newStore(ctx context.Context, m *Manager, options ...StoreOption) *Store {
	s := &Store{
		m:     m,
		ctx:   context.WithoutCancel(ctx),
		log:   m.log.With().Str("component", "session-store").Logger(),
		state: StateInitializing,
		ready: make(chan struct{}),
		stop:  make(chan struct{}),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// User is the signed in user, nil when signed out.
func (s *Store) User() *sessions.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveLocked().UserOrNil()
}

// Session is the current session, nil when signed out or once it has expired.
func (s *Store) Session() *sessions.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveLocked()
}

// Loading is true until the initial load has finished.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateInitializing
}

// RefreshError is the last load or refresh failure, nil after a success.
func (s *Store) RefreshError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshErr
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Ready is closed once the initial load has finished or the store is unmounted.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// WaitReady blocks until Ready is closed or ctx is done.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		if s.State() == StateUnmounted {
			return UnmountedErr
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshSession refreshes the shared session now, subject to the refresh
// debounce. The result is reported by the return value and RefreshError.
func (s *Store) RefreshSession(ctx context.Context) bool {
	s.beginRefresh()
	ok := s.m.refresher.Refresh(ctx)
	s.endRefresh(ok)
	return ok
}

// SignOut signs out at the backend and always clears the local session.
// The backend error, if any, is returned after local state has been cleared.
func (s *Store) SignOut(ctx context.Context) error {
	err := s.m.SignOut(ctx)
	s.update(func() bool {
		s.session = nil
		s.refreshErr = nil
		return true
	})
	return err
}

// Unmount stops the periodic check and detaches from auth events.
// A refresh already running is left to finish.
func (s *Store) Unmount() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.m.coordinator.Release(s.handle)

		s.mu.Lock()
		s.state = StateUnmounted
		s.mu.Unlock()
		s.readyOnce.Do(func() { close(s.ready) })
	})
}

func (s *Store) run() {
	s.initialise()

	if s.m.checkInterval <= 0 {
		return
	}
	ticker := s.m.newTicker(s.m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C():
			s.checkRefresh()
		}
	}
}

func (s *Store) initialise() {
	s.mu.RLock()
	version := s.version
	s.mu.RUnlock()

	if sess, ok := s.m.cachedSession(); ok && !s.m.refresher.NeedsRefresh(sess) {
		s.finishInit(version, sess, nil)
		return
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	sess, err := s.m.loadCurrent(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("loading current session failed")
		fallback, _ := s.m.cachedSession()
		s.finishInit(version, fallback, err)
		return
	}

	switch {
	case sess == nil:
		s.m.clear()
	case sess.IsExpired(s.m.nowFunc()):
		if !s.m.refresher.Refresh(ctx) {
			s.finishInit(version, nil, s.m.refresher.LastError())
			return
		}
		sess = s.m.current.Load()
	default:
		s.m.publish(sess)
	}
	s.finishInit(version, sess, nil)
}

func (s *Store) finishInit(version uint64, sess *sessions.Session, err error) {
	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return
	}
	// An event that arrived during the load is newer than what was loaded.
	if s.version == version {
		s.session = sess
	}
	s.refreshErr = err
	s.state = StateReady
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Debug().Bool("signed_in", snap.Session != nil).Msg("session store ready")
	s.emit(snap)
}

func (s *Store) checkRefresh() {
	s.mu.RLock()
	state, sess := s.state, s.session
	s.mu.RUnlock()

	if state != StateReady || sess == nil || !s.m.refresher.NeedsRefresh(sess) {
		return
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	s.RefreshSession(ctx)
}

func (s *Store) beginRefresh() {
	s.update(func() bool {
		if s.state != StateReady {
			return false
		}
		s.state = StateRefreshing
		return true
	})
}

func (s *Store) endRefresh(ok bool) {
	s.update(func() bool {
		if s.state == StateRefreshing {
			s.state = StateReady
		}
		if ok {
			if cur := s.m.current.Load(); cur != nil {
				s.session = cur
				s.version++
			}
			s.refreshErr = nil
			return true
		}
		if err := s.m.refresher.LastError(); err != nil {
			s.refreshErr = err
		}
		return true
	})
}

func (s *Store) handleEvent(ev sessions.Event) {
	s.update(func() bool {
		switch {
		case ev.Type.ClearsSession():
			s.session = nil
			s.refreshErr = nil
		case s.m.usable(ev.Session):
			s.session = ev.Session
			if ev.Type == sessions.EventTokenRefreshed {
				s.refreshErr = nil
			}
		default:
			return false
		}
		s.version++
		return true
	})
}

// update applies fn under the lock and notifies listeners when fn reports a change.
// Unmounted stores ignore updates.
func (s *Store) update(fn func() bool) {
	s.mu.Lock()
	if s.state == StateUnmounted || !fn() {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

func (s *Store) emit(snap Snapshot) {
	for _, fn := range s.onChange {
		fn(snap)
	}
}

// liveLocked hides an expired session from readers. The field itself is kept
// so the periodic check keeps retrying the refresh.
func (s *Store) liveLocked() *sessions.Session {
	if !s.m.usable(s.session) {
		return nil
	}
	return s.session
}

func (s *Store) snapshotLocked() Snapshot {
	live := s.liveLocked()
	return Snapshot{
		State:        s.state,
		User:         live.UserOrNil(),
		Session:      live,
		Loading:      s.state == StateInitializing,
		RefreshError: s.refreshErr,
	}
}

func (s *Store) requestContext() (context.Context, context.CancelFunc) {
	if s.m.requestTimeout <= 0 {
		return context.WithCancel(s.ctx)
	}
	return context.WithTimeout(s.ctx, s.m.requestTimeout)
}
