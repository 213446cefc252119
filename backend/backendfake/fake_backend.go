package backendfake

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/go-auth-session/backend"
	"github.com/jrsteele09/go-auth-session/sessions"
)

// FakeBackend is an in-memory auth backend with programmable results.
// Emit dispatches synchronously under the notifier lock like a real event bus.
type FakeBackend struct {
	notifier *backend.Notifier

	lock          sync.RWMutex
	current       *sessions.Session
	currentErr    error
	refreshResult *sessions.Session
	refreshErr    error
	signOutErr    error
	subscribeErr  error
	refreshGate   chan struct{}

	getCalls         atomic.Int64
	refreshCalls     atomic.Int64
	signOutCalls     atomic.Int64
	subscribeCalls   atomic.Int64
	unsubscribeCalls atomic.Int64
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		notifier: backend.NewNotifier(),
	}
}

// SetCurrentSession sets what GetCurrentSession returns.
func (b *FakeBackend) SetCurrentSession(s *sessions.Session, err error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.current = s
	b.currentErr = err
}

// SetRefreshResult sets what RefreshSession returns. A successful result also
// becomes the current session.
func (b *FakeBackend) SetRefreshResult(s *sessions.Session, err error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshResult = s
	b.refreshErr = err
}

func (b *FakeBackend) SetSignOutError(err error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.signOutErr = err
}

func (b *FakeBackend) SetSubscribeError(err error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.subscribeErr = err
}

// HoldRefresh blocks RefreshSession calls until the returned func is called.
func (b *FakeBackend) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	b.lock.Lock()
	b.refreshGate = gate
	b.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.lock.Lock()
			b.refreshGate = nil
			b.lock.Unlock()
			close(gate)
		})
	}
}

func (b *FakeBackend) GetCurrentSession(ctx context.Context) (*sessions.Session, error) {
	b.getCalls.Add(1)
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.current, b.currentErr
}

func (b *FakeBackend) RefreshSession(ctx context.Context) (*sessions.Session, error) {
	b.refreshCalls.Add(1)

	b.lock.RLock()
	gate := b.refreshGate
	b.lock.RUnlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	if b.refreshErr != nil {
		return nil, b.refreshErr
	}
	if b.refreshResult != nil {
		b.current = b.refreshResult
	}
	return b.refreshResult, nil
}

func (b *FakeBackend) OnSessionChanged(listener sessions.Listener) (sessions.Subscription, error) {
	b.subscribeCalls.Add(1)

	b.lock.RLock()
	err := b.subscribeErr
	b.lock.RUnlock()
	if err != nil {
		return nil, err
	}

	sub, err := b.notifier.Subscribe(listener)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return sessions.SubscriptionFunc(func() {
		once.Do(func() {
			b.unsubscribeCalls.Add(1)
			sub.Unsubscribe()
		})
	}), nil
}

func (b *FakeBackend) SignOut(ctx context.Context) error {
	b.signOutCalls.Add(1)

	b.lock.Lock()
	defer b.lock.Unlock()
	if b.signOutErr != nil {
		return b.signOutErr
	}
	b.current = nil
	return nil
}

// Emit pushes ev to every subscribed listener before returning.
func (b *FakeBackend) Emit(ev sessions.Event) {
	b.notifier.Publish(ev)
}

// Listeners is the number of live backend subscriptions.
func (b *FakeBackend) Listeners() int {
	return b.notifier.Len()
}

func (b *FakeBackend) GetCalls() int         { return int(b.getCalls.Load()) }
func (b *FakeBackend) RefreshCalls() int     { return int(b.refreshCalls.Load()) }
func (b *FakeBackend) SignOutCalls() int     { return int(b.signOutCalls.Load()) }
func (b *FakeBackend) SubscribeCalls() int   { return int(b.subscribeCalls.Load()) }
func (b *FakeBackend) UnsubscribeCalls() int { return int(b.unsubscribeCalls.Load()) }
