package auth

import "time"

// Ticker drives the periodic refresh check of mounted stores.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.t.C
}

func (t timeTicker) Stop() {
	t.t.Stop()
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// WithTicker replaces the ticker used for periodic checks, used by tests.
func WithTicker(newTicker func(time.Duration) Ticker) ManagerOption {
	return func(m *Manager) {
		m.newTicker = newTicker
	}
}
