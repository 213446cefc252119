package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "auth_session"

// Metrics holds the session lifecycle collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RefreshAttempts  prometheus.Counter
	RefreshDebounced prometheus.Counter
	RefreshFailures  prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	Subscribers      prometheus.Gauge
	EventsDelivered  *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RefreshAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_attempts_total",
			Help:      "Refresh calls that reached the backend.",
		}),
		RefreshDebounced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_debounced_total",
			Help:      "Refresh calls suppressed by the debounce window.",
		}),
		RefreshFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_failures_total",
			Help:      "Refresh calls that failed at the backend.",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Session reads served from the TTL cache.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Session reads that missed the TTL cache.",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Consumers currently attached to the auth event coordinator.",
		}),
		EventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Auth events fanned out to consumers, by event type.",
		}, []string{"type"}),
	}
}

func (m *Metrics) RefreshAttempt() {
	if m != nil {
		m.RefreshAttempts.Inc()
	}
}

func (m *Metrics) RefreshDebounce() {
	if m != nil {
		m.RefreshDebounced.Inc()
	}
}

func (m *Metrics) RefreshFailure() {
	if m != nil {
		m.RefreshFailures.Inc()
	}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) SetSubscribers(n int) {
	if m != nil {
		m.Subscribers.Set(float64(n))
	}
}

func (m *Metrics) EventDelivered(eventType string) {
	if m != nil {
		m.EventsDelivered.WithLabelValues(eventType).Inc()
	}
}
