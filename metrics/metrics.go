// Package metrics exports Prometheus instrumentation for the lookup engine.
// All record methods are nil-safe so components can run without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. Safe for concurrent use;
// all Prometheus metric types are goroutine-safe.
type Metrics struct {
	lookups        *prometheus.CounterVec
	lookupErrors   *prometheus.CounterVec
	evictions      prometheus.Counter
	coalesced      prometheus.Counter
	rateLimited    prometheus.Counter
	pendingEvicted prometheus.Counter
	processed      prometheus.Counter
	processErrors  prometheus.Counter
}

// New constructs engine metrics and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer, ns string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "lookups_total",
			Help:      "Lookups answered, by source tier",
		}, []string{"tier"}),
		lookupErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "lookup_errors_total",
			Help:      "Lookup failures, by error kind",
		}, []string{"kind"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted from the bounded cache",
		}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "coalesced_lookups_total",
			Help:      "Lookups that joined an in-flight call instead of fetching",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "rate_limit_blocks_total",
			Help:      "Live lookups short-circuited while the limiter was blocked",
		}),
		pendingEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "visibility_pending_evictions_total",
			Help:      "Pending visibility entries evicted at capacity",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "visibility_elements_processed_total",
			Help:      "Elements processed by the visibility scheduler",
		}),
		processErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "visibility_process_errors_total",
			Help:      "Element processing failures caught at the safety boundary",
		}),
	}
	reg.MustRegister(m.lookups, m.lookupErrors, m.evictions, m.coalesced,
		m.rateLimited, m.pendingEvicted, m.processed, m.processErrors)
	return m
}

// Lookup records a lookup answered by the named tier.
func (m *Metrics) Lookup(tier string) {
	if m != nil {
		m.lookups.WithLabelValues(tier).Inc()
	}
}

// LookupError records a lookup failure of the named kind.
func (m *Metrics) LookupError(kind string) {
	if m != nil {
		m.lookupErrors.WithLabelValues(kind).Inc()
	}
}

// Eviction records one bounded-cache eviction.
func (m *Metrics) Eviction() {
	if m != nil {
		m.evictions.Inc()
	}
}

// Coalesced records a lookup that joined an in-flight call.
func (m *Metrics) Coalesced() {
	if m != nil {
		m.coalesced.Inc()
	}
}

// RateLimited records a live lookup short-circuited by the rate limiter.
func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

// PendingEvicted records a pending visibility entry evicted at capacity.
func (m *Metrics) PendingEvicted() {
	if m != nil {
		m.pendingEvicted.Inc()
	}
}

// Processed records one element handled by the visibility scheduler.
func (m *Metrics) Processed() {
	if m != nil {
		m.processed.Inc()
	}
}

// ProcessError records an element processing failure caught at the boundary.
func (m *Metrics) ProcessError() {
	if m != nil {
		m.processErrors.Inc()
	}
}
