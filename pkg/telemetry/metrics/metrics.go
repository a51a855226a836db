// Package metrics exposes prometheus metrics for the authorization engine:
// decision counts and latency, cache behavior and rule-store composition.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"clearpath-hq/gatekeeper/pkg/authz"
)

// Config controls metric naming.
type Config struct {
	// Namespace and Subsystem prefix every metric name.
	Namespace string
	Subsystem string
}

// AuthzMetrics tracks the authorization hot path. It implements the
// controller's Observer interface.
//
// Metrics:
//   - gatekeeper_decisions_total: decisions by verdict and reason
//   - gatekeeper_decision_duration_seconds: authorization latency
//   - gatekeeper_decisions_cached_total: decisions served from cache
//   - gatekeeper_coalesced_waiters_total: requests that joined an
//     in-flight evaluation instead of starting their own
//   - gatekeeper_wait_timeouts_total: waiters that hit the fallback
type AuthzMetrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	cachedTotal      prometheus.Counter
	coalescedTotal   prometheus.Counter
	waitTimeouts     prometheus.Counter
}

// NewAuthzMetrics creates and registers authorization metrics.
func NewAuthzMetrics(cfg Config, registry *prometheus.Registry) *AuthzMetrics {
	m := &AuthzMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "decisions_total",
				Help:      "Total number of execution authorization decisions",
			},
			[]string{"verdict", "reason"},
		),
		decisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "decision_duration_seconds",
				Help:      "Duration of execution authorization in seconds",
				// Most decisions finish well under 100ms; resolve from
				// 10µs up to the multi-second kernel deadline.
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),
		cachedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "decisions_cached_total",
				Help:      "Decisions served from the decision cache",
			},
		),
		coalescedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "coalesced_waiters_total",
				Help:      "Requests that joined an in-flight evaluation",
			},
		),
		waitTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "wait_timeouts_total",
				Help:      "Waiters that timed out and received the fallback verdict",
			},
		),
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.decisionDuration,
		m.cachedTotal,
		m.coalescedTotal,
		m.waitTimeouts,
	)
	return m
}

// ObserveDecision records one rendered decision.
func (m *AuthzMetrics) ObserveDecision(d authz.Decision, elapsed time.Duration) {
	m.decisionsTotal.WithLabelValues(d.Verdict.String(), string(d.Reason)).Inc()
	m.decisionDuration.Observe(elapsed.Seconds())
	if d.Cached {
		m.cachedTotal.Inc()
	}
}

// ObserveCoalesced records a request that shared another's evaluation.
func (m *AuthzMetrics) ObserveCoalesced() {
	m.coalescedTotal.Inc()
}

// ObserveWaitTimeout records a waiter that fell back on timeout.
func (m *AuthzMetrics) ObserveWaitTimeout() {
	m.waitTimeouts.Inc()
}

// RegisterEngineGauges registers cache-size and rule-count gauges backed by
// the given callbacks; values are collected on scrape, so no background
// updater is needed.
func RegisterEngineGauges(cfg Config, registry *prometheus.Registry, cacheSize func() int, ruleCount func() int64) {
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "decision_cache_entries",
			Help:      "Entries currently in the decision cache",
		},
		func() float64 { return float64(cacheSize()) },
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rules",
			Help:      "Rules currently in the rule store",
		},
		func() float64 { return float64(ruleCount()) },
	))
}
