// Package metrics exposes Prometheus counters for bill reconciliation and
// upstream calls. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"billfeed/api/internal/feed"
)

type Metrics struct {
	registry        *prometheus.Registry
	reconciliations *prometheus.CounterVec
	feedEvents      *prometheus.CounterVec
	violations      *prometheus.CounterVec
	upstreamTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.reconciliations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billfeed",
		Name:      "reconciliations_total",
		Help:      "Bill saves by outcome (created, updated, unchanged, rejected)",
	}, []string{"outcome"})
	m.feedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billfeed",
		Name:      "feed_events_total",
		Help:      "Feed events produced by event type",
	}, []string{"event_type"})
	m.violations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billfeed",
		Name:      "append_only_violations_total",
		Help:      "Upstream collections that were rewritten instead of appended to",
	}, []string{"kind"})
	m.upstreamTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billfeed_legiscan",
		Name:      "requests_total",
		Help:      "Upstream requests by operation and status",
	}, []string{"op", "status"})
	m.upstreamLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "billfeed_legiscan",
		Name:      "request_duration_seconds",
		Help:      "Upstream request latency by operation",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	m.registry.MustRegister(
		m.reconciliations, m.feedEvents, m.violations,
		m.upstreamTotal, m.upstreamLatency,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReconcile records the outcome of one bill save and the events it
// produced.
func (m *Metrics) ObserveReconcile(outcome string, result feed.Result) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
	for _, entry := range result.Timeline {
		m.feedEvents.WithLabelValues(string(entry.Type)).Inc()
	}
	for _, v := range result.Violations {
		m.violations.WithLabelValues(string(v.Kind)).Inc()
	}
}

func (m *Metrics) ObserveUpstream(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.upstreamTotal.WithLabelValues(op, status).Inc()
	m.upstreamLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}
