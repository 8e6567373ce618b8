// Package metrics provides Prometheus collectors for the admission service.
//
// Every collector lives on a private registry owned by Metrics so that tests
// and multiple servers in one process never collide on registration. All
// recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "turnstile"

// Metrics owns the registry and every collector exported by the service.
type Metrics struct {
	registry *prometheus.Registry

	// Admission
	admissions       *prometheus.CounterVec
	pointsDeducted   prometheus.Counter
	graceEntries     prometheus.Counter
	ledgerConflicts  prometheus.Counter
	logAppendErrors  prometheus.Counter
	evaluateDuration prometheus.Histogram

	// Broadcast
	hubClients      prometheus.Gauge
	framesDelivered prometheus.Counter
	clientsEvicted  prometheus.Counter
	dispatchDropped prometheus.Counter
	relayErrors     prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics with all collectors registered on a fresh registry,
// plus the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auto := promauto.With(reg)

	return &Metrics{
		registry: reg,

		admissions: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Admission decisions by outcome.",
		}, []string{"outcome"}),
		pointsDeducted: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "points_deducted_total",
			Help:      "Access points consumed by billable entries.",
		}),
		graceEntries: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "grace_entries_total",
			Help:      "Presentations inside the tolerance window.",
		}),
		ledgerConflicts: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "ledger_conflicts_total",
			Help:      "Conditional point decrements that lost to a concurrent presentation.",
		}),
		logAppendErrors: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "log_append_errors_total",
			Help:      "Access attempts that could not be persisted after a decision.",
		}),
		evaluateDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "evaluate_duration_seconds",
			Help:      "Latency of a full admission evaluation.",
			Buckets:   prometheus.DefBuckets,
		}),

		hubClients: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "clients",
			Help:      "Currently registered stream clients.",
		}),
		framesDelivered: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "frames_delivered_total",
			Help:      "Event frames accepted by client buffers.",
		}),
		clientsEvicted: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "clients_evicted_total",
			Help:      "Clients unregistered because they could not keep up.",
		}),
		dispatchDropped: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "dispatch_dropped_total",
			Help:      "Events dropped because the dispatch queue was full.",
		}),
		relayErrors: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "relay_errors_total",
			Help:      "Failures publishing to or decoding from the Redis relay.",
		}),

		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpRequestDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordDecision(outcome string, pointsDeducted int, grace bool, seconds float64) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
	if pointsDeducted > 0 {
		m.pointsDeducted.Add(float64(pointsDeducted))
	}
	if grace {
		m.graceEntries.Inc()
	}
	m.evaluateDuration.Observe(seconds)
}

func (m *Metrics) RecordLedgerConflict() {
	if m == nil {
		return
	}
	m.ledgerConflicts.Inc()
}

func (m *Metrics) RecordLogAppendError() {
	if m == nil {
		return
	}
	m.logAppendErrors.Inc()
}

func (m *Metrics) SetHubClients(n int) {
	if m == nil {
		return
	}
	m.hubClients.Set(float64(n))
}

func (m *Metrics) RecordFramesDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.framesDelivered.Add(float64(n))
}

func (m *Metrics) RecordClientEvicted() {
	if m == nil {
		return
	}
	m.clientsEvicted.Inc()
}

func (m *Metrics) RecordDispatchDropped() {
	if m == nil {
		return
	}
	m.dispatchDropped.Inc()
}

func (m *Metrics) RecordRelayError() {
	if m == nil {
		return
	}
	m.relayErrors.Inc()
}

func (m *Metrics) RecordHTTPRequest(route, method, code string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, code).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(seconds)
}
