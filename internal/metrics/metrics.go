// Package metrics defines the Prometheus collectors for the sync engine and
// the reference server. Every method is safe on a nil receiver so metrics
// stay optional.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rem"

// Sync holds the client-side sync collectors.
type Sync struct {
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	ops          *prometheus.CounterVec
	retries      prometheus.Counter
	pending      prometheus.Gauge
	failed       prometheus.Gauge
	conflicts    prometheus.Counter
}

// NewSync registers the sync collectors with reg.
func NewSync(reg prometheus.Registerer) *Sync {
	f := promauto.With(reg)
	return &Sync{
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Sync passes by result (ok, pull_error, push_error, auth_expired).",
		}, []string{"result"}),
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Duration of complete sync passes.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "operations_total",
			Help:      "Pushed outbox operations by type and result (ok, retry, failed, conflict).",
		}, []string{"type", "result"}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "retries_scheduled_total",
			Help:      "Per-operation retry timers scheduled.",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pending_operations",
			Help:      "Operations waiting in the outbox.",
		}),
		failed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "failed_operations",
			Help:      "Operations that exhausted their retries or were rejected.",
		}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "conflicts_total",
			Help:      "Conflicts detected during pull or push.",
		}),
	}
}

// ObservePass records one finished pass.
func (m *Sync) ObservePass(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(result).Inc()
	m.passDuration.Observe(d.Seconds())
}

// ObserveOp records the outcome of one push attempt.
func (m *Sync) ObserveOp(opType, result string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(opType, result).Inc()
}

// RetryScheduled counts a scheduled retry timer.
func (m *Sync) RetryScheduled() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// Conflict counts a detected conflict.
func (m *Sync) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// SetQueue sets the outbox gauges.
func (m *Sync) SetQueue(pending, failed int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	m.failed.Set(float64(failed))
}

// HTTP holds the reference server's request collectors.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

// NewHTTP registers the server collectors with reg.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	f := promauto.With(reg)
	return &HTTP{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		}),
	}
}

// Begin marks a request in flight and returns a func that records it.
func (m *HTTP) Begin() func(method, route string, status int) {
	if m == nil {
		return func(string, string, int) {}
	}
	start := time.Now()
	m.inflight.Inc()
	return func(method, route string, status int) {
		m.inflight.Dec()
		m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler exposes reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
