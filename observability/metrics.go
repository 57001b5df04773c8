// Package observability collects Prometheus metrics for the HTTP surface and
// the allocation service.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry and every collector. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	operationsTotal *prometheus.CounterVec
	conflictsTotal  *prometheus.CounterVec
	creditMoved     *prometheus.CounterVec
	linesPerPayment prometheus.Histogram

	brokenLedgers prometheus.Gauge
	lastAudit     prometheus.Gauge
}

// NewMetrics initializes the registry and collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "allocation_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_operations_total",
		Help: "Service operations by kind and outcome.",
	}, []string{"operation", "outcome"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_concurrent_modifications_total",
		Help: "Optimistic version conflicts that forced a retry.",
	}, []string{"operation"})
	credit := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_credit_moved_minor_units_total",
		Help: "Credit added to or drawn from unit ledgers, in minor units.",
	}, []string{"direction"})
	lines := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocation_lines_per_payment",
		Help:    "Obligations touched by one payment.",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})
	broken := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "allocation_ledger_audit_broken_ledgers",
		Help: "Unit ledgers that failed the last audit.",
	})
	lastAudit := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "allocation_ledger_audit_last_run_timestamp_seconds",
		Help: "Unix time of the last completed ledger audit.",
	})
	registry.MustRegister(requests, duration, operations, conflicts, credit, lines, broken, lastAudit)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		operationsTotal: operations,
		conflictsTotal:  conflicts,
		creditMoved:     credit,
		linesPerPayment: lines,
		brokenLedgers:   broken,
		lastAudit:       lastAudit,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration per route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// =============================================================================
// DOMAIN METRICS
// =============================================================================

// ObserveOperation counts one service call, e.g. ("record_payment", "ok").
func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveConflict counts one optimistic version conflict.
func (m *Metrics) ObserveConflict(operation string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(operation).Inc()
}

// ObserveCreditDelta records a signed ledger movement.
func (m *Metrics) ObserveCreditDelta(amount int64) {
	if m == nil || amount == 0 {
		return
	}
	if amount > 0 {
		m.creditMoved.WithLabelValues("added").Add(float64(amount))
		return
	}
	m.creditMoved.WithLabelValues("used").Add(float64(-amount))
}

// ObserveLines records how many obligations a payment touched.
func (m *Metrics) ObserveLines(n int) {
	if m == nil {
		return
	}
	m.linesPerPayment.Observe(float64(n))
}

// ObserveLedgerAudit records the outcome of a completed ledger audit.
func (m *Metrics) ObserveLedgerAudit(broken int, at time.Time) {
	if m == nil {
		return
	}
	m.brokenLedgers.Set(float64(broken))
	m.lastAudit.Set(float64(at.Unix()))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
