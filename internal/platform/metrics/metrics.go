package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the reconciliation service.
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	reconcileRunsTotal     prometheus.Counter
	reconcileFailuresTotal prometheus.Counter
	noMatchTotal           prometheus.Counter
	sessionsOpenedTotal    prometheus.Counter
	sessionsClosedTotal    prometheus.Counter
	liveSessions           prometheus.Gauge
}

// New creates and registers Prometheus metrics for the reconciler.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radio_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radio_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	reconcileRunsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radio_reconcile_runs_total",
		Help: "Total number of reconciliation passes attempted",
	})
	reconcileFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radio_reconcile_failures_total",
		Help: "Total number of reconciliation passes that failed (upstream or store)",
	})
	noMatchTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radio_nomatch_total",
		Help: "Total number of live snapshots that could not be attributed to a registered encoder",
	})
	sessionsOpenedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radio_sessions_opened_total",
		Help: "Total number of live sessions opened",
	})
	sessionsClosedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radio_sessions_closed_total",
		Help: "Total number of live sessions closed",
	})
	liveSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radio_live_sessions",
		Help: "Number of currently open live sessions",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		reconcileRunsTotal,
		reconcileFailuresTotal,
		noMatchTotal,
		sessionsOpenedTotal,
		sessionsClosedTotal,
		liveSessions,
	)

	return &Metrics{
		registry:               registry,
		requestsTotal:          requestsTotal,
		errorsTotal:            errorsTotal,
		reconcileRunsTotal:     reconcileRunsTotal,
		reconcileFailuresTotal: reconcileFailuresTotal,
		noMatchTotal:           noMatchTotal,
		sessionsOpenedTotal:    sessionsOpenedTotal,
		sessionsClosedTotal:    sessionsClosedTotal,
		liveSessions:           liveSessions,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncReconcileRuns increments the reconciliation run counter.
func (m *Metrics) IncReconcileRuns() {
	m.reconcileRunsTotal.Inc()
}

// IncReconcileFailures increments the reconciliation failure counter.
func (m *Metrics) IncReconcileFailures() {
	m.reconcileFailuresTotal.Inc()
}

// IncNoMatch increments the unattributable-live-snapshot counter.
func (m *Metrics) IncNoMatch() {
	m.noMatchTotal.Inc()
}

// IncSessionsOpened increments the sessions opened counter.
func (m *Metrics) IncSessionsOpened() {
	m.sessionsOpenedTotal.Inc()
}

// AddSessionsClosed adds n to the sessions closed counter.
func (m *Metrics) AddSessionsClosed(n int) {
	m.sessionsClosedTotal.Add(float64(n))
}

// SetLiveSessions sets the open sessions gauge.
func (m *Metrics) SetLiveSessions(n int) {
	m.liveSessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. currently open sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for metrics.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware returns chi-compatible middleware that records request
// count and error count (status >= 400) in the given Metrics.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)
			m.IncRequests()
			if wrap.status >= 400 {
				m.IncErrors()
			}
		})
	}
}
