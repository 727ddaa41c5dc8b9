// Package metrics provides Prometheus metrics for the tuning service and
// the trial loop.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autotune"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	sessionsActive    prometheus.Gauge
	suggestionsTotal  *prometheus.CounterVec
	observationsTotal *prometheus.CounterVec
	optimizerErrors   *prometheus.CounterVec
	suggestDuration   *prometheus.HistogramVec

	trialsTotal   *prometheus.CounterVec
	trialDuration prometheus.Histogram
	bestScore     prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates metrics registered on reg. A nil reg uses a fresh registry,
// which keeps tests and multiple servers in one process independent.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		requestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		sessionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of live optimizer sessions",
			},
		),
		suggestionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "suggestions_total",
				Help:      "Total number of configurations suggested",
			},
			[]string{"optimizer"},
		),
		observationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "observations_total",
				Help:      "Total number of observation rows registered",
			},
			[]string{"optimizer"},
		),
		optimizerErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "optimizer_errors_total",
				Help:      "Total number of failed optimizer calls by operation and error code",
			},
			[]string{"operation", "code"},
		),
		suggestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "suggest_duration_seconds",
				Help:      "Time spent producing one suggestion",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"optimizer"},
		),
		trialsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trials_total",
				Help:      "Total number of evaluated trials by outcome",
			},
			[]string{"status"},
		),
		trialDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trial_duration_seconds",
				Help:      "Objective evaluation time per trial",
				Buckets:   prometheus.DefBuckets,
			},
		),
		bestScore: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "trial_best_score",
				Help:      "Best scalarized score seen by the trial loop",
			},
		),
		gatherer: reg,
	}
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetSessions sets the number of live sessions.
func (m *Metrics) SetSessions(n int) {
	m.sessionsActive.Set(float64(n))
}

// RecordSuggestion counts one suggestion and its latency.
func (m *Metrics) RecordSuggestion(optimizer string, duration time.Duration) {
	m.suggestionsTotal.WithLabelValues(optimizer).Inc()
	m.suggestDuration.WithLabelValues(optimizer).Observe(duration.Seconds())
}

// RecordObservations counts registered observation rows.
func (m *Metrics) RecordObservations(optimizer string, rows int) {
	m.observationsTotal.WithLabelValues(optimizer).Add(float64(rows))
}

// RecordOptimizerError counts a failed optimizer call.
func (m *Metrics) RecordOptimizerError(operation, code string) {
	m.optimizerErrors.WithLabelValues(operation, code).Inc()
}

// RecordTrial records one objective evaluation. Failed trials pass ok=false.
func (m *Metrics) RecordTrial(ok bool, duration time.Duration) {
	status := "success"
	if !ok {
		status = "failure"
	}
	m.trialsTotal.WithLabelValues(status).Inc()
	m.trialDuration.Observe(duration.Seconds())
}

// SetBestScore publishes the incumbent score.
func (m *Metrics) SetBestScore(v float64) {
	m.bestScore.Set(v)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request count, latency and in-flight requests. Routes
// are labelled by their chi pattern so session ids do not explode label
// cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}
