package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Capture outcomes reported by the collector.
const (
	OutcomeRecorded      = "recorded"
	OutcomeSuppressed    = "suppressed"
	OutcomePersistFailed = "persist_failed"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Capture metrics
	CapturesTotal *prometheus.CounterVec

	// Ledger metrics
	LedgerRecords *prometheus.GaugeVec

	// Aggregation metrics
	AggregationDuration prometheus.Histogram
	AggregationsTotal   prometheus.Counter

	// Teardown signal metrics
	BeaconsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glimpse_http_requests_total",
				Help: "Total number of host API requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "glimpse_http_request_duration_seconds",
				Help:    "Host API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CapturesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glimpse_captures_total",
				Help: "Capture attempts by record kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		LedgerRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "glimpse_ledger_records",
				Help: "Records currently retained per ledger collection",
			},
			[]string{"collection"},
		),
		AggregationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "glimpse_aggregation_duration_seconds",
				Help:    "Time spent deriving dashboard metrics",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		AggregationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "glimpse_aggregations_total",
				Help: "Total number of metric aggregation passes",
			},
		),
		BeaconsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glimpse_beacons_total",
				Help: "Session-end signals by delivery status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CapturesTotal,
		m.LedgerRecords,
		m.AggregationDuration,
		m.AggregationsTotal,
		m.BeaconsTotal,
	)

	return m
}

// RecordCapture counts one capture attempt.
func (m *Metrics) RecordCapture(_ context.Context, kind, outcome string) {
	m.CapturesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveAggregation records one aggregation pass.
func (m *Metrics) ObserveAggregation(_ context.Context, d time.Duration) {
	m.AggregationsTotal.Inc()
	m.AggregationDuration.Observe(d.Seconds())
}

// SetLedgerSize publishes the retained record count for a collection.
func (m *Metrics) SetLedgerSize(_ context.Context, collection string, n int) {
	m.LedgerRecords.WithLabelValues(collection).Set(float64(n))
}

// RecordBeacon counts a teardown signal delivery attempt.
func (m *Metrics) RecordBeacon(_ context.Context, status string) {
	m.BeaconsTotal.WithLabelValues(status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests. routeName maps a request onto a
// low-cardinality label; nil uses the raw path.
func HTTPMetricsMiddleware(metrics *Metrics, routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if routeName != nil {
				if name := routeName(r); name != "" {
					path = name
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
