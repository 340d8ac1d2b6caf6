package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_Recorder(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	ctx := context.Background()

	m.RecordCapture(ctx, "pageview", OutcomeRecorded)
	m.RecordCapture(ctx, "pageview", OutcomeRecorded)
	m.RecordCapture(ctx, "event", OutcomeSuppressed)
	m.SetLedgerSize(ctx, "analytics_pageviews", 42)
	m.ObserveAggregation(ctx, 3*time.Millisecond)
	m.RecordBeacon(ctx, "sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CapturesTotal.WithLabelValues("pageview", OutcomeRecorded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapturesTotal.WithLabelValues("event", OutcomeSuppressed)))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.LedgerRecords.WithLabelValues("analytics_pageviews")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AggregationsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BeaconsTotal.WithLabelValues("sent")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m, func(*http.Request) string { return "/v1/events" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/events?x=1", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/events", "202")))

	rec = httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "glimpse_http_requests_total"))
}

func TestOTelMetrics_Recorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewOTelMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	rec := Recorders{m}
	rec.RecordCapture(ctx, "event", OutcomeRecorded)
	rec.SetLedgerSize(ctx, "analytics_events", 7)
	rec.ObserveAggregation(ctx, time.Millisecond)
	rec.RecordBeacon(ctx, "failed")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			names[metric.Name] = true
		}
	}
	assert.True(t, names["glimpse.captures"])
	assert.True(t, names["glimpse.ledger.records"])
	assert.True(t, names["glimpse.aggregation.duration"])
	assert.True(t, names["glimpse.beacons"])
}

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, ShutdownOTel(context.Background(), providers, NewNopLogger()))
	assert.NotNil(t, Tracer())
}
