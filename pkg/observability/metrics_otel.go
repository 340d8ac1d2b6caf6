package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the Prometheus capture metrics as OpenTelemetry
// instruments so they reach an OTLP collector.
type OTelMetrics struct {
	captures            metric.Int64Counter
	aggregationDuration metric.Float64Histogram
	ledgerRecords       metric.Int64Gauge
	beacons             metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider.
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter("github.com/platinummonkey/glimpse"))
}

// NewOTelMetricsWithMeter creates the instruments on the given meter.
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.captures, err = meter.Int64Counter(
		"glimpse.captures",
		metric.WithDescription("Capture attempts by record kind and outcome"),
		metric.WithUnit("{capture}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create captures counter: %w", err)
	}

	m.aggregationDuration, err = meter.Float64Histogram(
		"glimpse.aggregation.duration",
		metric.WithDescription("Time spent deriving dashboard metrics"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregation duration histogram: %w", err)
	}

	m.ledgerRecords, err = meter.Int64Gauge(
		"glimpse.ledger.records",
		metric.WithDescription("Records currently retained per ledger collection"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger records gauge: %w", err)
	}

	m.beacons, err = meter.Int64Counter(
		"glimpse.beacons",
		metric.WithDescription("Session-end signals by delivery status"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create beacons counter: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) RecordCapture(ctx context.Context, kind, outcome string) {
	m.captures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capture.kind", kind),
		attribute.String("capture.outcome", outcome),
	))
}

func (m *OTelMetrics) ObserveAggregation(ctx context.Context, d time.Duration) {
	m.aggregationDuration.Record(ctx, d.Seconds())
}

func (m *OTelMetrics) SetLedgerSize(ctx context.Context, collection string, n int) {
	m.ledgerRecords.Record(ctx, int64(n), metric.WithAttributes(
		attribute.String("ledger.collection", collection),
	))
}

func (m *OTelMetrics) RecordBeacon(ctx context.Context, status string) {
	m.beacons.Add(ctx, 1, metric.WithAttributes(attribute.String("beacon.status", status)))
}

// Recorder is the full set of hooks the engine reports through. Both
// Metrics and OTelMetrics satisfy it.
type Recorder interface {
	RecordCapture(ctx context.Context, kind, outcome string)
	ObserveAggregation(ctx context.Context, d time.Duration)
	SetLedgerSize(ctx context.Context, collection string, n int)
	RecordBeacon(ctx context.Context, status string)
}

// Recorders fans every hook out to each member.
type Recorders []Recorder

func (rs Recorders) RecordCapture(ctx context.Context, kind, outcome string) {
	for _, r := range rs {
		r.RecordCapture(ctx, kind, outcome)
	}
}

func (rs Recorders) ObserveAggregation(ctx context.Context, d time.Duration) {
	for _, r := range rs {
		r.ObserveAggregation(ctx, d)
	}
}

func (rs Recorders) SetLedgerSize(ctx context.Context, collection string, n int) {
	for _, r := range rs {
		r.SetLedgerSize(ctx, collection, n)
	}
}

func (rs Recorders) RecordBeacon(ctx context.Context, status string) {
	for _, r := range rs {
		r.RecordBeacon(ctx, status)
	}
}
