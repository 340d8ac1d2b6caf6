// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and graceful shutdown for the glimpse agent.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("session_id", id).Info("session started")
//
// # Metrics
//
// Metrics (Prometheus) and OTelMetrics both satisfy Recorder; combine them
// with Recorders to report through both:
//
//	prom := observability.NewMetrics(registry)
//	rec := observability.Recorders{prom, otelMetrics}
//	rec.RecordCapture(ctx, "pageview", observability.OutcomeRecorded)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "localhost:4317",
//		ServiceName: "glimpse",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Shutdown
//
// ShutdownManager drains the HTTP server then runs registered steps in
// order, so the session-end step can be registered before storage close.
package observability
