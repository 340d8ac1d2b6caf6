package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/glimpse/pkg/analytics"
	"github.com/platinummonkey/glimpse/pkg/api"
	"github.com/platinummonkey/glimpse/pkg/async"
	"github.com/platinummonkey/glimpse/pkg/beacon"
	"github.com/platinummonkey/glimpse/pkg/collector"
	"github.com/platinummonkey/glimpse/pkg/config"
	"github.com/platinummonkey/glimpse/pkg/consent"
	"github.com/platinummonkey/glimpse/pkg/export"
	"github.com/platinummonkey/glimpse/pkg/httputil"
	"github.com/platinummonkey/glimpse/pkg/identity"
	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/navigation"
	"github.com/platinummonkey/glimpse/pkg/observability"
	"github.com/platinummonkey/glimpse/pkg/session"
	"github.com/platinummonkey/glimpse/pkg/storage"
)

const maxRequestBytes = 1 << 20

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("glimpse agent exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry about the agent itself
	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promMetrics := observability.NewMetrics(registry)
	recorders := observability.Recorders{promMetrics}
	if cfg.Observability.OTelEnabled {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		recorders = append(recorders, otelMetrics)
	}

	// Storage
	kv, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Type, err)
	}
	logger.WithField("backend", cfg.Storage.Type).Info("storage initialized")

	consentOpts := []consent.Option{consent.WithLogger(logger)}
	if cfg.Capture.ConsentCache {
		consentOpts = append(consentOpts, consent.WithCache())
	}
	consentStore := consent.NewStore(kv, consentOpts...)
	if fs, ok := kv.(*storage.FileSystemKV); ok && cfg.Capture.ConsentCache {
		if err := consentStore.WatchFile(ctx, fs.Path(consent.StorageKey), nil); err != nil {
			logger.WithError(err).Warn("consent file watch unavailable, external edits need a restart")
		}
	}
	events := ledger.New(kv, cfg.Ledger, logger)

	// Identity
	var resolver session.IdentityResolver
	if cfg.Identity.JWTSecret != "" {
		provider := identity.NewJWTProvider([]byte(cfg.Identity.JWTSecret), cfg.Identity.JWTIssuer, identity.FileToken(cfg.Identity.TokenFile))
		resolver = identity.NewResolver(provider, identity.ResolverConfig{
			Timeout:  cfg.Identity.Timeout,
			CacheTTL: cfg.Identity.CacheTTL,
		}, logger)
	}

	// Capture
	env := collector.NewHostEnvironment(collector.EnvironmentState{
		UserAgent:    cfg.Capture.UserAgent,
		ScreenWidth:  cfg.Capture.ScreenWidth,
		ScreenHeight: cfg.Capture.ScreenHeight,
		Path:         cfg.Capture.InitialPath,
		Country:      cfg.Capture.Country,
	})
	history := navigation.NewMemoryHistory(cfg.Capture.InitialPath)
	group := async.NewGroup(logger, cfg.Beacon.Timeout)

	var sink beacon.Sink = beacon.NopSink{}
	if cfg.Beacon.URL != "" {
		sink = beacon.NewHTTPSink(beacon.HTTPConfig{
			URL:     cfg.Beacon.URL,
			Secret:  cfg.Beacon.Secret,
			Timeout: cfg.Beacon.Timeout,
		}, group, logger, recorders)
	}

	coll, err := collector.New(collector.Options{
		Consent:     consentStore,
		Ledger:      events,
		Environment: env,
		Location:    history.Location,
		Identity:    resolver,
		Beacon:      sink,
		Recorder:    recorders,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := coll.Start(ctx); err != nil {
		logger.WithError(err).Warn("session start not persisted")
	}

	watcher := navigation.NewWatcher(history, coll, navigation.GroupDispatcher(group), logger)
	watcher.Start(ctx)

	poller := analytics.NewPoller(events, analytics.PollerConfig{Interval: cfg.Capture.PollInterval}, nil, logger, recorders)
	pollCtx, stopPoller := context.WithCancel(ctx)
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		if err := poller.Run(pollCtx); err != nil {
			logger.WithError(err).Error("metrics poller stopped")
		}
	}()

	// Host API
	health := map[string]storage.HealthChecker{}
	if hc, ok := kv.(storage.HealthChecker); ok {
		health["storage"] = hc
	}
	apiServer, err := api.NewServer(api.Deps{
		Collector:   coll,
		Navigator:   watcher,
		Metrics:     poller,
		Ledger:      events,
		Environment: env,
		Health:      health,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.CORSMiddleware(cfg.Server.AllowedOrigins),
		observability.HTTPMetricsMiddleware(promMetrics, apiServer.RouteName),
		httputil.MaxBytesMiddleware(maxRequestBytes),
		httputil.ContentTypeMiddleware,
	)(apiServer)

	mux := http.NewServeMux()
	mux.Handle("/", otelhttp.NewHandler(handler, "glimpse-api"))
	if cfg.Observability.MetricsEnabled {
		mux.Handle("/metrics", observability.MetricsHandler(registry))
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)

	// Scheduled archive
	if cfg.Archive.Schedule != "" {
		scheduler, err := newArchiveScheduler(ctx, cfg.Archive, events, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
		sm.RegisterShutdownFunc("archive scheduler", scheduler.Stop)
	}

	// Teardown order: stop navigation and drain its checks, end the session
	// and send its signal, let background tasks drain, then close what they
	// write to.
	sm.RegisterShutdownFunc("navigation watcher", watcher.Close)
	sm.RegisterShutdownFunc("session end", coll.Shutdown)
	sm.RegisterShutdownFunc("background tasks", group.Wait)
	sm.RegisterShutdownFunc("metrics poller", func(ctx context.Context) error {
		stopPoller()
		select {
		case <-pollDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	sm.RegisterShutdownFunc("storage", func(context.Context) error {
		return kv.Close()
	})
	sm.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("glimpse agent listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	shutdownErr := sm.WaitForShutdown(ctx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), shutdownErr)
	default:
		return shutdownErr
	}
}

func newArchiveScheduler(ctx context.Context, cfg config.ArchiveConfig, source export.Source, logger *observability.Logger) (*export.Scheduler, error) {
	format, err := export.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	client, err := export.NewS3Client(ctx, export.S3Config{
		Bucket:       cfg.S3Bucket,
		Prefix:       cfg.S3Prefix,
		Region:       cfg.S3Region,
		Endpoint:     cfg.S3Endpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		UsePathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		return nil, err
	}
	archiver := export.NewArchiver(client, cfg.S3Bucket, cfg.S3Prefix, nil)
	return export.NewScheduler(cfg.Schedule, source, archiver, format, logger)
}
