package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/observability"
)

// DefaultPollInterval matches the dashboard refresh cadence.
const DefaultPollInterval = 30 * time.Second

// Source supplies point-in-time ledger snapshots.
type Source interface {
	Snapshot(ctx context.Context) (ledger.Snapshot, error)
}

// Recorder receives aggregation timings and ledger sizes.
type Recorder interface {
	ObserveAggregation(ctx context.Context, d time.Duration)
	SetLedgerSize(ctx context.Context, collection string, n int)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval time.Duration
}

// Poller keeps the latest Metrics fresh.
type Poller struct {
	source   Source
	interval time.Duration
	clock    quartz.Clock
	logger   *observability.Logger
	recorder Recorder

	mu     sync.RWMutex
	latest Metrics
	ready  bool
}

// NewPoller creates a poller. A zero interval means DefaultPollInterval.
func NewPoller(source Source, cfg PollerConfig, clock quartz.Clock, logger *observability.Logger, recorder Recorder) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Poller{
		source:   source,
		interval: cfg.Interval,
		clock:    clock,
		logger:   logger.WithComponent("analytics"),
		recorder: recorder,
	}
}

// Run computes once immediately and then on every tick until ctx is done.
// A failed pass is logged and the previous result kept.
func (p *Poller) Run(ctx context.Context) error {
	if _, err := p.Refresh(ctx); err != nil {
		p.logger.WithError(err).Warn("initial metrics aggregation failed")
	}

	ticker := p.clock.TickerFunc(ctx, p.interval, func() error {
		if _, err := p.Refresh(ctx); err != nil {
			p.logger.WithError(err).Warn("metrics aggregation failed")
		}
		return nil
	}, "poller")

	err := ticker.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Refresh recomputes now and stores the result.
func (p *Poller) Refresh(ctx context.Context) (Metrics, error) {
	start := p.clock.Now()
	snap, err := p.source.Snapshot(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("read ledger snapshot: %w", err)
	}

	m := Compute(snap, p.clock.Now())

	p.mu.Lock()
	p.latest = m
	p.ready = true
	p.mu.Unlock()

	if p.recorder != nil {
		p.recorder.ObserveAggregation(ctx, p.clock.Since(start))
		p.recorder.SetLedgerSize(ctx, string(ledger.KindPageViews), len(snap.PageViews))
		p.recorder.SetLedgerSize(ctx, string(ledger.KindEvents), len(snap.Events))
		p.recorder.SetLedgerSize(ctx, string(ledger.KindSessions), len(snap.Sessions))
		p.recorder.SetLedgerSize(ctx, string(ledger.KindConsents), len(snap.Consents))
	}
	p.logger.WithFields(map[string]interface{}{
		"visitors":   m.TotalVisitors,
		"page_views": m.PageViews,
	}).Debug("metrics refreshed")
	return m, nil
}

// Latest returns the most recent result. ok is false before the first
// successful pass.
func (p *Poller) Latest() (Metrics, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.ready
}
