package export

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/observability"
)

// Source yields the records to archive.
type Source interface {
	Snapshot(ctx context.Context) (ledger.Snapshot, error)
}

// Uploader stores an encoded snapshot and returns where it went.
type Uploader interface {
	Archive(ctx context.Context, snap ledger.Snapshot, f Format) (string, error)
}

// Scheduler runs archive uploads on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	source   Source
	uploader Uploader
	format   Format
	logger   *observability.Logger
}

// NewScheduler registers the archive job on schedule (standard five-field
// cron syntax). The scheduler does nothing until Start.
func NewScheduler(schedule string, source Source, uploader Uploader, f Format, logger *observability.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	s := &Scheduler{
		cron:     cron.New(),
		source:   source,
		uploader: uploader,
		format:   f,
		logger:   logger.WithComponent("archive"),
	}
	if _, err := s.cron.AddFunc(schedule, s.runScheduled); err != nil {
		return nil, fmt.Errorf("failed to schedule archive job: %w", err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("archive scheduler started")
}

// Stop halts the schedule and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce archives the current snapshot immediately.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read ledger snapshot: %w", err)
	}
	key, err := s.uploader.Archive(ctx, snap, s.format)
	if err != nil {
		return "", err
	}
	s.logger.WithFields(map[string]interface{}{
		"key":        key,
		"page_views": len(snap.PageViews),
		"events":     len(snap.Events),
	}).Info("ledger archived")
	return key, nil
}

func (s *Scheduler) runScheduled() {
	defer observability.RecoverPanic(s.logger, "archive job")
	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.WithError(err).Error("scheduled archive failed")
	}
}
