package async

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/glimpse/pkg/observability"
)

// SafeGo executes fn in a goroutine with a timeout and panic recovery.
// Errors and panics are logged, never propagated.
//
//	SafeGo(ctx, logger, 5*time.Second, "session beacon", func(ctx context.Context) error {
//	    return client.Send(ctx, payload)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go run(parentCtx, logger, timeout, taskName, fn)
}

func run(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	defer observability.RecoverPanic(logger, taskName)

	if err := fn(ctx); err != nil {
		logger.WithField("task", taskName).WithError(err).Warn("background task failed")
	}
}

// Group launches SafeGo-style tasks and lets the owner wait for the ones still
// in flight, so teardown does not cut off a pending signal.
type Group struct {
	logger  *observability.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewGroup creates a group whose tasks each get timeout to finish.
func NewGroup(logger *observability.Logger, timeout time.Duration) *Group {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Group{logger: logger, timeout: timeout}
}

// Go runs fn in the background. The task context is detached from ctx's
// cancellation so it outlives the request that triggered it.
func (g *Group) Go(ctx context.Context, taskName string, fn func(context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		run(context.WithoutCancel(ctx), g.logger, g.timeout, taskName, fn)
	}()
}

// Wait blocks until every task finished or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
