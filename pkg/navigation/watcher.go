// Package navigation turns client-side route changes into page-view
// captures. Push and replace calls go through the history first; the check
// that compares the new location with the last seen path runs afterwards.
package navigation

import (
	"context"
	"errors"
	"sync"

	"github.com/platinummonkey/glimpse/pkg/async"
	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/observability"
)

// ErrCannotTraverse is returned when the history has no entry in the
// requested direction or does not support traversal.
var ErrCannotTraverse = errors.New("navigation: cannot traverse history")

// PageTracker receives one call per detected navigation.
type PageTracker interface {
	TrackPageView(ctx context.Context, path, title string) (*ledger.PageView, error)
}

// Dispatcher schedules a post-navigation check.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, fn func(context.Context) error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, name string, fn func(context.Context) error)

func (f DispatcherFunc) Dispatch(ctx context.Context, name string, fn func(context.Context) error) {
	f(ctx, name, fn)
}

// GroupDispatcher runs checks on an async.Group so shutdown can wait for
// them.
func GroupDispatcher(g *async.Group) Dispatcher {
	return DispatcherFunc(g.Go)
}

// Inline runs checks on the caller's goroutine.
var Inline Dispatcher = DispatcherFunc(func(ctx context.Context, _ string, fn func(context.Context) error) {
	_ = fn(ctx)
})

// Watcher observes a History and reports each change of path once.
type Watcher struct {
	history    History
	tracker    PageTracker
	dispatcher Dispatcher
	logger     *observability.Logger

	mu          sync.Mutex
	lastPath    string
	baseCtx     context.Context
	unsubscribe func()
	closed      bool
	inflight    sync.WaitGroup
}

// NewWatcher creates a watcher. A nil dispatcher runs checks inline.
func NewWatcher(history History, tracker PageTracker, dispatcher Dispatcher, logger *observability.Logger) *Watcher {
	if dispatcher == nil {
		dispatcher = Inline
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Watcher{
		history:    history,
		tracker:    tracker,
		dispatcher: dispatcher,
		logger:     logger.WithComponent("navigation"),
		lastPath:   history.Location(),
	}
}

// Start subscribes to popstate. ctx is used for captures triggered by
// traversal. Calling Start twice, or after Close, is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.unsubscribe != nil || w.closed {
		return
	}
	w.baseCtx = ctx
	w.unsubscribe = w.history.OnPopState(func() {
		w.schedule(w.popCtx(), "navigation popstate")
	})
}

// Close removes the popstate subscription, stops scheduling checks and waits
// for checks already scheduled to finish, or for ctx to be done.
func (w *Watcher) Close(ctx context.Context) error {
	w.mu.Lock()
	unsub := w.unsubscribe
	w.unsubscribe = nil
	w.closed = true
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}

	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Push adds path to the history and schedules a check.
func (w *Watcher) Push(ctx context.Context, path string) {
	w.history.PushState(path)
	w.schedule(ctx, "navigation push")
}

// Replace overwrites the current history entry and schedules a check.
func (w *Watcher) Replace(ctx context.Context, path string) {
	w.history.ReplaceState(path)
	w.schedule(ctx, "navigation replace")
}

func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.inflight.Add(1)
	w.mu.Unlock()

	w.dispatcher.Dispatch(ctx, name, func(ctx context.Context) error {
		defer w.inflight.Done()
		return w.check(ctx)
	})
}

// Go traverses the history by delta. The resulting popstate schedules the
// check.
func (w *Watcher) Go(delta int) error {
	t, ok := w.history.(Traverser)
	if !ok || !t.Go(delta) {
		return ErrCannotTraverse
	}
	return nil
}

// NotifyNavigation is for hosts that cannot route through the history: it
// records path as a new history entry, so the current location follows the
// host, then checks it directly.
func (w *Watcher) NotifyNavigation(ctx context.Context, path string) error {
	if path != "" && path != w.history.Location() {
		w.history.PushState(path)
	}
	return w.observe(ctx, path)
}

// LastPath is the most recently observed path.
func (w *Watcher) LastPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPath
}

func (w *Watcher) check(ctx context.Context) error {
	return w.observe(ctx, w.history.Location())
}

func (w *Watcher) observe(ctx context.Context, path string) error {
	w.mu.Lock()
	if path == "" || path == w.lastPath {
		w.mu.Unlock()
		return nil
	}
	w.lastPath = path
	w.mu.Unlock()

	w.logger.WithField("path", path).Debug("navigation detected")
	if _, err := w.tracker.TrackPageView(ctx, path, ""); err != nil {
		w.logger.WithField("path", path).WithError(err).Warn("page view after navigation not persisted")
		return err
	}
	return nil
}

func (w *Watcher) popCtx() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.baseCtx == nil {
		return context.Background()
	}
	return w.baseCtx
}
