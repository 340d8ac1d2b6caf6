// Package collector is the public capture API. Every page view and custom
// event passes the consent gate, is enriched with device, session and
// identity data, and lands in the ledger.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/glimpse/pkg/beacon"
	"github.com/platinummonkey/glimpse/pkg/consent"
	"github.com/platinummonkey/glimpse/pkg/device"
	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/observability"
	"github.com/platinummonkey/glimpse/pkg/session"
)

// ErrPersistence marks a capture whose record was built but not durably
// stored. It is a warning, not a failure of the call.
var ErrPersistence = ledger.ErrPersistence

// Record kinds reported to the Recorder.
const (
	KindPageView = "pageview"
	KindEvent    = "event"
	KindConsent  = "consent"
	KindSession  = "session"
)

// ConsentStore is the consent gate and decision writer.
type ConsentStore interface {
	Get(ctx context.Context) (*consent.Decision, error)
	Set(ctx context.Context, d consent.Decision) (consent.Decision, error)
	AnalyticsAllowed(ctx context.Context) bool
}

// Ledger is where captured records are appended.
type Ledger interface {
	session.Store
	AppendPageView(ctx context.Context, pv ledger.PageView) error
	AppendEvent(ctx context.Context, e ledger.Event) error
	AppendConsent(ctx context.Context, c ledger.ConsentRecord) error
}

// Recorder counts capture outcomes.
type Recorder interface {
	RecordCapture(ctx context.Context, kind, outcome string)
}

// Options wires a Collector. Consent, Ledger and Environment are required.
type Options struct {
	Consent     ConsentStore
	Ledger      Ledger
	Environment Environment
	// Location, when set, overrides Environment.CurrentPath as the source
	// of the current path.
	Location func() string
	Identity session.IdentityResolver
	Beacon   beacon.Sink
	Recorder Recorder
	Clock    quartz.Clock
	Logger   *observability.Logger
	Tracer   trace.Tracer
}

// Collector captures telemetry for one visit. Capture calls are serialized.
type Collector struct {
	consent  ConsentStore
	ledger   Ledger
	env      Environment
	location func() string
	identity session.IdentityResolver
	beacon   beacon.Sink
	recorder Recorder
	clock    quartz.Clock
	logger   *observability.Logger
	tracer   trace.Tracer
	tracker  *session.Tracker

	mu sync.Mutex
}

// New validates opts and creates a Collector. No session exists until Start
// or the first permitted capture.
func New(opts Options) (*Collector, error) {
	if opts.Consent == nil {
		return nil, errors.New("collector: consent store is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("collector: ledger is required")
	}
	if opts.Environment == nil {
		return nil, errors.New("collector: environment is required")
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	if opts.Beacon == nil {
		opts.Beacon = beacon.NopSink{}
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.Tracer()
	}

	c := &Collector{
		consent:  opts.Consent,
		ledger:   opts.Ledger,
		env:      opts.Environment,
		location: opts.Location,
		identity: opts.Identity,
		beacon:   opts.Beacon,
		recorder: opts.Recorder,
		clock:    opts.Clock,
		logger:   opts.Logger.WithComponent("collector"),
		tracer:   opts.Tracer,
	}
	c.tracker = session.NewTracker(opts.Ledger, opts.Identity, opts.Clock, opts.Logger)
	return c, nil
}

// Start opens the session when consent already allows analytics. Without
// consent nothing is written.
func (c *Collector) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recoverInto("start", &err)

	if !c.consent.AnalyticsAllowed(ctx) {
		c.logger.Debug("analytics not permitted, session deferred")
		return nil
	}
	return c.ensureSession(ctx)
}

// TrackPageView records a view of path. It returns nil, nil when consent
// does not allow analytics. An empty path means the current path and an
// empty title falls back to the environment title.
func (c *Collector) TrackPageView(ctx context.Context, path, title string) (pv *ledger.PageView, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recoverInto("track page view", &err)

	return c.trackPageView(ctx, path, title)
}

func (c *Collector) trackPageView(ctx context.Context, path, title string) (*ledger.PageView, error) {
	ctx, span := c.tracer.Start(ctx, "collector.TrackPageView")
	defer span.End()

	if !c.consent.AnalyticsAllowed(ctx) {
		c.record(ctx, KindPageView, observability.OutcomeSuppressed)
		span.SetAttributes(attribute.Bool("capture.suppressed", true))
		return nil, nil
	}

	var errs []error
	if err := c.ensureSession(ctx); err != nil {
		errs = append(errs, err)
	}

	if path == "" {
		path = c.currentPath()
	}
	if title == "" {
		title = c.env.Title()
	}
	ua := c.env.UserAgent()
	info := device.Classify(ua)
	width, height := c.env.ScreenSize()

	pv := &ledger.PageView{
		ID:           ledger.NewID(ledger.PageViewIDPrefix),
		SessionID:    c.sessionID(),
		UserID:       c.userID(ctx),
		Path:         path,
		Title:        title,
		Referrer:     c.env.Referrer(),
		UserAgent:    ua,
		DeviceType:   info.DeviceType,
		Browser:      info.Browser,
		OS:           info.OS,
		ScreenWidth:  width,
		ScreenHeight: height,
		Country:      c.env.Country(),
		Timestamp:    c.clock.Now().UTC(),
	}
	span.SetAttributes(attribute.String("page.path", path), attribute.String("session.id", pv.SessionID))

	if err := c.ledger.AppendPageView(ctx, *pv); err != nil {
		errs = append(errs, err)
	}
	if err := c.tracker.RecordPageView(ctx, path); err != nil && !errors.Is(err, session.ErrNotLive) {
		errs = append(errs, err)
	}

	return pv, c.finish(ctx, span, KindPageView, pv.ID, errs)
}

// TrackEvent records a named custom event. It returns nil, nil when consent
// does not allow analytics. Custom events never change the session's page
// count.
func (c *Collector) TrackEvent(ctx context.Context, name string, payload map[string]interface{}, path string) (ev *ledger.Event, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recoverInto("track event", &err)

	ctx, span := c.tracer.Start(ctx, "collector.TrackEvent", trace.WithAttributes(attribute.String("event.name", name)))
	defer span.End()

	if name == "" {
		return nil, errors.New("collector: event name is required")
	}
	if !c.consent.AnalyticsAllowed(ctx) {
		c.record(ctx, KindEvent, observability.OutcomeSuppressed)
		span.SetAttributes(attribute.Bool("capture.suppressed", true))
		return nil, nil
	}

	var errs []error
	if err := c.ensureSession(ctx); err != nil {
		errs = append(errs, err)
	}
	if path == "" {
		path = c.currentPath()
	}

	ev = &ledger.Event{
		ID:        ledger.NewID(ledger.EventIDPrefix),
		SessionID: c.sessionID(),
		UserID:    c.userID(ctx),
		Name:      name,
		Payload:   copyPayload(payload),
		Path:      path,
		Timestamp: c.clock.Now().UTC(),
	}
	if err := c.ledger.AppendEvent(ctx, *ev); err != nil {
		errs = append(errs, err)
	}

	return ev, c.finish(ctx, span, KindEvent, ev.ID, errs)
}

// TrackConsent stores d, appends an audit record and, when d newly grants
// analytics, captures one page view of the current path. It is never gated.
func (c *Collector) TrackConsent(ctx context.Context, d consent.Decision) (rec *ledger.ConsentRecord, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recoverInto("track consent", &err)

	ctx, span := c.tracer.Start(ctx, "collector.TrackConsent", trace.WithAttributes(
		attribute.Bool("consent.analytics", d.Analytics),
		attribute.Bool("consent.marketing", d.Marketing),
	))
	defer span.End()

	previous, prevErr := c.consent.Get(ctx)
	if prevErr != nil {
		c.logger.WithError(prevErr).Warn("previous consent unreadable, treating as never asked")
		previous = nil
	}
	newlyGranted := d.Analytics && (previous == nil || !previous.Analytics)

	stored, err := c.consent.Set(ctx, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "consent not stored")
		return nil, fmt.Errorf("store consent decision: %w", err)
	}

	var errs []error
	if stored.Analytics {
		if err := c.ensureSession(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	rec = &ledger.ConsentRecord{
		ID:        ledger.NewID(ledger.ConsentIDPrefix),
		SessionID: c.sessionID(),
		UserID:    c.userID(ctx),
		Necessary: stored.Necessary,
		Analytics: stored.Analytics,
		Marketing: stored.Marketing,
		Timestamp: c.clock.Now().UTC(),
	}
	if err := c.ledger.AppendConsent(ctx, *rec); err != nil {
		errs = append(errs, err)
	}
	finishErr := c.finish(ctx, span, KindConsent, rec.ID, errs)

	if newlyGranted {
		if _, err := c.trackPageView(ctx, c.currentPath(), ""); err != nil {
			finishErr = errors.Join(finishErr, err)
		}
	}
	return rec, finishErr
}

// ConsentDecision returns the stored decision, nil if never asked.
func (c *Collector) ConsentDecision(ctx context.Context) (*consent.Decision, error) {
	return c.consent.Get(ctx)
}

// SessionInfo reports the current session, if one was started.
func (c *Collector) SessionInfo() (session.Summary, bool) {
	return c.tracker.Summary()
}

// Shutdown finalizes the session and emits the session-end signal. Without
// a session (no consent) nothing is written or sent. Safe to call twice.
func (c *Collector) Shutdown(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recoverInto("shutdown", &err)

	if c.tracker.State() == session.Idle {
		return nil
	}
	alreadyFinal := c.tracker.State() == session.Finalized

	s, finalizeErr := c.tracker.Finalize(ctx, c.currentPath())
	if alreadyFinal {
		return nil
	}

	p := beacon.Payload{
		SessionID: s.ID,
		PageCount: s.PageCount,
		Bounce:    s.IsBounce,
		ExitPath:  s.ExitPath,
	}
	if s.EndedAt != nil {
		p.SessionEnd = *s.EndedAt
	}
	if s.DurationSeconds != nil {
		p.Duration = *s.DurationSeconds
	}
	c.beacon.Send(ctx, p)

	if finalizeErr != nil {
		c.record(ctx, KindSession, observability.OutcomePersistFailed)
		return finalizeErr
	}
	return nil
}

func (c *Collector) ensureSession(ctx context.Context) error {
	if c.tracker.State() != session.Idle {
		return nil
	}
	_, err := c.tracker.Start(ctx, session.StartParams{
		EntryPath: c.currentPath(),
		Referrer:  c.env.Referrer(),
		UserAgent: c.env.UserAgent(),
	})
	if err != nil {
		c.record(ctx, KindSession, observability.OutcomePersistFailed)
		return err
	}
	c.record(ctx, KindSession, observability.OutcomeRecorded)
	return nil
}

func (c *Collector) sessionID() string {
	s, ok := c.tracker.Current()
	if !ok {
		return ""
	}
	return s.ID
}

func (c *Collector) userID(ctx context.Context) string {
	if c.identity == nil {
		return ""
	}
	return c.identity.UserID(ctx)
}

func (c *Collector) currentPath() string {
	if c.location != nil {
		if p := c.location(); p != "" {
			return p
		}
	}
	if p := c.env.CurrentPath(); p != "" {
		return p
	}
	return "/"
}

// finish reports the outcome and turns persistence errors into one warning.
func (c *Collector) finish(ctx context.Context, span trace.Span, kind, id string, errs []error) error {
	if len(errs) == 0 {
		c.record(ctx, kind, observability.OutcomeRecorded)
		return nil
	}
	err := errors.Join(errs...)
	c.record(ctx, kind, observability.OutcomePersistFailed)
	observability.UpdateLoggerWithTraceContext(ctx, c.logger).
		WithFields(map[string]interface{}{"kind": kind, "id": id}).
		WithError(err).
		Warn("capture not fully persisted")
	span.RecordError(err)
	span.SetStatus(codes.Error, "persistence failed")
	return err
}

func (c *Collector) record(ctx context.Context, kind, outcome string) {
	if c.recorder != nil {
		c.recorder.RecordCapture(ctx, kind, outcome)
	}
}

// recoverInto keeps a panic inside the capture path from reaching the host.
func (c *Collector) recoverInto(where string, err *error) {
	if r := recover(); r != nil {
		c.logger.WithField("panic", fmt.Sprint(r)).Error("recovered panic in " + where)
		*err = errors.Join(*err, observability.PanicError(r))
	}
}

func copyPayload(p map[string]interface{}) map[string]interface{} {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

