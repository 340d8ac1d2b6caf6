// Package session tracks the lifecycle of one visit: it is started once per
// agent lifetime, counts page views while live, and is finalized on teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/platinummonkey/glimpse/pkg/device"
	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/observability"
)

var (
	// ErrNotLive is returned by operations that need a live session.
	ErrNotLive = errors.New("session: not live")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session: already started")
)

// State of the tracker.
type State int

const (
	Idle State = iota
	Live
	Finalized
)

func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case Finalized:
		return "finalized"
	default:
		return "idle"
	}
}

// Store is the slice of the ledger the tracker writes through.
type Store interface {
	AppendSession(ctx context.Context, s ledger.Session) error
	UpdateSession(ctx context.Context, id string, patch ledger.SessionPatch) (bool, error)
}

// IdentityResolver returns the current user id or "".
type IdentityResolver interface {
	UserID(ctx context.Context) string
}

// StartParams describes the page the visit began on.
type StartParams struct {
	EntryPath string
	Referrer  string
	UserAgent string
}

// Summary is a point-in-time view of the session for the teardown signal and
// host queries.
type Summary struct {
	SessionID       string    `json:"sessionId"`
	State           string    `json:"state"`
	StartedAt       time.Time `json:"sessionStart"`
	PageCount       int       `json:"pageCount"`
	IsBounce        bool      `json:"bounce"`
	DurationSeconds int64     `json:"duration"`
	ExitPath        string    `json:"exitPage,omitempty"`
}

// Tracker is the Idle -> Live -> Finalized state machine for one session.
type Tracker struct {
	store    Store
	identity IdentityResolver
	clock    quartz.Clock
	logger   *observability.Logger

	mu       sync.Mutex
	state    State
	current  ledger.Session
	lastPath string
}

// NewTracker creates an idle tracker. identity may be nil.
func NewTracker(store Store, identity IdentityResolver, clock quartz.Clock, logger *observability.Logger) *Tracker {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Tracker{
		store:    store,
		identity: identity,
		clock:    clock,
		logger:   logger.WithComponent("session"),
	}
}

// Start opens the session and persists it. The session is live even if the
// write fails; the error is returned as a warning.
func (t *Tracker) Start(ctx context.Context, p StartParams) (ledger.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Idle {
		return t.current, ErrAlreadyStarted
	}

	info := device.Classify(p.UserAgent)
	s := ledger.Session{
		ID:         ledger.NewID(ledger.SessionIDPrefix),
		StartedAt:  t.clock.Now().UTC(),
		PageCount:  0,
		IsBounce:   true,
		EntryPath:  p.EntryPath,
		Referrer:   p.Referrer,
		DeviceType: info.DeviceType,
		Browser:    info.Browser,
		OS:         info.OS,
	}
	if t.identity != nil {
		s.UserID = t.identity.UserID(ctx)
	}

	t.current = s
	t.lastPath = p.EntryPath
	t.state = Live

	log := t.logger.WithField("session_id", s.ID)
	if err := t.store.AppendSession(ctx, s); err != nil {
		log.WithError(err).Warn("session start not persisted")
		return s, fmt.Errorf("persist session start: %w", err)
	}
	log.Info("session started")
	return s, nil
}

// RecordPageView counts one page view against the live session. An evicted
// session record is logged and skipped; a storage failure is returned but
// the in-memory count keeps the increment.
func (t *Tracker) RecordPageView(ctx context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Live {
		return ErrNotLive
	}

	t.current.PageCount++
	t.current.IsBounce = t.current.PageCount <= 1
	t.current.ExitPath = path
	t.lastPath = path

	count, bounce, exit := t.current.PageCount, t.current.IsBounce, path
	ok, err := t.store.UpdateSession(ctx, t.current.ID, ledger.SessionPatch{
		PageCount: &count,
		IsBounce:  &bounce,
		ExitPath:  &exit,
	})
	if err != nil {
		return fmt.Errorf("persist page count: %w", err)
	}
	if !ok {
		t.logger.WithField("session_id", t.current.ID).Debug("session record evicted, page count kept in memory only")
	}
	return nil
}

// Finalize ends the session once. Later calls return the finalized record
// without writing. The single persist attempt is never retried.
func (t *Tracker) Finalize(ctx context.Context, exitPath string) (ledger.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Finalized:
		return t.current, nil
	case Idle:
		return ledger.Session{}, ErrNotLive
	}

	if exitPath == "" {
		exitPath = t.lastPath
	}
	ended := t.clock.Now().UTC()
	duration := elapsedSeconds(t.current.StartedAt, ended)

	t.current.EndedAt = &ended
	t.current.DurationSeconds = &duration
	t.current.ExitPath = exitPath
	t.state = Finalized

	log := t.logger.WithFields(map[string]interface{}{
		"session_id": t.current.ID,
		"duration_s": duration,
		"page_count": t.current.PageCount,
	})
	_, err := t.store.UpdateSession(ctx, t.current.ID, ledger.SessionPatch{
		EndedAt:         &ended,
		DurationSeconds: &duration,
		ExitPath:        &exitPath,
	})
	if err != nil {
		log.WithError(err).Warn("session end not persisted")
		return t.current, fmt.Errorf("persist session end: %w", err)
	}
	log.Info("session finalized")
	return t.current, nil
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Current returns a copy of the session and whether one was ever started.
func (t *Tracker) Current() (ledger.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.state != Idle
}

// Summary reports the session as of now. Duration is the finalized duration
// or, while live, the elapsed time so far.
func (t *Tracker) Summary() (Summary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Idle {
		return Summary{State: Idle.String()}, false
	}
	s := Summary{
		SessionID: t.current.ID,
		State:     t.state.String(),
		StartedAt: t.current.StartedAt,
		PageCount: t.current.PageCount,
		IsBounce:  t.current.IsBounce,
		ExitPath:  t.current.ExitPath,
	}
	if t.current.DurationSeconds != nil {
		s.DurationSeconds = *t.current.DurationSeconds
	} else {
		s.DurationSeconds = elapsedSeconds(t.current.StartedAt, t.clock.Now())
	}
	if s.ExitPath == "" {
		s.ExitPath = t.lastPath
	}
	return s, true
}

func elapsedSeconds(from, to time.Time) int64 {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
