// Package ledger is the bounded local history of captured telemetry. It keeps
// four independently capped collections (page views, custom events,
// sessions, consent audit records), each stored as one JSON array under its
// own storage key.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/platinummonkey/glimpse/pkg/observability"
	"github.com/platinummonkey/glimpse/pkg/storage"
)

// ErrPersistence wraps every storage or serialization failure. Callers treat
// it as a warning: the record was built but may not be durable.
var ErrPersistence = errors.New("ledger persistence failed")

// Kind names one collection.
type Kind string

const (
	KindPageViews Kind = "pageviews"
	KindEvents    Kind = "events"
	KindSessions  Kind = "sessions"
	KindConsents  Kind = "consents"
)

// Kinds lists every collection in a stable order.
var Kinds = []Kind{KindPageViews, KindEvents, KindSessions, KindConsents}

// StorageKey is the storage key holding the collection.
func (k Kind) StorageKey() string {
	return "analytics_" + string(k)
}

// ParseKind accepts a collection name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown ledger collection %q", s)
}

// Config sets the per-collection caps.
type Config struct {
	PageViewCap int `yaml:"pageview_cap"`
	EventCap    int `yaml:"event_cap"`
	SessionCap  int `yaml:"session_cap"`
	ConsentCap  int `yaml:"consent_cap"`
}

// DefaultConfig returns the standard caps.
func DefaultConfig() Config {
	return Config{
		PageViewCap: 1000,
		EventCap:    1000,
		SessionCap:  100,
		ConsentCap:  100,
	}
}

// Cap returns the cap for kind; non-positive values fall back to the default.
func (c Config) Cap(kind Kind) int {
	def := DefaultConfig()
	pick := func(v, d int) int {
		if v > 0 {
			return v
		}
		return d
	}
	switch kind {
	case KindPageViews:
		return pick(c.PageViewCap, def.PageViewCap)
	case KindEvents:
		return pick(c.EventCap, def.EventCap)
	case KindSessions:
		return pick(c.SessionCap, def.SessionCap)
	default:
		return pick(c.ConsentCap, def.ConsentCap)
	}
}

// Ledger appends to and reads from the four collections. Each mutating call
// reads, modifies and rewrites a whole collection under one lock, so
// append-then-truncate is atomic per call.
type Ledger struct {
	kv     storage.KV
	cfg    Config
	logger *observability.Logger
	mu     sync.Mutex
}

// New creates a ledger over kv.
func New(kv storage.KV, cfg Config, logger *observability.Logger) *Ledger {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Ledger{kv: kv, cfg: cfg, logger: logger.WithComponent("ledger")}
}

func (l *Ledger) AppendPageView(ctx context.Context, pv PageView) error {
	return appendRecord(ctx, l, KindPageViews, pv)
}

func (l *Ledger) AppendEvent(ctx context.Context, e Event) error {
	return appendRecord(ctx, l, KindEvents, e)
}

func (l *Ledger) AppendSession(ctx context.Context, s Session) error {
	return appendRecord(ctx, l, KindSessions, s)
}

func (l *Ledger) AppendConsent(ctx context.Context, c ConsentRecord) error {
	return appendRecord(ctx, l, KindConsents, c)
}

func (l *Ledger) PageViews(ctx context.Context) ([]PageView, error) {
	return readLocked[PageView](ctx, l, KindPageViews)
}

func (l *Ledger) Events(ctx context.Context) ([]Event, error) {
	return readLocked[Event](ctx, l, KindEvents)
}

func (l *Ledger) Sessions(ctx context.Context) ([]Session, error) {
	return readLocked[Session](ctx, l, KindSessions)
}

func (l *Ledger) Consents(ctx context.Context) ([]ConsentRecord, error) {
	return readLocked[ConsentRecord](ctx, l, KindConsents)
}

// ReadAll returns the raw records of one collection in insertion order.
func (l *Ledger) ReadAll(ctx context.Context, kind Kind) ([]json.RawMessage, error) {
	return readLocked[json.RawMessage](ctx, l, kind)
}

// Snapshot copies all four collections under a single lock.
func (l *Ledger) Snapshot(ctx context.Context) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var snap Snapshot
	var err error
	if snap.PageViews, err = read[PageView](ctx, l.kv, KindPageViews); err != nil {
		return Snapshot{}, err
	}
	if snap.Events, err = read[Event](ctx, l.kv, KindEvents); err != nil {
		return Snapshot{}, err
	}
	if snap.Sessions, err = read[Session](ctx, l.kv, KindSessions); err != nil {
		return Snapshot{}, err
	}
	if snap.Consents, err = read[ConsentRecord](ctx, l.kv, KindConsents); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Counts returns the retained record count per collection.
func (l *Ledger) Counts(ctx context.Context) (map[Kind]int, error) {
	counts := make(map[Kind]int, len(Kinds))
	for _, k := range Kinds {
		recs, err := l.ReadAll(ctx, k)
		if err != nil {
			return nil, err
		}
		counts[k] = len(recs)
	}
	return counts, nil
}

// UpdateSession merges patch into the retained session with id. It reports
// false, without error, when the session is no longer retained.
func (l *Ledger) UpdateSession(ctx context.Context, id string, patch SessionPatch) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sessions, err := read[Session](ctx, l.kv, KindSessions)
	if err != nil {
		return false, err
	}
	for i := range sessions {
		if sessions[i].ID != id {
			continue
		}
		patch.apply(&sessions[i])
		if err := write(ctx, l.kv, KindSessions, sessions); err != nil {
			return false, err
		}
		return true, nil
	}
	l.logger.WithField("session_id", id).Debug("session no longer retained, update skipped")
	return false, nil
}

// ClearAll erases all four collections. The consent decision itself is not
// ledger data and survives.
func (l *Ledger) ClearAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, k := range Kinds {
		if err := l.kv.Delete(ctx, k.StorageKey()); err != nil {
			errs = append(errs, fmt.Errorf("%w: clear %s: %w", ErrPersistence, k, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	l.logger.Info("ledger cleared")
	return nil
}

func appendRecord[T any](ctx context.Context, l *Ledger, kind Kind, rec T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := read[T](ctx, l.kv, kind)
	if err != nil {
		return err
	}
	recs = append(recs, rec)
	if limit := l.cfg.Cap(kind); len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return write(ctx, l.kv, kind, recs)
}

func readLocked[T any](ctx context.Context, l *Ledger, kind Kind) ([]T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return read[T](ctx, l.kv, kind)
}

func read[T any](ctx context.Context, kv storage.KV, kind Kind) ([]T, error) {
	data, err := kv.Get(ctx, kind.StorageKey())
	if errors.Is(err, storage.ErrNotFound) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrPersistence, kind, err)
	}
	var recs []T
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrPersistence, kind, err)
	}
	if recs == nil {
		recs = []T{}
	}
	return recs, nil
}

func write[T any](ctx context.Context, kv storage.KV, kind Kind, recs []T) error {
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPersistence, kind, err)
	}
	if err := kv.Set(ctx, kind.StorageKey(), data); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, kind, err)
	}
	return nil
}
