// Package consent persists the visitor's cookie-consent decision and answers
// the single question every capture path asks: may analytics be recorded?
package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/platinummonkey/glimpse/pkg/observability"
	"github.com/platinummonkey/glimpse/pkg/storage"
)

// StorageKey is the key the current decision is stored under.
const StorageKey = "cookie-consent"

// Decision is the visitor's current consent choice. Necessary is always true
// once persisted.
type Decision struct {
	Necessary  bool      `json:"necessary"`
	Analytics  bool      `json:"analytics"`
	Marketing  bool      `json:"marketing"`
	RecordedAt time.Time `json:"recordedAt,omitempty"`
}

// AcceptAll is the decision produced by an "accept all" choice.
func AcceptAll() Decision {
	return Decision{Necessary: true, Analytics: true, Marketing: true}
}

// RejectAll is the decision produced by a "reject all" choice.
func RejectAll() Decision {
	return Decision{Necessary: true}
}

// Store reads and replaces the decision in a storage.KV. Reads go to storage
// on every call unless the cache is enabled, in which case Set and file
// watch notifications invalidate it.
type Store struct {
	kv     storage.KV
	clock  quartz.Clock
	logger *observability.Logger

	mu           sync.RWMutex
	cacheEnabled bool
	cacheValid   bool
	cached       *Decision
	// generation advances on every invalidation; a read only fills the
	// cache if no invalidation happened while it was loading.
	generation uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp RecordedAt.
func WithClock(c quartz.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCache keeps the last read decision in memory.
func WithCache() Option {
	return func(s *Store) { s.cacheEnabled = true }
}

// NewStore creates a Store over kv.
func NewStore(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		clock:  quartz.NewReal(),
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("consent")
	return s
}

// Get returns the current decision, or nil if the visitor was never asked.
func (s *Store) Get(ctx context.Context) (*Decision, error) {
	var gen uint64
	if s.cacheEnabled {
		s.mu.RLock()
		if s.cacheValid {
			d := copyDecision(s.cached)
			s.mu.RUnlock()
			return d, nil
		}
		gen = s.generation
		s.mu.RUnlock()
	}

	d, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	if s.cacheEnabled {
		s.mu.Lock()
		if s.generation == gen {
			s.cached, s.cacheValid = copyDecision(d), true
		}
		s.mu.Unlock()
	}
	return d, nil
}

func (s *Store) load(ctx context.Context) (*Decision, error) {
	data, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read consent: %w", err)
	}
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode consent: %w", err)
	}
	d.Necessary = true
	return &d, nil
}

// Set replaces the decision wholesale and returns what was stored.
func (s *Store) Set(ctx context.Context, d Decision) (Decision, error) {
	d.Necessary = true
	if d.RecordedAt.IsZero() {
		d.RecordedAt = s.clock.Now().UTC()
	}

	data, err := json.Marshal(d)
	if err != nil {
		return d, fmt.Errorf("encode consent: %w", err)
	}
	s.Invalidate()
	err = s.kv.Set(ctx, StorageKey, data)
	// Reads that started before the write landed may hold the old value.
	s.Invalidate()
	if err != nil {
		return d, fmt.Errorf("write consent: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"analytics": d.Analytics,
		"marketing": d.Marketing,
	}).Info("consent decision recorded")
	return d, nil
}

// AnalyticsAllowed reports whether analytics capture is currently permitted.
// A missing or unreadable decision means no.
func (s *Store) AnalyticsAllowed(ctx context.Context) bool {
	d, err := s.Get(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("consent unreadable, treating analytics as denied")
		return false
	}
	return d != nil && d.Analytics
}

// Invalidate drops the cached decision so the next Get reads storage.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached, s.cacheValid = nil, false
	s.generation++
	s.mu.Unlock()
}

func copyDecision(d *Decision) *Decision {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
