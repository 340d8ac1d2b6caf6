// Package identity attaches the authenticated user, when there is one, to
// captured records. Every lookup is best-effort: failures yield an empty id
// and never block capture beyond a short timeout.
package identity

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/glimpse/pkg/observability"
)

// ErrUnauthenticated is returned by providers when no user is signed in.
var ErrUnauthenticated = errors.New("identity: no authenticated user")

// Identity is the signed-in user.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Provider looks up the current user.
type Provider interface {
	CurrentUser(ctx context.Context) (*Identity, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (*Identity, error)

func (f ProviderFunc) CurrentUser(ctx context.Context) (*Identity, error) { return f(ctx) }

// ResolverConfig bounds lookups.
type ResolverConfig struct {
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
}

// DefaultResolverConfig returns conservative bounds.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		Timeout:   500 * time.Millisecond,
		CacheTTL:  time.Minute,
		CacheSize: 16,
	}
}

const currentKey = "current"

// Resolver wraps a Provider with a timeout, de-duplication of concurrent
// lookups and a short-lived cache of successful answers.
type Resolver struct {
	provider Provider
	timeout  time.Duration
	cache    *lru.LRU[string, string]
	group    singleflight.Group
	logger   *observability.Logger
}

// NewResolver creates a resolver. A nil provider resolves to no identity.
func NewResolver(provider Provider, cfg ResolverConfig, logger *observability.Logger) *Resolver {
	def := DefaultResolverConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	r := &Resolver{
		provider: provider,
		timeout:  cfg.Timeout,
		logger:   logger.WithComponent("identity"),
	}
	if cfg.CacheTTL > 0 {
		r.cache = lru.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return r
}

// UserID returns the current user id or "" on any failure.
func (r *Resolver) UserID(ctx context.Context) string {
	if r == nil || r.provider == nil {
		return ""
	}
	if r.cache != nil {
		if id, ok := r.cache.Get(currentKey); ok {
			return id
		}
	}

	v, err, _ := r.group.Do(currentKey, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.lookup(lookupCtx)
	})
	if err != nil {
		if !errors.Is(err, ErrUnauthenticated) {
			r.logger.WithError(err).Debug("identity lookup failed, continuing anonymously")
		}
		return ""
	}

	id := v.(string)
	if r.cache != nil && id != "" {
		r.cache.Add(currentKey, id)
	}
	return id
}

// lookup runs the provider on its own goroutine so a provider that ignores
// ctx still cannot hold capture past the timeout.
func (r *Resolver) lookup(ctx context.Context) (string, error) {
	type result struct {
		user *Identity
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: observability.PanicError(rec)}
			}
		}()
		u, err := r.provider.CurrentUser(ctx)
		ch <- result{user: u, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		if res.user == nil {
			return "", ErrUnauthenticated
		}
		return res.user.ID, nil
	}
}

// Invalidate forgets the cached identity, e.g. after sign-in or sign-out.
func (r *Resolver) Invalidate() {
	if r != nil && r.cache != nil {
		r.cache.Remove(currentKey)
	}
}
