// Package api exposes the capture engine to its host over HTTP: consent,
// captures, navigation, session state, derived metrics, export and
// erasure.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/glimpse/pkg/analytics"
	"github.com/platinummonkey/glimpse/pkg/collector"
	"github.com/platinummonkey/glimpse/pkg/consent"
	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/observability"
	"github.com/platinummonkey/glimpse/pkg/session"
	"github.com/platinummonkey/glimpse/pkg/storage"
)

// Collector is the capture API the handlers drive.
type Collector interface {
	TrackPageView(ctx context.Context, path, title string) (*ledger.PageView, error)
	TrackEvent(ctx context.Context, name string, payload map[string]interface{}, path string) (*ledger.Event, error)
	TrackConsent(ctx context.Context, d consent.Decision) (*ledger.ConsentRecord, error)
	ConsentDecision(ctx context.Context) (*consent.Decision, error)
	SessionInfo() (session.Summary, bool)
}

// Navigator routes host navigation through the watcher.
type Navigator interface {
	Push(ctx context.Context, path string)
	Replace(ctx context.Context, path string)
	Go(delta int) error
	NotifyNavigation(ctx context.Context, path string) error
	LastPath() string
}

// MetricsSource serves derived metrics.
type MetricsSource interface {
	Latest() (analytics.Metrics, bool)
	Refresh(ctx context.Context) (analytics.Metrics, error)
}

// Ledger is the read and erase side of the event ledger.
type Ledger interface {
	Snapshot(ctx context.Context) (ledger.Snapshot, error)
	ReadAll(ctx context.Context, kind ledger.Kind) ([]json.RawMessage, error)
	ClearAll(ctx context.Context) error
}

// Environment is the mutable host environment.
type Environment interface {
	Update(fn func(*collector.EnvironmentState))
	State() collector.EnvironmentState
}

// Deps wires a Server. Health checkers are optional.
type Deps struct {
	Collector   Collector
	Navigator   Navigator
	Metrics     MetricsSource
	Ledger      Ledger
	Environment Environment
	Health      map[string]storage.HealthChecker
	Logger      *observability.Logger
}

// Server represents our API server
type Server struct {
	collector   Collector
	navigator   Navigator
	metrics     MetricsSource
	ledger      Ledger
	environment Environment
	health      map[string]storage.HealthChecker
	logger      *observability.Logger
	router      *mux.Router
}

// NewServer creates a new API server
func NewServer(deps Deps) (*Server, error) {
	if deps.Collector == nil || deps.Ledger == nil {
		return nil, errors.New("api: collector and ledger are required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	s := &Server{
		collector:   deps.Collector,
		navigator:   deps.Navigator,
		metrics:     deps.Metrics,
		ledger:      deps.Ledger,
		environment: deps.Environment,
		health:      deps.Health,
		logger:      deps.Logger.WithComponent("api"),
		router:      mux.NewRouter(),
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Consent
	s.router.HandleFunc("/v1/consent", s.getConsent).Methods("GET")
	s.router.HandleFunc("/v1/consent", s.putConsent).Methods("PUT")

	// Captures
	s.router.HandleFunc("/v1/pageviews", s.trackPageView).Methods("POST")
	s.router.HandleFunc("/v1/events", s.trackEvent).Methods("POST")

	// Host state
	s.router.HandleFunc("/v1/environment", s.getEnvironment).Methods("GET")
	s.router.HandleFunc("/v1/environment", s.putEnvironment).Methods("PUT")
	s.router.HandleFunc("/v1/session", s.getSession).Methods("GET")

	// Derived metrics
	s.router.HandleFunc("/v1/metrics", s.getMetrics).Methods("GET") // ?refresh=true recomputes first
	s.router.HandleFunc("/v1/metrics/refresh", s.refreshMetrics).Methods("POST")

	// Data access and erasure
	s.router.HandleFunc("/v1/export", s.exportData).Methods("GET")
	s.router.HandleFunc("/v1/records/{kind}", s.getRecords).Methods("GET")
	s.router.HandleFunc("/v1/data", s.eraseData).Methods("DELETE")

	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")

	if s.navigator != nil {
		s.router.HandleFunc("/v1/navigation", s.navigate).Methods("POST")
	}
}

// requestLogger prefers the logger the middleware stored in the request, so
// entries carry the request and session IDs.
func (s *Server) requestLogger(r *http.Request) *observability.Logger {
	ctx := r.Context()
	if _, ok := ctx.Value(observability.LoggerKey).(*observability.Logger); !ok {
		return s.logger
	}
	if info, ok := s.collector.SessionInfo(); ok {
		ctx = observability.WithSessionID(ctx, info.SessionID)
	}
	return observability.FromContext(ctx).WithComponent("api")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the router so the daemon can mount extra handlers.
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteName maps a request onto its route template, for metric labels.
// Unmatched requests map to "unmatched".
func (s *Server) RouteName(r *http.Request) string {
	var match mux.RouteMatch
	if !s.router.Match(r, &match) || match.Route == nil {
		return "unmatched"
	}
	tpl, err := match.Route.GetPathTemplate()
	if err != nil {
		return "unmatched"
	}
	return tpl
}
