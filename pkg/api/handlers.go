package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/glimpse/pkg/collector"
	"github.com/platinummonkey/glimpse/pkg/consent"
	"github.com/platinummonkey/glimpse/pkg/export"
	"github.com/platinummonkey/glimpse/pkg/httputil"
	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/navigation"
)

// getConsent handles GET /v1/consent
func (s *Server) getConsent(w http.ResponseWriter, r *http.Request) {
	d, err := s.collector.ConsentDecision(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, ConsentStatus{Decision: d, Prompt: d == nil})
}

// putConsent handles PUT /v1/consent
func (s *Server) putConsent(w http.ResponseWriter, r *http.Request) {
	var req ConsentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	rec, err := s.collector.TrackConsent(r.Context(), consent.Decision{
		Necessary: true,
		Analytics: req.Analytics,
		Marketing: req.Marketing,
	})
	if rec == nil {
		httputil.WriteInternalError(w, err)
		return
	}
	resp := ConsentResponse{Record: rec}
	if err != nil {
		resp.Warning = err.Error()
	}
	_ = httputil.WriteJSON(w, http.StatusOK, resp)
}

// trackPageView handles POST /v1/pageviews
func (s *Server) trackPageView(w http.ResponseWriter, r *http.Request) {
	var req TrackPageViewRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	pv, err := s.collector.TrackPageView(r.Context(), req.Path, req.Title)
	writeCapture(w, pv, err)
}

// trackEvent handles POST /v1/events
func (s *Server) trackEvent(w http.ResponseWriter, r *http.Request) {
	var req TrackEventRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	ev, err := s.collector.TrackEvent(r.Context(), req.Name, req.Data, req.Path)
	writeCapture(w, ev, err)
}

// writeCapture answers a capture: 201 when stored, 200 with a warning when
// built but not stored, 202 when suppressed by the consent gate.
func writeCapture[T any](w http.ResponseWriter, rec *T, err error) {
	switch {
	case rec == nil && err == nil:
		_ = httputil.WriteAccepted(w, SuppressedResponse{Suppressed: true})
	case rec == nil:
		httputil.WriteInternalError(w, err)
	case err != nil:
		_ = httputil.WriteJSON(w, http.StatusOK, CaptureResponse{Record: rec, Warning: err.Error()})
	default:
		_ = httputil.WriteCreated(w, CaptureResponse{Record: rec})
	}
}

// navigate handles POST /v1/navigation
func (s *Server) navigate(w http.ResponseWriter, r *http.Request) {
	var req NavigationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()

	switch req.Action {
	case NavPush, NavReplace, NavNotify:
		if !httputil.RequireNonEmpty(w, req.Path, "path") {
			return
		}
	}

	var err error
	switch req.Action {
	case NavPush:
		s.navigator.Push(ctx, req.Path)
	case NavReplace:
		s.navigator.Replace(ctx, req.Path)
	case NavBack:
		err = s.navigator.Go(-1)
	case NavForward:
		err = s.navigator.Go(1)
	case NavNotify:
		err = s.navigator.NotifyNavigation(ctx, req.Path)
	default:
		httputil.WriteBadRequest(w, fmt.Sprintf("unknown navigation action %q", req.Action))
		return
	}
	if errors.Is(err, navigation.ErrCannotTraverse) {
		httputil.WriteError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.requestLogger(r).WithError(err).Warn("navigation capture not persisted")
	}

	_ = httputil.WriteJSON(w, http.StatusAccepted, NavigationResponse{
		Action:   req.Action,
		Location: s.navigator.LastPath(),
	})
}

// getEnvironment handles GET /v1/environment
func (s *Server) getEnvironment(w http.ResponseWriter, r *http.Request) {
	if s.environment == nil {
		httputil.WriteNotFoundError(w, "environment is not host-managed")
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, s.environment.State())
}

// putEnvironment handles PUT /v1/environment
func (s *Server) putEnvironment(w http.ResponseWriter, r *http.Request) {
	if s.environment == nil {
		httputil.WriteNotFoundError(w, "environment is not host-managed")
		return
	}
	var req EnvironmentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	s.environment.Update(func(st *collector.EnvironmentState) {
		setIf(&st.UserAgent, req.UserAgent)
		setIf(&st.ScreenWidth, req.ScreenWidth)
		setIf(&st.ScreenHeight, req.ScreenHeight)
		setIf(&st.Path, req.Path)
		setIf(&st.Title, req.Title)
		setIf(&st.Referrer, req.Referrer)
		setIf(&st.Country, req.Country)
	})
	_ = httputil.WriteJSON(w, http.StatusOK, s.environment.State())
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// getSession handles GET /v1/session
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	info, ok := s.collector.SessionInfo()
	if !ok {
		httputil.WriteNotFoundError(w, "no session has started")
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, info)
}

// getMetrics handles GET /v1/metrics. Before the first poll, or with
// ?refresh=true, it computes on demand.
func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		httputil.WriteServiceUnavailable(w, "metrics are not enabled")
		return
	}
	refresh, err := httputil.ParseQueryBool(r, "refresh", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if m, ok := s.metrics.Latest(); ok && !refresh {
		_ = httputil.WriteJSON(w, http.StatusOK, m)
		return
	}
	s.refreshMetrics(w, r)
}

// refreshMetrics handles POST /v1/metrics/refresh
func (s *Server) refreshMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		httputil.WriteServiceUnavailable(w, "metrics are not enabled")
		return
	}
	m, err := s.metrics.Refresh(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, m)
}

// exportData handles GET /v1/export?format=json|ndjson|csv
func (s *Server) exportData(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(httputil.ParseQueryString(r, "format", ""))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	snap, err := s.ledger.Snapshot(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, snap, format); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="glimpse-export.%s"`, format.Extension()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// getRecords handles GET /v1/records/{kind}
func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	name, err := httputil.ParsePathString(r, "kind")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	kind, err := ledger.ParseKind(name)
	if err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	recs, err := s.ledger.ReadAll(r.Context(), kind)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, recs)
}

// eraseData handles DELETE /v1/data. The consent decision is kept.
func (s *Server) eraseData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.ledger.ClearAll(ctx); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	log := s.requestLogger(r)
	log.Info("all analytics data cleared")
	if s.metrics != nil {
		if _, err := s.metrics.Refresh(ctx); err != nil {
			log.WithError(err).Warn("metrics refresh after erasure failed")
		}
	}
	httputil.WriteNoContent(w)
}

// healthz handles GET /healthz
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK
	for name, hc := range s.health {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(s.health))
		}
		if err := hc.Ping(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	_ = httputil.WriteJSON(w, status, resp)
}
