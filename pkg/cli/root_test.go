package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/glimpse/pkg/analytics"
	"github.com/platinummonkey/glimpse/pkg/api"
	"github.com/platinummonkey/glimpse/pkg/consent"
	"github.com/platinummonkey/glimpse/pkg/httputil"
	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/session"
)

// fakeAgent answers the host API with canned responses and records what it
// was sent.
type fakeAgent struct {
	consent   *consent.Decision
	session   *session.Summary
	suppress  bool
	lastBody  map[string]interface{}
	lastQuery string
	erased    bool
}

func (f *fakeAgent) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/metrics", func(w http.ResponseWriter, r *http.Request) {
		_ = httputil.WriteJSON(w, http.StatusOK, analytics.Metrics{
			TotalVisitors: 2,
			PageViews:     4,
			AvgSession:    "1m 5s",
			BounceRate:    "50%",
			TopPages:      []analytics.PageStat{{Path: "/pricing", Views: 3, Percentage: 75}},
			DeviceStats:   []analytics.DeviceStat{{Device: "Desktop", Percentage: 100}},
			RecentEvents:  []analytics.Activity{{Time: "2 minutes ago", Event: "Page view", Page: "/pricing", Location: "Unknown"}},
		})
	})
	mux.HandleFunc("GET /v1/consent", func(w http.ResponseWriter, r *http.Request) {
		_ = httputil.WriteJSON(w, http.StatusOK, api.ConsentStatus{Decision: f.consent, Prompt: f.consent == nil})
	})
	mux.HandleFunc("PUT /v1/consent", func(w http.ResponseWriter, r *http.Request) {
		var req api.ConsentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.consent = &consent.Decision{Necessary: true, Analytics: req.Analytics, Marketing: req.Marketing}
		_ = httputil.WriteJSON(w, http.StatusOK, api.ConsentResponse{Record: &ledger.ConsentRecord{
			ID: "consent_1", Necessary: true, Analytics: req.Analytics, Marketing: req.Marketing,
		}})
	})
	mux.HandleFunc("POST /v1/events", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		if f.suppress {
			_ = httputil.WriteAccepted(w, api.SuppressedResponse{Suppressed: true})
			return
		}
		_ = httputil.WriteCreated(w, api.CaptureResponse{Record: map[string]string{"id": "event_1"}})
	})
	mux.HandleFunc("POST /v1/pageviews", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		_ = httputil.WriteJSON(w, http.StatusOK, api.CaptureResponse{Record: map[string]string{"id": "pageview_1"}, Warning: "quota exceeded"})
	})
	mux.HandleFunc("POST /v1/navigation", func(w http.ResponseWriter, r *http.Request) {
		var req api.NavigationRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Action == api.NavBack {
			httputil.WriteErrorMessage(w, http.StatusConflict, "navigation: cannot traverse history")
			return
		}
		_ = httputil.WriteAccepted(w, api.NavigationResponse{Action: req.Action, Location: req.Path})
	})
	mux.HandleFunc("GET /v1/session", func(w http.ResponseWriter, r *http.Request) {
		if f.session == nil {
			httputil.WriteNotFoundError(w, "no session has started")
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, f.session)
	})
	mux.HandleFunc("GET /v1/export", func(w http.ResponseWriter, r *http.Request) {
		f.lastQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("Kind,ID\npageview,pageview_1\n"))
	})
	mux.HandleFunc("DELETE /v1/data", func(w http.ResponseWriter, r *http.Request) {
		f.erased = true
		httputil.WriteNoContent(w)
	})
	return mux
}

func runCLI(t *testing.T, agent *fakeAgent, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(agent.handler())
	t.Cleanup(srv.Close)
	t.Setenv("GLIMPSE_AGENT_URL", srv.URL)

	var out bytes.Buffer
	err := NewRootCommand(&out).Execute(args)
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand(nil)

	assert.Equal(t, "glimpse-cli", root.Name)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{"report", "consent", "track", "navigate", "export", "erase", "status"}
	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "Expected subcommand %s to be registered", cmdName)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, NewRootCommand(&out).Execute(nil))
	assert.Contains(t, out.String(), "Usage: glimpse-cli <command> [args]")
	assert.Contains(t, out.String(), "report")
	assert.Contains(t, out.String(), "erase")
}

func TestExecute_UnknownCommand(t *testing.T) {
	err := NewRootCommand(&bytes.Buffer{}).Execute([]string{"frobnicate"})
	assert.EqualError(t, err, "unknown command: frobnicate")
}

func TestReport(t *testing.T) {
	out, err := runCLI(t, &fakeAgent{}, "report")
	require.NoError(t, err)
	assert.Contains(t, out, "Visitors")
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "/pricing")
	assert.Contains(t, out, "2 minutes ago")
}

func TestConsent(t *testing.T) {
	agent := &fakeAgent{}

	out, err := runCLI(t, agent, "consent")
	require.NoError(t, err)
	assert.Contains(t, out, "will be prompted")

	out, err = runCLI(t, agent, "consent", "set", "--analytics")
	require.NoError(t, err)
	assert.Contains(t, out, "analytics=true marketing=false")
	require.NotNil(t, agent.consent)
	assert.True(t, agent.consent.Analytics)

	_, err = runCLI(t, agent, "consent", "reject-all")
	require.NoError(t, err)
	assert.False(t, agent.consent.Analytics)

	_, err = runCLI(t, agent, "consent", "maybe")
	assert.Error(t, err)
}

func TestTrack(t *testing.T) {
	agent := &fakeAgent{}

	out, err := runCLI(t, agent, "track", "--event", "signup_click", "--data", `{"plan":"pro"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Captured event_1")
	assert.Equal(t, "signup_click", agent.lastBody["name"])
	assert.Equal(t, map[string]interface{}{"plan": "pro"}, agent.lastBody["data"])

	out, err = runCLI(t, agent, "track", "--path", "/pricing")
	require.NoError(t, err)
	assert.Contains(t, out, "not persisted: quota exceeded")

	agent.suppress = true
	out, err = runCLI(t, agent, "track", "--event", "x")
	require.NoError(t, err)
	assert.Contains(t, out, "Suppressed")

	_, err = runCLI(t, agent, "track")
	assert.Error(t, err)

	_, err = runCLI(t, agent, "track", "--event", "x", "--data", "{")
	assert.Error(t, err)
}

func TestNavigate(t *testing.T) {
	out, err := runCLI(t, &fakeAgent{}, "navigate", "push", "/docs")
	require.NoError(t, err)
	assert.Equal(t, "push -> /docs\n", out)

	_, err = runCLI(t, &fakeAgent{}, "navigate", "back")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot traverse history")
}

func TestExport(t *testing.T) {
	agent := &fakeAgent{}

	out, err := runCLI(t, agent, "export", "--format", "csv")
	require.NoError(t, err)
	assert.Equal(t, "Kind,ID\npageview,pageview_1\n", out)
	assert.Equal(t, "format=csv", agent.lastQuery)

	path := filepath.Join(t.TempDir(), "export.csv")
	_, err = runCLI(t, agent, "export", "--format", "csv", "--out", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Kind,ID\npageview,pageview_1\n", string(data))
}

func TestErase(t *testing.T) {
	agent := &fakeAgent{}

	_, err := runCLI(t, agent, "erase")
	assert.Error(t, err)
	assert.False(t, agent.erased)

	out, err := runCLI(t, agent, "erase", "--yes")
	require.NoError(t, err)
	assert.True(t, agent.erased)
	assert.Contains(t, out, "cleared")
}

func TestStatus(t *testing.T) {
	agent := &fakeAgent{}
	out, err := runCLI(t, agent, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not decided")
	assert.Contains(t, out, "Session:  none")

	agent.consent = &consent.Decision{Necessary: true, Analytics: true}
	agent.session = &session.Summary{SessionID: "session_1", State: "live", PageCount: 3, DurationSeconds: 42}
	out, err = runCLI(t, agent, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "analytics allowed")
	assert.Contains(t, out, "session_1 (live)")
	assert.Contains(t, out, "Pages:    3")
}
