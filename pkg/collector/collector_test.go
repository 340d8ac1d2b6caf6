package collector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/glimpse/pkg/beacon"
	"github.com/platinummonkey/glimpse/pkg/consent"
	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/navigation"
	"github.com/platinummonkey/glimpse/pkg/observability"
	"github.com/platinummonkey/glimpse/pkg/session"
	"github.com/platinummonkey/glimpse/pkg/storage"
)

const chromeDesktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

type captureSink struct {
	mu   sync.Mutex
	sent []beacon.Payload
}

func (s *captureSink) Send(_ context.Context, p beacon.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, p)
}

func (s *captureSink) payloads() []beacon.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]beacon.Payload(nil), s.sent...)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordCapture(_ context.Context, kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[kind+"/"+outcome]++
}

func (r *countingRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

// flakyKV fails writes to the listed keys.
type flakyKV struct {
	storage.KV
	mu   sync.Mutex
	fail map[string]bool
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	failing := f.fail[key]
	f.mu.Unlock()
	if failing {
		return errors.New("quota exceeded")
	}
	return f.KV.Set(ctx, key, value)
}

func (f *flakyKV) failKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[key] = true
}

type staticIdentity string

func (s staticIdentity) UserID(context.Context) string { return string(s) }

type fixture struct {
	c        *Collector
	kv       *flakyKV
	consent  *consent.Store
	ledger   *ledger.Ledger
	env      *HostEnvironment
	sink     *captureSink
	recorder *countingRecorder
	clock    *quartz.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := &flakyKV{KV: storage.NewMemoryKV(), fail: map[string]bool{}}
	clock := quartz.NewMock(t)
	f := &fixture{
		kv:       kv,
		consent:  consent.NewStore(kv, consent.WithClock(clock)),
		ledger:   ledger.New(kv, ledger.DefaultConfig(), nil),
		env:      NewHostEnvironment(EnvironmentState{UserAgent: chromeDesktopUA, ScreenWidth: 1920, ScreenHeight: 1080, Path: "/", Title: "Home"}),
		sink:     &captureSink{},
		recorder: &countingRecorder{},
		clock:    clock,
	}
	c, err := New(Options{
		Consent:     f.consent,
		Ledger:      f.ledger,
		Environment: f.env,
		Identity:    staticIdentity("user-7"),
		Beacon:      f.sink,
		Recorder:    f.recorder,
		Clock:       clock,
		Logger:      observability.NewNopLogger(),
	})
	require.NoError(t, err)
	f.c = c
	return f
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Consent: consent.NewStore(storage.NewMemoryKV())})
	assert.Error(t, err)
}

func TestTrackPageView_SuppressedWithoutConsent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.c.Start(ctx))
	pv, err := f.c.TrackPageView(ctx, "/pricing", "")
	require.NoError(t, err)
	assert.Nil(t, pv)

	ev, err := f.c.TrackEvent(ctx, "signup_click", nil, "")
	require.NoError(t, err)
	assert.Nil(t, ev)

	counts, err := f.ledger.Counts(ctx)
	require.NoError(t, err)
	for kind, n := range counts {
		assert.Zero(t, n, kind)
	}
	_, ok := f.c.SessionInfo()
	assert.False(t, ok)
	assert.Equal(t, 1, f.recorder.get("pageview/suppressed"))
	assert.Equal(t, 1, f.recorder.get("event/suppressed"))
}

func TestTrackPageView_RejectedConsentSuppresses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.c.TrackConsent(ctx, consent.RejectAll())
	require.NoError(t, err)
	assert.False(t, rec.Analytics)
	assert.Empty(t, rec.SessionID)

	pv, err := f.c.TrackPageView(ctx, "/", "")
	require.NoError(t, err)
	assert.Nil(t, pv)

	pvs, err := f.ledger.PageViews(ctx)
	require.NoError(t, err)
	assert.Empty(t, pvs)
	consents, err := f.ledger.Consents(ctx)
	require.NoError(t, err)
	assert.Len(t, consents, 1, "consent audit is never gated")
}

func TestTrackPageView_EnrichesRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.consent.Set(ctx, consent.AcceptAll())
	require.NoError(t, err)
	require.NoError(t, f.c.Start(ctx))

	f.env.Update(func(s *EnvironmentState) {
		s.Referrer = "https://news.example"
		s.Country = "NZ"
	})
	pv, err := f.c.TrackPageView(ctx, "", "")
	require.NoError(t, err)
	require.NotNil(t, pv)

	assert.True(t, strings.HasPrefix(pv.ID, "pv_"))
	assert.Equal(t, "/", pv.Path)
	assert.Equal(t, "Home", pv.Title)
	assert.Equal(t, "desktop", pv.DeviceType)
	assert.Equal(t, "Chrome", pv.Browser)
	assert.Equal(t, "Windows", pv.OS)
	assert.Equal(t, 1920, pv.ScreenWidth)
	assert.Equal(t, 1080, pv.ScreenHeight)
	assert.Equal(t, "NZ", pv.Country)
	assert.Equal(t, "https://news.example", pv.Referrer)
	assert.Equal(t, "user-7", pv.UserID)

	info, ok := f.c.SessionInfo()
	require.True(t, ok)
	assert.Equal(t, info.SessionID, pv.SessionID)
	assert.Equal(t, 1, info.PageCount)
	assert.True(t, info.IsBounce)

	_, err = f.c.TrackPageView(ctx, "/pricing", "Pricing")
	require.NoError(t, err)
	info, _ = f.c.SessionInfo()
	assert.Equal(t, 2, info.PageCount)
	assert.False(t, info.IsBounce)

	sessions, err := f.ledger.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].PageCount)
	assert.False(t, sessions[0].IsBounce)
	assert.Equal(t, 2, f.recorder.get("pageview/recorded"))
	assert.Equal(t, 1, f.recorder.get("session/recorded"))
}

func TestTrackEvent_DoesNotCountAsPageView(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.consent.Set(ctx, consent.AcceptAll())
	require.NoError(t, err)

	payload := map[string]interface{}{"plan": "pro"}
	ev, err := f.c.TrackEvent(ctx, "upgrade", payload, "")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.True(t, strings.HasPrefix(ev.ID, "evt_"))
	assert.Equal(t, "/", ev.Path)
	assert.Equal(t, "pro", ev.Payload["plan"])

	payload["plan"] = "mutated"
	events, err := f.ledger.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "pro", events[0].Payload["plan"])

	info, ok := f.c.SessionInfo()
	require.True(t, ok, "first permitted capture starts the session")
	assert.Equal(t, 0, info.PageCount)

	_, err = f.c.TrackEvent(ctx, "", nil, "")
	assert.Error(t, err)
}

func TestTrackConsent_NewGrantTracksCurrentPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.env.Update(func(s *EnvironmentState) { s.Path = "/docs" })

	rec, err := f.c.TrackConsent(ctx, consent.AcceptAll())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.ID, "consent_"))
	assert.True(t, rec.Necessary)
	assert.NotEmpty(t, rec.SessionID)

	pvs, err := f.ledger.PageViews(ctx)
	require.NoError(t, err)
	require.Len(t, pvs, 1)
	assert.Equal(t, "/docs", pvs[0].Path)
	assert.Equal(t, rec.SessionID, pvs[0].SessionID)

	_, err = f.c.TrackConsent(ctx, consent.AcceptAll())
	require.NoError(t, err)
	pvs, err = f.ledger.PageViews(ctx)
	require.NoError(t, err)
	assert.Len(t, pvs, 1, "re-granting does not track again")

	stored, err := f.c.ConsentDecision(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Analytics)
}

func TestTrackConsent_LocationOverridesEnvironment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.c.location = func() string { return "/from-history" }

	_, err := f.c.TrackConsent(ctx, consent.Decision{Analytics: true})
	require.NoError(t, err)
	pvs, err := f.ledger.PageViews(ctx)
	require.NoError(t, err)
	require.Len(t, pvs, 1)
	assert.Equal(t, "/from-history", pvs[0].Path)
}

func TestTrackPageView_PersistenceFailureIsWarning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.consent.Set(ctx, consent.AcceptAll())
	require.NoError(t, err)
	require.NoError(t, f.c.Start(ctx))

	f.kv.failKey(ledger.KindPageViews.StorageKey())
	pv, err := f.c.TrackPageView(ctx, "/full", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	require.NotNil(t, pv, "record is still returned")
	assert.Equal(t, "/full", pv.Path)

	info, _ := f.c.SessionInfo()
	assert.Equal(t, 1, info.PageCount, "in-memory count keeps the increment")
	assert.Equal(t, 1, f.recorder.get("pageview/persist_failed"))
}

func TestShutdown_SendsBeaconOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.consent.Set(ctx, consent.AcceptAll())
	require.NoError(t, err)
	require.NoError(t, f.c.Start(ctx))

	_, err = f.c.TrackPageView(ctx, "/", "")
	require.NoError(t, err)
	f.env.Update(func(s *EnvironmentState) { s.Path = "/checkout" })
	_, err = f.c.TrackPageView(ctx, "", "")
	require.NoError(t, err)

	f.clock.Advance(42 * time.Second).MustWait(ctx)
	require.NoError(t, f.c.Shutdown(ctx))
	require.NoError(t, f.c.Shutdown(ctx))

	sent := f.sink.payloads()
	require.Len(t, sent, 1)
	assert.Equal(t, 2, sent[0].PageCount)
	assert.False(t, sent[0].Bounce)
	assert.EqualValues(t, 42, sent[0].Duration)
	assert.Equal(t, "/checkout", sent[0].ExitPath)

	sessions, err := f.ledger.Sessions(ctx)
	require.NoError(t, err)
	require.NotNil(t, sessions[0].EndedAt)
	assert.EqualValues(t, 42, *sessions[0].DurationSeconds)

	info, _ := f.c.SessionInfo()
	assert.Equal(t, session.Finalized, info.State)
}

func TestShutdown_ExitPathFollowsNotifiedNavigation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	history := navigation.NewMemoryHistory("/")
	f.c.location = history.Location
	w := navigation.NewWatcher(history, f.c, navigation.Inline, nil)

	_, err := f.consent.Set(ctx, consent.AcceptAll())
	require.NoError(t, err)
	require.NoError(t, f.c.Start(ctx))
	require.NoError(t, w.NotifyNavigation(ctx, "/pricing"))

	ev, err := f.c.TrackEvent(ctx, "click", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "/pricing", ev.Path)

	require.NoError(t, f.c.Shutdown(ctx))
	sent := f.sink.payloads()
	require.Len(t, sent, 1)
	assert.Equal(t, "/pricing", sent[0].ExitPath)

	sessions, err := f.ledger.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "/pricing", sessions[0].ExitPath)
}

func TestShutdown_WithoutSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Shutdown(context.Background()))
	assert.Empty(t, f.sink.payloads())
}

func TestShutdown_FailedFinalWriteStillSignals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.consent.Set(ctx, consent.AcceptAll())
	require.NoError(t, err)
	require.NoError(t, f.c.Start(ctx))

	f.kv.failKey(ledger.KindSessions.StorageKey())
	err = f.c.Shutdown(ctx)
	assert.Error(t, err)
	assert.Len(t, f.sink.payloads(), 1)
	assert.Equal(t, 1, f.recorder.get("session/persist_failed"))
}

func TestCollector_ConcurrentCaptures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.consent.Set(ctx, consent.AcceptAll())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.c.TrackPageView(ctx, "/", "")
			_, _ = f.c.TrackEvent(ctx, "tick", nil, "")
		}()
	}
	wg.Wait()

	counts, err := f.ledger.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, counts[ledger.KindPageViews])
	assert.Equal(t, 20, counts[ledger.KindEvents])
	assert.Equal(t, 1, counts[ledger.KindSessions])

	info, _ := f.c.SessionInfo()
	assert.Equal(t, 20, info.PageCount)
}
