package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/storage"
)

type fakeRecorder struct {
	mu           sync.Mutex
	aggregations int
	sizes        map[string]int
}

func (f *fakeRecorder) ObserveAggregation(context.Context, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggregations++
}

func (f *fakeRecorder) SetLedgerSize(_ context.Context, collection string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sizes == nil {
		f.sizes = map[string]int{}
	}
	f.sizes[collection] = n
}

type failingSource struct{}

func (failingSource) Snapshot(context.Context) (ledger.Snapshot, error) {
	return ledger.Snapshot{}, errors.New("storage offline")
}

func TestPoller_EagerThenOnTick(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	trap := mClock.Trap().TickerFunc("poller")
	defer trap.Close()

	l := ledger.New(storage.NewMemoryKV(), ledger.DefaultConfig(), nil)
	require.NoError(t, l.AppendPageView(ctx, ledger.PageView{SessionID: "s1", Path: "/", Timestamp: mClock.Now()}))

	rec := &fakeRecorder{}
	p := NewPoller(l, PollerConfig{}, mClock, nil, rec)
	_, ok := p.Latest()
	assert.False(t, ok)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- p.Run(runCtx) }()

	call := trap.MustWait(ctx)
	assert.Equal(t, DefaultPollInterval, call.Duration)
	call.MustRelease(ctx)

	m, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, 1, m.PageViews)

	require.NoError(t, l.AppendPageView(ctx, ledger.PageView{SessionID: "s2", Path: "/docs", Timestamp: mClock.Now()}))
	mClock.Advance(DefaultPollInterval).MustWait(ctx)

	m, _ = p.Latest()
	assert.Equal(t, 2, m.PageViews)
	assert.Equal(t, 2, m.TotalVisitors)

	rec.mu.Lock()
	assert.Equal(t, 2, rec.aggregations)
	assert.Equal(t, 2, rec.sizes["pageviews"])
	assert.Equal(t, 0, rec.sizes["sessions"])
	rec.mu.Unlock()

	stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("poller did not stop")
	}
}

func TestPoller_RefreshError(t *testing.T) {
	p := NewPoller(failingSource{}, PollerConfig{Interval: time.Second}, quartz.NewMock(t), nil, nil)
	_, err := p.Refresh(context.Background())
	assert.Error(t, err)
	_, ok := p.Latest()
	assert.False(t, ok)
}
