package export

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/glimpse/pkg/ledger"
)

type staticSource struct {
	snap ledger.Snapshot
	err  error
}

func (s staticSource) Snapshot(context.Context) (ledger.Snapshot, error) { return s.snap, s.err }

func TestNewScheduler_RejectsBadSchedule(t *testing.T) {
	_, err := NewScheduler("every tuesday", staticSource{}, NewArchiver(&fakePutter{}, "b", "", nil), FormatJSON, nil)
	assert.Error(t, err)
}

func TestScheduler_RunOnce(t *testing.T) {
	mClock := quartz.NewMock(t)
	mClock.Set(ts)
	putter := &fakePutter{}

	s, err := NewScheduler("0 3 * * *", staticSource{snap: sampleSnapshot()}, NewArchiver(putter, "telemetry", "nightly", mClock), FormatCSV, nil)
	require.NoError(t, err)

	key, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nightly/glimpse-20260504T093000Z.csv", key)
	assert.True(t, strings.HasPrefix(string(putter.body), "Kind,ID,"))
}

func TestScheduler_RunOnceSourceError(t *testing.T) {
	putter := &fakePutter{}
	s, err := NewScheduler("@hourly", staticSource{err: errors.New("storage offline")}, NewArchiver(putter, "b", "", nil), FormatJSON, nil)
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "storage offline")
	assert.Nil(t, putter.input, "nothing uploaded")
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler("@daily", staticSource{}, NewArchiver(&fakePutter{}, "b", "", nil), FormatJSON, nil)
	require.NoError(t, err)
	s.Start()
	assert.NoError(t, s.Stop(context.Background()))
}
