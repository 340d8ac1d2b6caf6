package async

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/glimpse/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), nil, time.Second, "panicky", func(ctx context.Context) error {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestGroup_WaitsForTasks(t *testing.T) {
	var buf bytes.Buffer
	g := NewGroup(observability.NewLogger(observability.InfoLevel, &buf), time.Second)

	var count int32
	for i := 0; i < 5; i++ {
		g.Go(context.Background(), "inc", func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
	}
	g.Go(context.Background(), "failing", func(ctx context.Context) error {
		return errors.New("unreachable sink")
	})

	require.NoError(t, g.Wait(context.Background()))
	assert.EqualValues(t, 5, atomic.LoadInt32(&count))
	assert.True(t, strings.Contains(buf.String(), "unreachable sink"))
}

func TestGroup_DetachesFromCallerCancel(t *testing.T) {
	g := NewGroup(nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawErr error
	g.Go(ctx, "detached", func(taskCtx context.Context) error {
		sawErr = taskCtx.Err()
		return nil
	})
	require.NoError(t, g.Wait(context.Background()))
	assert.NoError(t, sawErr)
}

func TestGroup_WaitHonorsContext(t *testing.T) {
	g := NewGroup(nil, time.Second)
	release := make(chan struct{})
	g.Go(context.Background(), "blocked", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)
	close(release)
}
