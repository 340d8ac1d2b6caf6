package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
	assert.NotNil(t, sm.logger)
}

func TestShutdown_RunsStepsInOrder(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)

	var order []string
	sm.RegisterShutdownFunc("finalize session", func(context.Context) error {
		order = append(order, "finalize")
		return nil
	})
	sm.RegisterShutdownFunc("beacon", func(context.Context) error {
		order = append(order, "beacon")
		return errors.New("unreachable")
	})
	sm.RegisterShutdownFunc("close storage", func(context.Context) error {
		order = append(order, "close")
		return nil
	})

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beacon: unreachable")
	assert.Equal(t, []string{"finalize", "beacon", "close"}, order)
}

func TestShutdown_DrainsServer(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(NewNopLogger(), server, time.Second)
	assert.NoError(t, sm.Shutdown(context.Background()))
}

func TestShutdown_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, 20*time.Millisecond)
	ran := false
	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sm.RegisterShutdownFunc("after", func(context.Context) error {
		ran = true
		return nil
	})

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.False(t, ran)
}

func TestWaitForShutdown_ContextCancel(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)
	called := make(chan struct{})
	sm.RegisterShutdownFunc("step", func(context.Context) error {
		close(called)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.WaitForShutdown(ctx))
	<-called
}
