package memoryhost

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/mcp-tasks-go/sessions"
	"github.com/ggoodman/mcp-tasks-go/sessions/sessionhosttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionHost(t *testing.T) {
	sessionhosttest.RunSessionHostTests(t, func(t *testing.T) sessions.SessionHost {
		return New()
	})
}

func TestComputeRunsClosureOnce(t *testing.T) {
	ctx := context.Background()
	h := New()
	require.NoError(t, h.CreateSession(ctx, "s"))

	var calls atomic.Int64
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ComputeValue(ctx, "s", "k", "n", func(cur []byte, ok bool) ([]byte, bool, error) {
				calls.Add(1)
				return append(cur, 'x'), true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(16), calls.Load())
	v, ok, err := h.GetValue(ctx, "s", "k", "n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, v, 16)
}

func TestDeleteSessionReleasesWaiters(t *testing.T) {
	ctx := context.Background()
	h := New()
	require.NoError(t, h.CreateSession(ctx, "s"))
	v, ok, err := h.Version(ctx, "s")
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() { done <- h.AwaitChange(ctx, "s", v) }()

	time.Sleep(10 * time.Millisecond)
	deleted, err := h.DeleteSession(ctx, "s")
	require.NoError(t, err)
	require.True(t, deleted)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by DeleteSession")
	}
}
