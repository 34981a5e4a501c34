package tasks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-tasks-go/sessions"
	"github.com/ggoodman/mcp-tasks-go/sessions/memoryhost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestReaperSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	host := memoryhost.New()
	ctrl := NewController(host, WithClock(clock.Now))
	reaper := NewReaper(ctrl, WithDefaultTTL(time.Hour), WithAbandonedAfter(24*time.Hour))

	require.NoError(t, host.CreateSession(ctx, "s1"))

	short := time.Minute
	doneShort, err := ctrl.CreateTask(ctx, "s1", &short)
	require.NoError(t, err)
	doneDefault, err := ctrl.CreateTask(ctx, "s1", nil)
	require.NoError(t, err)
	running, err := ctrl.CreateTask(ctx, "s1", nil)
	require.NoError(t, err)
	require.NoError(t, ctrl.EndTask(ctx, doneShort, OutcomeCompleted, nil, ""))
	require.NoError(t, ctrl.EndTask(ctx, doneDefault, OutcomeCompleted, nil, ""))

	clock.Advance(2 * time.Minute)
	stats, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Sessions)
	assert.Equal(t, int64(1), stats.Expired)
	assert.Zero(t, stats.Abandoned)
	assertExists(t, ctrl, doneShort, false)
	assertExists(t, ctrl, doneDefault, true)
	assertExists(t, ctrl, running, true)

	clock.Advance(time.Hour)
	stats, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Expired)
	assertExists(t, ctrl, doneDefault, false)
	assertExists(t, ctrl, running, true)

	clock.Advance(24 * time.Hour)
	stats, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Abandoned)
	assertExists(t, ctrl, running, false)
}

func TestReaperPagesAcrossSessionsAndShards(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	host := memoryhost.New()
	ctrl := NewController(host, WithClock(clock.Now))

	const nSessions, perSession = 7, 120
	for i := 0; i < nSessions; i++ {
		sid := fmt.Sprintf("s-%d", i)
		require.NoError(t, host.CreateSession(ctx, sid))
		for j := 0; j < perSession; j++ {
			_, err := ctrl.CreateTask(ctx, sid, nil)
			require.NoError(t, err)
		}
	}
	clock.Advance(48 * time.Hour)

	var total int64
	for idx := 0; idx < 2; idx++ {
		r := NewReaper(ctrl, WithReaperShard(sessions.Shard{Index: idx, Count: 2}), WithReaperConcurrency(3))
		stats, err := r.Sweep(ctx)
		require.NoError(t, err)
		total += stats.Abandoned
	}
	assert.Equal(t, int64(nSessions*perSession), total)

	for i := 0; i < nSessions; i++ {
		page, _, err := ctrl.ListTasks(ctx, fmt.Sprintf("s-%d", i), 10, "")
		require.NoError(t, err)
		assert.Empty(t, page)
	}
}

func assertExists(t *testing.T, ctrl *Controller, id string, want bool) {
	t.Helper()
	_, ok, err := ctrl.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, want, ok, "task %s existence", id)
}
