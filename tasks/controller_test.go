package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/ggoodman/mcp-tasks-go/sessions"
	"github.com/ggoodman/mcp-tasks-go/sessions/memoryhost"
	"github.com/ggoodman/mcp-tasks-go/sessions/redishost"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hostFactory func(t *testing.T) sessions.SessionHost

var hosts = map[string]hostFactory{
	"memory": func(t *testing.T) sessions.SessionHost { return memoryhost.New() },
	"redis": func(t *testing.T) sessions.SessionHost {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return redishost.NewWithClient(client, redishost.WithWakeupPoll(50*time.Millisecond))
	},
}

// forEachHost runs fn against a fresh controller on every host
// implementation, with session "s1" already created.
func forEachHost(t *testing.T, fn func(t *testing.T, ctrl *Controller)) {
	for name, factory := range hosts {
		t.Run(name, func(t *testing.T) {
			h := factory(t)
			require.NoError(t, h.CreateSession(context.Background(), "s1"))
			fn(t, NewController(h))
		})
	}
}

func status(t *testing.T, ctrl *Controller, id string) mcp.TaskStatus {
	t.Helper()
	st, ok, err := ctrl.Status(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok, "task %s not found", id)
	return st
}

func TestEndToEndScenario(t *testing.T) {
	forEachHost(t, func(t *testing.T, ctrl *Controller) {
		ctx := context.Background()

		id, err := ctrl.CreateTask(ctx, "s1", nil)
		require.NoError(t, err)
		assert.Equal(t, mcp.TaskStatusWorking, status(t, ctrl, id))

		u1 := uuid.New()
		ok, err := ctrl.QueueMessage(ctx, id, &u1, string(mcp.ElicitationCreateMethod), []byte(`{"message":"?"}`))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, mcp.TaskStatusInputRequired, status(t, ctrl, id))

		ok, err = ctrl.SetResponse(ctx, id, u1, mcp.ClientResponse{Result: json.RawMessage(`"ok"`)})
		require.NoError(t, err)
		require.True(t, ok)

		var got mcp.ClientResponse
		ok, err = ctrl.TakeResponse(ctx, id, u1, func(r mcp.ClientResponse) { got = r })
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `"ok"`, string(got.Result))
		assert.Equal(t, mcp.TaskStatusWorking, status(t, ctrl, id))

		require.NoError(t, ctrl.EndTask(ctx, id, OutcomeCompleted, []byte(`{"done":true}`), "all good"))

		res, ok, err := ctrl.Finalize(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, OutcomeCompleted, res.Outcome)
		assert.Equal(t, "all good", res.StatusMessage)
		assert.JSONEq(t, `{"done":true}`, string(res.Payload))

		_, ok, err = ctrl.Finalize(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = ctrl.Status(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
		for _, kind := range []string{taskKind.Name(), requestsKind.Name(), responsesKind.Name()} {
			entries, err := ctrl.host.ListValues(ctx, "s1", kind, 10, "")
			require.NoError(t, err)
			assert.Empty(t, entries, "kind %s not cleaned up", kind)
		}
	})
}

func TestTerminalStatusIsAbsorbing(t *testing.T) {
	forEachHost(t, func(t *testing.T, ctrl *Controller) {
		ctx := context.Background()
		id, err := ctrl.CreateTask(ctx, "s1", nil)
		require.NoError(t, err)

		require.NoError(t, ctrl.EndTask(ctx, id, OutcomeFailed, nil, "boom"))
		assert.Equal(t, mcp.TaskStatusFailed, status(t, ctrl, id))

		err = ctrl.EndTask(ctx, id, OutcomeCompleted, nil, "")
		assert.True(t, errors.Is(err, ErrTaskEnded), "got %v", err)

		// A late request placeholder does not pull the task out of its terminal state.
		u := uuid.New()
		_, err = ctrl.QueueMessage(ctx, id, &u, "sampling/createMessage", nil)
		require.NoError(t, err)
		assert.Equal(t, mcp.TaskStatusFailed, status(t, ctrl, id))
	})
}

func TestEndTaskUnknown(t *testing.T) {
	forEachHost(t, func(t *testing.T, ctrl *Controller) {
		ctx := context.Background()
		err := ctrl.EndTask(ctx, Combine("s1", "missing"), OutcomeCompleted, nil, "")
		assert.True(t, errors.Is(err, ErrTaskNotFound), "got %v", err)

		err = ctrl.EndTask(ctx, Combine("gone", "missing"), OutcomeCompleted, nil, "")
		assert.True(t, errors.Is(err, ErrTaskNotFound), "got %v", err)

		err = ctrl.EndTask(ctx, "not-a-task-id", OutcomeCompleted, nil, "")
		assert.True(t, errors.Is(err, ErrInvalidTaskID), "got %v", err)
	})
}

func TestCreateTaskInMissingSession(t *testing.T) {
	forEachHost(t, func(t *testing.T, ctrl *Controller) {
		_, err := ctrl.CreateTask(context.Background(), "nope", nil)
		assert.True(t, errors.Is(err, sessions.ErrSessionNotFound), "got %v", err)
	})
}

func TestFinalizeBeforeEndIsNoop(t *testing.T) {
	forEachHost(t, func(t *testing.T, ctrl *Controller) {
		ctx := context.Background()
		id, err := ctrl.CreateTask(ctx, "s1", nil)
		require.NoError(t, err)

		_, ok, err := ctrl.Finalize(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, mcp.TaskStatusWorking, status(t, ctrl, id))

		_, ok, err = ctrl.Result(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestTakeMessagesDrainsInOrder(t *testing.T) {
	forEachHost(t, func(t *testing.T, ctrl *Controller) {
		ctx := context.Background()
		id, err := ctrl.CreateTask(ctx, "s1", nil)
		require.NoError(t, err)

		methods := []string{"notifications/progress", "elicitation/create", "notifications/message", "sampling/createMessage"}
		for i, m := range methods {
			var rid *uuid.UUID
			if i%2 == 1 {
				u := uuid.New()
				rid = &u
			}
			ok, err := ctrl.QueueMessage(ctx, id, rid, m, nil)
			require.NoError(t, err)
			require.True(t, ok)
		}

		var got []QueuedMessage
		n, err := ctrl.TakeMessages(ctx, id, func(m QueuedMessage) { got = append(got, m) })
		require.NoError(t, err)
		require.Equal(t, len(methods), n)
		for i, m := range got {
			assert.Equal(t, methods[i], m.Method)
			assert.Equal(t, i%2 == 1, m.IsRequest())
		}

		n, err = ctrl.TakeMessages(ctx, id, func(QueuedMessage) { t.Fatal("queue should be empty") })
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestQueueMessageOnMissingTask(t *testing.T) {
	forEachHost(t, func(t *testing.T, ctrl *Controller) {
		ctx := context.Background()
		u := uuid.New()
		ok, err := ctrl.QueueMessage(ctx, Combine("s1", "missing"), &u, "elicitation/create", nil)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = ctrl.QueueMessage(ctx, Combine("gone", "missing"), nil, "notifications/progress", nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestResponsesAreConsumedExactlyOnce(t *testing.T) {
	forEachHost(t, func(t *testing.T, ctrl *Controller) {
		ctx := context.Background()
		id, err := ctrl.CreateTask(ctx, "s1", nil)
		require.NoError(t, err)
		u := uuid.New()
		_, err = ctrl.QueueMessage(ctx, id, &u, "elicitation/create", nil)
		require.NoError(t, err)

		// Pending slot: nothing to take yet.
		ok, err := ctrl.TakeResponse(ctx, id, u, func(mcp.ClientResponse) { t.Fatal("consumer called for pending slot") })
		require.NoError(t, err)
		assert.False(t, ok)

		// Unknown request id cannot be filled.
		ok, err = ctrl.SetResponse(ctx, id, uuid.New(), mcp.ClientResponse{Result: json.RawMessage(`1`)})
		require.NoError(t, err)
		assert.False(t, ok)

		// Concurrent duplicate deliveries: exactly one wins.
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := ctrl.SetResponse(ctx, id, u, mcp.ClientResponse{Error: &mcp.ResponseError{Code: -1, Message: "declined"}})
				if err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, mcp.TaskStatusInputRequired, status(t, ctrl, id))

		calls := 0
		ok, err = ctrl.TakeResponse(ctx, id, u, func(r mcp.ClientResponse) {
			calls++
			assert.Equal(t, "declined", r.Error.Message)
		})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = ctrl.TakeResponse(ctx, id, u, func(mcp.ClientResponse) { calls++ })
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 1, calls)
		assert.Equal(t, mcp.TaskStatusWorking, status(t, ctrl, id))
	})
}

func TestInputRequiredUntilAllSlotsConsumed(t *testing.T) {
	forEachHost(t, func(t *testing.T, ctrl *Controller) {
		ctx := context.Background()
		id, err := ctrl.CreateTask(ctx, "s1", nil)
		require.NoError(t, err)
		a, b := uuid.New(), uuid.New()
		for _, u := range []uuid.UUID{a, b} {
			_, err := ctrl.QueueMessage(ctx, id, &u, "elicitation/create", nil)
			require.NoError(t, err)
		}
		for _, u := range []uuid.UUID{a, b} {
			ok, err := ctrl.SetResponse(ctx, id, u, mcp.ClientResponse{Result: json.RawMessage(`{}`)})
			require.NoError(t, err)
			require.True(t, ok)
		}
		_, err = ctrl.TakeResponse(ctx, id, a, func(mcp.ClientResponse) {})
		require.NoError(t, err)
		assert.Equal(t, mcp.TaskStatusInputRequired, status(t, ctrl, id))
		_, err = ctrl.TakeResponse(ctx, id, b, func(mcp.ClientResponse) {})
		require.NoError(t, err)
		assert.Equal(t, mcp.TaskStatusWorking, status(t, ctrl, id))
	})
}

func TestAwaitStatus(t *testing.T) {
	forEachHost(t, func(t *testing.T, ctrl *Controller) {
		ctx := context.Background()
		id, err := ctrl.CreateTask(ctx, "s1", nil)
		require.NoError(t, err)

		go func() {
			time.Sleep(100 * time.Millisecond)
			_ = ctrl.EndTask(ctx, id, OutcomeCancelled, nil, "stopped")
		}()
		st, ok, err := ctrl.AwaitStatus(ctx, id, 5*time.Second, Terminal)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, mcp.TaskStatusCancelled, st)

		other, err := ctrl.CreateTask(ctx, "s1", nil)
		require.NoError(t, err)
		st, ok, err = ctrl.AwaitStatus(ctx, other, 150*time.Millisecond, LeftWorking)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, mcp.TaskStatusWorking, st)

		_, ok, err = ctrl.AwaitStatus(ctx, Combine("s1", "missing"), time.Second, Terminal)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestListTasksPaginates(t *testing.T) {
	forEachHost(t, func(t *testing.T, ctrl *Controller) {
		ctx := context.Background()
		ttl := 30 * time.Second
		ids := map[string]bool{}
		for i := 0; i < 5; i++ {
			id, err := ctrl.CreateTask(ctx, "s1", &ttl)
			require.NoError(t, err)
			ids[id] = true
		}

		var all []mcp.Task
		cursor := ""
		for {
			page, next, err := ctrl.ListTasks(ctx, "s1", 2, cursor)
			require.NoError(t, err)
			all = append(all, page...)
			if next == "" {
				break
			}
			cursor = next
		}
		require.Len(t, all, 5)
		for _, task := range all {
			assert.True(t, ids[task.TaskID], "unexpected task %s", task.TaskID)
			assert.Equal(t, mcp.TaskStatusWorking, task.Status)
			require.NotNil(t, task.TTL)
			assert.Equal(t, int64(30000), *task.TTL)
		}
	})
}

func TestCancelAndRequestState(t *testing.T) {
	forEachHost(t, func(t *testing.T, ctrl *Controller) {
		ctx := context.Background()
		id, err := ctrl.CreateTask(ctx, "s1", nil)
		require.NoError(t, err)

		requested, err := ctrl.CancellationRequested(ctx, id)
		require.NoError(t, err)
		assert.False(t, requested)

		ok, err := ctrl.Cancel(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		requested, err = ctrl.CancellationRequested(ctx, id)
		require.NoError(t, err)
		assert.True(t, requested)

		// A late STARTED does not mask the cancellation request.
		sid, key, err := Split(id)
		require.NoError(t, err)
		_, err = ctrl.AcceptRequestState(ctx, sid, key, RequestStarted)
		require.NoError(t, err)
		st, err := ctrl.RequestState(ctx, sid, key)
		require.NoError(t, err)
		assert.Equal(t, RequestCancellationRequested, st)

		_, err = ctrl.AcceptRequestState(ctx, sid, key, RequestEnded)
		require.NoError(t, err)
		st, err = ctrl.RequestState(ctx, sid, key)
		require.NoError(t, err)
		assert.Equal(t, RequestEnded, st)

		st, err = ctrl.RequestState(ctx, "gone", "whatever")
		require.NoError(t, err)
		assert.Equal(t, RequestEnded, st)

		require.NoError(t, ctrl.EndTask(ctx, id, OutcomeCancelled, nil, ""))
		ok, err = ctrl.Cancel(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
