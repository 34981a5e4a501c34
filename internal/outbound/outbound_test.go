package outbound

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/ggoodman/mcp-tasks-go/sessions/memoryhost"
	"github.com/ggoodman/mcp-tasks-go/tasks"
	"github.com/ggoodman/mcp-tasks-go/versions"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishAndDrainInOrder", func(t *testing.T) {
		host := memoryhost.New()
		require.NoError(t, host.CreateSession(ctx, "s1"))
		ob := NewOutbox(host)

		require.NoError(t, ob.Notify(ctx, "s1", versions.Notification{Method: mcp.ToolsListChangedNotificationMethod}))
		require.NoError(t, ob.Notify(ctx, "s1", versions.Notification{Method: mcp.ResourcesUpdatedNotificationMethod, URI: "file:///a"}))

		got, err := ob.Drain(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, string(mcp.ToolsListChangedNotificationMethod), got[0].Method)
		assert.Nil(t, got[0].ID)
		assert.Equal(t, string(mcp.ResourcesUpdatedNotificationMethod), got[1].Method)
		assert.JSONEq(t, `{"uri":"file:///a"}`, string(got[1].Params))

		again, err := ob.Drain(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("CoalescesIdenticalPending", func(t *testing.T) {
		host := memoryhost.New()
		require.NoError(t, host.CreateSession(ctx, "s1"))
		ob := NewOutbox(host)
		for i := 0; i < 3; i++ {
			ok, err := ob.Publish(ctx, "s1", string(mcp.PromptsListChangedNotificationMethod), nil)
			require.NoError(t, err)
			require.True(t, ok)
		}
		got, err := ob.Drain(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("CapacityDropsOldest", func(t *testing.T) {
		host := memoryhost.New()
		require.NoError(t, host.CreateSession(ctx, "s1"))
		ob := NewOutbox(host, WithCapacity(2))
		for _, uri := range []string{"a", "b", "c"} {
			_, err := ob.Publish(ctx, "s1", string(mcp.ResourcesUpdatedNotificationMethod), mcp.ResourceUpdatedNotification{URI: uri})
			require.NoError(t, err)
		}
		got, err := ob.Drain(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.JSONEq(t, `{"uri":"b"}`, string(got[0].Params))
		assert.JSONEq(t, `{"uri":"c"}`, string(got[1].Params))
	})

	t.Run("MissingSession", func(t *testing.T) {
		ob := NewOutbox(memoryhost.New())
		ok, err := ob.Publish(ctx, "nope", "notifications/message", nil)
		require.NoError(t, err)
		assert.False(t, ok)
		got, err := ob.Drain(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

type pingParams struct {
	Greeting string `json:"greeting"`
}

// respond plays the client: it polls the task queue and answers the first
// request it sees with reply.
func respond(t *testing.T, ctrl *tasks.Controller, taskID string, reply mcp.ClientResponse) <-chan tasks.QueuedMessage {
	t.Helper()
	seen := make(chan tasks.QueuedMessage, 1)
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			var msgs []tasks.QueuedMessage
			_, err := ctrl.TakeMessages(context.Background(), taskID, func(m tasks.QueuedMessage) { msgs = append(msgs, m) })
			if err != nil {
				return
			}
			for _, m := range msgs {
				if !m.IsRequest() {
					continue
				}
				id, err := uuid.Parse(m.RequestID)
				if err != nil {
					return
				}
				seen <- m
				_, _ = ctrl.SetResponse(context.Background(), taskID, id, reply)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
	return seen
}

func TestCaller(t *testing.T) {
	ctx := context.Background()
	setup := func(t *testing.T) (*tasks.Controller, string) {
		host := memoryhost.New()
		require.NoError(t, host.CreateSession(ctx, "s1"))
		ctrl := tasks.NewController(host)
		id, err := ctrl.CreateTask(ctx, "s1", nil)
		require.NoError(t, err)
		return ctrl, id
	}

	t.Run("ReturnsClientResult", func(t *testing.T) {
		ctrl, taskID := setup(t)
		seen := respond(t, ctrl, taskID, mcp.ClientResponse{Result: json.RawMessage(`{"pong":true}`)})

		res, err := NewCaller(ctrl).Call(ctx, taskID, "ping", pingParams{Greeting: "hi"}, 5*time.Second)
		require.NoError(t, err)
		assert.JSONEq(t, `{"pong":true}`, string(res))

		m := <-seen
		assert.Equal(t, "ping", m.Method)
		var params struct {
			Greeting string `json:"greeting"`
			mcp.BaseMetadata
		}
		require.NoError(t, json.Unmarshal(m.Params, &params))
		assert.Equal(t, "hi", params.Greeting)
		related, ok := params.RelatedTask()
		require.True(t, ok)
		assert.Equal(t, taskID, related)

		st, _, err := ctrl.Status(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, mcp.TaskStatusWorking, st)
	})

	t.Run("ClientErrorIsReturned", func(t *testing.T) {
		ctrl, taskID := setup(t)
		respond(t, ctrl, taskID, mcp.ClientResponse{Error: &mcp.ResponseError{Code: -32601, Message: "nope"}})

		_, err := NewCaller(ctrl).Call(ctx, taskID, "sampling/createMessage", nil, 5*time.Second)
		var rerr *mcp.ResponseError
		require.True(t, errors.As(err, &rerr), "got %v", err)
		assert.Equal(t, -32601, rerr.Code)
	})

	t.Run("TimeoutReleasesTheSlot", func(t *testing.T) {
		ctrl, taskID := setup(t)
		_, err := NewCaller(ctrl).Call(ctx, taskID, "ping", nil, 50*time.Millisecond)
		assert.True(t, errors.Is(err, ErrCallTimeout), "got %v", err)

		st, _, err := ctrl.Status(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, mcp.TaskStatusWorking, st)
	})

	t.Run("FinalizedTask", func(t *testing.T) {
		ctrl, taskID := setup(t)
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = ctrl.EndTask(context.Background(), taskID, tasks.OutcomeCancelled, nil, "")
			_, _, _ = ctrl.Finalize(context.Background(), taskID)
		}()
		_, err := NewCaller(ctrl).Call(ctx, taskID, "ping", nil, 5*time.Second)
		assert.True(t, errors.Is(err, ErrTaskGone), "got %v", err)
	})

	t.Run("UnknownTask", func(t *testing.T) {
		ctrl, _ := setup(t)
		_, err := NewCaller(ctrl).Call(ctx, tasks.Combine("s1", "missing"), "ping", nil, time.Second)
		assert.True(t, errors.Is(err, ErrTaskGone), "got %v", err)
	})

	t.Run("Notify", func(t *testing.T) {
		ctrl, taskID := setup(t)
		ok, err := NewCaller(ctrl).Notify(ctx, taskID, "notifications/message", map[string]any{"level": "info"})
		require.NoError(t, err)
		require.True(t, ok)
		var got []tasks.QueuedMessage
		n, err := ctrl.TakeMessages(ctx, taskID, func(m tasks.QueuedMessage) { got = append(got, m) })
		require.NoError(t, err)
		require.Equal(t, 1, n)
		assert.False(t, got[0].IsRequest())
		assert.Contains(t, string(got[0].Params), mcp.MetaRelatedTask)
	})
}

func TestWithRelatedTaskPreservesExistingMeta(t *testing.T) {
	raw, err := withRelatedTask(map[string]any{"_meta": map[string]any{"progressToken": "p1"}, "x": 1}, "t1")
	require.NoError(t, err)
	var got struct {
		X    int            `json:"x"`
		Meta map[string]any `json:"_meta"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 1, got.X)
	assert.Equal(t, "p1", got.Meta["progressToken"])
	assert.Contains(t, got.Meta, mcp.MetaRelatedTask)

	_, err = withRelatedTask([]int{1}, "t1")
	assert.Error(t, err)
}
