package outbound

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/ggoodman/mcp-tasks-go/sessions"
	"github.com/ggoodman/mcp-tasks-go/tasks"
	"github.com/google/uuid"
)

var (
	// ErrCallTimeout indicates the client did not answer within the timeout.
	ErrCallTimeout = errors.New("outbound call timed out")
	// ErrTaskGone indicates the task ended or disappeared before a response
	// could be collected.
	ErrTaskGone = errors.New("task gone")
)

// Caller issues server-to-client requests on behalf of a task. Requests are
// queued on the task, delivered by whichever process serves the client's
// next poll, and answered through the task's response table, so the caller
// and the transport need not share a process.
type Caller struct {
	ctrl    *tasks.Controller
	log     *slog.Logger
	timeout time.Duration
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithCallerLogger sets the logger for outbound call outcomes.
func WithCallerLogger(l *slog.Logger) CallerOption { return func(c *Caller) { c.log = l } }

// WithCallTimeout bounds how long Call waits for a response when the caller
// passes no timeout of its own.
func WithCallTimeout(d time.Duration) CallerOption { return func(c *Caller) { c.timeout = d } }

// NewCaller builds a Caller over ctrl.
func NewCaller(ctrl *tasks.Controller, opts ...CallerOption) *Caller {
	c := &Caller{ctrl: ctrl, log: slog.Default(), timeout: time.Minute}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call queues method on the task and blocks until the client's response
// arrives, timeout elapses (zero means the default), or ctx ends. A JSON-RPC
// error from the client is returned as *mcp.ResponseError.
func (c *Caller) Call(ctx context.Context, taskID, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	raw, err := withRelatedTask(params, taskID)
	if err != nil {
		return nil, err
	}
	sid, _, err := tasks.Split(taskID)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	queued, err := c.ctrl.QueueMessage(ctx, taskID, &id, method, raw)
	if err != nil {
		return nil, err
	}
	if !queued {
		return nil, errors.Wrapf(ErrTaskGone, "%q", taskID)
	}

	start := time.Now()
	resp, ok, err := sessions.WaitCondition(ctx, c.ctrl.Host(), sid, timeout, func(ctx context.Context) (mcp.ClientResponse, bool, error) {
		var got mcp.ClientResponse
		taken, err := c.ctrl.TakeResponse(ctx, taskID, id, func(r mcp.ClientResponse) { got = r })
		if err != nil || taken {
			return got, taken, err
		}
		if _, exists, err := c.ctrl.Status(ctx, taskID); err != nil || !exists {
			return got, false, errors.CombineErrors(err, errors.Wrapf(ErrTaskGone, "%q", taskID))
		}
		return got, false, nil
	})
	if err != nil || !ok {
		// Stop the task from waiting on an answer nobody will read.
		if _, derr := c.ctrl.DropResponse(context.WithoutCancel(ctx), taskID, id); derr != nil {
			c.log.WarnContext(ctx, "outbound.call.drop.fail", slog.String("task_id", taskID), slog.Any("err", derr))
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(ErrCallTimeout, "%s after %s", method, timeout)
	}
	c.log.DebugContext(ctx, "outbound.call.ok",
		slog.String("task_id", taskID),
		slog.String("method", method),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Notify queues a notification for the task's client. It returns false when
// the task no longer exists.
func (c *Caller) Notify(ctx context.Context, taskID, method string, params any) (bool, error) {
	raw, err := withRelatedTask(params, taskID)
	if err != nil {
		return false, err
	}
	return c.ctrl.QueueMessage(ctx, taskID, nil, method, raw)
}

// withRelatedTask marshals params and stamps the related-task metadata into
// its _meta object so the client can correlate the message with the task.
func withRelatedTask(params any, taskID string) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrap(err, "marshal params")
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, errors.Wrap(err, "params must be a JSON object")
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}
	meta := map[string]any{}
	if raw, ok := fields["_meta"]; ok {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, errors.Wrap(err, "decode _meta")
		}
		if meta == nil {
			meta = map[string]any{}
		}
	}
	for k, v := range mcp.WithRelatedTask(taskID).Meta {
		meta[k] = v
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(err, "marshal _meta")
	}
	fields["_meta"] = b
	return json.Marshal(fields)
}
