package tasks

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/sessions"
)

// RequestState reports the cooperative state of requestKey in the session.
// Unknown requests, and requests in missing sessions, are ENDED.
func (c *Controller) RequestState(ctx context.Context, sessionID, requestKey string) (RequestState, error) {
	st, ok, err := sessions.Get(ctx, c.host, sessionID, requestStateKind.Key(requestKey))
	if err != nil {
		return RequestEnded, errors.Wrap(err, "read request state")
	}
	if !ok {
		return RequestEnded, nil
	}
	return st, nil
}

// AcceptRequestState records a state transition for requestKey. ENDED clears
// the record. A pending cancellation request is not overwritten by STARTED,
// so an executor that starts late still observes it. It returns false when
// the session does not exist.
func (c *Controller) AcceptRequestState(ctx context.Context, sessionID, requestKey string, state RequestState) (bool, error) {
	switch state {
	case RequestStarted, RequestEnded, RequestCancellationRequested:
	default:
		return false, errors.Newf("unknown request state %q", state)
	}
	_, found, err := sessions.Compute(ctx, c.host, sessionID, requestStateKind.Key(requestKey), func(cur RequestState, ok bool) (RequestState, bool, struct{}) {
		switch {
		case state == RequestEnded:
			return cur, false, struct{}{}
		case state == RequestStarted && ok && cur == RequestCancellationRequested:
			return cur, true, struct{}{}
		default:
			return state, true, struct{}{}
		}
	})
	if err != nil {
		return false, errors.Wrap(err, "accept request state")
	}
	return found, nil
}

// Cancel asks the executor of a task to stop. Cancellation is cooperative:
// it only records CANCELLATION_REQUESTED under the task's key. It returns
// false when the task does not exist or has already ended.
func (c *Controller) Cancel(ctx context.Context, taskID string) (bool, error) {
	sid, key, err := Split(taskID)
	if err != nil {
		return false, err
	}
	rec, ok, err := sessions.Get(ctx, c.host, sid, taskKind.Key(key))
	if err != nil || !ok || rec.Result != nil {
		return false, err
	}
	found, err := c.AcceptRequestState(ctx, sid, key, RequestCancellationRequested)
	if err != nil || !found {
		return false, err
	}
	c.metrics.IncCounter("tasks.cancel_requested", nil)
	return true, nil
}

// CancellationRequested reports whether Cancel has been called for the task.
func (c *Controller) CancellationRequested(ctx context.Context, taskID string) (bool, error) {
	sid, key, err := Split(taskID)
	if err != nil {
		return false, err
	}
	st, err := c.RequestState(ctx, sid, key)
	if err != nil {
		return false, err
	}
	return st == RequestCancellationRequested, nil
}
