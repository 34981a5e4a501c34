package tasks

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/internal/logctx"
	"github.com/ggoodman/mcp-tasks-go/internal/telemetry"
	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/ggoodman/mcp-tasks-go/sessions"
	"github.com/google/uuid"
)

var (
	// ErrTaskNotFound is returned when ending a task that does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskEnded is returned when ending a task that already has a result.
	ErrTaskEnded = errors.New("task already ended")
)

const defaultListPageSize = 50

// Controller manages task lifecycles on top of a SessionHost. It holds no
// authoritative state: every call reads and writes the host, so any process
// sharing the host can serve any task.
type Controller struct {
	host         sessions.SessionHost
	log          *slog.Logger
	metrics      telemetry.MetricsSink
	pollInterval time.Duration
	now          func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m telemetry.MetricsSink) Option { return func(c *Controller) { c.metrics = m } }

// WithPollInterval sets the poll interval suggested to clients for new tasks.
func WithPollInterval(d time.Duration) Option { return func(c *Controller) { c.pollInterval = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// NewController builds a Controller over host.
func NewController(host sessions.SessionHost, opts ...Option) *Controller {
	c := &Controller{
		host:    host,
		log:     slog.Default(),
		metrics: telemetry.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Host returns the underlying session host.
func (c *Controller) Host() sessions.SessionHost { return c.host }

// CreateTask stores a fresh task in the session and returns its id. ttl may
// be nil to defer to the reaper's default.
func (c *Controller) CreateTask(ctx context.Context, sessionID string, ttl *time.Duration) (string, error) {
	key := strings.ReplaceAll(uuid.NewString(), "-", "")
	rec := Record{CreatedAt: c.now().UTC(), TTL: ttl}
	if c.pollInterval > 0 {
		pi := c.pollInterval
		rec.PollInterval = &pi
	}
	found, err := sessions.Set(ctx, c.host, sessionID, taskKind.Key(key), rec)
	if err != nil {
		return "", errors.Wrap(err, "create task")
	}
	if !found {
		c.metrics.IncCounter("tasks.created", map[string]string{"outcome": "session_not_found"})
		return "", errors.Wrapf(sessions.ErrSessionNotFound, "create task in %q", sessionID)
	}
	id := Combine(sessionID, key)
	c.metrics.IncCounter("tasks.created", map[string]string{"outcome": "ok"})
	c.log.DebugContext(logctx.WithTaskData(ctx, &logctx.TaskData{TaskID: id}), "tasks.create.ok")
	return id, nil
}

// Status derives the task's current status. ok is false when the task (or
// its session) does not exist.
func (c *Controller) Status(ctx context.Context, taskID string) (mcp.TaskStatus, bool, error) {
	sid, key, err := Split(taskID)
	if err != nil {
		return "", false, err
	}
	rec, ok, err := sessions.Get(ctx, c.host, sid, taskKind.Key(key))
	if err != nil || !ok {
		return "", false, err
	}
	st, err := c.deriveStatus(ctx, sid, key, rec)
	if err != nil {
		return "", false, err
	}
	return st, true, nil
}

func (c *Controller) deriveStatus(ctx context.Context, sid, key string, rec Record) (mcp.TaskStatus, error) {
	if rec.Result != nil {
		return rec.Result.Outcome.Status(), nil
	}
	resp, ok, err := sessions.Get(ctx, c.host, sid, responsesKind.Key(key))
	if err != nil {
		return "", err
	}
	if ok && len(resp.Entries) > 0 {
		return mcp.TaskStatusInputRequired, nil
	}
	return mcp.TaskStatusWorking, nil
}

// Task returns the wire view of a task.
func (c *Controller) Task(ctx context.Context, taskID string) (mcp.Task, bool, error) {
	sid, key, err := Split(taskID)
	if err != nil {
		return mcp.Task{}, false, err
	}
	rec, ok, err := sessions.Get(ctx, c.host, sid, taskKind.Key(key))
	if err != nil || !ok {
		return mcp.Task{}, false, err
	}
	st, err := c.deriveStatus(ctx, sid, key, rec)
	if err != nil {
		return mcp.Task{}, false, err
	}
	return wireTask(taskID, st, rec), true, nil
}

func wireTask(taskID string, st mcp.TaskStatus, rec Record) mcp.Task {
	t := mcp.Task{
		TaskID:        taskID,
		Status:        st,
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339Nano),
		LastUpdatedAt: rec.CreatedAt.Format(time.RFC3339Nano),
	}
	if rec.TTL != nil {
		ms := rec.TTL.Milliseconds()
		t.TTL = &ms
	}
	if rec.PollInterval != nil {
		ms := rec.PollInterval.Milliseconds()
		t.PollInterval = &ms
	}
	if rec.Result != nil {
		t.StatusMessage = rec.Result.StatusMessage
		t.LastUpdatedAt = rec.Result.CompletedAt.Format(time.RFC3339Nano)
	}
	return t
}

// ListTasks returns up to pageSize tasks of the session ordered by key,
// starting after cursor. next is empty on the last page.
func (c *Controller) ListTasks(ctx context.Context, sessionID string, pageSize int, cursor string) (tasks []mcp.Task, next string, err error) {
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}
	entries, err := sessions.List(ctx, c.host, sessionID, taskKind, pageSize, cursor)
	if err != nil {
		return nil, "", errors.Wrap(err, "list tasks")
	}
	tasks = make([]mcp.Task, 0, len(entries))
	for _, e := range entries {
		st, err := c.deriveStatus(ctx, sessionID, e.Name, e.Value)
		if err != nil {
			return nil, "", err
		}
		tasks = append(tasks, wireTask(Combine(sessionID, e.Name), st, e.Value))
	}
	if len(entries) == pageSize {
		next = entries[len(entries)-1].Name
	}
	return tasks, next, nil
}

type endOutcome int

const (
	endApplied endOutcome = iota
	endMissing
	endAlready
)

// EndTask records the task's terminal result. It succeeds exactly once per
// task; later calls return ErrTaskEnded.
func (c *Controller) EndTask(ctx context.Context, taskID string, outcome Outcome, payload []byte, statusMessage string) error {
	sid, key, err := Split(taskID)
	if err != nil {
		return err
	}
	k := taskKind.Key(key)

	rec, ok, err := sessions.Get(ctx, c.host, sid, k)
	if err != nil {
		return errors.Wrap(err, "end task")
	}
	if !ok {
		return errors.Wrapf(ErrTaskNotFound, "%q", taskID)
	}
	if rec.Result != nil {
		return errors.Wrapf(ErrTaskEnded, "%q", taskID)
	}

	res := &Result{Outcome: outcome, Payload: payload, StatusMessage: statusMessage, CompletedAt: c.now().UTC()}
	out, found, err := sessions.Compute(ctx, c.host, sid, k, func(cur Record, ok bool) (Record, bool, endOutcome) {
		if !ok {
			return cur, false, endMissing
		}
		if cur.Result != nil {
			return cur, true, endAlready
		}
		cur.Result = res
		return cur, true, endApplied
	})
	if err != nil {
		return errors.Wrap(err, "end task")
	}
	switch {
	case !found || out == endMissing:
		return errors.Wrapf(ErrTaskNotFound, "%q", taskID)
	case out == endAlready:
		return errors.Wrapf(ErrTaskEnded, "%q", taskID)
	}
	c.metrics.IncCounter("tasks.ended", map[string]string{"outcome": string(outcome)})
	c.log.InfoContext(logctx.WithTaskData(ctx, &logctx.TaskData{TaskID: taskID}), "tasks.end.ok", slog.String("outcome", string(outcome)))
	return nil
}

// Result returns the task's terminal result without consuming it.
func (c *Controller) Result(ctx context.Context, taskID string) (Result, bool, error) {
	sid, key, err := Split(taskID)
	if err != nil {
		return Result{}, false, err
	}
	rec, ok, err := sessions.Get(ctx, c.host, sid, taskKind.Key(key))
	if err != nil || !ok || rec.Result == nil {
		return Result{}, false, err
	}
	return *rec.Result, true, nil
}

// Finalize returns the terminal result once and removes every key of the
// task. Calls before the task ends, and calls after a previous Finalize,
// report ok=false.
func (c *Controller) Finalize(ctx context.Context, taskID string) (Result, bool, error) {
	sid, key, err := Split(taskID)
	if err != nil {
		return Result{}, false, err
	}
	if _, ok, err := c.Result(ctx, taskID); err != nil || !ok {
		return Result{}, false, err
	}

	res, found, err := sessions.Compute(ctx, c.host, sid, taskKind.Key(key), func(cur Record, ok bool) (Record, bool, *Result) {
		if !ok {
			return cur, false, nil
		}
		if cur.Result == nil {
			return cur, true, nil
		}
		return Record{}, false, cur.Result
	})
	if err != nil {
		return Result{}, false, errors.Wrap(err, "finalize task")
	}
	if !found || res == nil {
		return Result{}, false, nil
	}
	if err := c.deleteAuxiliary(ctx, sid, key); err != nil {
		return *res, true, err
	}
	c.metrics.IncCounter("tasks.finalized", nil)
	return *res, true, nil
}

// Delete removes every key of the task whatever its state. It reports
// whether the task record existed.
func (c *Controller) Delete(ctx context.Context, sessionID, taskKey string) (bool, error) {
	deleted, err := sessions.Delete(ctx, c.host, sessionID, taskKind.Key(taskKey))
	if err != nil {
		return false, errors.Wrap(err, "delete task")
	}
	if err := c.deleteAuxiliary(ctx, sessionID, taskKey); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (c *Controller) deleteAuxiliary(ctx context.Context, sid, key string) error {
	if _, err := sessions.Delete(ctx, c.host, sid, requestsKind.Key(key)); err != nil {
		return errors.Wrap(err, "delete task requests")
	}
	if _, err := sessions.Delete(ctx, c.host, sid, responsesKind.Key(key)); err != nil {
		return errors.Wrap(err, "delete task responses")
	}
	if _, err := sessions.Delete(ctx, c.host, sid, requestStateKind.Key(key)); err != nil {
		return errors.Wrap(err, "delete task request state")
	}
	return nil
}

// QueueMessage appends a server-to-client message to the task's queue. When
// requestID is set the message is a request and an empty response slot is
// reserved for it before the message becomes visible, so a fast reply always
// finds its slot. It returns false when the task or its session is gone.
func (c *Controller) QueueMessage(ctx context.Context, taskID string, requestID *uuid.UUID, method string, params []byte) (bool, error) {
	sid, key, err := Split(taskID)
	if err != nil {
		return false, err
	}
	if _, ok, err := sessions.Get(ctx, c.host, sid, taskKind.Key(key)); err != nil || !ok {
		return false, err
	}

	msg := QueuedMessage{Method: method, Params: params}
	if requestID != nil {
		msg.RequestID = requestID.String()
		_, found, err := sessions.Compute(ctx, c.host, sid, responsesKind.Key(key), func(cur Responses, ok bool) (Responses, bool, struct{}) {
			if cur.Entries == nil {
				cur.Entries = make(map[string]Slot, 1)
			}
			cur.Entries[msg.RequestID] = Slot{}
			return cur, true, struct{}{}
		})
		if err != nil {
			return false, errors.Wrap(err, "reserve response slot")
		}
		if !found {
			return false, nil
		}
	}

	_, found, err := sessions.Compute(ctx, c.host, sid, requestsKind.Key(key), func(cur Requests, ok bool) (Requests, bool, struct{}) {
		cur.Messages = append(cur.Messages, msg)
		return cur, true, struct{}{}
	})
	if err != nil {
		return false, errors.Wrap(err, "queue message")
	}
	if !found {
		return false, nil
	}

	// The task may have been finalized while we wrote; do not leave orphans.
	if _, ok, err := sessions.Get(ctx, c.host, sid, taskKind.Key(key)); err == nil && !ok {
		_ = c.deleteAuxiliary(ctx, sid, key)
		return false, nil
	}
	c.metrics.IncCounter("tasks.messages.queued", map[string]string{"kind": messageKind(msg)})
	return true, nil
}

func messageKind(m QueuedMessage) string {
	if m.IsRequest() {
		return "request"
	}
	return "notification"
}

// TakeMessages atomically drains the task's queue and hands each message to
// consumer in the order queued. Messages queued during the drain are left for
// the next call. It returns the number of messages consumed.
func (c *Controller) TakeMessages(ctx context.Context, taskID string, consumer func(QueuedMessage)) (int, error) {
	sid, key, err := Split(taskID)
	if err != nil {
		return 0, err
	}
	msgs, _, err := sessions.Compute(ctx, c.host, sid, requestsKind.Key(key), func(cur Requests, ok bool) (Requests, bool, []QueuedMessage) {
		return Requests{}, false, cur.Messages
	})
	if err != nil {
		return 0, errors.Wrap(err, "take messages")
	}
	for _, m := range msgs {
		consumer(m)
	}
	return len(msgs), nil
}

// SetResponse fills the pending slot for requestID. It returns false when no
// unfilled slot exists: the request was already answered, never sent, or the
// task is gone.
func (c *Controller) SetResponse(ctx context.Context, taskID string, requestID uuid.UUID, resp mcp.ClientResponse) (bool, error) {
	sid, key, err := Split(taskID)
	if err != nil {
		return false, err
	}
	k := responsesKind.Key(key)
	id := requestID.String()

	cur, ok, err := sessions.Get(ctx, c.host, sid, k)
	if err != nil {
		return false, errors.Wrap(err, "set response")
	}
	if slot, exists := cur.Entries[id]; !ok || !exists || slot.Filled {
		return false, nil
	}

	filled, _, err := sessions.Compute(ctx, c.host, sid, k, func(cur Responses, ok bool) (Responses, bool, bool) {
		if !ok {
			return cur, false, false
		}
		slot, exists := cur.Entries[id]
		if !exists || slot.Filled {
			return cur, true, false
		}
		cur.Entries[id] = Slot{Filled: true, Response: resp}
		return cur, true, true
	})
	if err != nil {
		return false, errors.Wrap(err, "set response")
	}
	if filled {
		c.metrics.IncCounter("tasks.responses.set", nil)
	}
	return filled, nil
}

// TakeResponse hands a filled response to consumer and removes it, so each
// response is consumed exactly once. Pending or unknown slots yield false
// without side effects.
func (c *Controller) TakeResponse(ctx context.Context, taskID string, requestID uuid.UUID, consumer func(mcp.ClientResponse)) (bool, error) {
	sid, key, err := Split(taskID)
	if err != nil {
		return false, err
	}
	k := responsesKind.Key(key)
	id := requestID.String()

	cur, ok, err := sessions.Get(ctx, c.host, sid, k)
	if err != nil {
		return false, errors.Wrap(err, "take response")
	}
	if slot, exists := cur.Entries[id]; !ok || !exists || !slot.Filled {
		return false, nil
	}

	taken, _, err := sessions.Compute(ctx, c.host, sid, k, func(cur Responses, ok bool) (Responses, bool, *mcp.ClientResponse) {
		if !ok {
			return cur, false, nil
		}
		slot, exists := cur.Entries[id]
		if !exists || !slot.Filled {
			return cur, true, nil
		}
		delete(cur.Entries, id)
		return cur, len(cur.Entries) > 0, &slot.Response
	})
	if err != nil {
		return false, errors.Wrap(err, "take response")
	}
	if taken == nil {
		return false, nil
	}
	consumer(*taken)
	return true, nil
}

// DropResponse removes the slot for requestID whether or not it was filled,
// for callers that stopped waiting. It reports whether a slot was removed.
func (c *Controller) DropResponse(ctx context.Context, taskID string, requestID uuid.UUID) (bool, error) {
	sid, key, err := Split(taskID)
	if err != nil {
		return false, err
	}
	id := requestID.String()
	dropped, _, err := sessions.Compute(ctx, c.host, sid, responsesKind.Key(key), func(cur Responses, ok bool) (Responses, bool, bool) {
		if !ok {
			return cur, false, false
		}
		_, exists := cur.Entries[id]
		delete(cur.Entries, id)
		return cur, len(cur.Entries) > 0, exists
	})
	if err != nil {
		return false, errors.Wrap(err, "drop response")
	}
	return dropped, nil
}

// AwaitStatus blocks until the task's status satisfies done, the task
// disappears, or timeout elapses. It returns the last observed status; ok is
// false when the wait ended without done reporting true.
func (c *Controller) AwaitStatus(ctx context.Context, taskID string, timeout time.Duration, done func(mcp.TaskStatus) bool) (mcp.TaskStatus, bool, error) {
	sid, _, err := Split(taskID)
	if err != nil {
		return "", false, err
	}
	var last mcp.TaskStatus
	st, ok, err := sessions.WaitCondition(ctx, c.host, sid, timeout, func(ctx context.Context) (mcp.TaskStatus, bool, error) {
		st, exists, err := c.Status(ctx, taskID)
		if err != nil {
			return "", false, err
		}
		if !exists {
			return "", false, errors.Wrapf(ErrTaskNotFound, "%q", taskID)
		}
		last = st
		return st, done(st), nil
	})
	if errors.Is(err, ErrTaskNotFound) {
		return last, false, nil
	}
	if err != nil {
		return last, false, err
	}
	if !ok {
		return last, false, nil
	}
	return st, true, nil
}

// Terminal is a done func for AwaitStatus that waits for a terminal state.
func Terminal(st mcp.TaskStatus) bool { return st.Terminal() }

// LeftWorking is a done func for AwaitStatus that waits for any status other
// than working.
func LeftWorking(st mcp.TaskStatus) bool { return st != mcp.TaskStatusWorking }
