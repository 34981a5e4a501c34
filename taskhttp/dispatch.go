package taskhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-tasks-go/internal/logctx"
	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/ggoodman/mcp-tasks-go/mcpservice"
	"github.com/ggoodman/mcp-tasks-go/tasks"
	"github.com/ggoodman/mcp-tasks-go/versions"
)

var (
	errTaskNotFound = errors.New("task not found")
	errTaskRunning  = errors.New("task has not finished")
)

// dispatch runs one request and always produces a response.
func (h *Handler) dispatch(ctx context.Context, sid string, req *jsonrpc.Request) *jsonrpc.Response {
	result, err := h.route(ctx, sid, req)
	if err != nil {
		code, msg := errorCode(err)
		if code == jsonrpc.ErrorCodeInternalError {
			h.log.ErrorContext(ctx, "rpc.fail", slog.Any("err", err))
		}
		return jsonrpc.NewErrorResponse(req.ID, code, msg, nil)
	}
	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.encode.fail", slog.Any("err", err))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
	}
	return resp
}

// errorCode maps package errors onto JSON-RPC error codes.
func errorCode(err error) (jsonrpc.ErrorCode, string) {
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr.Code, rpcErr.Message
	case errors.Is(err, versions.ErrResourceNotFound):
		return jsonrpc.ErrorCodeResourceNotFound, err.Error()
	case errors.Is(err, tasks.ErrInvalidTaskID),
		errors.Is(err, errTaskNotFound),
		errors.Is(err, errTaskRunning),
		errors.Is(err, mcpservice.ErrInvalidCursor),
		errors.Is(err, mcpservice.ErrToolNotFound):
		return jsonrpc.ErrorCodeInvalidParams, err.Error()
	default:
		return jsonrpc.ErrorCodeInternalError, "internal error"
	}
}

func decodeParams(req *jsonrpc.Request, dst any) error {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, dst); err != nil {
		return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "invalid params: "+err.Error())
	}
	return nil
}

func (h *Handler) route(ctx context.Context, sid string, req *jsonrpc.Request) (any, error) {
	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return mcp.EmptyResult{}, nil

	case mcp.ToolsListMethod:
		var p mcp.PaginatedRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return h.catalog.ListTools(ctx, p.Cursor)
	case mcp.PromptsListMethod:
		var p mcp.PaginatedRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return h.catalog.ListPrompts(ctx, p.Cursor)
	case mcp.ResourcesListMethod:
		var p mcp.PaginatedRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return h.catalog.ListResources(ctx, p.Cursor)
	case mcp.ResourcesTemplatesListMethod:
		var p mcp.PaginatedRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return h.catalog.ListResourceTemplates(ctx, p.Cursor)
	case mcp.ResourcesReadMethod:
		var p mcp.ReadResourceRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		contents, ok, err := h.catalog.ReadResource(ctx, p.URI)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrapf(versions.ErrResourceNotFound, "%q", p.URI)
		}
		return mcp.ReadResourceResult{Contents: contents}, nil
	case mcp.ResourcesSubscribeMethod:
		var p mcp.SubscribeRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if _, err := h.engine.Subscribe(ctx, sid, p.URI); err != nil {
			return nil, err
		}
		return mcp.EmptyResult{}, nil
	case mcp.ResourcesUnsubscribeMethod:
		var p mcp.UnsubscribeRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if _, err := h.engine.Unsubscribe(ctx, sid, p.URI); err != nil {
			return nil, err
		}
		return mcp.EmptyResult{}, nil

	case mcp.ToolsCallMethod:
		var p mcp.CallToolRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if p.Task != nil {
			return h.startToolTask(ctx, sid, p)
		}
		return h.catalog.CallTool(ctx, mcpservice.NewToolCall(sid, "", p, nil, nil))

	case mcp.TasksGetMethod:
		p, err := h.taskParams(sid, req)
		if err != nil {
			return nil, err
		}
		task, ok, err := h.tasks.Task(ctx, p.TaskID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrapf(errTaskNotFound, "%q", p.TaskID)
		}
		return mcp.GetTaskResult{Task: task}, nil
	case mcp.TasksListMethod:
		var p mcp.ListTasksRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		list, next, err := h.tasks.ListTasks(ctx, sid, 0, p.Cursor)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []mcp.Task{}
		}
		return mcp.ListTasksResult{Tasks: list, PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
	case mcp.TasksResultMethod:
		p, err := h.taskParams(sid, req)
		if err != nil {
			return nil, err
		}
		return h.taskResult(ctx, p.TaskID)
	case mcp.TasksCancelMethod:
		p, err := h.taskParams(sid, req)
		if err != nil {
			return nil, err
		}
		return h.cancelTask(ctx, p.TaskID)
	}
	return nil, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method)
}

// taskParams decodes a task-addressed request and refuses task ids of other
// sessions.
func (h *Handler) taskParams(sid string, req *jsonrpc.Request) (mcp.GetTaskRequest, error) {
	var p mcp.GetTaskRequest
	if err := decodeParams(req, &p); err != nil {
		return p, err
	}
	owner, _, err := tasks.Split(p.TaskID)
	if err != nil {
		return p, err
	}
	if owner != sid {
		return p, errors.Wrapf(errTaskNotFound, "%q", p.TaskID)
	}
	return p, nil
}

// taskResult waits for the task to finish and returns its payload with the
// related-task metadata attached.
func (h *Handler) taskResult(ctx context.Context, taskID string) (any, error) {
	st, done, err := h.tasks.AwaitStatus(ctx, taskID, h.resultWait, tasks.Terminal)
	if err != nil {
		return nil, err
	}
	if !done {
		if st == "" {
			return nil, errors.Wrapf(errTaskNotFound, "%q", taskID)
		}
		return nil, errors.Wrapf(errTaskRunning, "%q is %s", taskID, st)
	}
	res, ok, err := h.tasks.Result(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(errTaskNotFound, "%q", taskID)
	}
	if len(res.Payload) == 0 {
		msg := res.StatusMessage
		if msg == "" {
			msg = "task " + string(res.Outcome.Status())
		}
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, msg)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(res.Payload, &fields); err != nil || fields == nil {
		return json.RawMessage(res.Payload), nil
	}
	meta, err := json.Marshal(mcp.WithRelatedTask(taskID).Meta)
	if err != nil {
		return nil, err
	}
	fields["_meta"] = meta
	return fields, nil
}

func (h *Handler) cancelTask(ctx context.Context, taskID string) (any, error) {
	ok, err := h.tasks.Cancel(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "task not found or already finished")
	}
	task, _, err := h.tasks.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return mcp.GetTaskResult{Task: task}, nil
}

// startToolTask creates a task for a tool call and runs the tool in the
// background. The tool reaches the client through the task's queue and
// observes cancellation cooperatively.
func (h *Handler) startToolTask(ctx context.Context, sid string, p mcp.CallToolRequest) (any, error) {
	var ttl *time.Duration
	if p.Task.TTL != nil {
		d := time.Duration(*p.Task.TTL) * time.Millisecond
		ttl = &d
	}
	taskID, err := h.tasks.CreateTask(ctx, sid, ttl)
	if err != nil {
		return nil, err
	}
	if _, err := h.tasks.AcceptRequestState(ctx, sid, taskKey(taskID), tasks.RequestStarted); err != nil {
		return nil, err
	}
	task, _, err := h.tasks.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}

	runCtx := logctx.WithTaskData(logctx.WithSessionData(h.baseCtx, &logctx.SessionData{SessionID: sid}), &logctx.TaskData{TaskID: taskID, Tool: p.Name})
	call := mcpservice.NewToolCall(sid, taskID, p, h.caller, func(ctx context.Context) (bool, error) {
		return h.tasks.CancellationRequested(ctx, taskID)
	})
	h.running.Add(1)
	go func() {
		defer h.running.Done()
		h.runToolTask(runCtx, call)
	}()

	return mcp.CreateTaskResult{Task: task}, nil
}

func (h *Handler) runToolTask(ctx context.Context, call *mcpservice.ToolCall) {
	start := time.Now()
	res, err := h.catalog.CallTool(ctx, call)

	outcome := tasks.OutcomeCompleted
	var payload []byte
	statusMessage := ""
	switch {
	case call.Cancelled(ctx):
		outcome = tasks.OutcomeCancelled
		statusMessage = "cancelled by client"
	case err != nil:
		outcome = tasks.OutcomeFailed
		statusMessage = err.Error()
	default:
		if payload, err = json.Marshal(res); err != nil {
			outcome = tasks.OutcomeFailed
			statusMessage = "failed to encode result"
			payload = nil
		}
	}

	if err := h.tasks.EndTask(ctx, call.TaskID, outcome, payload, statusMessage); err != nil {
		h.log.WarnContext(ctx, "task.end.fail", slog.Any("err", err))
		return
	}
	if _, err := h.tasks.AcceptRequestState(ctx, call.SessionID, taskKey(call.TaskID), tasks.RequestEnded); err != nil {
		h.log.WarnContext(ctx, "task.request_state.fail", slog.Any("err", err))
	}
	h.publishStatus(ctx, call.SessionID, call.TaskID)
	h.log.InfoContext(ctx, "task.tool.done",
		slog.String("tool", call.Name),
		slog.String("outcome", string(outcome)),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
}

// publishStatus tells the session about the task's new status.
func (h *Handler) publishStatus(ctx context.Context, sid, taskID string) {
	task, ok, err := h.tasks.Task(ctx, taskID)
	if err != nil || !ok {
		return
	}
	if _, err := h.outbox.Publish(ctx, sid, string(mcp.TaskStatusNotificationMethod), mcp.TaskStatusNotification{Task: task}); err != nil {
		h.log.WarnContext(ctx, "task.status.publish.fail", slog.Any("err", err))
	}
}

func taskKey(taskID string) string {
	_, key, _ := tasks.Split(taskID)
	return key
}
