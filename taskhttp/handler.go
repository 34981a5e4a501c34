package taskhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-tasks-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-tasks-go/internal/logctx"
	"github.com/ggoodman/mcp-tasks-go/internal/outbound"
	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/ggoodman/mcp-tasks-go/mcpservice"
	"github.com/ggoodman/mcp-tasks-go/sessions"
	"github.com/ggoodman/mcp-tasks-go/tasks"
	"github.com/ggoodman/mcp-tasks-go/versions"
	"github.com/google/uuid"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	pollMediaTypes       = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	maxPollWait = time.Minute
)

// writeJSONError emits a transport-level error body for rejections that
// happen before a JSON-RPC exchange is possible.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Handler serves MCP over plain HTTP with task support. Every piece of
// session state lives in the session store, so any replica can serve any
// request:
//
//   - POST carries one JSON-RPC message: a request, a notification, or the
//     client's response to a server-initiated request.
//   - GET drains what the server has queued for the client: the session
//     outbox and, with ?taskId=, that task's messages. ?wait= long-polls.
//   - DELETE ends the session.
type Handler struct {
	host    sessions.SessionHost
	tasks   *tasks.Controller
	engine  *versions.Engine
	catalog *mcpservice.Catalog
	outbox  *outbound.Outbox
	caller  *outbound.Caller

	log        *slog.Logger
	serverInfo mcp.ImplementationInfo
	resultWait time.Duration

	baseCtx context.Context
	running sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.log = l } }

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(name, version string) Option {
	return func(h *Handler) { h.serverInfo = mcp.ImplementationInfo{Name: name, Version: version} }
}

// WithResultWait bounds how long tasks/result blocks for a task to finish.
func WithResultWait(d time.Duration) Option { return func(h *Handler) { h.resultWait = d } }

// WithBaseContext sets the context task-augmented tool calls run under.
// Cancelling it abandons them.
func WithBaseContext(ctx context.Context) Option { return func(h *Handler) { h.baseCtx = ctx } }

// New builds a Handler. outbox must be the sink the engine delivers to.
func New(ctrl *tasks.Controller, engine *versions.Engine, catalog *mcpservice.Catalog, outbox *outbound.Outbox, opts ...Option) *Handler {
	h := &Handler{
		host:       ctrl.Host(),
		tasks:      ctrl,
		engine:     engine,
		catalog:    catalog,
		outbox:     outbox,
		log:        slog.Default(),
		serverInfo: mcp.ImplementationInfo{Name: "mcp-tasks-go", Version: "dev"},
		resultWait: 30 * time.Second,
		baseCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.caller = outbound.NewCaller(ctrl, outbound.WithCallerLogger(h.log))
	return h
}

// Wait blocks until every task-augmented tool call started by the handler
// has returned, or ctx ends.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "http.post.content_type.unsupported")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "http.post.decode.fail", slog.Any("err", err))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batches are not supported")
		return
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.Any("err", err))
		return
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Kind().String()})

	sid := r.Header.Get(mcpSessionIDHeader)
	if sid == "" {
		req := msg.AsRequest()
		if req == nil || req.Method != string(mcp.InitializeMethod) {
			writeJSONError(w, http.StatusBadRequest, "expected initialize request")
			return
		}
		h.initialize(ctx, w, req)
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sid})
	exists, err := h.host.SessionExists(ctx, sid)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.Any("err", err))
		return
	}
	if !exists {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	switch msg.Kind() {
	case jsonrpc.KindRequest:
		resp := h.dispatch(ctx, sid, msg.AsRequest())
		w.Header().Set("Content-Type", jsonMediaType.String())
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			h.log.ErrorContext(ctx, "http.post.write.fail", slog.Any("err", err))
		}
		h.log.InfoContext(ctx, "http.post.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	case jsonrpc.KindResponse:
		if err := h.acceptClientResponse(ctx, sid, msg.AsResponse()); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			h.log.WarnContext(ctx, "client.response.reject", slog.Any("err", err))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		// Notifications need no reply.
		w.WriteHeader(http.StatusAccepted)
	}
}

func (h *Handler) initialize(ctx context.Context, w http.ResponseWriter, req *jsonrpc.Request) {
	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid initialize params")
			return
		}
	}

	sid := uuid.NewString()
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sid})
	if err := h.host.CreateSession(ctx, sid); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.Any("err", err))
		return
	}
	if _, err := h.engine.InitializeSessionVersions(ctx, sid); err != nil {
		// The first reconcile tick records the versions instead.
		h.log.WarnContext(ctx, "session.versions.init.fail", slog.Any("err", err))
	}

	res := mcp.InitializeResult{
		ProtocolVersion: mcp.NegotiateProtocolVersion(params.ProtocolVersion),
		Capabilities:    serverCapabilities(),
		ServerInfo:      h.serverInfo,
	}
	resp, err := jsonrpc.NewResultResponse(req.ID, res)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		return
	}
	w.Header().Set(mcpSessionIDHeader, sid)
	w.Header().Set(mcpProtocolVersionHeader, res.ProtocolVersion)
	w.Header().Set("Content-Type", jsonMediaType.String())
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.Any("err", err))
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.String("client", params.ClientInfo.Name))
}

func serverCapabilities() mcp.ServerCapabilities {
	taskCaps := &mcp.TasksCapability{
		List:     &struct{}{},
		Cancel:   &struct{}{},
		Requests: &mcp.TaskRequestsCapability{},
	}
	taskCaps.Requests.Tools = &struct {
		Call *struct{} `json:"call,omitempty"`
	}{Call: &struct{}{}}
	return mcp.ServerCapabilities{
		Tools:     &mcp.ListChangedCapability{ListChanged: true},
		Prompts:   &mcp.ListChangedCapability{ListChanged: true},
		Resources: &mcp.ResourcesCapability{ListChanged: true, Subscribe: true},
		Tasks:     taskCaps,
	}
}

// acceptClientResponse files a client's answer to a server-initiated request
// into the owning task's response table. The JSON-RPC id is the one handed
// out by GET: the task id and the request uuid combined.
func (h *Handler) acceptClientResponse(ctx context.Context, sid string, resp *jsonrpc.Response) error {
	taskID, reqID, err := splitOutboundID(resp.ID.String())
	if err != nil {
		return err
	}
	if owner, _, _ := tasks.Split(taskID); owner != sid {
		return errors.Newf("response %q does not belong to this session", resp.ID.String())
	}
	if related, ok := relatedTaskOf(resp.Result); ok && related != taskID {
		return errors.Newf("response for %q carries related task %q", taskID, related)
	}

	cr := mcp.ClientResponse{Result: resp.Result}
	if resp.Error != nil {
		cr.Error = &mcp.ResponseError{Code: int(resp.Error.Code), Message: resp.Error.Message}
		if resp.Error.Data != nil {
			if b, err := json.Marshal(resp.Error.Data); err == nil {
				cr.Error.Data = b
			}
		}
	}
	ok, err := h.tasks.SetResponse(ctx, taskID, reqID, cr)
	if err != nil {
		return err
	}
	if !ok {
		// Late or duplicate answers are dropped; the waiter already moved on.
		h.log.InfoContext(ctx, "client.response.unmatched", slog.String("task_id", taskID))
	}
	return nil
}

func relatedTaskOf(result json.RawMessage) (string, bool) {
	if len(result) == 0 {
		return "", false
	}
	var meta mcp.BaseMetadata
	if err := json.Unmarshal(result, &meta); err != nil {
		return "", false
	}
	return meta.RelatedTask()
}

// outboundID names a queued request on the wire.
func outboundID(taskID, requestID string) string {
	return tasks.Combine(taskID, requestID)
}

func splitOutboundID(id string) (string, uuid.UUID, error) {
	taskID, reqID, err := tasks.Split(id)
	if err != nil {
		return "", uuid.Nil, errors.Wrapf(err, "unknown response id %q", id)
	}
	u, err := uuid.Parse(reqID)
	if err != nil {
		return "", uuid.Nil, errors.Wrapf(err, "unknown response id %q", id)
	}
	return taskID, u, nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accepted, _, err := contenttype.GetAcceptableMediaType(r, pollMediaTypes)
	if err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "accept application/json or text/event-stream")
		return
	}
	sid := r.Header.Get(mcpSessionIDHeader)
	if sid == "" {
		writeJSONError(w, http.StatusBadRequest, "missing session header")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sid})

	var wait time.Duration
	if v := r.URL.Query().Get("wait"); v != "" {
		if wait, err = time.ParseDuration(v); err != nil || wait < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid wait")
			return
		}
		wait = min(wait, maxPollWait)
	}
	taskID := r.URL.Query().Get("taskId")
	if taskID != "" {
		taskSID, _, err := tasks.Split(taskID)
		if err != nil || taskSID != sid {
			writeJSONError(w, http.StatusBadRequest, "invalid taskId")
			return
		}
		ctx = logctx.WithTaskData(ctx, &logctx.TaskData{TaskID: taskID})
	}

	exists, err := h.host.SessionExists(ctx, sid)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if !exists {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	msgs, err := h.drain(ctx, sid, taskID)
	if err == nil && len(msgs) == 0 && wait > 0 {
		var drainErr error
		msgs, _, err = sessions.WaitCondition(ctx, h.host, sid, wait, func(ctx context.Context) ([]*jsonrpc.Request, bool, error) {
			msgs, err := h.drain(ctx, sid, taskID)
			if err != nil && len(msgs) == 0 {
				return nil, false, err
			}
			drainErr = err
			return msgs, len(msgs) > 0, nil
		})
		if err == nil {
			err = drainErr
		}
	}
	if err != nil && len(msgs) == 0 {
		writeJSONError(w, http.StatusInternalServerError, "failed to drain messages")
		h.log.ErrorContext(ctx, "http.get.drain.fail", slog.Any("err", err))
		return
	}
	if err != nil {
		// Whatever was taken off the store is gone from it; deliver it.
		h.log.WarnContext(ctx, "http.get.drain.partial", slog.Int("messages", len(msgs)), slog.Any("err", err))
	}
	if msgs == nil {
		msgs = []*jsonrpc.Request{}
	}

	if accepted.Matches(eventStreamMediaType) {
		h.writeEvents(ctx, w, msgs)
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	if err := json.NewEncoder(w).Encode(msgs); err != nil {
		h.log.ErrorContext(ctx, "http.get.write.fail", slog.Any("err", err))
	}
}

// drain empties the task's queue, when taskID is set, and the session outbox.
// Session notifications come first in the result. A failure after the task
// queue was taken returns the taken messages with the error.
func (h *Handler) drain(ctx context.Context, sid, taskID string) ([]*jsonrpc.Request, error) {
	var fromTask []*jsonrpc.Request
	if taskID != "" {
		_, err := h.tasks.TakeMessages(ctx, taskID, func(m tasks.QueuedMessage) {
			req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: m.Method, Params: m.Params}
			if m.IsRequest() {
				req.ID = jsonrpc.NewRequestID(outboundID(taskID, m.RequestID))
			}
			fromTask = append(fromTask, req)
		})
		if err != nil {
			return nil, err
		}
	}
	out, err := h.outbox.Drain(ctx, sid)
	if err != nil {
		return fromTask, err
	}
	return append(out, fromTask...), nil
}

func (h *Handler) writeEvents(ctx context.Context, w http.ResponseWriter, msgs []*jsonrpc.Request) {
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			h.log.ErrorContext(ctx, "sse.encode.fail", slog.Any("err", err))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			h.log.WarnContext(ctx, "sse.write.fail", slog.Any("err", err))
			return
		}
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := r.Header.Get(mcpSessionIDHeader)
	if sid == "" {
		writeJSONError(w, http.StatusBadRequest, "missing session header")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sid})
	deleted, err := h.host.DeleteSession(ctx, sid)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to delete session")
		h.log.ErrorContext(ctx, "session.delete.fail", slog.Any("err", err))
		return
	}
	if !deleted {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	h.log.InfoContext(ctx, "session.delete.ok")
	w.WriteHeader(http.StatusNoContent)
}
