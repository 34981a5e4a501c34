// Package logctx carries request, session, task and RPC identifiers in a
// context and adds them to every slog record logged with that context.
package logctx

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	requestKey ctxKey = iota
	sessionKey
	taskKey
	rpcKey
)

// Record groups are emitted in this order.
var groupKeys = [...]ctxKey{requestKey, sessionKey, taskKey, rpcKey}

type grouper interface {
	logGroup() slog.Attr
}

// Handler wraps another slog.Handler.
type Handler struct {
	slog.Handler
}

// New wraps h.
func New(h slog.Handler) Handler { return Handler{Handler: h} }

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	for _, k := range groupKeys {
		if g, ok := ctx.Value(k).(grouper); ok {
			r.AddAttrs(g.logGroup())
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{h.Handler.WithGroup(name)}
}

// group builds a slog group from key/value pairs, skipping empty values.
func group(name string, kv ...string) slog.Attr {
	attrs := make([]any, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			attrs = append(attrs, slog.String(kv[i], kv[i+1]))
		}
	}
	return slog.Group(name, attrs...)
}

// RequestData describes the inbound HTTP request.
type RequestData struct {
	RequestID  string
	Method     string
	RemoteAddr string
	Path       string
}

func (d *RequestData) logGroup() slog.Attr {
	return group("req", "id", d.RequestID, "method", d.Method, "remote_addr", d.RemoteAddr, "path", d.Path)
}

func WithRequestData(ctx context.Context, d *RequestData) context.Context {
	return context.WithValue(ctx, requestKey, d)
}

type SessionData struct {
	SessionID string
}

func (d *SessionData) logGroup() slog.Attr { return group("sess", "id", d.SessionID) }

func WithSessionData(ctx context.Context, d *SessionData) context.Context {
	return context.WithValue(ctx, sessionKey, d)
}

// TaskData identifies the task a log line belongs to and, for tool tasks,
// the tool.
type TaskData struct {
	TaskID string
	Tool   string
}

func (d *TaskData) logGroup() slog.Attr { return group("task", "id", d.TaskID, "tool", d.Tool) }

func WithTaskData(ctx context.Context, d *TaskData) context.Context {
	return context.WithValue(ctx, taskKey, d)
}

// RPCMessage describes the JSON-RPC message being handled.
type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func (d *RPCMessage) logGroup() slog.Attr {
	return group("rpc", "method", d.Method, "id", d.ID, "type", d.Type)
}

func WithRPCMessage(ctx context.Context, d *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcKey, d)
}
