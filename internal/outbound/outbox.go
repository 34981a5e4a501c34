package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-tasks-go/sessions"
	"github.com/ggoodman/mcp-tasks-go/versions"
)

// Message is a session-level notification awaiting pickup.
type Message struct {
	Method string `msgpack:"method"`
	Params []byte `msgpack:"params,omitempty"`
}

// Pending is the stored outbox of one session.
type Pending struct {
	Messages []Message `msgpack:"messages"`
	// Dropped counts messages discarded because the outbox was full.
	Dropped int `msgpack:"dropped,omitempty"`
}

var outboxKey = sessions.NewKind[Pending]("outbox").Key("pending")

const defaultCapacity = 256

// Outbox keeps notifications for a session in the session store until the
// transport drains them. It satisfies versions.Sink.
type Outbox struct {
	host     sessions.SessionHost
	log      *slog.Logger
	capacity int
}

// OutboxOption configures an Outbox.
type OutboxOption func(*Outbox)

// WithOutboxLogger sets the logger used to report overflowing outboxes.
func WithOutboxLogger(l *slog.Logger) OutboxOption { return func(o *Outbox) { o.log = l } }

// WithCapacity bounds the pending messages per session; the oldest are
// discarded first.
func WithCapacity(n int) OutboxOption { return func(o *Outbox) { o.capacity = n } }

// NewOutbox returns an Outbox storing pending messages on host.
func NewOutbox(host sessions.SessionHost, opts ...OutboxOption) *Outbox {
	o := &Outbox{host: host, log: slog.Default(), capacity: defaultCapacity}
	for _, opt := range opts {
		opt(o)
	}
	if o.capacity <= 0 {
		o.capacity = defaultCapacity
	}
	return o
}

var _ versions.Sink = (*Outbox)(nil)

// Notify stores a change notification. A session that no longer exists is
// silently skipped.
func (o *Outbox) Notify(ctx context.Context, sessionID string, n versions.Notification) error {
	_, err := o.Publish(ctx, sessionID, string(n.Method), n.Params())
	return err
}

// Publish appends a notification to the session's outbox. An identical
// message that is still pending is not stored twice. It returns false when
// the session does not exist.
func (o *Outbox) Publish(ctx context.Context, sessionID, method string, params any) (bool, error) {
	msg := Message{Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return false, errors.Wrapf(err, "marshal %s params", method)
		}
		msg.Params = b
	}

	dropped, found, err := sessions.Compute(ctx, o.host, sessionID, outboxKey, func(cur Pending, ok bool) (Pending, bool, bool) {
		for _, m := range cur.Messages {
			if m.Method == msg.Method && bytes.Equal(m.Params, msg.Params) {
				return cur, true, false
			}
		}
		// Copy: the closure may be retried against the same cur.
		next := Pending{Messages: make([]Message, 0, len(cur.Messages)+1), Dropped: cur.Dropped}
		next.Messages = append(next.Messages, cur.Messages...)
		next.Messages = append(next.Messages, msg)
		overflow := len(next.Messages) > o.capacity
		if overflow {
			next.Messages = next.Messages[len(next.Messages)-o.capacity:]
			next.Dropped++
		}
		return next, true, overflow
	})
	if err != nil {
		return false, errors.Wrap(err, "publish")
	}
	if dropped {
		o.log.WarnContext(ctx, "outbound.outbox.overflow", slog.String("session_id", sessionID), slog.Int("capacity", o.capacity))
	}
	return found, nil
}

// Drain removes and returns every pending notification of the session as
// JSON-RPC notifications, oldest first.
func (o *Outbox) Drain(ctx context.Context, sessionID string) ([]*jsonrpc.Request, error) {
	pending, _, err := sessions.Compute(ctx, o.host, sessionID, outboxKey, func(cur Pending, ok bool) (Pending, bool, Pending) {
		return Pending{}, false, cur
	})
	if err != nil {
		return nil, errors.Wrap(err, "drain outbox")
	}
	out := make([]*jsonrpc.Request, 0, len(pending.Messages))
	for _, m := range pending.Messages {
		out = append(out, &jsonrpc.Request{
			JSONRPCVersion: jsonrpc.ProtocolVersion,
			Method:         m.Method,
			Params:         m.Params,
		})
	}
	return out, nil
}
