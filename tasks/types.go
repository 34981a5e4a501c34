package tasks

import (
	"time"

	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/ggoodman/mcp-tasks-go/sessions"
)

// Outcome is the terminal disposition of a task.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Status maps the outcome onto its wire status.
func (o Outcome) Status() mcp.TaskStatus {
	switch o {
	case OutcomeFailed:
		return mcp.TaskStatusFailed
	case OutcomeCancelled:
		return mcp.TaskStatusCancelled
	default:
		return mcp.TaskStatusCompleted
	}
}

// Record is the stored state of one task. Status is never stored; it is
// derived from Record and the task's response table on every read.
type Record struct {
	CreatedAt    time.Time      `msgpack:"created_at"`
	TTL          *time.Duration `msgpack:"ttl,omitempty"`
	PollInterval *time.Duration `msgpack:"poll_interval,omitempty"`
	Result       *Result        `msgpack:"result,omitempty"`
}

// Result is the terminal value of a task. It is written at most once.
type Result struct {
	Outcome       Outcome   `msgpack:"outcome"`
	Payload       []byte    `msgpack:"payload,omitempty"`
	StatusMessage string    `msgpack:"status_message,omitempty"`
	CompletedAt   time.Time `msgpack:"completed_at"`
}

// QueuedMessage is a server-to-client request or notification waiting for
// the transport to deliver it. RequestID is empty for notifications.
type QueuedMessage struct {
	RequestID string `msgpack:"request_id,omitempty"`
	Method    string `msgpack:"method"`
	Params    []byte `msgpack:"params,omitempty"`
}

// IsRequest reports whether the message expects a client response.
func (m QueuedMessage) IsRequest() bool { return m.RequestID != "" }

// Requests is the FIFO of messages pending delivery for one task.
type Requests struct {
	Messages []QueuedMessage `msgpack:"messages"`
}

// Responses maps outstanding server-to-client request ids to their slots.
type Responses struct {
	Entries map[string]Slot `msgpack:"entries"`
}

// Slot is a response placeholder. An unfilled slot means the request was
// sent and no reply has arrived yet.
type Slot struct {
	Filled   bool               `msgpack:"filled"`
	Response mcp.ClientResponse `msgpack:"response"`
}

// RequestState is the cooperative lifecycle marker of an in-flight request.
type RequestState string

const (
	RequestStarted               RequestState = "STARTED"
	RequestEnded                 RequestState = "ENDED"
	RequestCancellationRequested RequestState = "CANCELLATION_REQUESTED"
)

var (
	taskKind         = sessions.NewKind[Record]("task")
	requestsKind     = sessions.NewKind[Requests]("task_requests")
	responsesKind    = sessions.NewKind[Responses]("task_responses")
	requestStateKind = sessions.NewKind[RequestState]("request_state")
)
