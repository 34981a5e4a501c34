package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/invopop/jsonschema"
)

var (
	// ErrToolNotFound is returned when calling a tool that is not registered.
	ErrToolNotFound = errors.New("tool not found")
	// ErrNotTask is returned when a synchronous tool call tries to reach the
	// client; only task-augmented calls have a channel back.
	ErrNotTask = errors.New("tool call is not running as a task")
)

// Requester sends server-to-client messages on behalf of a task.
type Requester interface {
	Call(ctx context.Context, taskID, method string, params any, timeout time.Duration) (json.RawMessage, error)
	Notify(ctx context.Context, taskID, method string, params any) (bool, error)
}

// ToolCall is the invocation context handed to a tool handler.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
	SessionID string
	// TaskID is empty for synchronous calls.
	TaskID string

	requester Requester
	cancelled func(ctx context.Context) (bool, error)
}

// NewToolCall builds the invocation context for req. requester and
// cancelled may be nil for synchronous calls.
func NewToolCall(sessionID, taskID string, req mcp.CallToolRequest, requester Requester, cancelled func(ctx context.Context) (bool, error)) *ToolCall {
	return &ToolCall{
		Name:      req.Name,
		Arguments: req.Arguments,
		SessionID: sessionID,
		TaskID:    taskID,
		requester: requester,
		cancelled: cancelled,
	}
}

// Request sends method to the client and waits for its answer. The task is
// input_required until the answer arrives.
func (c *ToolCall) Request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if c.TaskID == "" || c.requester == nil {
		return nil, ErrNotTask
	}
	return c.requester.Call(ctx, c.TaskID, method, params, timeout)
}

// Notify queues a notification for the client, such as progress.
func (c *ToolCall) Notify(ctx context.Context, method string, params any) error {
	if c.TaskID == "" || c.requester == nil {
		return ErrNotTask
	}
	_, err := c.requester.Notify(ctx, c.TaskID, method, params)
	return err
}

// Cancelled reports whether the client asked for the task to be cancelled.
// Handlers poll it at convenient points; cancellation is never forced.
func (c *ToolCall) Cancelled(ctx context.Context) bool {
	if c.cancelled == nil {
		return false
	}
	ok, err := c.cancelled(ctx)
	return err == nil && ok
}

// ToolHandler runs a tool.
type ToolHandler func(ctx context.Context, call *ToolCall) (*mcp.CallToolResult, error)

// StaticTool pairs a tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolOption configures NewTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool
}

func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties makes the tool accept unknown argument
// fields. By default they are rejected.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool builds a tool whose input schema is reflected from A and whose
// arguments are decoded into A before fn runs.
func NewTool[A any](name string, fn func(ctx context.Context, call *ToolCall, args A) (*mcp.CallToolResult, error), opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](cfg.allowAdditionalProperties),
	}
	handler := func(ctx context.Context, call *ToolCall) (*mcp.CallToolResult, error) {
		var args A
		if len(call.Arguments) > 0 {
			dec := json.NewDecoder(bytes.NewReader(call.Arguments))
			if !cfg.allowAdditionalProperties {
				dec.DisallowUnknownFields()
			}
			if err := dec.Decode(&args); err != nil {
				return Errorf("invalid arguments: %v", err), nil
			}
		}
		return fn(ctx, call, args)
	}
	return StaticTool{Descriptor: desc, Handler: handler}
}

func reflectInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	out := mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           map[string]mcp.SchemaProperty{},
		AdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return out
	}
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			out.Properties[el.Key] = schemaProperty(el.Value)
		}
	}
	out.Required = append(out.Required, s.Required...)
	return out
}

func schemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{Type: s.Type, Description: s.Description}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	p.Minimum = schemaBound(s.Minimum)
	p.Maximum = schemaBound(s.Maximum)
	if s.Type == "array" && s.Items != nil {
		item := schemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		p.Properties = make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			p.Properties[el.Key] = schemaProperty(el.Value)
		}
	}
	return p
}

func schemaBound(n json.Number) *float64 {
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	return &f
}

// ToolsContainer is a mutable, concurrency-safe set of tools. Every change
// is signalled to its subscribers.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolHandler

	notifier ChangeNotifier
}

func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	tc := &ToolsContainer{handlers: make(map[string]ToolHandler)}
	for _, d := range defs {
		tc.add(d)
	}
	return tc
}

func (tc *ToolsContainer) add(def StaticTool) bool {
	if _, exists := tc.handlers[def.Descriptor.Name]; exists {
		return false
	}
	tc.tools = append(tc.tools, def.Descriptor)
	tc.handlers[def.Descriptor.Name] = def.Handler
	return true
}

// Add registers def unless a tool with the same name exists.
func (tc *ToolsContainer) Add(def StaticTool) bool {
	tc.mu.Lock()
	added := tc.add(def)
	tc.mu.Unlock()
	if added {
		tc.notifier.Notify()
	}
	return added
}

// Remove unregisters the named tool.
func (tc *ToolsContainer) Remove(name string) bool {
	tc.mu.Lock()
	_, ok := tc.handlers[name]
	if ok {
		delete(tc.handlers, name)
		kept := tc.tools[:0]
		for _, t := range tc.tools {
			if t.Name != name {
				kept = append(kept, t)
			}
		}
		tc.tools = kept
	}
	tc.mu.Unlock()
	if ok {
		tc.notifier.Notify()
	}
	return ok
}

// Snapshot returns the tool descriptors in registration order.
func (tc *ToolsContainer) Snapshot() []mcp.Tool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make([]mcp.Tool, len(tc.tools))
	copy(out, tc.tools)
	return out
}

// Call runs the named tool.
func (tc *ToolsContainer) Call(ctx context.Context, call *ToolCall) (*mcp.CallToolResult, error) {
	tc.mu.RLock()
	h := tc.handlers[call.Name]
	tc.mu.RUnlock()
	if h == nil {
		return nil, errors.Wrapf(ErrToolNotFound, "%q", call.Name)
	}
	return h(ctx, call)
}

func (tc *ToolsContainer) Subscriber() <-chan struct{} { return tc.notifier.Subscriber() }

// TextResult builds a single-block text result.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf builds a text result flagged as a tool error.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	res := TextResult(fmt.Sprintf(format, a...))
	res.IsError = true
	return res
}
