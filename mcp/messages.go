package mcp

import (
	"encoding/json"
	"fmt"
)

// Method is an MCP method identifier used in JSON-RPC messages.
type Method string

// MCP method names and notifications.
const (
	// Initialization
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"

	// Tools
	ToolsListMethod                    Method = "tools/list"
	ToolsCallMethod                    Method = "tools/call"
	ToolsListChangedNotificationMethod Method = "notifications/tools/list_changed"

	// Resources
	ResourcesListMethod                    Method = "resources/list"
	ResourcesReadMethod                    Method = "resources/read"
	ResourcesTemplatesListMethod           Method = "resources/templates/list"
	ResourcesSubscribeMethod               Method = "resources/subscribe"
	ResourcesUnsubscribeMethod             Method = "resources/unsubscribe"
	ResourcesListChangedNotificationMethod Method = "notifications/resources/list_changed"
	ResourcesUpdatedNotificationMethod     Method = "notifications/resources/updated"

	// Prompts
	PromptsListMethod                    Method = "prompts/list"
	PromptsListChangedNotificationMethod Method = "notifications/prompts/list_changed"

	// Tasks
	TasksGetMethod               Method = "tasks/get"
	TasksListMethod              Method = "tasks/list"
	TasksResultMethod            Method = "tasks/result"
	TasksCancelMethod            Method = "tasks/cancel"
	TaskStatusNotificationMethod Method = "notifications/tasks/status"

	// Server-initiated requests and notifications queued on tasks
	ElicitationCreateMethod          Method = "elicitation/create"
	SamplingCreateMessageMethod      Method = "sampling/createMessage"
	ProgressNotificationMethod       Method = "notifications/progress"
	CancelledNotificationMethod      Method = "notifications/cancelled"
	LoggingMessageNotificationMethod Method = "notifications/message"

	// General
	PingMethod Method = "ping"
)

// MetaRelatedTask is the _meta key that associates a message with a task.
const MetaRelatedTask = "io.modelcontextprotocol/related-task"

// PaginatedRequest carries a cursor for paginated list requests.
type PaginatedRequest struct {
	Cursor string `json:"cursor,omitzero"`
}

// PaginatedResult carries a cursor for continuing pagination.
type PaginatedResult struct {
	NextCursor string `json:"nextCursor,omitzero"`
}

// BaseMetadata carries optional metadata for responses.
type BaseMetadata struct {
	Meta map[string]any `json:"_meta,omitempty"`
}

// RelatedTask returns the task id recorded under MetaRelatedTask, accepting
// both the bare-string and the {"taskId": ...} shapes.
func (m BaseMetadata) RelatedTask() (string, bool) {
	v, ok := m.Meta[MetaRelatedTask]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case map[string]any:
		id, _ := t["taskId"].(string)
		return id, id != ""
	}
	return "", false
}

// WithRelatedTask returns a metadata block carrying taskID under MetaRelatedTask.
func WithRelatedTask(taskID string) BaseMetadata {
	return BaseMetadata{Meta: map[string]any{MetaRelatedTask: map[string]any{"taskId": taskID}}}
}

// InitializeRequest starts the MCP initialization handshake.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult returns negotiated capabilities and server info.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitzero"`
	BaseMetadata
}

// ListToolsResult returns the available tools.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
	PaginatedResult
	BaseMetadata
}

// CallToolRequest invokes a tool. A non-nil Task asks for the call to run
// as a task; the response is then a CreateTaskResult.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Task      *TaskMetadata   `json:"task,omitempty"`
	BaseMetadata
}

// CallToolResult is the outcome of a tool invocation.
type CallToolResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitzero"`
	BaseMetadata
}

// ListResourcesResult returns a page of resources.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
	PaginatedResult
	BaseMetadata
}

// ListResourceTemplatesResult returns resource templates.
type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
	PaginatedResult
	BaseMetadata
}

// ReadResourceRequest requests the contents of a resource by URI.
type ReadResourceRequest struct {
	URI string `json:"uri"`
}

// ReadResourceResult returns resource contents.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
	BaseMetadata
}

// SubscribeRequest subscribes to updates for the given URI.
type SubscribeRequest struct {
	URI string `json:"uri"`
}

// UnsubscribeRequest ends a subscription for the given URI.
type UnsubscribeRequest struct {
	URI string `json:"uri"`
}

// ResourceUpdatedNotification indicates a resource's content changed.
type ResourceUpdatedNotification struct {
	URI string `json:"uri"`
}

// ListPromptsResult returns available prompts.
type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
	PaginatedResult
	BaseMetadata
}

// EmptyResult is returned for operations that do not return data.
type EmptyResult struct {
	BaseMetadata
}

// ClientResponse is a client's reply to a server-initiated request, as
// received by the transport. Exactly one of Result or Error is set.
type ClientResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError mirrors a JSON-RPC error object without depending on the
// envelope package.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Code, e.Message)
}
