package mcp

// TaskStatus is the externally visible state of a task.
type TaskStatus string

const (
	TaskStatusWorking       TaskStatus = "working"
	TaskStatusInputRequired TaskStatus = "input_required"
	TaskStatusCompleted     TaskStatus = "completed"
	TaskStatusFailed        TaskStatus = "failed"
	TaskStatusCancelled     TaskStatus = "cancelled"
)

// Terminal reports whether s is an absorbing state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is the wire view of a task.
type Task struct {
	TaskID        string     `json:"taskId"`
	Status        TaskStatus `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
	// CreatedAt and LastUpdatedAt are RFC 3339 timestamps.
	CreatedAt     string `json:"createdAt"`
	LastUpdatedAt string `json:"lastUpdatedAt"`
	// TTL in milliseconds; null means the server default applies.
	TTL          *int64 `json:"ttl"`
	PollInterval *int64 `json:"pollInterval,omitempty"`
}

// TasksCapability advertises task support: which task operations exist and
// which requests may be task-augmented.
type TasksCapability struct {
	List     *struct{}               `json:"list,omitempty"`
	Cancel   *struct{}               `json:"cancel,omitempty"`
	Requests *TaskRequestsCapability `json:"requests,omitempty"`
}

// TaskRequestsCapability names the request types that accept a task field.
type TaskRequestsCapability struct {
	Tools *struct {
		Call *struct{} `json:"call,omitempty"`
	} `json:"tools,omitempty"`
}

// TaskMetadata augments a request that should run as a task.
type TaskMetadata struct {
	TTL *int64 `json:"ttl,omitempty"`
}

// CreateTaskResult is returned when a task-augmented request is accepted.
type CreateTaskResult struct {
	Task Task `json:"task"`
	BaseMetadata
}

// GetTaskRequest is the params object of tasks/get, tasks/result and
// tasks/cancel.
type GetTaskRequest struct {
	TaskID string `json:"taskId"`
	BaseMetadata
}

// GetTaskResult carries the task fields directly.
type GetTaskResult struct {
	Task
}

// ListTasksRequest requests a page of the session's tasks.
type ListTasksRequest struct {
	PaginatedRequest
}

// ListTasksResult returns a page of tasks.
type ListTasksResult struct {
	Tasks []Task `json:"tasks"`
	PaginatedResult
	BaseMetadata
}

// TaskStatusNotification is the params object of notifications/tasks/status.
type TaskStatusNotification struct {
	Task
	BaseMetadata
}
