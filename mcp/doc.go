// Package mcp contains protocol data types and constants shared by the task
// controller, the reconciliation engine and the HTTP endpoint. It mirrors the
// wire representation of the Model Context Protocol while keeping the surface
// Go-friendly (exported structs with json tags, string constants for method
// names and enumerations).
//
// The package is free of transport logic.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListChangedNotificationMethod).
//
// # Tasks
//
// Task is the wire view of a long-running operation. Its Status is derived by
// the tasks package on every read; TaskStatus.Terminal reports the absorbing
// states. Messages that belong to a task carry the task id under the
// MetaRelatedTask key of their _meta block:
//
//	meta := mcp.WithRelatedTask(taskID)
//	id, ok := meta.RelatedTask()
//
// # Pagination
//
// List operations use cursor-based pagination. PaginatedRequest and
// PaginatedResult are embedded in request / result envelopes.
package mcp
