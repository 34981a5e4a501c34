// Package outbound carries server-to-client traffic through the session
// store: an Outbox for session-level notifications and a Caller for requests
// issued on behalf of a task.
package outbound
