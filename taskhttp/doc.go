// Package taskhttp exposes the task engine over HTTP.
//
// The transport is deliberately stateless: sessions, tasks, queued
// server-to-client messages, response slots and subscription versions all
// live in the session store, so a load balancer may send each request to a
// different replica.
//
// A client initializes with a POST carrying no Mcp-Session-Id header and
// receives the new session id in that header. It then POSTs requests, and
// polls with GET to collect notifications and, for a task in
// input_required, the task's pending requests (GET ?taskId=...). Answers to
// those requests are POSTed back as ordinary JSON-RPC responses using the id
// they were delivered with.
package taskhttp
