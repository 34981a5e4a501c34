// Package jsonrpc holds the JSON-RPC 2.0 envelopes exchanged over the task
// endpoint. Incoming bodies decode into AnyMessage, which validates the
// envelope and classifies it by Kind; outgoing messages are built with
// NewRequest, NewResultResponse and NewErrorResponse.
package jsonrpc
