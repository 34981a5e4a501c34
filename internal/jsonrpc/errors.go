package jsonrpc

import "fmt"

// ErrorCode is the numeric code of an Error.
type ErrorCode int

// Codes reserved by JSON-RPC 2.0, plus the MCP code for unknown resources.
const (
	ErrorCodeParseError       ErrorCode = -32700
	ErrorCodeInvalidRequest   ErrorCode = -32600
	ErrorCodeMethodNotFound   ErrorCode = -32601
	ErrorCodeInvalidParams    ErrorCode = -32602
	ErrorCodeInternalError    ErrorCode = -32603
	ErrorCodeResourceNotFound ErrorCode = -32002
)

// Error is the error member of a Response. Handlers may return it as a Go
// error to choose the code sent to the peer.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}
