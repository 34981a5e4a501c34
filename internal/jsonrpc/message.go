package jsonrpc

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ProtocolVersion is the value of the "jsonrpc" member of every message.
const ProtocolVersion = "2.0"

// Kind classifies a decoded message.
type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	}
	return "unknown"
}

// Request is a call or, without an ID, a notification.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response answers a Request. Exactly one of Result and Error is set; ID is
// null when the request could not be identified.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// AnyMessage is the union of every envelope, used where the kind is only
// known after decoding.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// NewRequest encodes params into a request. A nil id builds a notification.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	raw, err := encodeOptional(params)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s params", method)
	}
	return &Request{JSONRPCVersion: ProtocolVersion, Method: method, Params: raw, ID: id}, nil
}

func NewResultResponse(id *RequestID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "encode result")
	}
	return &Response{JSONRPCVersion: ProtocolVersion, Result: raw, ID: id}, nil
}

func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error:          &Error{Code: code, Message: message, Data: data},
		ID:             id,
	}
}

func encodeOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON decodes and validates the envelope. Messages with a method
// must not carry a result or an error; all others must carry exactly one.
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type plain AnyMessage
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.Wrap(err, "decode message")
	}
	if p.JSONRPCVersion != ProtocolVersion {
		return errors.Newf("jsonrpc version %q, want %q", p.JSONRPCVersion, ProtocolVersion)
	}
	hasResult, hasError := len(p.Result) > 0, p.Error != nil
	switch {
	case p.Method != "" && (hasResult || hasError):
		return errors.New("a request carries neither result nor error")
	case p.Method == "" && hasResult == hasError:
		return errors.New("a response carries exactly one of result and error")
	}
	*m = AnyMessage(p)
	return nil
}

func (m *AnyMessage) Kind() Kind {
	switch {
	case m.Method == "":
		return KindResponse
	case m.ID.IsNil():
		return KindNotification
	default:
		return KindRequest
	}
}

// AsRequest returns nil for responses.
func (m *AnyMessage) AsRequest() *Request {
	if m.Kind() == KindResponse {
		return nil
	}
	return &Request{JSONRPCVersion: m.JSONRPCVersion, Method: m.Method, Params: m.Params, ID: m.ID}
}

// AsResponse returns nil for requests and notifications.
func (m *AnyMessage) AsResponse() *Response {
	if m.Kind() != KindResponse {
		return nil
	}
	return &Response{JSONRPCVersion: m.JSONRPCVersion, Result: m.Result, Error: m.Error, ID: m.ID}
}
