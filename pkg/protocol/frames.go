package protocol

import "encoding/json"

// ProtocolVersion is bumped on breaking frame changes.
const ProtocolVersion = 1

// RequestFrame is a client → server RPC call.
type RequestFrame struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is the server's reply to a RequestFrame.
type ResponseFrame struct {
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload interface{} `json:"payload,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// EventFrame is a server-push event (no ID, not a reply).
type EventFrame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// ErrorBody carries the stable error taxonomy over the wire.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes. Dashboards match on these, keep them stable.
const (
	ErrInvalidParams   = "invalid_params"
	ErrUnauthorized    = "unauthorized"
	ErrRateLimited     = "rate_limited"
	ErrBlockedByPolicy = "blocked_by_policy"
	ErrApprovalTimeout = "approval_timeout"
	ErrApprovalReject  = "approval_rejected"
	ErrSandbox         = "sandbox_unavailable"
	ErrNotFound        = "not_found"
	ErrInternal        = "internal_error"
)

// NewEvent builds an event frame.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Event: name, Payload: payload}
}

// OKResponse builds a success response for a request id.
func OKResponse(id string, payload interface{}) *ResponseFrame {
	return &ResponseFrame{ID: id, OK: true, Payload: payload}
}

// ErrResponse builds an error response for a request id.
func ErrResponse(id, code, message string) *ResponseFrame {
	return &ResponseFrame{ID: id, OK: false, Error: &ErrorBody{Code: code, Message: message}}
}
