// Package protocol defines the JSON-RPC 2.0 envelopes and the Model Context Protocol (MCP)
// structures spoken by the dbgctl client.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// JSONRPCVersion is the only JSON-RPC version accepted on the wire.
const JSONRPCVersion = "2.0"

// ErrorPayload defines the structure for the 'error' object within a JSON-RPC response.
type ErrorPayload struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Request is an outbound JSON-RPC request or notification. A nil ID marshals
// without an "id" member, which makes the envelope a notification.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is an outbound JSON-RPC response. ID is kept as raw JSON so that
// the id of a server-originated request is echoed byte for byte.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// NewRequest creates a JSON-RPC request with a numeric id.
func NewRequest(id int64, method string, params interface{}) *Request {
	return &Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// NewNotification creates a JSON-RPC notification (no id).
func NewNotification(method string, params interface{}) *Request {
	return &Request{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	}
}

// NewSuccessResponse creates a JSON-RPC success response echoing id.
func NewSuccessResponse(id json.RawMessage, result interface{}) *Response {
	if result == nil {
		result = struct{}{}
	}
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      normalizeID(id),
		Result:  result,
	}
}

// NewErrorResponse creates a JSON-RPC error response echoing id.
func NewErrorResponse(id json.RawMessage, code ErrorCode, message string, data interface{}) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      normalizeID(id),
		Error: &ErrorPayload{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// MessageKind discriminates the inbound envelope shapes.
type MessageKind int

const (
	// KindInvalid is never produced by ParseMessage; it is the zero value.
	KindInvalid MessageKind = iota
	// KindRequest is a message with a method and an id.
	KindRequest
	// KindNotification is a message with a method and no id.
	KindNotification
	// KindResponse is a message with an id and no method.
	KindResponse
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Message is an inbound JSON-RPC envelope as delivered over the SSE stream.
// Exactly one of the request shape (Method/Params) or the response shape
// (Result/Error) is meaningful, as reported by Kind.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`

	// Raw is the payload text the message was parsed from.
	Raw string `json:"-"`
}

// ErrInvalidMessage is returned by ParseMessage for payloads that are not a JSON object.
var ErrInvalidMessage = errors.New("payload is not a JSON-RPC object")

// ParseMessage classifies a raw payload. Empty, whitespace-only, null,
// non-JSON and non-object payloads are rejected with ErrInvalidMessage.
func ParseMessage(payload []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidMessage
	}
	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	msg.Raw = string(payload)
	return &msg, nil
}

// HasID reports whether the message carries a non-null id.
func (m *Message) HasID() bool {
	id := bytes.TrimSpace(m.ID)
	return len(id) > 0 && !bytes.Equal(id, []byte("null"))
}

// Kind reports which envelope shape the message has.
func (m *Message) Kind() MessageKind {
	switch {
	case m.Method != "" && m.HasID():
		return KindRequest
	case m.Method != "":
		return KindNotification
	case m.HasID():
		return KindResponse
	default:
		return KindInvalid
	}
}

// NumericID coerces the message id to an integer correlation key.
func (m *Message) NumericID() (int64, bool) {
	return CoerceID(m.ID)
}

// CoerceID converts a raw JSON id into an integer. JSON numbers with an
// integral value and strings holding such a number are accepted; anything
// else (including non-numeric strings like "abc") yields false.
func CoerceID(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(text)
	} else {
		text = string(raw)
	}

	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// UnmarshalPayload decodes a raw params or result member into target.
func UnmarshalPayload(payload json.RawMessage, target interface{}) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("payload is nil, cannot unmarshal")
	}
	if err := json.Unmarshal(trimmed, target); err != nil {
		return fmt.Errorf("failed to unmarshal payload into target type %T: %w", target, err)
	}
	return nil
}
