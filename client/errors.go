package client

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Sentinels matched with errors.Is.
var (
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrDisconnected     = errors.New("connection to server was lost")
	ErrNoEndpoint       = errors.New("server did not announce a message endpoint")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrTransportFailure = errors.New("transport failure")
	ErrInvalidResponse  = errors.New("invalid response from server")
	ErrServerError      = errors.New("server reported error")
	ErrCancelled        = errors.New("operation was cancelled")
)

// ClientError carries a message, an optional numeric code and a cause.
// The other error types embed it.
type ClientError struct {
	Message string
	Code    int
	Cause   error
}

func (e *ClientError) Error() string {
	msg := e.Message
	if e.Code != 0 {
		msg = fmt.Sprintf("%s [%d]", msg, e.Code)
	}
	if e.Cause == nil {
		return msg
	}
	return msg + ": " + e.Cause.Error()
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// TransportError is an HTTP or stream failure.
type TransportError struct {
	ClientError
	Transport string
}

func (e *TransportError) Error() string {
	return e.Transport + ": " + e.ClientError.Error()
}

// ConnectionError reports a failed connect, handshake or use of a dead connection.
type ConnectionError struct {
	ClientError
	Endpoint string
}

func (e *ConnectionError) Error() string {
	if e.Endpoint == "" {
		return e.ClientError.Error()
	}
	return fmt.Sprintf("%s: %s", e.Endpoint, e.ClientError.Error())
}

// TimeoutError means no response arrived within the response timeout.
type TimeoutError struct {
	ClientError
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return e.Operation + ": " + e.ClientError.Error()
}

// ServerError wraps a JSON-RPC error object from the server.
type ServerError struct {
	ClientError
	Method string
}

func (e *ServerError) Error() string {
	return e.Method + ": " + e.ClientError.Error()
}

// Unwrap lets errors.Is match ErrServerError.
func (e *ServerError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrServerError
}

// ToolError is raised when a tool call completed with isError set.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

func NewClientError(message string, code int, cause error) error {
	return &ClientError{
		Message: message,
		Code:    code,
		Cause:   cause,
	}
}

// NewTransportError returns a *TransportError for the named transport.
func NewTransportError(transport, message string, cause error) error {
	return &TransportError{
		ClientError: ClientError{
			Message: message,
			Cause:   cause,
		},
		Transport: transport,
	}
}

// NewConnectionError returns a *ConnectionError for endpoint.
func NewConnectionError(endpoint, message string, cause error) error {
	return &ConnectionError{
		ClientError: ClientError{
			Message: message,
			Cause:   cause,
		},
		Endpoint: endpoint,
	}
}

// NewTimeoutError defaults cause to ErrRequestTimeout.
func NewTimeoutError(operation string, timeout time.Duration, cause error) error {
	if cause == nil {
		cause = ErrRequestTimeout
	}
	return &TimeoutError{
		ClientError: ClientError{
			Message: fmt.Sprintf("no response within %v", timeout),
			Cause:   cause,
		},
		Operation: operation,
		Timeout:   timeout,
	}
}

func NewServerError(method string, code int, message string) error {
	return &ServerError{
		ClientError: ClientError{
			Message: message,
			Code:    code,
		},
		Method: method,
	}
}

// IsTimeoutError reports a response timeout.
func IsTimeoutError(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr) || errors.Is(err, ErrRequestTimeout)
}

func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr) || errors.Is(err, ErrTransportFailure)
}

// IsConnectionError also matches the connection sentinels.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrDisconnected) ||
		errors.Is(err, ErrNoEndpoint)
}

func IsServerError(err error) bool {
	var serverErr *ServerError
	return errors.As(err, &serverErr) || errors.Is(err, ErrServerError)
}

// IsToolError reports a tool result flagged isError.
func IsToolError(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr)
}

var sessionGonePattern = regexp.MustCompile(`(?i)session\b.*\b(not found|expired|does not exist|no longer exists|unknown)`)

// IsSessionNotFound reports whether an application error says that the
// debugging session is gone on the server. Servers signal this in the
// message text rather than with a dedicated code.
func IsSessionNotFound(err error) bool {
	if err == nil || !(IsToolError(err) || IsServerError(err)) {
		return false
	}
	return sessionGonePattern.MatchString(err.Error())
}
