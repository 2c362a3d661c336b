package protocol

import "fmt"

// MCPError wraps ErrorPayload to implement the error interface.
// Server request handlers can return this type to choose the JSON-RPC error code.
type MCPError struct {
	ErrorPayload
}

// Error implements the error interface for MCPError.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP Error: Code=%d, Message=%s", e.Code, e.Message)
}

// NewMCPError creates an MCPError with the given code and message.
func NewMCPError(code ErrorCode, message string) *MCPError {
	return &MCPError{
		ErrorPayload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// NewInvalidParamsError creates an MCPError for Invalid Params.
func NewInvalidParamsError(message string) *MCPError {
	return NewMCPError(CodeInvalidParams, message)
}

// NewMethodNotFoundError is the reply to a request for an unhandled method.
// The method name travels in the error data.
func NewMethodNotFoundError(methodName string) *MCPError {
	err := NewMCPError(CodeMethodNotFound, "Method not found")
	err.Data = map[string]string{"method": methodName}
	return err
}
