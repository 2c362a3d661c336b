// Package protocol defines the JSON-RPC 2.0 envelopes and the Model Context Protocol (MCP)
// structures spoken by the dbgctl client.
package protocol

// ErrorCode is a JSON-RPC error code.
type ErrorCode int

const (
	// ProtocolVersion is the MCP revision advertised in the initialize request.
	ProtocolVersion = Version20241105

	// --- Method names ---

	// Initialization
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized" // Notification

	// Tools
	MethodListTools              = "tools/list"
	MethodCallTool               = "tools/call"
	MethodNotifyToolsListChanged = "notifications/tools/list_changed" // Notification

	// Sampling (server -> client request)
	MethodSamplingCreateMessage = "sampling/createMessage"

	// Ping, in both directions
	MethodPing = "ping"

	// Logging and progress (server -> client notifications)
	MethodNotificationMessage = "notifications/message"
	MethodProgress            = "notifications/progress"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     ErrorCode = -32700
	CodeInvalidRequest ErrorCode = -32600
	CodeMethodNotFound ErrorCode = -32601
	CodeInvalidParams  ErrorCode = -32602
	CodeInternalError  ErrorCode = -32603
)
