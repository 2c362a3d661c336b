package client

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/localrivet/dbgctl/protocol"
	"github.com/localrivet/dbgctl/session"
)

// Tool names exposed by the debugger server.
const (
	ToolSession = "session"
	ToolDump    = "dump"
	ToolExec    = "exec"
	ToolAnalyze = "analyze"
)

// AnalysisKind selects the analysis the analyze tool runs.
type AnalysisKind string

const (
	AnalysisCrash       AnalysisKind = "crash"
	AnalysisAI          AnalysisKind = "ai"
	AnalysisPerformance AnalysisKind = "performance"
	AnalysisSecurity    AnalysisKind = "security"
)

// AnalysisKinds lists the supported kinds in display order.
var AnalysisKinds = []AnalysisKind{AnalysisCrash, AnalysisAI, AnalysisPerformance, AnalysisSecurity}

// ParseAnalysisKind validates a user-supplied kind.
func ParseAnalysisKind(s string) (AnalysisKind, error) {
	for _, kind := range AnalysisKinds {
		if strings.EqualFold(s, string(kind)) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown analysis kind %q", s)
}

// SessionSummary is one entry of the server's session list.
type SessionSummary struct {
	SessionID     string `json:"sessionId"`
	CurrentDumpID string `json:"currentDumpId"`
	DebuggerType  string `json:"debuggerType"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
	LastActivity  string `json:"lastActivity"`
}

// SessionList is the decoded result of session {action:list}.
type SessionList struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int              `json:"total"`
	UserID   string           `json:"userId"`
}

// Entries converts the list to the form session.Resync consumes.
func (l *SessionList) Entries() []session.Entry {
	entries := make([]session.Entry, 0, len(l.Sessions))
	for _, s := range l.Sessions {
		entries = append(entries, session.Entry{SessionID: s.SessionID, DumpID: s.CurrentDumpID})
	}
	return entries
}

// DebuggerInfo is the result of session {action:debugger_info}.
type DebuggerInfo struct {
	Type string
	Raw  string
}

var (
	debuggerTypePattern = regexp.MustCompile(`Debugger Type:\s*([^\r\n]+)`)
	sessionIDPattern    = regexp.MustCompile(`(?i)session\s*(?:id)?\s*(?:created)?\s*[:=]\s*"?([A-Za-z0-9][\w.:-]*)`)
)

// CallTool invokes a server tool and extracts its textual result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	raw, err := c.Send(ctx, protocol.MethodCallTool, protocol.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	return ExtractToolText(name, raw)
}

// CreateSession starts a debugging session and returns its ID along with the
// server's message.
func (c *Client) CreateSession(ctx context.Context, userID string) (string, string, error) {
	text, err := c.CallTool(ctx, ToolSession, map[string]interface{}{
		"action": "create",
		"userId": userID,
	})
	if err != nil {
		return "", "", err
	}
	id, ok := ParseSessionID(text)
	if !ok {
		return "", text, NewClientError("session created but no session ID was returned", 0, ErrInvalidResponse)
	}
	return id, text, nil
}

// CloseSession ends a debugging session.
func (c *Client) CloseSession(ctx context.Context, sessionID, userID string) (string, error) {
	return c.CallTool(ctx, ToolSession, map[string]interface{}{
		"action":    "close",
		"sessionId": sessionID,
		"userId":    userID,
	})
}

// ListSessions returns the user's sessions on the server.
func (c *Client) ListSessions(ctx context.Context, userID string) (*SessionList, error) {
	text, err := c.CallTool(ctx, ToolSession, map[string]interface{}{
		"action": "list",
		"userId": userID,
	})
	if err != nil {
		return nil, err
	}
	return DecodeSessionList(text)
}

// RestoreSession reattaches to an existing session.
func (c *Client) RestoreSession(ctx context.Context, sessionID, userID string) (string, error) {
	return c.CallTool(ctx, ToolSession, map[string]interface{}{
		"action":    "restore",
		"sessionId": sessionID,
		"userId":    userID,
	})
}

// GetDebuggerInfo reports which debugger backs a session.
func (c *Client) GetDebuggerInfo(ctx context.Context, sessionID, userID string) (*DebuggerInfo, error) {
	text, err := c.CallTool(ctx, ToolSession, map[string]interface{}{
		"action":    "debugger_info",
		"sessionId": sessionID,
		"userId":    userID,
	})
	if err != nil {
		return nil, err
	}
	return ParseDebuggerInfo(text), nil
}

// OpenDump loads a dump file into a session.
func (c *Client) OpenDump(ctx context.Context, sessionID, userID, dumpID string) (string, error) {
	return c.CallTool(ctx, ToolDump, map[string]interface{}{
		"action":    "open",
		"sessionId": sessionID,
		"userId":    userID,
		"dumpId":    dumpID,
	})
}

// CloseDump unloads the session's dump.
func (c *Client) CloseDump(ctx context.Context, sessionID, userID, dumpID string) (string, error) {
	return c.CallTool(ctx, ToolDump, map[string]interface{}{
		"action":    "close",
		"sessionId": sessionID,
		"userId":    userID,
		"dumpId":    dumpID,
	})
}

// ExecuteCommand runs a debugger command in a session.
func (c *Client) ExecuteCommand(ctx context.Context, sessionID, userID, command string) (string, error) {
	return c.CallTool(ctx, ToolExec, map[string]interface{}{
		"sessionId": sessionID,
		"userId":    userID,
		"command":   command,
	})
}

// Analyze runs an analysis of the given kind. AI-assisted analysis is
// long-running and waits up to AnalyzeTimeout instead of the normal response
// timeout.
func (c *Client) Analyze(ctx context.Context, kind AnalysisKind, sessionID, userID string, extra map[string]interface{}) (string, error) {
	args := make(map[string]interface{}, len(extra)+3)
	for k, v := range extra {
		args[k] = v
	}
	args["kind"] = string(kind)
	args["sessionId"] = sessionID
	args["userId"] = userID

	if kind == AnalysisAI {
		defer c.OverrideToolResponseTimeout(c.analyzeTimeout)()
	}
	return c.CallTool(ctx, ToolAnalyze, args)
}

// AnalyzeCrash runs crash analysis on the session's open dump.
func (c *Client) AnalyzeCrash(ctx context.Context, sessionID, userID string) (string, error) {
	return c.Analyze(ctx, AnalysisCrash, sessionID, userID, nil)
}

// DecodeSessionList decodes the JSON text returned by session {action:list}.
func DecodeSessionList(text string) (*SessionList, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, NewClientError("session list is not JSON", 0, fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}

	var list SessionList
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &list,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, NewClientError("unexpected session list shape", 0, fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}
	if list.Total == 0 {
		list.Total = len(list.Sessions)
	}
	return &list, nil
}

// ParseSessionID finds the session ID in the text returned by session {action:create}.
// A JSON object with a sessionId member and free text such as
// "Session created: abc" are both accepted.
func ParseSessionID(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var created struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal([]byte(trimmed), &created); err == nil && created.SessionID != "" {
			return created.SessionID, true
		}
	}
	if m := sessionIDPattern.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimRight(m[1], ".:"), true
	}
	return "", false
}

// ParseDebuggerInfo scans debugger_info output for "Debugger Type: <name>".
func ParseDebuggerInfo(text string) *DebuggerInfo {
	info := &DebuggerInfo{Raw: text}
	if m := debuggerTypePattern.FindStringSubmatch(text); m != nil {
		info.Type = strings.TrimSpace(m[1])
	}
	return info
}
