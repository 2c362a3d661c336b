package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/dbgctl/protocol"
	"github.com/localrivet/dbgctl/session"
	"github.com/localrivet/dbgctl/transport/sse/ssetest"
)

type toolRecorder struct {
	mu    sync.Mutex
	calls map[string][]map[string]interface{}
}

func (r *toolRecorder) tool(name string, reply func(args map[string]interface{}) protocol.CallToolResult) ssetest.ToolFunc {
	return func(args map[string]interface{}) protocol.CallToolResult {
		r.mu.Lock()
		if r.calls == nil {
			r.calls = make(map[string][]map[string]interface{})
		}
		r.calls[name] = append(r.calls[name], args)
		r.mu.Unlock()
		return reply(args)
	}
}

func (r *toolRecorder) last(name string) map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := r.calls[name]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

func TestFacadeArguments(t *testing.T) {
	rec := &toolRecorder{}
	sessionTool := rec.tool(ToolSession, func(args map[string]interface{}) protocol.CallToolResult {
		switch args["action"] {
		case "create":
			return ssetest.TextResult("Session created successfully. Session ID: sess-123")
		case "list":
			return ssetest.TextResult(`{"sessions":[{"sessionId":"sess-123","currentDumpId":"crash.dmp","status":"Active"},` +
				`{"sessionId":"sess-9","currentDumpId":null}],"total":"2","userId":"alice"}`)
		case "debugger_info":
			return ssetest.TextResult("Session: sess-123\nDebugger Type: WinDbg\nVersion: 10.0")
		default:
			return ssetest.TextResult(args["action"].(string) + " ok")
		}
	})
	srv := ssetest.NewServer(t, ssetest.Options{Tools: map[string]ssetest.ToolFunc{
		ToolSession: sessionTool,
		ToolDump:    rec.tool(ToolDump, func(map[string]interface{}) protocol.CallToolResult { return ssetest.TextResult("dump ok") }),
		ToolExec:    rec.tool(ToolExec, func(map[string]interface{}) protocol.CallToolResult { return ssetest.TextResult("0:000> ok") }),
		ToolAnalyze: rec.tool(ToolAnalyze, func(map[string]interface{}) protocol.CallToolResult { return ssetest.TextResult("analysis") }),
	}})
	c := connectTestClient(t, srv)
	ctx := context.Background()

	id, msg, err := c.CreateSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "sess-123", id)
	assert.Contains(t, msg, "Session created")
	assert.Equal(t, map[string]interface{}{"action": "create", "userId": "alice"}, rec.last(ToolSession))

	list, err := c.ListSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, "alice", list.UserID)
	assert.Equal(t, []session.Entry{
		{SessionID: "sess-123", DumpID: "crash.dmp"},
		{SessionID: "sess-9"},
	}, list.Entries())

	info, err := c.GetDebuggerInfo(ctx, "sess-123", "alice")
	require.NoError(t, err)
	assert.Equal(t, "WinDbg", info.Type)
	assert.Equal(t, "debugger_info", rec.last(ToolSession)["action"])

	_, err = c.RestoreSession(ctx, "sess-123", "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"action": "restore", "sessionId": "sess-123", "userId": "alice"}, rec.last(ToolSession))

	_, err = c.OpenDump(ctx, "sess-123", "alice", "crash.dmp")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"action": "open", "sessionId": "sess-123", "userId": "alice", "dumpId": "crash.dmp",
	}, rec.last(ToolDump))

	_, err = c.CloseDump(ctx, "sess-123", "alice", "crash.dmp")
	require.NoError(t, err)
	assert.Equal(t, "close", rec.last(ToolDump)["action"])

	out, err := c.ExecuteCommand(ctx, "sess-123", "alice", "!analyze -v")
	require.NoError(t, err)
	assert.Equal(t, "0:000> ok", out)
	assert.Equal(t, map[string]interface{}{"sessionId": "sess-123", "userId": "alice", "command": "!analyze -v"}, rec.last(ToolExec))

	_, err = c.AnalyzeCrash(ctx, "sess-123", "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"kind": "crash", "sessionId": "sess-123", "userId": "alice"}, rec.last(ToolAnalyze))

	_, err = c.Analyze(ctx, AnalysisSecurity, "sess-123", "alice", map[string]interface{}{"depth": 2, "kind": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "security", rec.last(ToolAnalyze)["kind"])
	assert.Equal(t, float64(2), rec.last(ToolAnalyze)["depth"])

	_, err = c.CloseSession(ctx, "sess-123", "alice")
	require.NoError(t, err)
	assert.Equal(t, "close", rec.last(ToolSession)["action"])
}

func TestAnalyzeAIUsesAnalyzeTimeout(t *testing.T) {
	captured := make(chan *protocol.Message, 1)
	srv := ssetest.NewServer(t, ssetest.Options{
		OnRequest: func(sess *ssetest.Session, msg *protocol.Message) bool {
			if msg.Method != protocol.MethodCallTool {
				return false
			}
			captured <- msg
			go func() {
				time.Sleep(300 * time.Millisecond)
				_ = sess.Reply(msg.ID, ssetest.TextResult("deep analysis"))
			}()
			return true
		},
	})
	c := connectTestClient(t, srv, WithToolResponseTimeout(100*time.Millisecond), WithAnalyzeTimeout(InfiniteTimeout))

	out, err := c.Analyze(context.Background(), AnalysisAI, "s", "u", nil)
	require.NoError(t, err)
	assert.Equal(t, "deep analysis", out)
	assert.Equal(t, 100*time.Millisecond, c.ToolResponseTimeout(), "timeout restored after analysis")
	<-captured

	_, err = c.Analyze(context.Background(), AnalysisPerformance, "s", "u", nil)
	assert.True(t, IsTimeoutError(err))
	<-captured
}

func TestAnalyzeAIRestoresTimeoutOnFailure(t *testing.T) {
	srv := ssetest.NewServer(t, ssetest.Options{
		OnRequest: func(sess *ssetest.Session, msg *protocol.Message) bool {
			if msg.Method != protocol.MethodCallTool {
				return false
			}
			var params protocol.CallToolParams
			_ = protocol.UnmarshalPayload(msg.Params, &params)
			if params.Arguments["sessionId"] == "drop" {
				sess.Close()
				return true
			}
			_ = sess.Reply(msg.ID, ssetest.ErrorResult("No dump is open"))
			return true
		},
	})
	c := connectTestClient(t, srv, WithToolResponseTimeout(time.Second), WithAnalyzeTimeout(InfiniteTimeout))

	_, err := c.Analyze(context.Background(), AnalysisAI, "s", "u", nil)
	require.Error(t, err)
	assert.True(t, IsToolError(err))
	assert.Equal(t, time.Second, c.ToolResponseTimeout(), "restored after a tool error")

	_, err = c.Analyze(context.Background(), AnalysisAI, "drop", "u", nil)
	require.Error(t, err)
	assert.False(t, IsTimeoutError(err), "stream loss fails the call without waiting")
	assert.Equal(t, time.Second, c.ToolResponseTimeout(), "restored after the stream dropped")
	assert.Equal(t, InfiniteTimeout, c.AnalyzeTimeout())
}

func TestCallToolErrorsSurfaceTyped(t *testing.T) {
	srv := ssetest.NewServer(t, ssetest.Options{Tools: map[string]ssetest.ToolFunc{
		ToolExec: func(map[string]interface{}) protocol.CallToolResult {
			return ssetest.ErrorResult("Session sess-1 not found or expired")
		},
	}})
	c := connectTestClient(t, srv)

	_, err := c.ExecuteCommand(context.Background(), "sess-1", "u", "k")
	require.Error(t, err)
	assert.True(t, IsToolError(err))
	assert.True(t, IsSessionNotFound(err))

	_, err = c.CallTool(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.True(t, IsServerError(err))
	assert.False(t, IsSessionNotFound(err))
}

func TestParseSessionID(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{`{"sessionId":"abc-1","message":"created"}`, "abc-1", true},
		{"Session created successfully. Session ID: 7f3c2a", "7f3c2a", true},
		{"Session created: sess_42", "sess_42", true},
		{`sessionId="quoted-9"`, "quoted-9", true},
		{"Session ID: abc.", "abc", true},
		{"Created.", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseSessionID(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestParseDebuggerInfo(t *testing.T) {
	assert.Equal(t, "LLDB", ParseDebuggerInfo("Debugger Type: LLDB \r\nPlatform: linux").Type)
	assert.Empty(t, ParseDebuggerInfo("no debugger here").Type)
}

func TestDecodeSessionList(t *testing.T) {
	list, err := DecodeSessionList(`{"sessions":[{"sessionId":"a"}],"userId":"u"}`)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	_, err = DecodeSessionList("No sessions")
	assert.ErrorIs(t, err, ErrInvalidResponse)

	_, err = DecodeSessionList(`{"sessions":"nope"}`)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestParseAnalysisKind(t *testing.T) {
	kind, err := ParseAnalysisKind("AI")
	require.NoError(t, err)
	assert.Equal(t, AnalysisAI, kind)

	_, err = ParseAnalysisKind("magic")
	assert.Error(t, err)
}

func TestSessionListJSONTags(t *testing.T) {
	data, err := json.Marshal(SessionList{Sessions: []SessionSummary{{SessionID: "a"}}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sessionId":"a"`)
}
