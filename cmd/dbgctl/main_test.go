package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/dbgctl/client"
	"github.com/localrivet/dbgctl/config"
	"github.com/localrivet/dbgctl/logx"
	"github.com/localrivet/dbgctl/protocol"
	"github.com/localrivet/dbgctl/session"
	"github.com/localrivet/dbgctl/transport/sse/ssetest"
)

// debugServer is a tiny in-memory debugger behind ssetest.
type debugServer struct {
	*ssetest.Server

	mu       sync.Mutex
	sessions map[string]string // session -> open dump
	commands []string
}

func newDebugServer(t *testing.T) *debugServer {
	d := &debugServer{sessions: make(map[string]string)}
	d.Server = ssetest.NewServer(t, ssetest.Options{Tools: map[string]ssetest.ToolFunc{
		client.ToolSession: d.session,
		client.ToolDump:    d.dump,
		client.ToolExec:    d.exec,
	}})
	return d
}

func (d *debugServer) session(args map[string]interface{}) protocol.CallToolResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, _ := args["sessionId"].(string)
	switch args["action"] {
	case "create":
		d.sessions["sess-1"] = ""
		return ssetest.TextResult("Session created successfully. Session ID: sess-1")
	case "list":
		type entry struct {
			SessionID     string `json:"sessionId"`
			CurrentDumpID string `json:"currentDumpId,omitempty"`
		}
		list := struct {
			Sessions []entry `json:"sessions"`
		}{Sessions: []entry{}}
		for sid, dump := range d.sessions {
			list.Sessions = append(list.Sessions, entry{SessionID: sid, CurrentDumpID: dump})
		}
		data, _ := json.Marshal(list)
		return ssetest.TextResult(string(data))
	case "close":
		delete(d.sessions, id)
		return ssetest.TextResult("Session " + id + " closed")
	case "restore":
		if _, ok := d.sessions[id]; !ok {
			return ssetest.ErrorResult("Session " + id + " not found")
		}
		return ssetest.TextResult("Session " + id + " restored")
	}
	return ssetest.ErrorResult("unsupported")
}

func (d *debugServer) dump(args map[string]interface{}) protocol.CallToolResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, _ := args["sessionId"].(string)
	if _, ok := d.sessions[id]; !ok {
		return ssetest.ErrorResult("Session " + id + " not found")
	}
	dumpID, _ := args["dumpId"].(string)
	if args["action"] == "open" {
		d.sessions[id] = dumpID
		return ssetest.TextResult("Opened " + dumpID)
	}
	d.sessions[id] = ""
	return ssetest.TextResult("Closed " + dumpID)
}

func (d *debugServer) exec(args map[string]interface{}) protocol.CallToolResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, _ := args["sessionId"].(string)
	if _, ok := d.sessions[id]; !ok {
		return ssetest.ErrorResult("Session " + id + " not found or expired")
	}
	command, _ := args["command"].(string)
	d.commands = append(d.commands, command)
	return ssetest.TextResult("0:000> " + command)
}

func (d *debugServer) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, id)
}

// writeConfig points dbgctl at srv with a private state database.
func writeConfig(t *testing.T, serverURL string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "dbgctl.yaml")
	content := "server-url: " + serverURL + "\n" +
		"state-db: " + filepath.Join(dir, "state.db") + "\n" +
		"user-id: tester\n" +
		"reconnect-delay: 10ms\n" +
		"log-level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(context.Background(), append([]string{"dbgctl", "--config", configPath}, args...))
	return out.String(), err
}

func TestSessionLifecycleAcrossInvocations(t *testing.T) {
	srv := newDebugServer(t)
	cfg := writeConfig(t, srv.URL)

	out, err := run(t, cfg, "session", "create")
	require.NoError(t, err)
	assert.Contains(t, out, "Session ID: sess-1")

	out, err = run(t, cfg, "dump", "open", "crash.dmp")
	require.NoError(t, err)
	assert.Contains(t, out, "Opened crash.dmp")

	out, err = run(t, cfg, "exec", "!analyze", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "0:000> !analyze -v")

	out, err = run(t, cfg, "state", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "sess-1")
	assert.Contains(t, out, "crash.dmp")
	assert.Contains(t, out, "tester")

	_, err = run(t, cfg, "dump", "close")
	require.NoError(t, err)
	out, err = run(t, cfg, "dump", "open")
	require.NoError(t, err)
	assert.Contains(t, out, "Opened crash.dmp", "reopens the last selected dump")

	_, err = run(t, cfg, "session", "close")
	require.NoError(t, err)
	out, err = run(t, cfg, "state", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sess-1")
}

func TestSessionListClearsVanishedSession(t *testing.T) {
	srv := newDebugServer(t)
	cfg := writeConfig(t, srv.URL)

	_, err := run(t, cfg, "session", "create")
	require.NoError(t, err)
	srv.forget("sess-1")

	out, err := run(t, cfg, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions")

	_, err = run(t, cfg, "exec", "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active session")
}

func TestExecOnExpiredSessionClearsState(t *testing.T) {
	srv := newDebugServer(t)
	cfg := writeConfig(t, srv.URL)

	_, err := run(t, cfg, "session", "create")
	require.NoError(t, err)
	srv.forget("sess-1")

	_, err = run(t, cfg, "exec", "k")
	require.Error(t, err)
	assert.True(t, client.IsSessionNotFound(err))

	out, err := run(t, cfg, "state", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sess-1")
}

func TestHealthAndTools(t *testing.T) {
	srv := newDebugServer(t)
	cfg := writeConfig(t, srv.URL)

	out, err := run(t, cfg, "health")
	require.NoError(t, err)
	assert.Equal(t, "Healthy\n", out)

	out, err = run(t, cfg, "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "ssetest")
	assert.Contains(t, out, client.ToolExec)
}

func TestAnalyzeRejectsUnknownKind(t *testing.T) {
	srv := newDebugServer(t)
	cfg := writeConfig(t, srv.URL)

	_, err := run(t, cfg, "analyze", "astrology")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown analysis kind")
}

func TestStateServersAndTimeouts(t *testing.T) {
	srv := newDebugServer(t)
	cfg := writeConfig(t, srv.URL)

	out, err := run(t, cfg, "state", "servers")
	require.NoError(t, err)
	assert.Equal(t, "No remembered servers\n", out)

	_, err = run(t, cfg, "session", "create")
	require.NoError(t, err)

	out, err = run(t, cfg, "state", "servers")
	require.NoError(t, err)
	assert.Equal(t, "* "+srv.URL+"\n", out)

	out, err = run(t, cfg, "state", "show")
	require.NoError(t, err)
	assert.Regexp(t, `Analyze timeout:\s+30m\n`, out)
}

func TestResyncIsPersistedImmediately(t *testing.T) {
	ctx := context.Background()
	store, err := session.OpenStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	rt := &runtime{
		cfg:    &config.Config{ServerURL: "http://debug:5000"},
		logger: logx.NewNopLogger(),
		store:  store,
		state:  session.NewState("tester"),
	}
	rt.state.SetSession("sess-9")

	rt.persistResync(session.StatusNotSynced)
	servers, err := store.Servers(ctx)
	require.NoError(t, err)
	assert.Empty(t, servers)

	rt.state.SetDump("server-side.dmp")
	rt.persistResync(session.StatusSynced)
	loaded, err := store.Load(ctx, "http://debug:5000", "tester")
	require.NoError(t, err)
	assert.Equal(t, "sess-9", loaded.SessionID())
	assert.Equal(t, "server-side.dmp", loaded.DumpID())
}

func TestTeardownReportsSaveFailureOnce(t *testing.T) {
	store, err := session.OpenStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	rt := &runtime{
		cfg:    &config.Config{ServerURL: "http://debug:5000"},
		logger: logx.NewNopLogger(),
		client: client.New(client.WithLogger(logx.NewNopLogger())),
		store:  store,
		state:  session.NewState("tester"),
	}
	err = teardown(context.WithValue(context.Background(), runtimeKey{}, rt), nil)
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(err.Error(), "save state:"), err.Error())
}
