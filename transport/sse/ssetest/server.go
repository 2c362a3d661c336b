// Package ssetest provides an in-process MCP server speaking the hybrid SSE+HTTP POST
// transport, for exercising clients in tests.
package ssetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/localrivet/dbgctl/protocol"
)

// ToolFunc answers a tools/call for one tool.
type ToolFunc func(args map[string]interface{}) protocol.CallToolResult

// RequestFunc may answer any POSTed message itself. Returning false falls back
// to the built-in handling (initialize, tools/list, tools/call, ping).
type RequestFunc func(s *Session, msg *protocol.Message) bool

// Options configure a Server.
type Options struct {
	// Handshake returns the data of the first SSE event. Defaults to the
	// relative message path "/message?sessionId=<id>".
	Handshake func(sessionID string) string
	// SkipHandshake suppresses the endpoint event entirely.
	SkipHandshake bool
	// APIKeyHeader/APIKey, when set, are required on every request.
	APIKeyHeader string
	APIKey       string
	Tools        map[string]ToolFunc
	OnRequest    RequestFunc
}

// Server is a fake MCP server backed by httptest.
type Server struct {
	*httptest.Server

	opts         Options
	healthStatus atomic.Value // string
	healthCode   atomic.Int32

	mu       sync.Mutex
	sessions map[string]*Session
	latest   *Session
	posts    []*protocol.Message
	headers  map[string]http.Header // route -> last request headers
	connects int
	toolsMu  sync.RWMutex
}

// NewServer starts a Server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()
	s := &Server{
		opts:     opts,
		sessions: make(map[string]*Session),
		headers:  make(map[string]http.Header),
	}
	if s.opts.Tools == nil {
		s.opts.Tools = make(map[string]ToolFunc)
	}
	s.healthStatus.Store("Healthy")
	s.healthCode.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.handleSSE)
	mux.HandleFunc("/message", s.handleMessage)
	mux.HandleFunc("/health", s.handleHealth)
	s.Server = httptest.NewServer(s.recordHeaders(mux))

	t.Cleanup(func() {
		s.CloseSessions()
		s.Server.Close()
	})
	return s
}

// SetTool installs or replaces a tool.
func (s *Server) SetTool(name string, fn ToolFunc) {
	s.toolsMu.Lock()
	defer s.toolsMu.Unlock()
	s.opts.Tools[name] = fn
}

// SetHealth changes what GET /health reports.
func (s *Server) SetHealth(code int, status string) {
	s.healthCode.Store(int32(code))
	s.healthStatus.Store(status)
}

// Connects returns how many SSE streams have been opened.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Headers returns the headers of the last request made to path ("/sse",
// "/message" or "/health"), or nil if there was none.
func (s *Server) Headers(path string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[path].Clone()
}

func (s *Server) recordHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.headers[r.URL.Path] = r.Header.Clone()
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Session returns the most recently opened session, waiting up to timeout for one.
func (s *Server) Session(timeout time.Duration) *Session {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		latest := s.latest
		s.mu.Unlock()
		if latest != nil || time.Now().After(deadline) {
			return latest
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Posts returns a copy of every message POSTed so far.
func (s *Server) Posts() []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.Message, len(s.posts))
	copy(out, s.posts)
	return out
}

// WaitForPost waits until a POSTed message satisfies match.
func (s *Server) WaitForPost(timeout time.Duration, match func(*protocol.Message) bool) *protocol.Message {
	deadline := time.Now().Add(timeout)
	for {
		for _, msg := range s.Posts() {
			if match(msg) {
				return msg
			}
		}
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// CloseSessions ends every open SSE stream, as a server restart would.
func (s *Server) CloseSessions() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.APIKeyHeader == "" {
		return true
	}
	return r.Header.Get(s.opts.APIKeyHeader) == s.opts.APIKey
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sess := &Session{
		ID:     uuid.NewString(),
		server: s,
		events: make(chan string, 100),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.latest = sess
	s.connects++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		s.mu.Unlock()
	}()

	if !s.opts.SkipHandshake {
		endpoint := fmt.Sprintf("/message?sessionId=%s", sess.ID)
		if s.opts.Handshake != nil {
			endpoint = s.opts.Handshake(sess.ID)
		}
		fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case event := <-sess.events:
			if _, err := io.WriteString(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-sess.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	sess := s.sessions[r.URL.Query().Get("sessionId")]
	s.mu.Unlock()
	if sess == nil {
		http.Error(w, "Invalid or expired session ID", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := protocol.ParseMessage(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.posts = append(s.posts, msg)
	s.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)
	go s.dispatch(sess, msg)
}

func (s *Server) dispatch(sess *Session, msg *protocol.Message) {
	if s.opts.OnRequest != nil && s.opts.OnRequest(sess, msg) {
		return
	}
	if msg.Kind() != protocol.KindRequest {
		return
	}

	switch msg.Method {
	case protocol.MethodInitialize:
		_ = sess.Reply(msg.ID, protocol.InitializeResult{
			ProtocolVersion: protocol.ProtocolVersion,
			ServerInfo:      protocol.Implementation{Name: "ssetest", Version: "0.0.0"},
		})
	case protocol.MethodPing:
		_ = sess.Reply(msg.ID, struct{}{})
	case protocol.MethodListTools:
		s.toolsMu.RLock()
		tools := make([]protocol.Tool, 0, len(s.opts.Tools))
		for name := range s.opts.Tools {
			tools = append(tools, protocol.Tool{Name: name})
		}
		s.toolsMu.RUnlock()
		_ = sess.Reply(msg.ID, protocol.ListToolsResult{Tools: tools})
	case protocol.MethodCallTool:
		var params protocol.CallToolParams
		if err := protocol.UnmarshalPayload(msg.Params, &params); err != nil {
			_ = sess.ReplyError(msg.ID, protocol.CodeInvalidParams, err.Error())
			return
		}
		s.toolsMu.RLock()
		fn, ok := s.opts.Tools[params.Name]
		s.toolsMu.RUnlock()
		if !ok {
			_ = sess.ReplyError(msg.ID, protocol.CodeInvalidParams, "Unknown tool: "+params.Name)
			return
		}
		_ = sess.Reply(msg.ID, fn(params.Arguments))
	default:
		_ = sess.ReplyError(msg.ID, protocol.CodeMethodNotFound, "Method not found")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(int(s.healthCode.Load()))
	_ = json.NewEncoder(w).Encode(map[string]string{"status": s.healthStatus.Load().(string)})
}

// Session is one open SSE stream.
type Session struct {
	ID string

	server    *Server
	events    chan string
	done      chan struct{}
	closeOnce sync.Once
}

// SendRaw queues data as one SSE event. Embedded newlines become separate data lines.
func (s *Session) SendRaw(data string) error {
	var b strings.Builder
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return s.SendFrame(b.String())
}

// SendFrame queues pre-formatted SSE text verbatim.
func (s *Session) SendFrame(frame string) error {
	select {
	case s.events <- frame:
		return nil
	case <-s.done:
		return fmt.Errorf("session closed")
	}
}

// Send marshals v and queues it as a message event.
func (s *Session) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SendFrame(fmt.Sprintf("event: message\ndata: %s\n\n", data))
}

// Reply sends a success response for id.
func (s *Session) Reply(id json.RawMessage, result interface{}) error {
	return s.Send(protocol.NewSuccessResponse(id, result))
}

// ReplyError sends an error response for id.
func (s *Session) ReplyError(id json.RawMessage, code protocol.ErrorCode, message string) error {
	return s.Send(protocol.NewErrorResponse(id, code, message, nil))
}

// Close ends the SSE stream.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// TextResult builds a successful single-text tool result.
func TextResult(text string) protocol.CallToolResult {
	return protocol.CallToolResult{Content: []protocol.ContentItem{{Type: protocol.ContentTypeText, Text: text}}}
}

// ErrorResult builds an isError tool result carrying text.
func ErrorResult(text string) protocol.CallToolResult {
	return protocol.CallToolResult{
		Content: []protocol.ContentItem{{Type: protocol.ContentTypeText, Text: text}},
		IsError: true,
	}
}
