package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"
	"github.com/sourcegraph/conc"

	"github.com/localrivet/dbgctl/logx"
	"github.com/localrivet/dbgctl/protocol"
	"github.com/localrivet/dbgctl/transport/sse"
)

const (
	DefaultSSEPath             = "/sse"
	DefaultHealthPath          = "/health"
	DefaultAPIKeyHeader        = "X-API-Key"
	DefaultToolResponseTimeout = 10 * time.Minute
	DefaultAnalyzeTimeout      = 30 * time.Minute
	DefaultRequestTimeout      = 30 * time.Second

	// InfiniteTimeout disables the response deadline altogether.
	InfiniteTimeout time.Duration = math.MaxInt64

	CorrelationHeader = "X-Correlation-Id"
	transportName     = "sse"
)

// Client speaks JSON-RPC 2.0 to one MCP server. Requests are POSTed to the
// message endpoint the server announces on its event stream; responses and
// server-originated requests come back over that stream.
type Client struct {
	logger        logx.Logger
	httpClient    *http.Client
	streamClient  *http.Client
	ssePath       string
	healthPath    string
	apiKeyHeader  string
	correlationID string
	headers       http.Header
	clientInfo    protocol.Implementation

	responseTimeout atomic.Int64
	analyzeTimeout  time.Duration

	// connectMu serializes Connect, Disconnect and Reconnect.
	connectMu sync.Mutex
	targetMu  sync.RWMutex
	serverURL string
	apiKey    string

	conn   atomic.Pointer[connection]
	nextID atomic.Int64

	handlers      sync.Map // method name -> MethodHandler
	notifyHandler atomic.Pointer[NotificationHandler]
}

// connection is the state of one SSE stream. A reconnect replaces it wholesale,
// so a dying stream can never fail requests issued on its successor.
type connection struct {
	serverURL string
	endpoint  string
	apiKey    string
	tools     []string
	server    protocol.Implementation

	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser

	pending sync.Map // int64 -> *pendingRequest
	wg      conc.WaitGroup
	dead    atomic.Bool
	closing atomic.Bool
}

// New creates a disconnected client.
func New(opts ...Option) *Client {
	c := &Client{
		logger:         logx.NewDefaultLogger(),
		httpClient:     &http.Client{Timeout: DefaultRequestTimeout},
		streamClient:   &http.Client{},
		ssePath:        DefaultSSEPath,
		healthPath:     DefaultHealthPath,
		apiKeyHeader:   DefaultAPIKeyHeader,
		correlationID:  xid.New().String(),
		headers:        make(http.Header),
		clientInfo:     protocol.Implementation{Name: "dbgctl", Version: "dev"},
		analyzeTimeout: DefaultAnalyzeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the event stream, waits for the message endpoint, performs
// the MCP initialize handshake and caches the server's tool names.
func (c *Client) Connect(ctx context.Context, serverURL, apiKey string) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	return c.connectLocked(ctx, serverURL, apiKey)
}

func (c *Client) connectLocked(ctx context.Context, serverURL, apiKey string) error {
	if cur := c.conn.Load(); cur != nil {
		if !cur.dead.Load() {
			return NewConnectionError(cur.serverURL, "connect", ErrAlreadyConnected)
		}
		c.conn.Store(nil)
		if err := c.shutdown(cur); err != nil {
			c.logger.Debug("Releasing dead connection: %v", err)
		}
	}

	serverURL = trimServerURL(serverURL)
	if serverURL == "" {
		return NewConnectionError(serverURL, "server URL is empty", ErrNotConnected)
	}
	c.targetMu.Lock()
	c.serverURL = serverURL
	c.apiKey = apiKey
	c.targetMu.Unlock()

	conn, reader, err := c.openStream(ctx, serverURL, apiKey)
	if err != nil {
		return err
	}
	c.logger.Debug("Message endpoint for %s is %s", serverURL, conn.endpoint)

	conn.wg.Go(func() { c.readLoop(conn, reader) })

	if err := c.initialize(ctx, conn); err != nil {
		_ = c.shutdown(conn)
		return NewConnectionError(serverURL, "initialize handshake failed", err)
	}

	c.conn.Store(conn)
	c.logger.Info("Connected to %s (%s %s, %d tools)", serverURL, conn.server.Name, conn.server.Version, len(conn.tools))
	return nil
}

// openStream issues the SSE GET and reads events until one of them names the
// message endpoint. The stream lives on a context of its own; the caller's
// context only bounds the wait for the endpoint.
func (c *Client) openStream(ctx context.Context, serverURL, apiKey string) (*connection, *sse.Reader, error) {
	connCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	fail := func(body io.Closer, message string, cause error) (*connection, *sse.Reader, error) {
		stop()
		cancel()
		if body != nil {
			_ = body.Close()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
		}
		return nil, nil, NewConnectionError(serverURL, message, cause)
	}

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, serverURL+c.ssePath, nil)
	if err != nil {
		return fail(nil, "invalid server URL", err)
	}
	c.setHeaders(req, apiKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fail(nil, "failed to open event stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fail(resp.Body, fmt.Sprintf("event stream returned HTTP %d", resp.StatusCode), ErrTransportFailure)
	}

	reader := sse.NewReader(resp.Body)
	var endpoint string
	for endpoint == "" {
		ev, err := reader.ReadEvent()
		if err != nil {
			return fail(resp.Body, "event stream closed before the message endpoint was announced", fmt.Errorf("%w: %v", ErrNoEndpoint, err))
		}
		resolved, err := sse.ResolveEndpoint(ev.Data, serverURL)
		switch {
		case err == nil:
			endpoint = resolved
		case errors.Is(err, sse.ErrNotEndpoint):
			c.logger.Debug("Ignoring pre-handshake event %q", ev.Event)
		default:
			return fail(resp.Body, "cannot resolve message endpoint", err)
		}
	}

	if !stop() {
		// The caller's context fired while we were finishing the handshake.
		return fail(resp.Body, "connect cancelled", ctx.Err())
	}

	return &connection{
		serverURL: serverURL,
		endpoint:  endpoint,
		apiKey:    apiKey,
		ctx:       connCtx,
		cancel:    cancel,
		body:      resp.Body,
	}, reader, nil
}

func (c *Client) initialize(ctx context.Context, conn *connection) error {
	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities: protocol.ClientCapabilities{
			Sampling: &protocol.SamplingCapability{Tools: &struct{}{}},
		},
		ClientInfo: c.clientInfo,
	}
	raw, err := c.call(ctx, conn, protocol.MethodInitialize, params, c.ToolResponseTimeout())
	if err != nil {
		return err
	}
	msg, err := protocol.ParseMessage([]byte(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if msg.Error != nil {
		return NewServerError(protocol.MethodInitialize, int(msg.Error.Code), msg.Error.Message)
	}
	var result protocol.InitializeResult
	if err := protocol.UnmarshalPayload(msg.Result, &result); err != nil {
		c.logger.Debug("Unreadable initialize result: %v", err)
	}
	conn.server = result.ServerInfo
	switch {
	case !protocol.IsSupportedVersion(result.ProtocolVersion):
		c.logger.Warn("Server speaks MCP %s; dbgctl supports %s", result.ProtocolVersion, strings.Join(protocol.SupportedVersions, ", "))
	case result.ProtocolVersion != "" && result.ProtocolVersion != protocol.ProtocolVersion:
		c.logger.Debug("Server negotiated protocol version %s", result.ProtocolVersion)
	}

	if err := c.post(ctx, conn, protocol.NewNotification(protocol.MethodInitialized, nil)); err != nil {
		return err
	}

	tools, err := c.listTools(ctx, conn)
	if err != nil {
		c.logger.Warn("Could not list server tools: %v", err)
		return nil
	}
	conn.tools = tools
	return nil
}

func (c *Client) listTools(ctx context.Context, conn *connection) ([]string, error) {
	raw, err := c.call(ctx, conn, protocol.MethodListTools, protocol.ListToolsParams{}, c.ToolResponseTimeout())
	if err != nil {
		return nil, err
	}
	msg, err := protocol.ParseMessage([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if msg.Error != nil {
		return nil, NewServerError(protocol.MethodListTools, int(msg.Error.Code), msg.Error.Message)
	}
	var result protocol.ListToolsResult
	if err := protocol.UnmarshalPayload(msg.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}

// Disconnect stops the reader, fails outstanding requests with
// ErrDisconnected and releases the HTTP transport. It is a no-op when the
// client is not connected.
func (c *Client) Disconnect() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	conn := c.conn.Swap(nil)
	if conn == nil {
		return nil
	}
	err := c.shutdown(conn)
	c.logger.Debug("Disconnected from %s", conn.serverURL)
	return err
}

// Reconnect drops the current connection, if any, and connects again to the
// last server URL with the last API key.
func (c *Client) Reconnect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	serverURL, apiKey := c.target()
	if serverURL == "" {
		return NewConnectionError("", "no server URL to reconnect to", ErrNotConnected)
	}
	if conn := c.conn.Swap(nil); conn != nil {
		if err := c.shutdown(conn); err != nil {
			c.logger.Debug("Closing previous connection: %v", err)
		}
	}
	return c.connectLocked(ctx, serverURL, apiKey)
}

func (c *Client) shutdown(conn *connection) error {
	var result *multierror.Error

	conn.closing.Store(true)
	conn.cancel()
	if err := conn.body.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close event stream: %w", err))
	}
	conn.dead.Store(true)
	conn.failPending(ErrDisconnected)
	if r := conn.wg.WaitAndRecover(); r != nil {
		result = multierror.Append(result, r.AsError())
	}
	c.streamClient.CloseIdleConnections()
	c.httpClient.CloseIdleConnections()

	return result.ErrorOrNil()
}

// IsConnected reports whether the handshake completed and the stream is still open.
func (c *Client) IsConnected() bool {
	conn := c.conn.Load()
	return conn != nil && !conn.dead.Load()
}

// ServerURL returns the URL of the last Connect, connected or not.
func (c *Client) ServerURL() string {
	serverURL, _ := c.target()
	return serverURL
}

// Tools returns the tool names the server advertised during the handshake.
func (c *Client) Tools() []string {
	conn := c.conn.Load()
	if conn == nil {
		return nil
	}
	out := make([]string, len(conn.tools))
	copy(out, conn.tools)
	return out
}

// HasTool reports whether the server advertised name.
func (c *Client) HasTool(name string) bool {
	for _, tool := range c.Tools() {
		if tool == name {
			return true
		}
	}
	return false
}

// ServerInfo returns the implementation the server reported in initialize.
func (c *Client) ServerInfo() protocol.Implementation {
	if conn := c.conn.Load(); conn != nil {
		return conn.server
	}
	return protocol.Implementation{}
}

// CorrelationID returns the value sent in the X-Correlation-Id header.
func (c *Client) CorrelationID() string {
	return c.correlationID
}

// Logger returns the client's logger.
func (c *Client) Logger() logx.Logger {
	return c.logger
}

func trimServerURL(serverURL string) string {
	return strings.TrimRight(strings.TrimSpace(serverURL), "/")
}

func (c *Client) target() (string, string) {
	c.targetMu.RLock()
	defer c.targetMu.RUnlock()
	return c.serverURL, c.apiKey
}

func (c *Client) setHeaders(req *http.Request, apiKey string) {
	for k, values := range c.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if apiKey != "" {
		req.Header.Set(c.apiKeyHeader, apiKey)
	}
	req.Header.Set(CorrelationHeader, c.correlationID)
}

// liveConnection returns the established connection or a ConnectionError.
func (c *Client) liveConnection() (*connection, error) {
	conn := c.conn.Load()
	if conn == nil {
		return nil, NewConnectionError(c.ServerURL(), "not connected", ErrNotConnected)
	}
	if conn.dead.Load() {
		return nil, NewConnectionError(conn.serverURL, "event stream closed", ErrDisconnected)
	}
	return conn, nil
}
