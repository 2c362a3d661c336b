package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/localrivet/dbgctl/protocol"
)

type pendingResult struct {
	payload string
	err     error
}

// pendingRequest is resolved at most once; the buffered channel lets the
// reader hand over a response without waiting for the caller.
type pendingRequest struct {
	ch chan pendingResult
}

func (conn *connection) register(id int64) *pendingRequest {
	p := &pendingRequest{ch: make(chan pendingResult, 1)}
	conn.pending.Store(id, p)
	return p
}

func (conn *connection) resolve(id int64, payload string) bool {
	v, ok := conn.pending.LoadAndDelete(id)
	if !ok {
		return false
	}
	v.(*pendingRequest).ch <- pendingResult{payload: payload}
	return true
}

func (conn *connection) fail(id int64, err error) bool {
	v, ok := conn.pending.LoadAndDelete(id)
	if !ok {
		return false
	}
	v.(*pendingRequest).ch <- pendingResult{err: err}
	return true
}

func (conn *connection) abandon(id int64) {
	conn.pending.Delete(id)
}

func (conn *connection) failPending(err error) int {
	failed := 0
	conn.pending.Range(func(key, _ interface{}) bool {
		if conn.fail(key.(int64), err) {
			failed++
		}
		return true
	})
	return failed
}

func (conn *connection) pendingCount() int {
	n := 0
	conn.pending.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// NormalizeToolResponseTimeout maps zero and negative timeouts to
// DefaultToolResponseTimeout. InfiniteTimeout and positive values are kept.
func NormalizeToolResponseTimeout(timeout time.Duration) time.Duration {
	if timeout == InfiniteTimeout {
		return timeout
	}
	if timeout <= 0 {
		return DefaultToolResponseTimeout
	}
	return timeout
}

// ToolResponseTimeout returns the normalized response timeout.
func (c *Client) ToolResponseTimeout() time.Duration {
	return NormalizeToolResponseTimeout(time.Duration(c.responseTimeout.Load()))
}

// SetToolResponseTimeout changes the response timeout for subsequent requests.
func (c *Client) SetToolResponseTimeout(timeout time.Duration) {
	c.responseTimeout.Store(int64(timeout))
}

// OverrideToolResponseTimeout installs timeout and returns a func restoring the
// previous value:
//
//	defer c.OverrideToolResponseTimeout(client.InfiniteTimeout)()
func (c *Client) OverrideToolResponseTimeout(timeout time.Duration) (restore func()) {
	prev := c.responseTimeout.Swap(int64(timeout))
	return func() {
		c.responseTimeout.Store(prev)
	}
}

// AnalyzeTimeout returns the response timeout used for AI-assisted analysis.
func (c *Client) AnalyzeTimeout() time.Duration {
	return c.analyzeTimeout
}

// Send issues a JSON-RPC request and returns the raw text of the response
// envelope. JSON-RPC error objects are not interpreted here; see ExtractToolText.
func (c *Client) Send(ctx context.Context, method string, params interface{}) (string, error) {
	conn, err := c.liveConnection()
	if err != nil {
		return "", err
	}
	return c.call(ctx, conn, method, params, c.ToolResponseTimeout())
}

// Notify sends a JSON-RPC notification.
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	conn, err := c.liveConnection()
	if err != nil {
		return err
	}
	return c.post(ctx, conn, protocol.NewNotification(method, params))
}

func (c *Client) call(ctx context.Context, conn *connection, method string, params interface{}, timeout time.Duration) (string, error) {
	id := c.nextID.Add(1)
	p := conn.register(id)
	if conn.dead.Load() {
		conn.abandon(id)
		return "", NewConnectionError(conn.serverURL, "event stream closed", ErrDisconnected)
	}

	c.logger.Debug("-> %s (id %d)", method, id)
	if err := c.post(ctx, conn, protocol.NewRequest(id, method, params)); err != nil {
		conn.abandon(id)
		return "", err
	}

	var expired <-chan time.Time
	if timeout != InfiniteTimeout {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-p.ch:
		if res.err != nil {
			if errors.Is(res.err, ErrDisconnected) {
				return "", NewConnectionError(conn.serverURL, method+" interrupted", res.err)
			}
			return "", res.err
		}
		return res.payload, nil
	case <-expired:
		conn.abandon(id)
		return "", NewTimeoutError(method, timeout, nil)
	case <-ctx.Done():
		conn.abandon(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", NewTimeoutError(method, timeout, fmt.Errorf("%w: %w", ErrRequestTimeout, ctx.Err()))
		}
		return "", fmt.Errorf("%s: %w: %w", method, ErrCancelled, ctx.Err())
	}
}

// post delivers one envelope to the message endpoint. Servers normally answer
// 202 and reply over the stream; a JSON body in a 200 reply is routed as if it
// had arrived on the stream.
func (c *Client) post(ctx context.Context, conn *connection, envelope interface{}) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return NewClientError("failed to marshal message", int(protocol.CodeInternalError), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.endpoint, bytes.NewReader(body))
	if err != nil {
		return NewTransportError(transportName, "failed to create HTTP request", err)
	}
	c.setHeaders(req, conn.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
		}
		return NewTransportError(transportName, "failed to send HTTP request", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return NewTransportError(transportName, "failed to read HTTP response", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return NewTransportError(transportName,
			fmt.Sprintf("server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(reply)),
			ErrTransportFailure)
	}
	if resp.StatusCode == http.StatusOK && len(bytes.TrimSpace(reply)) > 0 {
		c.dispatchPayload(conn, reply)
	}
	return nil
}
