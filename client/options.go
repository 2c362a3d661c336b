// Package client implements the dbgctl MCP client: a JSON-RPC 2.0 client whose
// requests are HTTP POSTs and whose responses and server-originated requests
// arrive over a long-lived Server-Sent Events stream.
package client

import (
	"net/http"
	"time"

	"github.com/localrivet/dbgctl/logx"
)

// Option is a client configuration option.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger logx.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets the client used for POSTs and health checks.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithStreamHTTPClient sets the client used for the SSE GET. It must not
// carry an overall timeout, since the stream stays open for the whole session.
func WithStreamHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.streamClient = hc
		}
	}
}

// WithSSEPath sets the path of the event stream relative to the server URL.
func WithSSEPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.ssePath = ensureLeadingSlash(path)
		}
	}
}

// WithHealthPath sets the path of the health endpoint relative to the server URL.
func WithHealthPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.healthPath = ensureLeadingSlash(path)
		}
	}
}

// WithAPIKeyHeader sets the header the API key is sent in.
func WithAPIKeyHeader(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.apiKeyHeader = name
		}
	}
}

// WithHeaders adds headers to every request.
func WithHeaders(headers http.Header) Option {
	return func(c *Client) {
		for k, values := range headers {
			for _, v := range values {
				c.headers.Add(k, v)
			}
		}
	}
}

// WithToolResponseTimeout sets how long a request waits for its response.
// Zero or negative values select DefaultToolResponseTimeout.
func WithToolResponseTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.responseTimeout.Store(int64(timeout))
	}
}

// WithAnalyzeTimeout sets the response timeout used for AI-assisted analysis.
func WithAnalyzeTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.analyzeTimeout = timeout
	}
}

// WithCorrelationID overrides the X-Correlation-Id sent with every request.
func WithCorrelationID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.correlationID = id
		}
	}
}

// WithClientInfo sets the implementation name and version sent in initialize.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.clientInfo.Name = name
		c.clientInfo.Version = version
	}
}

func ensureLeadingSlash(path string) string {
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
