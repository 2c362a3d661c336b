package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HealthStatus is the body of the server's health endpoint.
type HealthStatus struct {
	Status string `json:"status"`
}

// CheckHealth queries the health endpoint of the last server URL and returns
// the reported status. It does not need an open event stream.
func (c *Client) CheckHealth(ctx context.Context) (string, error) {
	serverURL, apiKey := c.target()
	if serverURL == "" {
		return "", NewConnectionError("", "no server URL configured", ErrNotConnected)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+c.healthPath, nil)
	if err != nil {
		return "", NewTransportError(transportName, "failed to create health request", err)
	}
	c.setHeaders(req, apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", NewTransportError(transportName, "health check failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", NewTransportError(transportName, "failed to read health response", err)
	}
	var health HealthStatus
	decodeErr := json.Unmarshal(body, &health)

	if resp.StatusCode != http.StatusOK {
		return health.Status, NewTransportError(transportName,
			fmt.Sprintf("health endpoint returned HTTP %d", resp.StatusCode), ErrTransportFailure)
	}
	if decodeErr != nil {
		return "", NewClientError("invalid health response", 0, fmt.Errorf("%w: %v", ErrInvalidResponse, decodeErr))
	}
	return health.Status, nil
}

// SetTarget records the server URL and API key without connecting, so health
// checks and Reconnect can run before the first Connect.
func (c *Client) SetTarget(serverURL, apiKey string) {
	c.targetMu.Lock()
	defer c.targetMu.Unlock()
	c.serverURL = trimServerURL(serverURL)
	c.apiKey = apiKey
}
