package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEndpoint(t *testing.T) {
	testCases := []struct {
		name      string
		payload   string
		serverURL string
		expected  string
	}{
		{
			name:      "relative path",
			payload:   "/mcp/message?sessionId=abc",
			serverURL: "http://localhost:5000",
			expected:  "http://localhost:5000/mcp/message?sessionId=abc",
		},
		{
			name:      "relative path replaces base path",
			payload:   "/mcp/message?sessionId=abc",
			serverURL: "http://localhost:5000/api/v1/",
			expected:  "http://localhost:5000/mcp/message?sessionId=abc",
		},
		{
			name:      "absolute URL passthrough",
			payload:   "https://example.test/mcp/message?sessionId=abc",
			serverURL: "http://localhost:5000",
			expected:  "https://example.test/mcp/message?sessionId=abc",
		},
		{
			name:      "json wrapped relative",
			payload:   `{"endpoint":"/mcp/message?sessionId=abc"}`,
			serverURL: "http://localhost:5000",
			expected:  "http://localhost:5000/mcp/message?sessionId=abc",
		},
		{
			name:      "json wrapped absolute",
			payload:   `{"endpoint":"https://example.test/m"}`,
			serverURL: "http://localhost:5000",
			expected:  "https://example.test/m",
		},
		{
			name:      "surrounding whitespace",
			payload:   "  /m?x=1 \n",
			serverURL: "https://host.test:8443/base",
			expected:  "https://host.test:8443/m?x=1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveEndpoint(tc.payload, tc.serverURL)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestResolveEndpointRejects(t *testing.T) {
	for _, payload := range []string{
		"",
		"   ",
		"message?sessionId=1",
		`{"jsonrpc":"2.0","method":"ping"}`,
		`{"endpoint":42}`,
		`{"endpoint":"relative/path"}`,
		`{not json`,
		"mailto:someone",
	} {
		_, err := ResolveEndpoint(payload, "http://localhost:5000")
		assert.ErrorIs(t, err, ErrNotEndpoint, payload)
	}
}

func TestResolveEndpointInvalidServerURL(t *testing.T) {
	_, err := ResolveEndpoint("/mcp/message", "not a url")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotEndpoint)
}
