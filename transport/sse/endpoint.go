package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotEndpoint is returned when a payload cannot be read as a message endpoint.
var ErrNotEndpoint = errors.New("payload is not a message endpoint")

// ResolveEndpoint interprets the data of a handshake event as the absolute URL
// that JSON-RPC messages must be POSTed to. Accepted forms, in priority order:
//
//   - a path beginning with "/", resolved against the origin of serverURL
//   - an absolute URL, returned verbatim
//   - a JSON object whose "endpoint" member holds one of the two forms above
func ResolveEndpoint(payload, serverURL string) (string, error) {
	value := strings.TrimSpace(payload)
	if value == "" {
		return "", ErrNotEndpoint
	}

	if resolved, err := resolveEndpointValue(value, serverURL); err == nil {
		return resolved, nil
	} else if !errors.Is(err, ErrNotEndpoint) {
		return "", err
	}

	if value[0] != '{' {
		return "", ErrNotEndpoint
	}
	var wrapped struct {
		Endpoint *string `json:"endpoint"`
	}
	if err := json.Unmarshal([]byte(value), &wrapped); err != nil || wrapped.Endpoint == nil {
		return "", ErrNotEndpoint
	}
	return resolveEndpointValue(strings.TrimSpace(*wrapped.Endpoint), serverURL)
}

func resolveEndpointValue(value, serverURL string) (string, error) {
	if strings.HasPrefix(value, "/") {
		base, err := url.Parse(serverURL)
		if err != nil || base.Scheme == "" || base.Host == "" {
			return "", fmt.Errorf("invalid server URL %q: cannot resolve endpoint %q", serverURL, value)
		}
		ref, err := url.Parse(value)
		if err != nil {
			return "", ErrNotEndpoint
		}
		origin := &url.URL{Scheme: base.Scheme, Host: base.Host}
		return origin.ResolveReference(ref).String(), nil
	}

	if u, err := url.Parse(value); err == nil && u.IsAbs() && u.Host != "" {
		return value, nil
	}
	return "", ErrNotEndpoint
}
