// Package endpoint resolves the base service address into the streaming
// WebSocket endpoint URL.
package endpoint

import (
	"fmt"
	"net/url"
	"strings"
)

// StreamPath is the path of the streaming endpoint, appended to the base
// address unless already present.
const StreamPath = "/v1/responses/stream"

// Resolve maps a base service address to the streaming endpoint URL.
// http(s) schemes are mapped to their WebSocket equivalents; ws(s)
// addresses pass through with the stream path appended.
func Resolve(base string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("empty service address")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse service address %q: %w", base, err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q in service address %q", u.Scheme, base)
	}

	if u.Host == "" {
		return "", fmt.Errorf("missing host in service address %q", base)
	}

	if !strings.HasSuffix(u.Path, StreamPath) {
		u.Path = strings.TrimSuffix(u.Path, "/") + StreamPath
	}

	return u.String(), nil
}
