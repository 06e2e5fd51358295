// Package urlutil validates stream URLs.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// URL scheme constants.
const (
	SchemeWS  = "ws"
	SchemeWSS = "wss"
)

// IsWebSocketURL checks if a URL uses the ws:// or wss:// scheme.
func IsWebSocketURL(u string) bool {
	switch GetScheme(u) {
	case SchemeWS, SchemeWSS:
		return true
	}
	return false
}

// GetScheme returns the lower-cased scheme of a URL or an empty string if it
// cannot be parsed.
func GetScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// ValidateStreamURL checks that u is an absolute WebSocket URL with a host.
// Returns nil if valid, or an error describing the problem.
func ValidateStreamURL(u string) error {
	if u == "" {
		return fmt.Errorf("URL is required")
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case SchemeWS, SchemeWSS:
	case "":
		return fmt.Errorf("URL must include a scheme (ws:// or wss://)")
	default:
		return fmt.Errorf("unsupported URL scheme: %s (supported: ws, wss)", scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

// ValidateStreamURLs validates every URL and reports the first failure.
func ValidateStreamURLs(urls []string) error {
	for _, u := range urls {
		if err := ValidateStreamURL(u); err != nil {
			return fmt.Errorf("%s: %w", u, err)
		}
	}
	return nil
}
