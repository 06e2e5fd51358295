package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsWebSocketURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"ws", "ws://example.com/live", true},
		{"wss", "wss://example.com/live", true},
		{"upper case", "WSS://example.com/live", true},
		{"http", "http://example.com/live", false},
		{"relative", "/live", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsWebSocketURL(tt.url))
		})
	}
}

func TestValidateStreamURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{"valid ws", "ws://127.0.0.1:8080/live?token=abc", ""},
		{"valid wss", "wss://example.com/live", ""},
		{"empty", "", "URL is required"},
		{"no scheme", "example.com/live", "must include a scheme"},
		{"http", "http://example.com/live", "unsupported URL scheme: http"},
		{"no host", "ws:///live", "must include a host"},
		{"malformed", "ws://[::1", "invalid URL format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStreamURL(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateStreamURLs(t *testing.T) {
	assert.NoError(t, ValidateStreamURLs([]string{"ws://a/live", "wss://b/live"}))
	assert.ErrorContains(t, ValidateStreamURLs([]string{"ws://a/live", "http://b/live"}), "http://b/live")
}
