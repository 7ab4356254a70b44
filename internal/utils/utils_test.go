package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"HTTP://Example.COM:80/a/?b=2&a=1#frag", "http://example.com/a?a=1&b=2"},
		{"https://example.com:443", "https://example.com/"},
		{"https://example.com:8443/x/", "https://example.com:8443/x"},
		{"https://example.com/", "https://example.com/"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NormalizeURL("http://[::1")
	assert.Error(t, err)
}

func TestIsTextContent(t *testing.T) {
	assert.True(t, IsTextContent("text/html; charset=utf-8"))
	assert.True(t, IsTextContent("Application/XHTML+XML"))
	assert.True(t, IsTextContent(""))
	assert.False(t, IsTextContent("image/png"))
	assert.False(t, IsTextContent("application/octet-stream"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abcd...", TruncateString("abcdefghij", 7))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
	assert.Equal(t, "héé...", TruncateString("héééééé", 6))
}
