package utils

import (
	"net/url"
	"strings"
)

// NormalizeURL returns a canonical form of rawURL for use as a cache or
// deduplication key: lower-case host, no default port, sorted query, no
// trailing slash and no fragment.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndexByte(u.Host, ':')]
	}

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawPath = ""
	u.Fragment = ""

	return u.String(), nil
}

// ParseContentType extracts the media type from a Content-Type header
func ParseContentType(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// IsTextContent checks if a content type represents markup or text. An
// empty header counts as text.
func IsTextContent(contentType string) bool {
	ct := ParseContentType(contentType)
	switch ct {
	case "", "application/xml", "application/xhtml+xml", "application/json":
		return true
	}
	return strings.HasPrefix(ct, "text/")
}

// TruncateString truncates a string to maxLen runes, marking the cut with "..."
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
