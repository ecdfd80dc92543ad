package download

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// defaultHeaders is the browser-like header set used for authenticated
// downloads. Callers can merge overrides on top via a headers file.
var defaultHeaders = map[string]string{
	"accept":          "*/*",
	"accept-encoding": "identity;q=1, *;q=0",
	"accept-language": "en-GB,en;q=0.9",
	"user-agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
}

// minimalHeaders is the no-auth header set for public URLs.
var minimalHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0",
}

// DefaultHeaders returns a copy of the default header set.
func DefaultHeaders() map[string]string {
	return copyMap(defaultHeaders)
}

// MinimalHeaders returns a copy of the bare no-auth header set.
func MinimalHeaders() map[string]string {
	return copyMap(minimalHeaders)
}

// LoadHeaderFile reads a JSON object of header name to value.
// The same format serves for cookie files.
func LoadHeaderFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read headers file: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse headers file %s: %w", path, err)
	}
	return m, nil
}

// CookieHeader flattens a cookie map into a single Cookie header value,
// sorted by name so requests are reproducible.
func CookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for k := range cookies {
		names = append(names, k)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, k := range names {
		pairs = append(pairs, k+"="+cookies[k])
	}
	return strings.Join(pairs, "; ")
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeMaps overlays b on top of a without mutating either.
func mergeMaps(a, b map[string]string) map[string]string {
	out := copyMap(a)
	for k, v := range b {
		out[k] = v
	}
	return out
}
