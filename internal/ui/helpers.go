// Package ui holds small presentation helpers for the dashboard.
package ui

import "strings"

// ShortID trims a run UUID for display: the first hyphen-delimited
// segment is unique enough for a table.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	r := []rune(id)
	if len(r) <= 8 {
		return id
	}
	return string(r[:8])
}

// TruncateWithEllipsis truncates text to maxRunes and appends an
// ellipsis when needed.
func TruncateWithEllipsis(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "…"
}

// StateClass maps a run state to the CSS class of its dashboard badge.
func StateClass(state string) string {
	switch state {
	case "running":
		return "badge-running"
	case "completed":
		return "badge-ok"
	case "failed":
		return "badge-err"
	default:
		return "badge-queued"
	}
}
