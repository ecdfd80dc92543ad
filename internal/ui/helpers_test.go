package ui

import "testing"

func TestShortID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"8f14e45f-ceea-467f-9f29-bbb287b9e3a4", "8f14e45f"},
		{"abcd", "abcd"},
		{"abcdefghijkl", "abcdefgh"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ShortID(tt.in); got != tt.want {
			t.Errorf("ShortID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateWithEllipsis(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello…"},
		{"héllo wörld", 5, "héllo…"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateWithEllipsis(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateWithEllipsis(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestStateClass(t *testing.T) {
	if StateClass("running") != "badge-running" {
		t.Error("running class wrong")
	}
	if StateClass("unknown") != "badge-queued" {
		t.Error("unknown states should fall back to queued styling")
	}
}
