package analyze

import (
	"strings"
	"testing"
)

func repeatedText(n int) string {
	// Mixed-width runes so byte and rune indexing disagree.
	const alphabet = "abcdefé漢字ghij "
	var sb strings.Builder
	for sb.Len() < n*4 {
		sb.WriteString(alphabet)
	}
	r := []rune(sb.String())
	return string(r[:n])
}

func TestSplitWindowsShortInput(t *testing.T) {
	text := "short transcript"
	windows := SplitWindows(text, 3000)
	if len(windows) != 1 || windows[0] != text {
		t.Fatalf("windows = %v", windows)
	}
}

func TestSplitWindowsEmpty(t *testing.T) {
	if w := SplitWindows("", 3000); w != nil {
		t.Fatalf("windows = %v, want nil", w)
	}
}

func TestSplitWindowsOverlapIsRuneExact(t *testing.T) {
	text := repeatedText(7000)
	windows := SplitWindows(text, 3000)
	if len(windows) < 2 {
		t.Fatalf("expected multiple windows, got %d", len(windows))
	}
	for i := 1; i < len(windows); i++ {
		prev := []rune(windows[i-1])
		cur := []rune(windows[i])
		carried := string(prev[len(prev)-WindowOverlap:])
		head := string(cur[:WindowOverlap])
		if carried != head {
			t.Fatalf("window %d does not start with the previous window's tail", i)
		}
	}
	for i, w := range windows[:len(windows)-1] {
		if got := len([]rune(w)); got != 3000 {
			t.Errorf("window %d length = %d runes, want 3000", i, got)
		}
	}
}

func TestReassembleRoundTrip(t *testing.T) {
	for _, n := range []int{1, 499, 500, 501, 3000, 3001, 6000, 10000} {
		text := repeatedText(n)
		windows := SplitWindows(text, 3000)
		if got := Reassemble(windows); got != text {
			t.Errorf("round trip failed for %d runes", n)
		}
	}
}

func TestSplitWindowsRejectsTinySize(t *testing.T) {
	// A size at or below the overlap would never advance; it falls back
	// to the default.
	text := repeatedText(7000)
	windows := SplitWindows(text, 400)
	if len(windows) < 2 {
		t.Fatalf("expected multiple windows, got %d", len(windows))
	}
	if got := len([]rune(windows[0])); got != DefaultWindowSize {
		t.Errorf("window size = %d, want %d", got, DefaultWindowSize)
	}
	if Reassemble(windows) != text {
		t.Error("round trip failed")
	}
}
