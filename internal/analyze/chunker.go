package analyze

// Windowing constants. Each window after the first starts with exactly
// WindowOverlap runes carried over from the end of the previous window,
// so no sentence is ever cut without context on both sides.
const (
	DefaultWindowSize = 3000
	WindowOverlap     = 500
)

// SplitWindows cuts text into windows of at most size runes with a
// rune-exact trailing overlap. Dropping the first WindowOverlap runes of
// every window after the first reproduces the input.
func SplitWindows(text string, size int) []string {
	if size <= WindowOverlap {
		size = DefaultWindowSize
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{text}
	}

	step := size - WindowOverlap
	var windows []string
	for start := 0; ; start += step {
		end := start + size
		if end >= len(runes) {
			windows = append(windows, string(runes[start:]))
			return windows
		}
		windows = append(windows, string(runes[start:end]))
	}
}

// Reassemble inverts SplitWindows.
func Reassemble(windows []string) string {
	if len(windows) == 0 {
		return ""
	}
	out := []rune(windows[0])
	for _, w := range windows[1:] {
		r := []rune(w)
		if len(r) > WindowOverlap {
			out = append(out, r[WindowOverlap:]...)
		}
	}
	return string(out)
}
