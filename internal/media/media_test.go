package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeRunner records invocations and replays canned responses keyed by
// binary name.
type fakeRunner struct {
	calls  [][]string
	stdout map[string]string
	stderr map[string]string
	err    map[string]error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.stdout[name], f.stderr[name], f.err[name]
}

func (f *fakeRunner) lastCall() []string {
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func hasArgPair(call []string, flag, value string) bool {
	for i := 0; i < len(call)-1; i++ {
		if call[i] == flag && call[i+1] == value {
			return true
		}
	}
	return false
}

func TestExtractAudio(t *testing.T) {
	fr := &fakeRunner{}
	tools := NewTools()
	tools.SetRunner(fr)

	out, err := tools.ExtractAudio(context.Background(), "/tmp/talk.mp4")
	if err != nil {
		t.Fatalf("ExtractAudio: %v", err)
	}
	if out != "/tmp/talk.mp3" {
		t.Errorf("output = %s, want /tmp/talk.mp3", out)
	}
	call := fr.lastCall()
	if call[0] != "ffmpeg" {
		t.Errorf("binary = %s", call[0])
	}
	if !hasArgPair(call, "-acodec", "libmp3lame") {
		t.Errorf("missing mp3 codec in %v", call)
	}
	want := false
	for _, a := range call {
		if a == "-vn" {
			want = true
		}
	}
	if !want {
		t.Errorf("missing -vn in %v", call)
	}
}

func TestExtractWAVArgs(t *testing.T) {
	fr := &fakeRunner{}
	tools := NewTools()
	tools.SetRunner(fr)

	out, err := tools.ExtractWAV(context.Background(), "/tmp/talk.mp4")
	if err != nil {
		t.Fatalf("ExtractWAV: %v", err)
	}
	if out != "/tmp/talk.wav" {
		t.Errorf("output = %s", out)
	}
	call := fr.lastCall()
	if !hasArgPair(call, "-ar", "16000") || !hasArgPair(call, "-ac", "1") || !hasArgPair(call, "-acodec", "pcm_s16le") {
		t.Errorf("wrong wav args: %v", call)
	}
}

func TestExtractAudioNoAudioStream(t *testing.T) {
	fr := &fakeRunner{
		stderr: map[string]string{"ffmpeg": "Output file does not contain any stream"},
		err:    map[string]error{"ffmpeg": fmt.Errorf("exit status 1")},
	}
	tools := NewTools()
	tools.SetRunner(fr)

	_, err := tools.ExtractAudio(context.Background(), "/tmp/silent.mp4")
	if !errors.Is(err, ErrNoAudioStream) {
		t.Fatalf("expected ErrNoAudioStream, got %v", err)
	}
}

func TestExtractAudioToolMissing(t *testing.T) {
	fr := &fakeRunner{
		err: map[string]error{"ffmpeg": fmt.Errorf("%w: ffmpeg not found on PATH", ErrToolMissing)},
	}
	tools := NewTools()
	tools.SetRunner(fr)

	_, err := tools.ExtractAudio(context.Background(), "/tmp/talk.mp4")
	if !errors.Is(err, ErrToolMissing) {
		t.Fatalf("expected ErrToolMissing, got %v", err)
	}
}

func TestFaststartRemux(t *testing.T) {
	fr := &fakeRunner{}
	tools := NewTools()
	tools.SetRunner(fr)

	out, err := tools.FaststartRemux(context.Background(), "/tmp/clip.mp4")
	if err != nil {
		t.Fatalf("FaststartRemux: %v", err)
	}
	if out != "/tmp/clip_fixed.mp4" {
		t.Errorf("output = %s", out)
	}
	call := fr.lastCall()
	if !hasArgPair(call, "-c", "copy") || !hasArgPair(call, "-movflags", "+faststart") {
		t.Errorf("wrong remux args: %v", call)
	}
}

func TestDuration(t *testing.T) {
	fr := &fakeRunner{stdout: map[string]string{"ffprobe": "123.456\n"}}
	tools := NewTools()
	tools.SetRunner(fr)

	d, err := tools.Duration(context.Background(), "/tmp/talk.mp3")
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	want := time.Duration(123.456 * float64(time.Second))
	if d != want {
		t.Errorf("duration = %v, want %v", d, want)
	}
	if fr.lastCall()[0] != "ffprobe" {
		t.Errorf("binary = %s", fr.lastCall()[0])
	}
}

func TestDurationUnparseable(t *testing.T) {
	fr := &fakeRunner{stdout: map[string]string{"ffprobe": "N/A"}}
	tools := NewTools()
	tools.SetRunner(fr)

	if _, err := tools.Duration(context.Background(), "/tmp/talk.mp3"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSplitShortInputIsPassedThrough(t *testing.T) {
	fr := &fakeRunner{stdout: map[string]string{"ffprobe": "60.0"}}
	tools := NewTools()
	tools.SetRunner(fr)

	parts, err := tools.Split(context.Background(), "/tmp/talk.mp3", 10*time.Minute)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(parts) != 1 || parts[0] != "/tmp/talk.mp3" {
		t.Errorf("parts = %v", parts)
	}
	// Only the duration probe should have run.
	if len(fr.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(fr.calls))
	}
}

func TestSplitLongInput(t *testing.T) {
	fr := &fakeRunner{stdout: map[string]string{"ffprobe": "1500.0"}}
	tools := NewTools()
	tools.SetRunner(fr)

	parts, err := tools.Split(context.Background(), "/tmp/talk.mp3", 10*time.Minute)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	for i, p := range parts {
		want := fmt.Sprintf("/tmp/talk_part%03d.mp3", i)
		if p != want {
			t.Errorf("parts[%d] = %s, want %s", i, p, want)
		}
	}
}

func TestLastLine(t *testing.T) {
	in := "banner\nmore banner\n  Output file does not contain any stream  \n"
	if got := lastLine(in); got != "Output file does not contain any stream" {
		t.Errorf("lastLine = %q", got)
	}
	if got := lastLine("single"); got != "single" {
		t.Errorf("lastLine = %q", got)
	}
	if !strings.Contains(lastLine("a\nb"), "b") {
		t.Error("lastLine should keep the final line")
	}
}
