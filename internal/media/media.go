// Package media wraps the ffmpeg/ffprobe command line tools for audio
// extraction, container remuxing and duration probing.
package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mediadigest/internal/logging"
)

// Tools invokes ffmpeg and ffprobe. The zero value is not usable; call
// NewTools.
type Tools struct {
	runner  Runner
	ffmpeg  string
	ffprobe string
}

func NewTools() *Tools {
	return &Tools{
		runner:  execRunner{},
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
	}
}

// SetRunner replaces the command runner (tests).
func (t *Tools) SetRunner(r Runner) {
	if r != nil {
		t.runner = r
	}
}

// SetBinaries overrides the ffmpeg/ffprobe binary paths.
func (t *Tools) SetBinaries(ffmpeg, ffprobe string) {
	if ffmpeg != "" {
		t.ffmpeg = ffmpeg
	}
	if ffprobe != "" {
		t.ffprobe = ffprobe
	}
}

func (t *Tools) run(ctx context.Context, name string, args ...string) (string, string, error) {
	stdout, stderr, err := t.runner.Run(ctx, name, args...)
	logging.LogCommand(name, args, err)
	return stdout, stderr, err
}

// ExtractAudio pulls the audio track of input into an MP3 next to it,
// returning the output path.
func (t *Tools) ExtractAudio(ctx context.Context, input string) (string, error) {
	out := replaceExt(input, ".mp3")
	_, stderr, err := t.run(ctx, t.ffmpeg,
		"-y", "-i", input,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "2",
		out)
	if err != nil {
		return "", classifyFFmpegError(stderr, err)
	}
	return out, nil
}

// ExtractWAV produces the 16 kHz mono PCM WAV that speech models expect.
func (t *Tools) ExtractWAV(ctx context.Context, input string) (string, error) {
	out := replaceExt(input, ".wav")
	_, stderr, err := t.run(ctx, t.ffmpeg,
		"-y", "-i", input,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		out)
	if err != nil {
		return "", classifyFFmpegError(stderr, err)
	}
	return out, nil
}

// FaststartRemux rewrites a video container with the moov atom up front
// so playback can seek before the download finishes. Streams are copied,
// not re-encoded.
func (t *Tools) FaststartRemux(ctx context.Context, input string) (string, error) {
	ext := filepath.Ext(input)
	out := strings.TrimSuffix(input, ext) + "_fixed" + ext
	_, stderr, err := t.run(ctx, t.ffmpeg,
		"-y", "-i", input,
		"-c", "copy",
		"-movflags", "+faststart",
		out)
	if err != nil {
		return "", classifyFFmpegError(stderr, err)
	}
	return out, nil
}

// Duration reads the media duration via ffprobe.
func (t *Tools) Duration(ctx context.Context, input string) (time.Duration, error) {
	stdout, _, err := t.run(ctx, t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input)
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(stdout), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Split cuts input into consecutive pieces of at most chunk duration,
// for services with per-request upload limits. Returns the piece paths
// in order.
func (t *Tools) Split(ctx context.Context, input string, chunk time.Duration) ([]string, error) {
	total, err := t.Duration(ctx, input)
	if err != nil {
		return nil, err
	}
	if total <= chunk {
		return []string{input}, nil
	}

	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)

	var parts []string
	for i, off := 0, time.Duration(0); off < total; i, off = i+1, off+chunk {
		out := fmt.Sprintf("%s_part%03d%s", base, i, ext)
		_, stderr, err := t.run(ctx, t.ffmpeg,
			"-y", "-i", input,
			"-ss", strconv.FormatFloat(off.Seconds(), 'f', 3, 64),
			"-t", strconv.FormatFloat(chunk.Seconds(), 'f', 3, 64),
			"-c", "copy",
			out)
		if err != nil {
			return nil, classifyFFmpegError(stderr, err)
		}
		parts = append(parts, out)
	}
	return parts, nil
}

// classifyFFmpegError maps the well-known "no streams" stderr message to
// ErrNoAudioStream so callers can distinguish silent videos from real
// conversion failures.
func classifyFFmpegError(stderr string, err error) error {
	if strings.Contains(stderr, "does not contain any stream") ||
		strings.Contains(stderr, "Stream map 'a' matches no streams") {
		return fmt.Errorf("%w: %v", ErrNoAudioStream, err)
	}
	return err
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
