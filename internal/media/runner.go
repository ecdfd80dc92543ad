package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	// ErrToolMissing indicates ffmpeg or ffprobe is not on PATH.
	ErrToolMissing = errors.New("tool_missing")

	// ErrNoAudioStream indicates the input has no audio to extract.
	ErrNoAudioStream = errors.New("no_audio_stream")
)

// Runner executes an external command and returns its captured stdout
// and stderr. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	if _, err := exec.LookPath(name); err != nil {
		return "", "", fmt.Errorf("%w: %s not found on PATH", ErrToolMissing, name)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return stdout.String(), stderr.String(), fmt.Errorf("%s failed: %w: %s", name, err, lastLine(msg))
		}
		return stdout.String(), stderr.String(), fmt.Errorf("%s failed: %w", name, err)
	}
	return stdout.String(), stderr.String(), nil
}

// lastLine keeps errors readable: ffmpeg writes pages of banner text to
// stderr and the actionable message is at the bottom.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
