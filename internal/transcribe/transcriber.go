// Package transcribe turns audio files into plain-text transcripts,
// either with a local whisper.cpp binary or a hosted speech API.
package transcribe

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"mediadigest/internal/config"
	"mediadigest/internal/download"
	"mediadigest/internal/logging"
	"mediadigest/internal/media"
	"mediadigest/internal/progress"
)

// Result is a finished transcription.
type Result struct {
	Text string
	Path string // transcript file on disk
}

// Engine turns an audio file into a transcript.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (Result, error)
}

// OutputPath returns where the transcript for an audio file is written.
func OutputPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + "_transcript.txt"
}

// WhisperCPP runs the whisper.cpp command line tool with a locally
// cached ggml model, fetching the model on first use.
type WhisperCPP struct {
	binary   string
	modelDir string
	model    string
	language string
	device   string
	threads  int

	tools    *media.Tools
	reporter *progress.Reporter

	// test seams
	fetchModel func(ctx context.Context, url, dest string) error
	runCmd     func(ctx context.Context, name string, args []string, onLine func(string)) error
}

// NewWhisperCPP builds the local engine from configuration. Models are
// cached under modelDir.
func NewWhisperCPP(cfg config.TranscribeConfig, modelDir string) *WhisperCPP {
	w := &WhisperCPP{
		binary:   cfg.BinaryPath,
		modelDir: modelDir,
		model:    cfg.Model,
		language: cfg.Language,
		device:   cfg.Device,
		threads:  cfg.Threads,
		tools:    media.NewTools(),
	}
	w.fetchModel = w.downloadModel
	w.runCmd = runStreaming
	return w
}

// SetReporter attaches a progress message reporter.
func (w *WhisperCPP) SetReporter(r *progress.Reporter) { w.reporter = r }

// SetTools replaces the media toolset (tests).
func (w *WhisperCPP) SetTools(t *media.Tools) {
	if t != nil {
		w.tools = t
	}
}

// EnsureModel returns the local path of the configured model, fetching
// it into the cache directory if absent.
func (w *WhisperCPP) EnsureModel(ctx context.Context) (string, error) {
	m, err := LookupModel(w.model)
	if err != nil {
		return "", err
	}
	path := m.Path(w.modelDir)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(w.modelDir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	w.reporter.Log("info", fmt.Sprintf("fetching model %s (%s)", m.ID, m.SizeLabel))
	err = w.fetchModel(ctx, m.URL, path)
	logging.LogModelFetch(m.ID, path, err)
	if err != nil {
		return "", fmt.Errorf("fetch model %s: %w", m.ID, err)
	}
	return path, nil
}

func (w *WhisperCPP) downloadModel(ctx context.Context, url, dest string) error {
	d := download.NewDownloader(w.modelDir)
	d.SetNoAuth()
	d.SetReporter(w.reporter)
	_, err := d.Fetch(ctx, url, dest)
	return err
}

// Transcribe runs whisper.cpp over the audio file and returns the
// transcript text and its on-disk path.
func (w *WhisperCPP) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	modelPath, err := w.EnsureModel(ctx)
	if err != nil {
		return Result{}, err
	}

	// whisper.cpp wants 16 kHz mono PCM.
	if !strings.EqualFold(filepath.Ext(audioPath), ".wav") {
		wav, err := w.tools.ExtractWAV(ctx, audioPath)
		if err != nil {
			return Result{}, fmt.Errorf("convert to wav: %w", err)
		}
		audioPath = wav
	}

	// Coarse progress: compare segment end timestamps against the total
	// duration. A probe failure just means indeterminate progress.
	var total time.Duration
	if d, err := w.tools.Duration(ctx, audioPath); err == nil {
		total = d
	}

	outBase := strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + "_transcript"
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-l", w.language,
		"-t", strconv.Itoa(w.threads),
		"--output-txt",
		"--output-file", outBase,
	}
	if w.device == "cpu" {
		args = append(args, "--no-gpu")
	}

	err = w.runCmd(ctx, w.binary, args, func(line string) {
		if end, ok := parseSegmentEnd(line); ok {
			w.reporter.Update("transcribe", int64(end.Seconds()), int64(total.Seconds()), "")
		}
	})
	logging.LogCommand(w.binary, args, err)
	if err != nil {
		return Result{}, err
	}

	path := outBase + ".txt"
	b, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read transcript: %w", err)
	}
	return Result{Text: strings.TrimSpace(string(b)), Path: path}, nil
}

// segmentRe matches whisper.cpp segment lines:
// [00:01:02.480 --> 00:01:07.240]  some text
var segmentRe = regexp.MustCompile(`-->\s+(\d{2}):(\d{2}):(\d{2})\.(\d{3})\]`)

func parseSegmentEnd(line string) (time.Duration, bool) {
	m := segmentRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	ms, _ := strconv.Atoi(m[4])
	return time.Duration(h)*time.Hour +
		time.Duration(mi)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond, true
}

// runStreaming executes a command, feeding every output line (stdout and
// stderr, CR-separated progress rewrites included) to onLine.
func runStreaming(ctx context.Context, name string, args []string, onLine func(string)) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s not found on PATH", media.ErrToolMissing, name)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	var stderrBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(bufio.NewScanner(stdout), onLine)
	}()
	go func() {
		defer wg.Done()
		scanLines(bufio.NewScanner(io.TeeReader(stderr, &stderrBuf)), onLine)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		tail := tailString(stderrBuf.String(), 512)
		if tail != "" {
			return fmt.Errorf("%s: %w: %s", name, err, tail)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func scanLines(sc *bufio.Scanner, onLine func(string)) {
	sc.Buffer(make([]byte, 4096), 256*1024)
	sc.Split(scanCRorLF)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		onLine(line)
	}
}

// scanCRorLF is like bufio.ScanLines but treats a bare '\r' as a line
// terminator as well, since progress output rewrites the same line.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			line := data[:i]
			if i > 0 && data[i-1] == '\r' {
				line = data[:i-1]
			}
			return i + 1, line, nil
		}
		if data[i] == '\r' {
			if i+1 < len(data) && data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func tailString(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// API transcribes through a hosted speech endpoint. Long inputs are cut
// into pieces below the per-request upload limit and transcribed in
// order.
type API struct {
	client   *openai.Client
	tools    *media.Tools
	reporter *progress.Reporter
	language string
	chunk    time.Duration
}

// NewAPI builds the hosted engine. An empty baseURL keeps the library
// default endpoint.
func NewAPI(apiKey, baseURL, language string) *API {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &API{
		client:   openai.NewClientWithConfig(cfg),
		tools:    media.NewTools(),
		language: language,
		chunk:    10 * time.Minute,
	}
}

// SetReporter attaches a progress message reporter.
func (a *API) SetReporter(r *progress.Reporter) { a.reporter = r }

// SetTools replaces the media toolset (tests).
func (a *API) SetTools(t *media.Tools) {
	if t != nil {
		a.tools = t
	}
}

// Transcribe uploads the audio in chunks and joins the returned text.
func (a *API) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	parts, err := a.tools.Split(ctx, audioPath, a.chunk)
	if err != nil {
		return Result{}, fmt.Errorf("split audio: %w", err)
	}

	var sb strings.Builder
	for i, part := range parts {
		req := openai.AudioRequest{
			Model:    openai.Whisper1,
			FilePath: part,
		}
		if a.language != "" && a.language != "auto" {
			req.Language = a.language
		}
		resp, err := a.client.CreateTranscription(ctx, req)
		if part != audioPath {
			os.Remove(part)
		}
		if err != nil {
			return Result{}, fmt.Errorf("transcribe chunk %d/%d: %w", i+1, len(parts), err)
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(strings.TrimSpace(resp.Text))
		a.reporter.Update("transcribe", int64(i+1), int64(len(parts)), "chunks")
	}

	text := sb.String()
	path := OutputPath(audioPath)
	if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
		return Result{}, fmt.Errorf("write transcript: %w", err)
	}
	return Result{Text: text, Path: path}, nil
}
