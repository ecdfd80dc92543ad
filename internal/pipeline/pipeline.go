// Package pipeline chains the four processing stages for one media
// source: download, audio extraction, transcription and analysis.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"mediadigest/internal/analyze"
	"mediadigest/internal/config"
	"mediadigest/internal/download"
	"mediadigest/internal/logging"
	"mediadigest/internal/media"
	"mediadigest/internal/progress"
	"mediadigest/internal/transcribe"
)

// Stage names, in execution order.
const (
	StageDownload   = "download"
	StageExtract    = "extract"
	StageTranscribe = "transcribe"
	StageAnalyze    = "analyze"
)

// Results collects the artifact paths a run produced. Paths are empty
// for stages that did not run (a local file source skips download).
type Results struct {
	MediaPath      string
	AudioPath      string
	TranscriptPath string
	AnalysisPath   string
}

// Artifacts lists the non-empty result paths in stage order.
func (r Results) Artifacts() []string {
	var out []string
	for _, p := range []string{r.MediaPath, r.AudioPath, r.TranscriptPath, r.AnalysisPath} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Pipeline executes the stages for a single source. A stage failure
// stops the run; later stages never see partial inputs.
type Pipeline struct {
	cfg      *config.Config
	reporter *progress.Reporter

	// Stage implementations, swappable in tests. Each returns the path
	// of the artifact it produced.
	downloadStage   func(ctx context.Context, source string) (string, error)
	extractStage    func(ctx context.Context, mediaPath string) (string, error)
	transcribeStage func(ctx context.Context, audioPath string) (string, error)
	analyzeStage    func(ctx context.Context, transcriptPath string) (string, error)
}

// New wires a pipeline from configuration. The API key is used by the
// analyze stage and, for the api engine, by transcription.
func New(cfg *config.Config, apiKey string, reporter *progress.Reporter) *Pipeline {
	p := &Pipeline{cfg: cfg, reporter: reporter}

	tools := media.NewTools()

	p.downloadStage = func(ctx context.Context, source string) (string, error) {
		d := download.NewDownloader(cfg.AbsOutputDir)
		d.SetReporter(reporter)
		d.SetRemuxer(tools.FaststartRemux)
		res, err := d.FetchAuto(ctx, source)
		if err != nil {
			return "", err
		}
		return res.Path, nil
	}

	p.extractStage = func(ctx context.Context, mediaPath string) (string, error) {
		// whisper.cpp wants 16 kHz mono PCM; the hosted engine takes
		// compressed audio.
		if cfg.Transcribe.Engine == "whisper" {
			return tools.ExtractWAV(ctx, mediaPath)
		}
		return tools.ExtractAudio(ctx, mediaPath)
	}

	p.transcribeStage = func(ctx context.Context, audioPath string) (string, error) {
		var engine transcribe.Engine
		if cfg.Transcribe.Engine == "api" {
			api := transcribe.NewAPI(apiKey, cfg.Analyze.Endpoint, cfg.Transcribe.Language)
			api.SetReporter(reporter)
			engine = api
		} else {
			w := transcribe.NewWhisperCPP(cfg.Transcribe, cfg.ModelDir())
			w.SetReporter(reporter)
			engine = w
		}
		res, err := engine.Transcribe(ctx, audioPath)
		if err != nil {
			return "", err
		}
		return res.Path, nil
	}

	p.analyzeStage = func(ctx context.Context, transcriptPath string) (string, error) {
		a := analyze.NewAnalyzer(apiKey, cfg.Analyze)
		a.SetReporter(reporter)
		return a.Analyze(ctx, transcriptPath, cfg.AbsOutputDir)
	}

	return p
}

// Run executes all stages for source. A source that is an existing
// local file skips the download stage. onStage, when non-nil, is told
// before each stage starts.
func (p *Pipeline) Run(ctx context.Context, runID, source string, onStage func(stage string)) (Results, error) {
	var res Results

	mediaPath := source
	if !isLocalFile(source) {
		path, err := p.stage(ctx, runID, StageDownload, source, onStage, p.downloadStage)
		if err != nil {
			return res, err
		}
		res.MediaPath = path
		mediaPath = path
	}

	audioPath, err := p.stage(ctx, runID, StageExtract, mediaPath, onStage, p.extractStage)
	if err != nil {
		return res, err
	}
	res.AudioPath = audioPath

	transcriptPath, err := p.stage(ctx, runID, StageTranscribe, audioPath, onStage, p.transcribeStage)
	if err != nil {
		return res, err
	}
	res.TranscriptPath = transcriptPath

	analysisPath, err := p.stage(ctx, runID, StageAnalyze, transcriptPath, onStage, p.analyzeStage)
	if err != nil {
		return res, err
	}
	res.AnalysisPath = analysisPath

	return res, nil
}

func (p *Pipeline) stage(ctx context.Context, runID, name, input string, onStage func(string),
	fn func(context.Context, string) (string, error)) (string, error) {

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if onStage != nil {
		onStage(name)
	}
	logging.LogStageStart(runID, name, input)
	started := time.Now()

	out, err := fn(ctx, input)
	if err != nil {
		logging.LogStageError(runID, name, err)
		p.reporter.Error(fmt.Sprintf("%s failed", name), err)
		return "", fmt.Errorf("%s: %w", name, err)
	}
	logging.LogStageComplete(runID, name, out, time.Since(started))
	return out, nil
}

func isLocalFile(source string) bool {
	st, err := os.Stat(source)
	return err == nil && !st.IsDir()
}

// ProgressFunc receives per-run progress as a percentage.
type ProgressFunc func(runID string, pct float64)

// ForwardProgress drains a reporter, forwarding progress ticks with a
// known total to fn tagged with runID. Log, complete and error messages
// are consumed so blocking sends never stall a stage. The returned wait
// blocks until the reporter is closed and the drain finishes.
func ForwardProgress(r *progress.Reporter, runID string, fn ProgressFunc) (wait func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range r.Messages() {
			if m.Kind != progress.KindProgress || fn == nil {
				continue
			}
			if pct := m.Percent(); pct >= 0 {
				fn(runID, pct)
			}
		}
	}()
	return func() { <-done }
}

// ManagedRun returns a RunFunc that gives each run its own reporter and
// forwards its progress ticks to onProgress, so queued runs report live
// progress (Manager.SetProgress is the intended sink).
func ManagedRun(cfg *config.Config, apiKey string, onProgress ProgressFunc) RunFunc {
	return func(ctx context.Context, runID, source string, onStage func(string)) (Results, error) {
		reporter := progress.NewReporter(64)
		wait := ForwardProgress(reporter, runID, onProgress)
		res, err := New(cfg, apiKey, reporter).Run(ctx, runID, source, onStage)
		reporter.Close()
		wait()
		return res, err
	}
}
