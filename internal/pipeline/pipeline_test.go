package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"mediadigest/internal/config"
	"mediadigest/internal/progress"
)

// stubPipeline returns a Pipeline whose stages record their inputs and
// return canned outputs.
func stubPipeline(t *testing.T) (*Pipeline, *[]string) {
	t.Helper()
	cfg := config.New()
	p := New(cfg, "sk-test", progress.NewReporter(64))

	var calls []string
	p.downloadStage = func(_ context.Context, source string) (string, error) {
		calls = append(calls, "download:"+source)
		return "/out/media.mp4", nil
	}
	p.extractStage = func(_ context.Context, in string) (string, error) {
		calls = append(calls, "extract:"+in)
		return "/out/media.wav", nil
	}
	p.transcribeStage = func(_ context.Context, in string) (string, error) {
		calls = append(calls, "transcribe:"+in)
		return "/out/media_transcript.txt", nil
	}
	p.analyzeStage = func(_ context.Context, in string) (string, error) {
		calls = append(calls, "analyze:"+in)
		return "/out/media_transcript_analysis.txt", nil
	}
	return p, &calls
}

func TestRunAllStagesInOrder(t *testing.T) {
	p, calls := stubPipeline(t)

	var stages []string
	res, err := p.Run(context.Background(), "run-1", "https://example.com/talk.mp4", func(s string) {
		stages = append(stages, s)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantCalls := []string{
		"download:https://example.com/talk.mp4",
		"extract:/out/media.mp4",
		"transcribe:/out/media.wav",
		"analyze:/out/media_transcript.txt",
	}
	if len(*calls) != len(wantCalls) {
		t.Fatalf("calls = %v", *calls)
	}
	for i, w := range wantCalls {
		if (*calls)[i] != w {
			t.Errorf("call %d = %s, want %s", i, (*calls)[i], w)
		}
	}

	wantStages := []string{StageDownload, StageExtract, StageTranscribe, StageAnalyze}
	for i, w := range wantStages {
		if stages[i] != w {
			t.Errorf("stage %d = %s, want %s", i, stages[i], w)
		}
	}

	artifacts := res.Artifacts()
	if len(artifacts) != 4 {
		t.Fatalf("artifacts = %v", artifacts)
	}
	if res.AnalysisPath != "/out/media_transcript_analysis.txt" {
		t.Errorf("AnalysisPath = %s", res.AnalysisPath)
	}
}

func TestRunLocalFileSkipsDownload(t *testing.T) {
	p, calls := stubPipeline(t)

	local := filepath.Join(t.TempDir(), "already_here.mp4")
	if err := os.WriteFile(local, []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(context.Background(), "run-1", local, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.MediaPath != "" {
		t.Errorf("MediaPath = %s, want empty for local source", res.MediaPath)
	}
	if (*calls)[0] != "extract:"+local {
		t.Errorf("first call = %s", (*calls)[0])
	}
	if len(res.Artifacts()) != 3 {
		t.Errorf("artifacts = %v", res.Artifacts())
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	p, calls := stubPipeline(t)
	boom := errors.New("model exploded")
	p.transcribeStage = func(context.Context, string) (string, error) {
		*calls = append(*calls, "transcribe")
		return "", boom
	}

	res, err := p.Run(context.Background(), "run-1", "https://example.com/a.mp4", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	for _, c := range *calls {
		if c == "analyze:/out/media_transcript.txt" {
			t.Error("analyze ran after transcribe failure")
		}
	}
	// Artifacts produced before the failure are kept.
	if res.AudioPath != "/out/media.wav" {
		t.Errorf("AudioPath = %s", res.AudioPath)
	}
	if res.TranscriptPath != "" {
		t.Errorf("TranscriptPath = %s, want empty", res.TranscriptPath)
	}
}

func TestRunCanceledContext(t *testing.T) {
	p, _ := stubPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Run(ctx, "run-1", "https://example.com/a.mp4", nil); err == nil {
		t.Fatal("expected context error")
	}
}

func TestForwardProgressDeliversKnownTotals(t *testing.T) {
	r := progress.NewReporter(8)
	var mu sync.Mutex
	var got []float64
	wait := ForwardProgress(r, "run-1", func(id string, pct float64) {
		if id != "run-1" {
			t.Errorf("runID = %s", id)
		}
		mu.Lock()
		got = append(got, pct)
		mu.Unlock()
	})

	r.Update("download", 50, 100, "")
	r.Update("download", 512, 0, "") // unknown total, no percent
	r.Log("info", "still going")
	r.Complete(true, "done")
	r.Close()
	wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != 50 {
		t.Errorf("forwarded = %v, want [50]", got)
	}
}

func TestManagedRunDrainsReporterOnFailure(t *testing.T) {
	// Blocking error sends must be consumed even when the run fails
	// before any progress tick.
	cfg := config.New()
	cfg.AbsOutputDir = t.TempDir()

	run := ManagedRun(cfg, "sk-test", func(string, float64) {})
	if _, err := run(context.Background(), "run-1", "::not-a-url::", nil); err == nil {
		t.Fatal("expected download failure")
	}
}

func TestResultsArtifactsSkipsEmpty(t *testing.T) {
	r := Results{AudioPath: "/a.wav", AnalysisPath: "/a.txt"}
	got := r.Artifacts()
	if len(got) != 2 || got[0] != "/a.wav" || got[1] != "/a.txt" {
		t.Errorf("Artifacts = %v", got)
	}
}
