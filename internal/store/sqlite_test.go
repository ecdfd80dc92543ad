package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, "run-1", "https://example.com/talk.mp4"); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	r, ok, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !ok {
		t.Fatal("run not found")
	}
	if r.Status != "queued" || r.Stage != "" || r.Progress != 0 {
		t.Errorf("unexpected initial run: %+v", r)
	}
	if r.Source != "https://example.com/talk.mp4" {
		t.Errorf("source = %s", r.Source)
	}
	if r.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestCreateRunEmptySource(t *testing.T) {
	s := setupTestStore(t)
	err := s.CreateRun(context.Background(), "run-1", "   ")
	if !errors.Is(err, ErrEmptySource) {
		t.Fatalf("expected ErrEmptySource, got %v", err)
	}
}

func TestGetRunMissing(t *testing.T) {
	s := setupTestStore(t)
	_, ok, err := s.GetRun(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if ok {
		t.Error("expected not found")
	}
}

func TestStageAndProgressUpdates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, "run-1", "file.mp4"); err != nil {
		t.Fatal(err)
	}

	if err := s.SetStage(ctx, "run-1", "transcribe"); err != nil {
		t.Fatalf("SetStage: %v", err)
	}
	if err := s.UpdateProgress(ctx, "run-1", 42.5); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	r, _, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Stage != "transcribe" || r.Status != "running" {
		t.Errorf("stage/status = %s/%s", r.Stage, r.Status)
	}
	if r.Progress != 42.5 {
		t.Errorf("progress = %f", r.Progress)
	}

	// Moving to the next stage resets progress.
	if err := s.SetStage(ctx, "run-1", "analyze"); err != nil {
		t.Fatal(err)
	}
	r, _, _ = s.GetRun(ctx, "run-1")
	if r.Progress != 0 {
		t.Errorf("progress after stage change = %f, want 0", r.Progress)
	}
}

func TestArtifacts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, "run-1", "file.mp4"); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"/out/a.mp4", "/out/a.mp3", "/out/a.mp3"} {
		if err := s.AddArtifact(ctx, "run-1", p); err != nil {
			t.Fatalf("AddArtifact: %v", err)
		}
	}

	r, _, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Artifacts) != 2 {
		t.Fatalf("artifacts = %v, want deduplicated pair", r.Artifacts)
	}
	if r.Artifacts[0] != "/out/a.mp4" || r.Artifacts[1] != "/out/a.mp3" {
		t.Errorf("artifacts = %v", r.Artifacts)
	}
}

func TestAddArtifactConcurrent(t *testing.T) {
	// The manager fires one artifact hook goroutine per stage output, so
	// a completed run appends up to four paths at once. None may be lost.
	s := setupTestStore(t)
	ctx := context.Background()
	paths := []string{"/out/a.mp4", "/out/a.mp3", "/out/a_transcript.txt", "/out/a_analysis.txt"}

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("run-%d", i)
		if err := s.CreateRun(ctx, id, "file.mp4"); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		for _, p := range paths {
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				if err := s.AddArtifact(ctx, id, p); err != nil {
					t.Errorf("AddArtifact(%s): %v", p, err)
				}
			}(p)
		}
		wg.Wait()

		r, _, err := s.GetRun(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(r.Artifacts) != len(paths) {
			t.Fatalf("lost artifacts: got %d (%v), want %d", len(r.Artifacts), r.Artifacts, len(paths))
		}
	}
}

func TestAddArtifactMissingRun(t *testing.T) {
	s := setupTestStore(t)
	if err := s.AddArtifact(context.Background(), "nope", "/out/a.mp4"); err == nil {
		t.Fatal("expected error for missing run")
	}
}

func TestMarkCompletedAndFailed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_ = s.CreateRun(ctx, "ok", "a.mp4")
	_ = s.CreateRun(ctx, "bad", "b.mp4")

	if err := s.MarkCompleted(ctx, "ok"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := s.MarkFailed(ctx, "bad", " download failed "); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	r, _, _ := s.GetRun(ctx, "ok")
	if r.Status != "completed" || r.Progress != 100 || r.ErrorMessage != "" {
		t.Errorf("completed run = %+v", r)
	}
	r, _, _ = s.GetRun(ctx, "bad")
	if r.Status != "failed" || r.ErrorMessage != "download failed" {
		t.Errorf("failed run = %+v", r)
	}
}

func TestListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.CreateRun(ctx, fmt.Sprintf("run-%d", i), fmt.Sprintf("src-%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.MarkCompleted(ctx, "run-0")
	_ = s.MarkFailed(ctx, "run-1", "boom")

	all, err := s.ListRuns(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}

	failed, err := s.ListRuns(ctx, ListFilter{Status: "failed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ID != "run-1" {
		t.Errorf("failed = %+v", failed)
	}

	limited, err := s.ListRuns(ctx, ListFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limited len = %d", len(limited))
	}
}

func TestCountByStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_ = s.CreateRun(ctx, "a", "a.mp4")
	_ = s.CreateRun(ctx, "b", "b.mp4")
	_ = s.MarkCompleted(ctx, "a")

	n, err := s.CountByStatus(ctx, "queued")
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if n != 1 {
		t.Errorf("queued = %d, want 1", n)
	}
	n, _ = s.CountByStatus(ctx, "completed")
	if n != 1 {
		t.Errorf("completed = %d, want 1", n)
	}
}

func TestSchemaMigrationAddsColumns(t *testing.T) {
	// Reopening an existing database must be a no-op for the schema.
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.CreateRun(context.Background(), "run-1", "a.mp4")
	s.Close()

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	r, ok, err := s2.GetRun(context.Background(), "run-1")
	if err != nil || !ok {
		t.Fatalf("GetRun after reopen: %v %v", ok, err)
	}
	if r.Source != "a.mp4" {
		t.Errorf("source = %s", r.Source)
	}
}
