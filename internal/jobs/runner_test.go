package jobs

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
	"github.com/afschowdhury/excavator-video-analyzer/internal/pipeline"
	"github.com/afschowdhury/excavator-video-analyzer/internal/store"
)

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewRepository(db.Conn())
}

type fakeAnalyzer struct {
	result *analysis.PipelineResult
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, source string, progress pipeline.ProgressFunc) (*analysis.PipelineResult, error) {
	if progress != nil {
		progress("frame_classifier", 35, "")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestEnqueueAndExecute(t *testing.T) {
	repo := newTestRepo(t)
	reportsDir := t.TempDir()

	analyzer := &fakeAnalyzer{result: &analysis.PipelineResult{
		Source:   "/videos/B6.mp4",
		SourceID: "B6",
		Cycles:   []analysis.Cycle{{Number: 1, Duration: 30}},
		Report:   analysis.Report{Body: []byte("# Report"), MIME: "text/markdown"},
	}}
	runner := NewRunner(repo, analyzer, reportsDir, slog.New(slog.DiscardHandler))

	ctx := context.Background()
	run, err := runner.Enqueue(ctx, "/videos/B6.mp4")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if run.SourceID != "B6" || run.Status != store.RunStatusPending {
		t.Fatalf("enqueued run = %+v", run)
	}

	runner.Execute(ctx, run)

	got, err := repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != store.RunStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.Progress != 35 || got.Stage != "frame_classifier" {
		t.Fatalf("progress not persisted: %+v", got)
	}
	if got.ResultJSON == "" {
		t.Fatal("result JSON not persisted")
	}

	data, err := os.ReadFile(got.ReportPath)
	if err != nil {
		t.Fatalf("reading saved report: %v", err)
	}
	if string(data) != "# Report" {
		t.Fatalf("saved report = %q", data)
	}
}

func TestExecuteFailureMarksRunFailed(t *testing.T) {
	repo := newTestRepo(t)
	analyzer := &fakeAnalyzer{err: analysis.NewError(analysis.KindClassifierUnavailable, "frame_classifier", "B6", nil)}
	runner := NewRunner(repo, analyzer, t.TempDir(), slog.New(slog.DiscardHandler))

	ctx := context.Background()
	run, err := runner.Enqueue(ctx, "B6.mp4")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runner.Execute(ctx, run)

	got, err := repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != store.RunStatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Error == "" {
		t.Fatal("failure cause not persisted")
	}
}

func TestPauseResume(t *testing.T) {
	runner := NewRunner(newTestRepo(t), &fakeAnalyzer{}, "", slog.New(slog.DiscardHandler))

	if runner.IsPaused() {
		t.Fatal("runner should start unpaused")
	}
	runner.Pause()
	if !runner.IsPaused() {
		t.Fatal("Pause did not take effect")
	}
	runner.Resume()
	if runner.IsPaused() {
		t.Fatal("Resume did not take effect")
	}
}

func TestStartProcessesPendingRun(t *testing.T) {
	repo := newTestRepo(t)
	analyzer := &fakeAnalyzer{result: &analysis.PipelineResult{
		SourceID: "B6",
		Report:   analysis.Report{Body: []byte("x")},
	}}
	runner := NewRunner(repo, analyzer, "", slog.New(slog.DiscardHandler))
	runner.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run, err := runner.Enqueue(ctx, "B6.mp4")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	go runner.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		got, err := repo.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if got.Status == store.RunStatusCompleted {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("run never completed, status %q", got.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
