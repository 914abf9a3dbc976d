// Package jobs runs queued analyses in the background, one at a time,
// persisting progress and results through the store.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
	"github.com/afschowdhury/excavator-video-analyzer/internal/pipeline"
	"github.com/afschowdhury/excavator-video-analyzer/internal/report"
	"github.com/afschowdhury/excavator-video-analyzer/internal/store"
)

// Analyzer executes one full pipeline run for a source.
type Analyzer interface {
	Analyze(ctx context.Context, source string, progress pipeline.ProgressFunc) (*analysis.PipelineResult, error)
}

type Runner struct {
	repo         store.Repository
	analyzer     Analyzer
	reportsDir   string
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(repo store.Repository, analyzer Analyzer, reportsDir string, logger *slog.Logger) *Runner {
	return &Runner{
		repo:         repo,
		analyzer:     analyzer,
		reportsDir:   reportsDir,
		logger:       logger,
		pollInterval: 5 * time.Second,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("run queue started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("run queue stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextRun(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("run queue paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("run queue resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Enqueue records a new pending run for a source.
func (r *Runner) Enqueue(ctx context.Context, source string) (*store.Run, error) {
	now := time.Now().UTC()
	run := &store.Run{
		ID:        analysis.NewID(),
		Source:    source,
		SourceID:  analysis.SourceID(source),
		Status:    store.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	r.logger.Info("run enqueued", "run_id", run.ID, "source_id", run.SourceID)
	return run, nil
}

func (r *Runner) processNextRun(ctx context.Context) {
	pending, err := r.repo.ListPendingRuns(ctx)
	if err != nil {
		r.logger.Error("failed to list pending runs", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	run := pending[0]
	r.Execute(ctx, run)
}

// Execute performs one run synchronously, updating its persisted state.
func (r *Runner) Execute(ctx context.Context, run *store.Run) {
	logger := r.logger.With("run_id", run.ID, "source_id", run.SourceID)
	logger.Info("processing run")

	r.repo.UpdateRunStatus(ctx, run.ID, store.RunStatusRunning, "")

	progress := func(stage string, percent int, message string) {
		r.repo.UpdateRunProgress(ctx, run.ID, percent, stage)
	}

	result, err := r.analyzer.Analyze(ctx, run.Source, progress)
	if err != nil {
		logger.Error("run failed", "error", err)
		r.repo.UpdateRunStatus(ctx, run.ID, store.RunStatusFailed, truncate(err.Error(), 512))
		return
	}

	reportPath := ""
	if r.reportsDir != "" {
		if path, err := report.Save(r.reportsDir, result.SourceID, result.Report); err != nil {
			logger.Warn("cannot save report file", "error", err)
		} else {
			reportPath = path
		}
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		logger.Warn("cannot marshal result", "error", err)
	}

	if err := r.repo.SetRunResult(ctx, run.ID, string(resultJSON), reportPath); err != nil {
		logger.Error("cannot persist result", "error", err)
	}
	r.repo.UpdateRunStatus(ctx, run.ID, store.RunStatusCompleted, "")

	logger.Info("run completed",
		"cycles", len(result.Cycles),
		"events", result.EventCount,
		"report", reportPath,
	)
}

// GetActiveRunCount reports how many runs are currently executing.
func (r *Runner) GetActiveRunCount(ctx context.Context) int {
	runs, err := r.repo.ListRuns(ctx, 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, run := range runs {
		if run.Status == store.RunStatusRunning {
			count++
		}
	}
	return count
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}
