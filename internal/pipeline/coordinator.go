// Package pipeline sequences the six analysis stages, carries the shared
// run context, enforces timeouts, and assembles the final result.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
	"github.com/afschowdhury/excavator-video-analyzer/internal/cycles"
	"github.com/afschowdhury/excavator-video-analyzer/internal/detect"
	"github.com/afschowdhury/excavator-video-analyzer/internal/video"
)

// Stage names as they appear in errors and progress events.
const (
	StageExtract  = "frame_extractor"
	StageClassify = "frame_classifier"
	StageDetect   = "action_detector"
	StageAssemble = "cycle_assembler"
	StageEnrich   = "telemetry_enricher"
	StageReport   = "report_generator"
)

// stageWeights fixes each stage's share of the 0-100 progress scale.
var stageWeights = []struct {
	name   string
	weight int
}{
	{StageExtract, 10},
	{StageClassify, 25},
	{StageDetect, 5},
	{StageAssemble, 20},
	{StageEnrich, 10},
	{StageReport, 30},
}

// ProgressFunc receives normalized pipeline progress. Callbacks are
// best-effort: failures are swallowed and never abort the run.
type ProgressFunc func(stage string, percent int, message string)

// FrameExtractor is stage 1.
type FrameExtractor interface {
	Extract(ctx context.Context, source string) ([]analysis.Frame, *video.ProbeResult, error)
}

// FrameClassifier is stage 2.
type FrameClassifier interface {
	Classify(ctx context.Context, sourceID string, frames []analysis.Frame) ([]analysis.Classification, error)
}

// TelemetryEnricher is stage 5.
type TelemetryEnricher interface {
	Enrich(sourceID string) analysis.TelemetryRecord
}

// ReportGenerator is stage 6.
type ReportGenerator interface {
	Generate(ctx context.Context, result *analysis.PipelineResult) (analysis.Report, error)
}

// Config holds the per-run coordinator settings. The value is immutable
// for the duration of a run.
type Config struct {
	MaxFrames       int
	ExtractTimeout  time.Duration
	ClassifyTimeout time.Duration
	EnrichTimeout   time.Duration
	ReportTimeout   time.Duration
	TotalTimeout    time.Duration
	Logger          *slog.Logger
	Progress        ProgressFunc
}

// Coordinator runs the stages strictly in order; no stage starts before
// its predecessor's full output is available.
type Coordinator struct {
	cfg        Config
	extractor  FrameExtractor
	classifier FrameClassifier
	assembler  *cycles.Assembler
	enricher   TelemetryEnricher
	generator  ReportGenerator
}

func NewCoordinator(cfg Config, extractor FrameExtractor, classifier FrameClassifier,
	assembler *cycles.Assembler, enricher TelemetryEnricher, generator ReportGenerator) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		extractor:  extractor,
		classifier: classifier,
		assembler:  assembler,
		enricher:   enricher,
		generator:  generator,
	}
}

// Run executes the full pipeline for one source. Hard failures return a
// nil result; soft failures surface as notes on the affected records.
func (co *Coordinator) Run(ctx context.Context, source string) (*analysis.PipelineResult, error) {
	sourceID := analysis.SourceID(source)
	logger := co.cfg.Logger.With("source_id", sourceID)

	if co.cfg.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, co.cfg.TotalTimeout)
		defer cancel()
	}

	result := &analysis.PipelineResult{
		Source:    source,
		SourceID:  sourceID,
		StartedAt: time.Now().UTC(),
		MaxFrames: co.cfg.MaxFrames,
	}

	// Stage 1: frame extraction.
	var frames []analysis.Frame
	err := co.runStage(ctx, StageExtract, co.cfg.ExtractTimeout, sourceID, func(stageCtx context.Context) error {
		var stageErr error
		frames, _, stageErr = co.extractor.Extract(stageCtx, source)
		return stageErr
	})
	if err != nil {
		return nil, err
	}
	result.FrameCount = len(frames)
	co.StageDone(StageExtract, "frames extracted")
	logger.Info("stage complete", "stage", StageExtract, "frames", len(frames))

	// Stage 2: classification. Frames are owned by this run and dropped
	// once their classifications exist.
	var classifications []analysis.Classification
	err = co.runStage(ctx, StageClassify, co.cfg.ClassifyTimeout, sourceID, func(stageCtx context.Context) error {
		var stageErr error
		classifications, stageErr = co.classifier.Classify(stageCtx, sourceID, frames)
		return stageErr
	})
	if err != nil {
		return nil, err
	}
	frames = nil
	for _, cls := range classifications {
		if cls.Confidence == 0 && cls.Note != "" {
			result.SoftFailures++
		}
	}
	co.StageDone(StageClassify, "frames classified")
	logger.Info("stage complete", "stage", StageClassify,
		"classifications", len(classifications), "soft_failures", result.SoftFailures)

	if err := ctx.Err(); err != nil {
		return nil, analysis.NewError(analysis.KindCancelled, StageDetect, sourceID, err)
	}

	// Stage 3: event detection (pure).
	events := detect.DetectEvents(classifications)
	classifications = nil
	result.EventCount = len(events)
	co.StageDone(StageDetect, "events detected")
	logger.Info("stage complete", "stage", StageDetect, "events", len(events))

	// Stage 4: cycle assembly (pure).
	result.Cycles = co.assembler.Assemble(events)
	result.Statistics = cycles.Statistics(result.Cycles)
	co.StageDone(StageAssemble, "cycles assembled")
	logger.Info("stage complete", "stage", StageAssemble, "cycles", len(result.Cycles))

	if err := ctx.Err(); err != nil {
		return nil, analysis.NewError(analysis.KindCancelled, StageEnrich, sourceID, err)
	}

	// Stage 5: telemetry enrichment. Never fails the run.
	err = co.runStage(ctx, StageEnrich, co.cfg.EnrichTimeout, sourceID, func(stageCtx context.Context) error {
		result.Telemetry = co.enricher.Enrich(sourceID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	co.StageDone(StageEnrich, "telemetry checked")

	// Stage 6: report generation.
	err = co.runStage(ctx, StageReport, co.cfg.ReportTimeout, sourceID, func(stageCtx context.Context) error {
		rep, stageErr := co.generator.Generate(stageCtx, result)
		if stageErr != nil {
			return stageErr
		}
		result.Report = rep
		return nil
	})
	if err != nil {
		return nil, err
	}
	co.StageDone(StageReport, "report rendered")
	logger.Info("pipeline complete",
		"cycles", len(result.Cycles),
		"events", result.EventCount,
		"report_bytes", len(result.Report.Body),
	)

	return result, nil
}

// runStage applies the stage's soft timeout and maps context errors onto
// the failure taxonomy: parent cancellation becomes Cancelled, a stage
// deadline becomes StageTimeout.
func (co *Coordinator) runStage(ctx context.Context, stage string, timeout time.Duration, sourceID string, fn func(context.Context) error) error {
	stageCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := fn(stageCtx)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return analysis.NewError(analysis.KindCancelled, stage, sourceID, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return analysis.NewError(analysis.KindStageTimeout, stage, sourceID, err)
	}

	var pipelineErr *analysis.Error
	if errors.As(err, &pipelineErr) {
		return err
	}
	return analysis.NewError(analysis.KindInternal, stage, sourceID, err)
}

// StageProgress reports fine-grained progress within a stage, normalized
// to the fixed 0-100 scale.
func (co *Coordinator) StageProgress(stage string, done, total int) {
	if total <= 0 {
		return
	}
	frac := float64(done) / float64(total)
	if frac > 1 {
		frac = 1
	}
	co.emit(stage, percentBefore(stage)+int(frac*float64(weightOf(stage))), "")
}

// StageEvent reports an intermediate stage event whose total is unknown,
// e.g. a running frame-extraction count.
func (co *Coordinator) StageEvent(stage, message string) {
	co.emit(stage, percentBefore(stage), message)
}

// StageDone reports a completed stage.
func (co *Coordinator) StageDone(stage, message string) {
	co.emit(stage, percentBefore(stage)+weightOf(stage), message)
}

// emit delivers a progress event, swallowing callback panics.
func (co *Coordinator) emit(stage string, percent int, message string) {
	if co.cfg.Progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			co.cfg.Logger.Warn("progress callback panicked", "stage", stage, "panic", r)
		}
	}()
	co.cfg.Progress(stage, percent, message)
}

func weightOf(stage string) int {
	for _, s := range stageWeights {
		if s.name == stage {
			return s.weight
		}
	}
	return 0
}

func percentBefore(stage string) int {
	sum := 0
	for _, s := range stageWeights {
		if s.name == stage {
			return sum
		}
		sum += s.weight
	}
	return sum
}
