package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
	"github.com/afschowdhury/excavator-video-analyzer/internal/classify"
	"github.com/afschowdhury/excavator-video-analyzer/internal/config"
	"github.com/afschowdhury/excavator-video-analyzer/internal/cycles"
	"github.com/afschowdhury/excavator-video-analyzer/internal/logging"
	"github.com/afschowdhury/excavator-video-analyzer/internal/pipeline"
	"github.com/afschowdhury/excavator-video-analyzer/internal/report"
	"github.com/afschowdhury/excavator-video-analyzer/internal/telemetry"
	"github.com/afschowdhury/excavator-video-analyzer/internal/video"
)

func newExtractor(cfg *config.Settings, logger *slog.Logger, progress func(extracted int, done bool)) (*video.Extractor, error) {
	return video.NewExtractor(video.Config{
		FPS:       cfg.Video.FPS,
		MaxFrames: cfg.Video.MaxFrames,
		Logger:    logging.WithStage(logger, pipeline.StageExtract),
		Progress:  progress,
	})
}

// appAnalyzer wires the configured stages into a coordinator per run. It
// satisfies the jobs.Analyzer contract used by both subcommands.
type appAnalyzer struct {
	cfg     *config.Settings
	logger  *slog.Logger
	prompts *classify.PromptStore
}

func newAnalyzer(cfg *config.Settings, logger *slog.Logger) (*appAnalyzer, error) {
	prompts, err := classify.NewPromptStore()
	if err != nil {
		return nil, err
	}
	return &appAnalyzer{cfg: cfg, logger: logger, prompts: prompts}, nil
}

// newBackend picks the model backend by family. Clients are per run; they
// are reused across that run's requests but not across concurrent runs.
func (a *appAnalyzer) newBackend(ctx context.Context, model string) (classify.Backend, error) {
	if classify.IsGeminiModel(model) {
		return classify.NewGeminiBackend(ctx, os.Getenv("GEMINI_API_KEY"))
	}
	return classify.NewOpenAIBackend(a.cfg.Classifier.BaseURL, os.Getenv("OPENAI_API_KEY"), model,
		logging.WithComponent(a.logger, "openai"))
}

func (a *appAnalyzer) Analyze(ctx context.Context, source string, progress pipeline.ProgressFunc) (*analysis.PipelineResult, error) {
	sourceID := analysis.SourceID(source)
	logger := logging.WithSourceID(a.logger, sourceID)

	backend, err := a.newBackend(ctx, a.cfg.Classifier.Model)
	if err != nil {
		return nil, analysis.NewError(analysis.KindConfigInvalid, pipeline.StageClassify, sourceID, err)
	}
	defer backend.Close()

	// The coordinator variable is declared before the stages so their
	// fine-grained progress hooks can route through it once it is assigned
	// below; events raised before that are dropped.
	var co *pipeline.Coordinator

	extractor, err := newExtractor(a.cfg, logger, func(extracted int, done bool) {
		if co != nil {
			co.StageEvent(pipeline.StageExtract, "frames extracted")
		}
	})
	if err != nil {
		return nil, analysis.NewError(analysis.KindConfigInvalid, pipeline.StageExtract, sourceID, err)
	}

	classifier, err := classify.New(classify.Config{
		Model:            a.cfg.Classifier.Model,
		TokenLimit:       a.cfg.Classifier.TokenLimit,
		Temperature:      a.cfg.Classifier.Temperature,
		Concurrency:      a.cfg.Classifier.Concurrency,
		RetryAttempts:    a.cfg.Classifier.RetryAttempts,
		RetryInitial:     a.cfg.Classifier.RetryInitial(),
		BreakerThreshold: a.cfg.Classifier.BreakerThreshold,
		Logger:           logging.WithStage(logger, pipeline.StageClassify),
		Progress: func(done, total int) {
			if co != nil {
				co.StageProgress(pipeline.StageClassify, done, total)
			}
		},
	}, backend, a.prompts)
	if err != nil {
		return nil, err
	}

	assembler := cycles.NewAssembler(cycles.Config{
		CompleteMinSeconds: a.cfg.Cycles.CompleteMinSeconds,
		PartialMinSeconds:  a.cfg.Cycles.PartialMinSeconds,
		Logger:             logging.WithStage(logger, pipeline.StageAssemble),
	})

	enricher := telemetry.NewEnricher(a.cfg.Telemetry.Dir, logging.WithStage(logger, pipeline.StageEnrich))

	var narrativeBackend classify.Backend
	if a.cfg.Report.Narrative {
		narrativeBackend, err = a.newBackend(ctx, a.cfg.Report.NarrativeModel)
		if err != nil {
			return nil, analysis.NewError(analysis.KindConfigInvalid, pipeline.StageReport, sourceID, err)
		}
		defer narrativeBackend.Close()
	}

	generator, err := report.NewGenerator(report.Config{
		Template:       a.cfg.Report.Template,
		Narrative:      a.cfg.Report.Narrative,
		NarrativeModel: a.cfg.Report.NarrativeModel,
		TokenLimit:     a.cfg.Report.TokenLimit,
		Temperature:    a.cfg.Report.Temperature,
		RetryAttempts:  a.cfg.Classifier.RetryAttempts,
		RetryInitial:   a.cfg.Classifier.RetryInitial(),
		Logger:         logging.WithStage(logger, pipeline.StageReport),
	}, narrativeBackend, a.prompts)
	if err != nil {
		return nil, err
	}

	co = pipeline.NewCoordinator(pipeline.Config{
		MaxFrames:       a.cfg.Video.MaxFrames,
		ExtractTimeout:  a.cfg.Timeouts.Extract(),
		ClassifyTimeout: a.cfg.Timeouts.Classify(),
		EnrichTimeout:   a.cfg.Timeouts.Enrich(),
		ReportTimeout:   a.cfg.Timeouts.Report(),
		TotalTimeout:    a.cfg.Timeouts.Total(),
		Logger:          logger,
		Progress:        progress,
	}, extractor, classifier, assembler, enricher, generator)

	return co.Run(ctx, source)
}
