package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
)

const (
	stageName = "frame_classifier"

	// First-pass labels below this confidence are re-checked with
	// previous-label context in two-pass mode.
	refineConfidence = 0.6

	// Progress is reported every N classified frames.
	progressInterval = 10
)

// Config holds the classifier's configuration.
type Config struct {
	Model            string
	TokenLimit       int
	Temperature      float64
	Concurrency      int // 1 = strictly sequential
	RetryAttempts    int
	RetryInitial     time.Duration
	BreakerThreshold int
	Logger           *slog.Logger
	Progress         func(classified, total int)
}

// Classifier maps frames to activity labels through an external vision
// model, preserving input order in its output.
type Classifier struct {
	cfg     Config
	backend Backend
	system  string
	br      *breaker
}

// New loads the frame-classifier prompt template and prepares the
// classifier. Template generation parameters fill unset config values.
func New(cfg Config, backend Backend, prompts *PromptStore) (*Classifier, error) {
	tmpl, err := prompts.Get("frame_classifier")
	if err != nil {
		return nil, err
	}

	if cfg.TokenLimit == 0 {
		cfg.TokenLimit = tmpl.MaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = tmpl.Temperature
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.BreakerThreshold < 1 {
		cfg.BreakerThreshold = 10
	}

	return &Classifier{
		cfg:     cfg,
		backend: backend,
		system:  tmpl.System,
		br:      &breaker{threshold: cfg.BreakerThreshold},
	}, nil
}

// Classify returns one classification per frame, in frame order. Per-frame
// model failures degrade to idle/0 classifications with a failure note;
// only the circuit breaker or cancellation abort the stage.
func (c *Classifier) Classify(ctx context.Context, sourceID string, frames []analysis.Frame) ([]analysis.Classification, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	c.cfg.Logger.Info("classifying frames",
		"frames", len(frames),
		"model", c.cfg.Model,
		"concurrency", c.cfg.Concurrency,
	)

	if c.cfg.Concurrency == 1 {
		return c.classifySequential(ctx, sourceID, frames)
	}
	return c.classifyTwoPass(ctx, sourceID, frames)
}

// classifySequential processes frames strictly in order, handing each call
// the previous frame's label as short-term context.
func (c *Classifier) classifySequential(ctx context.Context, sourceID string, frames []analysis.Frame) ([]analysis.Classification, error) {
	out := make([]analysis.Classification, len(frames))
	prev := ""

	for i := range frames {
		if err := ctx.Err(); err != nil {
			return nil, analysis.NewError(analysis.KindCancelled, stageName, sourceID, err)
		}

		cls, callErr := c.classifyFrame(ctx, frames[i], prev)
		out[i] = cls

		if callErr != nil {
			if ctx.Err() != nil {
				return nil, analysis.NewError(analysis.KindCancelled, stageName, sourceID, ctx.Err())
			}
			if c.br.failure() {
				return nil, analysis.NewError(analysis.KindClassifierUnavailable, stageName, sourceID,
					fmt.Errorf("%d consecutive classifier failures: %w", c.br.threshold, callErr))
			}
		} else {
			c.br.success()
		}

		prev = string(cls.Label)
		c.reportProgress(i+1, len(frames))
	}

	return out, nil
}

// classifyTwoPass runs a bounded-parallel first pass without prior-label
// context, then sequentially re-checks low-confidence transitions with the
// previous label. Output order always matches input order.
func (c *Classifier) classifyTwoPass(ctx context.Context, sourceID string, frames []analysis.Frame) ([]analysis.Classification, error) {
	out := make([]analysis.Classification, len(frames))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	var tripped atomic.Bool
	var done atomic.Int64

	for i := range frames {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-runCtx.Done():
				out[i] = failureClassification(frames[i], runCtx.Err())
				return
			}

			cls, callErr := c.classifyFrame(runCtx, frames[i], "")
			out[i] = cls

			if callErr != nil {
				if c.br.failure() {
					tripped.Store(true)
					cancel()
				}
			} else {
				c.br.success()
			}

			c.reportProgress(int(done.Add(1)), len(frames))
		}(i)
	}
	wg.Wait()

	if tripped.Load() {
		return nil, analysis.NewError(analysis.KindClassifierUnavailable, stageName, sourceID,
			fmt.Errorf("%d consecutive classifier failures", c.br.threshold))
	}
	if ctx.Err() != nil {
		return nil, analysis.NewError(analysis.KindCancelled, stageName, sourceID, ctx.Err())
	}

	// Sequential refinement of uncertain transitions.
	refined := 0
	for i := 1; i < len(out); i++ {
		if out[i].Label == out[i-1].Label || out[i].Confidence >= refineConfidence {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, analysis.NewError(analysis.KindCancelled, stageName, sourceID, err)
		}

		cls, callErr := c.classifyFrame(ctx, frames[i], string(out[i-1].Label))
		if callErr == nil {
			out[i] = cls
			refined++
		}
	}
	if refined > 0 {
		c.cfg.Logger.Info("refined uncertain transitions", "count", refined)
	}

	return out, nil
}

// classifyFrame performs one external call with retries. The returned
// classification is always usable; a non-nil error marks the call as failed
// for breaker accounting.
func (c *Classifier) classifyFrame(ctx context.Context, frame analysis.Frame, prevLabel string) (analysis.Classification, error) {
	resp, err := c.callWithRetry(ctx, frame, prevLabel)
	if err != nil {
		c.cfg.Logger.Warn("frame classification failed",
			"frame", frame.Index,
			"error", err,
		)
		return failureClassification(frame, err), err
	}

	label, known := analysis.ParseLabel(resp.Label)
	if !known {
		err := fmt.Errorf("unknown label %q coerced to idle", resp.Label)
		cls := failureClassification(frame, err)
		return cls, err
	}

	return analysis.Classification{
		FrameIndex: frame.Index,
		Timestamp:  frame.Timestamp,
		Label:      label,
		Confidence: resp.Confidence,
		Note:       resp.Note,
	}, nil
}

// callWithRetry retries transient failures with exponential backoff.
func (c *Classifier) callWithRetry(ctx context.Context, frame analysis.Frame, prevLabel string) (*VisionResponse, error) {
	req := VisionRequest{
		Model:       c.cfg.Model,
		System:      c.system,
		UserMessage: userMessage(frame, prevLabel),
		Image:       frame.Image,
		ImageMIME:   frame.Encoding,
		TokenLimit:  c.cfg.TokenLimit,
		Temperature: c.cfg.Temperature,
	}

	backoff := c.cfg.RetryInitial
	var lastErr error

	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		resp, err := c.backend.ClassifyFrame(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !Transient(err) || attempt == c.cfg.RetryAttempts {
			break
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

func (c *Classifier) reportProgress(done, total int) {
	if c.cfg.Progress == nil {
		return
	}
	if done%progressInterval == 0 || done == total {
		c.cfg.Progress(done, total)
	}
}

func (c *Classifier) Close() error {
	return c.backend.Close()
}

func userMessage(frame analysis.Frame, prevLabel string) string {
	if prevLabel == "" {
		prevLabel = "(none)"
	}
	return fmt.Sprintf("Frame %d at %.2f s.\nPrevious state: %s\n\nClassify this frame into one of the excavation states.",
		frame.Index+1, frame.Timestamp, prevLabel)
}

// failureClassification is the soft-failure record: idle, zero confidence,
// and the failure cause as a note so downstream stages see a complete
// sequence.
func failureClassification(frame analysis.Frame, cause error) analysis.Classification {
	note := "classification failed"
	if cause != nil {
		note = "classification failed: " + cause.Error()
	}
	return analysis.Classification{
		FrameIndex: frame.Index,
		Timestamp:  frame.Timestamp,
		Label:      analysis.LabelIdle,
		Confidence: 0,
		Note:       note,
	}
}

// breaker counts consecutive failed external calls and trips at the
// configured threshold.
type breaker struct {
	mu          sync.Mutex
	consecutive int
	threshold   int
}

// failure records a failed call and reports whether the breaker tripped.
func (b *breaker) failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	return b.consecutive >= b.threshold
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
}
