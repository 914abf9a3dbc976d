package report

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
	"github.com/afschowdhury/excavator-video-analyzer/internal/classify"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

const (
	stageName = "report_generator"

	// MIMEMarkdown is the MIME type of the deterministic report.
	MIMEMarkdown = "text/markdown"
)

// Config holds the generator's configuration.
type Config struct {
	Template       string // template identifier, e.g. "cycle_report"
	Narrative      bool
	NarrativeModel string
	TokenLimit     int
	Temperature    float64
	RetryAttempts  int
	RetryInitial   time.Duration
	Logger         *slog.Logger
}

// Generator renders the report artifact. The deterministic template is the
// default path; narrative mode asks the text model and falls back to the
// deterministic output when the model fails.
type Generator struct {
	cfg     Config
	backend classify.Backend // may be nil when narrative mode is off
	system  string
	tmpl    *template.Template
}

func NewGenerator(cfg Config, backend classify.Backend, prompts *classify.PromptStore) (*Generator, error) {
	if cfg.Template == "" {
		cfg.Template = "cycle_report"
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	name := "templates/" + cfg.Template + ".md.tmpl"
	data, err := templatesFS.ReadFile(name)
	if err != nil {
		return nil, analysis.NewError(analysis.KindTemplateMissing, stageName, "",
			fmt.Errorf("report template %q not found", cfg.Template))
	}

	tmpl, err := template.New(cfg.Template).Parse(string(data))
	if err != nil {
		return nil, analysis.NewError(analysis.KindTemplateMissing, stageName, "",
			fmt.Errorf("report template %q invalid: %w", cfg.Template, err))
	}

	g := &Generator{cfg: cfg, backend: backend, tmpl: tmpl}

	if cfg.Narrative {
		narrTmpl, err := prompts.Get("narrative_report")
		if err != nil {
			return nil, err
		}
		g.system = narrTmpl.System
		if g.cfg.TokenLimit == 0 {
			g.cfg.TokenLimit = narrTmpl.MaxTokens
		}
		if g.cfg.Temperature == 0 {
			g.cfg.Temperature = narrTmpl.Temperature
		}
	}

	return g, nil
}

// Generate renders the report for a pipeline result. Narrative failures
// never propagate: they degrade to deterministic output with a note.
func (g *Generator) Generate(ctx context.Context, result *analysis.PipelineResult) (analysis.Report, error) {
	narrative := ""
	if g.cfg.Narrative && g.backend != nil {
		text, err := g.narrative(ctx, result)
		if err != nil {
			g.cfg.Logger.Warn("narrative generation failed, falling back to deterministic report", "error", err)
			narrative = "_Narrative analysis unavailable: " + truncate(err.Error(), 200) + "_"
		} else {
			narrative = text
		}
	}

	body, err := g.render(result, narrative)
	if err != nil {
		return analysis.Report{}, analysis.NewError(analysis.KindRenderFailed, stageName, result.SourceID, err)
	}

	return analysis.Report{Body: body, MIME: MIMEMarkdown}, nil
}

// templateData is the view model handed to the report template. All
// numbers arrive pre-formatted so the template stays purely structural.
type templateData struct {
	SourceID   string
	Date       string
	FrameCount int
	Cycles     []cycleRow
	Stats      statsView
	Telemetry  telemetryView
	Narrative  string
}

type cycleRow struct {
	Number   int
	Start    string
	End      string
	Duration string
	Status   string
	Note     string
}

type statsView struct {
	Count       int
	Approximate string
	Specific    string
	Idle        string
	Min         string
	Max         string
	StdDev      string
	Trend       string
	Consistency string
}

type telemetryView struct {
	Found        bool
	Productivity string
	Fuel         string
	SwingLeft    string
	SwingRight   string
}

func (g *Generator) render(result *analysis.PipelineResult, narrative string) ([]byte, error) {
	data := templateData{
		SourceID:   result.SourceID,
		Date:       result.StartedAt.Format("2006-01-02"),
		FrameCount: result.FrameCount,
		Narrative:  narrative,
		Stats: statsView{
			Count:       result.Statistics.Count,
			Approximate: FormatDuration(result.Statistics.ApproximateAverage),
			Specific:    FormatDuration(result.Statistics.SpecificAverage),
			Idle:        FormatDuration(result.Statistics.IdlePerCycle),
			Min:         FormatDuration(result.Statistics.Min),
			Max:         FormatDuration(result.Statistics.Max),
			StdDev:      FormatDuration(result.Statistics.StdDev),
			Trend:       result.Statistics.Trend,
			Consistency: fmt.Sprintf("%.1f", result.Statistics.ConsistencyScore),
		},
	}

	for _, c := range result.Cycles {
		data.Cycles = append(data.Cycles, cycleRow{
			Number:   c.Number,
			Start:    FormatTimestamp(c.Start),
			End:      FormatTimestamp(c.End),
			Duration: FormatDuration(c.Duration),
			Status:   string(c.Completeness),
			Note:     c.Note,
		})
	}

	if result.Telemetry.Found {
		data.Telemetry = telemetryView{
			Found:      true,
			Fuel:       fmt.Sprintf("%.2f", result.Telemetry.FuelBurned),
			SwingLeft:  fmt.Sprintf("%.0f s", result.Telemetry.TimeSwingingLeft),
			SwingRight: fmt.Sprintf("%.0f s", result.Telemetry.TimeSwingingRight),
		}
		if result.Telemetry.Productivity > 0 {
			data.Telemetry.Productivity = fmt.Sprintf("%.2f", result.Telemetry.Productivity)
		}
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("template execution: %w", err)
	}
	return buf.Bytes(), nil
}

// narrativePayload is the structured cycle data handed to the text model.
type narrativePayload struct {
	SourceID   string                   `json:"source_id"`
	Cycles     []analysis.Cycle         `json:"cycles"`
	Statistics analysis.CycleStatistics `json:"statistics"`
	Telemetry  analysis.TelemetryRecord `json:"telemetry"`
}

func (g *Generator) narrative(ctx context.Context, result *analysis.PipelineResult) (string, error) {
	payload, err := json.Marshal(narrativePayload{
		SourceID:   result.SourceID,
		Cycles:     result.Cycles,
		Statistics: result.Statistics,
		Telemetry:  result.Telemetry,
	})
	if err != nil {
		return "", fmt.Errorf("marshal narrative payload: %w", err)
	}

	req := classify.TextRequest{
		Model:       g.cfg.NarrativeModel,
		System:      g.system,
		UserMessage: string(payload),
		TokenLimit:  g.cfg.TokenLimit,
		Temperature: g.cfg.Temperature,
	}

	backoff := g.cfg.RetryInitial
	var lastErr error
	for attempt := 1; attempt <= g.cfg.RetryAttempts; attempt++ {
		text, err := g.backend.GenerateText(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !classify.Transient(err) || attempt == g.cfg.RetryAttempts {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// Save writes a rendered report under dir with a sanitized filename and
// returns the path.
func Save(dir, sourceID string, rep analysis.Report) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("cannot create reports dir: %w", err)
	}

	name := SanitizeName(sourceID, 64)
	if name == "" {
		name = "report"
	}
	path := filepath.Join(dir, name+"_cycle_report.md")

	if err := os.WriteFile(path, rep.Body, 0644); err != nil {
		return "", fmt.Errorf("cannot write report: %w", err)
	}
	return path, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
