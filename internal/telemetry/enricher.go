// Package telemetry attaches optional simulator telemetry to a pipeline
// run, read from a PDF report matched by the source identifier.
package telemetry

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
)

// Enricher locates and parses `<dir>/<id>.pdf`. It never fails the
// pipeline: any file-access or parse problem yields found=false.
type Enricher struct {
	dir    string
	logger *slog.Logger

	// extractText is swappable in tests.
	extractText func(path string) (string, error)
}

func NewEnricher(dir string, logger *slog.Logger) *Enricher {
	return &Enricher{
		dir:         dir,
		logger:      logger,
		extractText: extractPDFText,
	}
}

var (
	productivityPattern = regexp.MustCompile(`(?i)Productivity\s+([\d.]+)\s*m³?/hr`)
	fuelPattern         = regexp.MustCompile(`(?i)Fuel Burned\s+([\d.]+)\s*L`)
	leftSecPattern      = regexp.MustCompile(`(?i)Time Spent Swinging Left\s+([\d.]+)\s*sec`)
	leftClockPattern    = regexp.MustCompile(`(?i)Time Spent Swinging Left\s+([\d:]+)`)
	rightSecPattern     = regexp.MustCompile(`(?i)Time Spent Swinging Right\s+([\d.]+)\s*sec`)
	rightClockPattern   = regexp.MustCompile(`(?i)Time Spent Swinging Right\s+([\d:]+)`)
)

// Enrich looks up telemetry for sourceID. Missing reports and parse errors
// are logged and reported as found=false.
func (e *Enricher) Enrich(sourceID string) analysis.TelemetryRecord {
	if e.dir == "" || sourceID == "" {
		return analysis.TelemetryRecord{}
	}

	path := filepath.Join(e.dir, sourceID+".pdf")
	if _, err := os.Stat(path); err != nil {
		e.logger.Info("no telemetry report for source", "source_id", sourceID)
		return analysis.TelemetryRecord{}
	}

	text, err := e.extractText(path)
	if err != nil {
		e.logger.Warn("cannot read telemetry report", "source_id", sourceID, "error", err)
		return analysis.TelemetryRecord{}
	}

	record := ParseMetrics(text)
	if !record.Found {
		e.logger.Warn("telemetry report contained no recognizable metrics", "source_id", sourceID)
		return record
	}

	e.logger.Info("telemetry extracted",
		"source_id", sourceID,
		"fuel_l", record.FuelBurned,
		"swing_left_s", record.TimeSwingingLeft,
		"swing_right_s", record.TimeSwingingRight,
	)
	return record
}

// ParseMetrics matches the labelled metric patterns in the report text.
// Missing individual metrics become zero; found is set when at least one
// metric parsed.
func ParseMetrics(text string) analysis.TelemetryRecord {
	var record analysis.TelemetryRecord
	matched := false

	if m := productivityPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			record.Productivity = v
			matched = true
		}
	}
	if m := fuelPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			record.FuelBurned = v
			matched = true
		}
	}

	if v, ok := parseSwingTime(text, leftSecPattern, leftClockPattern); ok {
		record.TimeSwingingLeft = v
		matched = true
	}
	if v, ok := parseSwingTime(text, rightSecPattern, rightClockPattern); ok {
		record.TimeSwingingRight = v
		matched = true
	}

	record.Found = matched
	return record
}

// parseSwingTime tries the plain-seconds form first, then the clock form.
func parseSwingTime(text string, secPattern, clockPattern *regexp.Regexp) (float64, bool) {
	if m := secPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, true
		}
	}
	if m := clockPattern.FindStringSubmatch(text); m != nil && strings.Contains(m[1], ":") {
		if v, err := clockToSeconds(m[1]); err == nil {
			return v, true
		}
	}
	return 0, false
}

// clockToSeconds converts "HH:MM:SS" or "MM:SS" to seconds.
func clockToSeconds(s string) (float64, error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 3:
		h, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		sec, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		return float64(h*3600 + m*60 + sec), nil
	case 2:
		m, err1 := strconv.Atoi(parts[0])
		sec, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		return float64(m*60 + sec), nil
	default:
		return 0, fmt.Errorf("invalid time %q", s)
	}
}

func extractPDFText(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot open PDF: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	r, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("cannot extract PDF text: %w", err)
	}
	if _, err := buf.ReadFrom(r); err != nil {
		return "", fmt.Errorf("cannot read PDF text: %w", err)
	}
	return buf.String(), nil
}
