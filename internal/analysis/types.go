// Package analysis defines the record types shared by the pipeline stages:
// frames, classifications, events, cycles, statistics, telemetry, and the
// final pipeline result.
package analysis

import (
	"crypto/rand"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ActivityLabel is one of the five excavation states a frame can show.
type ActivityLabel string

const (
	LabelDigging     ActivityLabel = "digging"
	LabelSwingToDump ActivityLabel = "swing_to_dump"
	LabelDumping     ActivityLabel = "dumping"
	LabelSwingToDig  ActivityLabel = "swing_to_dig"
	LabelIdle        ActivityLabel = "idle"
)

// Labels lists every permitted activity label.
var Labels = []ActivityLabel{
	LabelDigging,
	LabelSwingToDump,
	LabelDumping,
	LabelSwingToDig,
	LabelIdle,
}

// ParseLabel validates a classifier-returned label. Unknown labels are
// coerced to idle with ok=false so the caller can annotate the record.
func ParseLabel(s string) (ActivityLabel, bool) {
	l := ActivityLabel(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Labels {
		if l == known {
			return l, true
		}
	}
	return LabelIdle, false
}

// Frame is a decoded still image sampled from the source video.
// Immutable after extraction.
type Frame struct {
	Index       int     `json:"index"`        // 0-based extraction index, contiguous
	NativeIndex int     `json:"native_index"` // frame number in the source video
	Timestamp   float64 `json:"timestamp"`    // seconds from the start of the video
	Image       []byte  `json:"-"`            // encoded image bytes
	Encoding    string  `json:"encoding"`     // e.g. "image/jpeg"
}

// Classification pairs a frame with its activity label.
type Classification struct {
	FrameIndex int           `json:"frame_index"`
	Timestamp  float64       `json:"timestamp"`
	Label      ActivityLabel `json:"label"`
	Confidence float64       `json:"confidence"`
	Note       string        `json:"note,omitempty"`
}

// EventKind enumerates the sparse state-transition events.
type EventKind string

const (
	EventDigStart    EventKind = "dig_start"
	EventDigEnd      EventKind = "dig_end"
	EventDumpStart   EventKind = "dump_start"
	EventDumpEnd     EventKind = "dump_end"
	EventReturnToDig EventKind = "return_to_dig"
)

// Event is a transition between two consecutive classifications with
// different labels. Timestamp is the timestamp of the second classification.
type Event struct {
	Kind       EventKind     `json:"kind"`
	Timestamp  float64       `json:"timestamp"`
	FrameIndex int           `json:"frame_index"`
	From       ActivityLabel `json:"from"`
	To         ActivityLabel `json:"to"`
}

// Completeness marks whether a cycle reached the dig site again.
type Completeness string

const (
	CycleComplete Completeness = "complete"
	CyclePartial  Completeness = "partial"
)

// PhaseDurations holds the four sub-segments of a cycle, in seconds.
type PhaseDurations struct {
	Dig         float64 `json:"dig"`
	SwingToDump float64 `json:"swing_to_dump"`
	Dump        float64 `json:"dump"`
	Return      float64 `json:"return"`
}

// Sum returns the total of the four phases.
func (p PhaseDurations) Sum() float64 {
	return p.Dig + p.SwingToDump + p.Dump + p.Return
}

// Cycle is one dig → swing → dump → return unit of work.
type Cycle struct {
	Number       int            `json:"number"` // 1-based
	Start        float64        `json:"start"`
	End          float64        `json:"end"`
	Duration     float64        `json:"duration"`
	Phases       PhaseDurations `json:"phases"`
	Completeness Completeness   `json:"completeness"`
	Note         string         `json:"note,omitempty"`
}

// CycleStatistics is derived from a sequence of cycles.
type CycleStatistics struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"` // population formula

	// SpecificAverage is the mean of individual cycle durations (work only).
	SpecificAverage float64 `json:"specific_average"`
	// ApproximateAverage is (last end - first start) / count, gaps included.
	ApproximateAverage float64 `json:"approximate_average"`
	// IdlePerCycle is approximate minus specific; always >= 0.
	IdlePerCycle float64 `json:"idle_per_cycle"`

	// Trend describes how cycle times develop over the session.
	Trend string `json:"trend"`
	// ConsistencyScore is 0-100, derived from the coefficient of variation.
	ConsistencyScore float64 `json:"consistency_score"`
}

// TelemetryRecord is optional simulator telemetry matched to the source.
type TelemetryRecord struct {
	Found             bool    `json:"found"`
	Productivity      float64 `json:"productivity"`        // m3/hr
	FuelBurned        float64 `json:"fuel_burned"`         // litres
	TimeSwingingLeft  float64 `json:"time_swinging_left"`  // seconds
	TimeSwingingRight float64 `json:"time_swinging_right"` // seconds
}

// Report is a rendered artifact plus its MIME type.
type Report struct {
	Body []byte `json:"-"`
	MIME string `json:"mime"`
}

// PipelineResult aggregates the outputs of every stage.
type PipelineResult struct {
	Source       string          `json:"source"`
	SourceID     string          `json:"source_id"`
	StartedAt    time.Time       `json:"started_at"`
	FrameCount   int             `json:"frame_count"`
	MaxFrames    int             `json:"max_frames"`
	EventCount   int             `json:"event_count"`
	Cycles       []Cycle         `json:"cycles"`
	Statistics   CycleStatistics `json:"statistics"`
	Telemetry    TelemetryRecord `json:"telemetry"`
	Report       Report          `json:"report"`
	SoftFailures int             `json:"soft_failures"`
}

var sourceIDPattern = regexp.MustCompile(`[A-Za-z]?\d+[A-Za-z]?`)

// SourceID derives the telemetry-matching identifier from a source path or
// URL: the stem of the filename, reduced to its alphanumeric id pattern
// when one is present ("B6.mp4" -> "B6").
func SourceID(source string) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if m := sourceIDPattern.FindString(stem); m != "" {
		return m
	}
	return stem
}

// NewID returns a random identifier in uuid-like format.
func NewID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
