package cycles

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
)

// Trend thresholds: relative change over the session, in percent.
const trendThresholdPct = 5.0

// Statistics derives aggregate cycle metrics. Empty input yields zeroed
// statistics. Standard deviation uses the population formula over a
// numerically stable two-pass computation.
func Statistics(cycles []analysis.Cycle) analysis.CycleStatistics {
	if len(cycles) == 0 {
		return analysis.CycleStatistics{Trend: "insufficient data"}
	}

	durations := make([]float64, len(cycles))
	for i, c := range cycles {
		durations[i] = c.Duration
	}

	mean := stat.Mean(durations, nil)

	minD, maxD := durations[0], durations[0]
	for _, d := range durations[1:] {
		minD = math.Min(minD, d)
		maxD = math.Max(maxD, d)
	}

	// Two-pass population variance: mean first, then squared deviations.
	stddev := 0.0
	if len(durations) > 1 {
		var sumsq float64
		for _, d := range durations {
			dev := d - mean
			sumsq += dev * dev
		}
		stddev = math.Sqrt(sumsq / float64(len(durations)))
	}

	approximate := (cycles[len(cycles)-1].End - cycles[0].Start) / float64(len(cycles))
	idle := approximate - mean
	if idle < 0 {
		idle = 0
	}

	return analysis.CycleStatistics{
		Count:              len(cycles),
		Min:                minD,
		Max:                maxD,
		StdDev:             stddev,
		SpecificAverage:    mean,
		ApproximateAverage: approximate,
		IdlePerCycle:       idle,
		Trend:              trend(durations, mean),
		ConsistencyScore:   consistencyScore(stddev, mean),
	}
}

// trend fits cycle durations against cycle index and reports whether the
// operator is getting faster or slower over the session.
func trend(durations []float64, mean float64) string {
	if len(durations) < 3 || mean <= 0 {
		return "insufficient data"
	}

	xs := make([]float64, len(durations))
	for i := range xs {
		xs[i] = float64(i)
	}

	_, beta := stat.LinearRegression(xs, durations, nil, false)
	changePct := beta * float64(len(durations)-1) / mean * 100

	switch {
	case changePct < -trendThresholdPct:
		return "improving"
	case changePct > trendThresholdPct:
		return "declining"
	default:
		return "stable"
	}
}

// consistencyScore is 0-100, higher meaning more even cycle times, derived
// from the coefficient of variation.
func consistencyScore(stddev, mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	cv := stddev / mean
	score := 100 - cv*100
	return math.Max(0, math.Min(100, score))
}
