package cycles

import (
	"math"
	"testing"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
)

func cyclesWithGap(count int, duration, gap float64) []analysis.Cycle {
	out := make([]analysis.Cycle, count)
	t := 0.0
	for i := range out {
		out[i] = analysis.Cycle{
			Number:       i + 1,
			Start:        t,
			End:          t + duration,
			Duration:     duration,
			Completeness: analysis.CycleComplete,
		}
		t += duration + gap
	}
	return out
}

func TestStatisticsNoGaps(t *testing.T) {
	// Three 30 s cycles back to back.
	stats := Statistics(cyclesWithGap(3, 30.0, 0))

	if stats.Count != 3 {
		t.Fatalf("count = %d, want 3", stats.Count)
	}
	if math.Abs(stats.SpecificAverage-30.0) > 1e-9 {
		t.Fatalf("specific average = %f, want 30.0", stats.SpecificAverage)
	}
	if math.Abs(stats.ApproximateAverage-30.0) > 1e-9 {
		t.Fatalf("approximate average = %f, want 30.0", stats.ApproximateAverage)
	}
	if stats.IdlePerCycle != 0 {
		t.Fatalf("idle per cycle = %f, want 0", stats.IdlePerCycle)
	}
	if stats.StdDev != 0 {
		t.Fatalf("stddev = %f, want 0 for equal durations", stats.StdDev)
	}
}

func TestStatisticsWithIdleGaps(t *testing.T) {
	// Three 30 s cycles separated by 15 s idle gaps: starts at 0/45/90,
	// last end 120. Span per cycle is 40 s, so 10 s of idle per cycle.
	stats := Statistics(cyclesWithGap(3, 30.0, 15.0))

	if math.Abs(stats.SpecificAverage-30.0) > 1e-9 {
		t.Fatalf("specific average = %f, want 30.0", stats.SpecificAverage)
	}
	if math.Abs(stats.ApproximateAverage-40.0) > 1e-9 {
		t.Fatalf("approximate average = %f, want 40.0 (span 120 / 3)", stats.ApproximateAverage)
	}
	if math.Abs(stats.IdlePerCycle-10.0) > 1e-9 {
		t.Fatalf("idle per cycle = %f, want 10.0", stats.IdlePerCycle)
	}
	if stats.ApproximateAverage < stats.SpecificAverage {
		t.Fatal("approximate average must be >= specific average")
	}
}

func TestStatisticsApproximateDefinition(t *testing.T) {
	// approximate = (last end - first start) / count, exactly.
	cycles := []analysis.Cycle{
		{Number: 1, Start: 10, End: 40, Duration: 30},
		{Number: 2, Start: 55, End: 85, Duration: 30},
		{Number: 3, Start: 105, End: 145, Duration: 40},
	}
	stats := Statistics(cycles)

	wantApprox := (145.0 - 10.0) / 3.0
	if math.Abs(stats.ApproximateAverage-wantApprox) > 1e-9 {
		t.Fatalf("approximate average = %f, want %f", stats.ApproximateAverage, wantApprox)
	}
	wantSpecific := (30.0 + 30.0 + 40.0) / 3.0
	if math.Abs(stats.SpecificAverage-wantSpecific) > 1e-9 {
		t.Fatalf("specific average = %f, want %f", stats.SpecificAverage, wantSpecific)
	}
	wantIdle := wantApprox - wantSpecific
	if math.Abs(stats.IdlePerCycle-wantIdle) > 1e-9 {
		t.Fatalf("idle per cycle = %f, want %f", stats.IdlePerCycle, wantIdle)
	}
	if stats.IdlePerCycle < 0 {
		t.Fatal("idle per cycle must be >= 0")
	}
}

func TestStatisticsPopulationStdDev(t *testing.T) {
	cycles := []analysis.Cycle{
		{Start: 0, End: 20, Duration: 20},
		{Start: 20, End: 50, Duration: 30},
		{Start: 50, End: 90, Duration: 40},
	}
	stats := Statistics(cycles)

	// Population formula: mean 30, squared deviations 100+0+100, /3.
	want := math.Sqrt(200.0 / 3.0)
	if math.Abs(stats.StdDev-want) > 1e-9 {
		t.Fatalf("stddev = %f, want %f (population formula)", stats.StdDev, want)
	}
	if stats.Min != 20 || stats.Max != 40 {
		t.Fatalf("min/max = %f/%f, want 20/40", stats.Min, stats.Max)
	}
}

func TestStatisticsDegenerate(t *testing.T) {
	empty := Statistics(nil)
	if empty.Count != 0 || empty.SpecificAverage != 0 || empty.StdDev != 0 {
		t.Fatalf("empty statistics not zeroed: %+v", empty)
	}

	single := Statistics([]analysis.Cycle{{Start: 0, End: 25, Duration: 25}})
	if single.Count != 1 {
		t.Fatalf("count = %d, want 1", single.Count)
	}
	if single.StdDev != 0 {
		t.Fatalf("stddev for one cycle = %f, want 0", single.StdDev)
	}
}

func TestStatisticsTrend(t *testing.T) {
	tests := []struct {
		name      string
		durations []float64
		want      string
	}{
		{name: "improving", durations: []float64{40, 36, 32, 28, 24}, want: "improving"},
		{name: "declining", durations: []float64{24, 28, 32, 36, 40}, want: "declining"},
		{name: "stable", durations: []float64{30, 30.2, 29.8, 30.1, 29.9}, want: "stable"},
		{name: "too few", durations: []float64{30, 40}, want: "insufficient data"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cycles := make([]analysis.Cycle, len(tc.durations))
			ts := 0.0
			for i, d := range tc.durations {
				cycles[i] = analysis.Cycle{Start: ts, End: ts + d, Duration: d}
				ts += d
			}
			if got := Statistics(cycles).Trend; got != tc.want {
				t.Fatalf("trend = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestConsistencyScore(t *testing.T) {
	if got := consistencyScore(0, 30); got != 100 {
		t.Fatalf("perfect consistency score = %f, want 100", got)
	}
	if got := consistencyScore(15, 30); math.Abs(got-50) > 1e-9 {
		t.Fatalf("cv 0.5 score = %f, want 50", got)
	}
	if got := consistencyScore(60, 30); got != 0 {
		t.Fatalf("cv 2.0 score = %f, want clamped 0", got)
	}
}
