package cycles

import (
	"math"
	"reflect"
	"testing"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
)

// cycleEvents builds the normal five-event walk of one cycle starting at t.
// Phase boundaries: dig 8 s, swing out 10 s, dump 4 s, return 8 s = 30 s.
func cycleEvents(start float64) []analysis.Event {
	return []analysis.Event{
		{Kind: analysis.EventDigStart, Timestamp: start},
		{Kind: analysis.EventDigEnd, Timestamp: start + 8},
		{Kind: analysis.EventDumpStart, Timestamp: start + 18},
		{Kind: analysis.EventDumpEnd, Timestamp: start + 22},
		{Kind: analysis.EventReturnToDig, Timestamp: start + 30},
	}
}

func TestAssembleSingleCompleteCycle(t *testing.T) {
	a := NewAssembler(Config{})
	cycles := a.Assemble(cycleEvents(1.0))

	if len(cycles) != 1 {
		t.Fatalf("cycle count = %d, want 1", len(cycles))
	}
	c := cycles[0]
	if c.Number != 1 {
		t.Fatalf("cycle number = %d, want 1", c.Number)
	}
	if c.Completeness != analysis.CycleComplete {
		t.Fatalf("completeness = %q, want complete", c.Completeness)
	}
	if math.Abs(c.Duration-30.0) > 1e-9 {
		t.Fatalf("duration = %f, want 30.0", c.Duration)
	}

	// Phase sum matches duration within 1e-3 s.
	if math.Abs(c.Phases.Sum()-c.Duration) > 1e-3 {
		t.Fatalf("phase sum %f != duration %f", c.Phases.Sum(), c.Duration)
	}
	want := analysis.PhaseDurations{Dig: 8, SwingToDump: 10, Dump: 4, Return: 8}
	if c.Phases != want {
		t.Fatalf("phases = %+v, want %+v", c.Phases, want)
	}
}

func TestAssembleThreeCleanCycles(t *testing.T) {
	// Back-to-back cycles with no gaps.
	var events []analysis.Event
	for i := range 3 {
		events = append(events, cycleEvents(float64(i)*30.0)...)
	}

	a := NewAssembler(Config{})
	cycles := a.Assemble(events)

	if len(cycles) != 3 {
		t.Fatalf("cycle count = %d, want 3", len(cycles))
	}
	for i, c := range cycles {
		if c.Number != i+1 {
			t.Fatalf("cycle %d numbered %d; numbering must follow close order", i, c.Number)
		}
		if c.Completeness != analysis.CycleComplete {
			t.Fatalf("cycle %d completeness = %q", i+1, c.Completeness)
		}
		if math.Abs(c.Duration-30.0) > 1e-9 {
			t.Fatalf("cycle %d duration = %f", i+1, c.Duration)
		}
	}
}

func TestAssembleShortCycleDiscarded(t *testing.T) {
	// Whole walk below both thresholds.
	events := []analysis.Event{
		{Kind: analysis.EventDigStart, Timestamp: 0},
		{Kind: analysis.EventDigEnd, Timestamp: 0.5},
		{Kind: analysis.EventDumpStart, Timestamp: 1.0},
		{Kind: analysis.EventDumpEnd, Timestamp: 1.5},
		{Kind: analysis.EventReturnToDig, Timestamp: 2.0},
	}

	a := NewAssembler(Config{})
	if cycles := a.Assemble(events); len(cycles) != 0 {
		t.Fatalf("sub-threshold cycle not discarded: %+v", cycles)
	}
}

func TestAssembleShortCompletePathKeptAsPartial(t *testing.T) {
	// Normal path but 4 s total: fails the 5 s complete policy, passes the
	// 3 s partial policy.
	events := []analysis.Event{
		{Kind: analysis.EventDigStart, Timestamp: 0},
		{Kind: analysis.EventDigEnd, Timestamp: 1.0},
		{Kind: analysis.EventDumpStart, Timestamp: 2.0},
		{Kind: analysis.EventDumpEnd, Timestamp: 3.0},
		{Kind: analysis.EventReturnToDig, Timestamp: 4.0},
	}

	a := NewAssembler(Config{})
	cycles := a.Assemble(events)
	if len(cycles) != 1 || cycles[0].Completeness != analysis.CyclePartial {
		t.Fatalf("cycles = %+v, want one partial", cycles)
	}
}

func TestAssembleTruncatedTail(t *testing.T) {
	// Two complete cycles; the third ends during the swing back.
	var events []analysis.Event
	events = append(events, cycleEvents(0)...)
	events = append(events, cycleEvents(30)...)
	events = append(events,
		analysis.Event{Kind: analysis.EventDigStart, Timestamp: 60},
		analysis.Event{Kind: analysis.EventDigEnd, Timestamp: 68},
		analysis.Event{Kind: analysis.EventDumpStart, Timestamp: 78},
		analysis.Event{Kind: analysis.EventDumpEnd, Timestamp: 82},
	)

	a := NewAssembler(Config{})
	cycles := a.Assemble(events)

	if len(cycles) != 3 {
		t.Fatalf("cycle count = %d, want 3", len(cycles))
	}
	tail := cycles[2]
	if tail.Completeness != analysis.CyclePartial {
		t.Fatalf("tail completeness = %q, want partial", tail.Completeness)
	}
	if tail.Phases.Return != 0 {
		t.Fatalf("tail return phase = %f, want 0", tail.Phases.Return)
	}
	if tail.End != 82 {
		t.Fatalf("tail end = %f, want last observed event 82", tail.End)
	}
}

func TestAssembleOverlappingDigStarts(t *testing.T) {
	// dig_start while a cycle is open: the open cycle is emitted as partial
	// (it passes the 3 s rule), then a new cycle opens.
	events := []analysis.Event{
		{Kind: analysis.EventDigStart, Timestamp: 0},
		{Kind: analysis.EventDigEnd, Timestamp: 4},
		{Kind: analysis.EventDigStart, Timestamp: 6},
	}
	events = append(events, cycleEvents(6)[1:]...)

	a := NewAssembler(Config{})
	cycles := a.Assemble(events)

	if len(cycles) != 2 {
		t.Fatalf("cycle count = %d, want 2 (partial then complete)", len(cycles))
	}
	if cycles[0].Completeness != analysis.CyclePartial {
		t.Fatalf("first cycle completeness = %q, want partial", cycles[0].Completeness)
	}
	if cycles[1].Completeness != analysis.CycleComplete {
		t.Fatalf("second cycle completeness = %q, want complete", cycles[1].Completeness)
	}
	if cycles[0].End > cycles[1].Start {
		t.Fatalf("partial cycle end %f overlaps next start %f", cycles[0].End, cycles[1].Start)
	}
}

func TestAssembleDigWithoutEndDiscarded(t *testing.T) {
	// A dig that never reaches dig_end cannot survive even as partial.
	events := []analysis.Event{
		{Kind: analysis.EventDigStart, Timestamp: 0},
	}

	a := NewAssembler(Config{})
	if cycles := a.Assemble(events); len(cycles) != 0 {
		t.Fatalf("dig without dig_end kept: %+v", cycles)
	}
}

func TestAssembleIgnoresOutOfOrderEvents(t *testing.T) {
	// dump_end before dump_start is ignored; the cycle still completes.
	events := []analysis.Event{
		{Kind: analysis.EventDigStart, Timestamp: 0},
		{Kind: analysis.EventDumpEnd, Timestamp: 2}, // unexpected in IN_DIG
		{Kind: analysis.EventDigEnd, Timestamp: 8},
		{Kind: analysis.EventDumpStart, Timestamp: 18},
		{Kind: analysis.EventDumpEnd, Timestamp: 22},
		{Kind: analysis.EventReturnToDig, Timestamp: 30},
	}

	a := NewAssembler(Config{})
	cycles := a.Assemble(events)
	if len(cycles) != 1 || cycles[0].Completeness != analysis.CycleComplete {
		t.Fatalf("cycles = %+v, want one complete", cycles)
	}
}

func TestAssembleEmptyInput(t *testing.T) {
	a := NewAssembler(Config{})
	if cycles := a.Assemble(nil); len(cycles) != 0 {
		t.Fatalf("empty input produced cycles: %+v", cycles)
	}
}

func TestAssembleDeterministic(t *testing.T) {
	var events []analysis.Event
	for i := range 5 {
		events = append(events, cycleEvents(float64(i)*45.0)...)
	}

	a := NewAssembler(Config{})
	first := a.Assemble(events)
	second := a.Assemble(events)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("Assemble is not deterministic over the same event stream")
	}
}

func TestObservations(t *testing.T) {
	tests := []struct {
		name     string
		phases   analysis.PhaseDurations
		complete bool
		present  int
		want     string
	}{
		{
			name:     "normal",
			phases:   analysis.PhaseDurations{Dig: 5, SwingToDump: 10, Dump: 4, Return: 8},
			complete: true, present: 4,
			want: "Normal cycle",
		},
		{
			name:     "quick dig",
			phases:   analysis.PhaseDurations{Dig: 2, SwingToDump: 10, Dump: 4, Return: 8},
			complete: true, present: 4,
			want: "Quick dig",
		},
		{
			name:     "extended dig",
			phases:   analysis.PhaseDurations{Dig: 9, SwingToDump: 10, Dump: 4, Return: 8},
			complete: true, present: 4,
			want: "Extended dig",
		},
		{
			name:     "incomplete with missing phases",
			phases:   analysis.PhaseDurations{Dig: 5},
			complete: false, present: 1,
			want: "Incomplete cycle, Missing phases",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := observations(tc.phases, tc.complete, tc.present); got != tc.want {
				t.Fatalf("observations = %q, want %q", got, tc.want)
			}
		})
	}
}
