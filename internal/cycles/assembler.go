// Package cycles groups transition events into validated excavation cycles
// and derives aggregate statistics from them.
package cycles

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
)

// state of the assembly machine.
type state int

const (
	stateIdle state = iota
	stateInDig
	stateInSwingOut
	stateInDump
	stateInSwingBack
)

// Config holds the completeness thresholds, exposed as configuration so
// tuning them does not require code changes.
type Config struct {
	CompleteMinSeconds float64
	PartialMinSeconds  float64
	Logger             *slog.Logger
}

// Assembler drives the cycle state machine over an ordered event stream.
type Assembler struct {
	cfg Config
}

func NewAssembler(cfg Config) *Assembler {
	if cfg.CompleteMinSeconds == 0 {
		cfg.CompleteMinSeconds = 5.0
	}
	if cfg.PartialMinSeconds == 0 {
		cfg.PartialMinSeconds = 3.0
	}
	return &Assembler{cfg: cfg}
}

// building is the cycle currently being assembled.
type building struct {
	start        float64
	digEnd       float64
	dumpStart    float64
	dumpEnd      float64
	last         float64
	hasDigEnd    bool
	hasDumpStart bool
	hasDumpEnd   bool
}

// Assemble groups events into cycles. Pure over its input; replaying the
// same stream yields identical cycles. Cannot fail: degenerate inputs
// produce an empty cycle list.
func (a *Assembler) Assemble(events []analysis.Event) []analysis.Cycle {
	var cycles []analysis.Cycle
	var cur *building
	st := stateIdle

	emitPartial := func() {
		if cur == nil {
			return
		}
		if c, ok := a.finalizePartial(*cur, len(cycles)+1); ok {
			cycles = append(cycles, c)
		}
		cur = nil
	}

	for _, ev := range events {
		// A new dig always wins: close the open cycle as partial first.
		if ev.Kind == analysis.EventDigStart {
			if st != stateIdle {
				emitPartial()
			}
			cur = &building{start: ev.Timestamp, last: ev.Timestamp}
			st = stateInDig
			continue
		}

		if cur == nil {
			continue
		}

		switch {
		case st == stateInDig && ev.Kind == analysis.EventDigEnd:
			cur.digEnd = ev.Timestamp
			cur.hasDigEnd = true
			st = stateInSwingOut
		case st == stateInSwingOut && ev.Kind == analysis.EventDumpStart:
			cur.dumpStart = ev.Timestamp
			cur.hasDumpStart = true
			st = stateInDump
		case st == stateInDump && ev.Kind == analysis.EventDumpEnd:
			cur.dumpEnd = ev.Timestamp
			cur.hasDumpEnd = true
			st = stateInSwingBack
		case st == stateInSwingBack && ev.Kind == analysis.EventReturnToDig:
			cur.last = ev.Timestamp
			if c, ok := a.finalizeComplete(*cur, ev.Timestamp, len(cycles)+1); ok {
				cycles = append(cycles, c)
			}
			cur = nil
			st = stateIdle
			continue
		default:
			if a.cfg.Logger != nil {
				a.cfg.Logger.Debug("ignoring out-of-order event",
					"kind", ev.Kind,
					"timestamp", ev.Timestamp,
				)
			}
			continue
		}
		cur.last = ev.Timestamp
	}

	// Incomplete tail at end of stream.
	if st != stateIdle {
		emitPartial()
	}

	return cycles
}

// finalizeComplete closes a cycle that walked the normal path to idle. A
// cycle below the completeness policy falls back to the partial rule.
func (a *Assembler) finalizeComplete(b building, end float64, number int) (analysis.Cycle, bool) {
	phases := analysis.PhaseDurations{
		Dig:         b.digEnd - b.start,
		SwingToDump: b.dumpStart - b.digEnd,
		Dump:        b.dumpEnd - b.dumpStart,
		Return:      end - b.dumpEnd,
	}
	duration := end - b.start

	if duration >= a.cfg.CompleteMinSeconds &&
		phases.Dig > 0 && phases.SwingToDump > 0 && phases.Dump > 0 && phases.Return > 0 {
		return analysis.Cycle{
			Number:       number,
			Start:        b.start,
			End:          end,
			Duration:     duration,
			Phases:       phases,
			Completeness: analysis.CycleComplete,
			Note:         observations(phases, true, 4),
		}, true
	}

	return a.finalizePartial(b, number)
}

// finalizePartial closes a cycle that never reached idle (or fell short of
// the complete policy). It survives only with a dig phase and enough
// elapsed time; anything else is discarded.
func (a *Assembler) finalizePartial(b building, number int) (analysis.Cycle, bool) {
	if !b.hasDigEnd {
		return analysis.Cycle{}, false
	}
	duration := b.last - b.start
	if duration < a.cfg.PartialMinSeconds {
		return analysis.Cycle{}, false
	}

	phases := analysis.PhaseDurations{Dig: b.digEnd - b.start}
	present := 1
	if b.hasDumpStart {
		phases.SwingToDump = b.dumpStart - b.digEnd
		present++
	}
	if b.hasDumpEnd {
		phases.Dump = b.dumpEnd - b.dumpStart
		present++
	}

	return analysis.Cycle{
		Number:       number,
		Start:        b.start,
		End:          b.last,
		Duration:     duration,
		Phases:       phases,
		Completeness: analysis.CyclePartial,
		Note:         observations(phases, false, present),
	}, true
}

// observations produces the free-text note attached to a cycle.
func observations(phases analysis.PhaseDurations, complete bool, present int) string {
	var notes []string

	if !complete {
		notes = append(notes, "Incomplete cycle")
	}
	if phases.Dig > 0 && phases.Dig < 3 {
		notes = append(notes, "Quick dig")
	} else if phases.Dig > 8 {
		notes = append(notes, "Extended dig")
	}
	if present < 4 {
		notes = append(notes, "Missing phases")
	}
	if len(notes) == 0 {
		notes = append(notes, "Normal cycle")
	}

	return strings.Join(notes, ", ")
}

// String implements fmt.Stringer for log output.
func (s state) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateInDig:
		return "IN_DIG"
	case stateInSwingOut:
		return "IN_SWING_OUT"
	case stateInDump:
		return "IN_DUMP"
	case stateInSwingBack:
		return "IN_SWING_BACK"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
