// Package detect compresses the dense per-frame label stream into a sparse
// sequence of state-transition events.
package detect

import (
	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
)

type transition struct {
	from analysis.ActivityLabel
	to   analysis.ActivityLabel
}

// transitions maps label changes to the events they trigger. Changes not
// listed here produce no event.
var transitions = map[transition]analysis.EventKind{
	{analysis.LabelIdle, analysis.LabelDigging}:        analysis.EventDigStart,
	{analysis.LabelSwingToDump, analysis.LabelDigging}: analysis.EventDigStart,
	{analysis.LabelDumping, analysis.LabelDigging}:     analysis.EventDigStart,
	{analysis.LabelSwingToDig, analysis.LabelDigging}:  analysis.EventReturnToDig,

	{analysis.LabelDigging, analysis.LabelSwingToDump}: analysis.EventDigEnd,
	{analysis.LabelDigging, analysis.LabelIdle}:        analysis.EventDigEnd,

	{analysis.LabelSwingToDump, analysis.LabelDumping}: analysis.EventDumpStart,
	{analysis.LabelIdle, analysis.LabelDumping}:        analysis.EventDumpStart,
	{analysis.LabelDigging, analysis.LabelDumping}:     analysis.EventDumpStart,
	{analysis.LabelSwingToDig, analysis.LabelDumping}:  analysis.EventDumpStart,

	{analysis.LabelDumping, analysis.LabelSwingToDig}: analysis.EventDumpEnd,
	{analysis.LabelDumping, analysis.LabelIdle}:       analysis.EventDumpEnd,

	{analysis.LabelSwingToDig, analysis.LabelIdle}: analysis.EventReturnToDig,
}

// DetectEvents walks the ordered classifications once and emits an event
// for every transition matching the table. The stream starts from an
// implicit idle state, so a video that opens mid-dig emits dig_start at the
// first frame. Pure function; degenerate inputs produce no events.
func DetectEvents(classifications []analysis.Classification) []analysis.Event {
	var events []analysis.Event
	prev := analysis.LabelIdle

	for _, cls := range classifications {
		if cls.Label != prev {
			if kind, ok := transitions[transition{prev, cls.Label}]; ok {
				events = append(events, analysis.Event{
					Kind:       kind,
					Timestamp:  cls.Timestamp,
					FrameIndex: cls.FrameIndex,
					From:       prev,
					To:         cls.Label,
				})
			}
		}
		prev = cls.Label
	}

	return events
}
