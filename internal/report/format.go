// Package report renders the cycle-time performance report: a deterministic
// Markdown template by default, with an optional model-written narrative.
package report

import (
	"fmt"
	"math"
)

// FormatTimestamp renders seconds as MM:SS, rounding to the nearest
// second. Sessions longer than an hour roll the minutes past 59.
func FormatTimestamp(seconds float64) string {
	total := int(math.Round(seconds))
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// FormatDuration renders a duration in seconds with one decimal place.
func FormatDuration(seconds float64) string {
	return fmt.Sprintf("%.1fs", seconds)
}
