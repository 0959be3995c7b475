package chart

import (
	"fmt"
	"time"

	"github.com/groovehub/groove-charts-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEK WINDOWS
// ══════════════════════════════════════════════════════════════════════════════

// Window is one chart week: [Start, End), always exactly 7 days, with Start
// falling on the group's tracking day of week at 00:00 UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds the window starting at the given day.
func NewWindow(start time.Time) Window {
	start = timeutil.StartOfDay(start)
	return Window{Start: start, End: start.AddDate(0, 0, 7)}
}

// IsFinished reports whether the week is fully in the past. Only finished
// weeks are eligible for generation.
func (w Window) IsFinished(now time.Time) bool {
	return now.After(w.End)
}

// Previous returns the window immediately before this one.
func (w Window) Previous() Window {
	return NewWindow(w.Start.AddDate(0, 0, -7))
}

// Next returns the window immediately after this one.
func (w Window) Next() Window {
	return NewWindow(w.End)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// String returns "2006-01-02..2006-01-09".
func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

// CurrentWindow returns the in-progress window containing now for a group
// whose weeks start on trackingDay (0 = Sunday .. 6 = Saturday).
func CurrentWindow(now time.Time, trackingDay time.Weekday) Window {
	return NewWindow(timeutil.MostRecentWeekday(now, trackingDay))
}

// LatestFinishedWindow returns the most recent fully finished window.
func LatestFinishedWindow(now time.Time, trackingDay time.Weekday) Window {
	w := CurrentWindow(now, trackingDay)
	for !w.IsFinished(now) {
		w = w.Previous()
	}
	return w
}

// MaxBacklogWeeks caps how many weeks a single generation run may process.
// The remainder is picked up by the next run.
const MaxBacklogWeeks = 10

// Backlog computes the windows a generation run has to process, oldest first.
//
// When the group has no generated week yet, the backlog seeds with the last
// MaxBacklogWeeks finished weeks. Otherwise it is the contiguous range from
// the week after lastGenerated up to the latest finished week, capped at
// MaxBacklogWeeks. An empty result means the group is up to date.
func Backlog(lastGenerated *time.Time, now time.Time, trackingDay time.Weekday) []Window {
	latest := LatestFinishedWindow(now, trackingDay)

	var first Window
	if lastGenerated == nil {
		first = latest
		for i := 0; i < MaxBacklogWeeks-1; i++ {
			first = first.Previous()
		}
	} else {
		first = NewWindow(lastGenerated.AddDate(0, 0, 7))
	}

	var windows []Window
	for w := first; !w.Start.After(latest.Start) && len(windows) < MaxBacklogWeeks; w = w.Next() {
		if !w.IsFinished(now) {
			break
		}
		windows = append(windows, w)
	}
	return windows
}
