package reconcile

import (
	"fmt"
	"sort"
	"time"

	"punchsync/worklog"
)

// Window is a span of the day expressed as offsets from midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// LunchWindow is where a synthetic lunch break may be placed.
var LunchWindow = Window{Start: 10*time.Hour + 30*time.Minute, End: 14 * time.Hour}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s", clock(w.Start), clock(w.End))
}

// On anchors the window to the wall clock of the given calendar day.
func (w Window) On(date time.Time) (time.Time, time.Time) {
	return wallClock(date, w.Start), wallClock(date, w.End)
}

func wallClock(date time.Time, offset time.Duration) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(offset/time.Hour), int(offset%time.Hour/time.Minute), 0, 0, date.Location())
}

type NoLunchSlotError struct {
	Date        time.Time
	Window      Window
	MinDuration time.Duration
}

func (e *NoLunchSlotError) Error() string {
	return fmt.Sprintf("no free %s lunch slot within %s on %s", e.MinDuration, e.Window, e.Date.Format("2006-01-02"))
}

type interval struct {
	start time.Time
	end   time.Time
}

func (i interval) overlaps(other interval) bool {
	return i.start.Before(other.end) && i.end.After(other.start)
}

// DetectLunch finds the earliest slot of minDuration inside window on date
// that does not overlap any entry.
func DetectLunch(date time.Time, entries []worklog.Entry, window Window, minDuration time.Duration) (time.Time, time.Time, error) {
	if minDuration <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("lunch duration must be positive, got %s", minDuration)
	}

	busy := make([]interval, 0, len(entries))
	for _, entry := range entries {
		busy = append(busy, interval{start: entry.Begin, end: entry.End})
	}
	sort.SliceStable(busy, func(i, j int) bool {
		return busy[i].start.Before(busy[j].start)
	})

	lower, upper := window.On(date)
	candidate := interval{start: lower, end: lower.Add(minDuration)}
	for _, slot := range busy {
		if candidate.overlaps(slot) {
			candidate = interval{start: slot.end, end: slot.end.Add(minDuration)}
		}
	}

	if candidate.end.After(upper) {
		return time.Time{}, time.Time{}, &NoLunchSlotError{Date: date, Window: window, MinDuration: minDuration}
	}
	return candidate.start, candidate.end, nil
}

func clock(offset time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(offset.Hours()), int(offset.Minutes())%60)
}
