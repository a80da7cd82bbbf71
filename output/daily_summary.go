package output

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"punchsync/worklog"
)

// DailySummary is the shape of one working day: first begin, last end, time
// worked and the gaps in between.
type DailySummary struct {
	Date        string
	Begin       time.Time
	End         time.Time
	WorkedHours float64
	BreakHours  float64
	EntryCount  int
}

type interval struct {
	start time.Time
	end   time.Time
}

func BuildDailySummaries(days []worklog.Day) []DailySummary {
	summaries := make([]DailySummary, 0, len(days))
	for _, day := range days {
		if len(day.Entries) == 0 {
			continue
		}
		summaries = append(summaries, summarizeDay(day.Date.Format("2006-01-02"), day.Entries))
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Date < summaries[j].Date
	})
	return summaries
}

func summarizeDay(day string, entries []worklog.Entry) DailySummary {
	intervals := make([]interval, 0, len(entries))
	start, end := entries[0].Begin, entries[0].End
	worked := time.Duration(0)
	for _, entry := range entries {
		if entry.Begin.Before(start) {
			start = entry.Begin
		}
		if entry.End.After(end) {
			end = entry.End
		}
		if entry.End.After(entry.Begin) {
			worked += entry.Duration()
		}
		intervals = append(intervals, interval{start: entry.Begin, end: entry.End})
	}

	breakDuration := end.Sub(start) - mergedCoverage(intervals)
	if breakDuration < 0 {
		breakDuration = 0
	}

	return DailySummary{
		Date:        day,
		Begin:       start,
		End:         end,
		WorkedHours: roundHours(worked.Hours()),
		BreakHours:  roundHours(breakDuration.Hours()),
		EntryCount:  len(entries),
	}
}

func mergedCoverage(intervals []interval) time.Duration {
	clipped := make([]interval, 0, len(intervals))
	for _, candidate := range intervals {
		if candidate.end.After(candidate.start) {
			clipped = append(clipped, candidate)
		}
	}
	if len(clipped) == 0 {
		return 0
	}

	sort.Slice(clipped, func(i, j int) bool {
		return clipped[i].start.Before(clipped[j].start)
	})

	current := clipped[0]
	covered := time.Duration(0)
	for _, candidate := range clipped[1:] {
		if candidate.start.After(current.end) {
			covered += current.end.Sub(current.start)
			current = candidate
			continue
		}
		if candidate.end.After(current.end) {
			current.end = candidate.end
		}
	}
	return covered + current.end.Sub(current.start)
}

func roundHours(value float64) float64 {
	return math.Round(value*100) / 100
}

func SummaryReport(summaries []DailySummary) Report {
	report := Report{Headers: []string{"Date", "Begin", "End", "WorkedHours", "BreakHours", "Entries"}}
	for _, summary := range summaries {
		report.Rows = append(report.Rows, []string{
			summary.Date,
			summary.Begin.Format("15:04"),
			summary.End.Format("15:04"),
			fmt.Sprintf("%.2f", summary.WorkedHours),
			fmt.Sprintf("%.2f", summary.BreakHours),
			strconv.Itoa(summary.EntryCount),
		})
	}
	return report
}
