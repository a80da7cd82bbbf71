package output

import (
	"testing"
	"time"

	"punchsync/worklog"
)

func span(t *testing.T, begin, end string) worklog.Entry {
	t.Helper()
	return worklog.NewEntry(mustParse(t, begin), mustParse(t, end), "millnet", worklog.NewAccountKey("X", "Dev"), "")
}

func dayOf(t *testing.T, date string, entries ...worklog.Entry) worklog.Day {
	t.Helper()
	return worklog.Day{Date: mustParse(t, date+"T00:00:00+01:00"), System: "millnet", Entries: entries}
}

func TestBuildDailySummaries_CalculatesWorkedAndBreakHours(t *testing.T) {
	days := []worklog.Day{dayOf(t, "2026-01-05",
		span(t, "2026-01-05T08:00:00+01:00", "2026-01-05T09:00:00+01:00"),
		span(t, "2026-01-05T09:30:00+01:00", "2026-01-05T10:30:00+01:00"),
		span(t, "2026-01-05T11:00:00+01:00", "2026-01-05T12:00:00+01:00"),
	)}

	summaries := BuildDailySummaries(days)
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}

	summary := summaries[0]
	assertTimeEqual(t, mustParse(t, "2026-01-05T08:00:00+01:00"), summary.Begin, "begin")
	assertTimeEqual(t, mustParse(t, "2026-01-05T12:00:00+01:00"), summary.End, "end")
	assertFloatEqual(t, 3.00, summary.WorkedHours, "worked hours")
	assertFloatEqual(t, 1.00, summary.BreakHours, "break hours")
	if summary.EntryCount != 3 {
		t.Fatalf("expected 3 entries, got %d", summary.EntryCount)
	}
}

func TestBuildDailySummaries_UsesCoverageUnionForBreak(t *testing.T) {
	days := []worklog.Day{dayOf(t, "2026-03-04",
		span(t, "2026-03-04T13:00:00+01:00", "2026-03-04T14:00:00+01:00"),
		span(t, "2026-03-04T08:00:00+01:00", "2026-03-04T12:00:00+01:00"),
		span(t, "2026-03-04T10:00:00+01:00", "2026-03-04T11:00:00+01:00"),
	)}

	summary := BuildDailySummaries(days)[0]
	assertTimeEqual(t, mustParse(t, "2026-03-04T08:00:00+01:00"), summary.Begin, "begin")
	assertTimeEqual(t, mustParse(t, "2026-03-04T14:00:00+01:00"), summary.End, "end")
	assertFloatEqual(t, 6.00, summary.WorkedHours, "worked hours")
	assertFloatEqual(t, 1.00, summary.BreakHours, "break hours")
}

func TestBuildDailySummaries_SkipsEmptyDaysAndSortsByDate(t *testing.T) {
	days := []worklog.Day{
		dayOf(t, "2026-01-08", span(t, "2026-01-08T10:00:00+01:00", "2026-01-08T12:00:00+01:00")),
		dayOf(t, "2026-01-06"),
		dayOf(t, "2026-01-07", span(t, "2026-01-07T08:00:00+01:00", "2026-01-07T09:00:00+01:00")),
	}

	summaries := BuildDailySummaries(days)
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].Date != "2026-01-07" || summaries[1].Date != "2026-01-08" {
		t.Fatalf("unexpected order: %s, %s", summaries[0].Date, summaries[1].Date)
	}

	report := SummaryReport(summaries)
	if got := report.Rows[1]; got[0] != "2026-01-08" || got[3] != "2.00" || got[5] != "1" {
		t.Fatalf("unexpected summary row: %v", got)
	}
}

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return parsed
}

func assertFloatEqual(t *testing.T, expected, actual float64, field string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("unexpected %s: expected %.2f, got %.2f", field, expected, actual)
	}
}

func assertTimeEqual(t *testing.T, expected, actual time.Time, field string) {
	t.Helper()
	if !expected.Equal(actual) {
		t.Fatalf("unexpected %s: expected %s, got %s", field, expected.Format(time.RFC3339), actual.Format(time.RFC3339))
	}
}
