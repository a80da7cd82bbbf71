package output

import (
	"strconv"
	"strings"

	"punchsync/worklog"
)

// BuildDayRows flattens reconciled days into report rows. Per-entry mode
// keeps each time span; aggregated mode has one row per account and day.
func BuildDayRows(days []worklog.Day, mode worklog.Mode) Report {
	if mode == worklog.Aggregated {
		return buildTotalRows(days)
	}
	return buildEntryRows(days)
}

func buildEntryRows(days []worklog.Day) Report {
	report := Report{Headers: []string{"Date", "Begin", "End", "Account", "Hours", "Comment"}}
	for _, day := range days {
		for _, entry := range day.Entries {
			account, _ := entry.AccountFor(day.System)
			report.Rows = append(report.Rows, []string{
				day.Date.Format("2006-01-02"),
				entry.Begin.Format("15:04"),
				entry.End.Format("15:04"),
				accountLabel(account),
				formatHours(entry.Duration().Hours()),
				entry.Comment,
			})
		}
	}
	return report
}

func buildTotalRows(days []worklog.Day) Report {
	report := Report{Headers: []string{"Date", "Account", "Hours"}}
	for _, day := range days {
		for _, total := range day.Totals() {
			report.Rows = append(report.Rows, []string{
				day.Date.Format("2006-01-02"),
				accountLabel(total.Account),
				formatHours(total.Hours()),
			})
		}
	}
	return report
}

func accountLabel(account worklog.AccountKey) string {
	if account.IsZero() {
		return "-"
	}
	return strings.Join(account.Fields(), " / ")
}

func formatHours(hours float64) string {
	return strconv.FormatFloat(roundHours(hours), 'f', 2, 64)
}
