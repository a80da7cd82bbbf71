package timeutil

import (
	"fmt"
	"strings"
	"time"
)

func StartOfDay(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, value.Location())
}

func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func MinutesFromMidnight(value time.Time) int {
	return value.Hour()*60 + value.Minute()
}

// ParseRange parses a report range: "YYMMDD-YYMMDD" for an inclusive range,
// "YYMM" for a full month or "YYMMDD" for a single day.
func ParseRange(value string) (time.Time, time.Time, error) {
	value = strings.TrimSpace(value)
	beginRaw, endRaw, isRange := strings.Cut(value, "-")

	if isRange {
		begin, err := time.ParseInLocation("060102", beginRaw, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad range start %q: %w", beginRaw, err)
		}
		end, err := time.ParseInLocation("060102", endRaw, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad range end %q: %w", endRaw, err)
		}
		if end.Before(begin) {
			return time.Time{}, time.Time{}, fmt.Errorf("range end %s is before start %s", endRaw, beginRaw)
		}
		return begin, end, nil
	}

	switch len(value) {
	case 6:
		day, err := time.ParseInLocation("060102", value, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad date %q: %w", value, err)
		}
		return day, day, nil
	case 4:
		month, err := time.ParseInLocation("0601", value, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad month %q: %w", value, err)
		}
		return month, month.AddDate(0, 1, -1), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("bad date range %q: expected YYMMDD-YYMMDD, YYMM or YYMMDD", value)
	}
}

// Days lists every calendar day from begin to end inclusive.
func Days(begin, end time.Time) []time.Time {
	begin = StartOfDay(begin)
	end = StartOfDay(end)
	days := make([]time.Time, 0, 31)
	for day := begin; !day.After(end); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}
