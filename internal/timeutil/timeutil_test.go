package timeutil

import (
	"testing"
	"time"
)

func TestStartOfDay(t *testing.T) {
	t.Parallel()

	input := time.Date(2026, 3, 1, 14, 37, 9, 123, time.Local)
	got := StartOfDay(input)

	if got.Year() != 2026 || got.Month() != time.March || got.Day() != 1 {
		t.Fatalf("unexpected date: %v", got)
	}
	if got.Hour() != 0 || got.Minute() != 0 || got.Second() != 0 || got.Nanosecond() != 0 {
		t.Fatalf("expected midnight, got %v", got)
	}
}

func TestSameDay(t *testing.T) {
	t.Parallel()

	a := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	b := time.Date(2026, 3, 1, 18, 30, 0, 0, time.Local)
	c := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)

	if !SameDay(a, b) {
		t.Fatalf("expected same day for %v and %v", a, b)
	}
	if SameDay(a, c) {
		t.Fatalf("expected different days for %v and %v", a, c)
	}
}

func TestMinutesFromMidnight(t *testing.T) {
	t.Parallel()

	input := time.Date(2026, 3, 1, 13, 25, 0, 0, time.Local)
	if got := MinutesFromMidnight(input); got != 805 {
		t.Fatalf("expected 805, got %d", got)
	}
}

func TestParseRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		begin time.Time
		end   time.Time
	}{
		{input: "260310", begin: date(2026, 3, 10), end: date(2026, 3, 10)},
		{input: "2602", begin: date(2026, 2, 1), end: date(2026, 2, 28)},
		{input: "240201-240305", begin: date(2024, 2, 1), end: date(2024, 3, 5)},
	}

	for _, tc := range tests {
		begin, end, err := ParseRange(tc.input)
		if err != nil {
			t.Fatalf("ParseRange(%q): %v", tc.input, err)
		}
		if !begin.Equal(tc.begin) || !end.Equal(tc.end) {
			t.Fatalf("ParseRange(%q) = %v..%v, want %v..%v", tc.input, begin, end, tc.begin, tc.end)
		}
	}
}

func TestParseRange_Rejects(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "26", "2603101", "260310-", "260310-260301", "261340"} {
		if _, _, err := ParseRange(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestDays(t *testing.T) {
	t.Parallel()

	days := Days(date(2026, 2, 27), date(2026, 3, 2))
	if len(days) != 4 {
		t.Fatalf("expected 4 days, got %d", len(days))
	}
	if !days[2].Equal(date(2026, 3, 1)) {
		t.Fatalf("unexpected third day: %v", days[2])
	}
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.Local)
}
