package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"punchsync/mapping"
	"punchsync/worklog"
)

const testMapping = `timerec-customer,timerec-category,millnet-project,millnet-activity
Acme,Development,X,Dev
Globex,Support,Y,Support
Internal,Lunch,Internal,Lunch
Private,Errand,,
`

var (
	acme    = worklog.NewAccountKey("Acme", "Development")
	globex  = worklog.NewAccountKey("Globex", "Support")
	lunch   = worklog.NewAccountKey("Internal", "Lunch")
	private = worklog.NewAccountKey("Private", "Errand")
	targetX = worklog.NewAccountKey("X", "Dev")
	targetY = worklog.NewAccountKey("Y", "Support")
)

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func entry(beginH, beginM, endH, endM int, account worklog.AccountKey) worklog.Entry {
	return worklog.NewEntry(at(beginH, beginM), at(endH, endM), worklog.SystemTimeRec, account, "")
}

func testTable(t *testing.T) *mapping.Table {
	t.Helper()
	table, err := mapping.LoadCSV(strings.NewReader(testMapping))
	require.NoError(t, err)
	return table
}

func options() Options {
	return Options{From: worklog.SystemTimeRec, To: "millnet"}
}

func TestDetectLunch_FindsGapBetweenEntries(t *testing.T) {
	t.Parallel()

	entries := []worklog.Entry{entry(13, 0, 17, 0, acme), entry(9, 0, 12, 0, acme)}
	begin, end, err := DetectLunch(day, entries, LunchWindow, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, at(12, 0), begin)
	assert.Equal(t, at(13, 0), end)
}

func TestDetectLunch_StartsAtWindowWhenFree(t *testing.T) {
	t.Parallel()

	entries := []worklog.Entry{entry(8, 0, 10, 0, acme), entry(12, 0, 16, 0, acme)}
	begin, end, err := DetectLunch(day, entries, LunchWindow, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, at(10, 30), begin)
	assert.Equal(t, at(11, 0), end)
}

func TestDetectLunch_TouchingIntervalsDoNotOverlap(t *testing.T) {
	t.Parallel()

	entries := []worklog.Entry{entry(9, 0, 10, 30, acme), entry(11, 0, 17, 0, acme)}
	begin, _, err := DetectLunch(day, entries, LunchWindow, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, at(10, 30), begin)
}

func TestDetectLunch_NoSlot(t *testing.T) {
	t.Parallel()

	_, _, err := DetectLunch(day, []worklog.Entry{entry(8, 0, 16, 0, acme)}, LunchWindow, 30*time.Minute)
	var slotErr *NoLunchSlotError
	require.True(t, errors.As(err, &slotErr))
	assert.Equal(t, LunchWindow, slotErr.Window)
	assert.Contains(t, err.Error(), "10:30-14:00")
}

func TestDetectLunch_SlotMayEndExactlyAtWindowEnd(t *testing.T) {
	t.Parallel()

	entries := []worklog.Entry{entry(8, 0, 13, 0, acme), entry(14, 0, 17, 0, acme)}
	begin, end, err := DetectLunch(day, entries, LunchWindow, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, at(13, 0), begin)
	assert.Equal(t, at(14, 0), end)

	_, _, err = DetectLunch(day, entries, LunchWindow, 61*time.Minute)
	assert.Error(t, err)
}

func TestDetectLunch_Idempotent(t *testing.T) {
	t.Parallel()

	entries := []worklog.Entry{entry(9, 0, 11, 15, acme), entry(12, 15, 17, 0, globex)}
	for i := 0; i < 2; i++ {
		begin, end, err := DetectLunch(day, entries, LunchWindow, 45*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, at(11, 15), begin)
		assert.Equal(t, at(12, 0), end)
	}
}

func TestDetectLunch_WindowFollowsWallClockOnDSTDay(t *testing.T) {
	t.Parallel()

	stockholm, err := time.LoadLocation("Europe/Stockholm")
	require.NoError(t, err)
	clock := func(date time.Time, hour, minute int) time.Time {
		return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, stockholm)
	}

	for _, date := range []time.Time{
		time.Date(2026, 3, 10, 0, 0, 0, 0, stockholm),
		time.Date(2026, 3, 29, 0, 0, 0, 0, stockholm),
	} {
		entries := []worklog.Entry{
			worklog.NewEntry(clock(date, 8, 0), clock(date, 10, 45), worklog.SystemTimeRec, acme, ""),
			worklog.NewEntry(clock(date, 11, 45), clock(date, 17, 0), worklog.SystemTimeRec, acme, ""),
		}
		begin, end, err := DetectLunch(date, entries, LunchWindow, time.Hour)
		require.NoError(t, err, date.Format("2006-01-02"))
		assert.Equal(t, clock(date, 10, 45), begin)
		assert.Equal(t, clock(date, 11, 45), end)

		lower, upper := LunchWindow.On(date)
		assert.Equal(t, "10:30", lower.Format("15:04"))
		assert.Equal(t, "14:00", upper.Format("15:04"))
	}
}

func TestDay_PerEntryAndAggregatedShapes(t *testing.T) {
	t.Parallel()

	table := testTable(t)
	entries := []worklog.Entry{entry(9, 0, 12, 0, acme), entry(13, 0, 17, 0, globex)}

	result, err := Day(table, day, entries, options())
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, at(9, 0), result.Entries[0].Begin)
	assert.Equal(t, at(12, 0), result.Entries[0].End)
	assert.Equal(t, targetX, result.Entries[0].Account["millnet"])
	assert.Equal(t, targetY, result.Entries[1].Account["millnet"])

	totals := Aggregate(result)
	assert.Equal(t, []worklog.Total{
		{Account: targetX, Duration: 3 * time.Hour},
		{Account: targetY, Duration: 4 * time.Hour},
	}, totals)

	_, converted := entries[0].AccountFor("millnet")
	assert.False(t, converted, "source entries must not be modified")
}

func TestDay_DropsEntriesMappedToNothing(t *testing.T) {
	t.Parallel()

	table := testTable(t)
	entries := []worklog.Entry{entry(9, 0, 12, 0, acme), entry(12, 0, 13, 0, private)}

	result, err := Day(table, day, entries, options())
	require.NoError(t, err)
	assert.Len(t, result.Entries, 1)
	assert.Equal(t, 1, result.Dropped)
	assert.Len(t, Aggregate(result), 1)
}

func TestDay_UnchartedAccountFails(t *testing.T) {
	t.Parallel()

	table := testTable(t)
	entries := []worklog.Entry{entry(9, 0, 12, 0, worklog.NewAccountKey("Unknown", "Thing"))}

	_, err := Day(table, day, entries, options())
	var cfgErr *mapping.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestDay_InsertsLunch(t *testing.T) {
	t.Parallel()

	table := testTable(t)
	opts := options()
	opts.InsertLunch = true
	opts.LunchMinDuration = time.Hour
	opts.LunchAccount = lunch

	entries := []worklog.Entry{entry(13, 0, 17, 0, globex), entry(9, 0, 12, 0, acme)}
	result, err := Day(table, day, entries, opts)
	require.NoError(t, err)
	require.NotNil(t, result.Lunch)
	require.Len(t, result.Entries, 3)
	assert.Equal(t, at(12, 0), result.Entries[1].Begin)
	assert.Equal(t, LunchComment, result.Entries[1].Comment)
	assert.Equal(t, worklog.NewAccountKey("Internal", "Lunch"), result.Entries[1].Account["millnet"])
}

func TestDay_SkipsLunchWhenAlreadyPresent(t *testing.T) {
	t.Parallel()

	table := testTable(t)
	opts := options()
	opts.InsertLunch = true
	opts.LunchMinDuration = time.Hour
	opts.LunchAccount = lunch

	entries := []worklog.Entry{entry(8, 0, 11, 30, acme), entry(11, 30, 12, 0, lunch), entry(12, 0, 16, 0, acme)}
	result, err := Day(table, day, entries, opts)
	require.NoError(t, err)
	assert.Nil(t, result.Lunch)
	assert.Len(t, result.Entries, 3)
}

func TestDay_NoLunchSlotIsFatal(t *testing.T) {
	t.Parallel()

	table := testTable(t)
	opts := options()
	opts.InsertLunch = true
	opts.LunchMinDuration = 30 * time.Minute
	opts.LunchAccount = lunch

	_, err := Day(table, day, []worklog.Entry{entry(8, 0, 16, 0, acme)}, opts)
	var slotErr *NoLunchSlotError
	assert.True(t, errors.As(err, &slotErr))
}

func TestDay_EmptyDayGetsNoLunch(t *testing.T) {
	t.Parallel()

	opts := options()
	opts.InsertLunch = true
	opts.LunchMinDuration = 30 * time.Minute
	opts.LunchAccount = lunch

	result, err := Day(testTable(t), day, nil, opts)
	require.NoError(t, err)
	assert.Nil(t, result.Lunch)
	assert.Empty(t, result.Entries)
}

type fakeSource map[string][]worklog.Entry

func (f fakeSource) GetDay(_ context.Context, date time.Time) ([]worklog.Entry, error) {
	return f[date.Format("2006-01-02")], nil
}

func TestCollect_FailsBeforeReturningAnyDay(t *testing.T) {
	t.Parallel()

	next := day.AddDate(0, 0, 1)
	source := fakeSource{
		day.Format("2006-01-02"): {entry(9, 0, 12, 0, acme)},
		next.Format("2006-01-02"): {
			worklog.NewEntry(next.Add(9*time.Hour), next.Add(10*time.Hour), worklog.SystemTimeRec, worklog.NewAccountKey("Nope", "Nope"), ""),
		},
	}

	results, err := Collect(context.Background(), source, testTable(t), []time.Time{day, next}, options())
	assert.Error(t, err)
	assert.Nil(t, results)

	results, err = Collect(context.Background(), source, testTable(t), []time.Time{day}, options())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "millnet", results[0].System)
}
