package reconcile

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"punchsync/worklog"
)

// LunchComment is the comment carried by a synthetic lunch entry.
const LunchComment = "Lunch"

// Converter translates an entry's account between two systems and reports
// whether the entry counts in the target system.
type Converter interface {
	Convert(entry *worklog.Entry, from, to string) (bool, error)
}

type Options struct {
	From string
	To   string

	InsertLunch      bool
	LunchMinDuration time.Duration
	// LunchAccount names the lunch break in the From vocabulary.
	LunchAccount worklog.AccountKey
	LunchWindow  Window
}

// Result is one reconciled day. Day.Entries holds the per-entry shape and
// Day.Totals the aggregated one.
type Result struct {
	worklog.Day
	Dropped int
	Lunch   *worklog.Entry
}

// Day converts one day's source entries into the target vocabulary. The
// input slice is not modified.
func Day(table Converter, date time.Time, entries []worklog.Entry, opts Options) (Result, error) {
	result := Result{Day: worklog.Day{Date: date, System: opts.To}}

	converted := make([]worklog.Entry, 0, len(entries))
	for _, source := range entries {
		entry := clone(source)
		if err := entry.Validate(); err != nil {
			return Result{}, fmt.Errorf("reconcile %s: %w", date.Format("2006-01-02"), err)
		}
		counted, err := table.Convert(&entry, opts.From, opts.To)
		if err != nil {
			return Result{}, err
		}
		if !counted {
			result.Dropped++
			log.WithFields(log.Fields{
				"date":    date.Format("2006-01-02"),
				"entry":   entry.String(),
				"backend": opts.To,
			}).Debug("entry not reported in target system")
			continue
		}
		converted = append(converted, entry)
	}

	if opts.InsertLunch && len(entries) > 0 && !hasLunch(entries, opts) {
		lunch, counted, err := synthesizeLunch(table, date, entries, opts)
		if err != nil {
			return Result{}, err
		}
		result.Lunch = &lunch
		if counted {
			converted = append(converted, lunch)
		}
	}

	worklog.SortByBegin(converted)
	result.Entries = converted
	return result, nil
}

// Source yields one day of punch-clock entries.
type Source interface {
	GetDay(ctx context.Context, date time.Time) ([]worklog.Entry, error)
}

// Collect reconciles every date before returning any, so mapping errors
// surface before a single day is submitted.
func Collect(ctx context.Context, source Source, table Converter, dates []time.Time, opts Options) ([]Result, error) {
	results := make([]Result, 0, len(dates))
	for _, date := range dates {
		entries, err := source.GetDay(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", date.Format("2006-01-02"), err)
		}
		result, err := Day(table, date, entries, opts)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Aggregate folds a day into one total per target account.
func Aggregate(result Result) []worklog.Total {
	return result.Totals()
}

func synthesizeLunch(table Converter, date time.Time, entries []worklog.Entry, opts Options) (worklog.Entry, bool, error) {
	if opts.LunchAccount.IsZero() {
		return worklog.Entry{}, false, fmt.Errorf("lunch insertion requested but no lunch account is configured")
	}
	window := opts.LunchWindow
	if window == (Window{}) {
		window = LunchWindow
	}

	begin, end, err := DetectLunch(date, entries, window, opts.LunchMinDuration)
	if err != nil {
		return worklog.Entry{}, false, err
	}

	lunch := worklog.NewEntry(begin, end, opts.From, opts.LunchAccount, LunchComment)
	counted, err := table.Convert(&lunch, opts.From, opts.To)
	if err != nil {
		return worklog.Entry{}, false, err
	}
	log.WithFields(log.Fields{
		"date":    date.Format("2006-01-02"),
		"begin":   begin.Format("15:04"),
		"end":     end.Format("15:04"),
		"counted": counted,
	}).Debug("inserted lunch")
	return lunch, counted, nil
}

func hasLunch(entries []worklog.Entry, opts Options) bool {
	if opts.LunchAccount.IsZero() {
		return false
	}
	for _, entry := range entries {
		if account, ok := entry.AccountFor(opts.From); ok && account == opts.LunchAccount {
			return true
		}
	}
	return false
}

func clone(entry worklog.Entry) worklog.Entry {
	out := entry
	out.Account = make(map[string]worklog.AccountKey, len(entry.Account)+1)
	for system, key := range entry.Account {
		out.Account[system] = key
	}
	return out
}
