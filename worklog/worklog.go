package worklog

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SystemTimeRec is the account vocabulary of the punch-clock source.
const SystemTimeRec = "timerec"

const fieldSeparator = "\x1f"

// AccountKey is an ordered tuple of account fields in one system's vocabulary.
// The zero value means "no account"; an all-blank tuple normalizes to it.
type AccountKey string

// NoAccount marks an entry that is not reported in a system.
const NoAccount AccountKey = ""

func NewAccountKey(fields ...string) AccountKey {
	empty := true
	for _, field := range fields {
		if strings.TrimSpace(field) != "" {
			empty = false
			break
		}
	}
	if empty {
		return NoAccount
	}
	return AccountKey(strings.Join(fields, fieldSeparator))
}

func (k AccountKey) IsZero() bool {
	return k == NoAccount
}

func (k AccountKey) Fields() []string {
	if k.IsZero() {
		return nil
	}
	return strings.Split(string(k), fieldSeparator)
}

// Field returns the i-th field or "" when the key is shorter.
func (k AccountKey) Field(i int) string {
	fields := k.Fields()
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

func (k AccountKey) String() string {
	if k.IsZero() {
		return "<none>"
	}
	return "(" + strings.Join(k.Fields(), ", ") + ")"
}

// Entry is one clocked interval. Account is filled one system at a time as
// the entry is converted between vocabularies.
type Entry struct {
	Begin   time.Time
	End     time.Time
	Account map[string]AccountKey
	Comment string
}

func NewEntry(begin, end time.Time, system string, account AccountKey, comment string) Entry {
	return Entry{
		Begin:   begin,
		End:     end,
		Account: map[string]AccountKey{system: account},
		Comment: comment,
	}
}

func (e Entry) Duration() time.Duration {
	return e.End.Sub(e.Begin)
}

// AccountFor returns the account for system and whether it has been set.
func (e Entry) AccountFor(system string) (AccountKey, bool) {
	if e.Account == nil {
		return NoAccount, false
	}
	key, ok := e.Account[system]
	return key, ok
}

func (e *Entry) SetAccount(system string, key AccountKey) {
	if e.Account == nil {
		e.Account = make(map[string]AccountKey, 2)
	}
	e.Account[system] = key
}

func (e Entry) Validate() error {
	if !e.End.After(e.Begin) {
		return fmt.Errorf("entry %s-%s has invalid time range", e.Begin.Format("15:04"), e.End.Format("15:04"))
	}
	if !sameDay(e.Begin, e.End) {
		return fmt.Errorf("entry %s-%s crosses day boundaries", e.Begin.Format(time.RFC3339), e.End.Format(time.RFC3339))
	}
	return nil
}

func (e Entry) String() string {
	return fmt.Sprintf("%s-%s %v %q", e.Begin.Format("15:04"), e.End.Format("15:04"), e.Account, e.Comment)
}

// Mode is the aggregation shape a backend stores.
type Mode int

const (
	// PerEntry keeps explicit time spans.
	PerEntry Mode = iota
	// Aggregated stores one daily total per account.
	Aggregated
)

func (m Mode) String() string {
	switch m {
	case PerEntry:
		return "per-entry"
	case Aggregated:
		return "aggregated"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Total is the summed duration for one account on one day.
type Total struct {
	Account  AccountKey
	Duration time.Duration
}

func (t Total) Hours() float64 {
	return t.Duration.Hours()
}

// Day is a reconciled day in a target system's vocabulary.
type Day struct {
	Date    time.Time
	System  string
	Entries []Entry
}

// Totals sums entries per target account in order of first appearance.
// Entries without an account in the day's system are skipped.
func (d Day) Totals() []Total {
	return Sum(d.Entries, d.System)
}

func (d Day) Duration() time.Duration {
	total := time.Duration(0)
	for _, entry := range d.Entries {
		total += entry.Duration()
	}
	return total
}

// Sum folds entries into one total per account of system, keeping the order
// in which each account first appears.
func Sum(entries []Entry, system string) []Total {
	index := make(map[AccountKey]int, len(entries))
	out := make([]Total, 0, len(entries))
	for _, entry := range entries {
		account, ok := entry.AccountFor(system)
		if !ok || account.IsZero() {
			continue
		}
		i, seen := index[account]
		if !seen {
			i = len(out)
			index[account] = i
			out = append(out, Total{Account: account})
		}
		out[i].Duration += entry.Duration()
	}
	return out
}

// SumMap is Sum keyed by account.
func SumMap(entries []Entry, system string) map[AccountKey]time.Duration {
	totals := Sum(entries, system)
	out := make(map[AccountKey]time.Duration, len(totals))
	for _, total := range totals {
		out[total.Account] = total.Duration
	}
	return out
}

// SortByBegin orders entries by begin time, then end time.
func SortByBegin(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Begin.Equal(entries[j].Begin) {
			return entries[i].End.Before(entries[j].End)
		}
		return entries[i].Begin.Before(entries[j].Begin)
	})
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
