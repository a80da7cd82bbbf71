package mapping

import (
	"fmt"
	"strings"

	"punchsync/worklog"
)

// ConfigurationError reports an account that the mapping table cannot
// translate: either it is not charted at all or its row is malformed.
type ConfigurationError struct {
	System  string
	Account worklog.AccountKey
	Row     int
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("mapping: %s account %s (row %d): %s", e.System, e.Account, e.Row, e.Reason)
	}
	return fmt.Sprintf("mapping: %s account %s: %s", e.System, e.Account, e.Reason)
}

// Table is a rectangular grid: one row per mapped account, one column group
// per system. Every row carries a cell for every system.
type Table struct {
	systems []string
	index   map[string]int
	// columns[s] holds the source column positions belonging to system s.
	columns [][]int
	rows    []row
}

type row struct {
	// line is the 1-based line in the source file.
	line  int
	width int
	keys  []worklog.AccountKey
}

// NewTable builds a table from a header row of "<system>-<field>" names and
// the data rows below it. Short rows are kept; the systems whose columns
// they do not reach are marked as truncated for that row.
func NewTable(headers []string, records [][]string) (*Table, error) {
	t := &Table{index: make(map[string]int)}
	for col, header := range headers {
		header = strings.TrimSpace(header)
		if header == "" {
			continue
		}
		system, _, _ := strings.Cut(header, "-")
		system = strings.TrimSpace(system)
		if system == "" {
			return nil, fmt.Errorf("header %q in column %d has no system name", header, col+1)
		}
		i, ok := t.index[system]
		if !ok {
			i = len(t.systems)
			t.index[system] = i
			t.systems = append(t.systems, system)
			t.columns = append(t.columns, nil)
		}
		t.columns[i] = append(t.columns[i], col)
	}
	if len(t.systems) == 0 {
		return nil, fmt.Errorf("mapping header has no system columns")
	}

	t.rows = make([]row, 0, len(records))
	for i, record := range records {
		r := row{line: i + 2, width: len(record), keys: make([]worklog.AccountKey, len(t.systems))}
		for s, cols := range t.columns {
			fields := make([]string, len(cols))
			for f, col := range cols {
				if col < len(record) {
					fields[f] = strings.TrimSpace(record[col])
				}
			}
			r.keys[s] = worklog.NewAccountKey(fields...)
		}
		t.rows = append(t.rows, r)
	}
	return t, nil
}

func (t *Table) Systems() []string {
	return append([]string(nil), t.systems...)
}

func (t *Table) Len() int {
	return len(t.rows)
}

// HasSystem reports whether the table has a column group for system.
func (t *Table) HasSystem(system string) bool {
	_, ok := t.index[system]
	return ok
}

// Accounts lists every charted account of system, one per row, including
// NoAccount for rows that leave the system blank.
func (t *Table) Accounts(system string) ([]worklog.AccountKey, error) {
	s, ok := t.index[system]
	if !ok {
		return nil, fmt.Errorf("mapping has no columns for system %q", system)
	}
	out := make([]worklog.AccountKey, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, r.keys[s])
	}
	return out, nil
}

// Lookup translates account from one system to another. The result is
// NoAccount when the matching row leaves the target system blank.
func (t *Table) Lookup(from string, account worklog.AccountKey, to string) (worklog.AccountKey, error) {
	fromIdx, ok := t.index[from]
	if !ok {
		return worklog.NoAccount, &ConfigurationError{System: from, Account: account, Reason: "system has no columns in mapping"}
	}
	toIdx, ok := t.index[to]
	if !ok {
		return worklog.NoAccount, &ConfigurationError{System: to, Account: account, Reason: "system has no columns in mapping"}
	}
	if account.IsZero() {
		return worklog.NoAccount, &ConfigurationError{System: from, Account: account, Reason: "entry has no account"}
	}

	var (
		found  bool
		result worklog.AccountKey
		first  row
	)
	for _, r := range t.rows {
		if r.keys[fromIdx] != account {
			continue
		}
		if t.truncated(r, toIdx) {
			return worklog.NoAccount, &ConfigurationError{
				System:  from,
				Account: account,
				Row:     r.line,
				Reason:  fmt.Sprintf("row is truncated before the %s columns", to),
			}
		}
		if !found {
			found = true
			result = r.keys[toIdx]
			first = r
			continue
		}
		if r.keys[toIdx] != result {
			return worklog.NoAccount, &ConfigurationError{
				System:  from,
				Account: account,
				Row:     r.line,
				Reason:  fmt.Sprintf("maps to both %s (row %d) and %s in %s", result, first.line, r.keys[toIdx], to),
			}
		}
	}
	if !found {
		return worklog.NoAccount, &ConfigurationError{System: from, Account: account, Reason: "account is not charted in mapping"}
	}
	return result, nil
}

// Convert sets entry's account for system to, looked up from its account in
// system from. It reports whether the entry counts in the target system.
func (t *Table) Convert(entry *worklog.Entry, from, to string) (bool, error) {
	account, ok := entry.AccountFor(from)
	if !ok {
		return false, &ConfigurationError{System: from, Account: worklog.NoAccount, Reason: "entry has not been converted to this system"}
	}
	target, err := t.Lookup(from, account, to)
	if err != nil {
		return false, err
	}
	entry.SetAccount(to, target)
	return !target.IsZero(), nil
}

func (t *Table) truncated(r row, system int) bool {
	cols := t.columns[system]
	return cols[len(cols)-1] >= r.width
}
