package timerec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"punchsync/worklog"
)

const (
	actionCheckIn  = 10
	actionCheckOut = 20

	stampLayout = "2006-01-02 15:04:05"
	dayLayout   = "2006-01-02 00:00:00"
)

// ErrIncompleteDay is returned when a day ends with an open check-in.
var ErrIncompleteDay = errors.New("day has a check-in without a check-out")

// Store reads check-in/check-out pairs from a punch-clock database snapshot.
type Store struct {
	db *sql.DB
}

// Open opens the snapshot at path read-only.
func Open(path string) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve punch-clock db path: %w", err)
	}
	db, err := sql.Open("sqlite", readOnlyDSN(abs))
	if err != nil {
		return nil, fmt.Errorf("open punch-clock db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping punch-clock db: %w", err)
	}

	return &Store{db: db}, nil
}

func readOnlyDSN(path string) string {
	escape := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")
	return "file:" + escape.Replace(filepath.ToSlash(path)) + "?mode=ro"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetDay returns the closed entries stamped on date, with only the timerec
// account populated.
func (s *Store) GetDay(ctx context.Context, date time.Time) ([]worklog.Entry, error) {
	const query = `
SELECT s.stamp_date_str, s.check_action, s.customer, c.name, s.comment
FROM T_STAMP_3 s
LEFT OUTER JOIN T_CATEGORY_1 c ON c.id = s.category_id
WHERE s.asofdate = ?
ORDER BY s.stamp_date_str ASC, s.check_action DESC;`

	rows, err := s.db.QueryContext(ctx, query, date.Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("query stamps for %s: %w", date.Format("2006-01-02"), err)
	}
	defer rows.Close()

	entries := make([]worklog.Entry, 0, 8)
	var (
		open       *worklog.Entry
		lastAction int
	)
	for rows.Next() {
		var (
			stampRaw string
			action   int
			customer sql.NullString
			category sql.NullString
			comment  sql.NullString
		)
		if err := rows.Scan(&stampRaw, &action, &customer, &category, &comment); err != nil {
			return nil, fmt.Errorf("scan stamp: %w", err)
		}
		stamp, err := time.ParseInLocation(stampLayout, stampRaw, date.Location())
		if err != nil {
			return nil, fmt.Errorf("parse stamp %q: %w", stampRaw, err)
		}

		if action == lastAction {
			log.WithFields(log.Fields{
				"stamp":  stampRaw,
				"action": action,
			}).Warn("same punch-clock action twice, ignoring")
			continue
		}
		lastAction = action

		switch action {
		case actionCheckIn:
			entry := worklog.NewEntry(stamp, time.Time{}, worklog.SystemTimeRec,
				worklog.NewAccountKey(customer.String, category.String), comment.String)
			open = &entry
		case actionCheckOut:
			if open == nil {
				log.WithField("stamp", stampRaw).Warn("check-out without check-in, ignoring")
				continue
			}
			open.End = stamp
			entries = append(entries, *open)
			open = nil
		default:
			log.WithFields(log.Fields{
				"stamp":  stampRaw,
				"action": action,
			}).Warn("unknown punch-clock action, ignoring")
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stamps: %w", err)
	}

	if open != nil {
		return nil, fmt.Errorf("%s: %w (opened %s)", date.Format("2006-01-02"), ErrIncompleteDay, open.Begin.Format("15:04"))
	}
	return entries, nil
}

// Accounts lists the distinct (customer, category) pairs ever stamped.
func (s *Store) Accounts(ctx context.Context) ([]worklog.AccountKey, error) {
	const query = `
SELECT DISTINCT s.customer, c.name
FROM T_STAMP_3 s
LEFT OUTER JOIN T_CATEGORY_1 c ON c.id = s.category_id
WHERE s.check_action = ?
ORDER BY s.customer, c.name;`

	rows, err := s.db.QueryContext(ctx, query, actionCheckIn)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]worklog.AccountKey, 0, 16)
	for rows.Next() {
		var customer, category sql.NullString
		if err := rows.Scan(&customer, &category); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		key := worklog.NewAccountKey(customer.String, category.String)
		if !key.IsZero() {
			accounts = append(accounts, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}
