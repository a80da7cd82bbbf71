package timerec

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"punchsync/worklog"
)

type stamp struct {
	at       string
	action   int
	customer string
	category int
	comment  string
}

func newTestDB(t *testing.T, stamps []stamp) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "timerec.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	const schema = `
CREATE TABLE T_CATEGORY_1 (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE T_STAMP_3 (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	asofdate TEXT NOT NULL,
	stamp_date_str TEXT NOT NULL,
	check_action INTEGER NOT NULL,
	customer TEXT,
	category_id INTEGER,
	comment TEXT
);
INSERT INTO T_CATEGORY_1 (id, name) VALUES (1, 'Development'), (2, 'Support');
`
	_, err = db.Exec(schema)
	require.NoError(t, err)

	for _, s := range stamps {
		_, err := db.Exec(
			`INSERT INTO T_STAMP_3 (asofdate, stamp_date_str, check_action, customer, category_id, comment) VALUES (?, ?, ?, ?, ?, ?)`,
			s.at[:10]+" 00:00:00", s.at, s.action, s.customer, s.category, s.comment,
		)
		require.NoError(t, err)
	}
	return path
}

func day(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation("2006-01-02", value, time.Local)
	require.NoError(t, err)
	return parsed
}

func TestGetDay_PairsCheckInAndCheckOut(t *testing.T) {
	t.Parallel()

	path := newTestDB(t, []stamp{
		{at: "2026-03-10 09:00:00", action: 10, customer: "Acme", category: 1, comment: "portal"},
		{at: "2026-03-10 12:00:00", action: 20, customer: "Acme", category: 1},
		// Switching task at the same second: check-out sorts before check-in.
		{at: "2026-03-10 13:00:00", action: 10, customer: "Globex", category: 2},
		{at: "2026-03-10 15:00:00", action: 20, customer: "Globex", category: 2},
		{at: "2026-03-10 15:00:00", action: 10, customer: "Acme", category: 1},
		{at: "2026-03-10 17:00:00", action: 20, customer: "Acme", category: 1},
		{at: "2026-03-11 09:00:00", action: 10, customer: "Acme", category: 1},
		{at: "2026-03-11 10:00:00", action: 20, customer: "Acme", category: 1},
	})

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.GetDay(context.Background(), day(t, "2026-03-10"))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	first := entries[0]
	assert.Equal(t, 9, first.Begin.Hour())
	assert.Equal(t, 12, first.End.Hour())
	assert.Equal(t, "portal", first.Comment)
	account, ok := first.AccountFor(worklog.SystemTimeRec)
	require.True(t, ok)
	assert.Equal(t, worklog.NewAccountKey("Acme", "Development"), account)

	assert.Equal(t, worklog.NewAccountKey("Globex", "Support"), entries[1].Account[worklog.SystemTimeRec])
	assert.Equal(t, 15, entries[2].Begin.Hour())
	assert.Len(t, entries[2].Account, 1, "only the timerec account is populated")
}

func TestGetDay_SkipsRepeatedAction(t *testing.T) {
	t.Parallel()

	path := newTestDB(t, []stamp{
		{at: "2026-03-10 09:00:00", action: 10, customer: "Acme", category: 1},
		{at: "2026-03-10 09:05:00", action: 10, customer: "Globex", category: 2},
		{at: "2026-03-10 11:00:00", action: 20, customer: "Acme", category: 1},
	})

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.GetDay(context.Background(), day(t, "2026-03-10"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 9, entries[0].Begin.Hour())
	assert.Equal(t, 0, entries[0].Begin.Minute())
}

func TestGetDay_IncompleteDay(t *testing.T) {
	t.Parallel()

	path := newTestDB(t, []stamp{
		{at: "2026-03-10 09:00:00", action: 10, customer: "Acme", category: 1},
	})

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetDay(context.Background(), day(t, "2026-03-10"))
	assert.True(t, errors.Is(err, ErrIncompleteDay))
}

func TestGetDay_EmptyDay(t *testing.T) {
	t.Parallel()

	store, err := Open(newTestDB(t, nil))
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.GetDay(context.Background(), day(t, "2026-03-14"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAccounts(t *testing.T) {
	t.Parallel()

	store, err := Open(newTestDB(t, []stamp{
		{at: "2026-03-10 09:00:00", action: 10, customer: "Globex", category: 2},
		{at: "2026-03-10 10:00:00", action: 20, customer: "Globex", category: 2},
		{at: "2026-03-11 09:00:00", action: 10, customer: "Acme", category: 1},
		{at: "2026-03-11 10:00:00", action: 20, customer: "Acme", category: 1},
		{at: "2026-03-12 09:00:00", action: 10, customer: "Acme", category: 1},
	}))
	require.NoError(t, err)
	defer store.Close()

	accounts, err := store.Accounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []worklog.AccountKey{
		worklog.NewAccountKey("Acme", "Development"),
		worklog.NewAccountKey("Globex", "Support"),
	}, accounts)
}

func TestOpen_IsReadOnly(t *testing.T) {
	t.Parallel()

	store, err := Open(newTestDB(t, nil))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.Exec(`DELETE FROM T_CATEGORY_1`)
	require.Error(t, err)

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM T_CATEGORY_1`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestOpen_MissingFileIsNotCreated(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing.db")
	_, err := Open(path)
	require.Error(t, err)
	assert.NoFileExists(t, path)
}

func TestReadOnlyDSN(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "file:/data/time rec%231%3f.db?mode=ro", readOnlyDSN("/data/time rec#1?.db"))
}
