package millnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"punchsync/formsession"
	"punchsync/worklog"
)

const testPassword = "hunter2"

type fakeMillnet struct {
	t *testing.T

	mu               sync.Mutex
	saved            url.Values
	projectCalls     int
	activityRequests []string
}

func (f *fakeMillnet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cookie, err := r.Cookie("mt")
	loggedIn := err == nil && cookie.Value == "ok"

	switch r.URL.Path {
	case "/cgi/milltime.cgi":
		if !loggedIn {
			http.Redirect(w, r, "/cgi/login.cgi", http.StatusFound)
			return
		}
		fmt.Fprint(w, "<html>start</html>")
	case "/cgi/login.cgi":
		fmt.Fprint(w, "<form>login</form>")
	case "/cgi/mt.cgi/api/login":
		if r.PostFormValue("password") != testPassword {
			fmt.Fprint(w, `{"success":false,"errors":"Felaktigt lösenord"}`)
			return
		}
		assert.Equal(f.t, "json", r.PostFormValue("type"))
		http.SetCookie(w, &http.Cookie{Name: "mt", Value: "ok", Path: "/"})
		fmt.Fprint(w, `{"success":true}`)
	case "/cgi/milltime.cgi/mt_data":
		switch r.FormValue("param1") {
		case "mt-get-projects":
			f.projectCalls++
			assert.Equal(f.t, "TIME", r.URL.Query().Get("param2"))
			_ = json.NewEncoder(w).Encode(map[string]any{"rows": []map[string]string{
				{"id": "10", "value": "Acme", "groupname": memberGroup},
				{"id": "11", "value": "Acme Internal", "groupname": memberGroup},
				{"id": "20", "value": "Globex", "groupname": "Övriga"},
			}})
		case "mt-get-activities":
			project := r.PostFormValue("project_id")
			f.activityRequests = append(f.activityRequests, project)
			_ = json.NewEncoder(w).Encode(map[string]any{"rows": []map[string]string{
				{"ActivityId": "a" + project + "-1", "Name": "Development"},
				{"ActivityId": "a" + project + "-2", "Name": "Dev"},
			}})
		default:
			http.NotFound(w, r)
		}
	case "/cgi/milltime.cgi/main":
		assert.NoError(f.t, r.ParseForm())
		if r.PostForm.Get("param1") != "save" {
			assert.Equal(f.t, "20260310", r.PostForm.Get("period"))
			fmt.Fprint(w, `<form id="mt_main_form">
<input name="ro_1" value="4711.000000"><input name="pid_1" value="10"><input name="aid_1" value="a10-2">
<input name="ro_0" value="0"><input name="pid_0" value=""><input name="aid_0" value="">
</form>`)
			return
		}
		f.saved = r.PostForm
	default:
		http.NotFound(w, r)
	}
}

func newTestBackend(t *testing.T, server *httptest.Server, password string) *Backend {
	t.Helper()
	backend, err := New(Config{
		BaseURL:  server.URL,
		Username: "jane",
		Password: func() (string, error) { return password, nil },
	})
	require.NoError(t, err)
	backend.now = func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local) }
	return backend
}

func TestBackend_LoginAndSetDay(t *testing.T) {
	t.Parallel()

	fake := &fakeMillnet{t: t}
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := newTestBackend(t, server, testPassword)
	ctx := context.Background()
	require.NoError(t, formsession.Start(ctx, backend))
	assert.Equal(t, formsession.LoggedIn, backend.Session().State())

	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local)
	entry := func(beginH, endH int, project, activity string) worklog.Entry {
		return worklog.NewEntry(date.Add(time.Duration(beginH)*time.Hour), date.Add(time.Duration(endH)*time.Hour), Name, worklog.NewAccountKey(project, activity), "")
	}
	require.NoError(t, backend.SetDay(ctx, worklog.Day{
		Date:   date,
		System: Name,
		Entries: []worklog.Entry{
			entry(8, 10, "Acme", "Dev"),
			entry(10, 12, "Acme Internal", "Development"),
			entry(13, 14, "Acme", "Dev"),
			{Begin: date.Add(14 * time.Hour), End: date.Add(14*time.Hour + 30*time.Minute), Account: map[string]worklog.AccountKey{Name: worklog.NewAccountKey("Acme", "Dev")}},
		},
	}))

	saved := fake.saved
	require.NotNil(t, saved)
	assert.Equal(t, "3.5", saved.Get("rt_0"))
	assert.Equal(t, "10", saved.Get("pid_0"))
	assert.Equal(t, "a10-2", saved.Get("aid_0"))
	assert.Equal(t, "4711.000000", saved.Get("ro_0"))

	assert.Equal(t, "2", saved.Get("rt_1"))
	assert.Equal(t, "11", saved.Get("pid_1"))
	assert.Equal(t, "a11-1", saved.Get("aid_1"))
	assert.Empty(t, saved.Get("ro_1"))

	assert.Equal(t, "2026-03-10", saved.Get("date"))
	assert.Equal(t, "20260310", saved.Get("regday_1"))
	assert.Equal(t, "save-time", saved.Get("part"))

	// Projects are listed once; each project's activities once.
	assert.Equal(t, 1, fake.projectCalls)
	assert.ElementsMatch(t, []string{"10", "11"}, fake.activityRequests)
}

func TestBackend_EmptyDaySubmitsNothing(t *testing.T) {
	t.Parallel()

	fake := &fakeMillnet{t: t}
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := newTestBackend(t, server, testPassword)
	ctx := context.Background()
	require.NoError(t, formsession.Start(ctx, backend))
	require.NoError(t, backend.SetDay(ctx, worklog.Day{Date: time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local), System: Name}))
	assert.Nil(t, fake.saved)
}

func TestBackend_WrongPassword(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(&fakeMillnet{t: t})
	defer server.Close()

	backend := newTestBackend(t, server, "nope")
	err := formsession.Start(context.Background(), backend)
	var authErr *formsession.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "Felaktigt lösenord", authErr.Reason)
}

func TestBackend_SetDayRequiresLogin(t *testing.T) {
	t.Parallel()

	backend, err := New(Config{BaseURL: "https://millnet.example.com", Username: "jane", Password: func() (string, error) { return "", nil }})
	require.NoError(t, err)
	err = backend.SetDay(context.Background(), worklog.Day{})
	assert.Error(t, err)
}

func TestBackend_LookupActivities(t *testing.T) {
	t.Parallel()

	fake := &fakeMillnet{t: t}
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := newTestBackend(t, server, testPassword)
	ctx := context.Background()
	require.NoError(t, formsession.Start(ctx, backend))

	matches, err := backend.Lookup(ctx, KindActivity, "internal: dev")
	require.NoError(t, err)
	assert.Equal(t, []formsession.Match{
		{Label: "Acme Internal: Development", ID: "11/a11-1"},
		{Label: "Acme Internal: Dev", ID: "11/a11-2"},
	}, matches)

	projects, err := backend.Lookup(ctx, KindProject, "glob")
	require.NoError(t, err)
	assert.Equal(t, []formsession.Match{{Label: "Globex", ID: "20"}}, projects)

	_, err = backend.Lookup(ctx, "customer", "x")
	assert.Error(t, err)
}

func TestLoginErrors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bad", loginErrors(json.RawMessage(`"bad"`)))
	assert.Equal(t, "a; b", loginErrors(json.RawMessage(`["a","b"]`)))
	assert.Equal(t, `{"x":1}`, loginErrors(json.RawMessage(`{"x":1}`)))
}
