package millnet

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"punchsync/formsession"
	"punchsync/worklog"
)

const Name = "millnet"

const (
	KindProject  = "project"
	KindActivity = "activity"

	// kindProjectActivities caches the full activity list of one project.
	kindProjectActivities = "activities:"
	memberGroup           = "Medlem"
	projectLimit          = 500
)

type Config struct {
	BaseURL   string
	Username  string
	Password  formsession.PasswordFunc
	StatePath string
	Transport http.RoundTripper
}

// Backend reports one daily total per (project, activity). Accounts are
// (project name, activity name) tuples.
type Backend struct {
	cfg     Config
	session *formsession.Session
	lookups *formsession.LookupCache
	now     func() time.Time

	// projectList holds every visible project once fetched.
	projectList []project
}

type project struct {
	ID        string `json:"id"`
	Name      string `json:"value"`
	GroupName string `json:"groupname"`
	Customer  string `json:"customer"`
	Number    string `json:"projectnr"`
}

type activity struct {
	ID   string `json:"ActivityId"`
	Name string `json:"Name"`
}

func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Username) == "" {
		return nil, fmt.Errorf("%s username is required", Name)
	}
	if cfg.Password == nil {
		return nil, fmt.Errorf("%s password source is required", Name)
	}
	session, err := formsession.NewSession(formsession.Config{
		Backend:   Name,
		BaseURL:   cfg.BaseURL,
		StatePath: cfg.StatePath,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", Name, err)
	}

	b := &Backend{cfg: cfg, session: session, now: time.Now}
	b.lookups = formsession.NewLookupCache(b.fetch)
	return b, nil
}

func (b *Backend) Name() string {
	return Name
}

func (b *Backend) Mode() worklog.Mode {
	return worklog.Aggregated
}

func (b *Backend) Session() *formsession.Session {
	return b.session
}

func (b *Backend) LookupKinds() []string {
	return []string{KindProject, KindActivity}
}

func (b *Backend) Probe(ctx context.Context) (bool, error) {
	resp, err := b.session.Get(ctx, "/cgi/milltime.cgi", nil, nil)
	if err != nil {
		return false, err
	}
	if err := resp.Expect("probe"); err != nil {
		return false, err
	}
	return !strings.Contains(strings.ToLower(resp.URL.String()), "login"), nil
}

func (b *Backend) Authenticate(ctx context.Context) error {
	password, err := b.cfg.Password()
	if err != nil {
		return fmt.Errorf("%s password: %w", Name, err)
	}

	resp, err := b.session.PostForm(ctx, "/cgi/mt.cgi/api/login", nil, url.Values{
		"submit":      {"Logga in"},
		"form_loaded": {"1"},
		"userlogin":   {b.cfg.Username},
		"password":    {password},
		"type":        {"json"},
	}, nil)
	if err != nil {
		return err
	}
	if err := resp.Expect("log in"); err != nil {
		return err
	}

	var payload struct {
		Success bool            `json:"success"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return &formsession.AuthenticationError{Backend: Name, Reason: resp.Excerpt()}
	}
	if !payload.Success {
		return &formsession.AuthenticationError{Backend: Name, Reason: loginErrors(payload.Errors)}
	}
	return nil
}

func loginErrors(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return strings.TrimSpace(string(raw))
}

// SetDay writes one summed row per account. Rows the user already has for
// an account are overwritten rather than duplicated.
func (b *Backend) SetDay(ctx context.Context, day worklog.Day) error {
	if err := b.session.RequireLoggedIn("set day"); err != nil {
		return err
	}
	totals := day.Totals()
	if len(totals) == 0 {
		log.WithField("date", day.Date.Format("2006-01-02")).Info("nothing to report")
		return nil
	}

	number := day.Date.Format("20060102")
	hyphen := day.Date.Format("2006-01-02")

	resp, err := b.session.PostForm(ctx, "/cgi/milltime.cgi/main", nil, url.Values{
		"period":     {number},
		"periodtype": {"D"},
	}, nil)
	if err != nil {
		return err
	}
	if err := resp.Expect("load day"); err != nil {
		return err
	}
	form, err := formsession.HarvestForm(resp.Body, "form#mt_main_form")
	if err != nil {
		return &formsession.ProtocolError{Op: "load day", Reason: err.Error()}
	}
	existing := existingRows(form.Fields)

	data := url.Values{}
	for index, total := range totals {
		projectID, activityID, err := b.accountIDs(ctx, total.Account)
		if err != nil {
			return fmt.Errorf("%s %s: %w", hyphen, total.Account, err)
		}
		i := strconv.Itoa(index)
		data.Set("dirty_"+i, "1")
		data.Set("rt_"+i, formatHours(total.Duration))
		data.Set("rt_"+i+"_org", "")
		data.Set("pid_"+i, projectID)
		data.Set("aid_"+i, activityID)
		data.Set("regday_"+i, number)
		data.Set("regday_"+i+"_org", number)
		data.Set("lck_"+i, "false")
		data.Set("pha_"+i, "Default")
		if rowID, ok := existing[[2]string{projectID, activityID}]; ok {
			data.Set("ro_"+i, rowID+".000000")
		}
	}
	for key, value := range map[string]string{
		"periodtype":    "D",
		"date":          hyphen,
		"date_org":      hyphen,
		"date_begin":    number,
		"date_end":      number,
		"part":          "save-time",
		"period_value":  "",
		"period":        "",
		"param1":        "save",
		"project_id":    "",
		"submenu":       "",
		"submenu_prev":  "",
		"orderby_name":  "",
		"orderby_order": "0",
		"context":       "",
	} {
		data.Set(key, value)
	}
	for n := 2; n <= 7; n++ {
		data.Set("param"+strconv.Itoa(n), "")
	}

	saveResp, err := b.session.PostForm(ctx, "/cgi/milltime.cgi/main", nil, data, nil)
	if err != nil {
		return err
	}
	return saveResp.Expect("save day")
}

// existingRows maps (project id, activity id) to the first existing row id
// for that account.
func existingRows(fields url.Values) map[[2]string]string {
	indices := make([]int, 0, 8)
	for name := range fields {
		if !strings.HasPrefix(name, "ro_") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(name, "ro_"))
		if err != nil {
			continue
		}
		indices = append(indices, index)
	}
	sort.Ints(indices)

	rows := make(map[[2]string]string, len(indices))
	for _, index := range indices {
		i := strconv.Itoa(index)
		value, err := strconv.ParseFloat(strings.TrimSpace(fields.Get("ro_"+i)), 64)
		if err != nil || value <= 0 {
			continue
		}
		key := [2]string{fields.Get("pid_" + i), fields.Get("aid_" + i)}
		if _, seen := rows[key]; !seen {
			rows[key] = strconv.FormatInt(int64(math.Round(value)), 10)
		}
	}
	return rows
}

func formatHours(d time.Duration) string {
	return strconv.FormatFloat(d.Hours(), 'f', -1, 64)
}

func (b *Backend) accountIDs(ctx context.Context, account worklog.AccountKey) (string, string, error) {
	projectName := strings.TrimSpace(account.Field(0))
	activityName := strings.TrimSpace(account.Field(1))
	if projectName == "" || activityName == "" {
		return "", "", fmt.Errorf("account %s needs both project and activity", account)
	}

	projectMatch, err := b.lookups.ResolveOne(ctx, KindProject, projectName)
	if err != nil {
		return "", "", err
	}
	activities, err := b.lookups.Resolve(ctx, kindProjectActivities+projectMatch.ID, "")
	if err != nil {
		return "", "", err
	}
	activityMatch, err := formsession.Narrow(KindActivity, activityName, exactOnly(activities, activityName))
	if err != nil {
		return "", "", err
	}
	log.WithFields(log.Fields{
		"project":  projectName,
		"activity": activityName,
		"ids":      projectMatch.ID + "/" + activityMatch.ID,
	}).Debug("resolved account")
	return projectMatch.ID, activityMatch.ID, nil
}

func exactOnly(matches []formsession.Match, name string) []formsession.Match {
	out := make([]formsession.Match, 0, 1)
	for _, match := range matches {
		if strings.EqualFold(strings.TrimSpace(match.Label), name) {
			out = append(out, match)
		}
	}
	return out
}

func (b *Backend) Lookup(ctx context.Context, kind, term string) ([]formsession.Match, error) {
	if err := b.session.RequireLoggedIn("lookup"); err != nil {
		return nil, err
	}
	return b.lookups.Resolve(ctx, kind, term)
}

func (b *Backend) fetch(ctx context.Context, kind, term string) ([]formsession.Match, error) {
	switch {
	case kind == KindProject:
		projects, err := b.projects(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]formsession.Match, 0, len(projects))
		for _, p := range projects {
			if containsFold(p.Name, term) {
				out = append(out, formsession.Match{Label: p.Name, ID: p.ID})
			}
		}
		return out, nil
	case kind == KindActivity:
		return b.memberActivities(ctx, term)
	case strings.HasPrefix(kind, kindProjectActivities):
		activities, err := b.activities(ctx, strings.TrimPrefix(kind, kindProjectActivities))
		if err != nil {
			return nil, err
		}
		out := make([]formsession.Match, 0, len(activities))
		for _, a := range activities {
			out = append(out, formsession.Match{Label: a.Name, ID: a.ID})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s has no lookup kind %q", Name, kind)
	}
}

// memberActivities lists "project: activity" pairs of every project the
// user is a member of.
func (b *Backend) memberActivities(ctx context.Context, term string) ([]formsession.Match, error) {
	projects, err := b.projects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]formsession.Match, 0, 16)
	for _, p := range projects {
		if p.GroupName != memberGroup {
			continue
		}
		activities, err := b.lookups.Resolve(ctx, kindProjectActivities+p.ID, "")
		if err != nil {
			return nil, err
		}
		for _, a := range activities {
			label := p.Name + ": " + a.Label
			if containsFold(label, term) {
				out = append(out, formsession.Match{Label: label, ID: p.ID + "/" + a.ID})
			}
		}
	}
	return out, nil
}

func (b *Backend) projects(ctx context.Context) ([]project, error) {
	if b.projectList != nil {
		return b.projectList, nil
	}
	resp, err := b.session.Get(ctx, "/cgi/milltime.cgi/mt_data", url.Values{
		"param1":   {"mt-get-projects"},
		"_dc":      {strconv.FormatInt(b.now().UnixMilli(), 10)},
		"param2":   {"TIME"},
		"show_all": {"1"},
		"page":     {"1"},
		"start":    {"0"},
		"limit":    {strconv.Itoa(projectLimit)},
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Expect("list projects"); err != nil {
		return nil, err
	}
	var payload struct {
		Rows []project `json:"rows"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, &formsession.ProtocolError{Op: "list projects", Reason: err.Error()}
	}
	b.projectList = payload.Rows
	if b.projectList == nil {
		b.projectList = []project{}
	}
	return b.projectList, nil
}

func (b *Backend) activities(ctx context.Context, projectID string) ([]activity, error) {
	resp, err := b.session.PostForm(ctx, "/cgi/milltime.cgi/mt_data", nil, url.Values{
		"param1":     {"mt-get-activities"},
		"param2":     {""},
		"project_id": {projectID},
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Expect("list activities"); err != nil {
		return nil, err
	}
	var payload struct {
		Rows []activity `json:"rows"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, &formsession.ProtocolError{Op: "list activities", Reason: err.Error()}
	}
	return payload.Rows, nil
}

func containsFold(value, term string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(strings.TrimSpace(term)))
}
