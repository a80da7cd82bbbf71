package flexhrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"punchsync/formsession"
	"punchsync/worklog"
)

const Name = "flexhrm"

const (
	// Dimension column positions in a row's Konteringar list. The dimension
	// id does not tell company from project, only the position does.
	DefaultCompanyColumn = 4
	DefaultProjectColumn = 5

	headerRequestToken = "__RequestVerificationToken"
	headerAntiforgery  = "AntiforgeryToken"
	fieldSaveToken     = "_RequestVerificationToken"

	loginRedirect = "%2fHRM%2fdefault.aspx"
	rowIndexField = "Tidrapportdag.Tidrader.Index"
	lookupLimit   = 15
)

const (
	KindCompany  = "company"
	KindProject  = "project"
	KindTimeCode = "timecode"
)

var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

type Config struct {
	BaseURL   string
	Username  string
	Password  formsession.PasswordFunc
	StatePath string
	// TimeCode is used for entries whose account leaves the time code blank.
	TimeCode      string
	CompanyColumn int
	ProjectColumn int
	Transport     http.RoundTripper
}

// Backend reports explicit time spans, one row per entry. Accounts are
// (company, project, time code) tuples.
type Backend struct {
	cfg     Config
	session *formsession.Session
	lookups *formsession.LookupCache
	now     func() time.Time

	customerInstance string
	companyID        string
	employeeID       string
	// dimensions maps a Konteringar column position to its dimension id.
	dimensions map[int]string
}

func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Username) == "" {
		return nil, fmt.Errorf("%s username is required", Name)
	}
	if cfg.Password == nil {
		return nil, fmt.Errorf("%s password source is required", Name)
	}
	if cfg.CompanyColumn <= 0 {
		cfg.CompanyColumn = DefaultCompanyColumn
	}
	if cfg.ProjectColumn <= 0 {
		cfg.ProjectColumn = DefaultProjectColumn
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

	b := &Backend{
		cfg:        cfg,
		session:    session,
		now:        time.Now,
		dimensions: make(map[int]string),
	}
	b.lookups = formsession.NewLookupCache(b.fetch)
	return b, nil
}

func (b *Backend) Name() string {
	return Name
}

func (b *Backend) Mode() worklog.Mode {
	return worklog.PerEntry
}

func (b *Backend) Session() *formsession.Session {
	return b.session
}

func (b *Backend) LookupKinds() []string {
	return []string{KindCompany, KindProject, KindTimeCode}
}

// Probe loads the start page. A logged in user lands on Home with the
// company id in the query; anyone else gets the login form.
func (b *Backend) Probe(ctx context.Context) (bool, error) {
	resp, err := b.session.Get(ctx, "/HRM/", nil, nil)
	if err != nil {
		return false, err
	}
	if err := resp.Expect("probe"); err != nil {
		return false, err
	}
	doc, err := resp.Document()
	if err != nil {
		return false, err
	}

	if strings.HasSuffix(resp.URL.Path, "/HRM/Home") && resp.URL.Query().Get("f") != "" {
		employeeID := strings.TrimSpace(doc.Find("input#MyCalendarAnstallningId").AttrOr("value", ""))
		if employeeID == "" {
			return false, &formsession.ProtocolError{Op: "probe", Reason: "home page has no employee id"}
		}
		b.companyID = resp.URL.Query().Get("f")
		b.employeeID = employeeID
		return true, nil
	}

	b.customerInstance = strings.TrimSpace(doc.Find("input#Kundinstans").AttrOr("value", ""))
	return false, nil
}

func (b *Backend) Authenticate(ctx context.Context) error {
	if b.customerInstance == "" {
		if _, err := b.Probe(ctx); err != nil {
			return err
		}
		if b.customerInstance == "" {
			return &formsession.ProtocolError{Op: "log on", Reason: "login form has no Kundinstans"}
		}
	}
	password, err := b.cfg.Password()
	if err != nil {
		return fmt.Errorf("%s password: %w", Name, err)
	}

	if err := b.requestToken(ctx, b.session.URL("/HRM/Login", nil), false); err != nil {
		return err
	}

	resp, err := b.session.PostForm(ctx, "/HRM/Login/LogOn", nil,
		url.Values{
			"Kundinstans":      {b.customerInstance},
			"Anvandarnamn":     {b.cfg.Username},
			"Losenord":         {password},
			"X-Requested-With": {"XMLHttpRequest"},
		},
		http.Header{
			headerRequestToken: {b.session.Token()},
			"X-Requested-With": {"XMLHttpRequest"},
		})
	if err != nil {
		return err
	}
	if err := resp.Expect("log on"); err != nil {
		return err
	}
	if err := b.session.TokenFromHeader("log on", resp, headerAntiforgery); err != nil {
		return err
	}

	var payload struct {
		RedirectURL string `json:"RedirectUrl"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		reason := ""
		if doc, docErr := resp.Document(); docErr == nil {
			reason = strings.TrimSpace(doc.Find("div.validation-summary-errors").Text())
		}
		return &formsession.AuthenticationError{Backend: Name, Reason: reason}
	}
	if !strings.EqualFold(payload.RedirectURL, loginRedirect) {
		return &formsession.AuthenticationError{Backend: Name}
	}

	resp, err = b.session.Get(ctx, "/HRM/default.aspx", nil, nil)
	if err != nil {
		return err
	}
	if err := resp.Expect("post-login redirect"); err != nil {
		return err
	}
	b.companyID = resp.URL.Query().Get("f")
	if b.companyID == "" {
		return &formsession.ProtocolError{Op: "post-login redirect", Reason: "no company id in " + resp.URL.String()}
	}

	home, err := b.session.Get(ctx, "/HRM/Home", url.Values{"f": {b.companyID}}, nil)
	if err != nil {
		return err
	}
	if err := home.Expect("home"); err != nil {
		return err
	}
	doc, err := home.Document()
	if err != nil {
		return err
	}
	b.employeeID = strings.TrimSpace(doc.Find("input#MyCalendarAnstallningId").AttrOr("value", ""))
	if b.employeeID == "" {
		return &formsession.ProtocolError{Op: "home", Reason: "home page has no employee id"}
	}

	return b.requestToken(ctx, home.URL.String(), true)
}

// requestToken asks for a fresh anti-forgery token. Every page load
// invalidates the previous one.
func (b *Backend) requestToken(ctx context.Context, referer string, hasSession bool) error {
	path := "/HRM/Login/GetReqeustToken"
	header := http.Header{
		"Referer":          {referer},
		"X-Requested-With": {"XMLHttpRequest"},
	}
	if hasSession {
		path = "/HRM/RequestToken/GetReqeustToken"
		header.Set(headerRequestToken, b.session.Token())
	}

	resp, err := b.session.PostForm(ctx, path, nil, nil, header)
	if err != nil {
		return err
	}
	if err := resp.Expect("request token"); err != nil {
		return err
	}
	var payload struct {
		Token string `json:"Token"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return &formsession.ProtocolError{Op: "request token", Reason: err.Error()}
	}
	if payload.Token == "" {
		return &formsession.ProtocolError{Op: "request token", Reason: "empty token"}
	}
	b.session.SetToken(payload.Token)
	return nil
}

// SetDay adds one row per entry to the day's report and saves it. Rows
// already on the day are kept, so reporting a day twice doubles its time.
// A day without entries is left untouched.
func (b *Backend) SetDay(ctx context.Context, day worklog.Day) error {
	if err := b.session.RequireLoggedIn("set day"); err != nil {
		return err
	}
	if len(day.Entries) == 0 {
		log.WithField("date", day.Date.Format("2006-01-02")).Info("nothing to report")
		return nil
	}

	dayResp, err := b.session.Get(ctx, "/HRM/Tid/Dagredovisning", url.Values{
		"f":             {b.companyID},
		"anstallningId": {b.employeeID},
		"datum":         {day.Date.Format("2006-01-02")},
	}, nil)
	if err != nil {
		return err
	}
	if err := dayResp.Expect("load day"); err != nil {
		return err
	}
	if err := b.requestToken(ctx, dayResp.URL.String(), true); err != nil {
		return err
	}

	form, err := formsession.HarvestForm(dayResp.Body, "form#edit")
	if err != nil {
		return &formsession.ProtocolError{Op: "load day", Reason: err.Error()}
	}
	lockPath := strings.TrimSpace(form.Attrs["lock-action"])
	if lockPath == "" {
		return &formsession.ProtocolError{Op: "load day", Reason: "day form has no lock-action"}
	}
	fields := form.Fields
	if existing := fields[rowIndexField]; len(existing) > 0 {
		log.WithFields(log.Fields{
			"date": day.Date.Format("2006-01-02"),
			"rows": len(existing),
		}).Warn("day already has reported rows, new rows are added next to them")
	}

	fields.Set("ModelDirty", b.modelDirty())
	lockResp, err := b.session.PostForm(ctx, lockPath, nil, fields, http.Header{
		headerRequestToken: {b.session.Token()},
		"X-Requested-With": {"XMLHttpRequest"},
		"Referer":          {dayResp.URL.String()},
	})
	if err != nil {
		return err
	}
	if err := lockResp.Expect("lock day"); err != nil {
		return err
	}
	if err := b.session.TokenFromHeader("lock day", lockResp, headerAntiforgery); err != nil {
		return err
	}

	rows := make([]string, 0, len(day.Entries))
	for range day.Entries {
		rowID, err := b.allocateRow(ctx, fields, day.Date)
		if err != nil {
			return err
		}
		rows = append(rows, rowID)
	}

	for i, entry := range day.Entries {
		if err := b.fillRow(ctx, fields, rows[i], entry); err != nil {
			return fmt.Errorf("%s %s: %w", day.Date.Format("2006-01-02"), entry.String(), err)
		}
	}

	fields.Set("ModelDirty", b.modelDirty())
	fields.Set(fieldSaveToken, b.session.Token())
	saveResp, err := b.session.PostForm(ctx, "/HRM/Tid/Dagredovisning/Save", url.Values{
		"anstallningId": {b.employeeID},
		"datum":         {day.Date.Format("01/02/2006") + " 00:00:00"},
		"f":             {b.companyID},
	}, fields, http.Header{"Referer": {dayResp.URL.String()}})
	if err != nil {
		return err
	}

	// A successful save redirects back to the day view. Staying on Save
	// means the server rejected the field set.
	if !saveResp.Redirected() || strings.HasSuffix(saveResp.URL.Path, "/Save") {
		return &formsession.ProtocolError{Op: "save day", Status: saveResp.StatusCode, Reason: "save did not redirect back to the day view"}
	}
	if err := saveResp.Expect("save day"); err != nil {
		return err
	}
	if err := b.session.TokenFromRedirect("save day", saveResp, headerAntiforgery); err != nil {
		return err
	}
	return b.requestToken(ctx, saveResp.URL.String(), true)
}

// allocateRow asks the server for a blank row template and merges its
// fields into fields. The row index and per-dimension ids are issued by the
// server.
func (b *Backend) allocateRow(ctx context.Context, fields url.Values, date time.Time) (string, error) {
	before := url.Values{rowIndexField: append([]string(nil), fields[rowIndexField]...)}

	resp, err := b.session.PostForm(ctx, "/HRM/Tid/Dagredovisning/EmptyBodyRow",
		url.Values{"f": {b.companyID}},
		url.Values{
			"AnstallningId": {b.employeeID},
			"Datum":         {date.Format("2006-01-02")},
		},
		http.Header{headerRequestToken: {b.session.Token()}})
	if err != nil {
		return "", err
	}
	if err := resp.Expect("allocate row"); err != nil {
		return "", err
	}
	b.session.UpdateTokenFromHeader(resp, headerAntiforgery)

	doc, err := resp.Document()
	if err != nil {
		return "", err
	}
	row := doc.Find("div.row").First()
	if row.Length() == 0 {
		return "", &formsession.ProtocolError{Op: "allocate row", Reason: "row template has no div.row"}
	}
	formsession.HarvestFields(row, fields)

	ids := formsession.NewValues(before, fields, rowIndexField)
	if len(ids) != 1 {
		return "", &formsession.ProtocolError{Op: "allocate row", Reason: fmt.Sprintf("expected one new row index, got %d", len(ids))}
	}
	b.learnDimensions(fields, ids[0])
	return ids[0], nil
}

func (b *Backend) fillRow(ctx context.Context, fields url.Values, rowID string, entry worklog.Entry) error {
	account, _ := entry.AccountFor(Name)
	company := strings.TrimSpace(account.Field(0))
	project := strings.TrimSpace(account.Field(1))
	timeCode := strings.TrimSpace(account.Field(2))
	if timeCode == "" {
		timeCode = strings.TrimSpace(b.cfg.TimeCode)
	}
	if timeCode == "" {
		return fmt.Errorf("no time code for account %s and no default configured", account)
	}

	row := fmt.Sprintf("Tidrapportdag.Tidrader[%s]", rowID)
	columns := fields[row+".Konteringar.Index"]
	if b.cfg.CompanyColumn >= len(columns) || b.cfg.ProjectColumn >= len(columns) {
		return &formsession.ProtocolError{Op: "fill row", Reason: fmt.Sprintf("row %s has %d dimension columns", rowID, len(columns))}
	}

	timeCodeID, err := b.resolve(ctx, KindTimeCode, timeCode)
	if err != nil {
		return err
	}

	fields.Set(row+".FromKlockslag.Value", entry.Begin.Format("15:04"))
	fields.Set(row+".FromKlockslag.Changed", "true")
	fields.Set(row+".TomKlockslag.Value", entry.End.Format("15:04"))
	fields.Set(row+".TomKlockslag.Changed", "true")
	fields.Set(row+".NewRow", "True")
	fields.Set(row+".Tidkod.Value.Id", timeCodeID)
	fields.Set(row+".Tidkod.Changed", "True")
	fields.Set(row+".Tidkod.Value.Kodtyp", "1")
	fields.Set(row+".HarManuelltAndradeKonteringar", "True")

	dimensions := []struct {
		kind   string
		value  string
		column int
	}{
		{kind: KindCompany, value: company, column: b.cfg.CompanyColumn},
		{kind: KindProject, value: project, column: b.cfg.ProjectColumn},
	}
	for _, dimension := range dimensions {
		if dimension.value == "" {
			continue
		}
		id, err := b.resolve(ctx, dimension.kind, dimension.value)
		if err != nil {
			return err
		}
		cell := fmt.Sprintf("%s.Konteringar[%s]", row, columns[dimension.column])
		fields.Set(cell+".Value.Id", id)
		fields.Set(cell+".Changed", "True")
	}
	return nil
}

// resolve maps a human readable name to a backend id. Values that already
// are ids pass through.
func (b *Backend) resolve(ctx context.Context, kind, value string) (string, error) {
	if guidPattern.MatchString(value) {
		return value, nil
	}
	match, err := b.lookups.ResolveOne(ctx, kind, value)
	if err != nil {
		return "", err
	}
	return match.ID, nil
}

func (b *Backend) Lookup(ctx context.Context, kind, term string) ([]formsession.Match, error) {
	if err := b.session.RequireLoggedIn("lookup"); err != nil {
		return nil, err
	}
	return b.lookups.Resolve(ctx, kind, term)
}

func (b *Backend) fetch(ctx context.Context, kind, term string) ([]formsession.Match, error) {
	switch kind {
	case KindCompany:
		return b.autoComplete(ctx, "AutoComplete", b.cfg.CompanyColumn, term)
	case KindProject:
		return b.autoComplete(ctx, "AutoCompleteProjektByDeltagare", b.cfg.ProjectColumn, term)
	case KindTimeCode:
		return b.timeCodes(ctx, term)
	default:
		return nil, fmt.Errorf("%s has no lookup kind %q", Name, kind)
	}
}

func (b *Backend) autoComplete(ctx context.Context, page string, column int, term string) ([]formsession.Match, error) {
	dimensionID, err := b.dimensionID(ctx, column)
	if err != nil {
		return nil, err
	}

	resp, err := b.session.PostForm(ctx, fmt.Sprintf("/HRM/Kontering/%s/%s", dimensionID, page), nil,
		url.Values{
			"term":                  {term},
			"limit":                 {strconv.Itoa(lookupLimit)},
			"valueType":             {"EntityDescription"},
			"validStatuses[]":       {"0"},
			"dimensionId":           {dimensionID},
			"restrictByAnstallning": {"true"},
			"includeContainers":     {"false"},
			"showSenasteProjektTid": {"true"},
			"anstallningId":         {b.employeeID},
		},
		http.Header{
			headerRequestToken: {b.session.Token()},
			"X-Requested-With": {"XMLHttpRequest"},
		})
	if err != nil {
		return nil, err
	}
	if err := resp.Expect("auto complete"); err != nil {
		return nil, err
	}
	var matches []formsession.Match
	if err := resp.DecodeJSON(&matches); err != nil {
		return nil, &formsession.ProtocolError{Op: "auto complete", Reason: err.Error()}
	}
	return matches, nil
}

func (b *Backend) timeCodes(ctx context.Context, term string) ([]formsession.Match, error) {
	resp, err := b.session.PostForm(ctx, "/HRM/Tid/Tidkod/AutoComplete", nil,
		url.Values{
			"term":          {term},
			"limit":         {strconv.Itoa(lookupLimit)},
			"anstallningId": {b.employeeID},
			"datum":         {b.now().Format("2006-01-02")},
		},
		http.Header{
			headerRequestToken: {b.session.Token()},
			"X-Requested-With": {"XMLHttpRequest"},
		})
	if err != nil {
		return nil, err
	}
	if err := resp.Expect("time code lookup"); err != nil {
		return nil, err
	}
	var matches []formsession.Match
	if err := resp.DecodeJSON(&matches); err != nil {
		return nil, &formsession.ProtocolError{Op: "time code lookup", Reason: err.Error()}
	}
	return matches, nil
}

// dimensionID returns the dimension id of a Konteringar column, allocating
// a scratch row when no row has been seen yet.
func (b *Backend) dimensionID(ctx context.Context, column int) (string, error) {
	if id, ok := b.dimensions[column]; ok {
		return id, nil
	}
	if _, err := b.allocateRow(ctx, make(url.Values), b.now()); err != nil {
		return "", err
	}
	id, ok := b.dimensions[column]
	if !ok {
		return "", &formsession.ProtocolError{Op: "dimension lookup", Reason: fmt.Sprintf("row template has no dimension column %d", column)}
	}
	return id, nil
}

func (b *Backend) learnDimensions(fields url.Values, rowID string) {
	row := fmt.Sprintf("Tidrapportdag.Tidrader[%s]", rowID)
	for column, cellID := range fields[row+".Konteringar.Index"] {
		if _, known := b.dimensions[column]; known {
			continue
		}
		id := fields.Get(fmt.Sprintf("%s.Konteringar[%s].Value.ForetagKonteringsdimensionId", row, cellID))
		if id != "" {
			b.dimensions[column] = id
		}
	}
}

func (b *Backend) modelDirty() string {
	return strconv.FormatInt(b.now().UnixMilli(), 10)
}
