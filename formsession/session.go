package formsession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

// DefaultUserAgent is sent on every request. Some backends redirect unknown
// agents to an error page.
const DefaultUserAgent = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

const maxBodyBytes = 16 << 20

// SessionState is the authentication state of a Session.
type SessionState int

const (
	LoggedOut SessionState = iota
	Authenticating
	LoggedIn
)

func (s SessionState) String() string {
	switch s {
	case LoggedOut:
		return "logged-out"
	case Authenticating:
		return "authenticating"
	case LoggedIn:
		return "logged-in"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	Backend   string
	BaseURL   string
	StatePath string
	UserAgent string
	// Timeout bounds each request. Zero leaves the transport defaults.
	Timeout   time.Duration
	// Transport replaces the default round tripper, mainly for tests.
	Transport http.RoundTripper
}

// Session is an authenticated, cookie-carrying HTTP client for one
// form-driven backend. It tracks the rotating anti-forgery token and
// persists cookies and token between runs. It is not safe for concurrent
// use.
type Session struct {
	backend   string
	baseURL   *url.URL
	statePath string
	userAgent string
	client    *http.Client
	jar       *Jar

	state SessionState
	token string
	extra map[string]string
}

type redirectsKey struct{}

type redirectRecorder struct {
	responses []*http.Response
}

func NewSession(cfg Config) (*Session, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("base URL is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	jar, err := NewJar()
	if err != nil {
		return nil, err
	}

	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	s := &Session{
		backend:   cfg.Backend,
		baseURL:   base,
		statePath: cfg.StatePath,
		userAgent: userAgent,
		jar:       jar,
		extra:     make(map[string]string),
	}
	s.client = &http.Client{
		Jar:       jar,
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			if recorder, ok := req.Context().Value(redirectsKey{}).(*redirectRecorder); ok && req.Response != nil {
				recorder.responses = append(recorder.responses, req.Response)
			}
			return nil
		},
	}
	return s, nil
}

func (s *Session) Backend() string {
	return s.backend
}

func (s *Session) BaseURL() *url.URL {
	copied := *s.baseURL
	return &copied
}

func (s *Session) State() SessionState {
	return s.state
}

func (s *Session) SetState(state SessionState) {
	if s.state != state {
		log.WithFields(log.Fields{"backend": s.backend, "from": s.state, "to": state}).Debug("session state")
	}
	s.state = state
}

// RequireLoggedIn fails unless the session has been authenticated.
func (s *Session) RequireLoggedIn(op string) error {
	if s.state != LoggedIn {
		return fmt.Errorf("%s %s: session is %s", s.backend, op, s.state)
	}
	return nil
}

func (s *Session) Token() string {
	return s.token
}

// SetToken installs a freshly issued anti-forgery token.
func (s *Session) SetToken(token string) {
	if token == s.token {
		return
	}
	log.WithFields(log.Fields{"backend": s.backend, "token": abbreviate(token)}).Debug("token rotated")
	s.token = token
}

// TokenFromHeader takes the token from a response header. A missing header
// is a ProtocolError.
func (s *Session) TokenFromHeader(op string, resp *Response, header string) error {
	token := strings.TrimSpace(resp.Header.Get(header))
	if token == "" {
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("response has no %s header", header)}
	}
	s.SetToken(token)
	return nil
}

// UpdateTokenFromHeader takes the token from a response header when the
// response carries one.
func (s *Session) UpdateTokenFromHeader(resp *Response, header string) bool {
	token := strings.TrimSpace(resp.Header.Get(header))
	if token == "" {
		return false
	}
	s.SetToken(token)
	return true
}

// Extra returns a persisted backend-specific value.
func (s *Session) Extra(key string) string {
	return s.extra[key]
}

func (s *Session) SetExtra(key, value string) {
	if value == "" {
		delete(s.extra, key)
		return
	}
	s.extra[key] = value
}

func (s *Session) Jar() *Jar {
	return s.jar
}

func (s *Session) StatePath() string {
	return s.statePath
}

// Load restores cookies, token and extra values from the state file.
func (s *Session) Load() error {
	if s.statePath == "" {
		return nil
	}
	state, err := ReadState(s.statePath)
	if err != nil {
		return err
	}
	if state.BaseURL != "" && !strings.EqualFold(state.BaseURL, s.baseURL.String()) {
		log.WithFields(log.Fields{
			"backend": s.backend,
			"stored":  state.BaseURL,
			"current": s.baseURL.String(),
		}).Info("ignoring session state saved for another URL")
		return nil
	}

	s.jar.Import(state.Cookies)
	s.token = state.Token
	for key, value := range state.Extra {
		s.extra[key] = value
	}
	log.WithFields(log.Fields{
		"backend": s.backend,
		"cookies": len(state.Cookies),
		"saved":   state.SavedAt.Format(time.RFC3339),
	}).Debug("session state loaded")
	return nil
}

// Save writes cookies, token and extra values to the state file.
func (s *Session) Save() error {
	if s.statePath == "" {
		return nil
	}
	state := State{
		Backend: s.backend,
		BaseURL: s.baseURL.String(),
		Token:   s.token,
		Cookies: s.jar.Export(),
		SavedAt: time.Now(),
	}
	if len(s.extra) > 0 {
		state.Extra = make(map[string]string, len(s.extra))
		for key, value := range s.extra {
			state.Extra[key] = value
		}
	}
	if err := WriteState(s.statePath, state); err != nil {
		return err
	}
	log.WithFields(log.Fields{"backend": s.backend, "path": s.statePath}).Debug("session state saved")
	return nil
}

// URL resolves a backend path with an optional query.
func (s *Session) URL(path string, query url.Values) string {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	resolved := *s.baseURL
	if strings.HasPrefix(ref.Path, "/") {
		resolved.Path = strings.TrimRight(s.baseURL.Path, "/") + ref.Path
	} else {
		resolved.Path = strings.TrimRight(s.baseURL.Path, "/") + "/" + ref.Path
	}
	values := ref.Query()
	for key, list := range query {
		values[key] = append(values[key], list...)
	}
	resolved.RawQuery = values.Encode()
	return resolved.String()
}

// Response is a fully read HTTP response together with the redirects that
// led to it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// URL is the final location after redirects.
	URL       *url.URL
	Redirects []*http.Response
}

// Redirected reports whether the request was answered with a redirect.
func (r *Response) Redirected() bool {
	return len(r.Redirects) > 0
}

// Expect fails with a ProtocolError unless the status is one of statuses.
func (r *Response) Expect(op string, statuses ...int) error {
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	for _, status := range statuses {
		if r.StatusCode == status {
			return nil
		}
	}
	return &ProtocolError{Op: op, Status: r.StatusCode, Reason: r.Excerpt()}
}

// Excerpt returns the start of the body for error messages.
func (r *Response) Excerpt() string {
	body := r.Body
	if len(body) > 4096 {
		body = body[:4096]
	}
	return strings.TrimSpace(string(body))
}

func (r *Response) Document() (*goquery.Document, error) {
	return ParseDocument(r.Body)
}

func (r *Response) DecodeJSON(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode json from %s: %w", r.URL.Path, err)
	}
	return nil
}

// Do sends req, follows redirects and reads the whole body. Non-2xx
// statuses are returned, not treated as errors.
func (s *Session) Do(req *http.Request) (*Response, error) {
	recorder := &redirectRecorder{}
	req = req.WithContext(context.WithValue(req.Context(), redirectsKey{}, recorder))
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", req.Method, req.URL.Path, err)
	}

	log.WithFields(log.Fields{
		"backend":   s.backend,
		"method":    req.Method,
		"path":      req.URL.Path,
		"status":    resp.StatusCode,
		"final":     resp.Request.URL.Path,
		"redirects": len(recorder.responses),
		"elapsed":   time.Since(started).Round(time.Millisecond),
	}).Debug("http request")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        resp.Request.URL,
		Redirects:  recorder.responses,
	}, nil
}

// Get loads a page.
func (s *Session) Get(ctx context.Context, path string, query url.Values, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(path, query), nil)
	if err != nil {
		return nil, fmt.Errorf("create request GET %s: %w", path, err)
	}
	copyHeader(req.Header, header)
	return s.Do(req)
}

// PostForm submits form as application/x-www-form-urlencoded.
func (s *Session) PostForm(ctx context.Context, path string, query url.Values, form url.Values, header http.Header) (*Response, error) {
	var body io.Reader = http.NoBody
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL(path, query), body)
	if err != nil {
		return nil, fmt.Errorf("create request POST %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	copyHeader(req.Header, header)
	return s.Do(req)
}

// PostJSON submits payload as a JSON body.
func (s *Session) PostJSON(ctx context.Context, path string, payload any, header http.Header) (*Response, error) {
	content, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL(path, nil), bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("create request POST %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	copyHeader(req.Header, header)
	return s.Do(req)
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		dst.Del(key)
		for _, value := range values {
			if value != "" {
				dst.Add(key, value)
			}
		}
	}
}

func abbreviate(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}

// PasswordFunc supplies a password, typically by prompting.
type PasswordFunc func() (string, error)

// CachePassword asks fn at most once per process for a password that was
// successfully supplied.
func CachePassword(fn PasswordFunc) PasswordFunc {
	var (
		mu       sync.Mutex
		password string
	)
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if password != "" {
			return password, nil
		}
		value, err := fn()
		if err != nil {
			return "", err
		}
		if value == "" {
			return "", errors.New("empty password")
		}
		password = value
		return password, nil
	}
}

// TokenFromRedirect takes the token from the first redirect response that
// carries header.
func (s *Session) TokenFromRedirect(op string, resp *Response, header string) error {
	for _, redirect := range resp.Redirects {
		if token := strings.TrimSpace(redirect.Header.Get(header)); token != "" {
			s.SetToken(token)
			return nil
		}
	}
	return &ProtocolError{Op: op, Reason: fmt.Sprintf("no redirect carried a %s header", header)}
}
