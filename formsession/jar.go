package formsession

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// StoredCookie is the persisted form of one cookie.
type StoredCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	HostOnly bool      `json:"host_only,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
}

func (c StoredCookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// Jar is a cookie jar that remembers what it was given so the cookies can be
// written back to disk. net/http/cookiejar cannot enumerate its contents.
type Jar struct {
	mu      sync.Mutex
	inner   *cookiejar.Jar
	cookies map[string]StoredCookie
	now     func() time.Time
}

func NewJar() (*Jar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Jar{inner: inner, cookies: make(map[string]StoredCookie), now: time.Now}, nil
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	for _, cookie := range cookies {
		stored := StoredCookie{
			Name:    cookie.Name,
			Value:   cookie.Value,
			Domain:  strings.TrimPrefix(strings.ToLower(cookie.Domain), "."),
			Path:    cookie.Path,
			Secure:  cookie.Secure,
			Expires: cookie.Expires,
		}
		if stored.Domain == "" {
			stored.Domain = strings.ToLower(u.Hostname())
			stored.HostOnly = true
		}
		if stored.Path == "" || !strings.HasPrefix(stored.Path, "/") {
			stored.Path = defaultPath(u.Path)
		}
		if cookie.MaxAge > 0 {
			stored.Expires = now.Add(time.Duration(cookie.MaxAge) * time.Second)
		}

		key := stored.Domain + ";" + stored.Path + ";" + stored.Name
		if cookie.MaxAge < 0 || stored.expired(now) {
			delete(j.cookies, key)
			continue
		}
		j.cookies[key] = stored
	}
}

// Export lists the live cookies in a stable order.
func (j *Jar) Export() []StoredCookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	out := make([]StoredCookie, 0, len(j.cookies))
	for _, cookie := range j.cookies {
		if cookie.expired(now) {
			continue
		}
		out = append(out, cookie)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Domain != out[b].Domain {
			return out[a].Domain < out[b].Domain
		}
		if out[a].Path != out[b].Path {
			return out[a].Path < out[b].Path
		}
		return out[a].Name < out[b].Name
	})
	return out
}

// Import loads previously exported cookies. Expired ones are dropped.
func (j *Jar) Import(cookies []StoredCookie) {
	now := j.now()
	for _, stored := range cookies {
		if stored.Name == "" || stored.expired(now) {
			continue
		}
		host := strings.TrimPrefix(stored.Domain, ".")
		if host == "" {
			continue
		}
		scheme := "http"
		if stored.Secure {
			scheme = "https"
		}
		cookie := &http.Cookie{
			Name:    stored.Name,
			Value:   stored.Value,
			Path:    stored.Path,
			Secure:  stored.Secure,
			Expires: stored.Expires,
		}
		if !stored.HostOnly {
			cookie.Domain = host
		}
		j.SetCookies(&url.URL{Scheme: scheme, Host: host, Path: stored.Path}, []*http.Cookie{cookie})
	}
}

func defaultPath(path string) string {
	if path == "" || path[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(path, "/")
	if i == 0 {
		return "/"
	}
	return path[:i]
}
