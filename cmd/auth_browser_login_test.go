package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestBrowserCookiesKeepsBackendHost(t *testing.T) {
	t.Parallel()

	expires := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	cookies := []*network.Cookie{
		{Name: "ASP.NET_SessionId", Value: "a", Domain: "flex.example.com", Path: "/", Session: true},
		{Name: "auth", Value: "b", Domain: ".example.com", Path: "", Secure: true, Expires: float64(expires.Unix())},
		{Name: "ESTSAUTH", Value: "c", Domain: ".login.microsoftonline.com", Path: "/"},
		nil,
	}

	got := browserCookies(cookies, "flex.example.com")
	if len(got) != 2 {
		t.Fatalf("expected 2 cookies for the backend host, got %+v", got)
	}
	if got[0].Name != "ASP.NET_SessionId" || !got[0].HostOnly || !got[0].Expires.IsZero() {
		t.Fatalf("unexpected host-only session cookie: %+v", got[0])
	}
	if got[1].Domain != "example.com" || got[1].HostOnly || got[1].Path != "/" || !got[1].Secure {
		t.Fatalf("unexpected domain cookie: %+v", got[1])
	}
	if !got[1].Expires.Equal(expires) {
		t.Fatalf("expected expiry %s, got %s", expires, got[1].Expires)
	}
}

func TestOnBackendHost(t *testing.T) {
	t.Parallel()

	if !onBackendHost("https://FLEX.example.com/start", "flex.example.com") {
		t.Fatalf("expected backend host to match")
	}
	if onBackendHost("https://login.microsoftonline.com/oauth", "flex.example.com") {
		t.Fatalf("did not expect SSO host to match")
	}
}

func TestSummarizeCookieInventory(t *testing.T) {
	t.Parallel()

	cookies := []*network.Cookie{
		{Name: "session", Domain: ".flex.example.com"},
		{Name: "session", Domain: "flex.example.com"},
		{Name: "ESTSAUTH", Domain: ".login.microsoftonline.com"},
	}

	summary := summarizeCookieInventory(cookies)
	if !strings.Contains(summary, "cookies=3") {
		t.Fatalf("unexpected summary: %q", summary)
	}
	if !strings.Contains(summary, "flex.example.com=[session]") {
		t.Fatalf("expected duplicate names collapsed per domain: %q", summary)
	}
	if summarizeCookieInventory(nil) != "cookies=0" {
		t.Fatalf("unexpected empty summary")
	}
}
