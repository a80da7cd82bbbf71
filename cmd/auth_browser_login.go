package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"punchsync/formsession"
)

var (
	browserLoginProfileDir   string
	browserLoginBrowserBin   string
	browserLoginWait         time.Duration
	browserLoginDebugCookies bool
)

var authBrowserLoginCmd = &cobra.Command{
	Use:   "browser-login",
	Short: "Log in through a visible browser and save its cookies as the session.",
	Long: `Open a browser on the backend URL and wait while you log in, including any
single sign-on step. Once the backend accepts the browser's cookies, they are
saved as the backend session and used by report and find.`,
	Example: `
  # Log in to FlexHRM through the company SSO
  punchsync auth browser-login --backend flexhrm

  # Use a specific Chromium binary and keep its profile
  punchsync auth browser-login --backend millnet --browser-bin /usr/bin/chromium --profile-dir ~/.punchsync/chrome
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := authBackendFromConfig()
		if err != nil {
			return err
		}
		profileDir, isTempProfile, err := resolveProfileDir(browserLoginProfileDir)
		if err != nil {
			return err
		}
		if isTempProfile {
			defer os.RemoveAll(profileDir)
		}
		if err := os.MkdirAll(profileDir, 0o700); err != nil {
			return fmt.Errorf("create profile directory %q: %w", profileDir, err)
		}

		allocOptions := []chromedp.ExecAllocatorOption{
			chromedp.Flag("headless", false),
			chromedp.UserDataDir(profileDir),
			chromedp.Flag("disable-infobars", true),
			chromedp.Flag("new-window", true),
			chromedp.Flag("restore-last-session", false),
			chromedp.NoDefaultBrowserCheck,
			chromedp.NoFirstRun,
		}
		if bin := strings.TrimSpace(browserLoginBrowserBin); bin != "" {
			allocOptions = append(allocOptions, chromedp.ExecPath(bin))
		}

		allocCtx, allocCancel := chromedp.NewExecAllocator(cmd.Context(), allocOptions...)
		defer allocCancel()
		ctx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		startURL := backend.Session().BaseURL().String()
		if err := chromedp.Run(ctx, network.Enable(), chromedp.Navigate(startURL)); err != nil {
			return fmt.Errorf("open browser at %s: %w", startURL, err)
		}

		fmt.Printf("Log in to %s in the opened browser.\n", backend.Name())
		fmt.Printf("Waiting for a working session (timeout: %s)...\n", browserLoginWait)
		waitCtx, waitCancel := context.WithTimeout(ctx, browserLoginWait)
		defer waitCancel()
		cookies, err := waitForBrowserSession(waitCtx, backend, browserLoginDebugCookies)
		if err != nil {
			return err
		}

		if err := backend.Session().Save(); err != nil {
			return err
		}
		fmt.Printf("Session saved with %d cookies: %s\n", cookies, backend.Session().StatePath())
		return nil
	},
}

// waitForBrowserSession copies the browser's cookies for the backend host
// into the backend session until its liveness probe accepts them. It
// returns the number of cookies copied.
func waitForBrowserSession(ctx context.Context, backend formsession.Backend, debug bool) (int, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	session := backend.Session()
	host := session.BaseURL().Hostname()
	lastURL := session.BaseURL().String()

	for {
		var currentURL string
		if err := chromedp.Run(ctx, chromedp.Location(&currentURL)); err == nil && strings.TrimSpace(currentURL) != "" {
			lastURL = currentURL
		}

		cookies, err := getBrowserCookies(ctx)
		if debug {
			if err != nil {
				fmt.Printf("[auth-debug] url=%s cookie-read-error=%v\n", lastURL, err)
			} else {
				fmt.Printf("[auth-debug] url=%s %s\n", lastURL, summarizeCookieInventory(cookies))
			}
		}
		if stored := browserCookies(cookies, host); err == nil && len(stored) > 0 && onBackendHost(lastURL, host) {
			session.Jar().Import(stored)
			alive, probeErr := backend.Probe(ctx)
			if probeErr != nil {
				log.WithError(probeErr).WithField("backend", backend.Name()).Debug("probe with browser cookies failed")
			}
			if alive {
				return len(stored), nil
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, fmt.Errorf("timed out waiting for a %s session; finish login in the browser and retry (or increase --wait). last URL: %s", backend.Name(), lastURL)
			}
			return 0, fmt.Errorf("waiting for %s login interrupted: %w", backend.Name(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// onBackendHost reports whether the browser is back on the backend after
// any single sign-on detour.
func onBackendHost(rawURL, host string) bool {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Hostname(), host)
}

func getBrowserCookies(ctx context.Context) ([]*network.Cookie, error) {
	chromeCtx := chromedp.FromContext(ctx)
	if chromeCtx == nil || chromeCtx.Browser == nil {
		return nil, errors.New("browser context not available for cookie read")
	}
	browserExecutorCtx := cdp.WithExecutor(ctx, chromeCtx.Browser)
	return storage.GetCookies().Do(browserExecutorCtx)
}

// browserCookies converts the browser cookies sent to host into session
// cookies. A domain without a leading dot marks a host-only cookie.
func browserCookies(cookies []*network.Cookie, host string) []formsession.StoredCookie {
	out := make([]formsession.StoredCookie, 0, len(cookies))
	for _, cookie := range cookies {
		if cookie == nil || cookie.Name == "" {
			continue
		}
		if !formsession.CookieDomainMatches(cookie.Domain, host) {
			continue
		}
		stored := formsession.StoredCookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   strings.TrimPrefix(strings.ToLower(cookie.Domain), "."),
			Path:     cookie.Path,
			HostOnly: !strings.HasPrefix(cookie.Domain, "."),
			Secure:   cookie.Secure,
		}
		if stored.Path == "" {
			stored.Path = "/"
		}
		if expires := float64(cookie.Expires); !cookie.Session && expires > 0 {
			seconds := int64(expires)
			stored.Expires = time.Unix(seconds, int64((expires-float64(seconds))*1e9))
		}
		out = append(out, stored)
	}
	return out
}

func summarizeCookieInventory(cookies []*network.Cookie) string {
	if len(cookies) == 0 {
		return "cookies=0"
	}

	byDomain := make(map[string][]string)
	for _, cookie := range cookies {
		if cookie == nil || strings.TrimSpace(cookie.Name) == "" {
			continue
		}
		domain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cookie.Domain)), ".")
		if domain == "" {
			domain = "<empty-domain>"
		}
		byDomain[domain] = append(byDomain[domain], strings.TrimSpace(cookie.Name))
	}

	domains := make([]string, 0, len(byDomain))
	for domain := range byDomain {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	parts := make([]string, 0, len(domains))
	for _, domain := range domains {
		names := byDomain[domain]
		sort.Strings(names)
		parts = append(parts, fmt.Sprintf("%s=[%s]", domain, strings.Join(slices.Compact(names), ",")))
	}
	return fmt.Sprintf("cookies=%d domains{%s}", len(cookies), strings.Join(parts, "; "))
}

func init() {
	authCmd.AddCommand(authBrowserLoginCmd)

	authBrowserLoginCmd.Flags().StringVar(&browserLoginProfileDir, "profile-dir", "", "Browser profile directory (default: a fresh temporary profile per run)")
	authBrowserLoginCmd.Flags().StringVar(&browserLoginBrowserBin, "browser-bin", "", "Optional browser binary path (Chrome/Chromium)")
	authBrowserLoginCmd.Flags().DurationVar(&browserLoginWait, "wait", 10*time.Minute, "Maximum wait time for a successful browser login")
	authBrowserLoginCmd.Flags().BoolVar(&browserLoginDebugCookies, "debug-cookies", false, "Print cookie names/domains while waiting for login")
}
