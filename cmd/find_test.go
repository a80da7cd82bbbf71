package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"punchsync/formsession"
)

func TestRunFindPrintsMatches(t *testing.T) {
	backend := newFakeBackend(t)
	var out bytes.Buffer

	if err := runFind(context.Background(), backend, " Project ", "Acme", &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "1\tAcme\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if backend.probes != 1 {
		t.Fatalf("expected one liveness probe, got %d", backend.probes)
	}
}

func TestRunFindRejectsUnknownKind(t *testing.T) {
	backend := newFakeBackend(t)

	err := runFind(context.Background(), backend, "customer", "Acme", &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "valid: project") {
		t.Fatalf("expected kind error listing valid kinds, got %v", err)
	}
	if backend.probes != 0 {
		t.Fatalf("did not expect a login for an invalid kind")
	}
}

func TestDumpAccounts(t *testing.T) {
	var out bytes.Buffer
	if err := dumpAccounts(testTable(t), "millnet", &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := out.String()
	if !strings.HasPrefix(text, "3 rows, systems: timerec, millnet\n") {
		t.Fatalf("unexpected header line:\n%s", text)
	}
	if !strings.Contains(text, "millnet  2    Acme / Development") {
		t.Fatalf("expected first millnet account:\n%s", text)
	}
	if !strings.Contains(text, "millnet  4    -") {
		t.Fatalf("expected blank account marker:\n%s", text)
	}
	if strings.Contains(text, "timerec  2") {
		t.Fatalf("did not expect timerec rows:\n%s", text)
	}

	if err := dumpAccounts(testTable(t), "xledger", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for a system without columns")
	}
}

func TestAuthStatus(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "millnet-session.json")
	backend := newFakeBackendWithState(t, statePath)

	var out bytes.Buffer
	if err := authStatus(context.Background(), backend, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "millnet: no saved session\n" {
		t.Fatalf("unexpected output %q", out.String())
	}

	err := formsession.WriteState(statePath, formsession.State{
		Backend: "millnet",
		BaseURL: "https://millnet.example.com",
		Cookies: []formsession.StoredCookie{{Name: "mt", Value: "ok", Domain: "millnet.example.com", Path: "/"}},
		SavedAt: time.Now().Add(-3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("write state: %v", err)
	}
	out.Reset()
	if err := authStatus(context.Background(), backend, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "millnet: logged in (session saved 3 hours ago, 1 cookies)\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}
