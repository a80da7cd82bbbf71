package formsession

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// State is what a session persists between runs.
type State struct {
	Backend string            `json:"backend"`
	BaseURL string            `json:"base_url"`
	Token   string            `json:"token,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
	Cookies []StoredCookie    `json:"cookies"`
	SavedAt time.Time         `json:"saved_at"`
}

// DefaultStateDir is where session state lives unless configured otherwise.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".punchsync"), nil
}

// StatePath returns the state file of backend inside dir.
func StatePath(dir, backend string) string {
	return filepath.Join(dir, strings.ToLower(strings.TrimSpace(backend))+"-session.json")
}

// ReadState loads a state file. A missing file yields an empty state and
// no error.
func ReadState(path string) (State, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read session state: %w", err)
	}

	var state State
	if err := json.Unmarshal(content, &state); err != nil {
		return State{}, fmt.Errorf("decode session state %s: %w", path, err)
	}
	return state, nil
}

// WriteState replaces the state file atomically. It holds credentials, so
// it is only readable by the owner.
func WriteState(path string, state State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	content, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if _, err := tmp.Write(append(content, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace session state: %w", err)
	}
	return nil
}

// RemoveState deletes a state file. Removing a missing file is not an error.
func RemoveState(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session state: %w", err)
	}
	return nil
}

// CookieDomainMatches reports whether a cookie stored for cookieDomain is
// sent to targetHost.
func CookieDomainMatches(cookieDomain, targetHost string) bool {
	domain := normalizeHost(cookieDomain)
	host := normalizeHost(targetHost)
	if domain == "" || host == "" {
		return false
	}
	return domain == host || strings.HasSuffix(host, "."+domain)
}

func normalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	value = strings.TrimPrefix(value, "https://")
	value = strings.TrimPrefix(value, "http://")
	value = strings.TrimPrefix(value, ".")
	value = strings.TrimSuffix(value, "/")
	return value
}
