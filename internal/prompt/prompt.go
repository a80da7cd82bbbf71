package prompt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"punchsync/formsession"
)

// ErrNoTerminal is returned when a secret is neither in the environment nor
// can be asked for interactively.
var ErrNoTerminal = errors.New("stdin is not a terminal")

var (
	getenv       = os.Getenv
	stdinFD      = int(os.Stdin.Fd())
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
	output       = io.Writer(os.Stderr)
)

// EnvKey returns the environment variable consulted for a backend secret,
// for example PUNCHSYNC_FLEXHRM_PASSWORD.
func EnvKey(backend, secret string) string {
	return "PUNCHSYNC_" + strings.ToUpper(backend) + "_" + strings.ToUpper(secret)
}

// Secret reads envKey, falling back to an echo-free terminal prompt. The
// answer is cached for the rest of the process.
func Secret(envKey, label string) formsession.PasswordFunc {
	return formsession.CachePassword(func() (string, error) {
		if value := getenv(envKey); value != "" {
			return value, nil
		}
		if !isTerminal(stdinFD) {
			return "", fmt.Errorf("%s: set %s: %w", label, envKey, ErrNoTerminal)
		}
		fmt.Fprintf(output, "%s: ", label)
		raw, err := readPassword(stdinFD)
		fmt.Fprintln(output)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", label, err)
		}
		return strings.TrimSpace(string(raw)), nil
	})
}

// Password is Secret for a backend login password.
func Password(backend, username string) formsession.PasswordFunc {
	return Secret(EnvKey(backend, "password"), fmt.Sprintf("%s password for %s", backend, username))
}
