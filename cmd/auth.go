package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"punchsync/formsession"
)

var (
	authBackend string
	authTimeout time.Duration
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage timesheet system sessions.",
	Long: `Log in to a timesheet system, check or drop the saved session.

Sessions are saved per backend under state_dir (default $HOME/.punchsync) and
reused by report and find until the system expires them.

Use "auth browser-login" when a system needs single sign-on that the plain
form login cannot do.`,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the saved session is still logged in.",
	Example: `
  punchsync auth status --backend flexhrm
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := authBackendFromConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), authTimeout)
		defer cancel()
		return authStatus(ctx, backend, os.Stdout)
	},
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and save the session.",
	Long: `Log in with the configured username and the password from
PUNCHSYNC_<BACKEND>_PASSWORD or the terminal, then save the session.
A saved session that is still alive is reused without logging in again.`,
	Example: `
  PUNCHSYNC_MILLNET_PASSWORD=... punchsync auth login --backend millnet
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := authBackendFromConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), authTimeout)
		defer cancel()
		if err := formsession.With(ctx, backend, func(formsession.Backend) error { return nil }); err != nil {
			return err
		}
		fmt.Printf("Logged in to %s. Session saved: %s\n", backend.Name(), backend.Session().StatePath())
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the saved session.",
	Long: `Delete the saved cookies and tokens of a backend. For xledger this also
forgets the paired device, so the next login pairs again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := authBackendFromConfig()
		if err != nil {
			return err
		}
		path := backend.Session().StatePath()
		if err := formsession.RemoveState(path); err != nil {
			return err
		}
		fmt.Printf("Session of %s removed: %s\n", backend.Name(), path)
		return nil
	},
}

func authBackendFromConfig() (formsession.Backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newBackend(cfg, authBackend)
}

func authStatus(ctx context.Context, backend formsession.Backend, out io.Writer) error {
	session := backend.Session()
	state, err := formsession.ReadState(session.StatePath())
	if err != nil {
		return err
	}
	if state.SavedAt.IsZero() {
		fmt.Fprintf(out, "%s: no saved session\n", backend.Name())
		return nil
	}
	if err := session.Load(); err != nil {
		return err
	}

	alive, err := backend.Probe(ctx)
	if err != nil {
		return err
	}
	status := "expired"
	if alive {
		status = "logged in"
	}
	fmt.Fprintf(out, "%s: %s (session saved %s, %d cookies)\n", backend.Name(), status, humanize.Time(state.SavedAt), len(state.Cookies))
	return nil
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authStatusCmd, authLoginCmd, authLogoutCmd)

	authCmd.PersistentFlags().StringVar(&authBackend, "backend", "", "Timesheet system (flexhrm, millnet, xledger)")
	authCmd.PersistentFlags().DurationVar(&authTimeout, "timeout", 2*time.Minute, "Maximum time for login or probe")
	_ = authCmd.MarkPersistentFlagRequired("backend")
}
