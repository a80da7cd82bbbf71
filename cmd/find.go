package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"punchsync/formsession"
)

var (
	findBackend string
	findKind    string
	findTimeout time.Duration
)

var findCmd = &cobra.Command{
	Use:   "find TERM",
	Short: "Look up identifiers in a timesheet system.",
	Long: `Log in to a timesheet system and list the candidates whose name contains TERM,
one "id<TAB>label" line each. Use it to fill the backend columns of the mapping
table.

Lookup kinds per backend:
- flexhrm: company, project, timecode
- millnet: project, activity
- xledger: project, activity`,
	Example: `
  # Find Millnet projects containing "acme"
  punchsync find --backend millnet --kind project acme

  # List FlexHRM time codes
  punchsync find --backend flexhrm --kind timecode ""
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		backend, err := newBackend(cfg, findBackend)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), findTimeout)
		defer cancel()
		return runFind(ctx, backend, findKind, args[0], os.Stdout)
	},
}

func runFind(ctx context.Context, backend formsession.Backend, kind, term string, out io.Writer) error {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if !slices.Contains(backend.LookupKinds(), kind) {
		return fmt.Errorf("%s has no lookup kind %q (valid: %s)", backend.Name(), kind, strings.Join(backend.LookupKinds(), ", "))
	}

	return formsession.With(ctx, backend, func(backend formsession.Backend) error {
		matches, err := backend.Lookup(ctx, kind, term)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return fmt.Errorf("no %s matches %q", kind, term)
		}
		for _, match := range matches {
			fmt.Fprintf(out, "%s\t%s\n", match.ID, match.Label)
		}
		return nil
	})
}

func init() {
	rootCmd.AddCommand(findCmd)

	findCmd.Flags().StringVar(&findBackend, "backend", "", "Timesheet system to search (flexhrm, millnet, xledger)")
	findCmd.Flags().StringVar(&findKind, "kind", "project", "What to look up; see the list above")
	findCmd.Flags().DurationVar(&findTimeout, "timeout", 2*time.Minute, "Maximum time for login and lookup")
	_ = findCmd.MarkFlagRequired("backend")
}
