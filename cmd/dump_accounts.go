package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"punchsync/config"
	"punchsync/mapping"
	"punchsync/output"
)

var dumpAccountsSystem string

var dumpAccountsCmd = &cobra.Command{
	Use:   "dump-accounts",
	Short: "Print the accounts of every system in the mapping table.",
	Long: `Load the mapping table and print one line per row and system. Rows that leave
a system blank show "-", which means the time is not reported there.`,
	Example: `
  # Every system
  punchsync dump-accounts

  # Only the punch-clock side
  punchsync dump-accounts --system timerec
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err := configuredPath(config.KeyMappingFile, cfg.MappingFile)
		if err != nil {
			return err
		}
		table, err := mapping.LoadFile(path)
		if err != nil {
			return err
		}
		return dumpAccounts(table, dumpAccountsSystem, os.Stdout)
	},
}

func dumpAccounts(table *mapping.Table, only string, out io.Writer) error {
	systems := table.Systems()
	if only != "" {
		if !table.HasSystem(only) {
			return fmt.Errorf("mapping table has no system %q (systems: %s)", only, strings.Join(systems, ", "))
		}
		systems = []string{only}
	}

	report := output.Report{Headers: []string{"System", "Row", "Account"}}
	for _, system := range systems {
		accounts, err := table.Accounts(system)
		if err != nil {
			return err
		}
		for i, account := range accounts {
			label := "-"
			if !account.IsZero() {
				label = strings.Join(account.Fields(), " / ")
			}
			report.Rows = append(report.Rows, []string{system, fmt.Sprint(i + 2), label})
		}
	}
	fmt.Fprintf(out, "%d rows, systems: %s\n", table.Len(), strings.Join(table.Systems(), ", "))
	return output.Print(out, report)
}

func init() {
	rootCmd.AddCommand(dumpAccountsCmd)

	dumpAccountsCmd.Flags().StringVar(&dumpAccountsSystem, "system", "", "Only print this system")
}
