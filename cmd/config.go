package cmd

import "github.com/spf13/cobra"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the punchsync configuration file.",
	Long: `Create, edit, display and delete the punchsync configuration file.

The configuration names the mapping table, the punch-clock snapshot, lunch
handling and the timesheet systems to report to:
- mapping_file
- timerec.database / timerec.google_file_id
- lunch.min_duration / lunch.account
- backends.flexhrm / backends.millnet / backends.xledger

Passwords are never stored here. They are read from PUNCHSYNC_<BACKEND>_PASSWORD
or asked for on the terminal.`,
	Example: `
  # Create default config in $HOME/.punchsync.yaml
  punchsync config create

  # Show active config and source file
  punchsync config show

  # Open active config in editor (creates example if missing)
  punchsync config edit

  # Delete active config file
  punchsync config delete
`,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
