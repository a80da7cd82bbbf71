package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the active configuration file.",
	Long: `Delete the configuration file punchsync loaded.

Session state under state_dir is left alone; use "punchsync auth logout" for that.`,
	Example: `
  # Delete active config
  punchsync config delete

  # Delete config at a custom path
  punchsync --configFile ./punchsync.yaml config delete
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.ConfigFileUsed()
		if path == "" {
			return fmt.Errorf("no configuration file loaded")
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("delete configuration file: %w", err)
		}
		fmt.Printf("Config file deleted: %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configDeleteCmd)
}
