package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a configuration file from the example template.",
	Long: `Write the example configuration to the active config path.

An existing file is never overwritten. Edit the mapping_file, timerec and
backends sections afterwards, or run "punchsync config edit".`,
	Example: `
  # Create default config at $HOME/.punchsync.yaml
  punchsync config create

  # Create it next to a project
  punchsync --configFile ./punchsync.yaml config create
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, created, err := createConfigFile()
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Config file created: %s\n", path)
			return nil
		}
		fmt.Printf("Config file already exists: %s\n", path)
		return nil
	},
}

// createConfigFile writes the template unless the active config path exists.
func createConfigFile() (string, bool, error) {
	path, err := configPath(cfgFile, viper.ConfigFileUsed())
	if err != nil {
		return "", false, err
	}
	created, err := writeConfigTemplate(path)
	return path, created, err
}

func init() {
	configCmd.AddCommand(configCreateCmd)
}
