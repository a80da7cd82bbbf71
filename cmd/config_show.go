package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"punchsync/config"
)

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show active configuration values.",
	Long: `Validate the loaded configuration and print its values with the file they
came from. Environment overrides (PUNCHSYNC_*) are already applied.`,
	Example: `
  # Show active configuration
  punchsync config show
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		fmt.Println("Config file:", viper.ConfigFileUsed())
		for _, line := range describeConfig(cfg) {
			fmt.Println(line)
		}
		return nil
	},
}

func describeConfig(cfg *config.Config) []string {
	lines := []string{
		fmt.Sprintf("mapping_file: %s", cfg.MappingFile),
		fmt.Sprintf("state_dir: %s", cfg.StateDir),
		fmt.Sprintf("timerec.database: %s", cfg.TimeRec.Database),
		fmt.Sprintf("timerec.google_file_id: %s", cfg.TimeRec.GoogleFileID),
		fmt.Sprintf("lunch.min_duration: %s", cfg.Lunch.MinDuration),
		fmt.Sprintf("lunch.account: %s", strings.Join(cfg.Lunch.Account, " / ")),
	}
	for _, name := range cfg.Configured() {
		backend, err := cfg.Backend(name)
		if err != nil {
			continue
		}
		prefix := "backends." + name
		lines = append(lines,
			fmt.Sprintf("%s.url: %s", prefix, backend.URL),
			fmt.Sprintf("%s.username: %s", prefix, backend.Username),
			fmt.Sprintf("%s.insert_lunch: %t", prefix, backend.InsertLunch),
		)
	}
	if flex := cfg.Backends.FlexHRM; flex != nil {
		lines = append(lines,
			fmt.Sprintf("backends.flexhrm.company_column: %d", flex.CompanyColumn),
			fmt.Sprintf("backends.flexhrm.project_column: %d", flex.ProjectColumn),
			fmt.Sprintf("backends.flexhrm.time_code: %s", flex.TimeCode),
		)
	}
	if xl := cfg.Backends.XLedger; xl != nil {
		lines = append(lines, fmt.Sprintf("backends.xledger.device_name: %s", xl.DeviceName))
		if xl.UTCOffset != nil {
			lines = append(lines, fmt.Sprintf("backends.xledger.utc_offset: %d", *xl.UTCOffset))
		}
	}
	return lines
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
