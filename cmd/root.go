/*
Copyright © 2025 riad@rsworld.eu

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"punchsync/config"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "punchsync",
	Short: "Report punch-clock time to form-driven timesheet systems.",
	Long: `
**********************************************
*                PUNCHSYNC                   *
**********************************************

This CLI reads punch-clock stamps from a TimeRecording SQLite snapshot, maps each
punch-clock account to the vocabulary of a timesheet system through a mapping table,
optionally inserts a lunch break and submits the result day by day.

Supported timesheet systems:
- flexhrm: one row per time span
- millnet: one daily total per project and activity
- xledger: one daily total per project and activity
`,
	Example: `
  # Create configuration file
  punchsync config create

  # Download the latest punch-clock snapshot
  punchsync fetch

  # Preview March 2026 for FlexHRM without submitting
  punchsync report 2603 --backend flexhrm --dry-run

  # Submit one week, inserting lunch breaks
  punchsync report 260302-260306 --backend millnet --lunch on

  # Look up a project id
  punchsync find --backend millnet --kind project Acme
`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	config.SetDefaults()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "configFile", "", "Config file override (default discovery: $HOME/.punchsync.yaml, then ./.punchsync.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log protocol details (HTTP requests, token rotation, lookups)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".punchsync")
	}

	viper.SetEnvPrefix("PUNCHSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "No config file found. Create one first with: punchsync config create")
	}
}
