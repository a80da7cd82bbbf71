package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"punchsync/config"
)

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the active config in an editor.",
	Long: `Open the punchsync config file in $VISUAL, $EDITOR or vi, in that order.

A missing config is created from the example template first. The file is
validated after the editor exits; the mapping table itself is not opened.`,
	Example: `
  # Edit active config
  punchsync config edit

  # Use a specific editor once
  EDITOR="code --wait" punchsync config edit
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, created, err := createConfigFile()
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Created example config: %s\n", path)
		}

		editor, err := editorCommand(editorValue(os.Getenv("VISUAL"), os.Getenv("EDITOR")), path)
		if err != nil {
			return err
		}
		editor.Stdin = os.Stdin
		editor.Stdout = os.Stdout
		editor.Stderr = os.Stderr
		if err := editor.Run(); err != nil {
			return fmt.Errorf("run editor: %w", err)
		}

		cfg, err := validateConfigFile(path)
		if err != nil {
			return err
		}
		fmt.Printf("Config saved and valid: %s (backends: %s)\n", path, strings.Join(cfg.Configured(), ", "))
		return nil
	},
}

// configPath picks the file config commands work on: the flag, then the
// file viper loaded, then $HOME/.punchsync.yaml.
func configPath(flagValue, loaded string) (string, error) {
	for _, candidate := range []string{flagValue, loaded} {
		if strings.TrimSpace(candidate) != "" {
			return candidate, nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".punchsync.yaml"), nil
}

// writeConfigTemplate creates path with the example config and reports
// whether it did.
func writeConfigTemplate(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("check config file: %w", err)
	}
	if err := ensureParentDir(path, 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, []byte(config.ExampleYAML()), 0o600); err != nil {
		return false, fmt.Errorf("write example config: %w", err)
	}
	return true, nil
}

func validateConfigFile(path string) (*config.Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.ValidateYAMLContent(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func editorValue(visual, editor string) string {
	for _, candidate := range []string{visual, editor} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return "vi"
}

func editorCommand(value, path string) (*exec.Cmd, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil, fmt.Errorf("editor command is empty")
	}
	return exec.Command(fields[0], append(fields[1:], path)...), nil
}

func init() {
	configCmd.AddCommand(configEditCmd)
}
