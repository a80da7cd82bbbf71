package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestCreateConfigFileWritesExample(t *testing.T) {
	t.Cleanup(func() {
		cfgFile = ""
		viper.Reset()
	})

	path := filepath.Join(t.TempDir(), "punchsync.yaml")
	cfgFile = path
	viper.Reset()

	got, created, err := createConfigFile()
	if err != nil {
		t.Fatalf("unexpected error creating config: %v", err)
	}
	if !created || got != path {
		t.Fatalf("expected %q to be created, got %q created=%t", path, got, created)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "# punchsync configuration") {
		t.Fatalf("expected example header, got:\n%s", text)
	}
	if !strings.Contains(text, "flexhrm:") || !strings.Contains(text, "mapping_file:") {
		t.Fatalf("expected backend and mapping examples, got:\n%s", text)
	}
	if _, err := validateConfigFile(path); err != nil {
		t.Fatalf("expected example config to validate: %v", err)
	}
}

func TestCreateConfigFileKeepsExistingFile(t *testing.T) {
	t.Cleanup(func() {
		cfgFile = ""
		viper.Reset()
	})

	path := filepath.Join(t.TempDir(), "existing.yaml")
	original := "mapping_file: mine.csv\ntimerec:\n  database: mine.db\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatalf("failed writing initial config: %v", err)
	}
	cfgFile = path
	viper.Reset()

	_, created, err := createConfigFile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("did not expect existing config to be recreated")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed reading config: %v", err)
	}
	if string(content) != original {
		t.Fatalf("expected existing config to remain unchanged")
	}
}

func TestDescribeConfigListsBackends(t *testing.T) {
	cfg, err := validateConfigFile(writeTempConfig(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := strings.Join(describeConfig(cfg), "\n")
	for _, want := range []string{
		"backends.flexhrm.url: https://flexhrm.example.com",
		"backends.flexhrm.company_column: 4",
		"lunch.min_duration: 30m0s",
		"lunch.account: Internal / Lunch",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in:\n%s", want, text)
		}
	}
	if strings.Contains(text, "backends.millnet") {
		t.Fatalf("did not expect unconfigured millnet in:\n%s", text)
	}
}

func writeTempConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "punchsync.yaml")
	if _, err := writeConfigTemplate(path); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}
