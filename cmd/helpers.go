package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"punchsync/config"
	"punchsync/flexhrm"
	"punchsync/formsession"
	"punchsync/internal/prompt"
	"punchsync/millnet"
	"punchsync/xledger"
)

func loadConfig() (*config.Config, error) {
	if strings.TrimSpace(viper.ConfigFileUsed()) == "" {
		return nil, errors.New("no config file loaded; create one with: punchsync config create")
	}
	cfg, err := config.LoadAndValidate()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// configuredPath expands a path from the config file.
func configuredPath(key, value string) (string, error) {
	path, err := config.ExpandHome(value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	if path == "" {
		return "", fmt.Errorf("%s is not set", key)
	}
	return path, nil
}

func resolveStateDir(cfg *config.Config) (string, error) {
	if strings.TrimSpace(cfg.StateDir) != "" {
		return configuredPath(config.KeyStateDir, cfg.StateDir)
	}
	return formsession.DefaultStateDir()
}

func resolveStatePath(cfg *config.Config, backend string) (string, error) {
	dir, err := resolveStateDir(cfg)
	if err != nil {
		return "", err
	}
	return formsession.StatePath(dir, backend), nil
}

// resolveProfileDir returns the browser profile for browser-login. Without
// an explicit directory a temporary one is created that the caller removes.
func resolveProfileDir(explicitDir string) (string, bool, error) {
	if strings.TrimSpace(explicitDir) != "" {
		return explicitDir, false, nil
	}
	base, err := formsession.DefaultStateDir()
	if err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(base, 0o700); err != nil {
		return "", false, fmt.Errorf("create directory %q: %w", base, err)
	}
	profileDir, err := os.MkdirTemp(base, "chrome-profile-*")
	if err != nil {
		return "", false, fmt.Errorf("create temporary profile dir: %w", err)
	}
	return profileDir, true, nil
}

func ensureParentDir(path string, mode os.FileMode) error {
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, mode); err != nil {
		return fmt.Errorf("create directory %q: %w", parent, err)
	}
	return nil
}

// newBackend builds the named backend from its config section. Secrets come
// from the environment or the terminal, never from the config file.
func newBackend(cfg *config.Config, name string) (formsession.Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	shared, err := cfg.Backend(name)
	if err != nil {
		return nil, err
	}
	statePath, err := resolveStatePath(cfg, name)
	if err != nil {
		return nil, err
	}
	password := prompt.Password(name, shared.Username)

	switch name {
	case flexhrm.Name:
		flex := cfg.Backends.FlexHRM
		return flexhrm.New(flexhrm.Config{
			BaseURL:       shared.URL,
			Username:      shared.Username,
			Password:      password,
			StatePath:     statePath,
			TimeCode:      flex.TimeCode,
			CompanyColumn: flex.CompanyColumn,
			ProjectColumn: flex.ProjectColumn,
		})
	case millnet.Name:
		return millnet.New(millnet.Config{
			BaseURL:   shared.URL,
			Username:  shared.Username,
			Password:  password,
			StatePath: statePath,
		})
	case xledger.Name:
		xl := cfg.Backends.XLedger
		return xledger.New(xledger.Config{
			BaseURL:        shared.URL,
			Username:       shared.Username,
			Password:       password,
			DevicePassword: prompt.Secret(prompt.EnvKey(name, "device_password"), "xledger device password"),
			SecurityCode:   prompt.Secret(prompt.EnvKey(name, "security_code"), "xledger security code (sent by e-mail)"),
			DeviceName:     xl.DeviceName,
			UTCOffset:      xl.UTCOffset,
			StatePath:      statePath,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// withTimeout bounds ctx by d; zero or less leaves it unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
