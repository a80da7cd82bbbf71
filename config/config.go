package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	KeyMappingFile         = "mapping_file"
	KeyStateDir            = "state_dir"
	KeyTimeRecDatabase     = "timerec.database"
	KeyTimeRecGoogleFileID = "timerec.google_file_id"
	KeyLunchMinDuration    = "lunch.min_duration"
	KeyLunchAccount        = "lunch.account"
)

const DefaultLunchMinDuration = 30 * time.Minute

type Config struct {
	MappingFile string         `mapstructure:"mapping_file" validate:"required"`
	StateDir    string         `mapstructure:"state_dir"`
	TimeRec     TimeRecConfig  `mapstructure:"timerec"`
	Lunch       LunchConfig    `mapstructure:"lunch"`
	Backends    BackendsConfig `mapstructure:"backends"`
}

type TimeRecConfig struct {
	Database     string `mapstructure:"database" validate:"required"`
	GoogleFileID string `mapstructure:"google_file_id"`
}

type LunchConfig struct {
	MinDuration time.Duration `mapstructure:"min_duration" validate:"gt=0"`
	// Account is the punch-clock account (customer, category) of lunch.
	Account []string `mapstructure:"account"`
}

// BackendsConfig holds the configured timesheet systems. A nil entry means
// the backend is not set up.
type BackendsConfig struct {
	FlexHRM *FlexHRMConfig `mapstructure:"flexhrm"`
	Millnet *BackendConfig `mapstructure:"millnet"`
	XLedger *XLedgerConfig `mapstructure:"xledger"`
}

type BackendConfig struct {
	URL         string `mapstructure:"url" validate:"required,url"`
	Username    string `mapstructure:"username" validate:"required"`
	InsertLunch bool   `mapstructure:"insert_lunch"`
}

type FlexHRMConfig struct {
	BackendConfig `mapstructure:",squash"`

	CompanyColumn int    `mapstructure:"company_column" validate:"gte=0"`
	ProjectColumn int    `mapstructure:"project_column" validate:"gte=0"`
	TimeCode      string `mapstructure:"time_code"`
}

type XLedgerConfig struct {
	BackendConfig `mapstructure:",squash"`

	DeviceName string `mapstructure:"device_name"`
	// UTCOffset is minutes of UTC minus local time. Nil uses the local zone.
	UTCOffset  *int   `mapstructure:"utc_offset"`
}

// Backend returns the shared settings of the named backend.
func (c *Config) Backend(name string) (BackendConfig, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "flexhrm":
		if c.Backends.FlexHRM != nil {
			return c.Backends.FlexHRM.BackendConfig, nil
		}
	case "millnet":
		if c.Backends.Millnet != nil {
			return *c.Backends.Millnet, nil
		}
	case "xledger":
		if c.Backends.XLedger != nil {
			return c.Backends.XLedger.BackendConfig, nil
		}
	default:
		return BackendConfig{}, fmt.Errorf("unknown backend %q (valid: %s)", name, strings.Join(BackendNames(), ", "))
	}
	return BackendConfig{}, fmt.Errorf("backend %q is not configured: add backends.%s to the config file", name, strings.ToLower(name))
}

// Configured lists the names of the backends present in the config.
func (c *Config) Configured() []string {
	names := make([]string, 0, 3)
	if c.Backends.FlexHRM != nil {
		names = append(names, "flexhrm")
	}
	if c.Backends.Millnet != nil {
		names = append(names, "millnet")
	}
	if c.Backends.XLedger != nil {
		names = append(names, "xledger")
	}
	return names
}

func BackendNames() []string {
	return []string{"flexhrm", "millnet", "xledger"}
}

// SetDefaults sets default values if not provided
func SetDefaults() {
	setDefaults(viper.GetViper())
}

// LoadAndValidate loads config from Viper and validates it
func LoadAndValidate() (*Config, error) {
	return loadAndValidateFromViper(viper.GetViper())
}

// ValidateYAMLContent validates configuration from raw YAML content.
func ValidateYAMLContent(content []byte) (*Config, error) {
	local := viper.New()
	setDefaults(local)
	local.SetConfigType("yaml")
	if err := local.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("read config content: %w", err)
	}
	return loadAndValidateFromViper(local)
}

// ExampleYAML returns the default configuration template.
func ExampleYAML() string {
	return `# punchsync configuration
mapping_file: "~/punchsync/mapping.xlsx"

# state_dir: "~/.punchsync"

timerec:
  database: "~/punchsync/timerec.db"
  google_file_id: ""

lunch:
  min_duration: 30m
  account: ["Internal", "Lunch"]

backends:
  flexhrm:
    url: "https://flexhrm.example.com"
    username: "jane.doe"
    insert_lunch: true
    company_column: 4
    project_column: 5
    time_code: "Normal"

  # millnet:
  #   url: "https://millnet.example.com"
  #   username: "jane.doe"
  #   insert_lunch: false

  # xledger:
  #   url: "https://www.xledger.net"
  #   username: "jane.doe@example.com"
  #   device_name: "punchsync"
  #   utc_offset: -60
`
}

func loadAndValidateFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := validateLunch(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyLunchMinDuration, DefaultLunchMinDuration)
}

func validateLunch(cfg *Config) error {
	insertLunch := false
	for _, name := range cfg.Configured() {
		backend, err := cfg.Backend(name)
		if err != nil {
			return err
		}
		insertLunch = insertLunch || backend.InsertLunch
	}
	if !insertLunch {
		return nil
	}
	if len(cfg.Lunch.Account) == 0 {
		return fmt.Errorf("validation failed: lunch.account is required when a backend sets insert_lunch")
	}
	for i, field := range cfg.Lunch.Account {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("validation failed: lunch.account[%d] is empty", i)
		}
	}
	return nil
}

// ExpandHome resolves a leading ~ in path against the user's home directory.
func ExpandHome(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
