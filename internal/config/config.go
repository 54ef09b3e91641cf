/*
Package config loads the service configuration.

SOURCES (later wins):
  1. Default()
  2. A TOML, YAML or JSON file, chosen by extension
  3. Environment: RB_PORT, RB_DB, RB_LOG_LEVEL
  4. Command-line flags, applied by the cobra commands

SEE ALSO:
  - cmd/server/main.go: Flag overrides
  - internal/logging: Logging section
*/
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/warp/records-billing/internal/logging"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server" toml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database" toml:"database"`
	Billing   BillingConfig   `json:"billing" yaml:"billing" toml:"billing"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler" toml:"scheduler"`
	Logging   logging.Config  `json:"logging" yaml:"logging" toml:"logging"`
}

type ServerConfig struct {
	Port           int      `json:"port" yaml:"port" toml:"port"`
	ReadTimeout    Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout   Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `json:"path" yaml:"path" toml:"path"`
}

type BillingConfig struct {
	Currency     string `json:"currency" yaml:"currency" toml:"currency"`
	RateCardPath string `json:"rate_card" yaml:"rate_card" toml:"rate_card"`

	// StrictResolution aborts a billing run on the first missing or
	// ambiguous rate instead of skipping the item.
	StrictResolution bool `json:"strict_resolution" yaml:"strict_resolution" toml:"strict_resolution"`

	// RoundingPlaces is how many decimal places posted amounts keep.
	RoundingPlaces int32 `json:"rounding_places" yaml:"rounding_places" toml:"rounding_places"`
}

type SchedulerConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	CheckInterval Duration `json:"check_interval" yaml:"check_interval" toml:"check_interval"`
}

// Duration is a time.Duration written as "90s" or "1h" in config files.
type Duration struct {
	time.Duration
}

func (d *Duration) set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }
func (d *Duration) UnmarshalText(b []byte) error { return d.set(string(b)) }

// UnmarshalYAML accepts the scalar form.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.set(node.Value)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %s", b)
	}
	return d.set(s)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    Duration{15 * time.Second},
			WriteTimeout:   Duration{15 * time.Second},
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{Path: "./data/billing.db"},
		Billing: BillingConfig{
			Currency:       "USD",
			RoundingPlaces: 2,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			CheckInterval: Duration{time.Hour},
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error accessing config file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("error parsing TOML file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("error parsing YAML file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("error parsing JSON file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("RB_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RB_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("RB_DB"); ok {
		cfg.Database.Path = v
	}
	if v, ok := lookup("RB_LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Billing.RoundingPlaces < 0 {
		return fmt.Errorf("billing.rounding_places must not be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.CheckInterval.Duration <= 0 {
		return fmt.Errorf("scheduler.check_interval must be positive")
	}
	return nil
}
