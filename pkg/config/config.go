// Package config loads the presenced configuration file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the complete presenced configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Presence PresenceConfig `yaml:"presence"`
	Authz    AuthzConfig    `yaml:"authz"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// DatabaseConfig configures the database connection.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	SigningKey string `yaml:"signing_key"`
}

// PresenceConfig configures liveness thresholds and the sweep schedule.
type PresenceConfig struct {
	ActiveWindow  Duration `yaml:"active_window"`
	Retention     Duration `yaml:"retention"`
	SweepSchedule string   `yaml:"sweep_schedule"`
}

// AuthzConfig configures the permission cache.
type AuthzConfig struct {
	CacheTTL Duration `yaml:"cache_ttl"`
}

// Load reads configuration from a file. The path comes from command line
// arguments, controlled by the administrator.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Presence.ActiveWindow == 0 {
		cfg.Presence.ActiveWindow = Duration(5 * time.Minute)
	}
	if cfg.Presence.Retention == 0 {
		cfg.Presence.Retention = Duration(24 * time.Hour)
	}
	if cfg.Presence.SweepSchedule == "" {
		cfg.Presence.SweepSchedule = "@every 6h"
	}
	if cfg.Authz.CacheTTL == 0 {
		cfg.Authz.CacheTTL = Duration(5 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	if c.Auth.SigningKey == "" {
		errs = append(errs, "auth.signing_key is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
