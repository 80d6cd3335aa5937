// Package config loads server configuration from a YAML file with
// sensible defaults for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// Port the HTTP server listens on.
	Port int `yaml:"port"`

	// DB is the SQLite database path. ":memory:" is valid.
	DB string `yaml:"db"`

	// Zone is the IANA zone all window math anchors to. Empty means the
	// process-local zone.
	Zone string `yaml:"zone"`

	// Strict rejects unknown cadences and malformed ledger lines instead
	// of the historical lenient defaults.
	Strict bool `yaml:"strict"`

	// Upstream switches persistence to webhook mode when set: items and
	// the ledger are read and written through this base URL instead of
	// SQLite.
	Upstream string `yaml:"upstream"`

	// Origins allowed by CORS. Empty disables the CORS middleware.
	Origins []string `yaml:"origins"`

	// StagingNamespace prefixes the staging KV keys.
	StagingNamespace string `yaml:"staging_namespace"`

	// Seed enables the demo-seed endpoint.
	Seed bool `yaml:"seed"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Port:             8080,
		DB:               "allotments.db",
		Origins:          []string{"http://localhost:5173", "http://localhost:8080"},
		StagingNamespace: "staged-alloc",
		Seed:             true,
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}

// Location resolves the configured zone.
func (c Config) Location() (*time.Location, error) {
	if c.Zone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Zone)
	if err != nil {
		return nil, fmt.Errorf("invalid zone %q: %w", c.Zone, err)
	}
	return loc, nil
}
