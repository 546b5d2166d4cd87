// Package config loads the optional YAML configuration of the jsondb tool.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the content of jsondb.yaml.
type Config struct {
	// DB is the path of the data file.
	DB       string  `yaml:"db"`
	LogLevel string  `yaml:"log_level"`
	History  History `yaml:"history"`
}

// History configures git history of the data file.
type History struct {
	Enabled     bool   `yaml:"enabled"`
	AuthorName  string `yaml:"author_name,omitempty"`
	AuthorEmail string `yaml:"author_email,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DB:       "db.json",
		LogLevel: "info",
		History: History{
			AuthorName:  "jsondb",
			AuthorEmail: "jsondb@localhost",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // User-specified config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DB == "" {
		return errors.New("db is required")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.History.Enabled && (c.History.AuthorName == "" || c.History.AuthorEmail == "") {
		return errors.New("history requires author_name and author_email")
	}
	return nil
}

// ParseLevel converts a log level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
