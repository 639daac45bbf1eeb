// Package tables provides destination table profiles for the ingestion pipeline.
//
// A profile binds a destination table name to the schema message describing
// its records and the sink topic the records are written to. Built-in
// profiles cover the standard tables; a YAML file can override them or add
// new tables without a rebuild.
package tables

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lakefeed-io/lakefeed/internal/config"
	"github.com/lakefeed-io/lakefeed/internal/schema"
)

// DefaultConfigPath is the default location for the table profile file.
const DefaultConfigPath = ".lakefeed.yaml"

// ConfigPathEnvVar is the environment variable name for a custom config path.
const ConfigPathEnvVar = "LAKEFEED_TABLES_CONFIG_PATH"

// ErrUnknownTable is returned when no profile exists for a table name.
var ErrUnknownTable = errors.New("no profile for table")

type (
	// Profile describes one destination table.
	Profile struct {
		// Message is the schema message name describing the table's records.
		Message string `yaml:"message"`

		// Topic is the sink topic records are written to. Defaults to the
		// table name.
		Topic string `yaml:"topic"`
	}

	// Config holds table profiles loaded from .lakefeed.yaml, merged over the
	// built-in defaults.
	Config struct {
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		Tables map[string]Profile `yaml:"tables"`
	}
)

// defaults are the built-in profiles for the standard tables.
func defaults() map[string]Profile {
	return map[string]Profile{
		"queue_messages": {
			Message: schema.MessageQueueMessages,
			Topic:   "queue_messages",
		},
		"raw_invocations": {
			Message: schema.MessageRawInvocations,
			Topic:   "raw_invocations",
		},
	}
}

// LoadConfig loads table profiles from a YAML file at the given path.
//
// Behavior:
//   - Returns the built-in profiles (not an error) if the file doesn't exist
//   - Returns built-in profiles + logs a warning on unreadable or invalid YAML
//   - Merges file profiles over the built-ins on success
//
// This graceful degradation keeps the standard tables usable even without a
// profile file; the file only matters for overrides and custom tables.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Tables: defaults()}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Table profile file not found, using built-in profiles",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read table profile file, using built-in profiles",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		slog.Warn("Failed to parse table profile file, using built-in profiles",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	for name, profile := range loaded.Tables {
		merged := cfg.Tables[name]

		if profile.Message != "" {
			merged.Message = profile.Message
		}

		if profile.Topic != "" {
			merged.Topic = profile.Topic
		}

		cfg.Tables[name] = merged
	}

	return cfg, nil
}

// LoadConfigFromEnv loads profiles from the path in LAKEFEED_TABLES_CONFIG_PATH,
// falling back to ".lakefeed.yaml" in the current directory.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}

// Profile returns the profile for a table. A profile loaded without a topic
// falls back to the table name.
func (c *Config) Profile(table string) (Profile, error) {
	profile, ok := c.Tables[table]
	if !ok {
		return Profile{}, ErrUnknownTable
	}

	if profile.Topic == "" {
		profile.Topic = table
	}

	return profile, nil
}
