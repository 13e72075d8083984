// Package config handles waypost configuration.
//
// Configuration is layered: compiled-in defaults, then an optional YAML
// file, then WAYPOST_* environment variable overrides. The environment
// always wins, matching how the host deployment tooling injects settings.
//
// Environment variables:
//   - WAYPOST_DATA_DIR          base directory for all persistent state
//   - WAYPOST_DOCUMENT_FILE     canonical document file name
//   - WAYPOST_DEFAULT_PRICE     fare for records created without a price
//   - WAYPOST_DEBOUNCE          watcher debounce window (e.g. "150ms")
//   - WAYPOST_JOURNAL_ENABLED   enable the badger mutation journal
//   - WAYPOST_LOG_LEVEL         debug|info|warn|error
//
// Example Usage:
//
//	cfg, err := config.LoadFile("waypost.yaml")
//	if err != nil { ... }
//	cfg.ApplyEnv()
//	if err := cfg.Validate(); err != nil { ... }
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "150ms" parse.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string ("150ms") or a plain
// integer nanosecond count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: invalid duration: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// Config holds all waypost settings.
type Config struct {
	// DataDir is the base directory for the canonical document, its
	// backup and the journal.
	DataDir string `yaml:"data_dir"`

	// DocumentFile is the canonical document file name inside DataDir.
	DocumentFile string `yaml:"document_file"`

	// DefaultPrice is the fare applied to records created without an
	// explicit price.
	DefaultPrice int `yaml:"default_price"`

	// Debounce is the minimum interval between watcher reconcile passes.
	Debounce Duration `yaml:"debounce"`

	Journal JournalConfig `yaml:"journal"`
	Logging LoggingConfig `yaml:"logging"`
}

// JournalConfig configures the mutation journal.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir overrides the journal directory. Empty means DataDir/journal.
	Dir string `yaml:"dir"`

	SyncWrites bool `yaml:"sync_writes"`
}

// LoggingConfig configures the zap logger built by the CLI.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		DataDir:      "./data",
		DocumentFile: "cities.json",
		DefaultPrice: 200,
		Debounce:     Duration(150 * time.Millisecond),
		Journal: JournalConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFile reads a YAML config file over the defaults. A missing file is
// not an error; the defaults are returned unchanged.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays WAYPOST_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("WAYPOST_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("WAYPOST_DOCUMENT_FILE"); v != "" {
		c.DocumentFile = v
	}
	if v := os.Getenv("WAYPOST_DEFAULT_PRICE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultPrice = n
		}
	}
	if v := os.Getenv("WAYPOST_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Debounce = Duration(d)
		}
	}
	if v := os.Getenv("WAYPOST_JOURNAL_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Journal.Enabled = b
		}
	}
	if v := os.Getenv("WAYPOST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if c.DocumentFile == "" {
		return fmt.Errorf("config: document_file must not be empty")
	}
	if filepath.Base(c.DocumentFile) != c.DocumentFile {
		return fmt.Errorf("config: document_file must be a bare file name, got %q", c.DocumentFile)
	}
	if c.DefaultPrice < 0 {
		return fmt.Errorf("config: default_price must not be negative, got %d", c.DefaultPrice)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("config: debounce must not be negative, got %s", c.Debounce)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	return nil
}

// DocumentPath returns the full path of the canonical document.
func (c *Config) DocumentPath() string {
	return filepath.Join(c.DataDir, c.DocumentFile)
}

// JournalDir returns the journal directory, defaulting to DataDir/journal.
func (c *Config) JournalDir() string {
	if c.Journal.Dir != "" {
		return c.Journal.Dir
	}
	return filepath.Join(c.DataDir, "journal")
}
