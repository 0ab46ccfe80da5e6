// Package config loads covkit configuration from a YAML file and COVKIT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/blackwell-systems/covkit/internal/retry"
)

// FileName is the config file name inside Dir.
const FileName = "covkit.yaml"

// Config is the covkit configuration.
type Config struct {
	Backup  BackupConfig  `yaml:"backup" env:"COVKIT_BACKUP"`
	Hits    HitsConfig    `yaml:"hits" env:"COVKIT_HITS"`
	Scanner ScannerConfig `yaml:"scanner" env:"COVKIT_SCANNER"`
	Ledger  LedgerConfig  `yaml:"ledger" env:"COVKIT_LEDGER"`
	Log     LogConfig     `yaml:"log" env:"COVKIT_LOG"`
}

// BackupConfig configures module backups.
type BackupConfig struct {
	// Dir holds backup copies. Defaults to the system temporary directory.
	Dir   string       `yaml:"dir" env:"DIR"`
	Retry retry.Policy `yaml:"retry" env:"RETRY"`
}

// HitsConfig configures hits log access.
type HitsConfig struct {
	Retry retry.Policy `yaml:"retry" env:"RETRY"`
}

// ScannerConfig configures dependency discovery.
type ScannerConfig struct {
	Extensions []string `yaml:"extensions" env:"EXTENSIONS"`
}

// LedgerConfig configures the SQLite ledger. An empty Path disables it.
type LedgerConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backup:  BackupConfig{Dir: os.TempDir(), Retry: retry.DefaultPolicy()},
		Hits:    HitsConfig{Retry: retry.DefaultPolicy()},
		Scanner: ScannerConfig{Extensions: []string{".dll"}},
		Ledger:  LedgerConfig{Path: DefaultLedgerPath()},
		Log:     LogConfig{Level: "info"},
	}
}

// Dir returns the covkit config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/covkit if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "covkit"), nil
}

// DefaultLedgerPath returns ~/.covkit/covkit.db, or covkit.db in the working
// directory if the home directory is unknown.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "covkit.db"
	}
	return filepath.Join(home, ".covkit", "covkit.db")
}

// Load reads the config file at path, applies environment overrides and
// validates the result. With an empty path, covkit.yaml in Dir is used and a
// missing file is not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		dir, err := Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate config directory: %w", err)
		}
		path = filepath.Join(dir, FileName)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the components cannot use.
func (c *Config) Validate() error {
	if err := c.Backup.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid backup.retry: %w", err)
	}
	if err := c.Hits.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid hits.retry: %w", err)
	}
	if len(c.Scanner.Extensions) == 0 {
		return errors.New("invalid scanner.extensions: at least one extension is required")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	return nil
}
