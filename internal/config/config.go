// Package config loads and watches the client configuration: data and
// mount directories, the daemon endpoint, and logging options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// Config is the full configuration document.
type Config struct {
	// DataDir holds the accounts database and logs.
	DataDir string `toml:"data_dir"`

	// MountDir is the root under which repos are mounted.
	MountDir string `toml:"mount_dir"`

	// DaemonURL is the sync daemon's local RPC endpoint.
	DaemonURL string `toml:"daemon_url"`

	// ComputerName is announced to servers and the daemon.
	ComputerName string `toml:"computer_name"`

	Logging LoggingConfig `toml:"logging"`
}

// LoggingConfig controls log verbosity and output format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Defaults.
const (
	defaultDaemonURL = "ws://127.0.0.1:9527/rpc"
	defaultLogLevel  = "info"
	defaultLogFormat = "auto"
	defaultMountName = "SeaDrive"
)

// DefaultConfig returns a Config populated with all default values. It
// is both the starting point for TOML decoding (unset fields keep their
// defaults) and the fallback when no config file exists.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()

	mountDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		mountDir = filepath.Join(home, defaultMountName)
	}

	return &Config{
		DataDir:      DefaultDataDir(),
		MountDir:     mountDir,
		DaemonURL:    defaultDaemonURL,
		ComputerName: hostname,
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"auto", "text", "json"}
)

// Validate checks the configuration for values that would misbehave
// later. Strict up-front validation beats a config typo surfacing as a
// confusing runtime failure.
func Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}

	if cfg.DaemonURL == "" {
		return fmt.Errorf("config: daemon_url must not be empty")
	}

	if !slices.Contains(validLevels, cfg.Logging.Level) {
		return fmt.Errorf("config: invalid logging.level %q (one of %v)",
			cfg.Logging.Level, validLevels)
	}

	if !slices.Contains(validFormats, cfg.Logging.Format) {
		return fmt.Errorf("config: invalid logging.format %q (one of %v)",
			cfg.Logging.Format, validFormats)
	}

	return nil
}
