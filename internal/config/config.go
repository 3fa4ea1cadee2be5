// Package config resolves client configuration from flags, environment and
// an optional config file, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultBaseURL points at a local deployment of the knowledge-chat service.
const DefaultBaseURL = "http://127.0.0.1:8002/api/v1"

// Config is the resolved client configuration.
type Config struct {
	// BaseURL is the service root; a trailing slash is stripped on load.
	BaseURL string `mapstructure:"base_url"`
	// SessionPageSize bounds the single-page session list fetch.
	SessionPageSize int `mapstructure:"session_page_size"`
	// Debug keeps log output on stderr instead of the state-dir log file.
	Debug bool `mapstructure:"debug"`
	// StateDir holds the log file; defaults to ~/.ragcli.
	StateDir string `mapstructure:"state_dir"`
}

// Load reads configuration. flagBaseURL, when non-empty, wins over the
// RAGCLI_BASE_URL environment variable and the config file.
func Load(flagBaseURL string, debug bool) (*Config, error) {
	v := viper.New()
	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("session_page_size", 50)
	v.SetDefault("debug", false)
	v.SetDefault("state_dir", "")

	v.SetEnvPrefix("RAGCLI")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("ragcli")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "ragcli"))
	}
	if err := v.ReadInConfig(); err != nil {
		// The config file is optional; anything else is a real problem.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if flagBaseURL != "" {
		cfg.BaseURL = flagBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL must not be empty")
	}
	if cfg.SessionPageSize <= 0 {
		cfg.SessionPageSize = 50
	}
	if debug {
		cfg.Debug = true
	}
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.StateDir = filepath.Join(home, ".ragcli")
	}
	return &cfg, nil
}

// LogPath returns the file verbose logging is redirected to when the TUI
// owns the terminal.
func (c *Config) LogPath() string {
	return filepath.Join(c.StateDir, "ragcli.log")
}
