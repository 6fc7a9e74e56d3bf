// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads stmcat's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"code.hybscloud.com/stm"
)

// Config is the complete stmcat configuration.
type Config struct {
	// Path of the pipe endpoint: a unix socket or a FIFO.
	Path string `yaml:"path"`
	// ConnectTimeout bounds Connect's retries against a busy endpoint.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// Nonblocking runs the stream in non-blocking mode.
	Nonblocking bool `yaml:"nonblocking"`
	// ReadBufferSize is the stream's read-ahead capacity.
	ReadBufferSize int `yaml:"read_buffer_size"`
	// WriteFailure is "continue" or "discard".
	WriteFailure string `yaml:"write_failure"`
	// PollInterval is the longest the relay loop parks in one Poll.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ExitOnStdinEOF drains queued writes and exits once stdin ends.
	ExitOnStdinEOF bool `yaml:"exit_on_stdin_eof"`

	Log LogConfig `yaml:"log"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level: trace, debug, info, warn, error
	Level string `yaml:"level"`
	// Format: console or json
	Format string `yaml:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `yaml:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `yaml:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `yaml:"enable"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		ConnectTimeout: 2 * time.Second,
		Nonblocking:    true,
		ReadBufferSize: stm.DefaultReadBufferSize,
		WriteFailure:   "continue",
		PollInterval:   100 * time.Millisecond,
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
		},
	}
}

// LoadFromFile loads configuration from a YAML file with environment
// variable substitution. Keys absent from the file keep their defaults.
func LoadFromFile(configPath string) (*Config, error) {
	cleanPath := filepath.Clean(configPath)
	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid config path: path traversal not allowed")
	}
	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file: only .yaml and .yml files are allowed")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	cfg.WriteFailure = strings.ToLower(strings.TrimSpace(cfg.WriteFailure))
	return cfg, nil
}

// LoadEnvFiles loads environment variables from the .env files that exist,
// in order; a variable already set is not overridden. It returns the files
// it loaded.
func LoadEnvFiles(envFiles []string) []string {
	var loaded []string
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		if err := godotenv.Load(envFile); err == nil {
			loaded = append(loaded, envFile)
		}
	}
	return loaded
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns
// with environment variables.
func substituteEnvVars(content string) string {
	return envPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := envPattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		if value := os.Getenv(sub[1]); value != "" {
			return value
		}
		if len(sub) > 2 {
			return strings.TrimPrefix(sub[2], "-")
		}
		return ""
	})
}

// WriteFailurePolicy maps WriteFailure onto the stream option value.
func (c *Config) WriteFailurePolicy() stm.WriteFailurePolicy {
	if c.WriteFailure == "discard" {
		return stm.WriteFailureDiscard
	}
	return stm.WriteFailureContinue
}

// Validate checks that all required configuration values are set and sane.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Path) == "" {
		missing = append(missing, "path")
	}
	if len(missing) > 0 {
		return &ValidationError{MissingFields: missing}
	}
	if len(c.Path) > stm.MaxPipePathLen {
		return fmt.Errorf("path: longer than %d bytes", stm.MaxPipePathLen)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout: must not be negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval: must be positive")
	}
	if c.ReadBufferSize < 0 {
		return fmt.Errorf("read_buffer_size: must not be negative")
	}
	switch c.WriteFailure {
	case "", "continue", "discard":
	default:
		return fmt.Errorf("write_failure: unknown policy %q", c.WriteFailure)
	}
	return nil
}

// ValidationError represents configuration validation errors
type ValidationError struct {
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return "missing required configuration fields: " + strings.Join(e.MissingFields, ", ")
}
