package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete kaiwa configuration
type Config struct {
	Paths   PathsConfig   `mapstructure:"paths"`
	Session SessionConfig `mapstructure:"session"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PathsConfig controls where kaiwa keeps its state
type PathsConfig struct {
	// DataDir is the root for sessions/ and the cache registry
	// (default: ~/.kaiwa)
	DataDir string `mapstructure:"data_dir"`
}

// SessionConfig controls session persistence and history policies
type SessionConfig struct {
	// LockTimeoutSeconds bounds how long an operation waits for a
	// session's file lock before failing
	LockTimeoutSeconds int `mapstructure:"lock_timeout_seconds"`
	// ToolResponseLimit is how many recent tool responses survive
	// prompt assembly
	ToolResponseLimit int `mapstructure:"tool_response_limit"`
	// ExpirationThreshold is the number of trailing user tasks whose
	// tool responses are kept verbatim by expiration
	ExpirationThreshold int `mapstructure:"expiration_threshold"`
}

// CacheConfig controls the provider-side context cache policy
type CacheConfig struct {
	// UpdateThreshold is the buffered-token count that triggers a
	// cache create/replace
	UpdateThreshold int `mapstructure:"update_threshold"`
}

// LoggingConfig controls the rotated JSON log
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level"`
	// MaxSizeMB rotates the log file once it exceeds this size
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is how many rotated files to keep
	MaxBackups int `mapstructure:"max_backups"`
	// MaxAgeDays removes rotated files older than this
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// ConfigDir returns the directory holding the kaiwa config file.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "kaiwa")
}

// DefaultDataDir returns where session state lives absent configuration.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kaiwa"
	}
	return filepath.Join(home, ".kaiwa")
}

// SetDefaults registers default values for all configuration keys.
func SetDefaults() {
	viper.SetDefault("paths.data_dir", DefaultDataDir())
	viper.SetDefault("session.lock_timeout_seconds", 10)
	viper.SetDefault("session.tool_response_limit", 3)
	viper.SetDefault("session.expiration_threshold", 3)
	viper.SetDefault("cache.update_threshold", 20000)
	viper.SetDefault("logging.level", "INFO")
	viper.SetDefault("logging.max_size_mb", 10)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age_days", 14)
}

// Load unmarshals the current viper state into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the stores cannot operate with.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir cannot be empty")
	}
	if c.Session.LockTimeoutSeconds <= 0 {
		return fmt.Errorf("session.lock_timeout_seconds must be positive, got %d", c.Session.LockTimeoutSeconds)
	}
	if c.Session.ToolResponseLimit < 0 {
		return fmt.Errorf("session.tool_response_limit cannot be negative, got %d", c.Session.ToolResponseLimit)
	}
	if c.Session.ExpirationThreshold < 1 {
		return fmt.Errorf("session.expiration_threshold must be at least 1, got %d", c.Session.ExpirationThreshold)
	}
	if c.Cache.UpdateThreshold <= 0 {
		return fmt.Errorf("cache.update_threshold must be positive, got %d", c.Cache.UpdateThreshold)
	}
	return nil
}

// LockTimeout returns the configured lock timeout as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Session.LockTimeoutSeconds) * time.Second
}

// SessionsDir returns the sessions directory under the data dir.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.Paths.DataDir, "sessions")
}

// CacheRegistryPath returns the cache registry document path.
func (c *Config) CacheRegistryPath() string {
	return filepath.Join(c.Paths.DataDir, ".cache_registry.json")
}

// LogPath returns the rotated log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.DataDir, "kaiwa.log")
}
