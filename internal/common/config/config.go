// Package config provides configuration management for the agentmux daemon.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the daemon.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration. The daemon binds loopback only;
// Host exists so tests can bind an ephemeral address, not for remote exposure.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds the SQLite database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// MonitorConfig holds stall-detection thresholds, all in seconds.
type MonitorConfig struct {
	StaleThreshold int `mapstructure:"staleThreshold"`
	StuckThreshold int `mapstructure:"stuckThreshold"`
	DeadThreshold  int `mapstructure:"deadThreshold"`
	CheckInterval  int `mapstructure:"checkInterval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns the listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CheckIntervalDuration returns the monitor tick interval as a time.Duration.
func (m *MonitorConfig) CheckIntervalDuration() time.Duration {
	return time.Duration(m.CheckInterval) * time.Second
}

// DefaultDatabasePath returns <user-config-dir>/agentmux/agentmux.db, falling back
// to the working directory when the config dir cannot be resolved.
func DefaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "agentmux.db"
	}
	return filepath.Join(dir, "agentmux", "agentmux.db")
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if env := os.Getenv("AGENTMUX_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Loopback only; remote exposure is a design change, not a config flag.
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7878)
	v.SetDefault("server.readTimeout", 10)
	v.SetDefault("server.writeTimeout", 0) // SSE streams must not be cut off

	v.SetDefault("database.path", DefaultDatabasePath())

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentmuxd")
	v.SetDefault("nats.maxReconnects", 10)

	// Monitor escalation tiers: stale 2 min, stuck 5 min, dead 15 min
	v.SetDefault("monitor.staleThreshold", 120)
	v.SetDefault("monitor.stuckThreshold", 300)
	v.SetDefault("monitor.deadThreshold", 900)
	v.SetDefault("monitor.checkInterval", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTMUX_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or
// the user's agentmux config directory.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the short env vars the hooks and docs advertise.
	_ = v.BindEnv("server.port", "AGENTMUX_PORT", "AGENTMUX_SERVER_PORT")
	_ = v.BindEnv("database.path", "AGENTMUX_DB_PATH", "AGENTMUX_DATABASE_PATH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "agentmux"))
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if cfg.Monitor.StaleThreshold <= 0 ||
		cfg.Monitor.StuckThreshold <= cfg.Monitor.StaleThreshold ||
		cfg.Monitor.DeadThreshold <= cfg.Monitor.StuckThreshold {
		errs = append(errs, "monitor thresholds must satisfy 0 < stale < stuck < dead")
	}
	if cfg.Monitor.CheckInterval <= 0 {
		errs = append(errs, "monitor.checkInterval must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// PIDFilePath returns the PID file location, alongside the database file.
func (c *Config) PIDFilePath() string {
	return filepath.Join(filepath.Dir(c.Database.Path), "agentmuxd.pid")
}
