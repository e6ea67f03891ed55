// Package config holds the two configuration surfaces of irrig-core: the
// YAML-based process configuration (this file) and the JSON-based
// IoConfiguration persisted state (ioconfig.go).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Memory   MemoryConfig   `yaml:"memory"`
	Polling  PollingConfig  `yaml:"polling"`
	Auth     AuthConfig     `yaml:"auth"`
	Priority PriorityConfig `yaml:"priority"`
	Users    []UserConfig   `yaml:"users"`
}

// UserConfig is one entry of the hardcoded user table (§4.12 step 2),
// expressed in the process configuration rather than compiled in.
type UserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	IoConfigPath  string `yaml:"io_config_path"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MemoryConfig sizes the two memory tiers of the allocator (C2).
type MemoryConfig struct {
	FastTierBytes  int `yaml:"fast_tier_bytes"`
	LargeTierBytes int `yaml:"large_tier_bytes"`
}

// PollingConfig controls the I/O polling task (C7).
type PollingConfig struct {
	IntervalMS    int `yaml:"interval_ms"`
	MutexBudgetMS int `yaml:"mutex_budget_ms"`
}

// AuthConfig controls the authentication core (C12).
type AuthConfig struct {
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions"`
	SessionTimeoutMS      int           `yaml:"session_timeout_ms"`
	MaxLoginAttempts      int           `yaml:"max_login_attempts"`
	RateLimitWindowMS     int           `yaml:"rate_limit_window_ms"`
}

// PriorityConfig controls the priority pipeline (C8-C11).
type PriorityConfig struct {
	QueueCapacities         map[string]int `yaml:"queue_capacities"`
	LoadSheddingThreshold   int            `yaml:"load_shedding_threshold"`
	HeavyOperationMS        int            `yaml:"heavy_operation_threshold_ms"`
	WatchdogFeedIntervalMS  int            `yaml:"watchdog_feed_interval_ms"`
	EmergencyDefaultTTLSecs int            `yaml:"emergency_default_ttl_seconds"`
}

// DefaultConfig returns the built-in configuration used when no file is
// supplied, or to fill gaps in a partially-specified file.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":8080",
			IoConfigPath: "./io-config.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Memory: MemoryConfig{
			FastTierBytes:  256 * 1024,
			LargeTierBytes: 4 * 1024 * 1024,
		},
		Polling: PollingConfig{
			IntervalMS:    1000,
			MutexBudgetMS: 100,
		},
		Auth: AuthConfig{
			MaxConcurrentSessions: 5,
			SessionTimeoutMS:      30 * 60 * 1000,
			MaxLoginAttempts:      5,
			RateLimitWindowMS:     5 * 60 * 1000,
		},
		Priority: PriorityConfig{
			QueueCapacities: map[string]int{
				"emergency":     50,
				"io_critical":   100,
				"authentication": 50,
				"ui_critical":   100,
				"normal":        200,
				"background":    100,
			},
			LoadSheddingThreshold:   80,
			HeavyOperationMS:        500,
			WatchdogFeedIntervalMS:  1000,
			EmergencyDefaultTTLSecs: 300,
		},
		Users: []UserConfig{
			{Username: "admin", Password: "changeme", Role: "owner"},
		},
	}
}

// Load reads a YAML config file at path and merges it over DefaultConfig.
// A missing file is not an error: the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
