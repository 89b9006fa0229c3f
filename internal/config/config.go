// Package config loads the shell's configuration from an optional JSON file
// plus AINOMALY_* environment overrides, with defaults in code.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultDataDir is created under the user's home directory.
const DefaultDataDir = ".ainomaly"

// ConfigFileName is the optional config file inside the data directory.
const ConfigFileName = "shell_config.json"

// Config is the shell's runtime configuration.
type Config struct {
	// BackendURL is where the detection service listens.
	BackendURL string `mapstructure:"backend_url"`

	// Packaged selects the installed layout for backend script resolution.
	Packaged bool `mapstructure:"packaged"`

	// SkipSpawn connects to an already-running backend instead of spawning.
	SkipSpawn bool `mapstructure:"skip_spawn"`

	// PythonInterpreter runs the backend script.
	PythonInterpreter string `mapstructure:"python_interpreter"`

	// DataDir holds preferences, logs, and other local state.
	DataDir string `mapstructure:"data_dir"`

	// RequestTimeout bounds every backend call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ReadyTimeout bounds the wait for the backend to answer after spawn.
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`

	// DebugListen is the local ops endpoint address; empty disables it.
	DebugListen string `mapstructure:"debug_listen"`

	// LogLevel is debug/info/warn/error.
	LogLevel string `mapstructure:"log_level"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("backend_url", "http://127.0.0.1:8001")
	v.SetDefault("packaged", false)
	v.SetDefault("skip_spawn", false)
	v.SetDefault("python_interpreter", "python")
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("ready_timeout", 60*time.Second)
	v.SetDefault("debug_listen", "127.0.0.1:8701")
	v.SetDefault("log_level", "info")
}

// Load reads configuration. configPath may be empty, in which case only the
// default file location is tried; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("AINOMALY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		defaultPath := filepath.Join(home, DefaultDataDir, ConfigFileName)
		if _, statErr := os.Stat(defaultPath); statErr == nil {
			v.SetConfigFile(defaultPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", defaultPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, DefaultDataDir)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend_url must not be empty")
	}
	if !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
		return fmt.Errorf("backend_url must be an http(s) address, got %q", c.BackendURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.ReadyTimeout <= 0 {
		return fmt.Errorf("ready_timeout must be positive")
	}
	return nil
}
