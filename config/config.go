package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Sandbox   SandboxConfig       `mapstructure:"sandbox"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Metrics   MetricsConfig       `mapstructure:"metrics"`
	Languages map[string]Language `mapstructure:"languages"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// SandboxConfig holds sandbox configuration. The limits are process-wide and
// apply to every execution.
type SandboxConfig struct {
	Backend          string  `mapstructure:"backend"`
	TimeoutSec       int     `mapstructure:"timeout_sec"`
	MemoryMB         int     `mapstructure:"memory_mb"`
	CPUs             float64 `mapstructure:"cpus"`
	PidsLimit        int64   `mapstructure:"pids_limit"`
	MaxOutputKB      int     `mapstructure:"max_output_kb"`
	Workdir          string  `mapstructure:"workdir"`
	WorkdirSizeMB    int     `mapstructure:"workdir_size_mb"`
	PullTimeoutSec   int     `mapstructure:"pull_timeout_sec"`
	HealthTimeoutSec int     `mapstructure:"health_timeout_sec"`
	PrefetchImages   bool    `mapstructure:"prefetch_images"`
	// User is the uid[:gid] the program runs as. Empty keeps the image default.
	User string `mapstructure:"user"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// MetricsConfig controls the Prometheus listener
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Language overrides an entry of the built-in language table
type Language struct {
	Image       string            `mapstructure:"image"`
	Environment map[string]string `mapstructure:"environment"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("CODECRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.timeout_sec", 30)
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.cpus", 1.0)
	v.SetDefault("sandbox.pids_limit", 64)
	v.SetDefault("sandbox.max_output_kb", 1024)
	v.SetDefault("sandbox.workdir", "/sandbox")
	v.SetDefault("sandbox.workdir_size_mb", 64)
	v.SetDefault("sandbox.pull_timeout_sec", 120)
	v.SetDefault("sandbox.health_timeout_sec", 5)
	v.SetDefault("sandbox.prefetch_images", false)
	v.SetDefault("sandbox.user", "65534:65534")

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	switch c.Sandbox.Backend {
	case "docker", "podman":
	default:
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	positive := []struct {
		key   string
		value int
	}{
		{"sandbox.timeout_sec", c.Sandbox.TimeoutSec},
		{"sandbox.memory_mb", c.Sandbox.MemoryMB},
		{"sandbox.max_output_kb", c.Sandbox.MaxOutputKB},
		{"sandbox.workdir_size_mb", c.Sandbox.WorkdirSizeMB},
		{"sandbox.pull_timeout_sec", c.Sandbox.PullTimeoutSec},
		{"sandbox.health_timeout_sec", c.Sandbox.HealthTimeoutSec},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got: %d", p.key, p.value)
		}
	}

	if c.Sandbox.CPUs <= 0 {
		return fmt.Errorf("sandbox.cpus must be positive, got: %g", c.Sandbox.CPUs)
	}

	if c.Sandbox.PidsLimit <= 0 {
		return fmt.Errorf("sandbox.pids_limit must be positive, got: %d", c.Sandbox.PidsLimit)
	}

	if !strings.HasPrefix(c.Sandbox.Workdir, "/") {
		return fmt.Errorf("sandbox.workdir must be an absolute path, got: %q", c.Sandbox.Workdir)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics.enabled is true")
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// GetPullTimeout bounds a single image pull.
func (c *Config) GetPullTimeout() time.Duration {
	return time.Duration(c.Sandbox.PullTimeoutSec) * time.Second
}

// GetHealthTimeout bounds a daemon ping.
func (c *Config) GetHealthTimeout() time.Duration {
	return time.Duration(c.Sandbox.HealthTimeoutSec) * time.Second
}
