package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Environment existence policies.
const (
	PolicyLazy   = "lazy"   // create environments on first use
	PolicyStrict = "strict" // require create_env before use
)

// Transports the tool server can be served on.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
	ServiceName string  `yaml:"service_name"`
}

type Config struct {
	EnvsDir               string        `yaml:"envs_dir"`
	UVPath                string        `yaml:"uv_path"`
	EnvPolicy             string        `yaml:"env_policy"`
	ExecTimeoutSeconds    int           `yaml:"exec_timeout_seconds"`
	MaxReadSize           string        `yaml:"max_read_size"`
	Transport             string        `yaml:"transport"`
	Listen                string        `yaml:"listen"`
	MetricsListen         string        `yaml:"metrics_listen"`
	APIKey                string        `yaml:"api_key"`
	DBPath                string        `yaml:"db_path"`
	HistoryRetentionHours int           `yaml:"history_retention_hours"`
	ReaperIntervalSeconds int           `yaml:"reaper_interval_seconds"`
	LogLevel              string        `yaml:"log_level"`
	Tracing               TracingConfig `yaml:"tracing"`

	// MaxReadBytes is MaxReadSize parsed by Load.
	MaxReadBytes int64 `yaml:"-"`
}

// DefaultBaseDir is where environments and the history database live unless
// configured otherwise.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".mcp-python-executor"
	}
	return filepath.Join(home, ".mcp-python-executor")
}

func Load(yamlPath string) (*Config, error) {
	base := DefaultBaseDir()
	cfg := &Config{
		EnvsDir:               filepath.Join(base, "envs"),
		UVPath:                "uv",
		EnvPolicy:             PolicyLazy,
		ExecTimeoutSeconds:    300,
		MaxReadSize:           "10MiB",
		Transport:             TransportStdio,
		Listen:                "127.0.0.1:8080",
		DBPath:                filepath.Join(base, "pyexec.db"),
		HistoryRetentionHours: 168,
		ReaperIntervalSeconds: 300,
		LogLevel:              "info",
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			SampleRate:  1.0,
			ServiceName: "pyexec",
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.EnvPolicy {
	case PolicyLazy, PolicyStrict:
	default:
		return fmt.Errorf("env_policy must be %q or %q, got %q", PolicyLazy, PolicyStrict, c.EnvPolicy)
	}
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Transport)
	}
	if c.EnvsDir == "" {
		return fmt.Errorf("envs_dir is required")
	}
	if c.UVPath == "" {
		return fmt.Errorf("uv_path is required")
	}
	if c.ExecTimeoutSeconds <= 0 {
		return fmt.Errorf("exec_timeout_seconds must be positive")
	}
	n, err := units.RAMInBytes(c.MaxReadSize)
	if err != nil {
		return fmt.Errorf("max_read_size: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("max_read_size must be positive")
	}
	c.MaxReadBytes = n
	return nil
}

// ExecTimeout returns the wall-clock bound for one external manager run.
func (c *Config) ExecTimeout() time.Duration {
	return time.Duration(c.ExecTimeoutSeconds) * time.Second
}

// ReaperInterval returns the history reaper tick, or zero when disabled.
func (c *Config) ReaperInterval() time.Duration {
	if c.ReaperIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ReaperIntervalSeconds) * time.Second
}

// HistoryRetention returns how long invocation records are kept.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionHours) * time.Hour
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PYEXEC_ENVS_DIR"); v != "" {
		cfg.EnvsDir = v
	}
	if v := os.Getenv("PYEXEC_UV_PATH"); v != "" {
		cfg.UVPath = v
	}
	if v := os.Getenv("PYEXEC_ENV_POLICY"); v != "" {
		cfg.EnvPolicy = strings.ToLower(v)
	}
	if v := os.Getenv("PYEXEC_EXEC_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExecTimeoutSeconds = n
		}
	}
	if v := os.Getenv("PYEXEC_MAX_READ_SIZE"); v != "" {
		cfg.MaxReadSize = v
	}
	if v := os.Getenv("PYEXEC_TRANSPORT"); v != "" {
		cfg.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("PYEXEC_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("PYEXEC_METRICS_LISTEN"); v != "" {
		cfg.MetricsListen = v
	}
	if v := os.Getenv("PYEXEC_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v, ok := os.LookupEnv("PYEXEC_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v := os.Getenv("PYEXEC_HISTORY_RETENTION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HistoryRetentionHours = n
		}
	}
	if v := os.Getenv("PYEXEC_REAPER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReaperIntervalSeconds = n
		}
	}
	if v := os.Getenv("PYEXEC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PYEXEC_TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Enabled = b
		}
	}
	if v := os.Getenv("PYEXEC_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}
