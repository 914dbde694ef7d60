package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/artpar/dahlia-deploy/internal/core/domain"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Environments map[string]EnvironmentConfig `mapstructure:"environments"`
	Docker       DockerConfig                 `mapstructure:"docker"`
	Build        BuildConfig                  `mapstructure:"build"`
	Verify       VerifyConfig                 `mapstructure:"verify"`
	Log          LogConfig                    `mapstructure:"log"`
	History      HistoryConfig                `mapstructure:"history"`
	Metrics      MetricsConfig                `mapstructure:"metrics"`
	Server       ServerConfig                 `mapstructure:"server"`

	// Source is the config file that was read, "" when defaults were used.
	Source string `mapstructure:"-"`
}

// EnvironmentConfig describes one deployment target.
type EnvironmentConfig struct {
	URL           string `mapstructure:"url" json:"url" yaml:"url"`
	HealthTimeout int    `mapstructure:"health_timeout" json:"health_timeout" yaml:"health_timeout"` // seconds, advisory
}

// DockerConfig holds image and container configuration.
type DockerConfig struct {
	ImageName     string `mapstructure:"image_name"`
	ContainerName string `mapstructure:"container_name"`
	HostPort      int    `mapstructure:"host_port"`
	ContainerPort int    `mapstructure:"container_port"`
	Runtime       string `mapstructure:"runtime"` // "cli" or "engine"
	Host          string `mapstructure:"host"`
}

// BuildConfig holds the compile step configuration.
type BuildConfig struct {
	Output  string `mapstructure:"output"`
	Package string `mapstructure:"package"`
}

// VerifyConfig holds the health verification policy.
type VerifyConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Path           string        `mapstructure:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HistoryConfig holds run history configuration.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"` // empty disables history
}

// MetricsConfig holds Pushgateway configuration.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ServerConfig holds history API server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// =============================================================================
// Config Loading
// =============================================================================

// EnvPrefix prefixes environment variable overrides.
const EnvPrefix = "DAHLIA_DEPLOY"

// LoadConfig loads configuration from file and environment. A missing or
// unreadable file falls back to the built-in defaults; a file that cannot be
// parsed is an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	defaults := domain.DefaultSettings()

	// Set defaults
	v.SetDefault("docker.image_name", defaults.Docker.ImageName)
	v.SetDefault("docker.container_name", defaults.Docker.ContainerName)
	v.SetDefault("docker.host_port", defaults.Docker.HostPort)
	v.SetDefault("docker.container_port", defaults.Docker.ContainerPort)
	v.SetDefault("docker.runtime", domain.RuntimeCLI)
	v.SetDefault("docker.host", "")
	v.SetDefault("build.output", defaults.Build.Output)
	v.SetDefault("build.package", defaults.Build.Package)
	v.SetDefault("verify.max_attempts", domain.DefaultMaxAttempts)
	v.SetDefault("verify.retry_delay", "5s")
	v.SetDefault("verify.request_timeout", "10s")
	v.SetDefault("verify.path", domain.DefaultHealthPath)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "dahlia_deploy")
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Load from file if provided
	source := ""
	if configPath != "" {
		v.SetConfigFile(configPath)
		if filepath.Ext(configPath) == "" {
			v.SetConfigType("json")
		}
		if err := v.ReadInConfig(); err != nil {
			if isParseError(err) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// Missing or unreadable file is OK, we'll use defaults
		} else {
			source = configPath
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Source = source

	if source != "" {
		envs, err := readEnvironments(source)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if envs != nil {
			cfg.Environments = envs
		}
	}

	if len(cfg.Environments) == 0 {
		cfg.Environments = make(map[string]EnvironmentConfig, len(defaults.Environments))
		for name, env := range defaults.Environments {
			cfg.Environments[name] = EnvironmentConfig{URL: env.URL, HealthTimeout: env.HealthTimeout}
		}
	}

	return &cfg, nil
}

// readEnvironments decodes the environments table of a JSON or YAML config
// file with its names verbatim. viper folds keys to lower case and splits
// them on dots, which would rename "QA" and nest "eu.prod". Other formats
// return nil and keep viper's result.
func readEnvironments(path string) (map[string]EnvironmentConfig, error) {
	var doc struct {
		Environments map[string]EnvironmentConfig `json:"environments" yaml:"environments"`
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case "", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}
	return doc.Environments, nil
}

func isParseError(err error) bool {
	var parseErr viper.ConfigParseError
	var parseErrPtr *viper.ConfigParseError
	var unsupported viper.UnsupportedConfigError
	return errors.As(err, &parseErr) || errors.As(err, &parseErrPtr) || errors.As(err, &unsupported)
}

// Settings converts the configuration to validated pipeline settings.
func (c *Config) Settings() (domain.Settings, error) {
	s := domain.Settings{
		Environments: make(map[string]domain.Environment, len(c.Environments)),
		Docker: domain.DockerSettings{
			ImageName:     c.Docker.ImageName,
			ContainerName: c.Docker.ContainerName,
			HostPort:      c.Docker.HostPort,
			ContainerPort: c.Docker.ContainerPort,
			Runtime:       c.Docker.Runtime,
			Host:          c.Docker.Host,
		},
		Build: domain.BuildSettings{
			Output:  c.Build.Output,
			Package: c.Build.Package,
		},
		Verify: domain.VerifyPolicy{
			MaxAttempts:    c.Verify.MaxAttempts,
			RetryDelay:     c.Verify.RetryDelay,
			RequestTimeout: c.Verify.RequestTimeout,
			Path:           c.Verify.Path,
		}.WithDefaults(),
	}
	for name, env := range c.Environments {
		s.Environments[name] = domain.Environment{Name: name, URL: env.URL, HealthTimeout: env.HealthTimeout}
	}

	if err := s.Validate(); err != nil {
		return domain.Settings{}, err
	}
	return s, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format writing
// to w. The CLI passes stderr; stdout carries the pipeline status lines.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
