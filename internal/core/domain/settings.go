package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Settings Errors
// =============================================================================

var (
	ErrUnknownEnvironment = errors.New("unknown environment")
	ErrInvalidSettings    = errors.New("invalid settings")
)

// =============================================================================
// Settings
// =============================================================================

// Environment is a named deployment target.
type Environment struct {
	Name string
	URL  string
	// HealthTimeout is advisory context in seconds. It is reported with the
	// verify stage but does not bound individual probe requests.
	HealthTimeout int
}

// HealthURL joins the base URL with the health path.
func (e Environment) HealthURL(path string) string {
	if path == "" {
		path = DefaultHealthPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(e.URL, "/") + path
}

// Container runtimes understood by the deploy stage.
const (
	RuntimeCLI    = "cli"
	RuntimeEngine = "engine"
)

// DockerSettings holds packaging and container parameters.
type DockerSettings struct {
	ImageName     string
	ContainerName string
	HostPort      int
	ContainerPort int
	Runtime       string // "cli" or "engine"
	Host          string // Engine API host, "" for environment defaults
}

// BuildSettings holds the compile step parameters.
type BuildSettings struct {
	Output  string // binary artifact path
	Package string // package to build
}

// Default verification policy values.
const (
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultHealthPath     = "/health"
)

// VerifyPolicy bounds the health verification loop.
type VerifyPolicy struct {
	MaxAttempts    int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	Path           string
}

// DefaultVerifyPolicy returns the 3 attempts / 5s delay / 10s request policy.
func DefaultVerifyPolicy() VerifyPolicy {
	return VerifyPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		RetryDelay:     DefaultRetryDelay,
		RequestTimeout: DefaultRequestTimeout,
		Path:           DefaultHealthPath,
	}
}

// WithDefaults fills zero fields with the defaults.
func (p VerifyPolicy) WithDefaults() VerifyPolicy {
	d := DefaultVerifyPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.RetryDelay < 0 {
		p.RetryDelay = d.RetryDelay
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = d.RequestTimeout
	}
	if p.Path == "" {
		p.Path = d.Path
	}
	return p
}

// Settings is the resolved, read-only configuration of a pipeline.
type Settings struct {
	Environments map[string]Environment
	Docker       DockerSettings
	Build        BuildSettings
	Verify       VerifyPolicy
}

// DefaultSettings returns the built-in configuration used when no
// configuration file is available.
func DefaultSettings() Settings {
	return Settings{
		Environments: map[string]Environment{
			"development": {Name: "development", URL: "http://localhost:8080", HealthTimeout: 30},
			"staging":     {Name: "staging", URL: "http://staging.example.com", HealthTimeout: 60},
			"production":  {Name: "production", URL: "http://production.example.com", HealthTimeout: 120},
		},
		Docker: DockerSettings{
			ImageName:     "dahlia",
			ContainerName: "dahlia-app",
			HostPort:      8080,
			ContainerPort: 8080,
			Runtime:       RuntimeCLI,
		},
		Build: BuildSettings{
			Output:  "bin/dahlia",
			Package: "./cmd/server",
		},
		Verify: DefaultVerifyPolicy(),
	}
}

// Environment resolves a named environment.
func (s Settings) Environment(name string) (Environment, error) {
	env, ok := s.Environments[name]
	if !ok {
		return Environment{}, fmt.Errorf("%w: %s", ErrUnknownEnvironment, name)
	}
	if env.Name == "" {
		env.Name = name
	}
	return env, nil
}

// EnvironmentNames returns the configured environment names, sorted.
func (s Settings) EnvironmentNames() []string {
	names := make([]string, 0, len(s.Environments))
	for name := range s.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the settings for values the pipeline cannot work with.
func (s Settings) Validate() error {
	var problems []string

	if s.Docker.ImageName == "" {
		problems = append(problems, "docker image name is required")
	}
	if s.Docker.ContainerName == "" {
		problems = append(problems, "docker container name is required")
	}
	if !validPort(s.Docker.HostPort) || !validPort(s.Docker.ContainerPort) {
		problems = append(problems, "docker ports must be between 1 and 65535")
	}
	switch s.Docker.Runtime {
	case RuntimeCLI, RuntimeEngine:
	default:
		problems = append(problems, fmt.Sprintf("docker runtime %q must be %q or %q", s.Docker.Runtime, RuntimeCLI, RuntimeEngine))
	}
	for _, name := range s.EnvironmentNames() {
		env := s.Environments[name]
		if env.URL == "" {
			problems = append(problems, fmt.Sprintf("environment %s has no url", name))
		}
		if env.HealthTimeout < 0 {
			problems = append(problems, fmt.Sprintf("environment %s has a negative health_timeout", name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
