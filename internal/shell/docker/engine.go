package docker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/artpar/dahlia-deploy/internal/core/deployment"
	"github.com/artpar/dahlia-deploy/internal/shell/process"
)

// =============================================================================
// Engine API Runtime
// =============================================================================

// ExitCodeDaemonRejected mirrors the exit status docker run uses when the
// daemon refuses to create or start a container.
const ExitCodeDaemonRejected = 125

// EngineAPI is the subset of the Docker SDK client used by EngineRuntime.
type EngineAPI interface {
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	Close() error
}

// EngineRuntime talks to the Docker daemon directly.
type EngineRuntime struct {
	api    EngineAPI
	logger *slog.Logger
}

// NewEngineRuntime connects to the Docker daemon.
// If host is empty, it uses the default Docker host from environment.
// When the default socket does not answer, the Docker Desktop socket is tried.
func NewEngineRuntime(ctx context.Context, host string, logger *slog.Logger) (*EngineRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewEngineRuntime", "", "", err.Error(), ErrConnectionFailed)
	}

	if host == "" {
		if _, pingErr := cli.Ping(ctx); pingErr != nil {
			if alt := desktopClient(ctx); alt != nil {
				cli.Close()
				cli = alt
			}
		}
	}

	return NewEngineRuntimeFromAPI(cli, logger), nil
}

func desktopClient(ctx context.Context) *client.Client {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	alt, err := client.NewClientWithOpts(
		client.WithHost("unix://"+homeDir+"/.docker/run/docker.sock"),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil
	}
	if _, err := alt.Ping(ctx); err != nil {
		alt.Close()
		return nil
	}
	return alt
}

// NewEngineRuntimeFromAPI wraps an existing API client.
func NewEngineRuntimeFromAPI(api EngineAPI, logger *slog.Logger) *EngineRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &EngineRuntime{
		api:    api,
		logger: logger.With("component", "docker", "runtime", "engine"),
	}
}

// Close releases the daemon connection.
func (r *EngineRuntime) Close() error {
	return r.api.Close()
}

// Cleanup stops then removes the named container, ignoring failures.
func (r *EngineRuntime) Cleanup(ctx context.Context, name string) []CleanupOutcome {
	outcomes := []CleanupOutcome{
		{Step: StepStop, Name: name, Err: r.stop(ctx, name)},
		{Step: StepRemove, Name: name, Err: r.remove(ctx, name)},
	}
	LogCleanup(r.logger, outcomes)
	return outcomes
}

func (r *EngineRuntime) stop(ctx context.Context, name string) error {
	if err := r.api.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return wrapContainerError("StopContainer", name, err)
	}
	return nil
}

func (r *EngineRuntime) remove(ctx context.Context, name string) error {
	if err := r.api.ContainerRemove(ctx, name, container.RemoveOptions{}); err != nil {
		return wrapContainerError("RemoveContainer", name, err)
	}
	return nil
}

func wrapContainerError(op, name string, err error) error {
	switch {
	case client.IsErrNotFound(err):
		return NewDockerError(op, "container", name, "container not found", ErrContainerNotFound)
	case client.IsErrConnectionFailed(err):
		return NewDockerError(op, "container", name, err.Error(), ErrConnectionFailed)
	}
	return NewDockerError(op, "container", name, err.Error(), err)
}

// Start creates and starts a detached container. Stdout carries the new
// container ID, as docker run -d prints it.
func (r *EngineRuntime) Start(ctx context.Context, spec deployment.ContainerSpec) (process.Result, error) {
	start := time.Now()
	config, hostConfig := containerConfig(spec)

	resp, err := r.api.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return r.rejected("CreateContainer", spec.Name, err, start)
	}
	for _, w := range resp.Warnings {
		r.logger.Warn("container create warning", "container", spec.Name, "warning", w)
	}

	if err := r.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return r.rejected("StartContainer", spec.Name, err, start)
	}

	r.logger.Debug("container started", "container", spec.Name, "id", resp.ID)
	return process.Result{
		Stdout:   resp.ID + "\n",
		Duration: time.Since(start),
	}, nil
}

func (r *EngineRuntime) rejected(op, name string, err error, start time.Time) (process.Result, error) {
	if client.IsErrConnectionFailed(err) {
		return process.Result{}, NewDockerError(op, "container", name, err.Error(), ErrConnectionFailed)
	}
	return process.Result{
		ExitCode: ExitCodeDaemonRejected,
		Stderr:   err.Error(),
		Duration: time.Since(start),
	}, nil
}

func containerConfig(spec deployment.ContainerSpec) (*container.Config, *container.HostConfig) {
	config := &container.Config{Image: spec.Image}
	hostConfig := &container.HostConfig{}

	if len(spec.Ports) > 0 {
		portBindings := nat.PortMap{}
		exposedPorts := nat.PortSet{}

		for _, p := range spec.Ports {
			containerPort := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, p.Proto()))
			exposedPorts[containerPort] = struct{}{}
			portBindings[containerPort] = append(portBindings[containerPort], nat.PortBinding{
				HostPort: fmt.Sprintf("%d", p.HostPort),
			})
		}

		config.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	return config, hostConfig
}
