package docker

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/dahlia-deploy/internal/core/deployment"
	"github.com/artpar/dahlia-deploy/internal/core/domain"
	"github.com/artpar/dahlia-deploy/internal/shell/process"
)

// =============================================================================
// Test Fakes
// =============================================================================

type fakeRunner struct {
	calls   [][]string
	results map[string]process.Result
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results: map[string]process.Result{},
		errs:    map[string]error{},
	}
}

func (f *fakeRunner) Run(_ context.Context, cmd deployment.Command) (process.Result, error) {
	f.calls = append(f.calls, cmd.Argv())
	if err, ok := f.errs[cmd.Args[0]]; ok {
		return process.Result{}, err
	}
	return f.results[cmd.Args[0]], nil
}

type fakeEngine struct {
	stopErr   error
	removeErr error
	createErr error
	startErr  error

	calls      []string
	config     *container.Config
	hostConfig *container.HostConfig
	name       string
}

func (f *fakeEngine) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	f.calls = append(f.calls, "stop "+id)
	return f.stopErr
}

func (f *fakeEngine) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.calls = append(f.calls, "remove "+id)
	return f.removeErr
}

func (f *fakeEngine) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.calls = append(f.calls, "create "+name)
	f.config, f.hostConfig, f.name = config, hostConfig, name
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	return container.CreateResponse{ID: "c0ffee"}, nil
}

func (f *fakeEngine) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.calls = append(f.calls, "start "+id)
	return f.startErr
}

func (f *fakeEngine) Close() error { return nil }

func defaultSpec() deployment.ContainerSpec {
	return deployment.ContainerSpecFor(domain.DefaultSettings().Docker)
}

// =============================================================================
// CLIRuntime Tests
// =============================================================================

func TestCLIRuntime_CleanupRunsStopThenRemove(t *testing.T) {
	runner := newFakeRunner()
	rt := NewCLIRuntime(runner, nil)

	outcomes := rt.Cleanup(context.Background(), "dahlia-app")

	assert.Equal(t, [][]string{
		{"docker", "stop", "dahlia-app"},
		{"docker", "rm", "dahlia-app"},
	}, runner.calls)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].OK())
	assert.Equal(t, StepStop, outcomes[0].Step)
	assert.Equal(t, StepRemove, outcomes[1].Step)
}

func TestCLIRuntime_CleanupFailuresAreReported(t *testing.T) {
	runner := newFakeRunner()
	runner.results["stop"] = process.Result{ExitCode: 1, Stderr: "No such container: dahlia-app"}
	runner.errs["rm"] = errors.New("docker: not found")
	rt := NewCLIRuntime(runner, nil)

	outcomes := rt.Cleanup(context.Background(), "dahlia-app")

	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].OK())
	assert.Contains(t, outcomes[0].Reason(), "No such container")
	assert.False(t, outcomes[1].OK())
	assert.Equal(t, "docker: not found", outcomes[1].Reason())
}

func TestCLIRuntime_Start(t *testing.T) {
	runner := newFakeRunner()
	runner.results["run"] = process.Result{Stdout: "abc123\n"}
	rt := NewCLIRuntime(runner, nil)

	result, err := rt.Start(context.Background(), defaultSpec())

	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, [][]string{
		{"docker", "run", "-d", "--name", "dahlia-app", "-p", "8080:8080", "dahlia"},
	}, runner.calls)
}

// =============================================================================
// EngineRuntime Tests
// =============================================================================

func TestEngineRuntime_Cleanup(t *testing.T) {
	engine := &fakeEngine{
		stopErr:   errdefs.NotFound(errors.New("No such container: dahlia-app")),
		removeErr: errdefs.NotFound(errors.New("No such container: dahlia-app")),
	}
	rt := NewEngineRuntimeFromAPI(engine, nil)

	outcomes := rt.Cleanup(context.Background(), "dahlia-app")

	assert.Equal(t, []string{"stop dahlia-app", "remove dahlia-app"}, engine.calls)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.False(t, o.OK())
		assert.ErrorIs(t, o.Err, ErrContainerNotFound)
	}
}

func TestEngineRuntime_CleanupKeepsGoingAfterFailure(t *testing.T) {
	engine := &fakeEngine{stopErr: errors.New("container not running")}
	rt := NewEngineRuntimeFromAPI(engine, nil)

	outcomes := rt.Cleanup(context.Background(), "dahlia-app")

	assert.False(t, outcomes[0].OK())
	assert.True(t, outcomes[1].OK())
}

func TestEngineRuntime_Start(t *testing.T) {
	engine := &fakeEngine{}
	rt := NewEngineRuntimeFromAPI(engine, nil)

	result, err := rt.Start(context.Background(), defaultSpec())

	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "c0ffee\n", result.Stdout)
	assert.Equal(t, []string{"create dahlia-app", "start c0ffee"}, engine.calls)

	assert.Equal(t, "dahlia", engine.config.Image)
	port := nat.Port("8080/tcp")
	assert.Contains(t, engine.config.ExposedPorts, port)
	assert.Equal(t, []nat.PortBinding{{HostPort: "8080"}}, engine.hostConfig.PortBindings[port])
}

func TestEngineRuntime_StartRejected(t *testing.T) {
	tests := []struct {
		name   string
		engine *fakeEngine
		calls  int
	}{
		{
			name:   "create conflict",
			engine: &fakeEngine{createErr: errdefs.Conflict(errors.New("name already in use"))},
			calls:  1,
		},
		{
			name:   "start fails",
			engine: &fakeEngine{startErr: errors.New("port is already allocated")},
			calls:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := NewEngineRuntimeFromAPI(tt.engine, nil)

			result, err := rt.Start(context.Background(), defaultSpec())

			require.NoError(t, err)
			assert.Equal(t, ExitCodeDaemonRejected, result.ExitCode)
			assert.NotEmpty(t, result.Stderr)
			assert.Len(t, tt.engine.calls, tt.calls)
		})
	}
}

// =============================================================================
// Factory Tests
// =============================================================================

func TestNewRuntime(t *testing.T) {
	rt, err := NewRuntime(context.Background(), domain.DockerSettings{Runtime: domain.RuntimeCLI}, newFakeRunner(), nil)
	require.NoError(t, err)
	assert.IsType(t, &CLIRuntime{}, rt)

	rt, err = NewRuntime(context.Background(), domain.DockerSettings{}, newFakeRunner(), nil)
	require.NoError(t, err)
	assert.IsType(t, &CLIRuntime{}, rt)

	_, err = NewRuntime(context.Background(), domain.DockerSettings{Runtime: "podman"}, newFakeRunner(), nil)
	assert.ErrorIs(t, err, ErrUnknownRuntime)

	var dockerErr *DockerError
	require.ErrorAs(t, err, &dockerErr)
	assert.Equal(t, "NewRuntime", dockerErr.Op)
}

func TestDockerError_Error(t *testing.T) {
	withID := NewDockerError("StopContainer", "container", "web", "container not found", ErrContainerNotFound)
	assert.Equal(t, "StopContainer container web: container not found", withID.Error())

	bare := NewDockerError("NewRuntime", "", "", "runtime \"x\"", ErrUnknownRuntime)
	assert.Equal(t, "NewRuntime: runtime \"x\"", bare.Error())
}
