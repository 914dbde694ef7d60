package docker

import (
	"context"
	"log/slog"

	"github.com/artpar/dahlia-deploy/internal/core/deployment"
	"github.com/artpar/dahlia-deploy/internal/shell/process"
)

// CLIRuntime drives the docker command line through a process runner.
type CLIRuntime struct {
	runner process.Runner
	logger *slog.Logger
}

// NewCLIRuntime creates a CLI runtime. A nil logger defaults to slog.Default().
func NewCLIRuntime(runner process.Runner, logger *slog.Logger) *CLIRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIRuntime{
		runner: runner,
		logger: logger.With("component", "docker", "runtime", "cli"),
	}
}

// Cleanup runs docker stop then docker rm, ignoring failures.
func (r *CLIRuntime) Cleanup(ctx context.Context, name string) []CleanupOutcome {
	steps := []CleanupStep{StepStop, StepRemove}
	outcomes := make([]CleanupOutcome, 0, len(steps))

	for i, cmd := range deployment.CleanupCommands(name) {
		outcome := CleanupOutcome{Step: steps[i], Name: name}
		result, err := r.runner.Run(ctx, cmd)
		if err != nil {
			outcome.Err = err
		} else {
			outcome.ExitCode = result.ExitCode
			outcome.Stderr = result.Stderr
		}
		outcomes = append(outcomes, outcome)
	}

	LogCleanup(r.logger, outcomes)
	return outcomes
}

// Start runs docker run -d.
func (r *CLIRuntime) Start(ctx context.Context, spec deployment.ContainerSpec) (process.Result, error) {
	return r.runner.Run(ctx, deployment.RunCommand(spec))
}
