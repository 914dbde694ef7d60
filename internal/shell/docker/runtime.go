// Package docker replaces the application container, either through the
// docker CLI or through the Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/artpar/dahlia-deploy/internal/core/deployment"
	"github.com/artpar/dahlia-deploy/internal/core/domain"
	"github.com/artpar/dahlia-deploy/internal/shell/process"
)

// =============================================================================
// Runtime Interface
// =============================================================================

// CleanupStep names one best-effort cleanup action.
type CleanupStep string

const (
	StepStop   CleanupStep = "stop"
	StepRemove CleanupStep = "remove"
)

// CleanupOutcome reports what happened to one cleanup step. A failed step is
// expected when no previous container exists.
type CleanupOutcome struct {
	Step     CleanupStep
	Name     string
	ExitCode int
	Stderr   string
	Err      error // step could not be attempted
}

// OK reports whether the step succeeded.
func (o CleanupOutcome) OK() bool {
	return o.Err == nil && o.ExitCode == 0
}

// Reason describes a failed step for logs.
func (o CleanupOutcome) Reason() string {
	switch {
	case o.Err != nil:
		return o.Err.Error()
	case o.ExitCode != 0:
		return fmt.Sprintf("exit status %d: %s", o.ExitCode, o.Stderr)
	}
	return ""
}

// Runtime replaces the single application container.
type Runtime interface {
	// Cleanup stops and removes the named container. It never fails the
	// caller; every step is reported in the returned outcomes.
	Cleanup(ctx context.Context, name string) []CleanupOutcome

	// Start launches a detached container. An error means the start request
	// could not be issued at all; a rejected request has a nonzero ExitCode.
	Start(ctx context.Context, spec deployment.ContainerSpec) (process.Result, error)
}

// NewRuntime selects the runtime named in the docker settings.
func NewRuntime(ctx context.Context, settings domain.DockerSettings, runner process.Runner, logger *slog.Logger) (Runtime, error) {
	switch settings.Runtime {
	case "", domain.RuntimeCLI:
		return NewCLIRuntime(runner, logger), nil
	case domain.RuntimeEngine:
		return NewEngineRuntime(ctx, settings.Host, logger)
	}
	return nil, NewDockerError("NewRuntime", "", "", fmt.Sprintf("runtime %q", settings.Runtime), ErrUnknownRuntime)
}

// LogCleanup writes each failed cleanup outcome at debug level.
func LogCleanup(logger *slog.Logger, outcomes []CleanupOutcome) {
	for _, o := range outcomes {
		if o.OK() {
			logger.Debug("cleanup step succeeded", "step", o.Step, "container", o.Name)
			continue
		}
		logger.Debug("cleanup step failed", "step", o.Step, "container", o.Name, "reason", o.Reason())
	}
}
