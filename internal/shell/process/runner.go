// Package process runs external commands and captures their output.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/artpar/dahlia-deploy/internal/core/deployment"
)

// =============================================================================
// Errors
// =============================================================================

// ErrLaunchFailed indicates the command never ran (missing executable,
// permission denied, bad working directory).
var ErrLaunchFailed = errors.New("process launch failed")

// LaunchError wraps a launch failure with the command that failed.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q: %v", e.Command, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *LaunchError) Unwrap() []error {
	return []error{ErrLaunchFailed, e.Err}
}

// =============================================================================
// Runner
// =============================================================================

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Succeeded reports whether the command exited with status 0.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Runner executes commands. An error means the command could not be started;
// a nonzero exit is reported through Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, cmd deployment.Command) (Result, error)
}

// WaitDelay bounds how long Run waits for the output pipes to close after the
// process exits or is killed.
const WaitDelay = 2 * time.Second

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a runner. A nil logger defaults to slog.Default().
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger.With("component", "process")}
}

// Run executes cmd and waits for it to exit. Cancelling ctx kills the process
// and everything it started.
func (r *ExecRunner) Run(ctx context.Context, cmd deployment.Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = WaitDelay
	killProcessGroup(c)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.Debug("running command", "command", cmd.String())
	start := time.Now()
	err := c.Run()
	duration := time.Since(start)

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case c.ProcessState != nil:
			// Ran to exit; the error came from cancellation or a child
			// holding the pipes past WaitDelay.
			result.ExitCode = c.ProcessState.ExitCode()
		default:
			r.logger.Debug("command failed to start", "command", cmd.String(), "error", err)
			return Result{}, &LaunchError{Command: cmd.String(), Err: err}
		}
	}

	r.logger.Debug("command finished",
		"command", cmd.String(),
		"exit_code", result.ExitCode,
		"duration", duration,
	)
	return result, nil
}
