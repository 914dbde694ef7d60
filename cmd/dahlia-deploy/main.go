package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artpar/dahlia-deploy/internal/core/domain"
	"github.com/artpar/dahlia-deploy/internal/shell/docker"
	"github.com/artpar/dahlia-deploy/internal/shell/health"
	"github.com/artpar/dahlia-deploy/internal/shell/pipeline"
	"github.com/artpar/dahlia-deploy/internal/shell/process"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{
		stdout:    stdout,
		stderr:    stderr,
		buildDeps: defaultDependencies,
		now:       time.Now,
	}
	return a.execute(ctx, args)
}

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitFailure         = 1 // pipeline failure or runtime error
	ExitConfigError     = 1
	ExitUsage           = 2
	ExitHTTPServerError = 1
)

// =============================================================================
// App
// =============================================================================

// errPipelineFailed marks a run whose failure was already reported on stdout.
var errPipelineFailed = errors.New("pipeline failed")

// dependencyBuilder wires the orchestrator collaborators. The returned func
// releases them.
type dependencyBuilder func(ctx context.Context, settings domain.Settings, stages []domain.StageName, logger *slog.Logger) (pipeline.Dependencies, func(), error)

type app struct {
	stdout    io.Writer
	stderr    io.Writer
	buildDeps dependencyBuilder
	now       func() time.Time
}

func (a *app) execute(ctx context.Context, args []string) int {
	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	if !errors.Is(err, errPipelineFailed) {
		if errors.Is(ctx.Err(), context.Canceled) {
			fmt.Fprintln(a.stderr, "Operation cancelled")
		}
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return ExitCodeFor(err)
}

// defaultDependencies builds the production collaborators. The container
// runtime is only created when a selected stage deploys.
func defaultDependencies(ctx context.Context, settings domain.Settings, stages []domain.StageName, logger *slog.Logger) (pipeline.Dependencies, func(), error) {
	runner := process.NewExecRunner(logger)
	deps := pipeline.Dependencies{
		Runner: runner,
		Prober: health.NewHTTPProber(&http.Client{}, logger),
		Logger: logger,
		Clock:  time.Now,
	}
	release := func() {}

	for _, stage := range stages {
		if stage != domain.StageDeploy {
			continue
		}
		rt, err := docker.NewRuntime(ctx, settings.Docker, runner, logger)
		if err != nil {
			return pipeline.Dependencies{}, release, err
		}
		deps.Containers = rt
		if closer, ok := rt.(io.Closer); ok {
			release = func() {
				if err := closer.Close(); err != nil {
					logger.Warn("container runtime close failed", "error", err)
				}
			}
		}
	}

	return deps, release, nil
}

// =============================================================================
// Exit Code Mapping
// =============================================================================

// ExitCodeFor maps an error to the process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsage
	}
	var sErr *ServerError
	if errors.As(err, &sErr) {
		return sErr.ExitCode
	}
	return ExitFailure
}

// UsageError reports invalid flags or arguments.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

func usageErrorf(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}
