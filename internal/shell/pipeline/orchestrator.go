// Package pipeline sequences the build, package, deploy and verify stages.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/artpar/dahlia-deploy/internal/core/deployment"
	"github.com/artpar/dahlia-deploy/internal/core/domain"
	"github.com/artpar/dahlia-deploy/internal/shell/actionlog"
	"github.com/artpar/dahlia-deploy/internal/shell/docker"
	"github.com/artpar/dahlia-deploy/internal/shell/health"
	"github.com/artpar/dahlia-deploy/internal/shell/process"
)

// =============================================================================
// Orchestrator - Runs Pipeline Stages
// =============================================================================

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Dependencies are the collaborators an Orchestrator drives.
type Dependencies struct {
	Runner     process.Runner
	Containers docker.Runtime
	Prober     health.Prober
	Logger     *slog.Logger
	Clock      func() time.Time
	Sleep      SleepFunc
	Observers  []actionlog.Observer
}

// Orchestrator runs pipeline stages and records every step in an action log.
// It is not safe for concurrent use.
type Orchestrator struct {
	settings   domain.Settings
	runner     process.Runner
	containers docker.Runtime
	prober     health.Prober
	logger     *slog.Logger
	clock      func() time.Time
	sleep      SleepFunc
	observers  []actionlog.Observer
	log        *actionlog.Log
}

// NewOrchestrator creates an orchestrator for the given settings.
func NewOrchestrator(settings domain.Settings, deps Dependencies) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = Sleep
	}
	settings.Verify = settings.Verify.WithDefaults()

	o := &Orchestrator{
		settings:   settings,
		runner:     deps.Runner,
		containers: deps.Containers,
		prober:     deps.Prober,
		logger:     deps.Logger.With("component", "pipeline"),
		clock:      deps.Clock,
		sleep:      deps.Sleep,
		observers:  deps.Observers,
	}
	o.log = actionlog.New(o.clock, o.observers...)
	return o
}

// Sleep waits for d, returning early with ctx.Err() if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Records returns the action records of the current run.
func (o *Orchestrator) Records() []domain.ActionRecord {
	return o.log.All()
}

// ExportLog writes the current action records as a JSON array.
func (o *Orchestrator) ExportLog(w io.Writer) error {
	return o.log.Export(w)
}

func (o *Orchestrator) record(stage domain.StageName, status domain.StageStatus, details string) {
	o.log.Record(stage, status, details)
}

func (o *Orchestrator) environment(stage domain.StageName, name string) (domain.Environment, bool) {
	env, err := o.settings.Environment(name)
	if err != nil {
		o.logger.Error("environment lookup failed", "stage", stage, "environment", name, "error", err)
		o.record(stage, domain.StatusError, "Unknown environment: "+name)
		return domain.Environment{}, false
	}
	return env, true
}

// =============================================================================
// Build and Package
// =============================================================================

// Build compiles the application binary.
func (o *Orchestrator) Build(ctx context.Context) bool {
	o.record(domain.StageBuild, domain.StatusStarting, "Building Go application")

	result, err := o.runner.Run(ctx, deployment.BuildCommand(o.settings.Build))
	switch {
	case err != nil:
		o.record(domain.StageBuild, domain.StatusError, "Build error: "+err.Error())
		return false
	case !result.Succeeded():
		o.record(domain.StageBuild, domain.StatusFailed, "Go build failed: "+result.Stderr)
		return false
	}

	o.record(domain.StageBuild, domain.StatusSuccess, "Go application built successfully")
	return true
}

// Package builds the container image. It does not check for the build
// artifact; a missing binary surfaces as a failed image build.
func (o *Orchestrator) Package(ctx context.Context) bool {
	image := o.settings.Docker.ImageName
	o.record(domain.StagePackage, domain.StatusStarting, "Building Docker image: "+image)

	result, err := o.runner.Run(ctx, deployment.PackageCommand(o.settings.Docker))
	switch {
	case err != nil:
		o.record(domain.StagePackage, domain.StatusError, "Docker error: "+err.Error())
		return false
	case !result.Succeeded():
		o.record(domain.StagePackage, domain.StatusFailed, "Docker build failed: "+result.Stderr)
		return false
	}

	o.record(domain.StagePackage, domain.StatusSuccess, fmt.Sprintf("Docker image %s built", image))
	return true
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy replaces the application container for the environment.
func (o *Orchestrator) Deploy(ctx context.Context, envName string) bool {
	if _, ok := o.environment(domain.StageDeploy, envName); !ok {
		return false
	}

	spec := deployment.ContainerSpecFor(o.settings.Docker)
	o.record(domain.StageDeploy, domain.StatusStarting, "Deploying to "+envName)

	// Previous instance may not exist; outcomes are logged by the runtime.
	o.containers.Cleanup(ctx, spec.Name)

	result, err := o.containers.Start(ctx, spec)
	switch {
	case err != nil:
		o.record(domain.StageDeploy, domain.StatusError, "Deploy error: "+err.Error())
		return false
	case !result.Succeeded():
		o.record(domain.StageDeploy, domain.StatusFailed, "Deploy failed: "+result.Stderr)
		return false
	}

	o.record(domain.StageDeploy, domain.StatusSuccess, "Container deployed: "+spec.Name)
	return true
}

// =============================================================================
// Verify
// =============================================================================

// Verify probes the environment's health endpoint up to the configured
// number of attempts.
func (o *Orchestrator) Verify(ctx context.Context, envName string) bool {
	return o.VerifyAttempts(ctx, envName, o.settings.Verify.MaxAttempts)
}

// VerifyAttempts probes the health endpoint at most maxAttempts times,
// sleeping the retry delay between attempts but not after the last one.
func (o *Orchestrator) VerifyAttempts(ctx context.Context, envName string, maxAttempts int) bool {
	env, ok := o.environment(domain.StageVerify, envName)
	if !ok {
		return false
	}
	if maxAttempts <= 0 {
		maxAttempts = o.settings.Verify.MaxAttempts
	}

	policy := o.settings.Verify
	url := env.HealthURL(policy.Path)
	o.record(domain.StageVerify, domain.StatusStarting,
		fmt.Sprintf("Checking %s (health timeout %ds)", url, env.HealthTimeout))

	var reason string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		healthy, why := o.probe(ctx, url, policy.RequestTimeout)
		if healthy {
			o.record(domain.StageVerify, domain.StatusSuccess, "Application healthy at "+url)
			return true
		}
		reason = why
		o.logger.Debug("health check attempt failed", "attempt", attempt, "url", url, "reason", reason)

		if attempt == maxAttempts {
			break
		}
		o.record(domain.StageVerify, domain.StatusRetrying,
			fmt.Sprintf("Attempt %d failed, retrying in %s: %s", attempt, policy.RetryDelay, reason))

		if err := o.sleep(ctx, policy.RetryDelay); err != nil {
			o.record(domain.StageVerify, domain.StatusFailed, "Health check cancelled: "+err.Error())
			return false
		}
	}

	o.record(domain.StageVerify, domain.StatusFailed,
		fmt.Sprintf("All %d health checks failed: %s", maxAttempts, reason))
	return false
}

func (o *Orchestrator) probe(ctx context.Context, url string, timeout time.Duration) (bool, string) {
	resp, err := o.prober.Probe(ctx, url, timeout)
	if err != nil {
		return false, "Request failed: " + err.Error()
	}
	verdict := domain.EvaluateHealth(resp.StatusCode, resp.Body)
	return verdict.Healthy, verdict.Reason
}

// =============================================================================
// Run
// =============================================================================

// Run executes the full pipeline against envName.
func (o *Orchestrator) Run(ctx context.Context, envName string) bool {
	return o.Execute(ctx, envName, domain.FullPipeline).Succeeded
}

// Execute runs stages in order with a fresh action log, stopping at the
// first stage that does not succeed. When any selected stage needs an
// environment, the environment is resolved before anything runs.
func (o *Orchestrator) Execute(ctx context.Context, envName string, stages []domain.StageName) domain.PipelineRun {
	o.log = actionlog.New(o.clock, o.observers...)
	run := domain.NewPipelineRun(envName, stages, o.clock())

	logger := o.logger.With("run_id", run.ID, "environment", envName)
	logger.Info("pipeline started", "stages", joinStages(stages))

	if run.NeedsEnvironment() {
		if _, err := o.settings.Environment(envName); err != nil {
			stage := firstEnvironmentStage(stages)
			o.environment(stage, envName)
			run.Complete(stage, o.clock())
			logger.Error("pipeline aborted", "error", err)
			return run
		}
	}

	var failed domain.StageName
	for _, stage := range stages {
		if !o.runStage(ctx, stage, envName) {
			failed = stage
			break
		}
	}

	run.Complete(failed, o.clock())
	if run.Succeeded {
		logger.Info("pipeline succeeded", "duration", run.Duration(), "records", o.log.Len())
	} else {
		logger.Warn("pipeline failed", "stage", failed, "duration", run.Duration(), "records", o.log.Len())
	}
	return run
}

func (o *Orchestrator) runStage(ctx context.Context, stage domain.StageName, envName string) bool {
	if !stage.IsValid() {
		o.record(stage, domain.StatusError, fmt.Sprintf("Unknown stage: %s", stage))
		return false
	}

	switch stage {
	case domain.StageBuild:
		return o.Build(ctx)
	case domain.StagePackage:
		return o.Package(ctx)
	case domain.StageDeploy:
		return o.Deploy(ctx, envName)
	case domain.StageVerify:
		return o.Verify(ctx, envName)
	}
	return false
}

func firstEnvironmentStage(stages []domain.StageName) domain.StageName {
	for _, s := range stages {
		if s.RequiresEnvironment() {
			return s
		}
	}
	return ""
}

func joinStages(stages []domain.StageName) string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	return strings.Join(names, ",")
}
