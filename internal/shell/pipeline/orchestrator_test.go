package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/dahlia-deploy/internal/core/deployment"
	"github.com/artpar/dahlia-deploy/internal/core/domain"
	"github.com/artpar/dahlia-deploy/internal/shell/actionlog"
	"github.com/artpar/dahlia-deploy/internal/shell/docker"
	"github.com/artpar/dahlia-deploy/internal/shell/health"
	"github.com/artpar/dahlia-deploy/internal/shell/process"
)

// =============================================================================
// Test Fakes
// =============================================================================

// fakeRunner answers by first argument ("build" for both go build and
// docker build, so it keys on the program too).
type fakeRunner struct {
	calls   []deployment.Command
	results map[string]process.Result
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: map[string]process.Result{}, errs: map[string]error{}}
}

func (f *fakeRunner) Run(_ context.Context, cmd deployment.Command) (process.Result, error) {
	f.calls = append(f.calls, cmd)
	key := cmd.Program + " " + cmd.Args[0]
	if err, ok := f.errs[key]; ok {
		return process.Result{}, err
	}
	return f.results[key], nil
}

type fakeRuntime struct {
	cleanups int
	starts   []deployment.ContainerSpec
	result   process.Result
	err      error
}

func (f *fakeRuntime) Cleanup(_ context.Context, name string) []docker.CleanupOutcome {
	f.cleanups++
	return []docker.CleanupOutcome{
		{Step: docker.StepStop, Name: name, ExitCode: 1, Stderr: "No such container"},
		{Step: docker.StepRemove, Name: name, ExitCode: 1, Stderr: "No such container"},
	}
}

func (f *fakeRuntime) Start(_ context.Context, spec deployment.ContainerSpec) (process.Result, error) {
	f.starts = append(f.starts, spec)
	return f.result, f.err
}

type probeAnswer struct {
	resp health.Response
	err  error
}

type fakeProber struct {
	answers  []probeAnswer
	urls     []string
	timeouts []time.Duration
}

func (f *fakeProber) Probe(_ context.Context, url string, timeout time.Duration) (health.Response, error) {
	i := len(f.urls)
	f.urls = append(f.urls, url)
	f.timeouts = append(f.timeouts, timeout)
	if i >= len(f.answers) {
		i = len(f.answers) - 1
	}
	a := f.answers[i]
	return a.resp, a.err
}

var (
	healthy   = probeAnswer{resp: health.Response{StatusCode: 200, Body: []byte(`{"status":"healthy"}`)}}
	unhealthy = probeAnswer{resp: health.Response{StatusCode: 503, Body: []byte(`{"status":"starting"}`)}}
	malformed = probeAnswer{resp: health.Response{StatusCode: 200, Body: []byte(`<html>ok</html>`)}}
	refused   = probeAnswer{err: errors.New("connection refused")}
)

type fakeSleeper struct {
	calls []time.Duration
	err   error
}

func (f *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	f.calls = append(f.calls, d)
	return f.err
}

type harness struct {
	runner  *fakeRunner
	runtime *fakeRuntime
	prober  *fakeProber
	sleeper *fakeSleeper
	orch    *Orchestrator
}

func newHarness(t *testing.T, answers ...probeAnswer) *harness {
	t.Helper()
	if len(answers) == 0 {
		answers = []probeAnswer{healthy}
	}
	h := &harness{
		runner:  newFakeRunner(),
		runtime: &fakeRuntime{},
		prober:  &fakeProber{answers: answers},
		sleeper: &fakeSleeper{},
	}
	clock := time.Unix(1700000000, 0)
	h.orch = NewOrchestrator(domain.DefaultSettings(), Dependencies{
		Runner:     h.runner,
		Containers: h.runtime,
		Prober:     h.prober,
		Sleep:      h.sleeper.Sleep,
		Clock: func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		},
	})
	return h
}

func statuses(records []domain.ActionRecord) []domain.StageStatus {
	out := make([]domain.StageStatus, len(records))
	for i, r := range records {
		out[i] = r.Status
	}
	return out
}

func hasStarting(records []domain.ActionRecord, stage domain.StageName) bool {
	for _, r := range records {
		if r.Action == stage && r.Status == domain.StatusStarting {
			return true
		}
	}
	return false
}

// =============================================================================
// Build and Package Tests
// =============================================================================

func TestBuild_Success(t *testing.T) {
	h := newHarness(t)

	ok := h.orch.Build(context.Background())

	assert.True(t, ok)
	require.Len(t, h.runner.calls, 1)
	assert.Equal(t, []string{"go", "build", "-o", "bin/dahlia", "./cmd/server"}, h.runner.calls[0].Argv())
	assert.Equal(t, []domain.StageStatus{domain.StatusStarting, domain.StatusSuccess}, statuses(h.orch.Records()))
}

func TestBuild_NonzeroExitRecordsStderr(t *testing.T) {
	h := newHarness(t)
	h.runner.results["go build"] = process.Result{ExitCode: 2, Stderr: "undefined: handler"}

	ok := h.orch.Build(context.Background())

	assert.False(t, ok)
	records := h.orch.Records()
	require.Len(t, records, 2)
	assert.Equal(t, domain.StatusFailed, records[1].Status)
	assert.Equal(t, "Go build failed: undefined: handler", records[1].Details)
}

func TestBuild_LaunchErrorIsError(t *testing.T) {
	h := newHarness(t)
	h.runner.errs["go build"] = &process.LaunchError{Command: "go build", Err: errors.New("executable file not found")}

	ok := h.orch.Build(context.Background())

	assert.False(t, ok)
	records := h.orch.Records()
	assert.Equal(t, domain.StatusError, records[len(records)-1].Status)
	assert.Contains(t, records[len(records)-1].Details, "Build error: ")
}

func TestPackage_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		result process.Result
		err    error
		ok     bool
		status domain.StageStatus
		detail string
	}{
		{"success", process.Result{}, nil, true, domain.StatusSuccess, "Docker image dahlia built"},
		{"failed", process.Result{ExitCode: 1, Stderr: "no Dockerfile"}, nil, false, domain.StatusFailed, "Docker build failed: no Dockerfile"},
		{"error", process.Result{}, errors.New("docker missing"), false, domain.StatusError, "Docker error: docker missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.runner.results["docker build"] = tt.result
			if tt.err != nil {
				h.runner.errs["docker build"] = tt.err
			}

			assert.Equal(t, tt.ok, h.orch.Package(context.Background()))

			records := h.orch.Records()
			require.Len(t, records, 2)
			assert.Equal(t, "Building Docker image: dahlia", records[0].Details)
			assert.Equal(t, tt.status, records[1].Status)
			assert.Equal(t, tt.detail, records[1].Details)
			assert.Equal(t, []string{"docker", "build", "-t", "dahlia", "."}, h.runner.calls[0].Argv())
		})
	}
}

// =============================================================================
// Deploy Tests
// =============================================================================

func TestDeploy_CleanupFailuresDoNotFailStage(t *testing.T) {
	h := newHarness(t)

	ok := h.orch.Deploy(context.Background(), "development")

	assert.True(t, ok)
	assert.Equal(t, 1, h.runtime.cleanups)
	require.Len(t, h.runtime.starts, 1)
	spec := h.runtime.starts[0]
	assert.Equal(t, "dahlia-app", spec.Name)
	assert.Equal(t, "dahlia", spec.Image)
	assert.Equal(t, "8080:8080", spec.Ports[0].String())

	records := h.orch.Records()
	assert.Equal(t, "Deploying to development", records[0].Details)
	assert.Equal(t, "Container deployed: dahlia-app", records[1].Details)
}

func TestDeploy_StartFailure(t *testing.T) {
	h := newHarness(t)
	h.runtime.result = process.Result{ExitCode: 125, Stderr: "port is already allocated"}

	assert.False(t, h.orch.Deploy(context.Background(), "development"))

	records := h.orch.Records()
	assert.Equal(t, domain.StatusFailed, records[len(records)-1].Status)
	assert.Equal(t, "Deploy failed: port is already allocated", records[len(records)-1].Details)
}

func TestDeploy_StartError(t *testing.T) {
	h := newHarness(t)
	h.runtime.err = docker.NewDockerError("CreateContainer", "container", "dahlia-app", "daemon down", docker.ErrConnectionFailed)

	assert.False(t, h.orch.Deploy(context.Background(), "development"))

	records := h.orch.Records()
	assert.Equal(t, domain.StatusError, records[len(records)-1].Status)
}

func TestDeploy_UnknownEnvironment(t *testing.T) {
	h := newHarness(t)

	ok := h.orch.Deploy(context.Background(), "qa")

	assert.False(t, ok)
	records := h.orch.Records()
	require.Len(t, records, 1)
	assert.Equal(t, domain.StageDeploy, records[0].Action)
	assert.Equal(t, domain.StatusError, records[0].Status)
	assert.Equal(t, "Unknown environment: qa", records[0].Details)
	assert.Zero(t, h.runtime.cleanups)
	assert.Empty(t, h.runtime.starts)
	assert.Empty(t, h.runner.calls)
}

// =============================================================================
// Verify Tests
// =============================================================================

func TestVerify_UnknownEnvironment(t *testing.T) {
	h := newHarness(t)

	ok := h.orch.Verify(context.Background(), "qa")

	assert.False(t, ok)
	records := h.orch.Records()
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusError, records[0].Status)
	assert.Empty(t, h.prober.urls)
}

func TestVerify_HealthyFirstAttempt(t *testing.T) {
	h := newHarness(t, healthy)

	ok := h.orch.Verify(context.Background(), "development")

	assert.True(t, ok)
	assert.Equal(t, []string{"http://localhost:8080/health"}, h.prober.urls)
	assert.Equal(t, []time.Duration{10 * time.Second}, h.prober.timeouts)
	assert.Empty(t, h.sleeper.calls)
	records := h.orch.Records()
	assert.Equal(t, "Application healthy at http://localhost:8080/health", records[len(records)-1].Details)
}

func TestVerify_RetriesThenHealthy(t *testing.T) {
	h := newHarness(t, unhealthy, refused, healthy)

	ok := h.orch.VerifyAttempts(context.Background(), "development", 3)

	assert.True(t, ok)
	assert.Len(t, h.prober.urls, 3)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, h.sleeper.calls)
	assert.Equal(t, []domain.StageStatus{
		domain.StatusStarting,
		domain.StatusRetrying,
		domain.StatusRetrying,
		domain.StatusSuccess,
	}, statuses(h.orch.Records()))
}

func TestVerify_AllAttemptsFail(t *testing.T) {
	h := newHarness(t, unhealthy)

	ok := h.orch.VerifyAttempts(context.Background(), "development", 3)

	assert.False(t, ok)
	assert.Len(t, h.prober.urls, 3)
	assert.Len(t, h.sleeper.calls, 2)

	records := h.orch.Records()
	last := records[len(records)-1]
	assert.Equal(t, domain.StatusFailed, last.Status)
	assert.Contains(t, last.Details, "All 3 health checks failed")
	assert.Contains(t, last.Details, "unexpected HTTP status 503")
}

func TestVerify_MalformedBodyIsRetried(t *testing.T) {
	h := newHarness(t, malformed, healthy)

	assert.True(t, h.orch.VerifyAttempts(context.Background(), "development", 3))
	assert.Len(t, h.prober.urls, 2)
	assert.Equal(t, domain.StatusRetrying, h.orch.Records()[1].Status)
}

func TestVerify_SingleAttemptNeverSleeps(t *testing.T) {
	h := newHarness(t, refused)

	assert.False(t, h.orch.VerifyAttempts(context.Background(), "development", 1))
	assert.Len(t, h.prober.urls, 1)
	assert.Empty(t, h.sleeper.calls)
	assert.Equal(t, []domain.StageStatus{domain.StatusStarting, domain.StatusFailed}, statuses(h.orch.Records()))
}

func TestVerify_CancelledDuringDelay(t *testing.T) {
	h := newHarness(t, unhealthy)
	h.sleeper.err = context.Canceled

	assert.False(t, h.orch.Verify(context.Background(), "development"))
	assert.Len(t, h.prober.urls, 1)

	records := h.orch.Records()
	assert.Equal(t, domain.StatusFailed, records[len(records)-1].Status)
	assert.Contains(t, records[len(records)-1].Details, "cancelled")
}

func TestVerify_UsesConfiguredPolicy(t *testing.T) {
	h := newHarness(t, unhealthy)
	settings := domain.DefaultSettings()
	settings.Verify = domain.VerifyPolicy{MaxAttempts: 2, RetryDelay: time.Second, RequestTimeout: 3 * time.Second, Path: "status"}
	h.orch = NewOrchestrator(settings, Dependencies{Prober: h.prober, Sleep: h.sleeper.Sleep})

	assert.False(t, h.orch.Verify(context.Background(), "staging"))
	assert.Equal(t, []string{"http://staging.example.com/status", "http://staging.example.com/status"}, h.prober.urls)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, h.prober.timeouts)
	assert.Equal(t, []time.Duration{time.Second}, h.sleeper.calls)
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_AllStagesSucceed(t *testing.T) {
	h := newHarness(t)

	ok := h.orch.Run(context.Background(), "development")

	assert.True(t, ok)
	var successes []domain.StageName
	for _, r := range h.orch.Records() {
		if r.Status == domain.StatusSuccess {
			successes = append(successes, r.Action)
		}
	}
	assert.Equal(t, domain.FullPipeline, successes)
}

func TestRun_FailFastAtEachStage(t *testing.T) {
	tests := []struct {
		name   string
		inject func(h *harness)
		failed domain.StageName
	}{
		{"build", func(h *harness) { h.runner.results["go build"] = process.Result{ExitCode: 1} }, domain.StageBuild},
		{"package", func(h *harness) { h.runner.results["docker build"] = process.Result{ExitCode: 1} }, domain.StagePackage},
		{"deploy", func(h *harness) { h.runtime.result = process.Result{ExitCode: 125} }, domain.StageDeploy},
		{"verify", func(h *harness) { h.prober.answers = []probeAnswer{unhealthy} }, domain.StageVerify},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.inject(h)

			run := h.orch.Execute(context.Background(), "development", domain.FullPipeline)

			assert.False(t, run.Succeeded)
			assert.Equal(t, tt.failed, run.FailedStage)

			records := h.orch.Records()
			after := false
			for _, stage := range domain.FullPipeline {
				if after {
					assert.False(t, hasStarting(records, stage), "stage %s should not start", stage)
				}
				if stage == tt.failed {
					after = true
				}
			}
		})
	}
}

func TestRun_BuildFailureInvokesNothingElse(t *testing.T) {
	h := newHarness(t)
	h.runner.results["go build"] = process.Result{ExitCode: 1, Stderr: "syntax error"}

	ok := h.orch.Run(context.Background(), "development")

	assert.False(t, ok)
	assert.Len(t, h.runner.calls, 1)
	assert.Zero(t, h.runtime.cleanups)
	assert.Empty(t, h.runtime.starts)
	assert.Empty(t, h.prober.urls)
}

func TestExecute_UnknownEnvironmentRunsNothing(t *testing.T) {
	h := newHarness(t)

	run := h.orch.Execute(context.Background(), "qa", domain.FullPipeline)

	assert.False(t, run.Succeeded)
	assert.Equal(t, domain.StageDeploy, run.FailedStage)
	assert.Empty(t, h.runner.calls)
	assert.Empty(t, h.prober.urls)

	records := h.orch.Records()
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusError, records[0].Status)
	assert.Equal(t, "Unknown environment: qa", records[0].Details)
}

func TestExecute_BuildOnlyIgnoresEnvironment(t *testing.T) {
	h := newHarness(t)

	run := h.orch.Execute(context.Background(), "qa", domain.ActionBuild.Stages())

	assert.True(t, run.Succeeded)
	assert.Len(t, h.runner.calls, 1)
}

func TestExecute_FreshLogPerRun(t *testing.T) {
	var observed int
	h := newHarness(t)
	h.orch = NewOrchestrator(domain.DefaultSettings(), Dependencies{
		Runner:    h.runner,
		Observers: []actionlog.Observer{actionlog.ObserverFunc(func(domain.ActionRecord) { observed++ })},
	})

	h.orch.Execute(context.Background(), "development", domain.ActionBuild.Stages())
	h.orch.Execute(context.Background(), "development", domain.ActionBuild.Stages())

	assert.Len(t, h.orch.Records(), 2)
	assert.Equal(t, 4, observed)
}

func TestExecute_RunTiming(t *testing.T) {
	h := newHarness(t)

	run := h.orch.Execute(context.Background(), "development", domain.FullPipeline)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "development", run.Environment)
	assert.Positive(t, run.Duration())
}

// =============================================================================
// Export Tests
// =============================================================================

func TestExportLog_Idempotent(t *testing.T) {
	h := newHarness(t, unhealthy)
	h.orch.Run(context.Background(), "development")

	var first, second bytes.Buffer
	require.NoError(t, h.orch.ExportLog(&first))
	require.NoError(t, h.orch.ExportLog(&second))

	assert.Equal(t, first.String(), second.String())
	assert.Contains(t, first.String(), `"action": "VERIFY"`)
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestExecute_UnknownStageStopsRun(t *testing.T) {
	h := newHarness(t)

	run := h.orch.Execute(context.Background(), "development",
		[]domain.StageName{domain.StageName("ROLLBACK"), domain.StageBuild})

	assert.False(t, run.Succeeded)
	assert.Equal(t, domain.StageName("ROLLBACK"), run.FailedStage)
	records := h.orch.Records()
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusError, records[0].Status)
	assert.Equal(t, "Unknown stage: ROLLBACK", records[0].Details)
	assert.Empty(t, h.runner.calls)
}
