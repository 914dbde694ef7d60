package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Actions
// =============================================================================

var ErrUnknownAction = errors.New("unknown action")

// Action selects which stages a CLI invocation runs.
type Action string

const (
	ActionBuild  Action = "build"
	ActionDocker Action = "docker"
	ActionDeploy Action = "deploy"
	ActionHealth Action = "health"
	ActionFull   Action = "full"
)

// Actions lists the accepted actions in help order.
var Actions = []Action{ActionBuild, ActionDocker, ActionDeploy, ActionHealth, ActionFull}

// ParseAction validates a user supplied action name.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Stages returns the ordered stages executed for the action.
func (a Action) Stages() []StageName {
	switch a {
	case ActionBuild:
		return []StageName{StageBuild}
	case ActionDocker:
		return []StageName{StagePackage}
	case ActionDeploy:
		return []StageName{StageDeploy}
	case ActionHealth:
		return []StageName{StageVerify}
	case ActionFull:
		return append([]StageName(nil), FullPipeline...)
	}
	return nil
}

// =============================================================================
// Pipeline Run
// =============================================================================

// PipelineRun scopes one execution of the pipeline.
type PipelineRun struct {
	ID          string      `json:"id"`
	Environment string      `json:"environment"`
	Stages      []StageName `json:"stages"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Succeeded   bool        `json:"succeeded"`
	FailedStage StageName   `json:"failed_stage,omitempty"`
}

// NewPipelineRun creates a run for the given environment and stages.
func NewPipelineRun(environment string, stages []StageName, now time.Time) PipelineRun {
	return PipelineRun{
		ID:          uuid.New().String(),
		Environment: environment,
		Stages:      append([]StageName(nil), stages...),
		StartedAt:   now,
	}
}

// NeedsEnvironment reports whether any selected stage resolves an environment.
func (r PipelineRun) NeedsEnvironment() bool {
	for _, s := range r.Stages {
		if s.RequiresEnvironment() {
			return true
		}
	}
	return false
}

// Complete marks the run finished. An empty failed stage means success.
func (r *PipelineRun) Complete(failed StageName, now time.Time) {
	r.FailedStage = failed
	r.Succeeded = failed == ""
	r.FinishedAt = now
}

// Duration is the wall time between start and finish.
func (r PipelineRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
