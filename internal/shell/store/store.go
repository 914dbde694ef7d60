package store

import (
	"context"

	"github.com/artpar/dahlia-deploy/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// RunDetail is a stored run with its action records in append order.
type RunDetail struct {
	domain.PipelineRun
	Records []domain.ActionRecord `json:"records"`
}

// Store defines the persistence interface for run history.
type Store interface {
	SaveRun(ctx context.Context, run domain.PipelineRun, records []domain.ActionRecord) error
	GetRun(ctx context.Context, id string) (*RunDetail, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]domain.PipelineRun, error)
	CountRuns(ctx context.Context, environment string) (int, error)

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
// Runs are listed newest first.
type ListOptions struct {
	Limit       int
	Offset      int
	Environment string // empty for all environments
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
