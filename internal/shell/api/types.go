package api

import "github.com/artpar/dahlia-deploy/internal/core/domain"

// =============================================================================
// Response Types
// =============================================================================

// ListRunsResponse is the response for listing runs.
type ListRunsResponse struct {
	Runs        []domain.PipelineRun `json:"runs"`
	Total       int                  `json:"total"` // matching runs across all pages
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
	Environment string               `json:"environment,omitempty"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}
