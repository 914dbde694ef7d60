package domain

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// HealthyStatus is the body status value that marks a live deployment.
const HealthyStatus = "healthy"

// HealthVerdict is the classification of a single health probe response.
type HealthVerdict struct {
	Healthy bool
	Reason  string
}

// healthBody is the subset of the health payload the pipeline inspects.
type healthBody struct {
	Status string `json:"status"`
}

// EvaluateHealth classifies a health endpoint response. Only HTTP 200 with a
// JSON body whose status field equals "healthy" is healthy. A 200 response
// with a body that is not valid JSON is unhealthy and therefore retried.
func EvaluateHealth(statusCode int, body []byte) HealthVerdict {
	if statusCode != http.StatusOK {
		return HealthVerdict{Reason: fmt.Sprintf("unexpected HTTP status %d", statusCode)}
	}

	var b healthBody
	if err := json.Unmarshal(body, &b); err != nil {
		return HealthVerdict{Reason: fmt.Sprintf("malformed health response: %v", err)}
	}
	if b.Status != HealthyStatus {
		return HealthVerdict{Reason: fmt.Sprintf("reported status %q", b.Status)}
	}

	return HealthVerdict{Healthy: true}
}
