// Package health issues HTTP probes against a deployed application.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// MaxBodySize caps how much of a health response is read.
const MaxBodySize = 1 << 20

// ErrProbeFailed indicates the request did not produce an HTTP response.
var ErrProbeFailed = errors.New("health probe failed")

// Response is the part of an HTTP response the verify stage inspects.
type Response struct {
	StatusCode int
	Body       []byte
}

// Prober performs one health request. An error means no response was
// received (connection refused, DNS failure, timeout).
type Prober interface {
	Probe(ctx context.Context, url string, timeout time.Duration) (Response, error)
}

// HTTPProber probes over net/http.
type HTTPProber struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPProber creates a prober. A nil client defaults to a fresh
// http.Client; timeouts are applied per probe.
func NewHTTPProber(client *http.Client, logger *slog.Logger) *HTTPProber {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProber{
		client: client,
		logger: logger.With("component", "health"),
	}
}

// Probe sends GET url and reads at most MaxBodySize bytes of the body.
func (p *HTTPProber) Probe(ctx context.Context, url string, timeout time.Duration) (Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe request failed", "url", url, "error", err)
		return Response{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read body: %v", ErrProbeFailed, err)
	}

	p.logger.Debug("probe response", "url", url, "status", resp.StatusCode, "bytes", len(body))
	return Response{StatusCode: resp.StatusCode, Body: body}, nil
}
