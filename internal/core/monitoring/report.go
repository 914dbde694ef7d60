package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Report Types
// =============================================================================

// HealthStatus is the coarse server health derived from recent errors.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
)

// Report tuning.
const (
	DefaultWindow      = time.Hour
	DegradedErrorCount = 10
	TopPathLimit       = 5
	UptimeEstimate     = "99.9%"
)

// PathCount is a request path and how often it was requested.
type PathCount struct {
	Path  string
	Count int
}

// PathCounts is ordered most common first. It encodes as a JSON/YAML object
// whose key order matches the slice order.
type PathCounts []PathCount

// MarshalJSON implements json.Marshaler.
func (pc PathCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range pc {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Path)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", p.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML implements yaml.Marshaler.
func (pc PathCounts) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range pc {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Path},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(p.Count)},
		)
	}
	return node, nil
}

// ReportMetrics holds the request and error tallies.
type ReportMetrics struct {
	TotalRequests int        `json:"total_requests" yaml:"total_requests"`
	TotalErrors   int        `json:"total_errors" yaml:"total_errors"`
	ErrorRate     float64    `json:"error_rate" yaml:"error_rate"`
	TopPaths      PathCounts `json:"top_paths" yaml:"top_paths"`
}

// ReportHealth summarizes server health.
type ReportHealth struct {
	Status         HealthStatus `json:"status" yaml:"status"`
	UptimeEstimate string       `json:"uptime_estimate" yaml:"uptime_estimate"`
}

// Report is the analytics output document.
type Report struct {
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Period    string        `json:"period" yaml:"period"`
	Metrics   ReportMetrics `json:"metrics" yaml:"metrics"`
	Health    ReportHealth  `json:"health" yaml:"health"`
}

// =============================================================================
// Report Generation
// =============================================================================

// Report summarizes entries observed after now-window.
func (a *Analyzer) Report(now time.Time, window time.Duration) Report {
	if window <= 0 {
		window = DefaultWindow
	}
	since := now.Add(-window)

	requests := recent(a.requests, since)
	errs := recent(a.errors, since)

	denominator := len(requests)
	if denominator < 1 {
		denominator = 1
	}

	return Report{
		Timestamp: now,
		Period:    FormatPeriod(window),
		Metrics: ReportMetrics{
			TotalRequests: len(requests),
			TotalErrors:   len(errs),
			ErrorRate:     float64(len(errs)) / float64(denominator),
			TopPaths:      TopPaths(requests, TopPathLimit),
		},
		Health: ReportHealth{
			Status:         DetermineHealth(len(errs)),
			UptimeEstimate: UptimeEstimate,
		},
	}
}

// DetermineHealth maps a recent error count to a health status.
func DetermineHealth(errorCount int) HealthStatus {
	if errorCount < DegradedErrorCount {
		return HealthStatusHealthy
	}
	return HealthStatusDegraded
}

// TopPaths counts request paths and returns the n most common. Ties keep the
// order in which paths were first seen.
func TopPaths(requests []Entry, n int) PathCounts {
	index := make(map[string]int)
	var counts PathCounts
	for _, r := range requests {
		i, ok := index[r.Path]
		if !ok {
			i = len(counts)
			index[r.Path] = i
			counts = append(counts, PathCount{Path: r.Path})
		}
		counts[i].Count++
	}

	// Insertion sort keeps equal counts in first-seen order.
	for i := 1; i < len(counts); i++ {
		for j := i; j > 0 && counts[j].Count > counts[j-1].Count; j-- {
			counts[j], counts[j-1] = counts[j-1], counts[j]
		}
	}

	if n >= 0 && len(counts) > n {
		counts = counts[:n]
	}
	if counts == nil {
		counts = PathCounts{}
	}
	return counts
}

// FormatPeriod renders a window as "Last 1 hour", "Last 6 hours" or
// "Last 30m0s".
func FormatPeriod(window time.Duration) string {
	if window%time.Hour == 0 {
		h := int(window / time.Hour)
		if h == 1 {
			return "Last 1 hour"
		}
		return fmt.Sprintf("Last %d hours", h)
	}
	return "Last " + window.String()
}

// Text renders the report for a terminal.
func (r Report) Text() string {
	var b strings.Builder
	b.WriteString("Analytics Report:\n")
	fmt.Fprintf(&b, "Period: %s\n", r.Period)
	fmt.Fprintf(&b, "Total Requests: %d\n", r.Metrics.TotalRequests)
	fmt.Fprintf(&b, "Total Errors: %d\n", r.Metrics.TotalErrors)
	fmt.Fprintf(&b, "Error Rate: %.2f%%\n", r.Metrics.ErrorRate*100)
	b.WriteString("Top Paths:\n")
	for _, p := range r.Metrics.TopPaths {
		fmt.Fprintf(&b, "  %s: %d\n", p.Path, p.Count)
	}
	fmt.Fprintf(&b, "Health Status: %s\n", r.Health.Status)
	return b.String()
}

func recent(entries []Entry, since time.Time) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.At.After(since) {
			out = append(out, e)
		}
	}
	return out
}
