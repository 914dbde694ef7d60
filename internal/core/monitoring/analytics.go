// Package monitoring provides pure functions for server log analytics.
// This package contains NO I/O: callers feed it lines and read back reports.
package monitoring

import (
	"strings"
	"time"
)

// =============================================================================
// Line Classification
// =============================================================================

// EntryKind distinguishes the log lines the analyzer counts.
type EntryKind int

const (
	EntryRequest EntryKind = iota + 1
	EntryError
)

// Known request paths. Anything else is reported as UnknownPath.
const (
	PathHealth  = "/health"
	PathStatus  = "/api/v1/status"
	UnknownPath = "/unknown"
)

// Entry is one counted log line.
type Entry struct {
	Kind    EntryKind
	Path    string // requests only
	Message string // errors only
	At      time.Time
}

// ClassifyLine decides whether a line is a GET request, an error, or noise.
// A line that is both an [INFO] GET request and an [ERROR] counts as a request.
func ClassifyLine(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	switch {
	case strings.Contains(line, "[INFO]") && strings.Contains(line, "GET"):
		return Entry{Kind: EntryRequest, Path: ExtractPath(line)}, true
	case strings.Contains(line, "[ERROR]"):
		return Entry{Kind: EntryError, Message: line}, true
	}
	return Entry{}, false
}

// ExtractPath maps a request line to one of the tracked paths.
func ExtractPath(line string) string {
	switch {
	case strings.Contains(line, PathHealth):
		return PathHealth
	case strings.Contains(line, PathStatus):
		return PathStatus
	}
	return UnknownPath
}

// =============================================================================
// Analyzer
// =============================================================================

// Analyzer accumulates classified entries.
type Analyzer struct {
	requests []Entry
	errors   []Entry
}

// NewAnalyzer returns an empty analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Add classifies one line observed at the given time. It reports whether the
// line was counted.
func (a *Analyzer) Add(line string, at time.Time) bool {
	e, ok := ClassifyLine(line)
	if !ok {
		return false
	}
	e.At = at
	if e.Kind == EntryRequest {
		a.requests = append(a.requests, e)
	} else {
		a.errors = append(a.errors, e)
	}
	return true
}

// Requests returns the number of request entries recorded so far.
func (a *Analyzer) Requests() int { return len(a.requests) }

// Errors returns the number of error entries recorded so far.
func (a *Analyzer) Errors() int { return len(a.errors) }
