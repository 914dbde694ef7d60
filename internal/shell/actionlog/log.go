// Package actionlog records pipeline stage events in append order.
package actionlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/artpar/dahlia-deploy/internal/core/domain"
)

// =============================================================================
// Observers
// =============================================================================

// Observer is notified synchronously after every append.
type Observer interface {
	OnAction(rec domain.ActionRecord)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(rec domain.ActionRecord)

// OnAction calls f(rec).
func (f ObserverFunc) OnAction(rec domain.ActionRecord) {
	f(rec)
}

// =============================================================================
// Log
// =============================================================================

// Log is an append-only sequence of action records.
// It is not safe for concurrent use.
type Log struct {
	now       func() time.Time
	records   []domain.ActionRecord
	observers []Observer
}

// New creates an empty log. A nil clock defaults to time.Now.
func New(now func() time.Time, observers ...Observer) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{
		now:       now,
		observers: observers,
	}
}

// Record appends a record stamped with the current clock value.
func (l *Log) Record(stage domain.StageName, status domain.StageStatus, details string) domain.ActionRecord {
	rec := domain.ActionRecord{
		Timestamp: l.now(),
		Action:    stage,
		Status:    status,
		Details:   details,
	}
	l.records = append(l.records, rec)
	for _, o := range l.observers {
		o.OnAction(rec)
	}
	return rec
}

// All returns a copy of every record in append order.
func (l *Log) All() []domain.ActionRecord {
	out := make([]domain.ActionRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *Log) Len() int {
	return len(l.records)
}

// =============================================================================
// Export
// =============================================================================

// Export writes the records as an indented JSON array.
func (l *Log) Export(w io.Writer) error {
	return WriteJSON(w, l.records)
}

// WriteJSON writes records as a JSON array with two-space indentation.
func WriteJSON(w io.Writer, records []domain.ActionRecord) error {
	if records == nil {
		records = []domain.ActionRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode action log: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write action log: %w", err)
	}
	return nil
}

// ExportFile writes records to path, replacing any existing file.
func ExportFile(path string, records []domain.ActionRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteJSON(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
