package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ActionRecord is one immutable audit-log entry describing a stage attempt.
type ActionRecord struct {
	Timestamp time.Time
	Action    StageName
	Status    StageStatus
	Details   string
}

// actionRecordJSON is the export shape: timestamps are epoch seconds with
// microsecond precision.
type actionRecordJSON struct {
	Timestamp float64     `json:"timestamp"`
	Action    StageName   `json:"action"`
	Status    StageStatus `json:"status"`
	Details   string      `json:"details"`
}

// EpochSeconds converts t to fractional Unix seconds truncated to microseconds.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// FromEpochSeconds is the inverse of EpochSeconds.
func FromEpochSeconds(s float64) time.Time {
	return time.UnixMicro(int64(math.Round(s * 1e6)))
}

// MarshalJSON implements json.Marshaler.
func (r ActionRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(actionRecordJSON{
		Timestamp: EpochSeconds(r.Timestamp),
		Action:    r.Action,
		Status:    r.Status,
		Details:   r.Details,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ActionRecord) UnmarshalJSON(data []byte) error {
	var raw actionRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode action record: %w", err)
	}
	r.Timestamp = FromEpochSeconds(raw.Timestamp)
	r.Action = raw.Action
	r.Status = raw.Status
	r.Details = raw.Details
	return nil
}

// String renders the record as a console status line.
func (r ActionRecord) String() string {
	return fmt.Sprintf("[%s] %s: %s", r.Status, r.Action, r.Details)
}
