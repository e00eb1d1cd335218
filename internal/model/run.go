package model

import "time"

// RunMode selects which window of applications a run fetches.
type RunMode string

const (
	ModeCurrent    RunMode = "current"
	ModeHistorical RunMode = "historical"
)

// RunStatus tracks a run through its lifecycle.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// Terminal reports whether the status is final. Terminal runs are immutable.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusSkipped:
		return true
	default:
		return false
	}
}

// RunError describes one error observed during a run. Record-level errors
// are collected here rather than failing the run.
type RunError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Record  string `json:"record,omitempty"`
}

// RunCounts summarizes record flow through one run.
type RunCounts struct {
	Fetched    int `json:"fetched"`
	Normalized int `json:"normalized"`
	Persisted  int `json:"persisted"`
	New        int `json:"new"`
	Updated    int `json:"updated"`
	Duplicate  int `json:"duplicate"`
	Skipped    int `json:"skipped"`
}

// Run is one execution attempt of a source's pipeline. Created by the
// scheduler, mutated only by the owning coordinator, retained for audit.
type Run struct {
	ID          string     `json:"id"`
	SourceCode  string     `json:"source_code"`
	Mode        RunMode    `json:"mode"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Counts      RunCounts  `json:"counts"`
	Errors      []RunError `json:"errors,omitempty"`
	BatchID     string     `json:"batch_id,omitempty"`
	AvgScore    float64    `json:"avg_score,omitempty"`
}

// DateRange bounds a historical fetch.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}
