package model

import "time"

// RunState is a detection run state
type RunState string

const (
	RunStart       RunState = "start"
	RunFetch       RunState = "fetch"
	RunFilter      RunState = "filter"
	RunDeliverEach RunState = "deliver_each"
	RunCheckpoint  RunState = "checkpoint"
	RunDone        RunState = "done"
	RunFailed      RunState = "failed"
)

// RecordStatus summarizes what happened to one record in a run
type RecordStatus string

const (
	StatusDelivered           RecordStatus = "delivered"
	StatusFailed              RecordStatus = "failed"
	StatusRenderError         RecordStatus = "render_error"
	StatusDeliveredUnresolved RecordStatus = "delivered_unresolved"
	StatusUnresolved          RecordStatus = "unresolved"
)

// RecordReport is the per-record breakdown of a run
type RecordReport struct {
	RecordID string         `json:"record_id"`
	Title    string         `json:"title"`
	Status   RecordStatus   `json:"status"`
	Report   DeliveryReport `json:"report"`
	Error    string         `json:"error,omitempty"`
}

// RunSummary is the output of one detection run
type RunSummary struct {
	RunID           string         `json:"run_id"`
	Trigger         string         `json:"trigger"`
	State           RunState       `json:"state"`
	Since           time.Time      `json:"since"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	ProcessedCount  int            `json:"processed_count"`
	DeliveredCount  int            `json:"delivered_count"`
	FailedCount     int            `json:"failed_count"`
	UnresolvedCount int            `json:"unresolved_count"`
	SkippedCount    int            `json:"skipped_count"`
	Interrupted     bool           `json:"interrupted"`
	Reports         []RecordReport `json:"reports"`
	Error           string         `json:"error,omitempty"`
}

// Succeeded reports whether the run reached DONE
func (s RunSummary) Succeeded() bool {
	return s.State == RunDone
}
