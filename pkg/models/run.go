package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStage is the pipeline state machine. Stages advance strictly forward;
// a run that hits an infrastructure failure is marked failed so a later
// attempt in the same window can reclaim its row.
type RunStage string

const (
	StageScheduled   RunStage = "scheduled"
	StageScraping    RunStage = "scraping"
	StageNormalizing RunStage = "normalizing"
	StageResolving   RunStage = "resolving"
	StagePersisting  RunStage = "persisting"
	StageProjecting  RunStage = "projecting"
	StageCompleted   RunStage = "completed"
	StageFailed      RunStage = "failed"
)

// PipelineRun is one execution of the pipeline for a source and window.
// The unique (source_id, window_start) index is the relational backstop for
// at-most-one-in-flight; the Redis lock is the fast path.
type PipelineRun struct {
	ID          uuid.UUID `json:"id" db:"id"`
	SourceID    uuid.UUID `json:"source_id" db:"source_id"`
	WindowStart time.Time `json:"window_start" db:"window_start"`
	Stage       RunStage  `json:"stage" db:"stage"`

	RecordsIn        int `json:"records_in" db:"records_in"`
	RecordsResolved  int `json:"records_resolved" db:"records_resolved"`
	RecordsPersisted int `json:"records_persisted" db:"records_persisted"`
	RecordsProjected int `json:"records_projected" db:"records_projected"`
	ErrorCount       int `json:"error_count" db:"error_count"`

	// Errors is the per-record failure detail, stored as jsonb.
	Errors RecordErrors `json:"errors" db:"errors"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// RecordError captures a single record's failure. Failures are data, not
// control flow: they accumulate on the run and never abort it.
type RecordError struct {
	Kind       EntityKind `json:"kind"`
	NaturalKey string     `json:"natural_key"`
	Stage      RunStage   `json:"stage"`
	Reason     string     `json:"reason"`
}

// RunResult is the summary returned to the caller when a run completes.
type RunResult struct {
	RunID            uuid.UUID     `json:"run_id"`
	RecordsIn        int           `json:"records_in"`
	RecordsResolved  int           `json:"records_resolved"`
	RecordsPersisted int           `json:"records_persisted"`
	RecordsProjected int           `json:"records_projected"`
	Errors           []RecordError `json:"errors"`
}
