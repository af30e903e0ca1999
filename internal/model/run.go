package model

import "time"

// RunState is the orchestrator's state machine position.
type RunState string

const (
	RunStateIdle         RunState = "idle"
	RunStateExtracting   RunState = "extracting"
	RunStateTransforming RunState = "transforming"
	RunStateLoading      RunState = "loading"
	RunStateDone         RunState = "done"
	RunStateFailed       RunState = "failed"
)

// Progress is one progress event emitted on state transitions and batch
// boundaries.
type Progress struct {
	State   RunState `json:"state"`
	Percent float64  `json:"percent"`
	Message string   `json:"message"`
}

// SubjectFailure records one subject whose extraction failed. The run
// continues past it.
type SubjectFailure struct {
	SubjectID string `json:"subject_id"`
	Error     string `json:"error"`
}

// RunResult is the cumulative accounting returned for every run, whatever
// state it ended in.
type RunResult struct {
	RunID           string           `json:"run_id"`
	State           RunState         `json:"state"`
	Successes       int              `json:"successes"`
	Failures        int              `json:"failures"`
	Warnings        int              `json:"warnings"`
	SubjectFailures []SubjectFailure `json:"subject_failures,omitempty"`
	RecordsWritten  int              `json:"records_written"`
	RankingsBuilt   int              `json:"rankings_built"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
}

// RunMetadata is the per-run audit document persisted to the sink.
type RunMetadata struct {
	RunID             string    `json:"run_id"`
	Version           string    `json:"version"`
	Timestamp         time.Time `json:"timestamp"`
	SubjectsProcessed int       `json:"subjects_processed"`
	RecordsWritten    int       `json:"records_written"`
	RankingsGenerated int       `json:"rankings_generated"`
	Successes         int       `json:"successes"`
	Failures          int       `json:"failures"`
	Warnings          int       `json:"warnings"`
}
