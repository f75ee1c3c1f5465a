package store

import "time"

// ExecutionStatus represents the lifecycle of an execution.
type ExecutionStatus string

const (
	StatusPending            ExecutionStatus = "pending"
	StatusRunningPreprocess  ExecutionStatus = "running_preprocess"
	StatusRunningGPU         ExecutionStatus = "running_gpu"
	StatusRunningPostprocess ExecutionStatus = "running_postprocess"
	StatusSucceeded          ExecutionStatus = "succeeded"
	StatusFailed             ExecutionStatus = "failed"
	StatusTimedOut           ExecutionStatus = "timed_out"
)

var allStatuses = []ExecutionStatus{
	StatusPending,
	StatusRunningPreprocess,
	StatusRunningGPU,
	StatusRunningPostprocess,
	StatusSucceeded,
	StatusFailed,
	StatusTimedOut,
}

// ShutdownReason is the error message set on executions failed because the
// daemon stopped while they were in flight.
const ShutdownReason = "daemon stopped"

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Running reports whether a stage is in flight for this status.
func (s ExecutionStatus) Running() bool {
	switch s {
	case StatusRunningPreprocess, StatusRunningGPU, StatusRunningPostprocess:
		return true
	default:
		return false
	}
}

// Valid reports whether the status is one of the known values.
func (s ExecutionStatus) Valid() bool {
	for _, status := range allStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// StageOutcome records the terminal result of one stage within an execution.
type StageOutcome struct {
	JobID    int64  `json:"jobId"`
	Status   string `json:"status"`
	ExitCode int    `json:"exitCode"`
}

// ExecutionError captures the failure at the stage where the chain halted.
type ExecutionError struct {
	Error string `json:"error"`
	Cause string `json:"cause"`
}

// Execution is one run of the full pipeline for a work item, persisted in
// SQLite. Never mutated after reaching a terminal status.
type Execution struct {
	ID           string
	WorkItem     string
	Status       ExecutionStatus
	CurrentStage string

	Preprocess  *StageOutcome
	GPU         *StageOutcome
	Postprocess *StageOutcome
	Err         *ExecutionError

	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// Outcome returns the stage outcome slot for a role, or nil when the stage
// was never reached.
func (e *Execution) Outcome(role string) *StageOutcome {
	switch role {
	case "preprocess":
		return e.Preprocess
	case "gpu":
		return e.GPU
	case "postprocess":
		return e.Postprocess
	default:
		return nil
	}
}

// SetOutcome records a stage outcome in its slot.
func (e *Execution) SetOutcome(role string, outcome StageOutcome) {
	switch role {
	case "preprocess":
		e.Preprocess = &outcome
	case "gpu":
		e.GPU = &outcome
	case "postprocess":
		e.Postprocess = &outcome
	}
}

// SubmissionState represents the lifecycle of one job submission attempt.
type SubmissionState string

const (
	SubmissionSubmitted SubmissionState = "submitted"
	SubmissionRunning   SubmissionState = "running"
	SubmissionSucceeded SubmissionState = "succeeded"
	SubmissionFailed    SubmissionState = "failed"
)

// Submission is one attempt to run a stage's worker for an execution.
type Submission struct {
	ID          int64
	ExecutionID string
	Stage       string
	Attempt     int
	Class       string
	State       SubmissionState
	ExitCode    *int
	Reason      string
	CreatedAt   time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
}

// HealthSummary aggregates execution counts per key lifecycle state.
type HealthSummary struct {
	Total     int
	Pending   int
	Running   int
	Succeeded int
	Failed    int
	TimedOut  int
}
