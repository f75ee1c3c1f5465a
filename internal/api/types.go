// Package api defines the JSON types and read-side service shared by the
// daemon's HTTP endpoints and the CLI.
package api

import "time"

// StageOutput is the recorded outcome of one pipeline stage.
type StageOutput struct {
	JobID    int64  `json:"jobId"`
	Status   string `json:"status"`
	ExitCode int    `json:"exitCode"`
}

// ExecutionError is the failure captured at the stage where the chain
// halted.
type ExecutionError struct {
	Error string `json:"error"`
	Cause string `json:"cause"`
}

// Execution is the external view of one pipeline run. Only stages that were
// actually reached have output keys.
type Execution struct {
	ExecutionID       string          `json:"executionId"`
	WorkItem          string          `json:"workItem"`
	Status            string          `json:"status"`
	CurrentStage      string          `json:"currentStage,omitempty"`
	StartedAt         *time.Time      `json:"startedAt,omitempty"`
	EndedAt           *time.Time      `json:"endedAt,omitempty"`
	PreprocessOutput  *StageOutput    `json:"preprocessOutput,omitempty"`
	GpuOutput         *StageOutput    `json:"gpuOutput,omitempty"`
	PostprocessOutput *StageOutput    `json:"postprocessOutput,omitempty"`
	Error             *ExecutionError `json:"error,omitempty"`
}

// Submission is the external view of one job submission attempt.
type Submission struct {
	ID        int64      `json:"id"`
	Stage     string     `json:"stage"`
	Attempt   int        `json:"attempt"`
	Class     string     `json:"class"`
	State     string     `json:"state"`
	ExitCode  *int       `json:"exitCode,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// TriggerRequest is the trigger boundary payload.
type TriggerRequest struct {
	WorkItem string `json:"workItem"`
}

// TriggerResponse acknowledges an accepted trigger.
type TriggerResponse struct {
	ExecutionID string    `json:"executionId"`
	StartedAt   time.Time `json:"startedAt"`
}

// PoolStatus reports one compute pool's configuration and occupancy.
type PoolStatus struct {
	Class              string `json:"class"`
	CapacityUnits      int    `json:"capacityUnits"`
	InFlightUnits      int    `json:"inFlightUnits"`
	WaitingRequests    int    `json:"waitingRequests"`
	AllocationStrategy string `json:"allocationStrategy"`
	PricingClass       string `json:"pricingClass"`
}

// StatusSummary is the daemon-wide status document.
type StatusSummary struct {
	Running    bool             `json:"running"`
	Executions map[string]int   `json:"executions"`
	Pools      []PoolStatus     `json:"pools"`
	Preflight  []PreflightCheck `json:"preflight"`
	VolumeRoot string           `json:"volumeRoot"`
	DBPath     string           `json:"dbPath"`
}

// PreflightCheck reports one runtime readiness check.
type PreflightCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}
