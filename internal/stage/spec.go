// Package stage defines the pipeline stage specs and the executor that
// drives one stage to a single outcome through bounded, backed-off retries.
package stage

import (
	"time"

	"conveyor/internal/config"
	"conveyor/internal/pool"
	"conveyor/internal/runner"
)

// Order is the fixed stage sequence of every execution.
var Order = []string{runner.RolePreprocess, runner.RoleGPU, runner.RolePostprocess}

// Spec is the static description of one pipeline stage.
type Spec struct {
	Role           string
	Class          pool.ResourceClass
	Command        string
	CPUUnits       int
	MemoryMiB      int
	MaxAttempts    int
	AttemptTimeout time.Duration
	Priority       int
}

// SpecFromConfig builds a stage spec from its config section.
func SpecFromConfig(role string, cfg config.Stage) (Spec, error) {
	class, err := pool.ParseClass(cfg.Class)
	if err != nil {
		return Spec{}, err
	}
	return Spec{
		Role:           role,
		Class:          class,
		Command:        cfg.Command,
		CPUUnits:       cfg.CPUUnits,
		MemoryMiB:      cfg.MemoryMiB,
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: time.Duration(cfg.AttemptTimeoutSeconds) * time.Second,
		Priority:       cfg.Priority,
	}, nil
}

// Outcome is the single terminal result of running one stage, after retries.
type Outcome struct {
	Role         string
	Succeeded    bool
	SubmissionID int64
	ExitCode     int
	Attempts     int
	FailureKind  string
	Cause        string
}

// Failure kinds recorded on failed outcomes.
const (
	FailureRetriesExhausted = "retries exhausted"
	FailureInterrupted      = "interrupted"
)
