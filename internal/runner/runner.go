// Package runner is the boundary to the external stage worker processes.
// The orchestration core only sees a Runner returning an exit status; the
// worker's transform logic is opaque.
package runner

import "context"

// Roles of the three pipeline stages, exported to workers via the ROLE
// environment variable.
const (
	RolePreprocess  = "preprocess"
	RoleGPU         = "gpu"
	RolePostprocess = "postprocess"
)

// JobSpec describes one worker invocation.
type JobSpec struct {
	WorkItem  string
	Role      string
	Command   string
	Workspace string
	LogTarget string
}

// Result carries a worker's terminal exit status.
type Result struct {
	ExitCode int
}

// Runner executes one stage worker process and reports its exit status.
// A non-nil error means the worker could not be run at all (command missing,
// context cancelled); a nonzero exit code with a nil error is the normal
// stage-failed signal.
type Runner interface {
	Run(ctx context.Context, spec JobSpec) (Result, error)
}
