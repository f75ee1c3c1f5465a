package testsupport

import (
	"context"
	"sync"

	"conveyor/internal/runner"
)

// ScriptedRunner is a runner.Runner whose exit codes are scripted per stage
// role. Each Run consumes the next code for its role; when the script for a
// role is exhausted, the last code repeats.
type ScriptedRunner struct {
	mu      sync.Mutex
	scripts map[string][]int
	calls   []runner.JobSpec
}

// NewScriptedRunner builds a runner that succeeds for every role unless a
// script says otherwise.
func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{scripts: make(map[string][]int)}
}

// Script sets the exit code sequence for a stage role.
func (r *ScriptedRunner) Script(role string, exitCodes ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[role] = append([]int(nil), exitCodes...)
}

// Run consumes the next scripted exit code for the spec's role.
func (r *ScriptedRunner) Run(ctx context.Context, spec runner.JobSpec) (runner.Result, error) {
	if err := ctx.Err(); err != nil {
		return runner.Result{ExitCode: -1}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, spec)

	script := r.scripts[spec.Role]
	if len(script) == 0 {
		return runner.Result{ExitCode: 0}, nil
	}
	code := script[0]
	if len(script) > 1 {
		r.scripts[spec.Role] = script[1:]
	}
	return runner.Result{ExitCode: code}, nil
}

// Calls returns a copy of every job spec the runner received, in order.
func (r *ScriptedRunner) Calls() []runner.JobSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runner.JobSpec(nil), r.calls...)
}

// CallsForRole returns the job specs received for one stage role.
func (r *ScriptedRunner) CallsForRole(role string) []runner.JobSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	var specs []runner.JobSpec
	for _, call := range r.calls {
		if call.Role == role {
			specs = append(specs, call)
		}
	}
	return specs
}

// BlockingRunner parks every Run until its context ends, simulating a
// worker that never finishes.
type BlockingRunner struct{}

// Run blocks until ctx is done.
func (BlockingRunner) Run(ctx context.Context, spec runner.JobSpec) (runner.Result, error) {
	<-ctx.Done()
	return runner.Result{ExitCode: -1}, ctx.Err()
}
