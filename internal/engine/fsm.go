package engine

import (
	"fmt"

	"conveyor/internal/runner"
	"conveyor/internal/services"
	"conveyor/internal/store"
)

// transitions is the execution state machine: pre, gpu, and post run in a
// fixed order; any running state may end in failure or timeout; terminal
// states admit nothing.
var transitions = map[store.ExecutionStatus][]store.ExecutionStatus{
	store.StatusPending: {
		store.StatusRunningPreprocess,
		store.StatusFailed,
		store.StatusTimedOut,
	},
	store.StatusRunningPreprocess: {
		store.StatusRunningGPU,
		store.StatusFailed,
		store.StatusTimedOut,
	},
	store.StatusRunningGPU: {
		store.StatusRunningPostprocess,
		store.StatusFailed,
		store.StatusTimedOut,
	},
	store.StatusRunningPostprocess: {
		store.StatusSucceeded,
		store.StatusFailed,
		store.StatusTimedOut,
	},
}

// runningStatusFor maps a stage role to the status entered when it starts.
var runningStatusFor = map[string]store.ExecutionStatus{
	runner.RolePreprocess:  store.StatusRunningPreprocess,
	runner.RoleGPU:         store.StatusRunningGPU,
	runner.RolePostprocess: store.StatusRunningPostprocess,
}

func canTransition(from, to store.ExecutionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to store.ExecutionStatus) error {
	if !canTransition(from, to) {
		return services.Wrap(services.ErrConfiguration, "engine", "transition",
			fmt.Sprintf("illegal execution transition %s -> %s", from, to), nil)
	}
	return nil
}
