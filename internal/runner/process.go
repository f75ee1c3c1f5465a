package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var commandContext = exec.CommandContext

// ProcessRunner launches stage workers as local subprocesses. The worker
// contract: env WORK_ITEM, ROLE, LOG_TARGET; working directory at the work
// item's workspace; exit 0 on success.
type ProcessRunner struct {
	extraEnv []string
}

// Option configures the process runner.
type Option func(*ProcessRunner)

// WithExtraEnv appends environment entries passed to every worker.
func WithExtraEnv(env ...string) Option {
	return func(r *ProcessRunner) {
		r.extraEnv = append(r.extraEnv, env...)
	}
}

// NewProcessRunner constructs a ProcessRunner.
func NewProcessRunner(opts ...Option) *ProcessRunner {
	r := &ProcessRunner{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the worker and returns its exit status. The command is split
// on whitespace into executable and arguments; no shell quoting. Context
// cancellation surfaces as an error so the scheduler can distinguish
// timeouts from worker failures.
func (r *ProcessRunner) Run(ctx context.Context, spec JobSpec) (Result, error) {
	argv := strings.Fields(spec.Command)
	if len(argv) == 0 {
		return Result{ExitCode: -1}, errors.New("stage command is empty")
	}

	if spec.LogTarget != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogTarget), 0o755); err != nil {
			return Result{ExitCode: -1}, fmt.Errorf("create log directory: %w", err)
		}
	}

	cmd := commandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = spec.Workspace
	cmd.Env = append(os.Environ(),
		"WORK_ITEM="+spec.WorkItem,
		"ROLE="+spec.Role,
		"LOG_TARGET="+spec.LogTarget,
	)
	cmd.Env = append(cmd.Env, r.extraEnv...)

	if spec.LogTarget != "" {
		logFile, err := os.OpenFile(spec.LogTarget, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return Result{ExitCode: -1}, fmt.Errorf("open worker log: %w", err)
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	err := cmd.Run()
	if err == nil {
		return Result{ExitCode: 0}, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{ExitCode: -1}, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{ExitCode: exitErr.ExitCode()}, nil
	}
	return Result{ExitCode: -1}, fmt.Errorf("start worker %s: %w", argv[0], err)
}
