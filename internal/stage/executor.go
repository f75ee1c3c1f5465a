package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"conveyor/internal/backoff"
	"conveyor/internal/logging"
	"conveyor/internal/scheduler"
	"conveyor/internal/services"
	"conveyor/internal/storage"
)

// Submitter is the scheduler contract the executor needs.
type Submitter interface {
	SubmitJob(ctx context.Context, job scheduler.Job) (scheduler.Result, error)
}

// SleepFunc waits for the given duration unless ctx ends first. Injected so
// retry tests run without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Executor runs one stage to a single outcome: submit, retry on failure with
// backoff, give up after MaxAttempts.
type Executor struct {
	submitter Submitter
	policy    backoff.Policy
	coord     *storage.Coordinator
	sleep     SleepFunc
	logger    *slog.Logger
}

// ExecutorOption configures optional executor behavior.
type ExecutorOption func(*Executor)

// WithSleep overrides the sleep function (used in tests).
func WithSleep(sleep SleepFunc) ExecutorOption {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// NewExecutor constructs a stage executor.
func NewExecutor(submitter Submitter, policy backoff.Policy, coord *storage.Coordinator, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		submitter: submitter,
		policy:    policy,
		coord:     coord,
		sleep:     sleepWithContext,
		logger:    logging.NewComponentLogger(logger, "stage"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunStage executes a stage for a work item and returns its outcome. All
// worker failures are treated as transient and retried identically until
// MaxAttempts, as are retryable submitter faults; the returned error is
// non-nil only for interruption or a non-retryable fault, so the engine can
// distinguish those from stage failure.
func (e *Executor) RunStage(ctx context.Context, spec Spec, executionID, workItem string) (Outcome, error) {
	logger := logging.WithContext(ctx, e.logger)

	workspace, err := e.coord.EnsureWorkspace(workItem)
	if err != nil {
		return Outcome{
			Role:        spec.Role,
			FailureKind: FailureInterrupted,
			Cause:       err.Error(),
		}, err
	}
	logTarget, err := e.coord.LogTarget(workItem, spec.Role)
	if err != nil {
		return Outcome{
			Role:        spec.Role,
			FailureKind: FailureInterrupted,
			Cause:       err.Error(),
		}, err
	}

	var last scheduler.Result
	for attempt := 1; attempt <= spec.MaxAttempts; attempt++ {
		result, submitErr := e.submitter.SubmitJob(ctx, scheduler.Job{
			ExecutionID: executionID,
			WorkItem:    workItem,
			Stage:       spec.Role,
			Attempt:     attempt,
			Class:       spec.Class,
			Command:     spec.Command,
			CPUUnits:    spec.CPUUnits,
			Priority:    spec.Priority,
			Timeout:     spec.AttemptTimeout,
			Workspace:   workspace,
			LogTarget:   logTarget,
		})
		if submitErr != nil {
			if attempt == spec.MaxAttempts || !services.IsRetryable(submitErr) {
				return Outcome{
					Role:         spec.Role,
					SubmissionID: result.SubmissionID,
					ExitCode:     result.ExitCode,
					Attempts:     attempt,
					FailureKind:  FailureInterrupted,
					Cause:        submitErr.Error(),
				}, submitErr
			}
			// Transient engine-internal fault; retry like a failed attempt.
			delay := e.policy.Delay(attempt)
			logger.Warn("submission fault; retrying",
				logging.String(logging.FieldEventType, "stage_retry"),
				logging.Int(logging.FieldAttempt, attempt),
				logging.Duration("backoff", delay),
				logging.Error(submitErr),
			)
			if err := e.sleep(ctx, delay); err != nil {
				return Outcome{
					Role:        spec.Role,
					Attempts:    attempt,
					FailureKind: FailureInterrupted,
					Cause:       err.Error(),
				}, err
			}
			continue
		}
		last = result

		if result.Succeeded() {
			return Outcome{
				Role:         spec.Role,
				Succeeded:    true,
				SubmissionID: result.SubmissionID,
				ExitCode:     0,
				Attempts:     attempt,
			}, nil
		}

		if attempt == spec.MaxAttempts {
			break
		}

		delay := e.policy.Delay(attempt)
		logger.Warn("stage attempt failed; retrying",
			logging.String(logging.FieldEventType, "stage_retry"),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("backoff", delay),
			logging.String("cause", failureCause(result)),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return Outcome{
				Role:         spec.Role,
				SubmissionID: result.SubmissionID,
				ExitCode:     result.ExitCode,
				Attempts:     attempt,
				FailureKind:  FailureInterrupted,
				Cause:        err.Error(),
			}, err
		}
	}

	return Outcome{
		Role:         spec.Role,
		SubmissionID: last.SubmissionID,
		ExitCode:     last.ExitCode,
		Attempts:     spec.MaxAttempts,
		FailureKind:  FailureRetriesExhausted,
		Cause:        failureCause(last),
	}, nil
}

func failureCause(result scheduler.Result) string {
	if result.Reason != "" {
		return result.Reason
	}
	return fmt.Sprintf("exit code %d", result.ExitCode)
}
