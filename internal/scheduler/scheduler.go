// Package scheduler submits stage jobs to the resource-class pools, tracks
// each attempt's lifecycle in the store, and blocks the caller until the
// attempt reaches a terminal state. Exactly one JobSubmission record is
// created per SubmitJob call.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conveyor/internal/logging"
	"conveyor/internal/metrics"
	"conveyor/internal/pool"
	"conveyor/internal/runner"
	"conveyor/internal/services"
	"conveyor/internal/store"
)

// Failure reasons recorded on submissions that did not fail by exit status.
const (
	ReasonTimedOut    = "timed out"
	ReasonInterrupted = "interrupted"
	ReasonStartFailed = "start failure"
)

// Job describes one attempt to run a stage worker for an execution.
type Job struct {
	ExecutionID string
	WorkItem    string
	Stage       string
	Attempt     int
	Class       pool.ResourceClass
	Command     string
	CPUUnits    int
	Priority    int
	Timeout     time.Duration
	Workspace   string
	LogTarget   string
}

// Result is the terminal status of one submission.
type Result struct {
	SubmissionID int64
	State        store.SubmissionState
	ExitCode     int
	Reason       string
}

// Succeeded reports whether the attempt finished with exit 0.
func (r Result) Succeeded() bool {
	return r.State == store.SubmissionSucceeded
}

// Scheduler binds jobs to pools and runs them through the worker boundary.
type Scheduler struct {
	pools   *pool.Set
	store   *store.Store
	runner  runner.Runner
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New constructs a scheduler. A nil metrics bundle gets a private registry
// so callers never need to care.
func New(pools *pool.Set, st *store.Store, r runner.Runner, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if m == nil {
		m = metrics.New()
	}
	return &Scheduler{
		pools:   pools,
		store:   st,
		runner:  r,
		metrics: m,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
	}
}

// SubmitJob runs one attempt to completion. It blocks while the job waits
// for pool capacity and while the worker runs; capacity waits are not
// errors. The returned error is non-nil only for engine-internal faults or
// caller cancellation; a worker failure is a normal Result with state
// failed.
func (s *Scheduler) SubmitJob(ctx context.Context, job Job) (Result, error) {
	compute, err := s.pools.ForClass(job.Class)
	if err != nil {
		return Result{}, err
	}

	submission := &store.Submission{
		ExecutionID: job.ExecutionID,
		Stage:       job.Stage,
		Attempt:     job.Attempt,
		Class:       string(job.Class),
	}
	if _, err := s.store.CreateSubmission(ctx, submission); err != nil {
		return Result{}, fmt.Errorf("record submission: %w", err)
	}

	logger := logging.WithContext(ctx, s.logger).With(
		logging.Int64("submission_id", submission.ID),
		logging.Int(logging.FieldAttempt, job.Attempt),
	)

	if err := compute.Acquire(ctx, job.CPUUnits, job.Priority); err != nil {
		reason := ReasonInterrupted
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimedOut
			err = services.Wrap(services.ErrTimeout, "scheduler", "submit job",
				"deadline expired while waiting for capacity", err)
		}
		result := s.finishSubmission(submission, store.SubmissionFailed, -1, reason)
		logger.Warn("submission interrupted while waiting for capacity",
			logging.String(logging.FieldEventType, "submission_interrupted"),
			logging.Error(err),
		)
		return result, err
	}
	defer func() {
		compute.Release(job.CPUUnits)
		s.metrics.ObservePools(s.pools.Pools())
	}()
	s.metrics.ObservePools(s.pools.Pools())

	now := time.Now().UTC()
	submission.State = store.SubmissionRunning
	submission.StartedAt = &now
	if err := s.store.UpdateSubmission(ctx, submission); err != nil {
		return Result{}, fmt.Errorf("mark submission running: %w", err)
	}
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("class", string(job.Class)),
		logging.Int("cpu_units", job.CPUUnits),
	)

	attemptCtx := ctx
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	res, runErr := s.runner.Run(attemptCtx, runner.JobSpec{
		WorkItem:  job.WorkItem,
		Role:      job.Stage,
		Command:   job.Command,
		Workspace: job.Workspace,
		LogTarget: job.LogTarget,
	})

	switch {
	case runErr == nil && res.ExitCode == 0:
		result := s.finishSubmission(submission, store.SubmissionSucceeded, 0, "")
		logger.Info("job succeeded", logging.String(logging.FieldEventType, "job_complete"))
		return result, nil

	case runErr == nil:
		result := s.finishSubmission(submission, store.SubmissionFailed, res.ExitCode, "")
		logger.Warn("job failed",
			logging.String(logging.FieldEventType, "job_failed"),
			logging.Int("exit_code", res.ExitCode),
		)
		return result, nil

	case errors.Is(runErr, context.DeadlineExceeded) && ctx.Err() == nil:
		// Per-attempt timeout; the execution itself is still live, so this
		// is a retryable failure with a distinct reason.
		result := s.finishSubmission(submission, store.SubmissionFailed, -1, ReasonTimedOut)
		logger.Warn("job timed out",
			logging.String(logging.FieldEventType, "job_timeout"),
			logging.Duration("timeout", job.Timeout),
		)
		return result, nil

	case ctx.Err() != nil:
		result := s.finishSubmission(submission, store.SubmissionFailed, -1, ReasonInterrupted)
		logger.Warn("job interrupted",
			logging.String(logging.FieldEventType, "submission_interrupted"),
			logging.Error(ctx.Err()),
		)
		return result, ctx.Err()

	default:
		result := s.finishSubmission(submission, store.SubmissionFailed, -1, ReasonStartFailed)
		logger.Error("job could not be started",
			logging.String(logging.FieldEventType, "job_start_failed"),
			logging.Error(runErr),
			logging.String(logging.FieldErrorHint, "check that the stage command is installed and executable"),
		)
		return result, nil
	}
}

// finishSubmission records the terminal state. Persistence runs on a
// background context so terminal outcomes survive caller cancellation.
func (s *Scheduler) finishSubmission(submission *store.Submission, state store.SubmissionState, exitCode int, reason string) Result {
	now := time.Now().UTC()
	submission.State = state
	submission.ExitCode = &exitCode
	submission.Reason = reason
	submission.EndedAt = &now

	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateSubmission(persistCtx, submission); err != nil {
		s.logger.Error("failed to persist submission outcome",
			logging.Int64("submission_id", submission.ID),
			logging.Error(err),
		)
	}

	s.metrics.SubmissionsTotal.WithLabelValues(submission.Stage, string(state)).Inc()

	return Result{
		SubmissionID: submission.ID,
		State:        state,
		ExitCode:     exitCode,
		Reason:       reason,
	}
}
