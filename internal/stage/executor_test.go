package stage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"conveyor/internal/backoff"
	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/scheduler"
	"conveyor/internal/services"
	"conveyor/internal/stage"
	"conveyor/internal/storage"
	"conveyor/internal/store"
)

// fakeSubmitter returns scripted results per call and records every job. A
// scripted errs queue is consumed first; err repeats on every call after.
type fakeSubmitter struct {
	mu      sync.Mutex
	results []scheduler.Result
	errs    []error
	err     error
	jobs    []scheduler.Job
}

func (f *fakeSubmitter) SubmitJob(ctx context.Context, job scheduler.Job) (scheduler.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return scheduler.Result{}, err
	}
	if f.err != nil {
		return scheduler.Result{}, f.err
	}
	var result scheduler.Result
	if len(f.results) > 0 {
		result = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	result.SubmissionID = int64(len(f.jobs))
	return result, nil
}

func (f *fakeSubmitter) recorded() []scheduler.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduler.Job(nil), f.jobs...)
}

func succeeded() scheduler.Result {
	return scheduler.Result{State: store.SubmissionSucceeded, ExitCode: 0}
}

func failed(exitCode int) scheduler.Result {
	return scheduler.Result{State: store.SubmissionFailed, ExitCode: exitCode}
}

func testSpec(maxAttempts int) stage.Spec {
	return stage.Spec{
		Role:        "gpu",
		Class:       "accelerated",
		Command:     "conveyor-test-gpu",
		CPUUnits:    4,
		MaxAttempts: maxAttempts,
		Priority:    2,
	}
}

type fixture struct {
	executor  *stage.Executor
	submitter *fakeSubmitter
	slept     *[]time.Duration
}

func newFixture(t *testing.T, submitter *fakeSubmitter) *fixture {
	t.Helper()

	coord, err := storage.NewCoordinator(t.TempDir())
	if err != nil {
		t.Fatalf("storage.NewCoordinator: %v", err)
	}

	var slept []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	executor := stage.NewExecutor(submitter, backoff.Default(), coord, logging.NewNop(), stage.WithSleep(sleep))
	return &fixture{executor: executor, submitter: submitter, slept: &slept}
}

func TestRunStageFirstAttemptSucceeds(t *testing.T) {
	submitter := &fakeSubmitter{results: []scheduler.Result{succeeded()}}
	f := newFixture(t, submitter)

	outcome, err := f.executor.RunStage(context.Background(), testSpec(3), "exec-1", "batch-001")
	if err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}
	if !outcome.Succeeded || outcome.Attempts != 1 {
		t.Fatalf("outcome = %+v, want success on attempt 1", outcome)
	}
	if len(*f.slept) != 0 {
		t.Fatalf("unexpected backoff sleeps: %v", *f.slept)
	}
}

func TestRunStageRetriesWithBackoff(t *testing.T) {
	submitter := &fakeSubmitter{results: []scheduler.Result{failed(1), failed(1), succeeded()}}
	f := newFixture(t, submitter)

	outcome, err := f.executor.RunStage(context.Background(), testSpec(3), "exec-1", "batch-001")
	if err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}
	if !outcome.Succeeded || outcome.Attempts != 3 {
		t.Fatalf("outcome = %+v, want success on attempt 3", outcome)
	}

	want := []time.Duration{30 * time.Second, 60 * time.Second}
	got := *f.slept
	if len(got) != len(want) {
		t.Fatalf("slept %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backoff %d = %s, want %s", i+1, got[i], want[i])
		}
	}

	jobs := submitter.recorded()
	for i, job := range jobs {
		if job.Attempt != i+1 {
			t.Fatalf("job %d attempt = %d", i, job.Attempt)
		}
	}
}

func TestRunStageExhaustsRetries(t *testing.T) {
	submitter := &fakeSubmitter{results: []scheduler.Result{failed(2)}}
	f := newFixture(t, submitter)

	outcome, err := f.executor.RunStage(context.Background(), testSpec(3), "exec-1", "batch-001")
	if err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}
	if outcome.Succeeded {
		t.Fatal("exhausted stage reported success")
	}
	if outcome.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", outcome.Attempts)
	}
	if outcome.FailureKind != stage.FailureRetriesExhausted {
		t.Fatalf("failure kind = %q", outcome.FailureKind)
	}
	if outcome.Cause != "exit code 2" {
		t.Fatalf("cause = %q, want exit code 2", outcome.Cause)
	}
	if got := len(submitter.recorded()); got != 3 {
		t.Fatalf("submitted %d jobs, want exactly 3", got)
	}
}

func TestRunStagePreservesTimeoutReason(t *testing.T) {
	result := failed(-1)
	result.Reason = scheduler.ReasonTimedOut
	submitter := &fakeSubmitter{results: []scheduler.Result{result}}
	f := newFixture(t, submitter)

	outcome, err := f.executor.RunStage(context.Background(), testSpec(2), "exec-1", "batch-001")
	if err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}
	if outcome.Cause != scheduler.ReasonTimedOut {
		t.Fatalf("cause = %q, want %q", outcome.Cause, scheduler.ReasonTimedOut)
	}
}

func TestRunStageStopsOnSubmitterError(t *testing.T) {
	submitter := &fakeSubmitter{err: context.Canceled}
	f := newFixture(t, submitter)

	outcome, err := f.executor.RunStage(context.Background(), testSpec(3), "exec-1", "batch-001")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunStage error = %v, want context.Canceled", err)
	}
	if outcome.FailureKind != stage.FailureInterrupted {
		t.Fatalf("failure kind = %q, want interrupted", outcome.FailureKind)
	}
	if got := len(submitter.recorded()); got != 1 {
		t.Fatalf("submitted %d jobs after interruption, want 1", got)
	}
}

func TestRunStageRetriesTransientSubmitterFault(t *testing.T) {
	submitter := &fakeSubmitter{
		errs:    []error{errors.New("record submission: disk I/O error")},
		results: []scheduler.Result{succeeded()},
	}
	f := newFixture(t, submitter)

	outcome, err := f.executor.RunStage(context.Background(), testSpec(3), "exec-1", "batch-001")
	if err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}
	if !outcome.Succeeded || outcome.Attempts != 2 {
		t.Fatalf("outcome = %+v, want success on attempt 2", outcome)
	}
	if got := *f.slept; len(got) != 1 || got[0] != 30*time.Second {
		t.Fatalf("slept %v, want one 30s backoff", got)
	}
}

func TestRunStageStopsOnConfigurationFault(t *testing.T) {
	submitter := &fakeSubmitter{
		err: services.Wrap(services.ErrConfiguration, "scheduler", "submit job", "no pool for class", nil),
	}
	f := newFixture(t, submitter)

	outcome, err := f.executor.RunStage(context.Background(), testSpec(3), "exec-1", "batch-001")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("RunStage error = %v, want configuration error", err)
	}
	if outcome.FailureKind != stage.FailureInterrupted {
		t.Fatalf("failure kind = %q, want interrupted", outcome.FailureKind)
	}
	if got := len(submitter.recorded()); got != 1 {
		t.Fatalf("submitted %d jobs, want 1", got)
	}
}

func TestRunStageStopsWhenSleepInterrupted(t *testing.T) {
	submitter := &fakeSubmitter{results: []scheduler.Result{failed(1)}}

	coord, err := storage.NewCoordinator(t.TempDir())
	if err != nil {
		t.Fatalf("storage.NewCoordinator: %v", err)
	}
	sleep := func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}
	executor := stage.NewExecutor(submitter, backoff.Default(), coord, logging.NewNop(), stage.WithSleep(sleep))

	outcome, err := executor.RunStage(context.Background(), testSpec(3), "exec-1", "batch-001")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunStage error = %v, want context.Canceled", err)
	}
	if outcome.FailureKind != stage.FailureInterrupted {
		t.Fatalf("failure kind = %q, want interrupted", outcome.FailureKind)
	}
	if got := len(submitter.recorded()); got != 1 {
		t.Fatalf("submitted %d jobs, want 1 before interrupted sleep", got)
	}
}

func testStageConfig() config.Stage {
	return config.Stage{
		Command:               "conveyor-test-gpu",
		Class:                 "accelerated",
		CPUUnits:              4,
		MemoryMiB:             8192,
		MaxAttempts:           3,
		AttemptTimeoutSeconds: 900,
		Priority:              2,
	}
}

func TestSpecFromConfigRejectsUnknownClass(t *testing.T) {
	cfg := testStageConfig()
	cfg.Class = "quantum"
	if _, err := stage.SpecFromConfig("gpu", cfg); err == nil {
		t.Fatal("expected error for unknown resource class")
	}
}

func TestSpecFromConfigMapsFields(t *testing.T) {
	cfg := testStageConfig()
	spec, err := stage.SpecFromConfig("gpu", cfg)
	if err != nil {
		t.Fatalf("SpecFromConfig failed: %v", err)
	}
	if spec.Role != "gpu" || spec.Class != "accelerated" || spec.MaxAttempts != 3 {
		t.Fatalf("spec = %+v", spec)
	}
	if spec.AttemptTimeout != 900*time.Second {
		t.Fatalf("attempt timeout = %s", spec.AttemptTimeout)
	}
}
