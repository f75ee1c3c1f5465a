package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"conveyor/internal/logging"
	"conveyor/internal/pool"
	"conveyor/internal/scheduler"
	"conveyor/internal/services"
	"conveyor/internal/store"
	"conveyor/internal/testsupport"
)

type fixture struct {
	sched  *scheduler.Scheduler
	store  *store.Store
	pools  *pool.Set
	runner *testsupport.ScriptedRunner
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	pools, err := pool.NewSet(cfg)
	if err != nil {
		t.Fatalf("pool.NewSet: %v", err)
	}
	t.Cleanup(pools.Close)

	r := testsupport.NewScriptedRunner()
	return &fixture{
		sched:  scheduler.New(pools, st, r, nil, logging.NewNop()),
		store:  st,
		pools:  pools,
		runner: r,
	}
}

func testJob(attempt int) scheduler.Job {
	return scheduler.Job{
		ExecutionID: "exec-1",
		WorkItem:    "batch-001",
		Stage:       "preprocess",
		Attempt:     attempt,
		Class:       pool.ClassLight,
		Command:     "conveyor-test-preprocess",
		CPUUnits:    2,
		Priority:    1,
	}
}

func TestSubmitJobSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testsupport.NewExecution(t, f.store, "exec-1", "batch-001")

	result, err := f.sched.SubmitJob(ctx, testJob(1))
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}

	submissions, err := f.store.SubmissionsForExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("SubmissionsForExecution failed: %v", err)
	}
	if len(submissions) != 1 {
		t.Fatalf("got %d submissions, want exactly 1", len(submissions))
	}
	got := submissions[0]
	if got.State != store.SubmissionSucceeded || got.StartedAt == nil || got.EndedAt == nil {
		t.Fatalf("submission = %+v", got)
	}
}

func TestSubmitJobWorkerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testsupport.NewExecution(t, f.store, "exec-1", "batch-001")
	f.runner.Script("preprocess", 2)

	result, err := f.sched.SubmitJob(ctx, testJob(1))
	if err != nil {
		t.Fatalf("SubmitJob returned error for worker failure: %v", err)
	}
	if result.Succeeded() {
		t.Fatal("failed worker reported as success")
	}
	if result.ExitCode != 2 {
		t.Fatalf("exit code = %d, want 2", result.ExitCode)
	}

	submissions, err := f.store.SubmissionsForExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("SubmissionsForExecution failed: %v", err)
	}
	if len(submissions) != 1 || submissions[0].State != store.SubmissionFailed {
		t.Fatalf("submissions = %+v", submissions)
	}
}

func TestSubmitJobAttemptTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	pools, err := pool.NewSet(cfg)
	if err != nil {
		t.Fatalf("pool.NewSet: %v", err)
	}
	t.Cleanup(pools.Close)
	sched := scheduler.New(pools, st, testsupport.BlockingRunner{}, nil, logging.NewNop())

	ctx := context.Background()
	testsupport.NewExecution(t, st, "exec-1", "batch-001")

	job := testJob(1)
	job.Timeout = 50 * time.Millisecond

	result, err := sched.SubmitJob(ctx, job)
	if err != nil {
		t.Fatalf("per-attempt timeout should not be an error: %v", err)
	}
	if result.Succeeded() {
		t.Fatal("timed out job reported success")
	}
	if result.Reason != scheduler.ReasonTimedOut {
		t.Fatalf("reason = %q, want %q", result.Reason, scheduler.ReasonTimedOut)
	}
	if result.ExitCode != -1 {
		t.Fatalf("exit code = %d, want -1", result.ExitCode)
	}
}

func TestSubmitJobCallerCancellation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	pools, err := pool.NewSet(cfg)
	if err != nil {
		t.Fatalf("pool.NewSet: %v", err)
	}
	t.Cleanup(pools.Close)
	sched := scheduler.New(pools, st, testsupport.BlockingRunner{}, nil, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	testsupport.NewExecution(t, st, "exec-1", "batch-001")

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := sched.SubmitJob(ctx, testJob(1))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if result.Reason != scheduler.ReasonInterrupted {
		t.Fatalf("reason = %q, want %q", result.Reason, scheduler.ReasonInterrupted)
	}

	// The terminal state must persist despite the canceled caller context.
	submissions, err := st.SubmissionsForExecution(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("SubmissionsForExecution failed: %v", err)
	}
	if len(submissions) != 1 || submissions[0].State != store.SubmissionFailed {
		t.Fatalf("submissions = %+v", submissions)
	}
}

func TestSubmitJobCapacityWaitDeadline(t *testing.T) {
	f := newFixture(t, testsupport.WithCapacity(2, 1))
	testsupport.NewExecution(t, f.store, "exec-1", "batch-001")

	light, err := f.pools.ForClass(pool.ClassLight)
	if err != nil {
		t.Fatalf("ForClass(light): %v", err)
	}
	if err := light.Acquire(context.Background(), 2, 0); err != nil {
		t.Fatalf("occupy Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := f.sched.SubmitJob(ctx, testJob(1))
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("SubmitJob = %v, want timeout marker", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SubmitJob = %v, wrapping must keep the deadline cause", err)
	}
	if result.Reason != scheduler.ReasonTimedOut {
		t.Fatalf("reason = %q, want %q", result.Reason, scheduler.ReasonTimedOut)
	}
}

func TestSubmitJobWaitsForCapacity(t *testing.T) {
	f := newFixture(t, testsupport.WithCapacity(2, 1))
	ctx := context.Background()
	testsupport.NewExecution(t, f.store, "exec-1", "batch-001")

	light, err := f.pools.ForClass(pool.ClassLight)
	if err != nil {
		t.Fatalf("ForClass(light): %v", err)
	}
	if err := light.Acquire(ctx, 2, 0); err != nil {
		t.Fatalf("occupy Acquire failed: %v", err)
	}

	// The job must block on capacity, not error, and complete once units
	// come back.
	go func() {
		time.Sleep(50 * time.Millisecond)
		light.Release(2)
	}()

	result, err := f.sched.SubmitJob(ctx, testJob(1))
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("result = %+v, want success", result)
	}
}
