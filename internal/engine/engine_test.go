package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"conveyor/internal/backoff"
	"conveyor/internal/config"
	"conveyor/internal/engine"
	"conveyor/internal/logging"
	"conveyor/internal/pool"
	"conveyor/internal/runner"
	"conveyor/internal/scheduler"
	"conveyor/internal/services"
	"conveyor/internal/stage"
	"conveyor/internal/storage"
	"conveyor/internal/store"
	"conveyor/internal/testsupport"
)

type harness struct {
	engine *engine.Engine
	store  *store.Store
	runner *testsupport.ScriptedRunner
	cfg    *config.Config
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	h := &harness{runner: testsupport.NewScriptedRunner()}
	h.build(t, h.runner, opts...)
	return h
}

func (h *harness) build(t *testing.T, r runner.Runner, opts ...testsupport.ConfigOption) {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	pools, err := pool.NewSet(cfg)
	if err != nil {
		t.Fatalf("pool.NewSet: %v", err)
	}
	t.Cleanup(pools.Close)

	coord, err := storage.NewCoordinator(cfg.Paths.VolumeRoot)
	if err != nil {
		t.Fatalf("storage.NewCoordinator: %v", err)
	}

	sched := scheduler.New(pools, st, r, nil, logging.NewNop())
	noSleep := func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	executor := stage.NewExecutor(sched, backoff.Default(), coord, logging.NewNop(), stage.WithSleep(noSleep))

	eng, err := engine.New(cfg, st, executor, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("engine.Start: %v", err)
	}
	t.Cleanup(eng.Stop)

	h.engine = eng
	h.store = st
	h.cfg = cfg
}

func waitTerminal(t *testing.T, eng *engine.Engine, id string) *store.Execution {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		execution, err := eng.GetStatus(context.Background(), id)
		if err != nil {
			t.Fatalf("GetStatus failed: %v", err)
		}
		if execution.Status.Terminal() {
			return execution
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s never reached a terminal state", id)
	return nil
}

func TestExecutionRunsAllStages(t *testing.T) {
	h := newHarness(t)

	execution, err := h.engine.StartExecution(context.Background(), "batch-001")
	if err != nil {
		t.Fatalf("StartExecution failed: %v", err)
	}

	final := waitTerminal(t, h.engine, execution.ID)
	if final.Status != store.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded (err: %+v)", final.Status, final.Err)
	}
	if final.CurrentStage != "" {
		t.Fatalf("terminal execution kept current stage %q", final.CurrentStage)
	}
	if final.EndedAt == nil {
		t.Fatal("terminal execution has no end time")
	}
	for _, role := range []string{"preprocess", "gpu", "postprocess"} {
		outcome := final.Outcome(role)
		if outcome == nil || outcome.Status != string(store.SubmissionSucceeded) {
			t.Fatalf("%s outcome = %+v", role, outcome)
		}
	}

	// Stages run in order, one worker invocation each.
	calls := h.runner.Calls()
	if len(calls) != 3 {
		t.Fatalf("worker ran %d times, want 3", len(calls))
	}
	for i, role := range []string{"preprocess", "gpu", "postprocess"} {
		if calls[i].Role != role {
			t.Fatalf("call %d role = %s, want %s", i, calls[i].Role, role)
		}
	}
}

func TestStageRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t)
	h.runner.Script("gpu", 1, 1, 0)

	execution, err := h.engine.StartExecution(context.Background(), "batch-002")
	if err != nil {
		t.Fatalf("StartExecution failed: %v", err)
	}

	final := waitTerminal(t, h.engine, execution.ID)
	if final.Status != store.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded (err: %+v)", final.Status, final.Err)
	}

	count, err := h.store.CountSubmissions(context.Background(), execution.ID, "gpu")
	if err != nil {
		t.Fatalf("CountSubmissions failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("gpu submissions = %d, want 3", count)
	}
	if outcome := final.Outcome("gpu"); outcome == nil || outcome.Status != string(store.SubmissionSucceeded) {
		t.Fatalf("gpu outcome = %+v", outcome)
	}
}

func TestStageExhaustionFailsExecution(t *testing.T) {
	h := newHarness(t)
	h.runner.Script("postprocess", 2)

	execution, err := h.engine.StartExecution(context.Background(), "batch-003")
	if err != nil {
		t.Fatalf("StartExecution failed: %v", err)
	}

	final := waitTerminal(t, h.engine, execution.ID)
	if final.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.Err == nil {
		t.Fatal("failed execution carries no error")
	}
	if final.Err.Cause != "exit code 2" {
		t.Fatalf("cause = %q, want exit code 2", final.Err.Cause)
	}

	// Exactly MaxAttempts submissions, never a fourth.
	count, err := h.store.CountSubmissions(context.Background(), execution.ID, "postprocess")
	if err != nil {
		t.Fatalf("CountSubmissions failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("postprocess submissions = %d, want 3", count)
	}

	// Earlier stages keep their recorded success.
	for _, role := range []string{"preprocess", "gpu"} {
		if outcome := final.Outcome(role); outcome == nil || outcome.Status != string(store.SubmissionSucceeded) {
			t.Fatalf("%s outcome = %+v", role, outcome)
		}
	}
	if outcome := final.Outcome("postprocess"); outcome == nil || outcome.Status != string(store.SubmissionFailed) {
		t.Fatalf("postprocess outcome = %+v", outcome)
	}
}

func TestFailedStageHaltsChain(t *testing.T) {
	h := newHarness(t)
	h.runner.Script("gpu", 1)

	execution, err := h.engine.StartExecution(context.Background(), "batch-001")
	if err != nil {
		t.Fatalf("StartExecution failed: %v", err)
	}

	final := waitTerminal(t, h.engine, execution.ID)
	if final.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.Outcome("postprocess") != nil {
		t.Fatal("postprocess ran after gpu exhausted its retries")
	}
	if got := len(h.runner.CallsForRole("postprocess")); got != 0 {
		t.Fatalf("postprocess worker ran %d times after gpu failure", got)
	}
}

func TestConcurrentExecutionsAreIndependent(t *testing.T) {
	h := newHarness(t)
	h.runner.Script("gpu", 1)

	// The gpu script's last code repeats, so gpu fails for both executions
	// no matter how their submissions interleave.
	first, err := h.engine.StartExecution(context.Background(), "batch-004")
	if err != nil {
		t.Fatalf("StartExecution(batch-004) failed: %v", err)
	}
	second, err := h.engine.StartExecution(context.Background(), "batch-005")
	if err != nil {
		t.Fatalf("StartExecution(batch-005) failed: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("executions share an id")
	}

	firstFinal := waitTerminal(t, h.engine, first.ID)
	secondFinal := waitTerminal(t, h.engine, second.ID)

	// Both executions fail at gpu, each with its own record and its own
	// submission history.
	for _, final := range []*store.Execution{firstFinal, secondFinal} {
		if final.Status != store.StatusFailed {
			t.Fatalf("execution %s status = %s, want failed", final.ID, final.Status)
		}
		count, err := h.store.CountSubmissions(context.Background(), final.ID, "gpu")
		if err != nil {
			t.Fatalf("CountSubmissions failed: %v", err)
		}
		if count != 3 {
			t.Fatalf("execution %s gpu submissions = %d, want 3", final.ID, count)
		}
	}

	// Workspaces stayed isolated per work item.
	preprocessCalls := h.runner.CallsForRole("preprocess")
	if len(preprocessCalls) != 2 {
		t.Fatalf("preprocess ran %d times, want 2", len(preprocessCalls))
	}
	if preprocessCalls[0].Workspace == preprocessCalls[1].Workspace {
		t.Fatal("concurrent work items shared a workspace")
	}
}

func TestStartExecutionRejectsInvalidName(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.StartExecution(context.Background(), "../escape")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("StartExecution = %v, want validation error", err)
	}

	// Nothing was recorded for the rejected trigger.
	executions, err := h.store.ListExecutions(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(executions) != 0 {
		t.Fatalf("rejected trigger left %d executions", len(executions))
	}
}

func TestStartExecutionRejectsDuplicateInFlight(t *testing.T) {
	h := &harness{}
	h.build(t, testsupport.BlockingRunner{})

	ctx := context.Background()
	first, err := h.engine.StartExecution(ctx, "batch-001")
	if err != nil {
		t.Fatalf("StartExecution failed: %v", err)
	}

	_, err = h.engine.StartExecution(ctx, "batch-001")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("duplicate StartExecution = %v, want validation error", err)
	}

	// A different work item is still admitted.
	if _, err := h.engine.StartExecution(ctx, "batch-002"); err != nil {
		t.Fatalf("StartExecution(batch-002) failed: %v", err)
	}

	// Stop interrupts the blocked workers and records the shutdown.
	h.engine.Stop()
	final, err := h.engine.GetStatus(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if final.Status != store.StatusFailed {
		t.Fatalf("status after shutdown = %s, want failed", final.Status)
	}
	if final.Err == nil || final.Err.Error != store.ShutdownReason {
		t.Fatalf("error after shutdown = %+v", final.Err)
	}
}

func TestConcurrentDuplicateTriggersAdmitOne(t *testing.T) {
	h := &harness{}
	h.build(t, testsupport.BlockingRunner{})

	// Fire simultaneous triggers for one work item; exactly one may win.
	start := make(chan struct{})
	results := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.engine.StartExecution(context.Background(), "batch-001")
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	admitted := 0
	for err := range results {
		if err == nil {
			admitted++
			continue
		}
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("concurrent StartExecution = %v, want validation error", err)
		}
	}
	if admitted != 1 {
		t.Fatalf("admitted %d executions for one work item, want 1", admitted)
	}

	executions, err := h.store.ListExecutions(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(executions) != 1 {
		t.Fatalf("store holds %d executions, want 1", len(executions))
	}
}

func TestExecutionDeadlineRecordsTimedOut(t *testing.T) {
	h := &harness{}
	h.build(t, testsupport.BlockingRunner{}, testsupport.WithExecutionTimeoutHours(0))

	execution, err := h.engine.StartExecution(context.Background(), "batch-001")
	if err != nil {
		t.Fatalf("StartExecution failed: %v", err)
	}

	final := waitTerminal(t, h.engine, execution.ID)
	if final.Status != store.StatusTimedOut {
		t.Fatalf("status = %s, want timed_out (err: %+v)", final.Status, final.Err)
	}
	if final.Err == nil {
		t.Fatal("timed out execution carries no error")
	}
}

func TestStartExecutionRequiresRunningEngine(t *testing.T) {
	h := newHarness(t)
	h.engine.Stop()

	_, err := h.engine.StartExecution(context.Background(), "batch-001")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("StartExecution on stopped engine = %v, want configuration error", err)
	}
}
