// Package engine sequences the three pipeline stages into executions. Each
// execution is an explicit state machine advanced by a single goroutine;
// stage failure and timeout become recorded state, never a crash.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/metrics"
	"conveyor/internal/services"
	"conveyor/internal/stage"
	"conveyor/internal/storage"
	"conveyor/internal/store"
)

// StageRunner is the stage executor contract the engine drives.
type StageRunner interface {
	RunStage(ctx context.Context, spec stage.Spec, executionID, workItem string) (stage.Outcome, error)
}

// Engine owns execution lifecycles: validation, the per-execution state
// machine, and terminal-state recording.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	executor StageRunner
	metrics  *metrics.Metrics
	logger   *slog.Logger

	specs   map[string]stage.Spec
	timeout time.Duration

	mu      sync.Mutex
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs an engine from config. Stage specs are resolved once here;
// a bad class name fails construction rather than the first trigger.
func New(cfg *config.Config, st *store.Store, executor StageRunner, m *metrics.Metrics, logger *slog.Logger) (*Engine, error) {
	if cfg == nil || st == nil || executor == nil {
		return nil, errors.New("engine requires config, store, and stage executor")
	}
	if m == nil {
		m = metrics.New()
	}

	specs := make(map[string]stage.Spec, len(stage.Order))
	for _, role := range stage.Order {
		stageCfg, ok := cfg.StageFor(role)
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "engine", "new",
				fmt.Sprintf("no config for stage %s", role), nil)
		}
		spec, err := stage.SpecFromConfig(role, stageCfg)
		if err != nil {
			return nil, err
		}
		specs[role] = spec
	}

	return &Engine{
		cfg:      cfg,
		store:    st,
		executor: executor,
		metrics:  m,
		logger:   logging.NewComponentLogger(logger, "engine"),
		specs:    specs,
		timeout:  time.Duration(cfg.Workflow.ExecutionTimeoutHours) * time.Hour,
	}, nil
}

// Start makes the engine accept executions. ctx bounds every execution's
// lifetime: when it ends, in-flight stages are cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("engine already running")
	}
	e.baseCtx, e.cancel = context.WithCancel(ctx)
	e.running = true
	return nil
}

// Stop cancels in-flight executions and waits for their goroutines.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}

// StartExecution validates the work-item name, refuses duplicates in
// flight, creates the Pending record, and launches the execution goroutine.
// The returned snapshot carries the assigned id and start time.
func (e *Engine) StartExecution(ctx context.Context, workItem string) (*store.Execution, error) {
	if err := storage.ValidateWorkItemName(workItem); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil, services.Wrap(services.ErrConfiguration, "engine", "start execution", "engine is not running", nil)
	}
	baseCtx := e.baseCtx
	e.mu.Unlock()

	active, err := e.store.ActiveForWorkItem(ctx, workItem)
	if err != nil {
		return nil, fmt.Errorf("check in-flight executions: %w", err)
	}
	if active != nil {
		return nil, services.Wrap(services.ErrValidation, "engine", "start execution",
			fmt.Sprintf("work item %q already has execution %s in flight", workItem, active.ID), nil)
	}

	// The store's unique index on active work items backstops the check
	// above: of two racing triggers, one insert loses.
	execution, err := e.store.CreateExecution(ctx, uuid.NewString(), workItem)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("create execution: %w", err)
	}

	e.wg.Add(1)
	go e.run(baseCtx, execution)

	return execution, nil
}

// GetStatus returns a read-only snapshot of an execution. Never blocks on a
// running execution.
func (e *Engine) GetStatus(ctx context.Context, executionID string) (*store.Execution, error) {
	return e.store.GetExecution(ctx, executionID)
}

// run drives one execution through the state machine. It is the only writer
// of the execution record after creation.
func (e *Engine) run(baseCtx context.Context, execution *store.Execution) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(baseCtx, e.timeout)
	defer cancel()
	ctx = services.WithExecutionID(ctx, execution.ID)
	ctx = services.WithWorkItem(ctx, execution.WorkItem)

	logger := logging.WithContext(ctx, e.logger)
	logger.Info("execution started",
		logging.String(logging.FieldEventType, "execution_start"),
	)
	started := time.Now()

	for _, role := range stage.Order {
		if err := e.enterStage(ctx, execution, role); err != nil {
			if errors.Is(err, context.DeadlineExceeded) && baseCtx.Err() == nil {
				e.finalize(execution, store.StatusTimedOut, &store.ExecutionError{
					Error: fmt.Sprintf("execution exceeded %s deadline before stage %s", e.timeout, role),
					Cause: err.Error(),
				}, started)
				return
			}
			logger.Error("failed to enter stage", logging.Error(err))
			e.finalize(execution, store.StatusFailed, &store.ExecutionError{
				Error: fmt.Sprintf("enter stage %s", role),
				Cause: err.Error(),
			}, started)
			return
		}

		spec := e.specs[role]
		outcome, err := e.executor.RunStage(services.WithStage(ctx, role), spec, execution.ID, execution.WorkItem)
		if outcome.Attempts > 0 {
			execution.SetOutcome(role, outcomeRecord(outcome))
		}

		if err != nil {
			// Interrupted, not failed on its own terms: decide between the
			// execution deadline and daemon shutdown.
			if errors.Is(err, context.DeadlineExceeded) && baseCtx.Err() == nil {
				logger.Warn("execution timed out",
					logging.String(logging.FieldEventType, "execution_timeout"),
					logging.String(logging.FieldStage, role),
					logging.Duration("timeout", e.timeout),
				)
				e.finalize(execution, store.StatusTimedOut, &store.ExecutionError{
					Error: fmt.Sprintf("execution exceeded %s deadline during stage %s", e.timeout, role),
					Cause: outcome.Cause,
				}, started)
				return
			}
			logger.Warn("execution interrupted",
				logging.String(logging.FieldEventType, "execution_interrupted"),
				logging.String(logging.FieldStage, role),
				logging.Error(err),
			)
			e.finalize(execution, store.StatusFailed, &store.ExecutionError{
				Error: store.ShutdownReason,
				Cause: err.Error(),
			}, started)
			return
		}

		if !outcome.Succeeded {
			logger.Warn("stage failed; halting chain",
				logging.String(logging.FieldEventType, "stage_exhausted"),
				logging.String(logging.FieldStage, role),
				logging.Int("attempts", outcome.Attempts),
				logging.String("cause", outcome.Cause),
			)
			e.finalize(execution, store.StatusFailed, &store.ExecutionError{
				Error: fmt.Sprintf("stage %s failed: %s", role, outcome.FailureKind),
				Cause: outcome.Cause,
			}, started)
			return
		}

		if err := e.persist(execution); err != nil {
			logger.Error("failed to persist stage outcome", logging.Error(err))
		}
	}

	e.finalize(execution, store.StatusSucceeded, nil, started)
	logger.Info("execution succeeded",
		logging.String(logging.FieldEventType, "execution_complete"),
		logging.Duration("duration", time.Since(started)),
	)
}

// enterStage transitions the execution into a stage's running state.
func (e *Engine) enterStage(ctx context.Context, execution *store.Execution, role string) error {
	next := runningStatusFor[role]
	if err := checkTransition(execution.Status, next); err != nil {
		return err
	}
	execution.Status = next
	execution.CurrentStage = role
	return e.store.UpdateExecution(ctx, execution)
}

// finalize records a terminal status. Persistence uses a fresh context so a
// dead execution context cannot lose the terminal write.
func (e *Engine) finalize(execution *store.Execution, status store.ExecutionStatus, execErr *store.ExecutionError, started time.Time) {
	if err := checkTransition(execution.Status, status); err != nil {
		e.logger.Error("refusing illegal terminal transition",
			logging.String(logging.FieldExecutionID, execution.ID),
			logging.Error(err),
		)
		return
	}
	now := time.Now().UTC()
	execution.Status = status
	execution.CurrentStage = ""
	execution.Err = execErr
	execution.EndedAt = &now

	if err := e.persist(execution); err != nil {
		e.logger.Error("failed to persist terminal execution state",
			logging.String(logging.FieldExecutionID, execution.ID),
			logging.Error(err),
		)
	}

	e.metrics.ExecutionsTotal.WithLabelValues(string(status)).Inc()
	e.metrics.ExecutionDuration.Observe(time.Since(started).Seconds())
}

func (e *Engine) persist(execution *store.Execution) error {
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.store.UpdateExecution(persistCtx, execution)
}

func outcomeRecord(outcome stage.Outcome) store.StageOutcome {
	status := string(store.SubmissionFailed)
	if outcome.Succeeded {
		status = string(store.SubmissionSucceeded)
	}
	return store.StageOutcome{
		JobID:    outcome.SubmissionID,
		Status:   status,
		ExitCode: outcome.ExitCode,
	}
}
