package api

import (
	"context"

	"conveyor/internal/store"
)

// ExecutionService is the read side used by the HTTP API and CLI views.
type ExecutionService struct {
	store *store.Store
}

// NewExecutionService constructs the service.
func NewExecutionService(st *store.Store) *ExecutionService {
	return &ExecutionService{store: st}
}

// Execution fetches a single execution view.
func (s *ExecutionService) Execution(ctx context.Context, id string) (Execution, error) {
	execution, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return Execution{}, err
	}
	return FromStoreExecution(execution), nil
}

// Executions lists recent executions, most recent first.
func (s *ExecutionService) Executions(ctx context.Context, limit int) ([]Execution, error) {
	executions, err := s.store.ListExecutions(ctx, limit)
	if err != nil {
		return nil, err
	}
	views := make([]Execution, 0, len(executions))
	for _, execution := range executions {
		views = append(views, FromStoreExecution(execution))
	}
	return views, nil
}

// Submissions lists every recorded attempt for an execution.
func (s *ExecutionService) Submissions(ctx context.Context, executionID string) ([]Submission, error) {
	submissions, err := s.store.SubmissionsForExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	views := make([]Submission, 0, len(submissions))
	for _, submission := range submissions {
		views = append(views, FromStoreSubmission(submission))
	}
	return views, nil
}

// Counts aggregates executions per lifecycle state for status output.
func (s *ExecutionService) Counts(ctx context.Context) (map[string]int, error) {
	summary, err := s.store.Health(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{
		"total":     summary.Total,
		"pending":   summary.Pending,
		"running":   summary.Running,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"timed_out": summary.TimedOut,
	}, nil
}
