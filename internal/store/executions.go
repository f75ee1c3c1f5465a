package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"conveyor/internal/services"
)

const executionColumns = `id, work_item, status, current_stage, error_message, error_cause,
	preprocess_job_id, preprocess_status, preprocess_exit_code,
	gpu_job_id, gpu_status, gpu_exit_code,
	postprocess_job_id, postprocess_status, postprocess_exit_code,
	created_at, updated_at, started_at, ended_at`

// CreateExecution inserts a new pending execution record. The schema's
// partial unique index admits at most one non-terminal execution per work
// item, so concurrent creates for the same name lose here rather than race.
func (s *Store) CreateExecution(ctx context.Context, id, workItem string) (*Execution, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, work_item, status, created_at, updated_at, started_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id, workItem, StatusPending, timestamp, timestamp, timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrValidation, "store", "create execution",
				fmt.Sprintf("work item %q already has an execution in flight", workItem), nil)
		}
		return nil, fmt.Errorf("insert execution: %w", err)
	}
	return s.GetExecution(ctx, id)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetExecution fetches one execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get execution",
			fmt.Sprintf("execution %s", id), nil)
	}
	return execution, err
}

// UpdateExecution persists the mutable fields of an execution.
func (s *Store) UpdateExecution(ctx context.Context, execution *Execution) error {
	if execution == nil {
		return errors.New("execution is required")
	}
	if !execution.Status.Valid() {
		return fmt.Errorf("invalid execution status %q", execution.Status)
	}
	execution.UpdatedAt = time.Now().UTC()

	var errMessage, errCause any
	if execution.Err != nil {
		errMessage = execution.Err.Error
		errCause = execution.Err.Cause
	}

	outcomes := make([]any, 0, 9)
	for _, outcome := range []*StageOutcome{execution.Preprocess, execution.GPU, execution.Postprocess} {
		if outcome == nil {
			outcomes = append(outcomes, nil, nil, nil)
			continue
		}
		outcomes = append(outcomes, outcome.JobID, outcome.Status, outcome.ExitCode)
	}

	args := []any{
		string(execution.Status),
		nullableString(execution.CurrentStage),
		errMessage,
		errCause,
	}
	args = append(args, outcomes...)
	args = append(args,
		execution.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(execution.EndedAt),
		execution.ID,
	)

	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET
            status = ?, current_stage = ?, error_message = ?, error_cause = ?,
            preprocess_job_id = ?, preprocess_status = ?, preprocess_exit_code = ?,
            gpu_job_id = ?, gpu_status = ?, gpu_exit_code = ?,
            postprocess_job_id = ?, postprocess_status = ?, postprocess_exit_code = ?,
            updated_at = ?, ended_at = ?
         WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "store", "update execution",
			fmt.Sprintf("execution %s", execution.ID), nil)
	}
	return nil
}

// ListExecutions returns up to limit executions, most recent first. A limit
// of zero or below means no limit.
func (s *Store) ListExecutions(ctx context.Context, limit int) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions ORDER BY created_at DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		execution, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

// ActiveForWorkItem returns the non-terminal execution for a work item, or
// nil when none is in flight.
func (s *Store) ActiveForWorkItem(ctx context.Context, workItem string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions
         WHERE work_item = ? AND status NOT IN (?, ?, ?)
         ORDER BY created_at DESC LIMIT 1`,
		workItem, StatusSucceeded, StatusFailed, StatusTimedOut)
	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return execution, err
}

// FailInFlight marks every non-terminal execution as failed with the given
// reason. Used on daemon shutdown so interrupted work is diagnosable.
func (s *Store) FailInFlight(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, error_message = ?, updated_at = ?, ended_at = ?
         WHERE status NOT IN (?, ?, ?)`,
		StatusFailed, reason, now, now,
		StatusSucceeded, StatusFailed, StatusTimedOut)
	if err != nil {
		return 0, fmt.Errorf("fail in-flight executions: %w", err)
	}
	return res.RowsAffected()
}

// Health aggregates execution counts per lifecycle state.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM executions GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("health query: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var status ExecutionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, fmt.Errorf("scan health row: %w", err)
		}
		summary.Total += count
		switch {
		case status == StatusPending:
			summary.Pending += count
		case status.Running():
			summary.Running += count
		case status == StatusSucceeded:
			summary.Succeeded += count
		case status == StatusFailed:
			summary.Failed += count
		case status == StatusTimedOut:
			summary.TimedOut += count
		}
	}
	return summary, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		execution                        Execution
		currentStage, errMsg, errCause   sql.NullString
		preJobID, gpuJobID, postJobID    sql.NullInt64
		preStatus, gpuStatus, postStatus sql.NullString
		preExit, gpuExit, postExit       sql.NullInt64
		createdAt, updatedAt             string
		startedAt, endedAt               sql.NullString
	)

	err := row.Scan(
		&execution.ID, &execution.WorkItem, &execution.Status, &currentStage, &errMsg, &errCause,
		&preJobID, &preStatus, &preExit,
		&gpuJobID, &gpuStatus, &gpuExit,
		&postJobID, &postStatus, &postExit,
		&createdAt, &updatedAt, &startedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.CurrentStage = currentStage.String
	if errMsg.Valid {
		execution.Err = &ExecutionError{Error: errMsg.String, Cause: errCause.String}
	}
	execution.Preprocess = buildOutcome(preJobID, preStatus, preExit)
	execution.GPU = buildOutcome(gpuJobID, gpuStatus, gpuExit)
	execution.Postprocess = buildOutcome(postJobID, postStatus, postExit)

	if execution.CreatedAt, err = mustParseTime(createdAt); err != nil {
		return nil, err
	}
	if execution.UpdatedAt, err = mustParseTime(updatedAt); err != nil {
		return nil, err
	}
	if execution.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if execution.EndedAt, err = parseTime(endedAt); err != nil {
		return nil, err
	}
	return &execution, nil
}

func buildOutcome(jobID sql.NullInt64, status sql.NullString, exitCode sql.NullInt64) *StageOutcome {
	if !status.Valid {
		return nil
	}
	return &StageOutcome{
		JobID:    jobID.Int64,
		Status:   status.String,
		ExitCode: int(exitCode.Int64),
	}
}
