package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conveyor/internal/services"
)

const submissionColumns = `id, execution_id, stage, attempt, class, state,
	exit_code, reason, created_at, started_at, ended_at`

// CreateSubmission inserts a job submission attempt in the submitted state
// and returns its assigned id.
func (s *Store) CreateSubmission(ctx context.Context, submission *Submission) (int64, error) {
	if submission == nil {
		return 0, errors.New("submission is required")
	}
	now := time.Now().UTC()
	submission.CreatedAt = now
	submission.State = SubmissionSubmitted

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_submissions (execution_id, stage, attempt, class, state, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		submission.ExecutionID,
		submission.Stage,
		submission.Attempt,
		submission.Class,
		submission.State,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert submission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	submission.ID = id
	return id, nil
}

// UpdateSubmission persists a submission's state transition.
func (s *Store) UpdateSubmission(ctx context.Context, submission *Submission) error {
	if submission == nil {
		return errors.New("submission is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_submissions SET state = ?, exit_code = ?, reason = ?, started_at = ?, ended_at = ?
         WHERE id = ?`,
		submission.State,
		nullableInt(submission.ExitCode),
		nullableString(submission.Reason),
		nullableTime(submission.StartedAt),
		nullableTime(submission.EndedAt),
		submission.ID,
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "store", "update submission",
			fmt.Sprintf("submission %d", submission.ID), nil)
	}
	return nil
}

// SubmissionsForExecution lists every attempt recorded for an execution in
// creation order.
func (s *Store) SubmissionsForExecution(ctx context.Context, executionID string) ([]*Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM job_submissions WHERE execution_id = ? ORDER BY id`,
		executionID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var submissions []*Submission
	for rows.Next() {
		submission, scanErr := scanSubmission(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		submissions = append(submissions, submission)
	}
	return submissions, rows.Err()
}

// CountSubmissions returns how many attempts exist for one stage of an
// execution.
func (s *Store) CountSubmissions(ctx context.Context, executionID, stage string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM job_submissions WHERE execution_id = ? AND stage = ?`,
		executionID, stage).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return count, nil
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var (
		submission         Submission
		exitCode           sql.NullInt64
		reason             sql.NullString
		createdAt          string
		startedAt, endedAt sql.NullString
	)
	err := row.Scan(
		&submission.ID, &submission.ExecutionID, &submission.Stage, &submission.Attempt,
		&submission.Class, &submission.State, &exitCode, &reason,
		&createdAt, &startedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		submission.ExitCode = &code
	}
	submission.Reason = reason.String
	if submission.CreatedAt, err = mustParseTime(createdAt); err != nil {
		return nil, err
	}
	if submission.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if submission.EndedAt, err = parseTime(endedAt); err != nil {
		return nil, err
	}
	return &submission, nil
}
