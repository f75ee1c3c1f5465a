package api

import "conveyor/internal/store"

// FromStoreExecution converts a persisted execution into its external view.
func FromStoreExecution(execution *store.Execution) Execution {
	if execution == nil {
		return Execution{}
	}
	view := Execution{
		ExecutionID:       execution.ID,
		WorkItem:          execution.WorkItem,
		Status:            string(execution.Status),
		CurrentStage:      execution.CurrentStage,
		StartedAt:         execution.StartedAt,
		EndedAt:           execution.EndedAt,
		PreprocessOutput:  stageOutput(execution.Preprocess),
		GpuOutput:         stageOutput(execution.GPU),
		PostprocessOutput: stageOutput(execution.Postprocess),
	}
	if execution.Err != nil {
		view.Error = &ExecutionError{Error: execution.Err.Error, Cause: execution.Err.Cause}
	}
	return view
}

// FromStoreSubmission converts a persisted submission into its external view.
func FromStoreSubmission(submission *store.Submission) Submission {
	if submission == nil {
		return Submission{}
	}
	return Submission{
		ID:        submission.ID,
		Stage:     submission.Stage,
		Attempt:   submission.Attempt,
		Class:     submission.Class,
		State:     string(submission.State),
		ExitCode:  submission.ExitCode,
		Reason:    submission.Reason,
		CreatedAt: submission.CreatedAt,
		StartedAt: submission.StartedAt,
		EndedAt:   submission.EndedAt,
	}
}

func stageOutput(outcome *store.StageOutcome) *StageOutput {
	if outcome == nil {
		return nil
	}
	return &StageOutput{
		JobID:    outcome.JobID,
		Status:   outcome.Status,
		ExitCode: outcome.ExitCode,
	}
}
