package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"conveyor/internal/api"
)

func newExecutionsCommand(ctx *commandContext) *cobra.Command {
	executionsCmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect pipeline executions",
	}

	executionsCmd.AddCommand(newExecutionsListCommand(ctx))
	executionsCmd.AddCommand(newExecutionsShowCommand(ctx))

	return executionsCmd
}

func newExecutionsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			executions, err := client.Executions(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, executions)
			}

			out := cmd.OutOrStdout()
			if len(executions) == 0 {
				fmt.Fprintln(out, "No executions recorded")
				return nil
			}

			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(executions))
			for i := range executions {
				e := &executions[i]
				rows = append(rows, []string{
					e.ExecutionID,
					e.WorkItem,
					colorizeStatus(e.Status, colorize),
					displayLabel(e.CurrentStage),
					formatTime(e.StartedAt),
					formatTime(e.EndedAt),
				})
			}
			headers := []string{"Execution", "Work Item", "Status", "Stage", "Started", "Ended"}
			fmt.Fprintln(out, renderTable(headers, rows, nil))
			return nil
		},
	}
}

func newExecutionsShowCommand(ctx *commandContext) *cobra.Command {
	var withSubmissions bool

	cmd := &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one execution in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			execution, err := client.Execution(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var submissions []api.Submission
			if withSubmissions {
				submissions, err = client.Submissions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
			}

			if ctx.jsonMode() {
				payload := struct {
					api.Execution
					Submissions []api.Submission `json:"submissions,omitempty"`
				}{Execution: execution, Submissions: submissions}
				return writeJSON(cmd, payload)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintf(out, "Execution: %s\n", execution.ExecutionID)
			fmt.Fprintf(out, "Work item: %s\n", execution.WorkItem)
			fmt.Fprintf(out, "Status: %s\n", colorizeStatus(execution.Status, colorize))
			if execution.CurrentStage != "" {
				fmt.Fprintf(out, "Current stage: %s\n", displayLabel(execution.CurrentStage))
			}
			fmt.Fprintf(out, "Started: %s\n", formatTime(execution.StartedAt))
			fmt.Fprintf(out, "Ended: %s\n", formatTime(execution.EndedAt))

			printStageOutput(cmd, "Preprocess", execution.PreprocessOutput)
			printStageOutput(cmd, "GPU", execution.GpuOutput)
			printStageOutput(cmd, "Postprocess", execution.PostprocessOutput)

			if execution.Error != nil {
				fmt.Fprintf(out, "Error: %s\n", execution.Error.Error)
				if execution.Error.Cause != "" {
					fmt.Fprintf(out, "Cause: %s\n", execution.Error.Cause)
				}
			}

			if withSubmissions {
				fmt.Fprintln(out)
				printSubmissions(cmd, submissions)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withSubmissions, "submissions", false, "Include per-attempt job submissions")
	return cmd
}

func printStageOutput(cmd *cobra.Command, label string, output *api.StageOutput) {
	if output == nil {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: job %d %s (exit %d)\n",
		label, output.JobID, displayLabel(output.Status), output.ExitCode)
}

func printSubmissions(cmd *cobra.Command, submissions []api.Submission) {
	out := cmd.OutOrStdout()
	if len(submissions) == 0 {
		fmt.Fprintln(out, "No job submissions recorded")
		return
	}
	rows := make([][]string, 0, len(submissions))
	for i := range submissions {
		s := &submissions[i]
		exit := "-"
		if s.ExitCode != nil {
			exit = strconv.Itoa(*s.ExitCode)
		}
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			displayLabel(s.Stage),
			strconv.Itoa(s.Attempt),
			s.Class,
			displayLabel(s.State),
			exit,
			s.Reason,
		})
	}
	headers := []string{"Job", "Stage", "Attempt", "Class", "State", "Exit", "Reason"}
	aligns := []columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft}
	fmt.Fprintln(out, renderTable(headers, rows, aligns))
}
