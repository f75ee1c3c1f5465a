package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTriggerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <work-item>",
		Short: "Start a pipeline execution for a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workItem := strings.TrimSpace(args[0])
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Trigger(cmd.Context(), workItem)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Execution %s accepted for work item %s\n", resp.ExecutionID, workItem)
			fmt.Fprintf(out, "Started at: %s\n", resp.StartedAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}
