package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, execution counts, and pool occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			summary, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, summary)
			}

			out := cmd.OutOrStdout()
			running := "no"
			if summary.Running {
				running = "yes"
			}
			fmt.Fprintf(out, "Daemon running: %s\n", running)
			fmt.Fprintf(out, "Volume root: %s\n", summary.VolumeRoot)
			fmt.Fprintf(out, "Database: %s\n", summary.DBPath)

			if len(summary.Executions) > 0 {
				statuses := make([]string, 0, len(summary.Executions))
				for status := range summary.Executions {
					statuses = append(statuses, status)
				}
				sort.Strings(statuses)
				fmt.Fprintln(out, "\nExecutions:")
				for _, status := range statuses {
					fmt.Fprintf(out, "  %-22s %d\n", displayLabel(status)+":", summary.Executions[status])
				}
			}

			if len(summary.Pools) > 0 {
				rows := make([][]string, 0, len(summary.Pools))
				for _, p := range summary.Pools {
					rows = append(rows, []string{
						displayLabel(p.Class),
						strconv.Itoa(p.InFlightUnits) + "/" + strconv.Itoa(p.CapacityUnits),
						strconv.Itoa(p.WaitingRequests),
						displayLabel(p.AllocationStrategy),
						displayLabel(p.PricingClass),
					})
				}
				headers := []string{"Pool", "In Use", "Waiting", "Allocation", "Pricing"}
				aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(headers, rows, aligns))
			}

			if len(summary.Preflight) > 0 {
				fmt.Fprintln(out, "\nPreflight:")
				for _, check := range summary.Preflight {
					mark := "ok"
					if !check.Passed {
						mark = "FAIL"
					}
					fmt.Fprintf(out, "  %-16s %-4s %s\n", check.Name+":", mark, check.Detail)
				}
			}
			return nil
		},
	}
}
