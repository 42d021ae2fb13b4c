package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipfleet/voyage/pkg/voyageerr"
)

var resetTaskCmd = &cobra.Command{
	Use:   "reset-task <voyage_id> [task_id]",
	Short: "Reset a stale or stuck task back to pending",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runResetTask,
}

func init() {
	resetTaskCmd.Flags().Bool("all-stale", false, "Reset every task the deriver currently considers stale")
}

func runResetTask(cmd *cobra.Command, args []string) error {
	allStale, _ := cmd.Flags().GetBool("all-stale")

	if !allStale && len(args) != 2 {
		return voyageerr.New(voyageerr.InvalidPlan, "", "reset-task requires a task_id or --all-stale")
	}
	if allStale && len(args) != 1 {
		return voyageerr.New(voyageerr.InvalidPlan, "", "reset-task --all-stale does not take a task_id")
	}

	deps, _, err := buildFleetDeps()
	if err != nil {
		return err
	}
	voyageID, err := deps.ResolveVoyageID(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if allStale {
		reset, err := deps.ResetAllStale(cmd.Context(), voyageID)
		if err != nil {
			return err
		}
		for _, t := range reset {
			fmt.Printf("✓ reset %s\n", t.ID)
		}
		fmt.Printf("%d task(s) reset\n", len(reset))
		return nil
	}

	task, err := deps.ResetTask(cmd.Context(), voyageID, args[1])
	if err != nil {
		return err
	}
	fmt.Printf("✓ reset %s\n", task.ID)
	return nil
}
