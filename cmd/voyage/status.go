package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [voyage_id]",
	Short: "Show a voyage's derived state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	deps, _, err := buildFleetDeps()
	if err != nil {
		return err
	}
	var arg string
	if len(args) == 1 {
		arg = args[0]
	}
	voyageID, err := deps.ResolveVoyageID(cmd.Context(), arg)
	if err != nil {
		return err
	}
	status, err := deps.Status(cmd.Context(), voyageID)
	if err != nil {
		return err
	}

	fmt.Printf("Voyage:      %s\n", voyageID)
	fmt.Printf("State:       %s\n", status.State)
	fmt.Printf("Tasks:       %d total, %d in_progress, %d stale\n", status.TotalTasks, status.InProgress, status.StaleCount)
	fmt.Printf("Ships:\n")
	for _, s := range status.Ships {
		fmt.Printf("  %-10s %-10s completed=%d\n", s.ID, s.State, s.CompletedCount)
	}
	if len(status.Faults) > 0 {
		fmt.Printf("Data faults:\n")
		for _, f := range status.Faults {
			fmt.Printf("  %s: %s\n", f.TaskID, f.Reason)
		}
	}
	return nil
}
