package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipfleet/voyage/pkg/types"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks <voyage_id>",
	Short: "List a voyage's tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasks,
}

func init() {
	tasksCmd.Flags().String("status", "", "Filter by status (pending|in_progress|complete)")
}

func runTasks(cmd *cobra.Command, args []string) error {
	statusFlag, _ := cmd.Flags().GetString("status")

	deps, _, err := buildFleetDeps()
	if err != nil {
		return err
	}
	voyageID, err := deps.ResolveVoyageID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	tasks, err := deps.Tasks(cmd.Context(), voyageID, types.TaskStatus(statusFlag))
	if err != nil {
		return err
	}

	for _, t := range tasks {
		assignee := "-"
		if t.Metadata.Assignee != nil {
			assignee = *t.Metadata.Assignee
		}
		fmt.Printf("%-20s %-12s %-10s %s\n", t.ID, t.Status, assignee, t.Title)
	}
	return nil
}
