package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipfleet/voyage/pkg/fleet"
)

var logsCmd = &cobra.Command{
	Use:   "logs <voyage_id>",
	Short: "Show ship agent logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().String("ship", "", "Only show this ship's log (e.g. ship-0)")
	logsCmd.Flags().Bool("follow", false, "Stream new lines as they are written")
	logsCmd.Flags().String("grep", "", "Filter lines server-side by this pattern")
	logsCmd.Flags().Int("tail", 0, "Only show the last N lines")
}

func runLogs(cmd *cobra.Command, args []string) error {
	ship, _ := cmd.Flags().GetString("ship")
	follow, _ := cmd.Flags().GetBool("follow")
	grep, _ := cmd.Flags().GetString("grep")
	tail, _ := cmd.Flags().GetInt("tail")

	deps, _, err := buildFleetDeps()
	if err != nil {
		return err
	}
	voyageID, err := deps.ResolveVoyageID(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	lines, errCh := deps.Logs(cmd.Context(), voyageID, fleet.LogsOptions{
		Ship:   ship,
		Follow: follow,
		Grep:   grep,
		Tail:   tail,
	})

	for lines != nil || errCh != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			fmt.Println(line)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}
