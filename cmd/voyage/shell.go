package main

import (
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell <voyage_id> <ship_id>",
	Short: "Open an interactive shell on a ship VM",
	Args:  cobra.ExactArgs(2),
	RunE:  runShell,
}

func runShell(cmd *cobra.Command, args []string) error {
	deps, _, err := buildFleetDeps()
	if err != nil {
		return err
	}
	voyageID, err := deps.ResolveVoyageID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	// Interactive replaces the current process; it does not return on
	// success.
	return deps.Shell(cmd.Context(), voyageID, args[1])
}
