package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <voyage_id>",
	Short: "Launch new ships to fill gaps in the fleet",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func init() {
	resumeCmd.Flags().Int("ships", 1, "Number of new ships to launch")
}

func runResume(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("ships")

	deps, _, err := buildFleetDeps()
	if err != nil {
		return err
	}
	voyageID, err := deps.ResolveVoyageID(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	outcomes, err := deps.Resume(cmd.Context(), voyageID, count)
	if err != nil {
		return err
	}

	failed := false
	for _, o := range outcomes {
		if o.Err == nil {
			fmt.Printf("✓ ship-%d bootstrapped\n", o.Index)
		} else {
			fmt.Printf("✗ ship-%d failed: %v\n", o.Index, o.Err)
			failed = true
		}
	}
	if failed {
		return partialSuccessError{}
	}
	return nil
}
