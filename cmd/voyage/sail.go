package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipfleet/voyage/pkg/config"
	"github.com/shipfleet/voyage/pkg/sail"
)

var sailCmd = &cobra.Command{
	Use:   "sail <plan_dir>",
	Short: "Build a new voyage from a plan directory and launch it",
	Args:  cobra.ExactArgs(1),
	RunE:  runSail,
}

func init() {
	sailCmd.Flags().Int("ships", 0, "Override the plan's recommended ship count")
}

func runSail(cmd *cobra.Command, args []string) error {
	planDir := args[0]
	ships, _ := cmd.Flags().GetInt("ships")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	deps, err := buildSailDeps(cfg)
	if err != nil {
		return err
	}

	plan, err := sail.LoadPlan(planDir)
	if err != nil {
		return err
	}

	fmt.Printf("Sailing from %s...\n", planDir)
	result, err := sail.Run(cmd.Context(), deps, plan, sail.Options{ShipCount: ships, DefaultShips: cfg.DefaultShips})
	if err != nil {
		return err
	}

	fmt.Printf("✓ Voyage %s constructed\n", result.Voyage.ID)
	fmt.Printf("  Repo: %s\n", result.Voyage.Repo)
	fmt.Printf("  Branch: %s\n", result.Voyage.Branch)

	launched := 0
	for _, o := range result.Ships {
		if o.Err == nil {
			fmt.Printf("✓ ship-%d bootstrapped\n", o.Index)
			launched++
		} else {
			fmt.Printf("✗ ship-%d failed: %v\n", o.Index, o.Err)
		}
	}
	fmt.Printf("%d/%d ships launched\n", launched, len(result.Ships))

	if result.AnyShipFailed() {
		return partialSuccessError{}
	}
	return nil
}

// partialSuccessError maps to exit code 4: sail succeeded overall but one
// or more ships failed to bootstrap. The operator is expected to resume.
type partialSuccessError struct{}

func (partialSuccessError) Error() string { return "one or more ships failed to bootstrap; run resume" }

func (partialSuccessError) ExitCode() int { return 4 }
