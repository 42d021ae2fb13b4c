package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var abandonCmd = &cobra.Command{
	Use:   "abandon <voyage_id>",
	Short: "Destroy the selected ship VMs (default: all), preserving storage",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbandon,
}

func init() {
	addSelectorFlags(abandonCmd)
}

func runAbandon(cmd *cobra.Command, args []string) error {
	selector, err := parseSelectorFlags(cmd)
	if err != nil {
		return err
	}

	deps, _, err := buildFleetDeps()
	if err != nil {
		return err
	}
	voyageID, err := deps.ResolveVoyageID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := deps.Abandon(cmd.Context(), voyageID, selector); err != nil {
		return err
	}
	fmt.Printf("✓ fleet abandoned; storage VM preserved\n")
	return nil
}
