package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shipfleet/voyage/pkg/fleet"
	"github.com/shipfleet/voyage/pkg/types"
)

// addSelectorFlags registers the --ships/--state flags shared by the
// commands that act on a subset of a voyage's ships (abandon, sink).
func addSelectorFlags(cmd *cobra.Command) {
	cmd.Flags().String("ships", "", "Comma-separated ship indices to act on (default: all ships)")
	cmd.Flags().String("state", "", "Only act on ships in this derived state (working, stale, idle, unknown)")
}

// parseSelectorFlags builds a fleet.TargetSelector from --ships/--state.
// Both flags empty resolves to "every ship", matching the pre-selector
// behavior of abandon/sink.
func parseSelectorFlags(cmd *cobra.Command) (fleet.TargetSelector, error) {
	shipsFlag, _ := cmd.Flags().GetString("ships")
	stateFlag, _ := cmd.Flags().GetString("state")

	var selector fleet.TargetSelector
	if shipsFlag != "" {
		for _, part := range strings.Split(shipsFlag, ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return fleet.TargetSelector{}, fmt.Errorf("--ships: %q is not an integer index", part)
			}
			selector.ShipIndices = append(selector.ShipIndices, idx)
		}
	}
	if stateFlag != "" {
		switch types.ShipState(stateFlag) {
		case types.ShipWorking, types.ShipStale, types.ShipIdle, types.ShipUnknown:
			selector.State = types.ShipState(stateFlag)
		default:
			return fleet.TargetSelector{}, fmt.Errorf("--state: %q is not one of working, stale, idle, unknown", stateFlag)
		}
	}
	return selector, nil
}
