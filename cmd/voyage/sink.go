package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var sinkCmd = &cobra.Command{
	Use:   "sink [voyage_id]",
	Short: "Destroy the selected ships (default: all) and optionally storage",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSink,
}

func init() {
	sinkCmd.Flags().Bool("include-storage", false, "Also destroy the storage VM")
	sinkCmd.Flags().Bool("all", false, "Destroy every VM under this control plane, across all voyages")
	sinkCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
	addSelectorFlags(sinkCmd)
}

func runSink(cmd *cobra.Command, args []string) error {
	includeStorage, _ := cmd.Flags().GetBool("include-storage")
	all, _ := cmd.Flags().GetBool("all")
	force, _ := cmd.Flags().GetBool("force")
	selector, err := parseSelectorFlags(cmd)
	if err != nil {
		return err
	}

	deps, _, err := buildFleetDeps()
	if err != nil {
		return err
	}

	if all {
		if !force && !confirm("This will destroy every VM across every voyage. Continue?") {
			fmt.Println("aborted")
			return nil
		}
		if err := deps.SinkAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("✓ every voyage VM destroyed")
		return nil
	}

	var arg string
	if len(args) == 1 {
		arg = args[0]
	}
	voyageID, err := deps.ResolveVoyageID(cmd.Context(), arg)
	if err != nil {
		return err
	}
	if !force && !confirm(fmt.Sprintf("This will destroy voyage %s's VMs. Continue?", voyageID)) {
		fmt.Println("aborted")
		return nil
	}
	if err := deps.Sink(cmd.Context(), voyageID, selector, includeStorage); err != nil {
		return err
	}
	fmt.Printf("✓ voyage %s sunk\n", voyageID)
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}
