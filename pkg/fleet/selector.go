package fleet

import (
	"sort"

	"github.com/shipfleet/voyage/pkg/types"
)

// TargetSelector specifies which ships a fleet operation should act on.
// Exactly one selection mode is meaningful at a time; Resolve applies
// them in a fixed precedence: explicit indices, then state, then All.
type TargetSelector struct {
	ShipIndices []int
	State       types.ShipState
	All         bool
}

// Resolve filters the roster down to the ships the selector names.
func (ts TargetSelector) Resolve(roster []types.ShipStatus) []types.ShipStatus {
	if len(ts.ShipIndices) > 0 {
		want := make(map[int]bool, len(ts.ShipIndices))
		for _, i := range ts.ShipIndices {
			want[i] = true
		}
		var matched []types.ShipStatus
		for _, s := range roster {
			if idx, ok := shipIndex(s.ID); ok && want[idx] {
				matched = append(matched, s)
			}
		}
		return matched
	}
	if ts.State != "" {
		var matched []types.ShipStatus
		for _, s := range roster {
			if s.State == ts.State {
				matched = append(matched, s)
			}
		}
		return matched
	}
	if ts.All {
		out := make([]types.ShipStatus, len(roster))
		copy(out, roster)
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out
	}
	return nil
}

// shipIndex parses the trailing integer out of a "ship-<index>" id.
func shipIndex(shipID string) (int, bool) {
	const prefix = "ship-"
	if len(shipID) <= len(prefix) || shipID[:len(prefix)] != prefix {
		return 0, false
	}
	n := 0
	for _, c := range shipID[len(prefix):] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
