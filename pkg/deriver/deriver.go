// Package deriver implements the Status Deriver (component C5): a pure
// function from a voyage's task set to ship states and voyage state. It
// has no side effects and depends only on its inputs, which is what makes
// it the one component amenable to property-based testing.
package deriver

import (
	"time"

	"github.com/shipfleet/voyage/pkg/types"
)

// DefaultStaleThreshold is used when the caller does not override it via
// STALE_THRESHOLD_MINUTES.
const DefaultStaleThreshold = 30 * time.Minute

// Derive computes a VoyageStatus from a task set. now and staleThreshold
// are explicit parameters (not read from the system clock or a global
// config) precisely so the function stays deterministic and testable.
func Derive(voyage types.Voyage, tasks []types.Task, now time.Time, staleThreshold time.Duration) types.VoyageStatus {
	status := types.VoyageStatus{
		Voyage:     voyage,
		TotalTasks: len(tasks),
	}

	byID := make(map[string]types.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	shipAgg := make(map[string]*shipAccumulator)
	shipOrder := []string{}

	noteShip := func(id string) *shipAccumulator {
		if id == "" {
			return nil
		}
		acc, ok := shipAgg[id]
		if !ok {
			acc = &shipAccumulator{}
			shipAgg[id] = acc
			shipOrder = append(shipOrder, id)
		}
		return acc
	}

	for _, task := range tasks {
		if err := checkInvariants(task, byID); err != "" {
			status.Faults = append(status.Faults, types.DataFault{TaskID: task.ID, Reason: err})
		}

		switch task.Status {
		case types.TaskInProgress:
			status.InProgress++
			stale := isStale(task, now, staleThreshold)
			if stale {
				status.StaleCount++
			}
			if task.Metadata.Assignee != nil {
				acc := noteShip(*task.Metadata.Assignee)
				if stale {
					acc.hasStaleInProgress = true
				} else {
					acc.hasFreshInProgress = true
				}
			}
		case types.TaskComplete:
			if task.Metadata.CompletedBy != nil {
				acc := noteShip(*task.Metadata.CompletedBy)
				acc.completedCount++
				acc.hasComplete = true
			}
			// A historical assignee that never completed anything still
			// counts as an observed ship (§3: "Ship ... implied by its id
			// appearing in at least one task's metadata.assignee").
			if task.Metadata.Assignee != nil {
				noteShip(*task.Metadata.Assignee)
			}
		}
	}

	for _, id := range shipOrder {
		acc := shipAgg[id]
		status.Ships = append(status.Ships, types.ShipStatus{
			ID:             id,
			State:          acc.state(),
			CompletedCount: acc.completedCount,
		})
	}

	status.State = deriveVoyageState(tasks, status.InProgress, status.StaleCount)

	return status
}

type shipAccumulator struct {
	hasFreshInProgress bool
	hasStaleInProgress bool
	hasComplete        bool
	completedCount     int
}

func (a *shipAccumulator) state() types.ShipState {
	switch {
	case a.hasFreshInProgress:
		return types.ShipWorking
	case a.hasStaleInProgress:
		return types.ShipStale
	case a.hasComplete:
		return types.ShipIdle
	default:
		return types.ShipUnknown
	}
}

// isStale reports whether an in_progress task's claim is older than
// staleThreshold. A claimed_at in the future (clock skew) must never be
// treated as stale.
func isStale(task types.Task, now time.Time, staleThreshold time.Duration) bool {
	if task.Status != types.TaskInProgress || task.Metadata.ClaimedAt == nil {
		return false
	}
	claimedAt := *task.Metadata.ClaimedAt
	if claimedAt.After(now) {
		return false
	}
	return now.Sub(claimedAt) > staleThreshold
}

// checkInvariants returns a non-empty fault reason if task violates an
// invariant from the data model; an empty string means no fault.
func checkInvariants(task types.Task, byID map[string]types.Task) string {
	switch task.Status {
	case types.TaskPending, types.TaskInProgress, types.TaskComplete:
	default:
		return "unknown status: " + string(task.Status)
	}

	if task.Status == types.TaskInProgress {
		if task.Metadata.Assignee == nil || task.Metadata.ClaimedAt == nil {
			return "in_progress task missing assignee or claimed_at"
		}
		for _, blockerID := range task.BlockedBy {
			blocker, ok := byID[blockerID]
			if !ok {
				return "blocked_by references missing task " + blockerID
			}
			if blocker.Status != types.TaskComplete {
				return "in_progress with an incomplete blocker " + blockerID
			}
		}
	}

	if task.Status == types.TaskComplete {
		if task.Metadata.CompletedBy == nil || task.Metadata.CompletedAt == nil {
			return "complete task missing completed_by or completed_at"
		}
	}

	for _, blockerID := range task.BlockedBy {
		if _, ok := byID[blockerID]; !ok {
			return "blocked_by references missing task " + blockerID
		}
	}

	return ""
}

// deriveVoyageState applies the ordered decision from section 4.5.
func deriveVoyageState(tasks []types.Task, inProgress, staleCount int) types.VoyageState {
	if len(tasks) == 0 {
		return types.VoyagePlanning
	}

	allComplete := true
	anyPending := false
	for _, t := range tasks {
		if t.Status != types.TaskComplete {
			allComplete = false
		}
		if t.Status == types.TaskPending {
			anyPending = true
		}
	}
	if allComplete {
		return types.VoyageComplete
	}
	// Stalled needs at least one in_progress task and all of them stale.
	// With pending tasks and no in_progress task at all the pending work
	// is still claimable, so the voyage is running.
	if anyPending && inProgress > 0 && staleCount == inProgress {
		return types.VoyageStalled
	}
	return types.VoyageRunning
}
