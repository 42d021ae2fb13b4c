package deriver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipfleet/voyage/pkg/types"
)

func strPtr(s string) *string       { return &s }
func timePtr(t time.Time) *time.Time { return &t }

func voyageFixture() types.Voyage {
	return types.Voyage{ID: "voy-test", ShipCount: 1}
}

func TestDeriveEmptyTaskSetIsPlanning(t *testing.T) {
	status := Derive(voyageFixture(), nil, time.Now(), DefaultStaleThreshold)
	assert.Equal(t, types.VoyagePlanning, status.State)
	assert.Empty(t, status.Ships)
	assert.Equal(t, 0, status.TotalTasks)
	assert.Empty(t, status.Faults)
}

func TestDeriveAllCompleteIsComplete(t *testing.T) {
	now := time.Now()
	tasks := []types.Task{
		{ID: "a", Status: types.TaskComplete, Metadata: types.TaskMetadata{CompletedBy: strPtr("ship-0"), CompletedAt: timePtr(now)}},
		{ID: "b", Status: types.TaskComplete, Metadata: types.TaskMetadata{CompletedBy: strPtr("ship-0"), CompletedAt: timePtr(now)}},
	}
	status := Derive(voyageFixture(), tasks, now, DefaultStaleThreshold)
	assert.Equal(t, types.VoyageComplete, status.State)
	require.Len(t, status.Ships, 1)
	assert.Equal(t, "ship-0", status.Ships[0].ID)
	assert.Equal(t, 2, status.Ships[0].CompletedCount)
	assert.Equal(t, types.ShipIdle, status.Ships[0].State)
}

func TestDerivePendingOnlyIsRunning(t *testing.T) {
	tasks := []types.Task{
		{ID: "a", Status: types.TaskPending},
	}
	status := Derive(voyageFixture(), tasks, time.Now(), DefaultStaleThreshold)
	assert.Equal(t, types.VoyageRunning, status.State)
}

func TestStaleCountNeverExceedsInProgress(t *testing.T) {
	now := time.Now()
	old := now.Add(-time.Hour)
	tasks := []types.Task{
		{ID: "a", Status: types.TaskInProgress, Metadata: types.TaskMetadata{Assignee: strPtr("ship-0"), ClaimedAt: timePtr(old)}},
		{ID: "b", Status: types.TaskInProgress, Metadata: types.TaskMetadata{Assignee: strPtr("ship-0"), ClaimedAt: timePtr(now)}},
	}
	status := Derive(voyageFixture(), tasks, now, 30*time.Minute)
	assert.LessOrEqual(t, status.StaleCount, status.InProgress)
	assert.Equal(t, 1, status.StaleCount)
	assert.Equal(t, 2, status.InProgress)
}

func TestEveryObservedShipAppears(t *testing.T) {
	now := time.Now()
	tasks := []types.Task{
		{ID: "a", Status: types.TaskInProgress, Metadata: types.TaskMetadata{Assignee: strPtr("ship-0"), ClaimedAt: timePtr(now)}},
		{ID: "b", Status: types.TaskComplete, Metadata: types.TaskMetadata{CompletedBy: strPtr("ship-1"), CompletedAt: timePtr(now)}},
	}
	status := Derive(voyageFixture(), tasks, now, DefaultStaleThreshold)
	ids := map[string]bool{}
	for _, s := range status.Ships {
		ids[s.ID] = true
	}
	assert.True(t, ids["ship-0"])
	assert.True(t, ids["ship-1"])
}

func TestClockSkewClaimInFutureIsNotStale(t *testing.T) {
	now := time.Now()
	future := now.Add(10 * time.Minute)
	tasks := []types.Task{
		{ID: "a", Status: types.TaskInProgress, Metadata: types.TaskMetadata{Assignee: strPtr("ship-0"), ClaimedAt: timePtr(future)}},
	}
	status := Derive(voyageFixture(), tasks, now, 30*time.Minute)
	assert.Equal(t, 0, status.StaleCount)
}

func TestMissingBlockerIsDataFaultNotCrash(t *testing.T) {
	tasks := []types.Task{
		{ID: "a", Status: types.TaskPending, BlockedBy: []string{"ghost"}},
	}
	status := Derive(voyageFixture(), tasks, time.Now(), DefaultStaleThreshold)
	require.NotPanics(t, func() { Derive(voyageFixture(), tasks, time.Now(), DefaultStaleThreshold) })
	require.Len(t, status.Faults, 1)
	assert.Contains(t, status.Faults[0].Reason, "ghost")
}

func TestDeriveDeterministic(t *testing.T) {
	now := time.Now()
	tasks := []types.Task{
		{ID: "a", Status: types.TaskPending},
		{ID: "b", Status: types.TaskInProgress, Metadata: types.TaskMetadata{Assignee: strPtr("ship-0"), ClaimedAt: timePtr(now)}},
	}
	first := Derive(voyageFixture(), tasks, now, DefaultStaleThreshold)
	second := Derive(voyageFixture(), tasks, now, DefaultStaleThreshold)
	assert.Equal(t, first, second)
}

// Scenario 1: fresh planning state.
func TestScenarioFreshPlanning(t *testing.T) {
	status := Derive(voyageFixture(), []types.Task{}, time.Now(), DefaultStaleThreshold)
	assert.Equal(t, types.VoyagePlanning, status.State)
	assert.Empty(t, status.Ships)
	assert.Equal(t, 0, status.TotalTasks)
}

// Scenario 2: single-ship happy path, B blocked by A, both complete.
func TestScenarioSingleShipHappyPath(t *testing.T) {
	now := time.Now()
	tasks := []types.Task{
		{ID: "A", Status: types.TaskComplete, Metadata: types.TaskMetadata{CompletedBy: strPtr("ship-0"), CompletedAt: timePtr(now)}},
		{ID: "B", Status: types.TaskComplete, BlockedBy: []string{"A"}, Metadata: types.TaskMetadata{CompletedBy: strPtr("ship-0"), CompletedAt: timePtr(now)}},
	}
	status := Derive(voyageFixture(), tasks, now, DefaultStaleThreshold)
	assert.Equal(t, types.VoyageComplete, status.State)
	assert.Equal(t, 2, status.TotalTasks)
	require.Len(t, status.Ships, 1)
	assert.Equal(t, 2, status.Ships[0].CompletedCount)
	assert.Equal(t, types.ShipIdle, status.Ships[0].State)
}

// Scenario 3: stalled detection at T0+45m with a 30m threshold.
func TestScenarioStalledDetection(t *testing.T) {
	t0 := time.Now()
	observedAt := t0.Add(45 * time.Minute)
	tasks := []types.Task{
		{ID: "X", Status: types.TaskInProgress, Metadata: types.TaskMetadata{Assignee: strPtr("ship-0"), ClaimedAt: timePtr(t0)}},
		{ID: "Y", Status: types.TaskPending},
		{ID: "Z", Status: types.TaskPending},
	}
	status := Derive(voyageFixture(), tasks, observedAt, 30*time.Minute)
	assert.Equal(t, types.VoyageStalled, status.State)
	assert.Equal(t, 1, status.StaleCount)
	require.Len(t, status.Ships, 1)
	assert.Equal(t, types.ShipStale, status.Ships[0].State)
}

// Scenario 4: reset recovery returns to running, and a repeat reset is a no-op.
func TestScenarioResetRecovery(t *testing.T) {
	t0 := time.Now()
	observedAt := t0.Add(45 * time.Minute)
	staleTask := types.Task{ID: "X", Status: types.TaskPending}

	tasks := []types.Task{
		staleTask,
		{ID: "Y", Status: types.TaskPending},
		{ID: "Z", Status: types.TaskPending},
	}
	status := Derive(voyageFixture(), tasks, observedAt, 30*time.Minute)
	assert.Equal(t, types.VoyageRunning, status.State)
	assert.Equal(t, 0, status.StaleCount)

	// Repeating the reset (already-pending task stays pending) is a no-op
	// at the derivation layer: re-deriving over the same set is stable.
	again := Derive(voyageFixture(), tasks, observedAt, 30*time.Minute)
	assert.Equal(t, status.State, again.State)
}

// Open question from section 9: a task whose completed_by differs from its
// last-known assignee (a handoff) is treated as valid, not a bug.
func TestHandoffCompletedByDiffersFromAssigneeIsValid(t *testing.T) {
	now := time.Now()
	tasks := []types.Task{
		{
			ID:     "a",
			Status: types.TaskComplete,
			Metadata: types.TaskMetadata{
				Assignee:    strPtr("ship-0"),
				ClaimedAt:   timePtr(now.Add(-time.Hour)),
				CompletedBy: strPtr("ship-1"),
				CompletedAt: timePtr(now),
			},
		},
	}
	status := Derive(voyageFixture(), tasks, now, DefaultStaleThreshold)
	assert.Empty(t, status.Faults)
	ids := map[string]bool{}
	for _, s := range status.Ships {
		ids[s.ID] = true
	}
	assert.True(t, ids["ship-0"])
	assert.True(t, ids["ship-1"])
}

func TestRoundTripVoyageFields(t *testing.T) {
	v := voyageFixture()
	status := Derive(v, nil, time.Now(), DefaultStaleThreshold)
	assert.Equal(t, v, status.Voyage)
}
