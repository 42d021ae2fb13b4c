// Package types defines the core data model of the voyage orchestrator:
// the voyage descriptor, tasks, and the derived fleet/voyage status.
package types

import "time"

// TaskStatus is the lifecycle state of a single task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskComplete   TaskStatus = "complete"
)

// ShipState is the derived state of a worker VM, computed by the deriver
// from the task set rather than stored anywhere.
type ShipState string

const (
	ShipWorking ShipState = "working"
	ShipStale   ShipState = "stale"
	ShipIdle    ShipState = "idle"
	ShipUnknown ShipState = "unknown"
)

// VoyageState is the derived overall state of a voyage.
type VoyageState string

const (
	VoyagePlanning VoyageState = "planning"
	VoyageRunning  VoyageState = "running"
	VoyageStalled  VoyageState = "stalled"
	VoyageComplete VoyageState = "complete"
)

// Voyage is the immutable record created by sail. Once constructed none of
// its fields change; resume and sink only add or remove ships, which are
// not part of this record.
type Voyage struct {
	ID        string    `json:"id"`
	Objective string    `json:"objective"`
	Repo      string    `json:"repo"`
	Branch    string    `json:"branch"`
	TaskSetID string    `json:"task_set_id"`
	ShipCount int       `json:"ship_count"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskMetadata holds the claim/completion bookkeeping for a task. Pointer
// fields keep "absent" distinguishable from "zero value" on round-trip,
// matching the parsing policy that missing optional metadata parses as
// absent rather than error.
type TaskMetadata struct {
	Assignee    *string    `json:"assignee,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedBy *string    `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Extra preserves fields this adapter version doesn't know about, so
	// a newer agent writing new metadata keys round-trips safely.
	Extra map[string]interface{} `json:"-"`
}

// Task is one unit of work, backed by one file in the task set directory.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status"`
	BlockedBy   []string     `json:"blocked_by,omitempty"`
	Blocks      []string     `json:"blocks,omitempty"`
	Created     time.Time    `json:"created"`
	Updated     time.Time    `json:"updated"`
	Metadata    TaskMetadata `json:"metadata"`

	// Extra preserves unknown top-level fields across read/write.
	Extra map[string]interface{} `json:"-"`
}

// Claimable reports whether the task may legally transition from pending
// to in_progress: it must be pending and every blocker must be complete.
func (t Task) Claimable(byID map[string]Task) bool {
	if t.Status != TaskPending {
		return false
	}
	for _, id := range t.BlockedBy {
		blocker, ok := byID[id]
		if !ok || blocker.Status != TaskComplete {
			return false
		}
	}
	return true
}

// ShipStatus is the derived view of one worker VM.
type ShipStatus struct {
	ID             string
	State          ShipState
	CompletedCount int
}

// DataFault records an invariant violation observed in a task set; the
// deriver surfaces these without aborting.
type DataFault struct {
	TaskID string
	Reason string
}

// VoyageStatus is the pure output of the deriver: the voyage's overall
// state plus every ship's derived state.
type VoyageStatus struct {
	Voyage     Voyage
	State      VoyageState
	Ships      []ShipStatus
	TotalTasks int
	StaleCount int
	InProgress int
	Faults     []DataFault
}
