// Package taskstore owns the convention that a voyage's task files live in
// a well-known directory on the storage VM, one file per task (component
// C4). All mutation goes through the remote exec channel (C2); there is no
// local filesystem access because the storage VM is, by design, a
// different machine than the control plane.
package taskstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shipfleet/voyage/pkg/log"
	"github.com/shipfleet/voyage/pkg/remoteexec"
	"github.com/shipfleet/voyage/pkg/types"
	"github.com/shipfleet/voyage/pkg/voyageerr"
)

// Store is the Task Store Adapter for one voyage's task set.
type Store struct {
	Exec    remoteexec.RemoteExec
	Dest    remoteexec.Dest
	TaskDir string // absolute path on the storage VM
	voyageID string
}

// New builds a Store for voyageID's task set at taskDir on dest.
func New(exec remoteexec.RemoteExec, dest remoteexec.Dest, taskDir, voyageID string) *Store {
	return &Store{Exec: exec, Dest: dest, TaskDir: taskDir, voyageID: voyageID}
}

// ListTasks enumerates every task file in the task directory. An empty
// directory returns an empty slice and no error: this is the legitimate
// "planning phase" signal, not a failure. Unparseable files are logged,
// recorded as a fault, and skipped; they never abort the listing.
func (s *Store) ListTasks(ctx context.Context) ([]types.Task, []types.DataFault, error) {
	logger := log.WithComponent("taskstore").With().Str("voyage_id", s.voyageID).Logger()

	var names []string
	err := remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, s.voyageID, "list_tasks", func() error {
		res, runErr := s.Exec.Run(ctx, s.Dest, fmt.Sprintf("mkdir -p %q && ls -1 %q 2>/dev/null || true", s.TaskDir, s.TaskDir))
		if runErr != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, s.voyageID, "", runErr)
		}
		names = splitLines(res.Stdout)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var tasks []types.Task
	var faults []types.DataFault

	for _, name := range names {
		if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		taskID := strings.TrimSuffix(name, ".json")

		data, err := s.Exec.Get(ctx, s.Dest, path.Join(s.TaskDir, name))
		if err != nil {
			log.Fault(logger.With().Str("task_id", taskID).Logger(), err, "failed to read task file", false)
			faults = append(faults, types.DataFault{TaskID: taskID, Reason: "unreadable: " + err.Error()})
			continue
		}

		task, err := ParseTask(data)
		if err != nil {
			log.Fault(logger.With().Str("task_id", taskID).Logger(), err, "failed to parse task file", false)
			faults = append(faults, types.DataFault{TaskID: taskID, Reason: "unparseable: " + err.Error()})
			continue
		}

		tasks = append(tasks, task)
	}

	return tasks, faults, nil
}

// ReadTask fetches and parses a single task file. The fetch is retried with
// bounded backoff per the spec's idempotent-read policy; a failure that
// survives every attempt is reported as NotFound, matching the read's
// original failure mode.
func (s *Store) ReadTask(ctx context.Context, taskID string) (types.Task, error) {
	var data []byte
	err := remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, s.voyageID, "read_task", func() error {
		d, getErr := s.Exec.Get(ctx, s.Dest, s.taskPath(taskID))
		if getErr != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, s.voyageID, "", getErr)
		}
		data = d
		return nil
	})
	if err != nil {
		return types.Task{}, voyageerr.Wrap(voyageerr.NotFound, s.voyageID, "", err)
	}
	task, err := ParseTask(data)
	if err != nil {
		return types.Task{}, voyageerr.Wrap(voyageerr.TaskParseError, s.voyageID, "", err)
	}
	return task, nil
}

// WriteTask replaces a task file whole, stamping Updated to now. Writes go
// through a temp-file-in-the-same-directory plus atomic rename, so a
// concurrent reader (the deriver, or a ship agent) sees either the old or
// the new content, never a partial write.
func (s *Store) WriteTask(ctx context.Context, task types.Task) error {
	task.Updated = time.Now().UTC()

	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("taskstore: marshal task %s: %w", task.ID, err)
	}

	tmpName := fmt.Sprintf(".%s.json.tmp-%s", task.ID, uuid.New().String()[:8])
	tmpPath := path.Join(s.TaskDir, tmpName)
	finalPath := s.taskPath(task.ID)

	if err := s.Exec.Put(ctx, s.Dest, bytes.NewReader(data), tmpPath); err != nil {
		return voyageerr.Wrap(voyageerr.ConnectError, s.voyageID, "", fmt.Errorf("write temp file for %s: %w", task.ID, err))
	}

	res, err := s.Exec.Run(ctx, s.Dest, fmt.Sprintf("mv %q %q", tmpPath, finalPath))
	if err != nil {
		return voyageerr.Wrap(voyageerr.ConnectError, s.voyageID, "", fmt.Errorf("rename task %s: %w", task.ID, err))
	}
	if res.ExitCode != 0 {
		return voyageerr.New(voyageerr.ExecError, s.voyageID, fmt.Sprintf("rename task %s: %s", task.ID, res.Stderr))
	}

	return nil
}

// ResetTask clears status back to pending and drops the current claim,
// preserving completion history. It is idempotent: applying it twice
// yields the same observable task as applying it once.
func (s *Store) ResetTask(ctx context.Context, taskID string) (types.Task, error) {
	task, err := s.ReadTask(ctx, taskID)
	if err != nil {
		return types.Task{}, err
	}

	task.Status = types.TaskPending
	task.Metadata.Assignee = nil
	task.Metadata.ClaimedAt = nil

	if err := s.WriteTask(ctx, task); err != nil {
		return types.Task{}, err
	}
	return task, nil
}

func (s *Store) taskPath(taskID string) string {
	return path.Join(s.TaskDir, taskID+".json")
}

// ParseTask decodes one task file's bytes, applying the parsing policy:
// missing optional metadata parses as absent, unknown fields are
// preserved for round-trip.
func ParseTask(data []byte) (types.Task, error) {
	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return types.Task{}, err
	}
	return task, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
