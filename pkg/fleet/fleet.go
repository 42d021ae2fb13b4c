// Package fleet implements the Fleet Operations (component C8): status,
// tasks, logs, reset-task, resume, shell, abandon, and sink. Every
// operation accepts an explicit voyage id or auto-selects the unique
// active voyage.
package fleet

import (
	"bufio"
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shipfleet/voyage/pkg/deriver"
	"github.com/shipfleet/voyage/pkg/log"
	"github.com/shipfleet/voyage/pkg/provider"
	"github.com/shipfleet/voyage/pkg/remoteexec"
	"github.com/shipfleet/voyage/pkg/sail"
	"github.com/shipfleet/voyage/pkg/taskstore"
	"github.com/shipfleet/voyage/pkg/types"
	"github.com/shipfleet/voyage/pkg/voyage"
	"github.com/shipfleet/voyage/pkg/voyageerr"
)

// Deps bundles the collaborators every fleet operation needs.
type Deps struct {
	Provider       provider.Provider
	Exec           remoteexec.RemoteExec
	SSHUser        string
	SSHPort        int
	StaleThreshold time.Duration
}

// controlPlanePrefix is the prefix shared by every VM this control plane
// ever creates, used by sink --all and voyage auto-discovery.
const controlPlanePrefix = voyage.IDPrefix + "-"

// ResolveVoyageID returns voyageID unchanged if non-empty, otherwise
// auto-selects the unique active voyage by discovering storage VMs.
func (d Deps) ResolveVoyageID(ctx context.Context, voyageID string) (string, error) {
	if voyageID != "" {
		return voyageID, nil
	}
	var records []provider.Record
	err := remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, "", "resolve_voyage_id", func() error {
		r, listErr := d.Provider.List(ctx, controlPlanePrefix)
		if listErr != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, "", "", listErr)
		}
		records = r
		return nil
	})
	if err != nil {
		return "", err
	}
	var ids []string
	for _, r := range records {
		if strings.HasSuffix(r.Name, "-storage") {
			ids = append(ids, strings.TrimSuffix(r.Name, "-storage"))
		}
	}
	switch len(ids) {
	case 0:
		return "", voyageerr.New(voyageerr.NotFound, "", "no active voyage found")
	case 1:
		return ids[0], nil
	default:
		sort.Strings(ids)
		return "", voyageerr.New(voyageerr.AmbiguousVoyage, "", fmt.Sprintf("%d active voyages: %s", len(ids), strings.Join(ids, ", ")))
	}
}

func (d Deps) storageDest(ctx context.Context, voyageID string) (provider.Record, remoteexec.Dest, error) {
	var record provider.Record
	var ok bool
	err := remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, voyageID, "storage_get", func() error {
		r, found, getErr := d.Provider.Get(ctx, voyage.StorageName(voyageID))
		if getErr != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, voyageID, "", getErr)
		}
		record, ok = r, found
		return nil
	})
	if err != nil {
		return provider.Record{}, remoteexec.Dest{}, err
	}
	if !ok {
		return provider.Record{}, remoteexec.Dest{}, voyageerr.New(voyageerr.NotFound, voyageID, "storage VM not found")
	}
	dest := remoteexec.Dest{Name: record.Name, Host: record.Host, Port: record.Port, User: d.SSHUser}
	if dest.Port == 0 {
		dest.Port = d.SSHPort
	}
	return record, dest, nil
}

func (d Deps) taskStore(ctx context.Context, voyageID string) (*taskstore.Store, error) {
	_, dest, err := d.storageDest(ctx, voyageID)
	if err != nil {
		return nil, err
	}
	taskDir := path.Join("/voyage", "tasks")
	return taskstore.New(d.Exec, dest, taskDir, voyageID), nil
}

func (d Deps) appendProgress(ctx context.Context, voyageID, line string) {
	_, dest, err := d.storageDest(ctx, voyageID)
	if err != nil {
		return
	}
	stamped := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), line)
	progressPath := path.Join("/voyage", "artifacts", "progress.txt")
	_, _ = d.Exec.Run(ctx, dest, fmt.Sprintf("echo %q >> %q", stamped, progressPath))
}

// Status implements the `status` command: list → locate storage →
// list_tasks → derive → render.
func (d Deps) Status(ctx context.Context, voyageID string) (types.VoyageStatus, error) {
	store, err := d.taskStore(ctx, voyageID)
	if err != nil {
		return types.VoyageStatus{}, err
	}
	tasks, faults, err := store.ListTasks(ctx)
	if err != nil {
		return types.VoyageStatus{}, err
	}
	v, err := d.loadDescriptor(ctx, voyageID)
	if err != nil {
		return types.VoyageStatus{}, err
	}
	staleThreshold := d.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = deriver.DefaultStaleThreshold
	}
	status := deriver.Derive(v, tasks, time.Now(), staleThreshold)
	status.Faults = append(status.Faults, faults...)
	return status, nil
}

func (d Deps) loadDescriptor(ctx context.Context, voyageID string) (types.Voyage, error) {
	_, dest, err := d.storageDest(ctx, voyageID)
	if err != nil {
		return types.Voyage{}, err
	}
	data, err := d.Exec.Get(ctx, dest, path.Join("/voyage", "voyage.json"))
	if err != nil {
		return types.Voyage{}, voyageerr.Wrap(voyageerr.NotFound, voyageID, "", err)
	}
	return voyage.Unmarshal(data)
}

// Tasks implements `tasks [--status=X]`.
func (d Deps) Tasks(ctx context.Context, voyageID string, statusFilter types.TaskStatus) ([]types.Task, error) {
	store, err := d.taskStore(ctx, voyageID)
	if err != nil {
		return nil, err
	}
	tasks, _, err := store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	if statusFilter == "" {
		return tasks, nil
	}
	var filtered []types.Task
	for _, t := range tasks {
		if t.Status == statusFilter {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// LogsOptions configures the `logs` command.
type LogsOptions struct {
	Ship   string // empty means every ship's log file
	Follow bool
	Grep   string
	Tail   int
}

// Logs implements `logs [--ship=S] [--follow] [--grep=P] [--tail=N]`. The
// grep filter is applied server-side to minimize traffic over the remote
// exec channel.
func (d Deps) Logs(ctx context.Context, voyageID string, opts LogsOptions) (<-chan string, <-chan error) {
	_, dest, err := d.storageDest(ctx, voyageID)
	if err != nil {
		errCh := make(chan error, 1)
		errCh <- err
		close(errCh)
		return nil, errCh
	}

	pattern := path.Join("/voyage", "logs", "*.log")
	if opts.Ship != "" {
		pattern = path.Join("/voyage", "logs", opts.Ship+".log")
	}

	cmd := "cat " + pattern
	if opts.Tail > 0 {
		cmd = fmt.Sprintf("tail -n %d %s", opts.Tail, pattern)
	}
	if opts.Grep != "" {
		cmd = fmt.Sprintf("%s | grep -E %q", cmd, opts.Grep)
	}

	if opts.Follow {
		followCmd := fmt.Sprintf("tail -n %d -F %s", max(opts.Tail, 10), pattern)
		if opts.Grep != "" {
			followCmd = fmt.Sprintf("%s | grep -E --line-buffered %q", followCmd, opts.Grep)
		}
		return d.Exec.Stream(ctx, dest, followCmd)
	}

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(lines)
		defer close(errCh)
		res, err := d.Exec.Run(ctx, dest, cmd)
		if err != nil {
			errCh <- voyageerr.Wrap(voyageerr.ConnectError, voyageID, "", err)
			return
		}
		scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines, errCh
}

// ResetTask implements `reset-task <id> | --all-stale`.
func (d Deps) ResetTask(ctx context.Context, voyageID, taskID string) (types.Task, error) {
	store, err := d.taskStore(ctx, voyageID)
	if err != nil {
		return types.Task{}, err
	}
	task, err := store.ResetTask(ctx, taskID)
	if err == nil {
		d.appendProgress(ctx, voyageID, fmt.Sprintf("reset-task: %s", taskID))
	}
	return task, err
}

// ResetAllStale resets every task the deriver currently considers stale.
func (d Deps) ResetAllStale(ctx context.Context, voyageID string) ([]types.Task, error) {
	store, err := d.taskStore(ctx, voyageID)
	if err != nil {
		return nil, err
	}
	tasks, _, err := store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	staleThreshold := d.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = deriver.DefaultStaleThreshold
	}

	now := time.Now()
	var reset []types.Task
	for _, t := range tasks {
		if t.Status != types.TaskInProgress || t.Metadata.ClaimedAt == nil {
			continue
		}
		if t.Metadata.ClaimedAt.After(now) || now.Sub(*t.Metadata.ClaimedAt) <= staleThreshold {
			continue
		}
		updated, err := store.ResetTask(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		reset = append(reset, updated)
	}
	d.appendProgress(ctx, voyageID, fmt.Sprintf("reset-task --all-stale: %d tasks", len(reset)))
	return reset, nil
}

// Resume implements `resume [--ships=K]`: determine the highest ship index
// observed in either the VM list or task metadata, then bootstrap new
// ships at [next, next+K).
func (d Deps) Resume(ctx context.Context, voyageID string, count int) ([]sail.ShipOutcome, error) {
	v, err := d.loadDescriptor(ctx, voyageID)
	if err != nil {
		return nil, err
	}
	storageRecord, _, err := d.storageDest(ctx, voyageID)
	if err != nil {
		return nil, err
	}

	var records []provider.Record
	err = remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, voyageID, "resume_list_ships", func() error {
		r, listErr := d.Provider.List(ctx, voyage.ShipNamePrefix(voyageID))
		if listErr != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, voyageID, "", listErr)
		}
		records = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	highest := -1
	for _, r := range records {
		if idx, ok := parseShipIndex(r.Name, voyageID); ok && idx > highest {
			highest = idx
		}
	}

	store, err := d.taskStore(ctx, voyageID)
	if err == nil {
		tasks, _, _ := store.ListTasks(ctx)
		for _, t := range tasks {
			if idx, ok := assigneeIndex(t); ok && idx > highest {
				highest = idx
			}
		}
	}

	if count <= 0 {
		count = 1
	}
	next := highest + 1

	deps := sail.Deps{Provider: d.Provider, Exec: d.Exec, SSHUser: d.SSHUser, SSHPort: d.SSHPort}
	outcomes := sail.BootstrapShips(ctx, deps, v, storageRecord, next, count)
	d.appendProgress(ctx, voyageID, fmt.Sprintf("resume: launched ships [%d, %d)", next, next+count))

	logger := log.WithComponent("fleet").With().Str("voyage_id", voyageID).Logger()
	for _, o := range outcomes {
		if o.Err != nil {
			shipLogger := logger.With().Int("ship_index", o.Index).Logger()
			log.Fault(shipLogger, o.Err, "resume: ship bootstrap failed", false)
		}
	}
	return outcomes, nil
}

func parseShipIndex(vmName, voyageID string) (int, bool) {
	prefix := voyage.ShipNamePrefix(voyageID)
	if !strings.HasPrefix(vmName, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(vmName, prefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

func assigneeIndex(t types.Task) (int, bool) {
	var shipID string
	if t.Metadata.Assignee != nil {
		shipID = *t.Metadata.Assignee
	} else if t.Metadata.CompletedBy != nil {
		shipID = *t.Metadata.CompletedBy
	} else {
		return 0, false
	}
	return shipIndex(shipID)
}

// Shell implements `shell <voyage_id> <ship_id>`: an interactive session
// directly on the named ship VM.
func (d Deps) Shell(ctx context.Context, voyageID, shipID string) error {
	var record provider.Record
	var ok bool
	err := remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, voyageID, "shell_ship_get", func() error {
		r, found, getErr := d.Provider.Get(ctx, voyage.ShipName(voyageID, mustShipIndex(shipID)))
		if getErr != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, voyageID, shipID, getErr)
		}
		record, ok = r, found
		return nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return voyageerr.New(voyageerr.NotFound, voyageID, "ship "+shipID+" not found")
	}
	dest := remoteexec.Dest{Name: record.Name, Host: record.Host, Port: record.Port, User: d.SSHUser}
	if dest.Port == 0 {
		dest.Port = d.SSHPort
	}
	return d.Exec.Interactive(dest)
}

func mustShipIndex(shipID string) int {
	idx, _ := shipIndex(shipID)
	return idx
}

// resolveShipTargets lists the voyage's ship VMs and narrows them down to
// the ones selector names. An empty selector (no indices, no state, not
// All) defaults to All, matching the pre-selector behavior of acting on
// every ship. Resolving by State consults the derived ship roster (§4.5)
// so "only the stale ones" reads live task state, not just VM existence.
func (d Deps) resolveShipTargets(ctx context.Context, voyageID string, selector TargetSelector) ([]provider.Record, error) {
	var records []provider.Record
	err := remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, voyageID, "resolve_ship_targets", func() error {
		r, listErr := d.Provider.List(ctx, voyage.ShipNamePrefix(voyageID))
		if listErr != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, voyageID, "", listErr)
		}
		records = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(selector.ShipIndices) == 0 && selector.State == "" && !selector.All {
		selector.All = true
	}

	byShipID := make(map[string]provider.Record, len(records))
	roster := make([]types.ShipStatus, 0, len(records))
	for _, r := range records {
		idx, ok := parseShipIndex(r.Name, voyageID)
		if !ok {
			continue
		}
		id := fmt.Sprintf("ship-%d", idx)
		byShipID[id] = r
		roster = append(roster, types.ShipStatus{ID: id, State: types.ShipUnknown})
	}

	if selector.State != "" {
		if status, err := d.Status(ctx, voyageID); err == nil {
			derived := make(map[string]types.ShipState, len(status.Ships))
			for _, s := range status.Ships {
				derived[s.ID] = s.State
			}
			for i := range roster {
				if st, ok := derived[roster[i].ID]; ok {
					roster[i].State = st
				}
			}
		}
	}

	matched := selector.Resolve(roster)
	targets := make([]provider.Record, 0, len(matched))
	for _, m := range matched {
		if rec, ok := byShipID[m.ID]; ok {
			targets = append(targets, rec)
		}
	}
	return targets, nil
}

// Abandon implements `abandon [--ships=i,j,...] [--state=S]`: destroy the
// selected ship VMs (every ship by default), preserving storage.
func (d Deps) Abandon(ctx context.Context, voyageID string, selector TargetSelector) error {
	targets, err := d.resolveShipTargets(ctx, voyageID, selector)
	if err != nil {
		return err
	}
	for _, r := range targets {
		if err := d.Provider.Destroy(ctx, r.ID); err != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, voyageID, r.Name, err)
		}
	}
	d.appendProgress(ctx, voyageID, fmt.Sprintf("abandon: destroyed %d ships", len(targets)))
	return nil
}

// Sink implements `sink <voyage_id> [--ships=i,j,...] [--state=S]
// [--include-storage]`: destroy the selected ship VMs (every ship by
// default), optionally including storage. Idempotent: re-running after
// partial destruction finds nothing left to destroy and exits 0.
func (d Deps) Sink(ctx context.Context, voyageID string, selector TargetSelector, includeStorage bool) error {
	if includeStorage {
		d.appendProgress(ctx, voyageID, "sink: destroying fleet and storage")
	}
	targets, err := d.resolveShipTargets(ctx, voyageID, selector)
	if err != nil {
		return err
	}
	for _, r := range targets {
		if err := d.Provider.Destroy(ctx, r.ID); err != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, voyageID, r.Name, err)
		}
	}
	if includeStorage {
		var storageRecord provider.Record
		var ok bool
		err := remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, voyageID, "sink_storage_get", func() error {
			r, found, getErr := d.Provider.Get(ctx, voyage.StorageName(voyageID))
			if getErr != nil {
				return voyageerr.Wrap(voyageerr.ConnectError, voyageID, "", getErr)
			}
			storageRecord, ok = r, found
			return nil
		})
		if err != nil {
			return err
		}
		if ok {
			if err := d.Provider.Destroy(ctx, storageRecord.ID); err != nil {
				return voyageerr.Wrap(voyageerr.ConnectError, voyageID, storageRecord.Name, err)
			}
		}
	}
	return nil
}

// SinkAll implements `sink --all`: destroy every VM under this control
// plane's overall voyage prefix.
func (d Deps) SinkAll(ctx context.Context) error {
	var records []provider.Record
	err := remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, "", "sink_all_list", func() error {
		r, listErr := d.Provider.List(ctx, controlPlanePrefix)
		if listErr != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, "", "", listErr)
		}
		records = r
		return nil
	})
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := d.Provider.Destroy(ctx, r.ID); err != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, "", r.Name, err)
		}
	}
	return nil
}
