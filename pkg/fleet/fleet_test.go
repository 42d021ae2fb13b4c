package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipfleet/voyage/pkg/provider"
	"github.com/shipfleet/voyage/pkg/remoteexec"
	"github.com/shipfleet/voyage/pkg/types"
	"github.com/shipfleet/voyage/pkg/voyage"
)

// fakeProvider is an in-memory provider.Provider keyed by VM name.
type fakeProvider struct {
	records   map[string]provider.Record
	destroyed []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{records: map[string]provider.Record{}}
}

func (f *fakeProvider) Create(ctx context.Context, name string) (provider.Record, error) {
	rec := provider.Record{ID: name, Name: name, Status: provider.StatusReady}
	f.records[name] = rec
	return rec, nil
}

func (f *fakeProvider) Destroy(ctx context.Context, id string) error {
	delete(f.records, id)
	f.destroyed = append(f.destroyed, id)
	return nil
}

func (f *fakeProvider) Get(ctx context.Context, id string) (provider.Record, bool, error) {
	rec, ok := f.records[id]
	return rec, ok, nil
}

func (f *fakeProvider) List(ctx context.Context, namePrefix string) ([]provider.Record, error) {
	var out []provider.Record
	for name, rec := range f.records {
		if strings.HasPrefix(name, namePrefix) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeProvider) WaitReady(ctx context.Context, record provider.Record, timeout time.Duration) error {
	return nil
}

// fakeExec is an in-memory remoteexec.RemoteExec backed by a flat file map,
// enough to support taskstore's ls/mv-based operations and Get/Put.
type fakeExec struct {
	files map[string][]byte
}

func newFakeExec() *fakeExec {
	return &fakeExec{files: map[string][]byte{}}
}

func (f *fakeExec) Run(ctx context.Context, dest remoteexec.Dest, command string) (remoteexec.Result, error) {
	switch {
	case strings.HasPrefix(command, "mkdir -p"):
		re := regexp.MustCompile(`ls -1 "([^"]+)"`)
		m := re.FindStringSubmatch(command)
		if m == nil {
			return remoteexec.Result{}, nil
		}
		dir := m[1]
		var names []string
		for p := range f.files {
			if path.Dir(p) == dir {
				names = append(names, path.Base(p))
			}
		}
		sort.Strings(names)
		return remoteexec.Result{Stdout: strings.Join(names, "\n")}, nil
	case strings.HasPrefix(command, "mv"):
		re := regexp.MustCompile(`mv "([^"]+)" "([^"]+)"`)
		m := re.FindStringSubmatch(command)
		if m == nil {
			return remoteexec.Result{ExitCode: 1}, nil
		}
		data, ok := f.files[m[1]]
		if !ok {
			return remoteexec.Result{ExitCode: 1, Stderr: "no such file"}, nil
		}
		delete(f.files, m[1])
		f.files[m[2]] = data
		return remoteexec.Result{}, nil
	case strings.HasPrefix(command, "echo"):
		return remoteexec.Result{}, nil
	default:
		return remoteexec.Result{}, nil
	}
}

func (f *fakeExec) Put(ctx context.Context, dest remoteexec.Dest, content io.Reader, remotePath string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.files[remotePath] = data
	return nil
}

func (f *fakeExec) Get(ctx context.Context, dest remoteexec.Dest, remotePath string) ([]byte, error) {
	data, ok := f.files[remotePath]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", remotePath)
	}
	return data, nil
}

func (f *fakeExec) Stream(ctx context.Context, dest remoteexec.Dest, command string) (<-chan string, <-chan error) {
	return nil, nil
}

func (f *fakeExec) Interactive(dest remoteexec.Dest) error { return nil }

func putTask(t *testing.T, exec *fakeExec, task types.Task) {
	t.Helper()
	data, err := json.Marshal(task)
	require.NoError(t, err)
	exec.files["/voyage/tasks/"+task.ID+".json"] = data
}

func setupVoyage(t *testing.T) (*fakeProvider, *fakeExec, types.Voyage) {
	t.Helper()
	prov := newFakeProvider()
	exec := newFakeExec()

	v, err := voyage.New("build thing", "git@example.com:r.git", 2)
	require.NoError(t, err)

	prov.records[voyage.StorageName(v.ID)] = provider.Record{ID: voyage.StorageName(v.ID), Name: voyage.StorageName(v.ID), Status: provider.StatusReady}

	data, err := voyage.Marshal(v)
	require.NoError(t, err)
	exec.files["/voyage/voyage.json"] = data

	return prov, exec, v
}

func TestResolveVoyageIDExplicitPassthrough(t *testing.T) {
	d := Deps{Provider: newFakeProvider()}
	id, err := d.ResolveVoyageID(context.Background(), "voy-123")
	require.NoError(t, err)
	assert.Equal(t, "voy-123", id)
}

func TestResolveVoyageIDAutoSelectsUnique(t *testing.T) {
	prov := newFakeProvider()
	prov.records["voy-abc-storage"] = provider.Record{Name: "voy-abc-storage"}
	d := Deps{Provider: prov}

	id, err := d.ResolveVoyageID(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "voy-abc", id)
}

func TestResolveVoyageIDNoneFound(t *testing.T) {
	d := Deps{Provider: newFakeProvider()}
	_, err := d.ResolveVoyageID(context.Background(), "")
	assert.Error(t, err)
}

func TestResolveVoyageIDAmbiguous(t *testing.T) {
	prov := newFakeProvider()
	prov.records["voy-a-storage"] = provider.Record{Name: "voy-a-storage"}
	prov.records["voy-b-storage"] = provider.Record{Name: "voy-b-storage"}
	d := Deps{Provider: prov}

	_, err := d.ResolveVoyageID(context.Background(), "")
	assert.Error(t, err)
}

func TestStatusDerivesFromTaskSet(t *testing.T) {
	prov, exec, v := setupVoyage(t)
	putTask(t, exec, types.Task{ID: "t1", Title: "a", Status: types.TaskPending})

	d := Deps{Provider: prov, Exec: exec}
	status, err := d.Status(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalTasks)
	assert.Equal(t, types.VoyageRunning, status.State, "a lone pending task with no in_progress task is running, not stalled")
}

func TestTasksFiltersByStatus(t *testing.T) {
	prov, exec, v := setupVoyage(t)
	putTask(t, exec, types.Task{ID: "t1", Status: types.TaskPending})
	putTask(t, exec, types.Task{ID: "t2", Status: types.TaskComplete})

	d := Deps{Provider: prov, Exec: exec}
	tasks, err := d.Tasks(context.Background(), v.ID, types.TaskComplete)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t2", tasks[0].ID)
}

func TestResetTaskClearsClaim(t *testing.T) {
	prov, exec, v := setupVoyage(t)
	putTask(t, exec, types.Task{ID: "t1", Status: types.TaskInProgress})

	d := Deps{Provider: prov, Exec: exec}
	task, err := d.ResetTask(context.Background(), v.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, task.Status)
	assert.Nil(t, task.Metadata.Assignee)
}

func TestAbandonDestroysShipsOnly(t *testing.T) {
	prov, exec, v := setupVoyage(t)
	prov.records[voyage.ShipName(v.ID, 0)] = provider.Record{ID: voyage.ShipName(v.ID, 0), Name: voyage.ShipName(v.ID, 0)}
	prov.records[voyage.ShipName(v.ID, 1)] = provider.Record{ID: voyage.ShipName(v.ID, 1), Name: voyage.ShipName(v.ID, 1)}

	d := Deps{Provider: prov, Exec: exec}
	require.NoError(t, d.Abandon(context.Background(), v.ID, TargetSelector{}))

	_, ok, _ := prov.Get(context.Background(), voyage.StorageName(v.ID))
	assert.True(t, ok, "storage VM must survive abandon")
	assert.ElementsMatch(t, []string{voyage.ShipName(v.ID, 0), voyage.ShipName(v.ID, 1)}, prov.destroyed)
}

func TestSinkPreservesStorageUnlessRequested(t *testing.T) {
	prov, exec, v := setupVoyage(t)
	prov.records[voyage.ShipName(v.ID, 0)] = provider.Record{ID: voyage.ShipName(v.ID, 0), Name: voyage.ShipName(v.ID, 0)}

	d := Deps{Provider: prov, Exec: exec}
	require.NoError(t, d.Sink(context.Background(), v.ID, TargetSelector{}, false))

	_, ok, _ := prov.Get(context.Background(), voyage.StorageName(v.ID))
	assert.True(t, ok)
}

func TestSinkIncludingStorageDestroysEverything(t *testing.T) {
	prov, exec, v := setupVoyage(t)
	prov.records[voyage.ShipName(v.ID, 0)] = provider.Record{ID: voyage.ShipName(v.ID, 0), Name: voyage.ShipName(v.ID, 0)}

	d := Deps{Provider: prov, Exec: exec}
	require.NoError(t, d.Sink(context.Background(), v.ID, TargetSelector{}, true))

	_, ok, _ := prov.Get(context.Background(), voyage.StorageName(v.ID))
	assert.False(t, ok)
}

func TestResumeLaunchesAfterHighestObservedIndex(t *testing.T) {
	prov, exec, v := setupVoyage(t)
	prov.records[voyage.ShipName(v.ID, 0)] = provider.Record{ID: voyage.ShipName(v.ID, 0), Name: voyage.ShipName(v.ID, 0)}
	prov.records[voyage.ShipName(v.ID, 1)] = provider.Record{ID: voyage.ShipName(v.ID, 1), Name: voyage.ShipName(v.ID, 1)}

	assignee := "ship-2"
	putTask(t, exec, types.Task{ID: "t1", Status: types.TaskInProgress, Metadata: types.TaskMetadata{Assignee: &assignee}})

	d := Deps{Provider: prov, Exec: exec}
	outcomes, err := d.Resume(context.Background(), v.ID, 1)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 3, outcomes[0].Index)
}

func TestAbandonWithShipIndexSelectorLeavesOthersRunning(t *testing.T) {
	prov, exec, v := setupVoyage(t)
	prov.records[voyage.ShipName(v.ID, 0)] = provider.Record{ID: voyage.ShipName(v.ID, 0), Name: voyage.ShipName(v.ID, 0)}
	prov.records[voyage.ShipName(v.ID, 1)] = provider.Record{ID: voyage.ShipName(v.ID, 1), Name: voyage.ShipName(v.ID, 1)}

	d := Deps{Provider: prov, Exec: exec}
	require.NoError(t, d.Abandon(context.Background(), v.ID, TargetSelector{ShipIndices: []int{0}}))

	assert.Equal(t, []string{voyage.ShipName(v.ID, 0)}, prov.destroyed)
	_, ok, _ := prov.Get(context.Background(), voyage.ShipName(v.ID, 1))
	assert.True(t, ok, "ship-1 was not named by the selector and must survive")
}

func TestSinkWithStateSelectorOnlyDestroysStaleShips(t *testing.T) {
	prov, exec, v := setupVoyage(t)
	prov.records[voyage.ShipName(v.ID, 0)] = provider.Record{ID: voyage.ShipName(v.ID, 0), Name: voyage.ShipName(v.ID, 0)}
	prov.records[voyage.ShipName(v.ID, 1)] = provider.Record{ID: voyage.ShipName(v.ID, 1), Name: voyage.ShipName(v.ID, 1)}

	staleClaim := time.Now().Add(-time.Hour)
	staleAssignee := "ship-0"
	putTask(t, exec, types.Task{ID: "t1", Status: types.TaskInProgress, Metadata: types.TaskMetadata{Assignee: &staleAssignee, ClaimedAt: &staleClaim}})
	freshClaim := time.Now()
	freshAssignee := "ship-1"
	putTask(t, exec, types.Task{ID: "t2", Status: types.TaskInProgress, Metadata: types.TaskMetadata{Assignee: &freshAssignee, ClaimedAt: &freshClaim}})

	d := Deps{Provider: prov, Exec: exec, StaleThreshold: 30 * time.Minute}
	require.NoError(t, d.Sink(context.Background(), v.ID, TargetSelector{State: types.ShipStale}, false))

	assert.Equal(t, []string{voyage.ShipName(v.ID, 0)}, prov.destroyed)
	_, ok, _ := prov.Get(context.Background(), voyage.ShipName(v.ID, 1))
	assert.True(t, ok, "the working ship was not stale and must survive")
}

func TestParseShipIndex(t *testing.T) {
	idx, ok := parseShipIndex("voy-1-ship-4", "voy-1")
	assert.True(t, ok)
	assert.Equal(t, 4, idx)

	_, ok = parseShipIndex("voy-1-storage", "voy-1")
	assert.False(t, ok)
}
