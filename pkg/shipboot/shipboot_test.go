package shipboot

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipfleet/voyage/pkg/provider"
	"github.com/shipfleet/voyage/pkg/remoteexec"
	"github.com/shipfleet/voyage/pkg/types"
	"github.com/shipfleet/voyage/pkg/voyageerr"
)

type fakeProvider struct {
	failCreate    bool
	failWaitReady bool
}

func (f *fakeProvider) Create(ctx context.Context, name string) (provider.Record, error) {
	if f.failCreate {
		return provider.Record{}, errors.New("no capacity")
	}
	return provider.Record{ID: name, Name: name, Host: "10.0.0.2", Port: 22, Status: provider.StatusReady}, nil
}

func (f *fakeProvider) Destroy(ctx context.Context, id string) error { return nil }

func (f *fakeProvider) Get(ctx context.Context, id string) (provider.Record, bool, error) {
	return provider.Record{}, false, nil
}

func (f *fakeProvider) List(ctx context.Context, namePrefix string) ([]provider.Record, error) {
	return nil, nil
}

func (f *fakeProvider) WaitReady(ctx context.Context, record provider.Record, timeout time.Duration) error {
	if f.failWaitReady {
		return errors.New("never became reachable")
	}
	return nil
}

type fakeExec struct {
	failOn string
}

func (f *fakeExec) Run(ctx context.Context, dest remoteexec.Dest, command string) (remoteexec.Result, error) {
	if f.failOn != "" && strings.Contains(command, f.failOn) {
		return remoteexec.Result{ExitCode: 1, Stderr: "simulated failure"}, nil
	}
	return remoteexec.Result{}, nil
}

func (f *fakeExec) Put(ctx context.Context, dest remoteexec.Dest, content io.Reader, remotePath string) error {
	return nil
}

func (f *fakeExec) Get(ctx context.Context, dest remoteexec.Dest, remotePath string) ([]byte, error) {
	return nil, nil
}

func (f *fakeExec) Stream(ctx context.Context, dest remoteexec.Dest, command string) (<-chan string, <-chan error) {
	return nil, nil
}

func (f *fakeExec) Interactive(dest remoteexec.Dest) error { return nil }

func testVoyage() types.Voyage {
	return types.Voyage{ID: "voy-abc", Repo: "git@example.com:r.git", Branch: "voy-abc", ShipCount: 2}
}

func testStorage() provider.Record {
	return provider.Record{ID: "voy-abc-storage", Name: "voy-abc-storage", Host: "10.0.0.1", Port: 22}
}

func TestRunSucceeds(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{}, Exec: &fakeExec{}}
	err := Run(context.Background(), deps, testVoyage(), testStorage(), 0)
	require.NoError(t, err)
}

func TestRunProvisionFailure(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{failCreate: true}, Exec: &fakeExec{}}
	err := Run(context.Background(), deps, testVoyage(), testStorage(), 0)
	require.Error(t, err)
	kind, ok := voyageerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, voyageerr.ProvisionFailed, kind)
}

func TestRunWaitReadyFailure(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{failWaitReady: true}, Exec: &fakeExec{}}
	err := Run(context.Background(), deps, testVoyage(), testStorage(), 0)
	require.Error(t, err)
	kind, ok := voyageerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, voyageerr.ProvisionFailed, kind)
}

func TestRunMountFailure(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{}, Exec: &fakeExec{failOn: "sshfs"}}
	err := Run(context.Background(), deps, testVoyage(), testStorage(), 0)
	require.Error(t, err)
	kind, ok := voyageerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, voyageerr.MountFailed, kind)
}

func TestRunAgentStartFailure(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{}, Exec: &fakeExec{failOn: "nohup"}}
	err := Run(context.Background(), deps, testVoyage(), testStorage(), 1)
	require.Error(t, err)
	kind, ok := voyageerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, voyageerr.AgentStartFailed, kind)
}
