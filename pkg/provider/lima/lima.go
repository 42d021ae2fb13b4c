// +build darwin

// Package lima implements the Provider Port (C1) for macOS by giving each
// ship or storage VM its own Lima micro-VM instance, rather than one
// shared VM with multiple services multiplexed onto it.
package lima

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"

	"github.com/shipfleet/voyage/pkg/log"
	"github.com/shipfleet/voyage/pkg/provider"
	"github.com/shipfleet/voyage/pkg/remoteexec"
	"github.com/shipfleet/voyage/pkg/voyageerr"
)

// Backend implements provider.Provider using one Lima instance per VM.
type Backend struct {
	dataDir string
}

// New returns a Lima-backed provider. dataDir is mounted read-write into
// every instance so the agent image can reach shared tooling.
func New(dataDir string) *Backend {
	return &Backend{dataDir: dataDir}
}

// Create provisions a new Lima instance named name and starts it.
func (b *Backend) Create(ctx context.Context, name string) (provider.Record, error) {
	lg := log.WithComponent("provider/lima")

	if !limaInstalled() {
		return provider.Record{}, voyageerr.New(voyageerr.ProviderUnavailable, "", "lima is not installed (brew install lima)")
	}

	cfg := defaultConfig(b.dataDir)
	configYAML, err := limayaml.Marshal(&cfg, false)
	if err != nil {
		return provider.Record{}, voyageerr.Wrap(voyageerr.ProviderUnavailable, "", "", fmt.Errorf("marshal lima config for %s: %w", name, err))
	}

	if _, err := instance.Create(ctx, name, configYAML, false); err != nil {
		return provider.Record{}, voyageerr.Wrap(voyageerr.ProviderUnavailable, "", "", fmt.Errorf("create lima instance %s: %w", name, err))
	}

	inst, err := store.Inspect(name)
	if err != nil {
		return provider.Record{}, voyageerr.Wrap(voyageerr.ProviderUnavailable, "", "", fmt.Errorf("inspect lima instance %s: %w", name, err))
	}

	if err := instance.Start(ctx, inst, "", false); err != nil {
		return provider.Record{}, voyageerr.Wrap(voyageerr.ProviderUnavailable, "", "", fmt.Errorf("start lima instance %s: %w", name, err))
	}

	lg.Info().Str("name", name).Msg("lima instance provisioned")

	return provider.Record{
		ID:     name,
		Name:   name,
		Host:   "127.0.0.1",
		Port:   inst.SSHLocalPort,
		Status: provider.StatusProvisioning,
	}, nil
}

// Destroy stops and deletes the named instance. Idempotent: an absent
// instance is not an error, matching limactl's own behavior. The
// stop/delete round-trip is retried with bounded backoff per the spec's
// transport-retry policy for idempotent operations.
func (b *Backend) Destroy(ctx context.Context, id string) error {
	return remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, "", "provider_destroy", func() error {
		inst, err := store.Inspect(id)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return voyageerr.Wrap(voyageerr.ConnectError, "", "", err)
		}

		if err := instance.StopGracefully(ctx, inst, false); err != nil {
			instance.StopForcibly(inst)
		}

		cmd := exec.CommandContext(ctx, "limactl", "delete", "-f", id)
		if err := cmd.Run(); err != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, "", "", fmt.Errorf("delete lima instance %s: %w", id, err))
		}
		return nil
	})
}

// Get inspects a single instance, retrying transient store errors per the
// spec's idempotent-read retry policy. An absent instance resolves
// immediately to (zero value, false, nil): it is not worth retrying.
func (b *Backend) Get(ctx context.Context, id string) (provider.Record, bool, error) {
	var rec provider.Record
	var found bool
	err := remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, "", "provider_get", func() error {
		inst, err := store.Inspect(id)
		if err == nil {
			rec, found = recordOf(inst), true
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			found = false
			return nil
		}
		return voyageerr.Wrap(voyageerr.ConnectError, "", "", err)
	})
	return rec, found, err
}

// List enumerates instances whose name has the given prefix, retrying a
// transient store-listing failure per the spec's idempotent-operation
// retry policy.
func (b *Backend) List(ctx context.Context, namePrefix string) ([]provider.Record, error) {
	var names []string
	err := remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, "", "provider_list", func() error {
		n, err := store.Instances()
		if err != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, "", "", fmt.Errorf("list lima instances: %w", err))
		}
		names = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []provider.Record
	for _, name := range names {
		if len(namePrefix) > 0 && !hasPrefix(name, namePrefix) {
			continue
		}
		inst, err := store.Inspect(name)
		if err != nil {
			continue
		}
		out = append(out, recordOf(inst))
	}
	return out, nil
}

// WaitReady polls the instance's reported status until it is running.
func (b *Backend) WaitReady(ctx context.Context, record provider.Record, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		inst, err := store.Inspect(record.ID)
		if err == nil && inst.Status == store.StatusRunning {
			return nil
		}
		if time.Now().After(deadline) {
			return voyageerr.New(voyageerr.Timeout, "", fmt.Sprintf("wait_ready for %s", record.Name))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func recordOf(inst *store.Instance) provider.Record {
	status := provider.StatusProvisioning
	if inst.Status == store.StatusRunning {
		status = provider.StatusReady
	}
	return provider.Record{
		ID:     inst.Name,
		Name:   inst.Name,
		Host:   "127.0.0.1",
		Port:   inst.SSHLocalPort,
		Status: status,
	}
}

func defaultConfig(dataDir string) limayaml.LimaYAML {
	arch := limayaml.AARCH64
	if runtime.GOARCH == "amd64" {
		arch = limayaml.X8664
	}
	cpus := 2
	memory := "2GiB"
	disk := "20GiB"

	return limayaml.LimaYAML{
		Arch:   &arch,
		CPUs:   &cpus,
		Memory: &memory,
		Disk:   &disk,
		Images: []limayaml.Image{
			{File: limayaml.File{Location: "https://cloud-images.ubuntu.com/releases/22.04/release/ubuntu-22.04-server-cloudimg-arm64.img", Arch: limayaml.AARCH64}},
			{File: limayaml.File{Location: "https://cloud-images.ubuntu.com/releases/22.04/release/ubuntu-22.04-server-cloudimg-amd64.img", Arch: limayaml.X8664}},
		},
		Mounts: []limayaml.Mount{
			{Location: dataDir, Writable: boolPtr(true)},
		},
		Message: "voyage ship VM - ready",
	}
}

func limaInstalled() bool {
	_, err := exec.LookPath("limactl")
	return err == nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func boolPtr(b bool) *bool { return &b }
