// Package containerd implements the Provider Port (C1) by running each
// "VM" as an OCI container standing in for a real cloud instance. It is
// the fast, no-cloud-account backend used for local iteration and CI,
// calling the containerd client directly against the daemon.
package containerd

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	ctrd "github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/shipfleet/voyage/pkg/log"
	"github.com/shipfleet/voyage/pkg/provider"
	"github.com/shipfleet/voyage/pkg/remoteexec"
	"github.com/shipfleet/voyage/pkg/voyageerr"
)

const (
	// Namespace isolates voyage ships from any other containerd tenant
	// sharing the same daemon.
	Namespace = "voyage"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// DefaultSSHPort is the port the agent image's sshd listens on,
	// published to the host so remoteexec can reach it uniformly with
	// the cloud backends.
	DefaultSSHPort = 2222

	// sharedMountPath is where every container in a voyage bind-mounts
	// the local stand-in for the shared storage volume a real cloud
	// backend's sshfs mount would provide (see pkg/shipboot).
	sharedMountPath = "/voyage"
)

// Backend implements provider.Provider on top of a local containerd
// daemon, with a bbolt registry standing in for the externally-persisted
// VM records a real cloud API would keep.
type Backend struct {
	client    *ctrd.Client
	namespace string
	image     string
	registry  *Registry
	sharedDir string
}

// New connects to containerd at socketPath and opens the VM registry at
// dataDir/registry.db. image is the agent container image run for every
// ship and the storage VM. dataDir/shared is bind-mounted into every
// container at sharedMountPath, standing in for the sshfs-mounted
// voyage root a real cloud backend would attach (pkg/shipboot).
func New(socketPath, dataDir, image string) (*Backend, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := ctrd.New(socketPath)
	if err != nil {
		return nil, voyageerr.Wrap(voyageerr.ProviderUnavailable, "", "", fmt.Errorf("connect to containerd at %s: %w", socketPath, err))
	}

	reg, err := NewRegistry(dataDir)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &Backend{
		client:    client,
		namespace: Namespace,
		image:     image,
		registry:  reg,
		sharedDir: dataDir + "/shared",
	}, nil
}

// Close releases the containerd client and registry handle.
func (b *Backend) Close() error {
	b.registry.Close()
	return b.client.Close()
}

func (b *Backend) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, b.namespace)
}

// Create provisions name as a new container running the agent image,
// publishing its SSH port to a host port recorded in the registry.
func (b *Backend) Create(ctx context.Context, name string) (provider.Record, error) {
	logger := log.WithComponent("provider/containerd")
	ctx = b.ctx(ctx)

	image, err := b.client.GetImage(ctx, b.image)
	if err != nil {
		image, err = b.client.Pull(ctx, b.image, ctrd.WithPullUnpack)
		if err != nil {
			return provider.Record{}, voyageerr.Wrap(voyageerr.ProviderUnavailable, "", "", fmt.Errorf("pull image %s: %w", b.image, err))
		}
	}

	hostPort, err := freeHostPort()
	if err != nil {
		return provider.Record{}, voyageerr.Wrap(voyageerr.ProviderUnavailable, "", "", err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithHostname(name),
		oci.WithMounts([]specs.Mount{
			{
				Destination: sharedMountPath,
				Type:        "bind",
				Source:      b.sharedDir,
				Options:     []string{"rbind", "rw"},
			},
		}),
	}

	container, err := b.client.NewContainer(
		ctx,
		name,
		ctrd.WithImage(image),
		ctrd.WithNewSnapshot(name+"-snapshot", image),
		ctrd.WithNewSpec(opts...),
	)
	if err != nil {
		return provider.Record{}, voyageerr.Wrap(voyageerr.ProviderUnavailable, "", "", fmt.Errorf("create container %s: %w", name, err))
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return provider.Record{}, voyageerr.Wrap(voyageerr.ProviderUnavailable, "", "", fmt.Errorf("create task for %s: %w", name, err))
	}
	if err := task.Start(ctx); err != nil {
		return provider.Record{}, voyageerr.Wrap(voyageerr.ProviderUnavailable, "", "", fmt.Errorf("start task for %s: %w", name, err))
	}

	rec := provider.Record{
		ID:     name,
		Name:   name,
		Host:   "127.0.0.1",
		Port:   hostPort,
		Status: provider.StatusProvisioning,
	}
	if err := b.registry.Put(rec); err != nil {
		return provider.Record{}, err
	}

	logger.Info().Str("name", name).Int("port", hostPort).Msg("container provisioned")
	return rec, nil
}

// Destroy is idempotent: destroying an absent id is not an error. The
// containerd daemon round-trip is retried with bounded backoff per the
// spec's transport-retry policy for idempotent operations.
func (b *Backend) Destroy(ctx context.Context, id string) error {
	ctx = b.ctx(ctx)

	return remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, "", "provider_destroy", func() error {
		container, err := b.client.LoadContainer(ctx, id)
		if err != nil {
			// Already gone: idempotent success.
			return b.registry.Delete(id)
		}

		if task, err := container.Task(ctx, nil); err == nil {
			stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			task.Kill(stopCtx, 9) // SIGKILL; ships are ephemeral, no graceful drain needed
			statusC, waitErr := task.Wait(stopCtx)
			if waitErr == nil {
				<-statusC
			}
			task.Delete(ctx)
		}

		if err := container.Delete(ctx, ctrd.WithSnapshotCleanup); err != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, "", "", fmt.Errorf("delete container %s: %w", id, err))
		}

		return b.registry.Delete(id)
	})
}

// Get looks up a VM record from the registry, retrying transient registry
// errors per the spec's idempotent-operation retry policy.
func (b *Backend) Get(ctx context.Context, id string) (provider.Record, bool, error) {
	var rec provider.Record
	var found bool
	err := remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, "", "provider_get", func() error {
		r, ok, err := b.registry.Get(id)
		if err != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, "", "", err)
		}
		rec, found = r, ok
		return nil
	})
	return rec, found, err
}

// List enumerates registry entries whose name has the given prefix,
// retrying transient registry errors per the spec's idempotent-operation
// retry policy.
func (b *Backend) List(ctx context.Context, namePrefix string) ([]provider.Record, error) {
	var all []provider.Record
	err := remoteexec.WithRetry(ctx, remoteexec.DefaultRetryPolicy, "", "provider_list", func() error {
		a, err := b.registry.List()
		if err != nil {
			return voyageerr.Wrap(voyageerr.ConnectError, "", "", err)
		}
		all = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	var out []provider.Record
	for _, r := range all {
		if strings.HasPrefix(r.Name, namePrefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

// WaitReady polls the container's task status until it is running or
// timeout elapses.
func (b *Backend) WaitReady(ctx context.Context, record provider.Record, timeout time.Duration) error {
	ctx = b.ctx(ctx)
	deadline := time.Now().Add(timeout)

	for {
		container, err := b.client.LoadContainer(ctx, record.ID)
		if err == nil {
			if task, err := container.Task(ctx, nil); err == nil {
				if status, err := task.Status(ctx); err == nil && status.Status == ctrd.Running {
					rec := record
					rec.Status = provider.StatusReady
					b.registry.Put(rec)
					return nil
				}
			}
		}

		if time.Now().After(deadline) {
			return voyageerr.New(voyageerr.Timeout, "", fmt.Sprintf("wait_ready for %s", record.Name))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// freeHostPort asks the kernel for an ephemeral port to forward a VM's
// SSH service onto.
func freeHostPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocate host port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
