// Package provider defines the Provider Port (component C1): the
// abstract contract every VM backend implements, pluggable behind a
// single interface so the control plane never depends on a concrete
// cloud API.
package provider

import (
	"context"
	"time"
)

// Status is the lifecycle state of a VM record as reported by the backend.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusReady        Status = "ready"
	StatusUnreachable  Status = "unreachable"
	StatusTerminated   Status = "terminated"
)

// Record is the backend's view of one VM.
type Record struct {
	ID     string
	Name   string
	Host   string
	Port   int
	Status Status
}

// Provider is the pluggable VM backend contract. Naming convention
// (<voyage-id>-storage, <voyage-id>-ship-<index>) is owned by the caller,
// not the port: the port only creates, destroys, gets, and lists VMs by
// the name it is given.
type Provider interface {
	// Create provisions a VM named name. It may block until the VM is
	// reachable; implementations that provision asynchronously should
	// instead return promptly with StatusProvisioning and let the
	// caller use WaitReady.
	Create(ctx context.Context, name string) (Record, error)

	// Destroy is idempotent: destroying an absent id is not an error.
	Destroy(ctx context.Context, id string) error

	// Get looks up a single VM by id. ok is false if it does not exist.
	Get(ctx context.Context, id string) (Record, bool, error)

	// List enumerates VMs whose name has the given prefix, used to
	// rediscover a voyage's fleet without any external state.
	List(ctx context.Context, namePrefix string) ([]Record, error)

	// WaitReady polls the backend until the record's VM reports running
	// or timeout elapses. The containerd and lima backends check the
	// container task or instance status; neither runs a command over the
	// remote exec channel.
	WaitReady(ctx context.Context, record Record, timeout time.Duration) error
}
