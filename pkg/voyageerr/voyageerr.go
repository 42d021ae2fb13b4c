// Package voyageerr defines the error taxonomy shared across the voyage
// orchestrator's components and maps it to CLI exit codes and operator
// guidance.
package voyageerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure from the error model in spec section 7.
type Kind string

const (
	ProviderUnavailable    Kind = "ProviderUnavailable"
	QuotaExceeded          Kind = "QuotaExceeded"
	ConnectError           Kind = "ConnectError"
	ExecError              Kind = "ExecError"
	NotFound               Kind = "NotFound"
	Timeout                Kind = "Timeout"
	StorageProvisionFailed Kind = "StorageProvisionFailed"
	RepoSeedFailed         Kind = "RepoSeedFailed"
	MountFailed            Kind = "MountFailed"
	AgentStartFailed       Kind = "AgentStartFailed"
	ProvisionFailed        Kind = "ProvisionFailed"
	AmbiguousVoyage        Kind = "AmbiguousVoyage"
	InvalidPlan            Kind = "InvalidPlan"
	TaskParseError         Kind = "TaskParseError"
)

// Error is the structured error type propagated across component
// boundaries. It carries enough context for the CLI to report a concrete
// next action without leaking a stack trace to the operator.
type Error struct {
	Kind     Kind
	VoyageID string
	ShipID   string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s", e.Kind)
	if e.VoyageID != "" {
		msg += fmt.Sprintf(" voyage=%s", e.VoyageID)
	}
	if e.ShipID != "" {
		msg += fmt.Sprintf(" ship=%s", e.ShipID)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind.
func New(kind Kind, voyageID, message string) *Error {
	return &Error{Kind: kind, VoyageID: voyageID, Message: message}
}

// Wrap attaches a kind and context to an underlying cause.
func Wrap(kind Kind, voyageID, shipID string, cause error) *Error {
	return &Error{Kind: kind, VoyageID: voyageID, ShipID: shipID, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// CLIExitCode maps an error to the exit codes defined in spec section 6:
// 0 success, 1 invalid usage, 2 not-found/ambiguous, 3 remote failure,
// 4 partial success with warnings.
func CLIExitCode(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := KindOf(err)
	if !ok {
		return 3
	}
	switch kind {
	case InvalidPlan:
		return 1
	case NotFound, AmbiguousVoyage:
		return 2
	case ProviderUnavailable, QuotaExceeded, ConnectError, ExecError, Timeout,
		StorageProvisionFailed, RepoSeedFailed, MountFailed, AgentStartFailed,
		ProvisionFailed, TaskParseError:
		return 3
	default:
		return 3
	}
}

// NextAction names the operator's recommended follow-up command for a given
// error kind, per spec section 7 ("operator-visible failure always names a
// concrete next action").
func NextAction(kind Kind) string {
	switch kind {
	case StorageProvisionFailed, RepoSeedFailed:
		return "inspect the storage VM, then sink the voyage if it cannot be salvaged"
	case ProvisionFailed, MountFailed, AgentStartFailed:
		return "resume"
	case NotFound:
		return "check the voyage id with status"
	case AmbiguousVoyage:
		return "pass an explicit voyage id"
	case TaskParseError:
		return "reset-task the offending task once its file is repaired"
	case ConnectError, Timeout, ProviderUnavailable:
		return "retry; if this persists, sink and re-sail"
	default:
		return "sink the voyage if it cannot make further progress"
	}
}
