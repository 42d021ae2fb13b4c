package health

import (
	"context"
	"time"

	"github.com/shipfleet/voyage/pkg/remoteexec"
)

// RemoteChecker runs a trivial command over the remote exec channel to
// check over SSH against a named VM instead of exec'ing into a local
// container.
type RemoteChecker struct {
	Exec    remoteexec.RemoteExec
	Dest    remoteexec.Dest
	Command string
}

// NewRemoteChecker builds a checker that runs "true" on dest, the
// cheapest possible proof that a shell is reachable.
func NewRemoteChecker(exec remoteexec.RemoteExec, dest remoteexec.Dest) *RemoteChecker {
	return &RemoteChecker{Exec: exec, Dest: dest, Command: "true"}
}

// Check runs the configured command once and reports the result.
func (c *RemoteChecker) Check(ctx context.Context) Result {
	start := time.Now()
	res, err := c.Exec.Run(ctx, c.Dest, c.Command)
	if err != nil {
		return Result{Healthy: false, Message: err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	if res.ExitCode != 0 {
		return Result{Healthy: false, Message: res.Stderr, CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{Healthy: true, CheckedAt: start, Duration: time.Since(start)}
}

// WaitReady polls Check every cfg.Interval until it succeeds or cfg.Timeout
// elapses, implementing the Provider Port's wait_ready contract.
func WaitReady(ctx context.Context, checker *RemoteChecker, cfg Config) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	if checker.Check(ctx).Healthy {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if checker.Check(ctx).Healthy {
				return nil
			}
		}
	}
}
