// Package shipboot implements Ship Bootstrap (component C7): provisioning
// one ship VM, mounting the shared storage VM's voyage root onto it, and
// starting the agent. Per-ship failures are reported to the caller but
// never abort the enclosing sail/resume operation.
package shipboot

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/shipfleet/voyage/pkg/log"
	"github.com/shipfleet/voyage/pkg/provider"
	"github.com/shipfleet/voyage/pkg/remoteexec"
	"github.com/shipfleet/voyage/pkg/types"
	"github.com/shipfleet/voyage/pkg/voyage"
	"github.com/shipfleet/voyage/pkg/voyageerr"
)

// Deps bundles the collaborators one ship bootstrap needs.
type Deps struct {
	Provider provider.Provider
	Exec     remoteexec.RemoteExec
	SSHUser  string
	SSHPort  int
}

const (
	shipConfigDir = "/etc/voyage"
	shipHooksDir  = "/etc/voyage/hooks"
	shipMountRoot = "/mnt/voyage"
)

// stopHookTemplate is copied verbatim onto every ship. It is idempotent:
// re-running it after the agent has already exited is a harmless no-op,
// and it only ever touches the shared workspace and progress log, never
// task state.
const stopHookTemplate = `#!/bin/sh
# voyage stop hook: commits uncommitted work and appends an exit line.
set -e
cd "%s"
if [ -n "$(git status --porcelain)" ]; then
  git add -A
  git commit -m "voyage: stop hook autosave for %s" || true
fi
echo "$(date -u +%%Y-%%m-%%dT%%H:%%M:%%SZ) ship-%d stopped" >> "%s"
`

// Run executes the five-step ship bootstrap procedure from spec section
// 4.7 for ship index idx against storage.
func Run(ctx context.Context, deps Deps, v types.Voyage, storage provider.Record, idx int) error {
	logger := log.WithComponent("shipboot").With().Str("voyage_id", v.ID).Int("ship_index", idx).Logger()

	shipName := voyage.ShipName(v.ID, idx)

	// Step 1: provision and wait ready.
	record, err := deps.Provider.Create(ctx, shipName)
	if err != nil {
		logger.Warn().Err(err).Msg("ship provisioning failed")
		return voyageerr.Wrap(voyageerr.ProvisionFailed, v.ID, shipName, err)
	}
	if err := deps.Provider.WaitReady(ctx, record, 5*time.Minute); err != nil {
		logger.Warn().Err(err).Msg("ship never became ready")
		return voyageerr.Wrap(voyageerr.ProvisionFailed, v.ID, shipName, err)
	}

	dest := remoteexec.Dest{Name: record.Name, Host: record.Host, Port: record.Port, User: deps.SSHUser}
	if dest.Port == 0 {
		dest.Port = deps.SSHPort
	}
	storageDest := remoteexec.Dest{Name: storage.Name, Host: storage.Host, Port: storage.Port, User: deps.SSHUser}
	if storageDest.Port == 0 {
		storageDest.Port = deps.SSHPort
	}

	voyageRoot := "/voyage"
	workspacePath := path.Join(shipMountRoot, "workspace")
	taskPath := path.Join(shipMountRoot, "tasks")
	logPath := path.Join(voyageRoot, "logs", fmt.Sprintf("ship-%d.log", idx))
	progressPath := path.Join(voyageRoot, "artifacts", "progress.txt")

	// Step 2: mount the shared voyage root and task set. Mount options
	// enable automatic reconnect and a bounded keepalive, since the
	// storage VM is a separate machine the ship cannot coordinate with
	// directly.
	mountCmd := fmt.Sprintf(
		"mkdir -p %q %q && sshfs -o reconnect,ServerAliveInterval=15,ServerAliveCountMax=3 %s@%s:%s %q && sshfs -o reconnect,ServerAliveInterval=15,ServerAliveCountMax=3 %s@%s:%s %q",
		workspacePath, taskPath,
		deps.SSHUser, storage.Host, path.Join(voyageRoot, "workspace"), workspacePath,
		deps.SSHUser, storage.Host, path.Join(voyageRoot, "tasks"), taskPath,
	)
	if res, err := deps.Exec.Run(ctx, dest, mountCmd); err != nil || res.ExitCode != 0 {
		logger.Warn().Err(err).Str("stderr", res.Stderr).Msg("mounting shared storage failed")
		return voyageerr.Wrap(voyageerr.MountFailed, v.ID, shipName, fmt.Errorf("%v: %s", err, res.Stderr))
	}

	// Step 3: write the ship's identity file.
	identity := fmt.Sprintf("ship_id=ship-%d\nvoyage_id=%s\nstorage=%s\n", idx, v.ID, storage.Name)
	identityCmd := fmt.Sprintf("mkdir -p %q && cat > %q <<'VOYAGE_EOF'\n%sVOYAGE_EOF\n", shipConfigDir, path.Join(shipConfigDir, "identity"), identity)
	if res, err := deps.Exec.Run(ctx, dest, identityCmd); err != nil || res.ExitCode != 0 {
		return voyageerr.Wrap(voyageerr.AgentStartFailed, v.ID, shipName, fmt.Errorf("write identity file: %v: %s", err, res.Stderr))
	}

	// Step 4: install the stop hook.
	hook := fmt.Sprintf(stopHookTemplate, workspacePath, v.ID, idx, progressPath)
	hookPath := path.Join(shipHooksDir, "stop.sh")
	installHookCmd := fmt.Sprintf("mkdir -p %q && cat > %q <<'VOYAGE_EOF'\n%sVOYAGE_EOF\nchmod +x %q", shipHooksDir, hookPath, hook, hookPath)
	if res, err := deps.Exec.Run(ctx, dest, installHookCmd); err != nil || res.ExitCode != 0 {
		return voyageerr.Wrap(voyageerr.AgentStartFailed, v.ID, shipName, fmt.Errorf("install stop hook: %v: %s", err, res.Stderr))
	}

	// Step 5: start the agent detached, redirecting logs to the shared
	// voyage root via the mounted workspace.
	startCmd := fmt.Sprintf(
		"nohup voyage-agent --tasks=%q --workspace=%q --ship-id=ship-%d --stop-hook=%q > %q 2>&1 < /dev/null &",
		taskPath, workspacePath, idx, hookPath, logPath,
	)
	if res, err := deps.Exec.Run(ctx, dest, startCmd); err != nil || res.ExitCode != 0 {
		return voyageerr.Wrap(voyageerr.AgentStartFailed, v.ID, shipName, fmt.Errorf("start agent: %v: %s", err, res.Stderr))
	}

	logger.Info().Msg("ship bootstrapped")
	return nil
}
