// Package sail implements the Sail operation (component C6): build a new
// voyage from a plan directory, provision its storage VM and fleet, and
// return the voyage descriptor. Sail is not transactional across VMs; its
// compensation policy is to leave infrastructure in place for the operator
// to inspect, resume, or sink.
package sail

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shipfleet/voyage/pkg/log"
	"github.com/shipfleet/voyage/pkg/metrics"
	"github.com/shipfleet/voyage/pkg/provider"
	"github.com/shipfleet/voyage/pkg/remoteexec"
	"github.com/shipfleet/voyage/pkg/shipboot"
	"github.com/shipfleet/voyage/pkg/taskstore"
	"github.com/shipfleet/voyage/pkg/types"
	"github.com/shipfleet/voyage/pkg/voyage"
	"github.com/shipfleet/voyage/pkg/voyageerr"
)

// Deps bundles the collaborators Sail needs: a VM backend, a remote exec
// channel good against any Dest it is given, and the SSH coordinates
// needed to dial a freshly created VM.
type Deps struct {
	Provider provider.Provider
	Exec     remoteexec.RemoteExec
	SSHUser  string
	SSHPort  int
}

// Options overrides the plan's recommended ship count.
type Options struct {
	ShipCount    int // 0 means "use the plan's recommendation"
	DefaultShips int // fallback when neither ShipCount nor the plan names a count
}

// ShipOutcome records one ship bootstrap's result within a Result.
type ShipOutcome struct {
	Index int
	Err   error
}

// Result is everything Sail returns to the caller: the voyage descriptor
// plus per-ship outcomes so the CLI can choose exit code 0 or 4.
type Result struct {
	Voyage types.Voyage
	Ships  []ShipOutcome
}

// AnyShipFailed reports whether at least one ship bootstrap failed, the
// condition that makes sail exit 4 instead of 0.
func (r Result) AnyShipFailed() bool {
	for _, o := range r.Ships {
		if o.Err != nil {
			return true
		}
	}
	return false
}

const (
	workspaceDir = "workspace"
	artifactsDir = "artifacts"
	logsDir      = "logs"
)

// Run executes the full sail procedure described in spec section 4.6.
func Run(ctx context.Context, deps Deps, plan Plan, opts Options) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SailDuration)

	shipCount := opts.ShipCount
	if shipCount <= 0 {
		shipCount = plan.Config.RecommendedShips
	}
	if shipCount <= 0 {
		shipCount = opts.DefaultShips
	}
	if shipCount <= 0 {
		return Result{}, voyageerr.New(voyageerr.InvalidPlan, "", "ship_count must be positive (set --ships, voyage.json recommended_ships, or DEFAULT_SHIPS)")
	}

	objective := plan.Config.Objective
	if objective == "" {
		objective = plan.Config.Repo
	}

	v, err := voyage.New(objective, plan.Config.Repo, shipCount)
	if err != nil {
		return Result{}, voyageerr.Wrap(voyageerr.InvalidPlan, "", "", err)
	}

	logger := log.WithComponent("sail").With().Str("voyage_id", v.ID).Logger()
	logger.Info().Str("repo", v.Repo).Int("ships", shipCount).Msg("constructed voyage")

	// Step 2: provision storage VM.
	storageName := voyage.StorageName(v.ID)
	storageRecord, err := deps.Provider.Create(ctx, storageName)
	if err != nil {
		metrics.ProviderOperationsTotal.WithLabelValues("create_storage", "failure").Inc()
		return Result{}, voyageerr.Wrap(voyageerr.StorageProvisionFailed, v.ID, "", err)
	}
	if err := deps.Provider.WaitReady(ctx, storageRecord, 5*time.Minute); err != nil {
		metrics.ProviderOperationsTotal.WithLabelValues("create_storage", "failure").Inc()
		return Result{}, voyageerr.Wrap(voyageerr.StorageProvisionFailed, v.ID, "", err)
	}
	metrics.ProviderOperationsTotal.WithLabelValues("create_storage", "success").Inc()

	storageDest := remoteexec.Dest{Name: storageRecord.Name, Host: storageRecord.Host, Port: storageRecord.Port, User: deps.SSHUser}
	if storageDest.Port == 0 {
		storageDest.Port = deps.SSHPort
	}

	voyageRoot := "/voyage"
	taskDir := path.Join(voyageRoot, "tasks")

	// Step 3: initialize storage layout.
	mkdirCmd := fmt.Sprintf("mkdir -p %q %q %q %q %q",
		path.Join(voyageRoot, workspaceDir),
		path.Join(voyageRoot, artifactsDir),
		path.Join(voyageRoot, logsDir),
		taskDir,
		voyageRoot,
	)
	if res, err := deps.Exec.Run(ctx, storageDest, mkdirCmd); err != nil || res.ExitCode != 0 {
		return Result{}, voyageerr.Wrap(voyageerr.StorageProvisionFailed, v.ID, "", fmt.Errorf("init storage layout: %w (stderr=%s)", err, res.Stderr))
	}

	// Step 4: seed repository.
	workspacePath := path.Join(voyageRoot, workspaceDir)
	seedCmd := fmt.Sprintf("git clone %q %q && cd %q && git checkout -b %q", v.Repo, workspacePath, workspacePath, v.Branch)
	if res, err := deps.Exec.Run(ctx, storageDest, seedCmd); err != nil || res.ExitCode != 0 {
		msg := ""
		if res.Stderr != "" {
			msg = res.Stderr
		} else if err != nil {
			msg = err.Error()
		}
		return Result{}, voyageerr.New(voyageerr.RepoSeedFailed, v.ID, "clone/checkout failed: "+msg)
	}

	// Step 5: publish artifacts.
	if err := publishArtifacts(ctx, deps.Exec, storageDest, voyageRoot, v, plan); err != nil {
		return Result{}, voyageerr.Wrap(voyageerr.RepoSeedFailed, v.ID, "", fmt.Errorf("publish artifacts: %w", err))
	}

	store := taskstore.New(deps.Exec, storageDest, taskDir, v.ID)
	for _, task := range plan.Tasks {
		if err := store.WriteTask(ctx, task); err != nil {
			return Result{}, voyageerr.Wrap(voyageerr.RepoSeedFailed, v.ID, "", fmt.Errorf("publish task %s: %w", task.ID, err))
		}
	}

	appendProgress(ctx, deps.Exec, storageDest, voyageRoot, "sail: voyage constructed, storage provisioned, artifacts published")

	// Step 6: bootstrap ships, bounded by ship_count, non-fatal per ship.
	outcomes := bootstrapShips(ctx, deps, v, storageRecord, shipCount, 0)

	anyLaunched := false
	for _, o := range outcomes {
		if o.Err == nil {
			anyLaunched = true
		} else {
			logger.Warn().Int("ship_index", o.Index).Err(o.Err).Msg("ship bootstrap failed; voyage remains resumable")
		}
	}
	if !anyLaunched && shipCount > 0 {
		logger.Warn().Msg("no ships launched; run resume to fill the fleet")
	}

	return Result{Voyage: v, Ships: outcomes}, nil
}

// BootstrapShips runs shipboot.Run for indices [start, start+count) bounded
// by count concurrent workers, grounded on an errgroup fan-out with a
// shared cancellation context. Exported so resume (fleet) can reuse the
// exact same bounded pool sail uses internally.
func BootstrapShips(ctx context.Context, deps Deps, v types.Voyage, storage provider.Record, start, count int) []ShipOutcome {
	return bootstrapShips(ctx, deps, v, storage, count, start)
}

func bootstrapShips(ctx context.Context, deps Deps, v types.Voyage, storage provider.Record, count, start int) []ShipOutcome {
	outcomes := make([]ShipOutcome, count)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < count; i++ {
		idx := start + i
		g.Go(func() error {
			timer := metrics.NewTimer()
			err := shipboot.Run(gctx, shipboot.Deps{
				Provider: deps.Provider,
				Exec:     deps.Exec,
				SSHUser:  deps.SSHUser,
				SSHPort:  deps.SSHPort,
			}, v, storage, idx)
			timer.ObserveDuration(metrics.ShipBootstrapDuration)
			outcome := "success"
			if err != nil {
				outcome = "failure"
			}
			metrics.ShipsBootstrapped.WithLabelValues(outcome).Inc()
			outcomes[i] = ShipOutcome{Index: idx, Err: err}
			// Per-ship failures are recorded, never propagated: the
			// pool must keep going so a lone bad ship doesn't sink
			// the whole fleet.
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func publishArtifacts(ctx context.Context, exec remoteexec.RemoteExec, dest remoteexec.Dest, voyageRoot string, v types.Voyage, plan Plan) error {
	descriptor, err := voyage.Marshal(v)
	if err != nil {
		return err
	}
	if err := putFile(ctx, exec, dest, descriptor, path.Join(voyageRoot, "voyage.json")); err != nil {
		return err
	}
	if err := putFile(ctx, exec, dest, plan.SpecMD, path.Join(voyageRoot, artifactsDir, "spec.md")); err != nil {
		return err
	}
	verifyPath := path.Join(voyageRoot, artifactsDir, "verify.sh")
	if err := putFile(ctx, exec, dest, plan.VerifySH, verifyPath); err != nil {
		return err
	}
	if res, err := exec.Run(ctx, dest, fmt.Sprintf("chmod +x %q", verifyPath)); err != nil || res.ExitCode != 0 {
		return fmt.Errorf("chmod verify.sh: %w", err)
	}
	progressPath := path.Join(voyageRoot, artifactsDir, "progress.txt")
	if err := putFile(ctx, exec, dest, []byte{}, progressPath); err != nil {
		return err
	}
	return nil
}

func appendProgress(ctx context.Context, exec remoteexec.RemoteExec, dest remoteexec.Dest, voyageRoot, line string) {
	progressPath := path.Join(voyageRoot, artifactsDir, "progress.txt")
	stamped := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), line)
	_, _ = exec.Run(ctx, dest, fmt.Sprintf("echo %q >> %q", stamped, progressPath))
}

func putFile(ctx context.Context, exec remoteexec.RemoteExec, dest remoteexec.Dest, data []byte, remotePath string) error {
	return exec.Put(ctx, dest, bytes.NewReader(data), remotePath)
}
