package main

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"github.com/shipfleet/voyage/pkg/config"
	"github.com/shipfleet/voyage/pkg/fleet"
	"github.com/shipfleet/voyage/pkg/log"
	"github.com/shipfleet/voyage/pkg/remoteexec"
	"github.com/shipfleet/voyage/pkg/sail"
	"github.com/shipfleet/voyage/pkg/voyageerr"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		log.Fault(log.WithComponent("cli"), err, "command failed", false)
		os.Exit(exitCodeOf(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "voyage",
	Short: "Voyage - orchestrates autonomous fleets of coding agents",
	Long: `Voyage launches and manages a voyage: a bounded fleet of worker
VMs ("ships"), each running an autonomous coding agent against a shared,
file-backed task set on a storage VM.

There is no coordination daemon: every command derives the fleet's state
from the shared task set at the moment it runs.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"voyage version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(sailCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(resetTaskCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(abandonCmd)
	rootCmd.AddCommand(sinkCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "voyage")
	}
	return filepath.Join(home, ".voyage", "data")
}

func exitCodeOf(err error) int {
	if ec, ok := err.(interface{ ExitCode() int }); ok {
		return ec.ExitCode()
	}
	if _, ok := voyageerr.KindOf(err); ok {
		return voyageerr.CLIExitCode(err)
	}
	// Errors not tagged with a Kind exit 1, the usage-error code. Most
	// come from cobra's own flag/arg validation or from loading the
	// configuration, provider and SSH key in buildFleetDeps/buildSailDeps.
	return 1
}

// buildFleetDeps loads configuration and wires the provider/remote-exec
// collaborators every fleet/sail command needs.
func buildFleetDeps() (fleet.Deps, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return fleet.Deps{}, config.Config{}, err
	}
	p, err := newProvider(cfg)
	if err != nil {
		return fleet.Deps{}, config.Config{}, err
	}
	exec, err := newRemoteExec(cfg)
	if err != nil {
		return fleet.Deps{}, config.Config{}, err
	}
	return fleet.Deps{
		Provider:       p,
		Exec:           exec,
		SSHUser:        "voyage",
		SSHPort:        22,
		StaleThreshold: cfg.StaleThreshold,
	}, cfg, nil
}

func buildSailDeps(cfg config.Config) (sail.Deps, error) {
	p, err := newProvider(cfg)
	if err != nil {
		return sail.Deps{}, err
	}
	exec, err := newRemoteExec(cfg)
	if err != nil {
		return sail.Deps{}, err
	}
	return sail.Deps{Provider: p, Exec: exec, SSHUser: "voyage", SSHPort: 22}, nil
}

// newRemoteExec builds the default SSH-backed Remote Exec channel from the
// configured private key.
func newRemoteExec(cfg config.Config) (remoteexec.RemoteExec, error) {
	keyPath := cfg.SSHPrivateKeyPath
	if keyPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default ssh key path: %w", err)
		}
		keyPath = filepath.Join(home, ".ssh", "id_ed25519")
	}
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh private key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse ssh private key %s: %w", keyPath, err)
	}
	return remoteexec.NewSSHExec(signer, pem), nil
}
