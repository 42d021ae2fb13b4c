// +build darwin

package main

import (
	"fmt"

	"github.com/shipfleet/voyage/pkg/config"
	"github.com/shipfleet/voyage/pkg/provider"
	"github.com/shipfleet/voyage/pkg/provider/containerd"
	"github.com/shipfleet/voyage/pkg/provider/lima"
)

// newProvider selects the VM backend named by cfg.Provider. On macOS both
// the containerd backend (for CI-like local iteration) and the lima
// backend (real micro-VMs) are available.
func newProvider(cfg config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "", "containerd":
		return containerd.New(cfg.ContainerdSocket, dataDir(), cfg.AgentImage)
	case "lima":
		return lima.New(dataDir()), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
