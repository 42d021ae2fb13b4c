// +build linux

package main

import (
	"fmt"

	"github.com/shipfleet/voyage/pkg/config"
	"github.com/shipfleet/voyage/pkg/provider"
	"github.com/shipfleet/voyage/pkg/provider/containerd"
)

// newProvider selects the VM backend named by cfg.Provider. On Linux only
// the containerd backend is available; lima is macOS-only.
func newProvider(cfg config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "", "containerd":
		return containerd.New(cfg.ContainerdSocket, dataDir(), cfg.AgentImage)
	case "lima":
		return nil, fmt.Errorf("provider %q is only available on macOS", cfg.Provider)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
