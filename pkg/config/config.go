// Package config loads the orchestrator's environment configuration
// (component C9's config surface) at startup into an immutable value,
// with an optional YAML override file for local operator preferences.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the control plane's startup configuration. Nothing in the
// codebase reads environment variables or files again after this is
// built; each cmd/voyage command loads it once (buildFleetDeps, or
// runSail for sail) and threads it through.
type Config struct {
	Provider               string        `yaml:"provider"`
	DefaultShips           int           `yaml:"default_ships"`
	StaleThreshold         time.Duration `yaml:"-"`
	StaleThresholdMinutes  int           `yaml:"stale_threshold_minutes"`
	ContainerdSocket       string        `yaml:"containerd_socket"`
	AgentImage             string        `yaml:"agent_image"`
	MetricsAddr            string        `yaml:"metrics_addr"`
	SSHPrivateKeyPath      string        `yaml:"ssh_private_key_path"`
}

const (
	defaultProvider       = "containerd"
	defaultShips          = 3
	defaultStaleThreshold = 30
)

// Load builds a Config from built-in defaults, overlays an optional
// ~/.voyage/config.yaml if present, then applies environment variables.
// Environment variables take precedence: the file exists for durable
// defaults, not to hide an operator's explicit override.
func Load() (Config, error) {
	cfg := Config{
		Provider:              defaultProvider,
		DefaultShips:          defaultShips,
		StaleThresholdMinutes: defaultStaleThreshold,
		ContainerdSocket:      "/run/containerd/containerd.sock",
		AgentImage:            "voyage/agent:latest",
	}

	if path, err := configFilePath(); err == nil {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("DEFAULT_SHIPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: DEFAULT_SHIPS must be an integer, got %q", v)
		}
		cfg.DefaultShips = n
	}
	if v := os.Getenv("STALE_THRESHOLD_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: STALE_THRESHOLD_MINUTES must be an integer, got %q", v)
		}
		cfg.StaleThresholdMinutes = n
	}
	if v := os.Getenv("VOYAGE_CONTAINERD_SOCKET"); v != "" {
		cfg.ContainerdSocket = v
	}
	if v := os.Getenv("VOYAGE_AGENT_IMAGE"); v != "" {
		cfg.AgentImage = v
	}
	if v := os.Getenv("VOYAGE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("VOYAGE_SSH_KEY"); v != "" {
		cfg.SSHPrivateKeyPath = v
	}

	cfg.StaleThreshold = time.Duration(cfg.StaleThresholdMinutes) * time.Minute

	if cfg.DefaultShips <= 0 {
		return Config{}, fmt.Errorf("config: default_ships must be positive, got %d", cfg.DefaultShips)
	}

	return cfg, nil
}

func configFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".voyage", "config.yaml"), nil
}
