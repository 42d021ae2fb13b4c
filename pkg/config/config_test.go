package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PROVIDER", "DEFAULT_SHIPS", "STALE_THRESHOLD_MINUTES",
		"VOYAGE_CONTAINERD_SOCKET", "VOYAGE_AGENT_IMAGE", "VOYAGE_METRICS_ADDR", "VOYAGE_SSH_KEY",
	} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultProvider, cfg.Provider)
	assert.Equal(t, defaultShips, cfg.DefaultShips)
	assert.Equal(t, defaultStaleThreshold, cfg.StaleThresholdMinutes)
	assert.Equal(t, int64(defaultStaleThreshold)*60, int64(cfg.StaleThreshold.Seconds()))
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PROVIDER", "lima")
	t.Setenv("DEFAULT_SHIPS", "5")
	t.Setenv("STALE_THRESHOLD_MINUTES", "45")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "lima", cfg.Provider)
	assert.Equal(t, 5, cfg.DefaultShips)
	assert.Equal(t, 45, cfg.StaleThresholdMinutes)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := home + "/.voyage"
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(dir+"/config.yaml", []byte("provider: containerd\ndefault_ships: 2\n"), 0o644))

	t.Setenv("PROVIDER", "lima")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "lima", cfg.Provider)
	assert.Equal(t, 2, cfg.DefaultShips)
}

func TestLoadRejectsNonIntegerDefaultShips(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DEFAULT_SHIPS", "many")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveDefaultShips(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DEFAULT_SHIPS", "0")

	_, err := Load()
	require.Error(t, err)
}
