package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.Equal(t, 7, cfg.Working.Capacity)
	require.Equal(t, 0.3, cfg.Working.MinImportance)
	require.Equal(t, 30*time.Minute, cfg.Working.DecayThreshold)
	require.Equal(t, 3, cfg.Lifecycle.MinAccessForActive)
	require.False(t, cfg.Redis.Enabled, "defaults never reach for external services")
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memory.yaml")
	body := `
working:
  capacity: 12
  decay_threshold: 10m
lifecycle:
  archive_after: 48h
archive:
  root: /tmp/archive-test
graph:
  backend: sqlite
  path: graph.db
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 12, cfg.Working.Capacity)
	require.Equal(t, 10*time.Minute, cfg.Working.DecayThreshold)
	require.Equal(t, 48*time.Hour, cfg.Lifecycle.ArchiveAfter)
	require.Equal(t, "/tmp/archive-test", cfg.Archive.Root)
	require.Equal(t, "sqlite", cfg.Graph.Backend)

	// untouched keys keep defaults
	require.Equal(t, 0.3, cfg.Working.MinImportance)
	require.Equal(t, 90*24*time.Hour, cfg.Lifecycle.ForgetAfter)
}

func TestNormalize_ClampsCapacityFloor(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Working.Capacity = 1
	cfg.Normalize()
	require.Equal(t, MinCapacity, cfg.Working.Capacity)
}

func TestValidate_RejectsBadBackend(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Graph.Backend = "neo4j"
	require.Error(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
