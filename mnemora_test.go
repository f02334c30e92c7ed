package mnemora

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mnemora/mnemora/config"
	"github.com/mnemora/mnemora/memory"
)

func TestOpenDefaultsStayInProcess(t *testing.T) {
	t.Parallel()

	// the default topology must come up without Redis or any other service
	cfg := config.DefaultConfig()
	cfg.Archive.Root = filepath.Join(t.TempDir(), "archive")

	sys, err := Open(cfg)
	require.NoError(t, err)
	defer sys.Close()

	result := sys.Manager.ProcessInformation("payment service timeout on checkout",
		memory.TriggerError, nil, "checkout")
	require.True(t, result.Stored)

	require.NoError(t, sys.Lifecycle.UpdateAccess(result.WorkingID))
	stats := sys.Manager.Stats()
	require.NotZero(t, stats.Lifecycle.Total)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Archive.Root = filepath.Join(t.TempDir(), "archive")
	cfg.Graph.Backend = "neo4j"

	_, err := Open(cfg)
	require.Error(t, err)
}
