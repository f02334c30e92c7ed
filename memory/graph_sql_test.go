package memory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemora/mnemora/types"
)

func TestSQLGraphStore(t *testing.T) {
	t.Parallel()
	runGraphStoreSuite(t, func(t *testing.T) GraphStore {
		store, err := OpenSQLiteGraphStore(filepath.Join(t.TempDir(), "graph.db"), zap.NewNop())
		require.NoError(t, err)
		return store
	})
}

func TestSQLGraphStore_PersistsAcrossOpens(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "graph.db")
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	store, err := OpenSQLiteGraphStore(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.PutNode(&GraphNode{
		ID:    "n1",
		Label: "retry_pattern",
		Properties: types.Metadata{
			"confidence": types.FloatValue(0.8),
		},
		CreatedAt: ts,
		UpdatedAt: ts,
	}))

	reopened, err := OpenSQLiteGraphStore(path, zap.NewNop())
	require.NoError(t, err)

	node, ok, err := reopened.GetNode("n1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "retry_pattern", node.Label)
	conf, isNum := node.Properties["confidence"].AsFloat()
	require.True(t, isNum)
	require.Equal(t, 0.8, conf)
}

func TestSQLGraphStore_SaveOverwrites(t *testing.T) {
	t.Parallel()

	store, err := OpenSQLiteGraphStore(filepath.Join(t.TempDir(), "graph.db"), zap.NewNop())
	require.NoError(t, err)

	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.PutNode(&GraphNode{ID: "n1", Label: "v1", CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, store.PutNode(&GraphNode{ID: "n1", Label: "v2", CreatedAt: ts, UpdatedAt: ts}))

	node, ok, err := store.GetNode("n1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", node.Label)

	stats, err := store.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.NodeCount)
}
