package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemora/mnemora/types"
)

// runGraphStoreSuite exercises the GraphStore contract against any backend.
func runGraphStoreSuite(t *testing.T, newStore func(t *testing.T) GraphStore) {
	t.Helper()
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	node := func(id, label string, props types.Metadata) *GraphNode {
		return &GraphNode{ID: id, Label: label, Properties: props, CreatedAt: ts, UpdatedAt: ts}
	}
	edge := func(id, from, to, label string) *GraphEdge {
		return &GraphEdge{ID: id, From: from, To: to, Label: label, CreatedAt: ts}
	}

	t.Run("node round trip", func(t *testing.T) {
		t.Parallel()
		g := newStore(t)

		require.Error(t, g.PutNode(&GraphNode{}))
		require.NoError(t, g.PutNode(node("n1", "timeout", types.Metadata{
			"severity": types.StringValue("high"),
			"count":    types.IntValue(3),
		})))

		got, ok, err := g.GetNode("n1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "timeout", got.Label)
		require.Equal(t, "high", got.Properties.Text("severity"))
		n, _ := got.Properties["count"].AsInt()
		require.EqualValues(t, 3, n)

		_, ok, err = g.GetNode("missing")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("delete node cascades edges", func(t *testing.T) {
		t.Parallel()
		g := newStore(t)

		require.NoError(t, g.PutNode(node("a", "a", nil)))
		require.NoError(t, g.PutNode(node("b", "b", nil)))
		require.NoError(t, g.PutEdge(edge("e1", "a", "b", "knows")))

		require.NoError(t, g.DeleteNode("b"))

		edges, err := g.Edges("a", "", DirectionBoth)
		require.NoError(t, err)
		require.Empty(t, edges)
	})

	t.Run("edge endpoints must exist", func(t *testing.T) {
		t.Parallel()
		g := newStore(t)

		require.NoError(t, g.PutNode(node("a", "a", nil)))
		require.Error(t, g.PutEdge(edge("e1", "a", "ghost", "knows")))
	})

	t.Run("edges filter by label and direction", func(t *testing.T) {
		t.Parallel()
		g := newStore(t)

		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, g.PutNode(node(id, id, nil)))
		}
		require.NoError(t, g.PutEdge(edge("e1", "a", "b", "causes")))
		require.NoError(t, g.PutEdge(edge("e2", "a", "c", "precedes")))
		require.NoError(t, g.PutEdge(edge("e3", "c", "a", "causes")))

		out, err := g.Edges("a", "", DirectionOut)
		require.NoError(t, err)
		require.Len(t, out, 2)

		in, err := g.Edges("a", "causes", DirectionIn)
		require.NoError(t, err)
		require.Len(t, in, 1)
		require.Equal(t, "c", in[0].From)

		both, err := g.Edges("a", "causes", DirectionBoth)
		require.NoError(t, err)
		require.Len(t, both, 2)
	})

	t.Run("neighborhood respects depth", func(t *testing.T) {
		t.Parallel()
		g := newStore(t)

		// chain a -> b -> c -> d
		for _, id := range []string{"a", "b", "c", "d"} {
			require.NoError(t, g.PutNode(node(id, id, nil)))
		}
		require.NoError(t, g.PutEdge(edge("e1", "a", "b", "next")))
		require.NoError(t, g.PutEdge(edge("e2", "b", "c", "next")))
		require.NoError(t, g.PutEdge(edge("e3", "c", "d", "next")))

		hood, err := g.Neighborhood("a", 2)
		require.NoError(t, err)
		require.Equal(t, "a", hood.Root)
		require.Len(t, hood.Nodes, 3) // a, b, c
		require.Len(t, hood.Edges, 2)

		_, err = g.Neighborhood("ghost", 1)
		require.Error(t, err)
	})

	t.Run("search matches label and properties", func(t *testing.T) {
		t.Parallel()
		g := newStore(t)

		require.NoError(t, g.PutNode(node("n1", "database_timeout", nil)))
		require.NoError(t, g.PutNode(node("n2", "deploy_flow", types.Metadata{
			"notes": types.StringValue("timeout during rollout"),
		})))
		require.NoError(t, g.PutNode(node("n3", "lunch", nil)))

		hits, err := g.SearchNodes("timeout", 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		require.Equal(t, "n1", hits[0].ID)
		require.Equal(t, "n2", hits[1].ID)

		one, err := g.SearchNodes("timeout", 1)
		require.NoError(t, err)
		require.Len(t, one, 1)
	})

	t.Run("filter matches property equality", func(t *testing.T) {
		t.Parallel()
		g := newStore(t)

		require.NoError(t, g.PutNode(node("n1", "a", types.Metadata{"domain": types.StringValue("billing")})))
		require.NoError(t, g.PutNode(node("n2", "b", types.Metadata{"domain": types.StringValue("billing")})))
		require.NoError(t, g.PutNode(node("n3", "c", types.Metadata{"domain": types.StringValue("auth")})))

		hits, err := g.FilterNodes("domain", types.StringValue("billing"), 0)
		require.NoError(t, err)
		require.Len(t, hits, 2)
	})

	t.Run("node similarity over shared neighbors", func(t *testing.T) {
		t.Parallel()
		g := newStore(t)

		for _, id := range []string{"a", "b", "x", "y", "z"} {
			require.NoError(t, g.PutNode(node(id, id, nil)))
		}
		// a touches {x, y}, b touches {x, y, z}; direction is irrelevant
		require.NoError(t, g.PutEdge(edge("e1", "a", "x", "uses")))
		require.NoError(t, g.PutEdge(edge("e2", "y", "a", "uses")))
		require.NoError(t, g.PutEdge(edge("e3", "b", "x", "uses")))
		require.NoError(t, g.PutEdge(edge("e4", "b", "y", "uses")))
		require.NoError(t, g.PutEdge(edge("e5", "b", "z", "uses")))

		sim, err := g.NodeSimilarity("a", "b")
		require.NoError(t, err)
		require.InDelta(t, 2.0/3.0, sim, 1e-9)

		sim, err = g.NodeSimilarity("a", "z")
		require.NoError(t, err)
		require.Zero(t, sim, "z only touches b, which a does not")

		sim, err = g.NodeSimilarity("x", "ghost")
		require.NoError(t, err)
		require.Zero(t, sim, "unknown nodes have no neighbors")
	})

	t.Run("stats", func(t *testing.T) {
		t.Parallel()
		g := newStore(t)

		require.NoError(t, g.PutNode(node("a", "a", nil)))
		require.NoError(t, g.PutNode(node("b", "b", nil)))
		require.NoError(t, g.PutEdge(edge("e1", "a", "b", "knows")))
		require.NoError(t, g.PutEdge(edge("e2", "b", "a", "knows")))

		stats, err := g.Stats()
		require.NoError(t, err)
		require.Equal(t, 2, stats.NodeCount)
		require.Equal(t, 2, stats.EdgeCount)
		require.Equal(t, 2, stats.Labels["knows"])
	})
}

func TestInMemoryGraphStore(t *testing.T) {
	t.Parallel()
	runGraphStoreSuite(t, func(t *testing.T) GraphStore {
		return NewInMemoryGraphStore(zap.NewNop())
	})
}

func TestInMemoryGraphStore_StoresCopies(t *testing.T) {
	t.Parallel()

	g := NewInMemoryGraphStore(zap.NewNop())
	props := types.Metadata{"k": types.StringValue("v")}
	require.NoError(t, g.PutNode(&GraphNode{ID: "n1", Label: "l", Properties: props}))

	props["k"] = types.StringValue("mutated")
	got, _, err := g.GetNode("n1")
	require.NoError(t, err)
	require.Equal(t, "v", got.Properties.Text("k"))
}
