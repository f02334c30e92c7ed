package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemora/mnemora/types"
)

func newTestEpisodic(now *time.Time) *EpisodicMemory {
	return NewEpisodicMemory(EpisodicMemoryConfig{
		Now: func() time.Time { return *now },
	}, zap.NewNop())
}

func TestEpisodicMemory_StoreAndGet(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEpisodic(&now)

	id := e.StoreEpisode("deployment failed on staging",
		types.Metadata{"service": types.StringValue("api")},
		"proj-1", []string{"alice", "bob"},
		types.Metadata{"rolled_back": types.BoolValue(true)})

	ep, ok := e.Get(id)
	require.True(t, ok)
	require.Equal(t, "deployment failed on staging", ep.Event)
	require.Equal(t, "proj-1", ep.ProjectID)
	require.Equal(t, []string{"alice", "bob"}, ep.Participants)
	require.Equal(t, 1, ep.AccessCount)
	require.GreaterOrEqual(t, ep.Importance, 0.8, "failure wording scores high")

	// returned copy does not alias the stored episode
	ep.Context["service"] = types.StringValue("mutated")
	again, _ := e.Get(id)
	require.Equal(t, "api", again.Context.Text("service"))
}

func TestEpisodicMemory_QueryTimeline(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEpisodic(&now)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, e.StoreEpisode(fmt.Sprintf("event %d", i), nil, "proj-1", nil, nil))
		now = now.Add(time.Hour)
	}
	e.StoreEpisode("other project event", nil, "proj-2", nil, nil)

	start := time.Date(2026, 2, 1, 1, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)

	// both bounds are inclusive
	results := e.QueryTimeline(start, end, "")
	require.Len(t, results, 3)
	require.Equal(t, "event 1", results[0].Event)
	require.Equal(t, "event 3", results[2].Event)

	// project filter
	all := e.QueryTimeline(time.Time{}, now.Add(time.Hour), "proj-2")
	require.Len(t, all, 1)
	require.Equal(t, "other project event", all[0].Event)

	// empty window
	require.Empty(t, e.QueryTimeline(end.Add(48*time.Hour), end.Add(72*time.Hour), ""))

	_ = ids
}

func TestEpisodicMemory_OutOfOrderInsertKeepsTimelineSorted(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEpisodic(&now)

	e.StoreEpisode("middle", nil, "", nil, nil)
	now = now.Add(-time.Hour)
	e.StoreEpisode("earliest", nil, "", nil, nil)
	now = now.Add(3 * time.Hour)
	e.StoreEpisode("latest", nil, "", nil, nil)

	results := e.QueryTimeline(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), now, "")
	require.Len(t, results, 3)
	require.Equal(t, "earliest", results[0].Event)
	require.Equal(t, "middle", results[1].Event)
	require.Equal(t, "latest", results[2].Event)
}

func TestEpisodicMemory_LinkSymmetry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEpisodic(&now)

	a := e.StoreEpisode("incident started", nil, "", nil, nil)
	b := e.StoreEpisode("incident resolved", nil, "", nil, nil)

	require.True(t, e.LinkEpisodes(a, b, "resolved_by"))
	// idempotent
	require.True(t, e.LinkEpisodes(a, b, "resolved_by"))
	require.False(t, e.LinkEpisodes(a, "missing", "resolved_by"))

	forward := e.GetRelatedEpisodes(a, "resolved_by")
	require.Len(t, forward, 1)
	require.Equal(t, b, forward[0].ID)

	backward := e.GetRelatedEpisodes(b, "reverse_resolved_by")
	require.Len(t, backward, 1)
	require.Equal(t, a, backward[0].ID)

	// no-label union deduplicates
	require.True(t, e.LinkEpisodes(a, b, "follows"))
	union := e.GetRelatedEpisodes(a, "")
	require.Len(t, union, 1)
}

func TestEpisodicMemory_ForgetPrunesLinksAndIndices(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEpisodic(&now)

	a := e.StoreEpisode("first", nil, "proj-1", nil, nil)
	b := e.StoreEpisode("second", nil, "proj-1", nil, nil)
	e.LinkEpisodes(a, b, "precedes")

	require.True(t, e.ForgetEpisode(b))
	require.False(t, e.ForgetEpisode(b))

	require.Empty(t, e.GetRelatedEpisodes(a, "precedes"))
	require.Len(t, e.QueryTimeline(time.Time{}, now.Add(time.Hour), "proj-1"), 1)
	require.Equal(t, 1, e.Size())
}

func TestEpisodicMemory_GetProjectContext(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEpisodic(&now)

	a := e.StoreEpisode("kickoff", nil, "proj-1", []string{"alice"}, nil)
	now = now.Add(time.Hour)
	b := e.StoreEpisode("major decision made", nil, "proj-1",
		[]string{"bob", "alice"},
		types.Metadata{
			"outcome_a": types.StringValue("x"),
			"outcome_b": types.StringValue("y"),
		})
	e.LinkEpisodes(a, b, "led_to")

	ctx, ok := e.GetProjectContext("proj-1")
	require.True(t, ok)
	require.Equal(t, 2, ctx.EpisodeCount)
	require.Equal(t, 3600.0, ctx.DurationSeconds)
	require.Equal(t, []string{"alice", "bob"}, ctx.Participants)

	// b carries one link and two outcomes: 0.3 + 0.4 > 0.5
	require.Len(t, ctx.KeyEvents, 1)
	require.Equal(t, b, ctx.KeyEvents[0].ID)

	_, ok = e.GetProjectContext("unknown")
	require.False(t, ok)
}

func TestEpisodicMemory_FindSimilarEpisodes(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEpisodic(&now)

	target := e.StoreEpisode("database timeout during checkout", nil, "", nil, nil)
	close1 := e.StoreEpisode("database timeout during payment", nil, "", nil, nil)
	far := e.StoreEpisode("team lunch scheduled", nil, "", nil, nil)

	similar := e.FindSimilarEpisodes(target, 5)
	require.NotEmpty(t, similar)
	require.Equal(t, close1, similar[0].ID)
	for _, ep := range similar {
		require.NotEqual(t, target, ep.ID, "self excluded")
		require.NotEqual(t, far, ep.ID, "no shared tokens")
	}

	require.Nil(t, e.FindSimilarEpisodes("missing", 5))
}

func TestEpisodicMemory_AnalyzePatterns(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEpisodic(&now)

	for i := 1; i <= 5; i++ {
		e.StoreEpisode(fmt.Sprintf("Database timeout retry %d", i),
			types.Metadata{"service": types.StringValue("billing")}, "proj-1", nil, nil)
		now = now.Add(time.Minute)
	}
	e.StoreEpisode("unrelated one-off", nil, "proj-1", nil, nil)

	patterns := e.AnalyzePatterns("proj-1", 3)
	require.NotEmpty(t, patterns)

	var event *EpisodePattern
	for i := range patterns {
		if patterns[i].Type == "event" {
			event = &patterns[i]
			break
		}
	}
	require.NotNil(t, event)
	require.Equal(t, "database timeout retry #", event.Pattern)
	require.Equal(t, 5, event.Occurrences)
	require.Len(t, event.EpisodeIDs, 5)
	require.Equal(t, 240.0, event.TimespanSeconds)

	var context *EpisodePattern
	for i := range patterns {
		if patterns[i].Type == "context" {
			context = &patterns[i]
			break
		}
	}
	require.NotNil(t, context)
	require.Equal(t, "service=billing", context.Pattern)
	require.Equal(t, 5, context.Occurrences)
}

func TestEpisodicMemory_ExportImportRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEpisodic(&now)

	id := e.StoreEpisode("archived event",
		types.Metadata{"key": types.StringValue("value")},
		"proj-1", []string{"carol"},
		types.Metadata{"done": types.BoolValue(true)})
	other := e.StoreEpisode("companion", nil, "", nil, nil)
	e.LinkEpisodes(id, other, "related_to")

	item, ok := e.ExportItem(id)
	require.True(t, ok)
	require.Equal(t, "archived event", item.Content)

	require.True(t, e.RemoveItem(id))
	require.True(t, e.ImportItem(item))

	restored, ok := e.Get(id)
	require.True(t, ok)
	require.Equal(t, "archived event", restored.Event)
	require.Equal(t, "proj-1", restored.ProjectID)
	require.Equal(t, []string{"carol"}, restored.Participants)
	require.Equal(t, "value", restored.Context.Text("key"))
	require.True(t, restored.Outcomes.Flag("done"))
	require.Equal(t, []string{other}, restored.Related["related_to"])

	// duplicate import rejected
	require.False(t, e.ImportItem(item))
}
