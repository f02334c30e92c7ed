package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mnemora/mnemora/types"
)

func TestWorkingToEpisodic(t *testing.T) {
	t.Parallel()

	require.Nil(t, WorkingToEpisodic(nil, ""))

	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	summary := &SessionSummary{
		StartTime:       start,
		EndTime:         start.Add(2 * time.Minute),
		DurationSeconds: 120,
		ItemCount:       3,
		Events: []SessionEvent{
			{Content: "payment API returned 500", Trigger: TriggerError, Timestamp: start, Importance: 0.8},
			{Content: "second failure in a row", Trigger: TriggerError, Timestamp: start.Add(time.Minute), Importance: 0.8},
			{Content: "decided to fail over", Trigger: TriggerDecision, Timestamp: start.Add(2 * time.Minute), Importance: 0.7},
		},
		Summary: SessionDigest{ErrorCount: 2, DecisionCount: 1, AvgImportance: 0.7666},
	}

	draft := WorkingToEpisodic(summary, "proj-1")
	require.NotNil(t, draft)
	require.Contains(t, draft.Event, "3 items")
	require.Contains(t, draft.Event, "error activity")
	require.Contains(t, draft.Event, "2 errors")
	require.Equal(t, "proj-1", draft.ProjectID)
	require.Equal(t, "high", draft.Significance)

	errs, ok := draft.Outcomes["errors"].AsList()
	require.True(t, ok)
	require.Len(t, errs, 2)
	decisions, ok := draft.Outcomes["decisions"].AsList()
	require.True(t, ok)
	require.Len(t, decisions, 1)
	require.Equal(t, "error", draft.Context.Text("dominant_trigger"))
}

func TestEpisodicToSemantic(t *testing.T) {
	t.Parallel()

	mkEpisode := func(event, project string) *types.Episode {
		return &types.Episode{
			MemoryItem: types.MemoryItem{ID: event},
			Event:      event,
			ProjectID:  project,
			Context:    types.Metadata{"service": types.StringValue("billing")},
		}
	}

	// too few episodes
	_, ok := EpisodicToSemantic([]*types.Episode{
		mkEpisode("a", ""), mkEpisode("b", ""),
	}, 0.6)
	require.False(t, ok)

	// dissimilar episodes never clear the bar
	_, ok = EpisodicToSemantic([]*types.Episode{
		mkEpisode("database timeout on checkout", ""),
		mkEpisode("team lunch scheduled for friday", ""),
		mkEpisode("new logo approved by marketing", ""),
	}, 0.6)
	require.False(t, ok)

	// five near-identical error events abstract cleanly
	group := make([]*types.Episode, 0, 5)
	for i := 0; i < 5; i++ {
		group = append(group, mkEpisode("database timeout while charging card", "proj-1"))
	}
	concept, ok := EpisodicToSemantic(group, 0.6)
	require.True(t, ok)
	require.Equal(t, "error", concept.Category)
	require.Contains(t, concept.Name, "error_")
	require.Equal(t, "proj-1", concept.Domain, "shared project becomes the domain")
	require.InDelta(t, 1.0, concept.Confidence, 1e-9)
	require.Len(t, concept.Examples, types.MaxConceptExamples)
	require.Equal(t, "billing", concept.Attributes.Text("service"))
}

func TestEpisodicToSemantic_SmallSampleNeedsStrongerAgreement(t *testing.T) {
	t.Parallel()

	mk := func(event string) *types.Episode {
		return &types.Episode{MemoryItem: types.MemoryItem{ID: event}, Event: event}
	}

	// three moderately similar events: avg sim ~0.6, scale 0.8 → below 0.6
	_, ok := EpisodicToSemantic([]*types.Episode{
		mk("cache miss storm on profile service"),
		mk("cache miss storm on search service"),
		mk("cache miss storm on billing service"),
	}, 0.6)
	require.False(t, ok)

	// three identical events: avg sim 1.0, scale 0.8 → 0.8 clears it
	concept, ok := EpisodicToSemantic([]*types.Episode{
		mk("cache miss storm on search"),
		mk("cache miss storm on search"),
		mk("cache miss storm on search"),
	}, 0.6)
	require.True(t, ok)
	require.InDelta(t, 0.8, concept.Confidence, 1e-9)
}

func TestEpisodicToSemantic_SharedParticipantDomain(t *testing.T) {
	t.Parallel()

	group := make([]*types.Episode, 0, 5)
	for i := 0; i < 5; i++ {
		group = append(group, &types.Episode{
			MemoryItem:   types.MemoryItem{ID: fmt.Sprintf("e%d", i)},
			Event:        "nightly batch job failed",
			ProjectID:    fmt.Sprintf("proj-%d", i),
			Participants: []string{"ops-bot", fmt.Sprintf("dev-%d", i)},
		})
	}
	concept, ok := EpisodicToSemantic(group, 0.6)
	require.True(t, ok)
	require.Equal(t, "ops-bot", concept.Domain, "no shared project, one shared participant")
}

func TestSemanticToEpisodic(t *testing.T) {
	t.Parallel()

	require.Nil(t, SemanticToEpisodic(nil, ""))

	concept := &types.Concept{
		MemoryItem: types.MemoryItem{ID: "c1"},
		Name:       "retry_backoff",
		Category:   "error",
		Attributes: types.Metadata{"max_retries": types.IntValue(3)},
		Confidence: 0.85,
	}
	draft := SemanticToEpisodic(concept, "proj-1")
	require.Equal(t, "Applying concept 'retry_backoff' in practice", draft.Event)
	require.Equal(t, "proj-1", draft.ProjectID)
	require.Equal(t, "c1", draft.Context.Text("concept_id"))
	require.Equal(t, "retry_backoff", draft.Outcomes.Text("concept_applied"))
	conf, _ := draft.Outcomes["confidence"].AsFloat()
	require.Equal(t, 0.85, conf)
}

func TestEpisodicToWorking(t *testing.T) {
	t.Parallel()

	require.Nil(t, EpisodicToWorking(nil))

	ep := &types.Episode{
		MemoryItem: types.MemoryItem{ID: "e1"},
		Event:      "deployment rolled back",
		Context: types.Metadata{
			"critical_decisions": types.StringValue("revert to 1.4.1"),
			"key_events":         types.StringValue("healthcheck flapped"),
			"version":            types.StringValue("plain entries are not promoted"),
		},
		Outcomes: types.Metadata{
			"status":   types.StringValue("reverted"),
			"downtime": types.StringValue("4m"),
		},
	}

	drafts := EpisodicToWorking(ep)
	require.Len(t, drafts, 3)

	require.Equal(t, "deployment rolled back", drafts[0].Content)
	require.Equal(t, 0.7, drafts[0].Importance)
	require.Equal(t, "e1", drafts[0].Metadata.Text("source_episode"))

	require.Equal(t, "key_events: healthcheck flapped; critical_decisions: revert to 1.4.1", drafts[1].Content)
	require.Equal(t, 0.6, drafts[1].Importance)
	require.Equal(t, "context", drafts[1].Metadata.Text("kind"))
	require.NotContains(t, drafts[1].Content, "version")

	require.Equal(t, "Outcomes downtime: 4m; status: reverted", drafts[2].Content)
	require.Equal(t, 0.8, drafts[2].Importance)
	require.Equal(t, "outcomes", drafts[2].Metadata.Text("kind"))

	// an episode with nothing to highlight yields just the event
	bare := EpisodicToWorking(&types.Episode{
		MemoryItem: types.MemoryItem{ID: "e2"},
		Event:      "routine sync completed",
		Context:    types.Metadata{"region": types.StringValue("eu-west")},
	})
	require.Len(t, bare, 1)
}
