package memory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mnemora/mnemora/types"
)

// Transformers reshape records as they move between tiers. They are pure:
// the manager owns actually storing the results.

// EpisodeDraft is the episodic-tier input produced by a transformer.
type EpisodeDraft struct {
	Event        string
	Context      types.Metadata
	ProjectID    string
	Participants []string
	Outcomes     types.Metadata

	// Significance grades the draft: "high", "medium" or "low".
	Significance string
}

// WorkingDraft is the working-tier input produced by a transformer.
type WorkingDraft struct {
	Content    string
	Trigger    TriggerKind
	Metadata   types.Metadata
	Importance float64
}

// Minimum evidence before an abstraction is attempted.
const (
	MinEpisodesForConcept = 3
	MinConceptConfidence  = 0.6
)

// WorkingToEpisodic condenses a consolidated working-memory session into a
// single episode draft. Returns nil for an empty session.
func WorkingToEpisodic(summary *SessionSummary, projectID string) *EpisodeDraft {
	if summary == nil || summary.ItemCount == 0 {
		return nil
	}

	triggerCounts := make(map[TriggerKind]int)
	for _, ev := range summary.Events {
		triggerCounts[ev.Trigger]++
	}
	dominant := TriggerManual
	best := 0
	for kind, n := range triggerCounts {
		if n > best || (n == best && string(kind) < string(dominant)) {
			dominant = kind
			best = n
		}
	}

	event := fmt.Sprintf("Session of %d items over %.0fs dominated by %s activity",
		summary.ItemCount, summary.DurationSeconds, dominant)
	if summary.Summary.ErrorCount > 0 {
		event += fmt.Sprintf(" with %d errors", summary.Summary.ErrorCount)
	}

	var errorOutcomes, decisionOutcomes []types.Value
	for _, ev := range summary.Events {
		switch ev.Trigger {
		case TriggerError:
			errorOutcomes = append(errorOutcomes, types.StringValue(ev.Content))
		case TriggerDecision:
			decisionOutcomes = append(decisionOutcomes, types.StringValue(ev.Content))
		}
	}
	outcomes := types.Metadata{}
	if len(errorOutcomes) > 0 {
		outcomes["errors"] = types.ListValue(errorOutcomes...)
	}
	if len(decisionOutcomes) > 0 {
		outcomes["decisions"] = types.ListValue(decisionOutcomes...)
	}

	significance := "low"
	switch {
	case summary.Summary.AvgImportance > 0.7:
		significance = "high"
	case summary.Summary.AvgImportance > 0.4:
		significance = "medium"
	}

	return &EpisodeDraft{
		Event: event,
		Context: types.Metadata{
			"session_start":    types.StringValue(summary.StartTime.Format("2006-01-02T15:04:05Z07:00")),
			"item_count":       types.IntValue(int64(summary.ItemCount)),
			"avg_importance":   types.FloatValue(summary.Summary.AvgImportance),
			"dominant_trigger": types.StringValue(string(dominant)),
		},
		ProjectID:    projectID,
		Outcomes:     outcomes,
		Significance: significance,
	}
}

// EpisodicToSemantic abstracts a concept out of recurring episodes. It
// requires at least MinEpisodesForConcept episodes whose pairwise event
// similarity, scaled by sample size, clears minConfidence. Returns false
// when the evidence is too thin.
func EpisodicToSemantic(episodes []*types.Episode, minConfidence float64) (*types.Concept, bool) {
	if len(episodes) < MinEpisodesForConcept {
		return nil, false
	}
	if minConfidence <= 0 {
		minConfidence = MinConceptConfidence
	}

	// average pairwise similarity over event text
	totalSim := 0.0
	pairs := 0
	for i := 0; i < len(episodes); i++ {
		for j := i + 1; j < len(episodes); j++ {
			totalSim += TokenSimilarity(episodes[i].Event, episodes[j].Event)
			pairs++
		}
	}
	avgSim := totalSim / float64(pairs)

	// small samples need stronger agreement to clear the bar
	sizeScale := 0.5 + float64(len(episodes))/10.0
	if sizeScale > 1.0 {
		sizeScale = 1.0
	}
	confidence := types.ClampUnit(avgSim * sizeScale)
	if confidence < minConfidence {
		return nil, false
	}

	combined := make([]string, 0, len(episodes))
	for _, ep := range episodes {
		combined = append(combined, ep.Event)
	}
	allText := strings.Join(combined, " ")
	category := categorizeEvents(allText)
	keywords := ExtractKeywords(allText, 3)
	name := category
	if len(keywords) > 0 {
		name = category + "_" + strings.Join(keywords, "_")
	}

	contexts := make([]types.Metadata, 0, len(episodes))
	for _, ep := range episodes {
		if len(ep.Context) > 0 {
			contexts = append(contexts, ep.Context)
		}
	}
	var attrs types.Metadata
	if extracted, ok := ExtractConceptFromExamples(name, category, contexts); ok {
		attrs = extracted.Attributes
	}

	concept := &types.Concept{
		MemoryItem: types.MemoryItem{
			Content:    fmt.Sprintf("Pattern abstracted from %d similar episodes", len(episodes)),
			Importance: confidence,
		},
		Name:       name,
		Category:   category,
		Domain:     sharedDomain(episodes),
		Attributes: attrs,
		Confidence: confidence,
		Examples:   combined,
	}
	concept.CapExamples()
	return concept, true
}

func categorizeEvents(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, errorKeywords):
		return "error"
	case strings.Contains(lower, "success") || strings.Contains(lower, "completed"):
		return "success"
	case containsAny(lower, decisionKeywords):
		return "decision"
	case strings.Contains(lower, "process") || strings.Contains(lower, "workflow"):
		return "process"
	}
	return "general"
}

// sharedDomain picks a domain every episode agrees on: a common project ID
// first, then a common participant.
func sharedDomain(episodes []*types.Episode) string {
	project := episodes[0].ProjectID
	for _, ep := range episodes[1:] {
		if ep.ProjectID != project {
			project = ""
			break
		}
	}
	if project != "" {
		return project
	}

	candidates := make(map[string]int)
	for _, p := range episodes[0].Participants {
		candidates[p] = 1
	}
	for _, ep := range episodes[1:] {
		for _, p := range ep.Participants {
			if candidates[p] > 0 {
				candidates[p]++
			}
		}
	}
	shared := ""
	for p, n := range candidates {
		if n == len(episodes) && (shared == "" || p < shared) {
			shared = p
		}
	}
	return shared
}

// SemanticToEpisodic instantiates a concept as a concrete episode draft,
// used when abstract knowledge is applied in a live situation.
func SemanticToEpisodic(concept *types.Concept, projectID string) *EpisodeDraft {
	if concept == nil {
		return nil
	}

	context := concept.Attributes.Clone()
	if context == nil {
		context = types.Metadata{}
	}
	context["concept_id"] = types.StringValue(concept.ID)
	context["category"] = types.StringValue(concept.Category)

	return &EpisodeDraft{
		Event:     fmt.Sprintf("Applying concept '%s' in practice", concept.Name),
		Context:   context,
		ProjectID: projectID,
		Outcomes: types.Metadata{
			"concept_applied": types.StringValue(concept.Name),
			"confidence":      types.FloatValue(concept.Confidence),
		},
		Significance: "medium",
	}
}

// Context keys that carry the salient details of an episode.
var highlightContextKeys = []string{"key_events", "critical_decisions", "important_outcomes"}

// EpisodicToWorking condenses an episode into at most three working-memory
// drafts for active recall: the main event, one draft of highlighted context
// entries and one draft of outcomes.
func EpisodicToWorking(ep *types.Episode) []WorkingDraft {
	if ep == nil {
		return nil
	}

	drafts := []WorkingDraft{{
		Content:    ep.Event,
		Trigger:    TriggerManual,
		Metadata:   types.Metadata{"source_episode": types.StringValue(ep.ID)},
		Importance: 0.7,
	}}

	var highlights []string
	for _, key := range highlightContextKeys {
		if value, ok := ep.Context[key]; ok {
			highlights = append(highlights, key+": "+value.Text())
		}
	}
	if len(highlights) > 0 {
		drafts = append(drafts, WorkingDraft{
			Content:    strings.Join(highlights, "; "),
			Trigger:    TriggerManual,
			Metadata:   types.Metadata{"source_episode": types.StringValue(ep.ID), "kind": types.StringValue("context")},
			Importance: 0.6,
		})
	}

	if len(ep.Outcomes) > 0 {
		keys := make([]string, 0, len(ep.Outcomes))
		for key := range ep.Outcomes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			parts = append(parts, key+": "+ep.Outcomes[key].Text())
		}
		drafts = append(drafts, WorkingDraft{
			Content:    "Outcomes " + strings.Join(parts, "; "),
			Trigger:    TriggerManual,
			Metadata:   types.Metadata{"source_episode": types.StringValue(ep.ID), "kind": types.StringValue("outcomes")},
			Importance: 0.8,
		})
	}
	return drafts
}
