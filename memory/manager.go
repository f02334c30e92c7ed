package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mnemora/mnemora/internal/metrics"
	"github.com/mnemora/mnemora/types"
)

// PromotionPolicy tunes how the manager routes and promotes items across
// tiers.
type PromotionPolicy struct {
	// EpisodicAt: items scoring at or above this are also recorded as
	// episodes, not just working items.
	EpisodicAt float64

	// PromoteWhenFullRatio: working utilization at or above this triggers a
	// session consolidation into the episodic tier.
	PromoteWhenFullRatio float64

	// PromoteHotItems / PromoteHotImportance: a working item read this many
	// times with at least this importance is promoted to episodic.
	PromoteHotItems      int
	PromoteHotImportance float64

	// SimilarForConcept: automatic concept extraction needs this many
	// similar episodes around a new one.
	SimilarForConcept int

	// SimilarForManualPromote: explicit episodic→semantic promotion needs
	// this many similar episodes.
	SimilarForManualPromote int

	// DecayEvery runs a working-memory decay sweep every Nth ingestion.
	DecayEvery int

	// TierWeights scale recall scores per tier; ContextBoost multiplies
	// results matching the caller's project.
	WorkingWeight  float64
	EpisodicWeight float64
	SemanticWeight float64
	ContextBoost   float64
}

// DefaultPromotionPolicy returns the standard policy.
func DefaultPromotionPolicy() PromotionPolicy {
	return PromotionPolicy{
		EpisodicAt:              0.7,
		PromoteWhenFullRatio:    0.8,
		PromoteHotItems:         3,
		PromoteHotImportance:    0.6,
		SimilarForConcept:       3,
		SimilarForManualPromote: 2,
		DecayEvery:              10,
		WorkingWeight:           1.2,
		EpisodicWeight:          1.0,
		SemanticWeight:          0.8,
		ContextBoost:            1.5,
	}
}

// MemoryManager coordinates the three tiers: it routes incoming information,
// promotes items between tiers, fans recall out across them, and hooks
// stored items into the lifecycle tracker.
type MemoryManager struct {
	working  *WorkingMemory
	episodic *EpisodicMemory
	semantic *SemanticMemory

	// lifecycle is optional; nil disables aging.
	lifecycle *LifecycleManager

	policy PromotionPolicy

	mu          sync.Mutex
	ingestCount int

	metrics *metrics.Collector
	logger  *zap.Logger
}

// ManagerConfig wires the manager's dependencies.
type ManagerConfig struct {
	Working  *WorkingMemory
	Episodic *EpisodicMemory
	Semantic *SemanticMemory

	// Lifecycle is optional.
	Lifecycle *LifecycleManager

	// Policy defaults to DefaultPromotionPolicy when zero.
	Policy PromotionPolicy

	// Metrics is optional; nil records nothing.
	Metrics *metrics.Collector
}

// NewMemoryManager creates a manager over the given tiers.
func NewMemoryManager(cfg ManagerConfig, logger *zap.Logger) *MemoryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Policy == (PromotionPolicy{}) {
		cfg.Policy = DefaultPromotionPolicy()
	}
	return &MemoryManager{
		working:   cfg.Working,
		episodic:  cfg.Episodic,
		semantic:  cfg.Semantic,
		lifecycle: cfg.Lifecycle,
		policy:    cfg.Policy,
		metrics:   cfg.Metrics,
		logger:    logger.With(zap.String("component", "memory_manager")),
	}
}

// ProcessResult reports where one piece of information landed.
type ProcessResult struct {
	WorkingID  string  `json:"working_id,omitempty"`
	EpisodeID  string  `json:"episode_id,omitempty"`
	ConceptID  string  `json:"concept_id,omitempty"`
	Importance float64 `json:"importance"`
	Stored     bool    `json:"stored"`
}

// ProcessInformation scores the content once and routes it: through the
// trigger gate into working memory, additionally into the episodic tier
// when important enough, and onward into a concept when enough similar
// episodes accumulate. Concept extraction failures never fail ingestion.
func (m *MemoryManager) ProcessInformation(content string, trigger TriggerKind, metadata types.Metadata, projectID string) ProcessResult {
	result := ProcessResult{Importance: ScoreImportance(content, metadata)}

	if !TriggerFires(trigger, content, metadata) {
		m.metrics.RecordDrop("trigger")
		return result
	}

	if id, ok := m.working.Add(content, trigger, metadata, result.Importance); ok {
		result.WorkingID = id
		result.Stored = true
		m.track(id, types.TierWorking)
	}

	if result.Importance >= m.policy.EpisodicAt {
		episodeID := m.episodic.StoreEpisode(content, metadata, projectID, nil, nil)
		result.EpisodeID = episodeID
		result.Stored = true
		m.track(episodeID, types.TierEpisodic)

		if conceptID := m.maybeExtractConcept(episodeID); conceptID != "" {
			result.ConceptID = conceptID
		}
	}

	m.afterIngest()
	return result
}

// maybeExtractConcept looks for enough similar episodes around a new one to
// justify an abstraction. Any failure is logged and swallowed.
func (m *MemoryManager) maybeExtractConcept(episodeID string) string {
	similar := m.episodic.FindSimilarEpisodes(episodeID, m.policy.SimilarForConcept)
	if len(similar) < m.policy.SimilarForConcept-1 {
		return ""
	}
	episode, ok := m.episodic.Get(episodeID)
	if !ok {
		return ""
	}
	group := append([]*types.Episode{episode}, similar...)

	concept, ok := EpisodicToSemantic(group, MinConceptConfidence)
	if !ok {
		return ""
	}
	conceptID, err := m.semantic.AddConcept(concept)
	if err != nil {
		m.logger.Warn("concept extraction failed", zap.Error(err))
		return ""
	}
	m.track(conceptID, types.TierSemantic)
	m.metrics.RecordPromotion(string(types.TierEpisodic), string(types.TierSemantic))
	m.logger.Debug("concept extracted",
		zap.String("concept", conceptID),
		zap.Int("episodes", len(group)))
	return conceptID
}

// afterIngest applies periodic maintenance: pressure-triggered session
// consolidation and the decay cadence. Pressure means working memory is
// near capacity or holds enough items above the hot-importance bar.
func (m *MemoryManager) afterIngest() {
	stats := m.working.Stats()
	if stats.Utilization >= m.policy.PromoteWhenFullRatio ||
		m.working.CountAbove(m.policy.PromoteHotImportance) >= m.policy.PromoteHotItems {
		m.ConsolidateSession("")
	}

	m.mu.Lock()
	m.ingestCount++
	runDecay := m.policy.DecayEvery > 0 && m.ingestCount%m.policy.DecayEvery == 0
	m.mu.Unlock()
	if runDecay {
		m.working.Decay()
	}
}

// ConsolidateSession condenses the current working session into one episode
// and returns its ID, or "" when nothing is active.
func (m *MemoryManager) ConsolidateSession(projectID string) string {
	summary := m.working.Consolidate()
	draft := WorkingToEpisodic(summary, projectID)
	if draft == nil {
		return ""
	}

	context := draft.Context
	context["significance"] = types.StringValue(draft.Significance)
	episodeID := m.episodic.StoreEpisode(draft.Event, context, draft.ProjectID, draft.Participants, draft.Outcomes)
	m.track(episodeID, types.TierEpisodic)

	// the episode now owns the session; drop the consolidated items
	for _, ev := range summary.Events {
		m.working.Forget(ev.ID)
	}
	m.metrics.RecordPromotion(string(types.TierWorking), string(types.TierEpisodic))
	m.logger.Debug("session consolidated",
		zap.String("episode", episodeID),
		zap.Int("items", summary.ItemCount))
	return episodeID
}

// GetFromWorking reads a working item, promoting it to the episodic tier
// once it runs hot (frequently read and important enough).
func (m *MemoryManager) GetFromWorking(id string) (*types.MemoryItem, bool) {
	item, ok := m.working.Get(id)
	if !ok {
		return nil, false
	}
	m.access(id)

	if item.AccessCount >= m.policy.PromoteHotItems && item.Importance >= m.policy.PromoteHotImportance {
		episodeID := m.episodic.StoreEpisode(item.Content, item.Metadata, "", nil, nil)
		m.track(episodeID, types.TierEpisodic)
		m.metrics.RecordPromotion(string(types.TierWorking), string(types.TierEpisodic))
		m.working.Forget(id)
		m.logger.Debug("hot item promoted",
			zap.String("working", id),
			zap.String("episode", episodeID))
	}
	return item, true
}

// RecallResult is one scored hit from a cross-tier recall.
type RecallResult struct {
	Tier    types.Tier `json:"tier"`
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Score   float64    `json:"score"`

	// Confidence is set for semantic hits only; it is surfaced, never
	// folded into Score.
	Confidence float64 `json:"confidence,omitempty"`
}

// Recall is RecallWithContext without a project filter.
func (m *MemoryManager) Recall(ctx context.Context, query string, limit int) ([]RecallResult, error) {
	return m.RecallWithContext(ctx, query, "", limit)
}

// RecallWithContext fans the query out to all three tiers concurrently and
// merges the hits: score = importance × tier weight, multiplied by the
// context boost when the hit belongs to the caller's project. Results come
// back strongest first, capped at limit.
func (m *MemoryManager) RecallWithContext(ctx context.Context, query string, projectID string, limit int) ([]RecallResult, error) {
	if limit <= 0 {
		limit = 10
	}
	// over-fetch so a project filter still fills the limit
	fetch := limit * 2

	var (
		workingHits  []RecallResult
		episodicHits []RecallResult
		semanticHits []RecallResult
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, item := range m.working.Items() {
			if TokenSimilarity(query, item.Content) == 0 {
				continue
			}
			workingHits = append(workingHits, RecallResult{
				Tier:    types.TierWorking,
				ID:      item.ID,
				Content: item.Content,
				Score:   item.Importance * m.policy.WorkingWeight,
			})
		}
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, ep := range m.episodic.SearchEpisodes(query, fetch) {
			score := ep.Importance * m.policy.EpisodicWeight
			if projectID != "" && ep.ProjectID == projectID {
				score *= m.policy.ContextBoost
			}
			episodicHits = append(episodicHits, RecallResult{
				Tier:    types.TierEpisodic,
				ID:      ep.ID,
				Content: ep.Event,
				Score:   score,
			})
		}
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		concepts, err := m.semantic.SearchConcepts(query, fetch)
		if err != nil {
			return err
		}
		for _, c := range concepts {
			score := c.Importance * m.policy.SemanticWeight
			if projectID != "" && c.Domain == projectID {
				score *= m.policy.ContextBoost
			}
			semanticHits = append(semanticHits, RecallResult{
				Tier:       types.TierSemantic,
				ID:         c.ID,
				Content:    c.Name,
				Score:      score,
				Confidence: c.Confidence,
			})
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := append(append(workingHits, episodicHits...), semanticHits...)
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	m.metrics.RecordRecall()
	return merged, nil
}

// PromoteMemory explicitly moves a record between tiers and returns the new
// record's ID in the target tier.
func (m *MemoryManager) PromoteMemory(id string, from, to types.Tier) (string, error) {
	switch {
	case from == types.TierWorking && to == types.TierEpisodic:
		return m.promoteWorkingToEpisodic(id)
	case from == types.TierEpisodic && to == types.TierSemantic:
		return m.promoteEpisodicToSemantic(id)
	case from == types.TierSemantic && to == types.TierEpisodic:
		return m.promoteSemanticToEpisodic(id)
	case from == types.TierEpisodic && to == types.TierWorking:
		return m.promoteEpisodicToWorking(id)
	}
	return "", types.NewError(types.ErrInvalidTransition,
		fmt.Sprintf("no promotion path from %s to %s", from, to))
}

func (m *MemoryManager) promoteWorkingToEpisodic(id string) (string, error) {
	item, ok := m.working.Get(id)
	if !ok {
		return "", types.NewError(types.ErrStorage, "working item not found: "+id)
	}
	episodeID := m.episodic.StoreEpisode(item.Content, item.Metadata, "", nil, nil)
	m.track(episodeID, types.TierEpisodic)
	m.working.Forget(id)
	m.metrics.RecordPromotion(string(types.TierWorking), string(types.TierEpisodic))
	return episodeID, nil
}

func (m *MemoryManager) promoteEpisodicToSemantic(id string) (string, error) {
	episode, ok := m.episodic.Get(id)
	if !ok {
		return "", types.NewError(types.ErrStorage, "episode not found: "+id)
	}
	similar := m.episodic.FindSimilarEpisodes(id, m.policy.SimilarForConcept)
	if len(similar) < m.policy.SimilarForManualPromote {
		return "", types.NewError(types.ErrStorage,
			fmt.Sprintf("need %d similar episodes to abstract, found %d",
				m.policy.SimilarForManualPromote, len(similar)))
	}

	group := append([]*types.Episode{episode}, similar...)
	concept, ok := EpisodicToSemantic(group, MinConceptConfidence)
	if !ok {
		return "", types.NewError(types.ErrStorage, "episodes too dissimilar to abstract")
	}
	conceptID, err := m.semantic.AddConcept(concept)
	if err != nil {
		return "", err
	}
	m.track(conceptID, types.TierSemantic)
	m.metrics.RecordPromotion(string(types.TierEpisodic), string(types.TierSemantic))
	return conceptID, nil
}

func (m *MemoryManager) promoteSemanticToEpisodic(id string) (string, error) {
	concept, ok, err := m.semantic.GetConcept(id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", types.NewError(types.ErrStorage, "concept not found: "+id)
	}
	draft := SemanticToEpisodic(concept, concept.Domain)
	episodeID := m.episodic.StoreEpisode(draft.Event, draft.Context, draft.ProjectID, draft.Participants, draft.Outcomes)
	m.track(episodeID, types.TierEpisodic)
	m.metrics.RecordPromotion(string(types.TierSemantic), string(types.TierEpisodic))
	return episodeID, nil
}

func (m *MemoryManager) promoteEpisodicToWorking(id string) (string, error) {
	episode, ok := m.episodic.Get(id)
	if !ok {
		return "", types.NewError(types.ErrStorage, "episode not found: "+id)
	}

	firstID := ""
	for _, draft := range EpisodicToWorking(episode) {
		workingID, stored := m.working.Add(draft.Content, draft.Trigger, draft.Metadata, draft.Importance)
		if stored && firstID == "" {
			firstID = workingID
		}
	}
	if firstID == "" {
		return "", types.NewError(types.ErrStorage, "episode produced no working items")
	}
	m.metrics.RecordPromotion(string(types.TierEpisodic), string(types.TierWorking))
	return firstID, nil
}

// TimelineEntry is one record on the cross-tier timeline.
type TimelineEntry struct {
	Tier      types.Tier `json:"tier"`
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`

	// Episode is set for episodic entries.
	Episode *types.Episode `json:"episode,omitempty"`
}

// GetMemoryTimeline merges episodes and working items in the window, oldest
// first. Working items carry no project and are included regardless of the
// project filter.
func (m *MemoryManager) GetMemoryTimeline(start, end time.Time, projectID string) []TimelineEntry {
	entries := make([]TimelineEntry, 0)
	for _, ep := range m.episodic.QueryTimeline(start, end, projectID) {
		entries = append(entries, TimelineEntry{
			Tier:      types.TierEpisodic,
			ID:        ep.ID,
			Content:   ep.Event,
			Timestamp: ep.Timestamp,
			Episode:   ep,
		})
	}
	for _, item := range m.working.Items() {
		if item.Timestamp.Before(start) || item.Timestamp.After(end) {
			continue
		}
		entries = append(entries, TimelineEntry{
			Tier:      types.TierWorking,
			ID:        item.ID,
			Content:   item.Content,
			Timestamp: item.Timestamp,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// MemoryAnalysis is the cross-tier pattern report.
type MemoryAnalysis struct {
	EpisodePatterns []EpisodePattern `json:"episode_patterns,omitempty"`
	StrongConcepts  []*types.Concept `json:"strong_concepts,omitempty"`
	Working         WorkingStats     `json:"working"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

// AnalyzeMemoryPatterns inspects all tiers for recurring structure and
// derives maintenance recommendations.
func (m *MemoryManager) AnalyzeMemoryPatterns(projectID string) (*MemoryAnalysis, error) {
	analysis := &MemoryAnalysis{
		EpisodePatterns: m.episodic.AnalyzePatterns(projectID, 0),
		Working:         m.working.Stats(),
	}

	concepts, err := m.semantic.FindPatterns("", 0.7)
	if err != nil {
		return nil, err
	}
	analysis.StrongConcepts = concepts

	if analysis.Working.Utilization >= m.policy.PromoteWhenFullRatio {
		analysis.Recommendations = append(analysis.Recommendations,
			"working memory is near capacity; consolidate the session")
	}
	for _, p := range analysis.EpisodePatterns {
		if p.Type == "event" && p.Occurrences >= m.policy.SimilarForConcept {
			analysis.Recommendations = append(analysis.Recommendations,
				fmt.Sprintf("recurring event %q (%d times); consider abstracting a concept", p.Pattern, p.Occurrences))
		}
	}
	if len(concepts) == 0 && m.episodic.Size() >= m.policy.SimilarForConcept {
		analysis.Recommendations = append(analysis.Recommendations,
			"episodes accumulated but no strong concepts; review similarity thresholds")
	}
	return analysis, nil
}

// ManagerStats aggregates per-tier statistics.
type ManagerStats struct {
	Working   WorkingStats   `json:"working"`
	Episodes  int            `json:"episodes"`
	Semantic  SemanticStats  `json:"semantic"`
	Lifecycle LifecycleStats `json:"lifecycle"`
}

// Stats reports the shape of the whole subsystem.
func (m *MemoryManager) Stats() ManagerStats {
	stats := ManagerStats{
		Working:  m.working.Stats(),
		Episodes: m.episodic.Size(),
	}
	if semStats, err := m.semantic.Stats(); err == nil {
		stats.Semantic = semStats
	} else {
		m.logger.Warn("semantic stats failed", zap.Error(err))
	}
	if m.lifecycle != nil {
		stats.Lifecycle = m.lifecycle.GetLifecycleStats()
	}
	return stats
}

// RunLifecycle triggers one lifecycle sweep. A nil lifecycle manager makes
// this a no-op.
func (m *MemoryManager) RunLifecycle() TransitionCounts {
	if m.lifecycle == nil {
		return TransitionCounts{}
	}
	return m.lifecycle.ProcessLifecycle()
}

func (m *MemoryManager) track(id string, tier types.Tier) {
	if m.lifecycle == nil {
		return
	}
	if err := m.lifecycle.Track(id, tier); err != nil {
		m.logger.Warn("lifecycle tracking failed", zap.String("id", id), zap.Error(err))
	}
}

func (m *MemoryManager) access(id string) {
	if m.lifecycle == nil {
		return
	}
	if err := m.lifecycle.UpdateAccess(id); err != nil {
		m.logger.Warn("lifecycle access update failed", zap.String("id", id), zap.Error(err))
	}
}
