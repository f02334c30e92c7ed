package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemora/mnemora/internal/metrics"
	"github.com/mnemora/mnemora/types"
)

// Reserved metadata keys used to round-trip episode fields through the
// generic archive record.
const (
	episodeMetaProject      = "_project_id"
	episodeMetaParticipants = "_participants"
	episodeMetaOutcomes     = "_outcomes"
	episodeMetaRelated      = "_related"
)

type timeIndexEntry struct {
	ts time.Time
	id string
}

// EpisodicMemoryConfig configures the episodic tier.
type EpisodicMemoryConfig struct {
	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time

	// Metrics is optional; nil records nothing.
	Metrics *metrics.Collector
}

// EpisodicMemory is a durable, queryable event history with project and
// relationship indexing. The global time index is kept sorted on insert so
// timeline queries run in O(log n + k).
type EpisodicMemory struct {
	mu       sync.RWMutex
	episodes map[string]*types.Episode

	// timeIndex is sorted by timestamp; insertion finds the position with a
	// binary search rather than re-sorting.
	timeIndex []timeIndexEntry

	// projectIndex keeps episode IDs per project in insertion order.
	projectIndex map[string][]string

	now     func() time.Time
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewEpisodicMemory creates an episodic memory store.
func NewEpisodicMemory(cfg EpisodicMemoryConfig, logger *zap.Logger) *EpisodicMemory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &EpisodicMemory{
		episodes:     make(map[string]*types.Episode),
		projectIndex: make(map[string][]string),
		now:          cfg.Now,
		metrics:      cfg.Metrics,
		logger:       logger.With(zap.String("memory", "episodic")),
	}
}

// StoreEpisode records a new episode and returns its ID.
func (e *EpisodicMemory) StoreEpisode(event string, context types.Metadata, projectID string, participants []string, outcomes types.Metadata) string {
	ep := &types.Episode{
		MemoryItem: types.MemoryItem{
			ID:         uuid.NewString(),
			Content:    event,
			Timestamp:  e.now(),
			Importance: ScoreImportance(event, context),
		},
		Event:        event,
		Context:      context.Clone(),
		ProjectID:    projectID,
		Participants: append([]string(nil), participants...),
		Outcomes:     outcomes.Clone(),
	}

	e.mu.Lock()
	e.insertLocked(ep)
	e.mu.Unlock()

	e.metrics.RecordStore(string(types.TierEpisodic))
	e.logger.Debug("episode stored",
		zap.String("id", ep.ID),
		zap.String("project_id", projectID))
	return ep.ID
}

// insertLocked stores the episode and maintains both indices.
func (e *EpisodicMemory) insertLocked(ep *types.Episode) {
	e.episodes[ep.ID] = ep

	// sorted-position insert, stable for equal timestamps
	pos := sort.Search(len(e.timeIndex), func(i int) bool {
		return e.timeIndex[i].ts.After(ep.Timestamp)
	})
	e.timeIndex = append(e.timeIndex, timeIndexEntry{})
	copy(e.timeIndex[pos+1:], e.timeIndex[pos:])
	e.timeIndex[pos] = timeIndexEntry{ts: ep.Timestamp, id: ep.ID}

	if ep.ProjectID != "" {
		e.projectIndex[ep.ProjectID] = append(e.projectIndex[ep.ProjectID], ep.ID)
	}
}

// Get returns a copy of the episode and records the access.
func (e *EpisodicMemory) Get(id string) (*types.Episode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ep, ok := e.episodes[id]
	if !ok {
		return nil, false
	}
	ep.Touch(e.now())
	return ep.Clone(), true
}

// ForgetEpisode removes the episode and all index entries. Relationship
// links held by other episodes that point at the removed ID are pruned.
func (e *EpisodicMemory) ForgetEpisode(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ep, ok := e.episodes[id]
	if !ok {
		return false
	}

	delete(e.episodes, id)
	e.removeFromTimeIndexLocked(ep.Timestamp, id)
	if ep.ProjectID != "" {
		e.projectIndex[ep.ProjectID] = removeString(e.projectIndex[ep.ProjectID], id)
		if len(e.projectIndex[ep.ProjectID]) == 0 {
			delete(e.projectIndex, ep.ProjectID)
		}
	}
	for _, other := range e.episodes {
		for label, ids := range other.Related {
			other.Related[label] = removeString(ids, id)
			if len(other.Related[label]) == 0 {
				delete(other.Related, label)
			}
		}
	}
	return true
}

func (e *EpisodicMemory) removeFromTimeIndexLocked(ts time.Time, id string) {
	pos := sort.Search(len(e.timeIndex), func(i int) bool {
		return !e.timeIndex[i].ts.Before(ts)
	})
	for i := pos; i < len(e.timeIndex) && !e.timeIndex[i].ts.After(ts); i++ {
		if e.timeIndex[i].id == id {
			e.timeIndex = append(e.timeIndex[:i], e.timeIndex[i+1:]...)
			return
		}
	}
}

func removeString(list []string, target string) []string {
	for i, s := range list {
		if s == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// QueryTimeline returns episodes with start ≤ timestamp ≤ end in
// chronological order, optionally filtered by project. Runs in O(log n + k).
func (e *EpisodicMemory) QueryTimeline(start, end time.Time, projectID string) []*types.Episode {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pos := sort.Search(len(e.timeIndex), func(i int) bool {
		return !e.timeIndex[i].ts.Before(start)
	})

	results := make([]*types.Episode, 0)
	for i := pos; i < len(e.timeIndex); i++ {
		if e.timeIndex[i].ts.After(end) {
			break
		}
		ep, ok := e.episodes[e.timeIndex[i].id]
		if !ok {
			continue
		}
		if projectID != "" && ep.ProjectID != projectID {
			continue
		}
		results = append(results, ep.Clone())
	}
	return results
}

// ProjectContext summarizes a project's episode history.
type ProjectContext struct {
	ProjectID       string           `json:"project_id"`
	EpisodeCount    int              `json:"episode_count"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         time.Time        `json:"end_time"`
	DurationSeconds float64          `json:"duration_seconds"`
	Timeline        []*types.Episode `json:"timeline"`
	Participants    []string         `json:"participants"`
	KeyEvents       []*types.Episode `json:"key_events"`
}

// GetProjectContext builds a summary of the project's episodes. Key events
// are those whose relationship/outcome density proxy exceeds 0.5, top 10.
func (e *EpisodicMemory) GetProjectContext(projectID string) (*ProjectContext, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids, ok := e.projectIndex[projectID]
	if !ok || len(ids) == 0 {
		return nil, false
	}

	timeline := make([]*types.Episode, 0, len(ids))
	for _, id := range ids {
		if ep, found := e.episodes[id]; found {
			timeline = append(timeline, ep.Clone())
		}
	}
	sort.Slice(timeline, func(i, j int) bool {
		return timeline[i].Timestamp.Before(timeline[j].Timestamp)
	})

	ctx := &ProjectContext{
		ProjectID:    projectID,
		EpisodeCount: len(timeline),
		StartTime:    timeline[0].Timestamp,
		EndTime:      timeline[len(timeline)-1].Timestamp,
		Timeline:     timeline,
	}
	ctx.DurationSeconds = ctx.EndTime.Sub(ctx.StartTime).Seconds()

	seen := make(map[string]struct{})
	for _, ep := range timeline {
		for _, p := range ep.Participants {
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				ctx.Participants = append(ctx.Participants, p)
			}
		}
	}
	sort.Strings(ctx.Participants)

	type scoredEpisode struct {
		ep    *types.Episode
		score float64
	}
	scored := make([]scoredEpisode, 0, len(timeline))
	for _, ep := range timeline {
		score := 0.3*float64(ep.RelatedCount()) + 0.2*float64(len(ep.Outcomes))
		if score > 0.5 {
			scored = append(scored, scoredEpisode{ep: ep, score: score})
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > 10 {
		scored = scored[:10]
	}
	for _, s := range scored {
		ctx.KeyEvents = append(ctx.KeyEvents, s.ep)
	}

	return ctx, true
}

// LinkEpisodes records a symmetric relationship: label on id1→id2 and
// "reverse_"+label on id2→id1. Idempotent; returns false when either
// episode is absent.
func (e *EpisodicMemory) LinkEpisodes(id1, id2, label string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ep1, ok1 := e.episodes[id1]
	ep2, ok2 := e.episodes[id2]
	if !ok1 || !ok2 {
		return false
	}

	addRelated(ep1, label, id2)
	addRelated(ep2, "reverse_"+label, id1)
	return true
}

func addRelated(ep *types.Episode, label, targetID string) {
	if ep.Related == nil {
		ep.Related = make(map[string][]string)
	}
	for _, existing := range ep.Related[label] {
		if existing == targetID {
			return
		}
	}
	ep.Related[label] = append(ep.Related[label], targetID)
}

// GetRelatedEpisodes returns episodes linked to id. With a label, only that
// relationship's targets; without, the deduplicated union of all labels.
func (e *EpisodicMemory) GetRelatedEpisodes(id, label string) []*types.Episode {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ep, ok := e.episodes[id]
	if !ok {
		return nil
	}

	var targetIDs []string
	if label != "" {
		targetIDs = ep.Related[label]
	} else {
		seen := make(map[string]struct{})
		for _, ids := range ep.Related {
			for _, target := range ids {
				if _, dup := seen[target]; !dup {
					seen[target] = struct{}{}
					targetIDs = append(targetIDs, target)
				}
			}
		}
	}

	results := make([]*types.Episode, 0, len(targetIDs))
	for _, target := range targetIDs {
		if related, found := e.episodes[target]; found {
			results = append(results, related.Clone())
		}
	}
	return results
}

// FindSimilarEpisodes returns up to limit episodes ranked by token-overlap
// similarity of their event text against the source episode.
func (e *EpisodicMemory) FindSimilarEpisodes(id string, limit int) []*types.Episode {
	e.mu.RLock()
	defer e.mu.RUnlock()

	source, ok := e.episodes[id]
	if !ok {
		return nil
	}
	return e.rankBySimilarityLocked(source.Event, limit, id)
}

// SearchEpisodes returns up to limit episodes ranked by similarity of their
// event text to the query.
func (e *EpisodicMemory) SearchEpisodes(query string, limit int) []*types.Episode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rankBySimilarityLocked(query, limit, "")
}

func (e *EpisodicMemory) rankBySimilarityLocked(text string, limit int, excludeID string) []*types.Episode {
	type scoredEpisode struct {
		ep    *types.Episode
		score float64
	}
	scored := make([]scoredEpisode, 0)
	for id, ep := range e.episodes {
		if id == excludeID {
			continue
		}
		score := TokenSimilarity(text, ep.Event)
		if score > 0 {
			scored = append(scored, scoredEpisode{ep: ep, score: score})
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].ep.ID < scored[j].ep.ID
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}

	results := make([]*types.Episode, 0, len(scored))
	for _, s := range scored {
		results = append(results, s.ep.Clone())
	}
	return results
}

// EpisodePattern is one recurring structure found by AnalyzePatterns.
type EpisodePattern struct {
	Type            string   `json:"type"` // "event" or "context"
	Pattern         string   `json:"pattern"`
	Occurrences     int      `json:"occurrences"`
	EpisodeIDs      []string `json:"episode_ids"`
	TimespanSeconds float64  `json:"timespan_seconds,omitempty"`
}

// AnalyzePatterns groups episodes by normalized event signature and by
// (context key, value) pairs, emitting a record for each group meeting
// minOccurrences, sorted by occurrence count descending.
func (e *EpisodicMemory) AnalyzePatterns(projectID string, minOccurrences int) []EpisodePattern {
	if minOccurrences <= 0 {
		minOccurrences = 3
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	eventGroups := make(map[string][]*types.Episode)
	contextGroups := make(map[string][]*types.Episode)
	for _, ep := range e.episodes {
		if projectID != "" && ep.ProjectID != projectID {
			continue
		}
		sig := normalizeEventSignature(ep.Event)
		eventGroups[sig] = append(eventGroups[sig], ep)
		for key, value := range ep.Context {
			pair := fmt.Sprintf("%s=%s", key, value.Text())
			contextGroups[pair] = append(contextGroups[pair], ep)
		}
	}

	patterns := make([]EpisodePattern, 0)
	for sig, group := range eventGroups {
		if len(group) < minOccurrences {
			continue
		}
		p := EpisodePattern{Type: "event", Pattern: sig, Occurrences: len(group)}
		first, last := group[0].Timestamp, group[0].Timestamp
		for _, ep := range group {
			p.EpisodeIDs = append(p.EpisodeIDs, ep.ID)
			if ep.Timestamp.Before(first) {
				first = ep.Timestamp
			}
			if ep.Timestamp.After(last) {
				last = ep.Timestamp
			}
		}
		sort.Strings(p.EpisodeIDs)
		p.TimespanSeconds = last.Sub(first).Seconds()
		patterns = append(patterns, p)
	}
	for pair, group := range contextGroups {
		if len(group) < minOccurrences {
			continue
		}
		p := EpisodePattern{Type: "context", Pattern: pair, Occurrences: len(group)}
		for _, ep := range group {
			p.EpisodeIDs = append(p.EpisodeIDs, ep.ID)
		}
		sort.Strings(p.EpisodeIDs)
		patterns = append(patterns, p)
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Occurrences != patterns[j].Occurrences {
			return patterns[i].Occurrences > patterns[j].Occurrences
		}
		return patterns[i].Pattern < patterns[j].Pattern
	})
	return patterns
}

// normalizeEventSignature lower-cases the event, collapses digit runs into a
// single placeholder, and strips punctuation, so "retry 3" and "retry 12"
// share a signature.
func normalizeEventSignature(event string) string {
	var sb strings.Builder
	inDigits := false
	for _, r := range strings.ToLower(event) {
		switch {
		case unicode.IsDigit(r):
			if !inDigits {
				sb.WriteByte('#')
				inDigits = true
			}
		case unicode.IsLetter(r) || unicode.IsSpace(r):
			sb.WriteRune(r)
			inDigits = false
		default:
			inDigits = false
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// Size returns the number of stored episodes.
func (e *EpisodicMemory) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.episodes)
}

// TierName implements TierStore.
func (e *EpisodicMemory) TierName() types.Tier { return types.TierEpisodic }

// ExportItem reads the episode as a generic memory item for archival. The
// read counts as an access. Episode-specific fields travel in reserved
// metadata keys so ImportItem can reconstruct them.
func (e *EpisodicMemory) ExportItem(id string) (*types.MemoryItem, bool) {
	ep, ok := e.Get(id)
	if !ok {
		return nil, false
	}

	md := ep.Context.Clone()
	if md == nil {
		md = types.Metadata{}
	}
	if ep.ProjectID != "" {
		md[episodeMetaProject] = types.StringValue(ep.ProjectID)
	}
	if len(ep.Participants) > 0 {
		values := make([]types.Value, len(ep.Participants))
		for i, p := range ep.Participants {
			values[i] = types.StringValue(p)
		}
		md[episodeMetaParticipants] = types.ListValue(values...)
	}
	if len(ep.Outcomes) > 0 {
		md[episodeMetaOutcomes] = types.MapValue(ep.Outcomes)
	}
	if len(ep.Related) > 0 {
		related := make(map[string]types.Value, len(ep.Related))
		for label, ids := range ep.Related {
			values := make([]types.Value, len(ids))
			for i, rid := range ids {
				values[i] = types.StringValue(rid)
			}
			related[label] = types.ListValue(values...)
		}
		md[episodeMetaRelated] = types.MapValue(related)
	}

	item := ep.MemoryItem
	item.Content = ep.Event
	item.Metadata = md
	return &item, true
}

// RemoveItem implements TierStore.
func (e *EpisodicMemory) RemoveItem(id string) bool {
	return e.ForgetEpisode(id)
}

// ImportItem re-inserts a restored episode, rebuilding episode fields from
// the reserved metadata keys.
func (e *EpisodicMemory) ImportItem(item *types.MemoryItem) bool {
	if item == nil || item.ID == "" {
		return false
	}

	md := item.Metadata.Clone()
	ep := &types.Episode{
		MemoryItem: *item.Clone(),
		Event:      item.Content,
	}

	if v, ok := md[episodeMetaProject]; ok {
		ep.ProjectID, _ = v.AsString()
		delete(md, episodeMetaProject)
	}
	if v, ok := md[episodeMetaParticipants]; ok {
		if list, isList := v.AsList(); isList {
			for _, entry := range list {
				if s, isStr := entry.AsString(); isStr {
					ep.Participants = append(ep.Participants, s)
				}
			}
		}
		delete(md, episodeMetaParticipants)
	}
	if v, ok := md[episodeMetaOutcomes]; ok {
		if m, isMap := v.AsMap(); isMap {
			ep.Outcomes = types.Metadata(m).Clone()
		}
		delete(md, episodeMetaOutcomes)
	}
	if v, ok := md[episodeMetaRelated]; ok {
		if m, isMap := v.AsMap(); isMap {
			ep.Related = make(map[string][]string, len(m))
			for label, idsValue := range m {
				if list, isList := idsValue.AsList(); isList {
					for _, entry := range list {
						if s, isStr := entry.AsString(); isStr {
							ep.Related[label] = append(ep.Related[label], s)
						}
					}
				}
			}
		}
		delete(md, episodeMetaRelated)
	}
	ep.Context = md
	ep.Metadata = md

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.episodes[ep.ID]; exists {
		return false
	}
	e.insertLocked(ep)
	return true
}
