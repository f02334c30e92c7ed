package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemora/mnemora/internal/metrics"
	"github.com/mnemora/mnemora/types"
)

// Node property keys under which concept fields are persisted.
const (
	conceptPropName         = "name"
	conceptPropCategory     = "category"
	conceptPropDomain       = "domain"
	conceptPropContent      = "content"
	conceptPropConfidence   = "confidence"
	conceptPropImportance   = "importance"
	conceptPropAttributes   = "attributes"
	conceptPropExamples     = "examples"
	conceptPropAccessCount  = "access_count"
	conceptPropLastAccessed = "last_accessed"
	conceptPropTimestamp    = "timestamp"
)

// SemanticMemoryConfig configures the semantic tier.
type SemanticMemoryConfig struct {
	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time

	// Metrics is optional; nil records nothing.
	Metrics *metrics.Collector
}

// SemanticMemory stores concepts and their relationships on a pluggable
// GraphStore. Concepts become nodes; relationship labels become directed
// edges. The tier's own mutex serializes multi-step mutations such as merge
// so no reader observes a half-redirected graph.
type SemanticMemory struct {
	mu    sync.Mutex
	store GraphStore

	now     func() time.Time
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewSemanticMemory creates a semantic tier over the given graph store.
func NewSemanticMemory(store GraphStore, cfg SemanticMemoryConfig, logger *zap.Logger) *SemanticMemory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SemanticMemory{
		store:   store,
		now:     cfg.Now,
		metrics: cfg.Metrics,
		logger:  logger.With(zap.String("memory", "semantic")),
	}
}

func conceptToNode(c *types.Concept) *GraphNode {
	props := types.Metadata{
		conceptPropName:        types.StringValue(c.Name),
		conceptPropCategory:    types.StringValue(c.Category),
		conceptPropContent:     types.StringValue(c.Content),
		conceptPropConfidence:  types.FloatValue(c.Confidence),
		conceptPropImportance:  types.FloatValue(c.Importance),
		conceptPropAccessCount: types.IntValue(int64(c.AccessCount)),
		conceptPropTimestamp:   types.StringValue(c.Timestamp.Format(time.RFC3339Nano)),
	}
	if c.Domain != "" {
		props[conceptPropDomain] = types.StringValue(c.Domain)
	}
	if len(c.Attributes) > 0 {
		props[conceptPropAttributes] = types.MapValue(c.Attributes)
	}
	if len(c.Examples) > 0 {
		values := make([]types.Value, len(c.Examples))
		for i, ex := range c.Examples {
			values[i] = types.StringValue(ex)
		}
		props[conceptPropExamples] = types.ListValue(values...)
	}
	if c.LastAccessed != nil {
		props[conceptPropLastAccessed] = types.StringValue(c.LastAccessed.Format(time.RFC3339Nano))
	}
	return &GraphNode{
		ID:         c.ID,
		Label:      c.Name,
		Properties: props,
		CreatedAt:  c.Timestamp,
		UpdatedAt:  c.Timestamp,
	}
}

func nodeToConcept(node *GraphNode) *types.Concept {
	c := &types.Concept{
		MemoryItem: types.MemoryItem{ID: node.ID, Timestamp: node.CreatedAt},
		Name:       node.Label,
	}
	props := node.Properties
	if v, ok := props[conceptPropName].AsString(); ok {
		c.Name = v
	}
	c.Category = props.Text(conceptPropCategory)
	c.Domain = props.Text(conceptPropDomain)
	c.Content = props.Text(conceptPropContent)
	if f, ok := props[conceptPropConfidence].AsFloat(); ok {
		c.Confidence = f
	}
	if f, ok := props[conceptPropImportance].AsFloat(); ok {
		c.Importance = f
	}
	if i, ok := props[conceptPropAccessCount].AsInt(); ok {
		c.AccessCount = int(i)
	}
	if ts, err := time.Parse(time.RFC3339Nano, props.Text(conceptPropTimestamp)); err == nil {
		c.Timestamp = ts
	}
	if raw := props.Text(conceptPropLastAccessed); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			c.LastAccessed = &ts
		}
	}
	if m, ok := props[conceptPropAttributes].AsMap(); ok {
		c.Attributes = types.Metadata(m).Clone()
	}
	if list, ok := props[conceptPropExamples].AsList(); ok {
		for _, v := range list {
			if s, isStr := v.AsString(); isStr {
				c.Examples = append(c.Examples, s)
			}
		}
	}
	return c
}

func relationshipEdgeID(from, label, to string) string {
	return from + "|" + label + "|" + to
}

// AddConcept stores the concept and its relationship edges, returning its
// ID. Confidence is clamped to [0,1] and examples are capped. Relationship
// targets that do not exist yet are skipped with a debug log.
func (s *SemanticMemory) AddConcept(concept *types.Concept) (string, error) {
	if concept == nil {
		return "", types.NewError(types.ErrStorage, "concept is nil")
	}

	c := concept.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = s.now()
	}
	c.Confidence = types.ClampUnit(c.Confidence)
	c.Importance = types.ClampUnit(c.Importance)
	c.CapExamples()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.PutNode(conceptToNode(c)); err != nil {
		return "", err
	}
	for label, targets := range c.Relationships {
		for _, target := range targets {
			if err := s.putRelationshipLocked(c.ID, label, target); err != nil {
				s.logger.Debug("relationship target skipped",
					zap.String("concept", c.ID),
					zap.String("label", label),
					zap.String("target", target),
					zap.Error(err))
			}
		}
	}

	s.metrics.RecordStore(string(types.TierSemantic))
	s.logger.Debug("concept stored",
		zap.String("id", c.ID),
		zap.String("name", c.Name),
		zap.Float64("confidence", c.Confidence))
	return c.ID, nil
}

func (s *SemanticMemory) putRelationshipLocked(from, label, to string) error {
	return s.store.PutEdge(&GraphEdge{
		ID:        relationshipEdgeID(from, label, to),
		From:      from,
		To:        to,
		Label:     label,
		CreatedAt: s.now(),
	})
}

// GetConcept returns the concept with its relationships loaded, recording
// the access.
func (s *SemanticMemory) GetConcept(id string) (*types.Concept, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getConceptLocked(id, true)
}

func (s *SemanticMemory) getConceptLocked(id string, touch bool) (*types.Concept, bool, error) {
	node, ok, err := s.store.GetNode(id)
	if err != nil || !ok {
		return nil, false, err
	}

	c := nodeToConcept(node)
	if touch {
		c.Touch(s.now())
		if err := s.store.PutNode(conceptToNode(c)); err != nil {
			return nil, false, err
		}
	}

	edges, err := s.store.Edges(id, "", DirectionOut)
	if err != nil {
		return nil, false, err
	}
	for _, edge := range edges {
		if c.Relationships == nil {
			c.Relationships = make(map[string][]string)
		}
		c.Relationships[edge.Label] = append(c.Relationships[edge.Label], edge.To)
	}
	return c, true, nil
}

// ForgetConcept removes the concept and every edge touching it.
func (s *SemanticMemory) ForgetConcept(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.store.GetNode(id)
	if err != nil || !ok {
		return false, err
	}
	if err := s.store.DeleteNode(id); err != nil {
		return false, err
	}
	return true, nil
}

// SearchConcepts returns up to limit concepts matching the free-text query.
func (s *SemanticMemory) SearchConcepts(query string, limit int) ([]*types.Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, err := s.store.SearchNodes(query, limit)
	if err != nil {
		return nil, err
	}
	concepts := make([]*types.Concept, len(nodes))
	for i := range nodes {
		concepts[i] = nodeToConcept(&nodes[i])
	}
	return concepts, nil
}

// FindPatterns returns concepts in the domain with confidence at or above
// minConfidence, strongest first. An empty domain matches everything.
func (s *SemanticMemory) FindPatterns(domain string, minConfidence float64) ([]*types.Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var nodes []GraphNode
	var err error
	if domain != "" {
		nodes, err = s.store.FilterNodes(conceptPropDomain, types.StringValue(domain), 0)
	} else {
		nodes, err = s.store.SearchNodes("", 0)
	}
	if err != nil {
		return nil, err
	}

	concepts := make([]*types.Concept, 0, len(nodes))
	for i := range nodes {
		c := nodeToConcept(&nodes[i])
		if c.Confidence >= minConfidence {
			concepts = append(concepts, c)
		}
	}
	sort.Slice(concepts, func(i, j int) bool {
		if concepts[i].Confidence != concepts[j].Confidence {
			return concepts[i].Confidence > concepts[j].Confidence
		}
		return concepts[i].ID < concepts[j].ID
	})
	return concepts, nil
}

// GetKnowledgeGraph returns the subgraph within depth hops of the concept.
func (s *SemanticMemory) GetKnowledgeGraph(rootID string, depth int) (*Neighborhood, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Neighborhood(rootID, depth)
}

// UpdateConceptConfidence adjusts the concept's confidence by delta, with
// the result clamped to [0,1]. Returns false when the concept is absent.
func (s *SemanticMemory) UpdateConceptConfidence(id string, delta float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok, err := s.store.GetNode(id)
	if err != nil || !ok {
		return false, err
	}
	current, _ := node.Properties[conceptPropConfidence].AsFloat()
	node.Properties[conceptPropConfidence] = types.FloatValue(types.ClampUnit(current + delta))
	node.UpdatedAt = s.now()
	if err := s.store.PutNode(node); err != nil {
		return false, err
	}
	return true, nil
}

// MergeConcepts folds two concepts into a new one and redirects every edge
// from the sources to it: names concatenate, attributes union with
// conflicting values kept as a list, relationships union, confidence takes
// the max, examples concatenate up to the cap. Both sources are deleted.
// Returns the merged concept's ID.
func (s *SemanticMemory) MergeConcepts(id1, id2 string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c1, ok1, err := s.getConceptLocked(id1, false)
	if err != nil {
		return "", err
	}
	c2, ok2, err := s.getConceptLocked(id2, false)
	if err != nil {
		return "", err
	}
	if !ok1 || !ok2 {
		return "", types.NewError(types.ErrStorage, "merge source concept not found")
	}

	merged := &types.Concept{
		MemoryItem: types.MemoryItem{
			ID:         uuid.NewString(),
			Content:    c1.Content,
			Timestamp:  s.now(),
			Importance: math.Max(c1.Importance, c2.Importance),
		},
		Name:       c1.Name + "+" + c2.Name,
		Category:   c1.Category,
		Domain:     c1.Domain,
		Confidence: math.Max(c1.Confidence, c2.Confidence),
		Attributes: mergeAttributes(c1.Attributes, c2.Attributes),
		Examples:   append(append([]string(nil), c1.Examples...), c2.Examples...),
	}
	if merged.Domain == "" {
		merged.Domain = c2.Domain
	}
	merged.CapExamples()

	if err := s.store.PutNode(conceptToNode(merged)); err != nil {
		return "", err
	}

	// union of outgoing relationships, dropping self-references
	for _, src := range []*types.Concept{c1, c2} {
		for label, targets := range src.Relationships {
			for _, target := range targets {
				if target == id1 || target == id2 {
					continue
				}
				if err := s.putRelationshipLocked(merged.ID, label, target); err != nil {
					s.logger.Debug("merged relationship skipped", zap.String("target", target), zap.Error(err))
				}
			}
		}
	}

	// redirect inbound edges from other concepts
	for _, sourceID := range []string{id1, id2} {
		inbound, err := s.store.Edges(sourceID, "", DirectionIn)
		if err != nil {
			return "", err
		}
		for _, edge := range inbound {
			if edge.From == id1 || edge.From == id2 {
				continue
			}
			if err := s.putRelationshipLocked(edge.From, edge.Label, merged.ID); err != nil {
				return "", err
			}
		}
	}

	if err := s.store.DeleteNode(id1); err != nil {
		return "", err
	}
	if err := s.store.DeleteNode(id2); err != nil {
		return "", err
	}

	s.logger.Debug("concepts merged",
		zap.String("from1", id1),
		zap.String("from2", id2),
		zap.String("into", merged.ID))
	return merged.ID, nil
}

func mergeAttributes(a, b types.Metadata) types.Metadata {
	out := a.Clone()
	if out == nil {
		out = types.Metadata{}
	}
	for key, value := range b {
		existing, ok := out[key]
		if !ok {
			out[key] = value
			continue
		}
		if existing.Equal(value) {
			continue
		}
		// conflicting values are kept side by side
		out[key] = types.ListValue(existing, value)
	}
	return out
}

// ExtractConceptFromExamples abstracts shared structure out of at least
// three example attribute sets. An attribute survives when present in 70%
// of the examples; consistent values are kept as-is, divergent ones become
// a "varies" marker listing up to three samples. Returns false when there
// are too few examples or nothing survives the threshold.
func ExtractConceptFromExamples(name, category string, examples []types.Metadata) (*types.Concept, bool) {
	if len(examples) < 3 {
		return nil, false
	}

	counts := make(map[string]int)
	valuesByKey := make(map[string][]types.Value)
	for _, example := range examples {
		for key, value := range example {
			counts[key]++
			valuesByKey[key] = append(valuesByKey[key], value)
		}
	}

	threshold := int(math.Ceil(0.7 * float64(len(examples))))
	attrs := types.Metadata{}
	coverage := 0.0
	for key, n := range counts {
		if n < threshold {
			continue
		}
		attrs[key] = summarizeValues(valuesByKey[key])
		coverage += float64(n) / float64(len(examples))
	}
	if len(attrs) == 0 {
		return nil, false
	}

	return &types.Concept{
		MemoryItem: types.MemoryItem{
			Content:    fmt.Sprintf("Generalization of %d observed examples", len(examples)),
			Importance: 0.6,
		},
		Name:       name,
		Category:   category,
		Attributes: attrs,
		Confidence: types.ClampUnit(coverage / float64(len(attrs))),
	}, true
}

func summarizeValues(values []types.Value) types.Value {
	allEqual := true
	for _, v := range values[1:] {
		if !v.Equal(values[0]) {
			allEqual = false
			break
		}
	}
	if allEqual {
		return values[0]
	}

	distinct := make([]string, 0, 3)
	seen := make(map[string]struct{})
	for _, v := range values {
		text := v.Text()
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		distinct = append(distinct, text)
		if len(distinct) == 3 {
			break
		}
	}
	return types.StringValue("varies: " + strings.Join(distinct, ", "))
}

// CalculateConceptSimilarity scores two concepts in [0,1]: 0.3 for matching
// category, 0.2 for matching domain, 0.3 weighted by attribute agreement,
// 0.2 by relationship-label overlap.
func CalculateConceptSimilarity(a, b *types.Concept) float64 {
	score := 0.0
	if a.Category != "" && a.Category == b.Category {
		score += 0.3
	}
	if a.Domain != "" && a.Domain == b.Domain {
		score += 0.2
	}

	if len(a.Attributes) > 0 || len(b.Attributes) > 0 {
		matching := 0
		union := len(b.Attributes)
		for key, value := range a.Attributes {
			other, ok := b.Attributes[key]
			if !ok {
				union++
				continue
			}
			if value.Equal(other) {
				matching++
			}
		}
		if union > 0 {
			score += 0.3 * float64(matching) / float64(union)
		}
	}

	if len(a.Relationships) > 0 || len(b.Relationships) > 0 {
		common := 0
		union := len(b.Relationships)
		for label := range a.Relationships {
			if _, ok := b.Relationships[label]; ok {
				common++
			} else {
				union++
			}
		}
		if union > 0 {
			score += 0.2 * float64(common) / float64(union)
		}
	}

	return types.ClampUnit(score)
}

// ScoredConcept pairs a concept with its similarity to a reference concept.
type ScoredConcept struct {
	Concept *types.Concept
	Score   float64
}

// FindSimilarConcepts ranks every other concept against the reference one,
// blending field similarity with how many graph neighbors the two share.
// Results are sorted best-first, capped at limit when positive.
func (s *SemanticMemory) FindSimilarConcepts(id string, limit int) ([]ScoredConcept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok, err := s.getConceptLocked(id, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.NewError(types.ErrStorage, "concept not found: "+id)
	}

	nodes, err := s.store.SearchNodes("", 0)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredConcept, 0, len(nodes))
	for i := range nodes {
		if nodes[i].ID == id {
			continue
		}
		other, found, err := s.getConceptLocked(nodes[i].ID, false)
		if err != nil || !found {
			continue
		}
		structural, err := s.store.NodeSimilarity(id, other.ID)
		if err != nil {
			return nil, err
		}
		score := 0.7*CalculateConceptSimilarity(ref, other) + 0.3*structural
		if score == 0 {
			continue
		}
		results = append(results, ScoredConcept{Concept: other, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Concept.ID < results[j].Concept.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SemanticStats reports the tier's current shape.
type SemanticStats struct {
	ConceptCount      int            `json:"concept_count"`
	RelationshipCount int            `json:"relationship_count"`
	Labels            map[string]int `json:"labels,omitempty"`
	AvgConfidence     float64        `json:"avg_confidence"`
}

// Stats returns current semantic-tier statistics.
func (s *SemanticMemory) Stats() (SemanticStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	graphStats, err := s.store.Stats()
	if err != nil {
		return SemanticStats{}, err
	}
	stats := SemanticStats{
		ConceptCount:      graphStats.NodeCount,
		RelationshipCount: graphStats.EdgeCount,
		Labels:            graphStats.Labels,
	}

	nodes, err := s.store.SearchNodes("", 0)
	if err != nil {
		return stats, err
	}
	if len(nodes) > 0 {
		total := 0.0
		for i := range nodes {
			if f, ok := nodes[i].Properties[conceptPropConfidence].AsFloat(); ok {
				total += f
			}
		}
		stats.AvgConfidence = total / float64(len(nodes))
	}
	return stats, nil
}

// TierName implements TierStore.
func (s *SemanticMemory) TierName() types.Tier { return types.TierSemantic }

// Reserved metadata keys for round-tripping concept fields through archives.
const (
	conceptMetaName          = "_name"
	conceptMetaCategory      = "_category"
	conceptMetaDomain        = "_domain"
	conceptMetaAttributes    = "_attributes"
	conceptMetaConfidence    = "_confidence"
	conceptMetaExamples      = "_examples"
	conceptMetaRelationships = "_relationships"
)

// ExportItem reads the concept as a generic memory item for archival. The
// read counts as an access.
func (s *SemanticMemory) ExportItem(id string) (*types.MemoryItem, bool) {
	c, ok, err := s.GetConcept(id)
	if err != nil {
		s.logger.Warn("concept export failed", zap.String("id", id), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	md := types.Metadata{
		conceptMetaName:       types.StringValue(c.Name),
		conceptMetaCategory:   types.StringValue(c.Category),
		conceptMetaConfidence: types.FloatValue(c.Confidence),
	}
	if c.Domain != "" {
		md[conceptMetaDomain] = types.StringValue(c.Domain)
	}
	if len(c.Attributes) > 0 {
		md[conceptMetaAttributes] = types.MapValue(c.Attributes)
	}
	if len(c.Examples) > 0 {
		values := make([]types.Value, len(c.Examples))
		for i, ex := range c.Examples {
			values[i] = types.StringValue(ex)
		}
		md[conceptMetaExamples] = types.ListValue(values...)
	}
	if len(c.Relationships) > 0 {
		rels := make(map[string]types.Value, len(c.Relationships))
		for label, ids := range c.Relationships {
			values := make([]types.Value, len(ids))
			for i, rid := range ids {
				values[i] = types.StringValue(rid)
			}
			rels[label] = types.ListValue(values...)
		}
		md[conceptMetaRelationships] = types.MapValue(rels)
	}

	item := c.MemoryItem
	item.Metadata = md
	return &item, true
}

// RemoveItem implements TierStore.
func (s *SemanticMemory) RemoveItem(id string) bool {
	ok, err := s.ForgetConcept(id)
	if err != nil {
		s.logger.Warn("concept removal failed", zap.String("id", id), zap.Error(err))
		return false
	}
	return ok
}

// ImportItem re-inserts a restored concept, rebuilding concept fields from
// the reserved metadata keys.
func (s *SemanticMemory) ImportItem(item *types.MemoryItem) bool {
	if item == nil || item.ID == "" {
		return false
	}

	md := item.Metadata
	c := &types.Concept{MemoryItem: *item.Clone()}
	c.Metadata = nil
	c.Name, _ = md[conceptMetaName].AsString()
	c.Category = md.Text(conceptMetaCategory)
	c.Domain = md.Text(conceptMetaDomain)
	if f, ok := md[conceptMetaConfidence].AsFloat(); ok {
		c.Confidence = f
	}
	if m, ok := md[conceptMetaAttributes].AsMap(); ok {
		c.Attributes = types.Metadata(m).Clone()
	}
	if list, ok := md[conceptMetaExamples].AsList(); ok {
		for _, v := range list {
			if ex, isStr := v.AsString(); isStr {
				c.Examples = append(c.Examples, ex)
			}
		}
	}
	if m, ok := md[conceptMetaRelationships].AsMap(); ok {
		c.Relationships = make(map[string][]string, len(m))
		for label, idsValue := range m {
			if list, isList := idsValue.AsList(); isList {
				for _, v := range list {
					if rid, isStr := v.AsString(); isStr {
						c.Relationships[label] = append(c.Relationships[label], rid)
					}
				}
			}
		}
	}

	if _, err := s.AddConcept(c); err != nil {
		s.logger.Warn("concept import failed", zap.String("id", c.ID), zap.Error(err))
		return false
	}
	return true
}
