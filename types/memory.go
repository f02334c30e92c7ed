// Package types provides the shared data model for the tiered memory system.
package types

import "time"

// Tier identifies which memory layer owns a record.
type Tier string

const (
	// TierWorking is the capacity-bounded, rapidly-decaying short-term store.
	TierWorking Tier = "working"

	// TierEpisodic is the durable, time- and project-indexed event log.
	TierEpisodic Tier = "episodic"

	// TierSemantic is the durable concept/knowledge-graph store.
	TierSemantic Tier = "semantic"
)

// MemoryItem is the base unit stored in any tier.
type MemoryItem struct {
	ID           string     `json:"id"`
	Content      string     `json:"content"`
	Timestamp    time.Time  `json:"timestamp"`
	Metadata     Metadata   `json:"metadata,omitempty"`
	AccessCount  int        `json:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	Importance   float64    `json:"importance"`
}

// Touch records a successful read: access count up, last-access refreshed.
func (m *MemoryItem) Touch(now time.Time) {
	m.AccessCount++
	t := now
	m.LastAccessed = &t
}

// Clone returns a deep copy of the item.
func (m *MemoryItem) Clone() *MemoryItem {
	copied := *m
	copied.Metadata = m.Metadata.Clone()
	if m.LastAccessed != nil {
		t := *m.LastAccessed
		copied.LastAccessed = &t
	}
	return &copied
}

// ClampUnit clamps a score into [0,1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Episode is a timestamped event with context, stored in the episodic tier.
type Episode struct {
	MemoryItem

	Event        string   `json:"event"`
	Context      Metadata `json:"context,omitempty"`
	ProjectID    string   `json:"project_id,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Outcomes     Metadata `json:"outcomes,omitempty"`

	// Related maps a relationship label to the episode IDs linked under it.
	// Links are symmetric in storage: A→B under label L implies B→A under
	// "reverse_L".
	Related map[string][]string `json:"related,omitempty"`
}

// Clone returns a deep copy of the episode.
func (e *Episode) Clone() *Episode {
	copied := *e
	copied.MemoryItem = *e.MemoryItem.Clone()
	copied.Context = e.Context.Clone()
	copied.Outcomes = e.Outcomes.Clone()
	copied.Participants = append([]string(nil), e.Participants...)
	if e.Related != nil {
		copied.Related = make(map[string][]string, len(e.Related))
		for label, ids := range e.Related {
			copied.Related[label] = append([]string(nil), ids...)
		}
	}
	return &copied
}

// RelatedCount returns the total number of relationship links on the episode.
func (e *Episode) RelatedCount() int {
	n := 0
	for _, ids := range e.Related {
		n += len(ids)
	}
	return n
}

// MaxConceptExamples bounds the source snippets kept on a concept.
const MaxConceptExamples = 5

// Concept is an abstraction extracted from repeated episodes, stored in the
// semantic tier. Confidence is the certainty of the concept and is distinct
// from the general-relevance Importance inherited from MemoryItem.
type Concept struct {
	MemoryItem

	Name       string   `json:"name"`
	Category   string   `json:"category"`
	Domain     string   `json:"domain,omitempty"`
	Attributes Metadata `json:"attributes,omitempty"`

	// Relationships maps a label to the IDs of related concepts.
	Relationships map[string][]string `json:"relationships,omitempty"`

	Confidence float64  `json:"confidence"`
	Examples   []string `json:"examples,omitempty"`
}

// Clone returns a deep copy of the concept.
func (c *Concept) Clone() *Concept {
	copied := *c
	copied.MemoryItem = *c.MemoryItem.Clone()
	copied.Attributes = c.Attributes.Clone()
	copied.Examples = append([]string(nil), c.Examples...)
	if c.Relationships != nil {
		copied.Relationships = make(map[string][]string, len(c.Relationships))
		for label, ids := range c.Relationships {
			copied.Relationships[label] = append([]string(nil), ids...)
		}
	}
	return &copied
}

// CapExamples trims the example list to the storage bound.
func (c *Concept) CapExamples() {
	if len(c.Examples) > MaxConceptExamples {
		c.Examples = c.Examples[:MaxConceptExamples]
	}
}

// LifecycleStage is one step in the aging state machine.
type LifecycleStage string

const (
	StageCreated    LifecycleStage = "created"
	StageActive     LifecycleStage = "active"
	StageArchived   LifecycleStage = "archived"
	StageCompressed LifecycleStage = "compressed"
	StageForgotten  LifecycleStage = "forgotten"
)

var stageOrder = map[LifecycleStage]int{
	StageCreated:    0,
	StageActive:     1,
	StageArchived:   2,
	StageCompressed: 3,
	StageForgotten:  4,
}

// After reports whether s comes strictly later than other in the lifecycle.
func (s LifecycleStage) After(other LifecycleStage) bool {
	return stageOrder[s] > stageOrder[other]
}

// CanTransition reports whether a forward move from s to target is legal.
// Stages only move forward; the single allowed skip is the archive shortcut
// for items that never reached ACTIVE. Restore is modeled separately.
func (s LifecycleStage) CanTransition(target LifecycleStage) bool {
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[target]
	if !ok {
		return false
	}
	if to == from+1 {
		return true
	}
	// created → archived shortcut for never-promoted items
	return s == StageCreated && target == StageArchived
}

// StageTransition is one entry in the ordered transition log.
type StageTransition struct {
	Stage LifecycleStage `json:"stage"`
	At    time.Time      `json:"at"`
}

// LifecycleMetadata is the side-table record the lifecycle manager keeps for
// each tracked item. It never owns item content.
type LifecycleMetadata struct {
	ID               string            `json:"id"`
	Tier             Tier              `json:"tier"`
	Stage            LifecycleStage    `json:"stage"`
	CreatedAt        time.Time         `json:"created_at"`
	LastAccessedAt   time.Time         `json:"last_accessed_at"`
	AccessCount      int               `json:"access_count"`
	StageTransitions []StageTransition `json:"stage_transitions,omitempty"`
	ArchivePath      string            `json:"archive_path,omitempty"`
	Compressed       bool              `json:"compressed"`
	CompressionRatio *float64          `json:"compression_ratio,omitempty"`
}

// TransitionTo advances the record to the target stage and appends the
// transition log entry. Returns false for illegal (backward/skipping) moves.
func (m *LifecycleMetadata) TransitionTo(target LifecycleStage, now time.Time) bool {
	if !m.Stage.CanTransition(target) {
		return false
	}
	m.Stage = target
	m.StageTransitions = append(m.StageTransitions, StageTransition{Stage: target, At: now})
	return true
}

// RestoreToActive moves an archived or compressed record back to ACTIVE.
// This is the one sanctioned backward move, used when an item is restored
// from its archive file into live tier storage.
func (m *LifecycleMetadata) RestoreToActive(now time.Time) {
	m.Stage = StageActive
	m.StageTransitions = append(m.StageTransitions, StageTransition{Stage: StageActive, At: now})
	m.ArchivePath = ""
	m.Compressed = false
	m.CompressionRatio = nil
}

// Clone returns a deep copy of the metadata record.
func (m *LifecycleMetadata) Clone() *LifecycleMetadata {
	copied := *m
	copied.StageTransitions = append([]StageTransition(nil), m.StageTransitions...)
	if m.CompressionRatio != nil {
		r := *m.CompressionRatio
		copied.CompressionRatio = &r
	}
	return &copied
}
