package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemora/mnemora/config"
	"github.com/mnemora/mnemora/internal/metrics"
	"github.com/mnemora/mnemora/types"
)

// WorkingMemoryConfig configures the working-memory tier.
type WorkingMemoryConfig struct {
	// Capacity is the logical item cap. Values below config.MinCapacity are
	// silently clamped. 0 means the default of 7.
	Capacity int

	// MinImportance drops new items scored below it. Default 0.3.
	MinImportance float64

	// DecayThreshold is the age past which rarely-read items decay.
	// Default 30 minutes.
	DecayThreshold time.Duration

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time

	// Metrics is optional; nil records nothing.
	Metrics *metrics.Collector
}

// WorkingMemory is a bounded, short-lived buffer of recent, trigger-filtered
// signals. Admission is gated by a trigger predicate and an importance floor;
// capacity pressure is resolved by greedy single-item eviction.
type WorkingMemory struct {
	mu        sync.Mutex
	items     map[string]*types.MemoryItem
	attention map[string]float64

	// active tracks the most-recently-touched item IDs in touch order,
	// oldest first. It feeds Consolidate.
	active []string

	capacity       int
	minImportance  float64
	decayThreshold time.Duration
	now            func() time.Time
	metrics        *metrics.Collector
	logger         *zap.Logger
}

// NewWorkingMemory creates a working-memory tier.
func NewWorkingMemory(cfg WorkingMemoryConfig, logger *zap.Logger) *WorkingMemory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = config.DefaultWorkingConfig().Capacity
	}
	if cfg.Capacity < config.MinCapacity {
		cfg.Capacity = config.MinCapacity
	}
	if cfg.MinImportance == 0 {
		cfg.MinImportance = config.DefaultWorkingConfig().MinImportance
	}
	if cfg.DecayThreshold == 0 {
		cfg.DecayThreshold = config.DefaultWorkingConfig().DecayThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &WorkingMemory{
		items:          make(map[string]*types.MemoryItem),
		attention:      make(map[string]float64),
		capacity:       cfg.Capacity,
		minImportance:  cfg.MinImportance,
		decayThreshold: cfg.DecayThreshold,
		now:            cfg.Now,
		metrics:        cfg.Metrics,
		logger:         logger.With(zap.String("memory", "working")),
	}
}

// Capacity returns the logical item cap.
func (w *WorkingMemory) Capacity() int { return w.capacity }

// AddWithTrigger gates content through the named trigger, scores its
// importance, and stores it. Returns ("", false) when the trigger does not
// fire or the importance falls below the floor.
func (w *WorkingMemory) AddWithTrigger(content string, kind TriggerKind, metadata types.Metadata) (string, bool) {
	if !TriggerFires(kind, content, metadata) {
		w.metrics.RecordDrop("trigger")
		return "", false
	}
	return w.Add(content, kind, metadata, ScoreImportance(content, metadata))
}

// Add stores content with a pre-computed importance, bypassing only the
// importance scoring — the trigger gate and floor still apply to callers
// that compute importance once for multiple tiers.
func (w *WorkingMemory) Add(content string, kind TriggerKind, metadata types.Metadata, importance float64) (string, bool) {
	importance = types.ClampUnit(importance)
	if importance < w.minImportance {
		w.metrics.RecordDrop("low_importance")
		return "", false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.items) >= w.capacity {
		w.evictOneLocked()
	}

	md := metadata.Clone()
	if md == nil {
		md = types.Metadata{}
	}
	md["trigger"] = types.StringValue(string(kind))

	id := uuid.NewString()
	now := w.now()
	w.items[id] = &types.MemoryItem{
		ID:         id,
		Content:    content,
		Timestamp:  now,
		Metadata:   md,
		Importance: importance,
	}
	// attention starts seeded from importance but evolves independently
	w.attention[id] = importance
	w.touchActiveLocked(id)

	w.metrics.RecordStore(string(types.TierWorking))
	w.logger.Debug("working item stored",
		zap.String("id", id),
		zap.String("trigger", string(kind)),
		zap.Float64("importance", importance))
	return id, true
}

// evictOneLocked removes the single lowest-scoring item, scored by
// importance × (1 + accessCount) / (1 + ageHours). Greedy and lazy: invoked
// once before each insert, so an old but important item can outlive an
// unimportant new one.
func (w *WorkingMemory) evictOneLocked() {
	if len(w.items) == 0 {
		return
	}

	now := w.now()
	var victimID string
	victimScore := 0.0
	first := true
	for id, item := range w.items {
		ageHours := now.Sub(item.Timestamp).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		score := item.Importance * float64(1+item.AccessCount) / (1 + ageHours)
		if first || score < victimScore {
			victimID = id
			victimScore = score
			first = false
		}
	}

	w.removeLocked(victimID)
	w.metrics.RecordEviction()
	w.logger.Debug("working item evicted", zap.String("id", victimID), zap.Float64("score", victimScore))
}

// Get returns a copy of the item and records the access.
func (w *WorkingMemory) Get(id string) (*types.MemoryItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	item, ok := w.items[id]
	if !ok {
		return nil, false
	}
	item.Touch(w.now())
	w.touchActiveLocked(id)
	return item.Clone(), true
}

// Forget removes the item. Returns false when absent.
func (w *WorkingMemory) Forget(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.items[id]; !ok {
		return false
	}
	w.removeLocked(id)
	return true
}

func (w *WorkingMemory) removeLocked(id string) {
	delete(w.items, id)
	delete(w.attention, id)
	for i, activeID := range w.active {
		if activeID == id {
			w.active = append(w.active[:i], w.active[i+1:]...)
			break
		}
	}
}

func (w *WorkingMemory) touchActiveLocked(id string) {
	for i, activeID := range w.active {
		if activeID == id {
			w.active = append(w.active[:i], w.active[i+1:]...)
			break
		}
	}
	w.active = append(w.active, id)
	if len(w.active) > w.capacity {
		w.active = w.active[len(w.active)-w.capacity:]
	}
}

// Decay sweeps items older than the decay threshold with fewer than 3 reads:
// importance shrinks in proportion to overage, and items falling below the
// floor are removed. Returns the number of removed items.
func (w *WorkingMemory) Decay() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	removed := 0
	for id, item := range w.items {
		age := now.Sub(item.Timestamp)
		if age <= w.decayThreshold || item.AccessCount >= 3 {
			continue
		}

		shrink := float64(w.decayThreshold) / float64(age)
		item.Importance = types.ClampUnit(item.Importance * shrink)
		if item.Importance < w.minImportance {
			w.removeLocked(id)
			removed++
		}
	}

	w.metrics.RecordDecayRemovals(removed)
	if removed > 0 {
		w.logger.Debug("decay sweep completed", zap.Int("removed", removed))
	}
	return removed
}

// UpdateAttention adjusts the item's attention weight by delta, clamped to
// [0,1]. Attention is a tunable relevance signal layered on top of
// importance; it never feeds back into the item's canonical importance.
func (w *WorkingMemory) UpdateAttention(id string, delta float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	weight, ok := w.attention[id]
	if !ok {
		return false
	}
	w.attention[id] = types.ClampUnit(weight + delta)
	return true
}

// Attention returns the item's current attention weight.
func (w *WorkingMemory) Attention(id string) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	weight, ok := w.attention[id]
	return weight, ok
}

// Size returns the current logical item count.
func (w *WorkingMemory) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// CountAbove returns how many held items exceed the importance threshold.
func (w *WorkingMemory) CountAbove(threshold float64) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, item := range w.items {
		if item.Importance > threshold {
			n++
		}
	}
	return n
}

// Items returns copies of all held items, unordered. Does not count as
// access.
func (w *WorkingMemory) Items() []*types.MemoryItem {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]*types.MemoryItem, 0, len(w.items))
	for _, item := range w.items {
		out = append(out, item.Clone())
	}
	return out
}
