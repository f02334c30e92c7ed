package memory

import (
	"sort"
	"time"

	"github.com/mnemora/mnemora/types"
)

// SessionEvent is one ordered entry in a consolidated working-memory session.
type SessionEvent struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Trigger    TriggerKind    `json:"trigger"`
	Timestamp  time.Time      `json:"timestamp"`
	Importance float64        `json:"importance"`
	Metadata   types.Metadata `json:"metadata,omitempty"`
}

// SessionDigest summarizes a consolidated session.
type SessionDigest struct {
	ErrorCount    int     `json:"error_count"`
	DecisionCount int     `json:"decision_count"`
	AvgImportance float64 `json:"avg_importance"`
}

// SessionSummary is the structured descriptor Consolidate produces. It is
// the required input shape for the working→episodic transformer.
type SessionSummary struct {
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	DurationSeconds float64        `json:"duration_seconds"`
	ItemCount       int            `json:"item_count"`
	Events          []SessionEvent `json:"events"`
	Summary         SessionDigest  `json:"summary"`
}

// Consolidate reads the active (most-recently-touched) subset, orders it by
// time, and returns a session descriptor. Returns nil when nothing is active.
func (w *WorkingMemory) Consolidate() *SessionSummary {
	w.mu.Lock()
	defer w.mu.Unlock()

	events := make([]SessionEvent, 0, len(w.active))
	for _, id := range w.active {
		item, ok := w.items[id]
		if !ok {
			continue
		}
		events = append(events, SessionEvent{
			ID:         item.ID,
			Content:    item.Content,
			Trigger:    TriggerKind(item.Metadata.Text("trigger")),
			Timestamp:  item.Timestamp,
			Importance: item.Importance,
			Metadata:   item.Metadata.Clone(),
		})
	}
	if len(events) == 0 {
		return nil
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	summary := &SessionSummary{
		StartTime: events[0].Timestamp,
		EndTime:   events[len(events)-1].Timestamp,
		ItemCount: len(events),
		Events:    events,
	}
	summary.DurationSeconds = summary.EndTime.Sub(summary.StartTime).Seconds()

	total := 0.0
	for _, ev := range events {
		total += ev.Importance
		switch ev.Trigger {
		case TriggerError:
			summary.Summary.ErrorCount++
		case TriggerDecision:
			summary.Summary.DecisionCount++
		}
	}
	summary.Summary.AvgImportance = total / float64(len(events))

	return summary
}

// WorkingStats reports the tier's current shape.
type WorkingStats struct {
	Size          int     `json:"size"`
	Capacity      int     `json:"capacity"`
	Utilization   float64 `json:"utilization"`
	AvgImportance float64 `json:"avg_importance"`
	AvgAttention  float64 `json:"avg_attention"`
}

// Stats returns current working-memory statistics.
func (w *WorkingMemory) Stats() WorkingStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := WorkingStats{
		Size:     len(w.items),
		Capacity: w.capacity,
	}
	if w.capacity > 0 {
		stats.Utilization = float64(len(w.items)) / float64(w.capacity)
	}
	if len(w.items) == 0 {
		return stats
	}

	var totalImportance, totalAttention float64
	for id, item := range w.items {
		totalImportance += item.Importance
		totalAttention += w.attention[id]
	}
	n := float64(len(w.items))
	stats.AvgImportance = totalImportance / n
	stats.AvgAttention = totalAttention / n
	return stats
}

// TierName implements TierStore.
func (w *WorkingMemory) TierName() types.Tier { return types.TierWorking }

// ExportItem reads the item for archival. The read counts as an access.
func (w *WorkingMemory) ExportItem(id string) (*types.MemoryItem, bool) {
	return w.Get(id)
}

// RemoveItem implements TierStore.
func (w *WorkingMemory) RemoveItem(id string) bool {
	return w.Forget(id)
}

// ImportItem re-inserts a restored item, bypassing triggers and the
// importance floor: a restore must not silently drop the record.
func (w *WorkingMemory) ImportItem(item *types.MemoryItem) bool {
	if item == nil || item.ID == "" {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.items) >= w.capacity {
		w.evictOneLocked()
	}
	restored := item.Clone()
	restored.Importance = types.ClampUnit(restored.Importance)
	w.items[restored.ID] = restored
	w.attention[restored.ID] = restored.Importance
	w.touchActiveLocked(restored.ID)
	return true
}
