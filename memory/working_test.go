package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemora/mnemora/types"
)

func newTestWorking(now *time.Time, capacity int) *WorkingMemory {
	return NewWorkingMemory(WorkingMemoryConfig{
		Capacity: capacity,
		Now:      func() time.Time { return *now },
	}, zap.NewNop())
}

func TestWorkingMemory_TriggerGate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newTestWorking(&now, 7)

	// error trigger fires on error-like content
	id, ok := w.AddWithTrigger("connection timeout while calling billing", TriggerError, nil)
	require.True(t, ok)
	require.NotEmpty(t, id)

	// error trigger does not fire on calm content
	_, ok = w.AddWithTrigger("all systems nominal", TriggerError, nil)
	require.False(t, ok)

	// metadata flag forces the gate open
	_, ok = w.AddWithTrigger("all systems nominal", TriggerError, types.Metadata{
		"error": types.BoolValue(true),
	})
	require.True(t, ok)

	// unknown trigger kinds never fire
	_, ok = w.AddWithTrigger("anything", TriggerKind("telepathy"), nil)
	require.False(t, ok)

	// milestone requires the explicit flag
	_, ok = w.AddWithTrigger("reached milestone", TriggerMilestone, nil)
	require.False(t, ok)
	_, ok = w.AddWithTrigger("reached milestone", TriggerMilestone, types.Metadata{
		"milestone": types.BoolValue(true),
	})
	require.True(t, ok)
}

func TestWorkingMemory_ImportanceFloor(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newTestWorking(&now, 7)

	_, ok := w.Add("below floor", TriggerManual, nil, 0.29)
	require.False(t, ok)

	id, ok := w.Add("at floor", TriggerManual, nil, 0.3)
	require.True(t, ok)

	item, found := w.Get(id)
	require.True(t, found)
	require.Equal(t, 0.3, item.Importance)
	require.Equal(t, "manual", item.Metadata.Text("trigger"))
}

func TestWorkingMemory_CapacityEviction(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newTestWorking(&now, 5)

	// importance 0.1..0.8; the two below the floor never enter
	ids := make(map[float64]string)
	for i := 1; i <= 8; i++ {
		imp := float64(i) / 10
		id, ok := w.Add(fmt.Sprintf("item %d", i), TriggerManual, nil, imp)
		if imp < 0.3 {
			require.False(t, ok)
			continue
		}
		require.True(t, ok)
		ids[imp] = id
	}

	// six admitted, capacity five: the lowest-scoring one was evicted
	require.Equal(t, 5, w.Size())
	_, found := w.Get(ids[0.3])
	require.False(t, found)
	for _, imp := range []float64{0.4, 0.5, 0.6, 0.7, 0.8} {
		_, found := w.Get(ids[imp])
		require.True(t, found, "importance %.1f should survive", imp)
	}
}

func TestWorkingMemory_EvictionPrefersStaleOverImportant(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newTestWorking(&now, 3)

	oldImportant, _ := w.Add("old but important", TriggerManual, nil, 0.9)
	now = now.Add(2 * time.Hour)
	freshWeak, _ := w.Add("fresh but weak", TriggerManual, nil, 0.31)
	w.Add("filler", TriggerManual, nil, 0.5)

	// scores: old 0.9/3=0.3, fresh 0.31/1=0.31 — the old one goes first
	w.Add("overflow", TriggerManual, nil, 0.6)
	require.Equal(t, 3, w.Size())
	_, found := w.Get(oldImportant)
	require.False(t, found)
	_, found = w.Get(freshWeak)
	require.True(t, found)
}

func TestWorkingMemory_GetTouches(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newTestWorking(&now, 7)

	id, _ := w.Add("tracked", TriggerManual, nil, 0.5)

	item, _ := w.Get(id)
	require.Equal(t, 1, item.AccessCount)
	require.NotNil(t, item.LastAccessed)
	require.Equal(t, now, *item.LastAccessed)

	now = now.Add(time.Minute)
	item, _ = w.Get(id)
	require.Equal(t, 2, item.AccessCount)
	require.Equal(t, now, *item.LastAccessed)
}

func TestWorkingMemory_Decay(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newTestWorking(&now, 7)

	weak, _ := w.Add("rarely read weak item", TriggerManual, nil, 0.35)
	strong, _ := w.Add("rarely read strong item", TriggerManual, nil, 0.9)
	hot, _ := w.Add("frequently read item", TriggerManual, nil, 0.35)
	for i := 0; i < 3; i++ {
		w.Get(hot)
	}

	// within the threshold nothing decays
	require.Zero(t, w.Decay())

	// 60 minutes vs a 30 minute threshold halves importance
	now = now.Add(time.Hour)
	removed := w.Decay()
	require.Equal(t, 1, removed)

	_, found := w.Get(weak)
	require.False(t, found, "0.35*0.5 falls below the floor")
	s, found := w.Get(strong)
	require.True(t, found)
	require.InDelta(t, 0.45, s.Importance, 1e-9)
	_, found = w.Get(hot)
	require.True(t, found, "frequently read items do not decay")
}

func TestWorkingMemory_Attention(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newTestWorking(&now, 7)

	id, _ := w.Add("focus target", TriggerManual, nil, 0.5)

	weight, ok := w.Attention(id)
	require.True(t, ok)
	require.Equal(t, 0.5, weight)

	require.True(t, w.UpdateAttention(id, 0.9))
	weight, _ = w.Attention(id)
	require.Equal(t, 1.0, weight)

	require.True(t, w.UpdateAttention(id, -2))
	weight, _ = w.Attention(id)
	require.Equal(t, 0.0, weight)

	// attention never feeds back into importance
	item, _ := w.Get(id)
	require.Equal(t, 0.5, item.Importance)

	require.False(t, w.UpdateAttention("missing", 0.1))
}

func TestWorkingMemory_Consolidate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newTestWorking(&now, 7)

	require.Nil(t, w.Consolidate())

	w.Add("database timeout on checkout", TriggerError, types.Metadata{"error": types.BoolValue(true)}, 0.8)
	now = now.Add(time.Minute)
	w.Add("decided to add retry with backoff", TriggerDecision, nil, 0.7)
	now = now.Add(time.Minute)
	w.Add("deployed fix", TriggerManual, nil, 0.5)

	summary := w.Consolidate()
	require.NotNil(t, summary)
	require.Equal(t, 3, summary.ItemCount)
	require.Equal(t, 120.0, summary.DurationSeconds)
	require.Equal(t, 1, summary.Summary.ErrorCount)
	require.Equal(t, 1, summary.Summary.DecisionCount)
	require.InDelta(t, (0.8+0.7+0.5)/3, summary.Summary.AvgImportance, 1e-9)

	// events come back in chronological order
	require.Equal(t, "database timeout on checkout", summary.Events[0].Content)
	require.Equal(t, "deployed fix", summary.Events[2].Content)
}

func TestWorkingMemory_CapacityClamp(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newTestWorking(&now, 1)
	require.Equal(t, 3, w.Capacity())
}

func TestWorkingMemory_ImportExportRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newTestWorking(&now, 7)

	id, _ := w.Add("exported item", TriggerManual, nil, 0.6)
	item, found := w.ExportItem(id)
	require.True(t, found)
	require.Equal(t, 1, item.AccessCount, "export counts as an access")

	require.True(t, w.RemoveItem(id))
	require.False(t, w.RemoveItem(id))

	// restore bypasses trigger gate and floor
	item.Importance = 0.1
	require.True(t, w.ImportItem(item))
	restored, found := w.Get(id)
	require.True(t, found)
	require.Equal(t, 0.1, restored.Importance)
	require.Equal(t, 2, restored.AccessCount)
}
