package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	return fmt.Sprintf("mnemora_test_%d", atomic.AddUint64(&collectorNamespaceSeq, 1))
}

func TestCollector_Counters(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordStore("working")
	c.RecordStore("working")
	c.RecordStore("episodic")
	c.RecordEviction()
	c.RecordPromotion("working", "episodic")
	c.RecordTransition("archived")
	c.RecordArchiveBytes(1024)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.itemsStored.WithLabelValues("working")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.itemsStored.WithLabelValues("episodic")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.evictions))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.promotions.WithLabelValues("working", "episodic")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.lifecycleTransitions.WithLabelValues("archived")))
	assert.Equal(t, float64(1024), testutil.ToFloat64(c.archivedBytes))
}

func TestCollector_NilSafe(t *testing.T) {
	t.Parallel()

	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordStore("working")
		c.RecordDrop("low_importance")
		c.RecordEviction()
		c.RecordDecayRemovals(3)
		c.RecordPromotion("working", "episodic")
		c.RecordRecall()
		c.RecordTransition("active")
		c.RecordLifecycleError()
		c.RecordArchiveBytes(1)
		c.RecordCompressionSaved(1)
		c.RecordRestore()
	})
}
