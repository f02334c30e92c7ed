// Package metrics provides internal metrics collection for the memory
// subsystem. This package is internal and should not be imported by
// external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates prometheus metrics for tier stores, the manager,
// and the lifecycle sweep. A nil *Collector is valid and records nothing,
// so components can take it as an optional dependency.
type Collector struct {
	itemsStored          *prometheus.CounterVec
	itemsDropped         *prometheus.CounterVec
	evictions            prometheus.Counter
	decayRemovals        prometheus.Counter
	promotions           *prometheus.CounterVec
	recalls              prometheus.Counter
	lifecycleTransitions *prometheus.CounterVec
	lifecycleErrors      prometheus.Counter
	archivedBytes        prometheus.Counter
	compressionSaved     prometheus.Counter
	restores             prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered under the namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.itemsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_items_stored_total",
			Help:      "Items stored, by tier.",
		},
		[]string{"tier"},
	)
	c.itemsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_items_dropped_total",
			Help:      "Items rejected at the working tier, by reason.",
		},
		[]string{"reason"},
	)
	c.evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_working_evictions_total",
			Help:      "Working-memory capacity evictions.",
		},
	)
	c.decayRemovals = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_working_decay_removals_total",
			Help:      "Items removed by working-memory decay sweeps.",
		},
	)
	c.promotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_promotions_total",
			Help:      "Cross-tier promotions, by source and target tier.",
		},
		[]string{"source", "target"},
	)
	c.recalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_recalls_total",
			Help:      "Recall queries served by the manager.",
		},
	)
	c.lifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_lifecycle_transitions_total",
			Help:      "Lifecycle stage transitions, by target stage.",
		},
		[]string{"stage"},
	)
	c.lifecycleErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_lifecycle_errors_total",
			Help:      "Per-item failures isolated during lifecycle sweeps.",
		},
	)
	c.archivedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_archived_bytes_total",
			Help:      "Bytes written to archive files.",
		},
	)
	c.compressionSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_compression_saved_bytes_total",
			Help:      "Bytes saved by archive compression.",
		},
	)
	c.restores = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_restores_total",
			Help:      "Items restored from archive into live tiers.",
		},
	)

	return c
}

// RecordStore counts an item stored in a tier.
func (c *Collector) RecordStore(tier string) {
	if c == nil {
		return
	}
	c.itemsStored.WithLabelValues(tier).Inc()
}

// RecordDrop counts an item rejected at the working tier.
func (c *Collector) RecordDrop(reason string) {
	if c == nil {
		return
	}
	c.itemsDropped.WithLabelValues(reason).Inc()
}

// RecordEviction counts a working-memory eviction.
func (c *Collector) RecordEviction() {
	if c == nil {
		return
	}
	c.evictions.Inc()
}

// RecordDecayRemovals counts items removed by a decay sweep.
func (c *Collector) RecordDecayRemovals(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.decayRemovals.Add(float64(n))
}

// RecordPromotion counts a cross-tier promotion.
func (c *Collector) RecordPromotion(source, target string) {
	if c == nil {
		return
	}
	c.promotions.WithLabelValues(source, target).Inc()
}

// RecordRecall counts a recall query.
func (c *Collector) RecordRecall() {
	if c == nil {
		return
	}
	c.recalls.Inc()
}

// RecordTransition counts a lifecycle stage transition.
func (c *Collector) RecordTransition(stage string) {
	if c == nil {
		return
	}
	c.lifecycleTransitions.WithLabelValues(stage).Inc()
}

// RecordLifecycleError counts an isolated per-item sweep failure.
func (c *Collector) RecordLifecycleError() {
	if c == nil {
		return
	}
	c.lifecycleErrors.Inc()
}

// RecordArchiveBytes counts bytes written to an archive file.
func (c *Collector) RecordArchiveBytes(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.archivedBytes.Add(float64(n))
}

// RecordCompressionSaved counts bytes saved by compressing an archive.
func (c *Collector) RecordCompressionSaved(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.compressionSaved.Add(float64(n))
}

// RecordRestore counts an archive restore.
func (c *Collector) RecordRestore() {
	if c == nil {
		return
	}
	c.restores.Inc()
}
