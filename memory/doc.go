// Package memory implements a three-tier memory subsystem modeled on human
// memory organization.
//
// The working tier is a small, trigger-gated buffer of recent signals; the
// episodic tier is a durable, time- and project-indexed event log; the
// semantic tier stores abstracted concepts on a pluggable knowledge graph.
// Transformers reshape records as they move between tiers, a MemoryManager
// routes, promotes and recalls across all three, and a LifecycleManager ages
// items through created → active → archived → compressed → forgotten with
// on-disk gzip archives.
package memory
