// Package types defines the shared entities of the tiered memory subsystem:
// the MemoryItem/Episode/Concept data model, the lifecycle stage machine,
// and the schema-less Value union used for open-ended metadata.
package types
