// Package mnemora provides a top-level convenience entry point for building
// a fully wired tiered memory system with minimal boilerplate.
//
// Usage:
//
//	import "github.com/mnemora/mnemora"
//
//	sys, err := mnemora.Open(nil) // all defaults, in-memory backends
//	sys.Manager.ProcessInformation("payment service timed out", memory.TriggerError, nil, "checkout")
//
// For fine-grained control construct the tiers from the memory package
// directly; Open only assembles the standard topology.
package mnemora

import (
	"go.uber.org/zap"

	"github.com/mnemora/mnemora/config"
	"github.com/mnemora/mnemora/memory"
	"github.com/mnemora/mnemora/types"
)

// Version is the library version.
const Version = "0.3.0"

// System bundles the wired components of one memory subsystem.
type System struct {
	Manager   *memory.MemoryManager
	Working   *memory.WorkingMemory
	Episodic  *memory.EpisodicMemory
	Semantic  *memory.SemanticMemory
	Lifecycle *memory.LifecycleManager

	logger *zap.Logger
}

// Open assembles a memory system from the configuration. A nil config uses
// all defaults: in-memory graph store, in-memory lifecycle index, archives
// under the default root. Pass a config with Graph.Backend "sqlite" for a
// persistent semantic tier.
func Open(cfg *config.Config) (*System, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	working := memory.NewWorkingMemory(memory.WorkingMemoryConfig{
		Capacity:       cfg.Working.Capacity,
		MinImportance:  cfg.Working.MinImportance,
		DecayThreshold: cfg.Working.DecayThreshold,
	}, logger)
	episodic := memory.NewEpisodicMemory(memory.EpisodicMemoryConfig{}, logger)

	var graph memory.GraphStore
	if cfg.Graph.Backend == "sqlite" {
		graph, err = memory.OpenSQLiteGraphStore(cfg.Graph.Path, logger)
		if err != nil {
			return nil, err
		}
	} else {
		graph = memory.NewInMemoryGraphStore(logger)
	}
	semantic := memory.NewSemanticMemory(graph, memory.SemanticMemoryConfig{}, logger)

	archiver, err := memory.NewArchiver(cfg.Archive, nil, logger)
	if err != nil {
		return nil, err
	}

	// enabling Redis moves the lifecycle side table out of process
	var index memory.LifecycleIndex
	if cfg.Redis.Enabled {
		index, err = memory.NewRedisLifecycleIndex(cfg.Redis)
		if err != nil {
			return nil, err
		}
	}
	lifecycle := memory.NewLifecycleManager(memory.LifecycleManagerConfig{
		Lifecycle: cfg.Lifecycle,
		Index:     index,
		Archiver:  archiver,
		Tiers:     []memory.TierStore{working, episodic, semantic},
	}, logger)

	manager := memory.NewMemoryManager(memory.ManagerConfig{
		Working:   working,
		Episodic:  episodic,
		Semantic:  semantic,
		Lifecycle: lifecycle,
	}, logger)

	return &System{
		Manager:   manager,
		Working:   working,
		Episodic:  episodic,
		Semantic:  semantic,
		Lifecycle: lifecycle,
		logger:    logger,
	}, nil
}

// Close flushes the logger.
func (s *System) Close() error {
	return s.logger.Sync()
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, types.NewError(types.ErrConfiguration, "invalid log level: "+cfg.Level).WithCause(err)
	}
	zcfg.Level = level
	return zcfg.Build()
}
