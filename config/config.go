// Package config provides configuration for the tiered memory subsystem.
// Loading precedence: defaults → YAML file. Every knob has a sensible
// default, so an empty config is fully usable.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration surface of the memory subsystem.
type Config struct {
	// Working configures the working-memory tier.
	Working WorkingConfig `yaml:"working"`

	// Lifecycle configures the aging state machine.
	Lifecycle LifecycleConfig `yaml:"lifecycle"`

	// Archive configures on-disk archival of aged items.
	Archive ArchiveConfig `yaml:"archive"`

	// Graph configures the semantic tier's graph-store backend.
	Graph GraphConfig `yaml:"graph"`

	// Redis configures the optional Redis lifecycle side table.
	Redis RedisConfig `yaml:"redis"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// WorkingConfig configures the working-memory tier.
type WorkingConfig struct {
	// Capacity is the logical item cap. Requests below MinCapacity are
	// silently clamped, not rejected.
	Capacity int `yaml:"capacity"`

	// MinImportance is the floor below which new items are dropped.
	MinImportance float64 `yaml:"min_importance"`

	// DecayThreshold is the age past which rarely-read items start to decay.
	DecayThreshold time.Duration `yaml:"decay_threshold"`
}

// MinCapacity is the enforced working-memory capacity floor.
const MinCapacity = 3

// LifecycleConfig configures stage durations and promotion thresholds.
type LifecycleConfig struct {
	// ActiveDuration: CREATED items older than this with no promotion are
	// archived directly.
	ActiveDuration time.Duration `yaml:"active_duration"`

	// ArchiveAfter: ACTIVE items idle longer than this are archived.
	ArchiveAfter time.Duration `yaml:"archive_after"`

	// CompressAfter: ARCHIVED items idle longer than this are compressed.
	CompressAfter time.Duration `yaml:"compress_after"`

	// ForgetAfter: COMPRESSED items idle longer than this are forgotten.
	ForgetAfter time.Duration `yaml:"forget_after"`

	// MinAccessForActive promotes a CREATED item to ACTIVE once reached.
	MinAccessForActive int `yaml:"min_access_for_active"`

	// MinImportanceForArchive: items below this are forgotten instead of
	// archived.
	MinImportanceForArchive float64 `yaml:"min_importance_for_archive"`
}

// ArchiveConfig configures the archive directory and compression.
type ArchiveConfig struct {
	// Root is the archive root directory; one subdirectory per tier.
	Root string `yaml:"root"`

	// CompressionLevel is the gzip level (1 fastest … 9 best).
	CompressionLevel int `yaml:"compression_level"`
}

// GraphConfig configures the semantic graph-store backend.
type GraphConfig struct {
	// Backend selects the implementation: "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the sqlite database path when Backend is "sqlite".
	Path string `yaml:"path"`
}

// RedisConfig configures the optional Redis-backed lifecycle index.
type RedisConfig struct {
	// Enabled opts into the Redis index; when false the lifecycle side
	// table stays in process and Addr is ignored.
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format: json or console.
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Working:   DefaultWorkingConfig(),
		Lifecycle: DefaultLifecycleConfig(),
		Archive:   DefaultArchiveConfig(),
		Graph:     DefaultGraphConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
	}
}

// DefaultWorkingConfig returns working-memory defaults.
func DefaultWorkingConfig() WorkingConfig {
	return WorkingConfig{
		Capacity:       7,
		MinImportance:  0.3,
		DecayThreshold: 30 * time.Minute,
	}
}

// DefaultLifecycleConfig returns lifecycle defaults.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		ActiveDuration:          24 * time.Hour,
		ArchiveAfter:            7 * 24 * time.Hour,
		CompressAfter:           30 * 24 * time.Hour,
		ForgetAfter:             90 * 24 * time.Hour,
		MinAccessForActive:      3,
		MinImportanceForArchive: 0.2,
	}
}

// DefaultArchiveConfig returns archive defaults.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Root:             "memory_archive",
		CompressionLevel: 6,
	}
}

// DefaultGraphConfig returns graph-store defaults.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{Backend: "memory"}
}

// DefaultRedisConfig returns Redis defaults. The index is disabled so a
// default configuration never needs a running Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "mnemora:",
	}
}

// DefaultLogConfig returns logging defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "json"}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize clamps out-of-range values to their enforced bounds.
func (c *Config) Normalize() {
	if c.Working.Capacity < MinCapacity {
		c.Working.Capacity = MinCapacity
	}
	if c.Working.MinImportance < 0 {
		c.Working.MinImportance = 0
	}
	if c.Working.MinImportance > 1 {
		c.Working.MinImportance = 1
	}
	if c.Archive.CompressionLevel < 1 || c.Archive.CompressionLevel > 9 {
		c.Archive.CompressionLevel = DefaultArchiveConfig().CompressionLevel
	}
	if c.Lifecycle.MinAccessForActive <= 0 {
		c.Lifecycle.MinAccessForActive = DefaultLifecycleConfig().MinAccessForActive
	}
}

// Validate checks values that cannot be silently corrected.
func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"lifecycle.active_duration": c.Lifecycle.ActiveDuration,
		"lifecycle.archive_after":   c.Lifecycle.ArchiveAfter,
		"lifecycle.compress_after":  c.Lifecycle.CompressAfter,
		"lifecycle.forget_after":    c.Lifecycle.ForgetAfter,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	switch c.Graph.Backend {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("graph.backend must be \"memory\" or \"sqlite\", got %q", c.Graph.Backend)
	}
	return nil
}
