package memory

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnemora/mnemora/config"
	"github.com/mnemora/mnemora/internal/metrics"
	"github.com/mnemora/mnemora/types"
)

// TierStore is the narrow view of a tier the lifecycle manager needs: read
// an item out for archival, drop it from live storage, and put a restored
// item back. All three tiers implement it.
type TierStore interface {
	TierName() types.Tier
	ExportItem(id string) (*types.MemoryItem, bool)
	RemoveItem(id string) bool
	ImportItem(item *types.MemoryItem) bool
}

// LifecycleIndex persists the lifecycle side-table. Implementations must be
// safe for concurrent use.
type LifecycleIndex interface {
	Put(meta *types.LifecycleMetadata) error
	Get(id string) (*types.LifecycleMetadata, bool, error)
	Delete(id string) error
	List() ([]*types.LifecycleMetadata, error)
}

// InMemoryLifecycleIndex keeps lifecycle metadata in process memory.
type InMemoryLifecycleIndex struct {
	mu      sync.RWMutex
	records map[string]*types.LifecycleMetadata
}

var _ LifecycleIndex = (*InMemoryLifecycleIndex)(nil)

// NewInMemoryLifecycleIndex creates an empty index.
func NewInMemoryLifecycleIndex() *InMemoryLifecycleIndex {
	return &InMemoryLifecycleIndex{records: make(map[string]*types.LifecycleMetadata)}
}

func (x *InMemoryLifecycleIndex) Put(meta *types.LifecycleMetadata) error {
	if meta == nil || meta.ID == "" {
		return types.NewError(types.ErrStorage, "lifecycle record requires an id")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.records[meta.ID] = meta.Clone()
	return nil
}

func (x *InMemoryLifecycleIndex) Get(id string) (*types.LifecycleMetadata, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	meta, ok := x.records[id]
	if !ok {
		return nil, false, nil
	}
	return meta.Clone(), true, nil
}

func (x *InMemoryLifecycleIndex) Delete(id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.records, id)
	return nil
}

func (x *InMemoryLifecycleIndex) List() ([]*types.LifecycleMetadata, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]*types.LifecycleMetadata, 0, len(x.records))
	for _, meta := range x.records {
		out = append(out, meta.Clone())
	}
	return out, nil
}

// TransitionCounts reports what one lifecycle sweep did.
type TransitionCounts struct {
	Archived   int `json:"archived"`
	Compressed int `json:"compressed"`
	Forgotten  int `json:"forgotten"`
	Errors     int `json:"errors"`
}

// LifecycleManager ages tracked items through
// created → active → archived → compressed → forgotten based on access
// recency. It owns only lifecycle metadata and archive files; item content
// lives in the tiers until archival removes it.
type LifecycleManager struct {
	mu       sync.Mutex
	cfg      config.LifecycleConfig
	index    LifecycleIndex
	archiver *Archiver
	tiers    map[types.Tier]TierStore

	now     func() time.Time
	metrics *metrics.Collector
	logger  *zap.Logger
}

// LifecycleManagerConfig wires the manager's dependencies.
type LifecycleManagerConfig struct {
	Lifecycle config.LifecycleConfig
	Index     LifecycleIndex
	Archiver  *Archiver
	Tiers     []TierStore

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time

	// Metrics is optional; nil records nothing.
	Metrics *metrics.Collector
}

// NewLifecycleManager creates a lifecycle manager over the given tiers.
func NewLifecycleManager(cfg LifecycleManagerConfig, logger *zap.Logger) *LifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Index == nil {
		cfg.Index = NewInMemoryLifecycleIndex()
	}
	tiers := make(map[types.Tier]TierStore, len(cfg.Tiers))
	for _, tier := range cfg.Tiers {
		tiers[tier.TierName()] = tier
	}
	return &LifecycleManager{
		cfg:      cfg.Lifecycle,
		index:    cfg.Index,
		archiver: cfg.Archiver,
		tiers:    tiers,
		now:      cfg.Now,
		metrics:  cfg.Metrics,
		logger:   logger.With(zap.String("component", "lifecycle")),
	}
}

// Track starts lifecycle accounting for a stored item.
func (l *LifecycleManager) Track(id string, tier types.Tier) error {
	now := l.now()
	meta := &types.LifecycleMetadata{
		ID:             id,
		Tier:           tier,
		Stage:          types.StageCreated,
		CreatedAt:      now,
		LastAccessedAt: now,
		StageTransitions: []types.StageTransition{
			{Stage: types.StageCreated, At: now},
		},
	}
	return l.index.Put(meta)
}

// UpdateAccess records a read of the tracked item. Crossing the configured
// access threshold promotes a CREATED item to ACTIVE immediately rather
// than waiting for the next sweep.
func (l *LifecycleManager) UpdateAccess(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	meta, ok, err := l.index.Get(id)
	if err != nil || !ok {
		return err
	}

	meta.AccessCount++
	meta.LastAccessedAt = l.now()
	if meta.Stage == types.StageCreated && meta.AccessCount >= l.cfg.MinAccessForActive {
		if meta.TransitionTo(types.StageActive, l.now()) {
			l.metrics.RecordTransition(string(types.StageActive))
			l.logger.Debug("item activated", zap.String("id", id))
		}
	}
	return l.index.Put(meta)
}

// ProcessLifecycle sweeps every tracked item once, applying the age rules
// for its current stage. Failures are isolated per item: the sweep logs,
// counts and continues.
func (l *LifecycleManager) ProcessLifecycle() TransitionCounts {
	l.mu.Lock()
	defer l.mu.Unlock()

	var counts TransitionCounts
	records, err := l.index.List()
	if err != nil {
		l.logger.Error("lifecycle sweep aborted", zap.Error(err))
		counts.Errors++
		return counts
	}

	now := l.now()
	for _, meta := range records {
		var err error
		switch meta.Stage {
		case types.StageCreated, types.StageActive:
			// a never-promoted item ages on creation time, an active one on
			// its last read
			due := now.Sub(meta.LastAccessedAt) > l.cfg.ArchiveAfter
			if meta.Stage == types.StageCreated {
				due = now.Sub(meta.CreatedAt) > l.cfg.ActiveDuration
			}
			if due {
				var outcome archiveOutcome
				outcome, err = l.archiveLocked(meta)
				switch {
				case err != nil:
				case outcome == archivedItem:
					counts.Archived++
				case outcome == forgottenItem:
					counts.Forgotten++
				}
			}
		case types.StageArchived:
			if now.Sub(meta.LastAccessedAt) > l.cfg.CompressAfter {
				err = l.compressLocked(meta)
				if err == nil {
					counts.Compressed++
				}
			}
		case types.StageCompressed:
			if now.Sub(meta.LastAccessedAt) > l.cfg.ForgetAfter {
				err = l.forgetLocked(meta)
				if err == nil {
					counts.Forgotten++
				}
			}
		}
		if err != nil {
			counts.Errors++
			l.metrics.RecordLifecycleError()
			l.logger.Warn("lifecycle transition failed",
				zap.String("id", meta.ID),
				zap.String("stage", string(meta.Stage)),
				zap.Error(err))
		}
	}

	if counts.Archived+counts.Compressed+counts.Forgotten > 0 {
		l.logger.Info("lifecycle sweep completed",
			zap.Int("archived", counts.Archived),
			zap.Int("compressed", counts.Compressed),
			zap.Int("forgotten", counts.Forgotten),
			zap.Int("errors", counts.Errors))
	}
	return counts
}

// Archive moves the tracked item out of its live tier into an archive file.
// Items below the importance bar are forgotten outright instead of archived.
func (l *LifecycleManager) Archive(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	meta, ok, err := l.index.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewError(types.ErrStorage, "lifecycle record not found: "+id)
	}
	_, err = l.archiveLocked(meta)
	return err
}

// archiveOutcome tells the sweep what archiveLocked actually did so the
// counters stay honest: an item can be archived, forgotten outright, or its
// stale record dropped.
type archiveOutcome int

const (
	archivedItem archiveOutcome = iota
	forgottenItem
	droppedStaleRecord
)

func (l *LifecycleManager) archiveLocked(meta *types.LifecycleMetadata) (archiveOutcome, error) {
	if !meta.Stage.CanTransition(types.StageArchived) {
		return archivedItem, types.NewError(types.ErrInvalidTransition,
			"cannot archive from stage "+string(meta.Stage))
	}
	tier, ok := l.tiers[meta.Tier]
	if !ok {
		return archivedItem, types.NewError(types.ErrStorage, "no tier store for "+string(meta.Tier))
	}
	item, found := tier.ExportItem(meta.ID)
	if !found {
		// content already gone; drop the stale record
		return droppedStaleRecord, l.index.Delete(meta.ID)
	}

	if item.Importance < l.cfg.MinImportanceForArchive {
		tier.RemoveItem(meta.ID)
		return forgottenItem, l.markForgottenLocked(meta)
	}

	record := &ArchiveRecord{
		MemoryID:     item.ID,
		Tier:         meta.Tier,
		Content:      item.Content,
		Metadata:     item.Metadata,
		CreatedAt:    item.Timestamp,
		LastAccessed: item.LastAccessed,
		AccessCount:  item.AccessCount,
		Importance:   item.Importance,
		ArchivedAt:   l.now(),
	}
	path, err := l.archiver.Write(record)
	if err != nil {
		return archivedItem, err
	}

	if !meta.TransitionTo(types.StageArchived, l.now()) {
		return archivedItem, types.NewError(types.ErrInvalidTransition,
			"cannot archive from stage "+string(meta.Stage))
	}
	meta.ArchivePath = path
	if err := l.index.Put(meta); err != nil {
		return archivedItem, err
	}

	tier.RemoveItem(meta.ID)
	l.metrics.RecordTransition(string(types.StageArchived))
	l.logger.Debug("item archived", zap.String("id", meta.ID), zap.String("path", path))
	return archivedItem, nil
}

// Compress gzips the tracked item's archive file.
func (l *LifecycleManager) Compress(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	meta, ok, err := l.index.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewError(types.ErrStorage, "lifecycle record not found: "+id)
	}
	return l.compressLocked(meta)
}

func (l *LifecycleManager) compressLocked(meta *types.LifecycleMetadata) error {
	if meta.ArchivePath == "" {
		return types.NewError(types.ErrStorage, "no archive file for "+meta.ID)
	}

	newPath, ratio, err := l.archiver.Compress(meta.ArchivePath)
	if err != nil {
		return err
	}
	if !meta.TransitionTo(types.StageCompressed, l.now()) {
		return types.NewError(types.ErrInvalidTransition,
			"cannot compress from stage "+string(meta.Stage))
	}
	meta.ArchivePath = newPath
	meta.Compressed = true
	meta.CompressionRatio = &ratio
	if err := l.index.Put(meta); err != nil {
		return err
	}

	l.metrics.RecordTransition(string(types.StageCompressed))
	l.logger.Debug("item compressed", zap.String("id", meta.ID), zap.Float64("ratio", ratio))
	return nil
}

// Forget deletes the tracked item's archive file and its lifecycle record.
func (l *LifecycleManager) Forget(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	meta, ok, err := l.index.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewError(types.ErrStorage, "lifecycle record not found: "+id)
	}
	return l.forgetLocked(meta)
}

func (l *LifecycleManager) forgetLocked(meta *types.LifecycleMetadata) error {
	if !meta.Stage.CanTransition(types.StageForgotten) {
		return types.NewError(types.ErrInvalidTransition,
			"cannot forget from stage "+string(meta.Stage))
	}
	if meta.ArchivePath != "" {
		if err := l.archiver.Remove(meta.ArchivePath); err != nil {
			return err
		}
	}
	return l.markForgottenLocked(meta)
}

// markForgottenLocked drops the lifecycle record. Once forgotten, nothing
// remains to track.
func (l *LifecycleManager) markForgottenLocked(meta *types.LifecycleMetadata) error {
	if err := l.index.Delete(meta.ID); err != nil {
		return err
	}
	l.metrics.RecordTransition(string(types.StageForgotten))
	l.logger.Debug("item forgotten", zap.String("id", meta.ID))
	return nil
}

// Restore reads the item back out of its archive file, re-inserts it into
// its tier and returns the record to ACTIVE. Forgotten items cannot be
// restored.
func (l *LifecycleManager) Restore(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	meta, ok, err := l.index.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewError(types.ErrStorage, "lifecycle record not found: "+id)
	}
	if meta.Stage != types.StageArchived && meta.Stage != types.StageCompressed {
		return types.NewError(types.ErrInvalidTransition,
			"cannot restore from stage "+string(meta.Stage))
	}

	record, err := l.archiver.Read(meta.ArchivePath)
	if err != nil {
		return err
	}
	tier, ok := l.tiers[meta.Tier]
	if !ok {
		return types.NewError(types.ErrStorage, "no tier store for "+string(meta.Tier))
	}
	if !tier.ImportItem(record.Item()) {
		return types.NewError(types.ErrStorage, "tier rejected restored item "+id)
	}
	if err := l.archiver.Remove(meta.ArchivePath); err != nil {
		return err
	}

	meta.RestoreToActive(l.now())
	meta.LastAccessedAt = l.now()
	if err := l.index.Put(meta); err != nil {
		return err
	}

	l.metrics.RecordRestore()
	l.logger.Info("item restored", zap.String("id", id), zap.String("tier", string(meta.Tier)))
	return nil
}

// Metadata returns a copy of the tracked item's lifecycle record.
func (l *LifecycleManager) Metadata(id string) (*types.LifecycleMetadata, bool) {
	meta, ok, err := l.index.Get(id)
	if err != nil {
		l.logger.Warn("lifecycle lookup failed", zap.String("id", id), zap.Error(err))
		return nil, false
	}
	return meta, ok
}

// CompressionStats summarizes the compressed archives.
type CompressionStats struct {
	Count    int     `json:"count"`
	AvgRatio float64 `json:"avg_ratio"`
}

// LifecycleStats reports tracked items per stage plus aggregate age,
// access and compression figures.
type LifecycleStats struct {
	Total          int                          `json:"total"`
	ByStage        map[types.LifecycleStage]int `json:"by_stage"`
	AvgAgeSeconds  float64                      `json:"avg_age_seconds"`
	AvgAccessCount float64                      `json:"avg_access_count"`
	Compression    CompressionStats             `json:"compression"`
}

// GetLifecycleStats aggregates the tracked records.
func (l *LifecycleManager) GetLifecycleStats() LifecycleStats {
	stats := LifecycleStats{ByStage: make(map[types.LifecycleStage]int)}
	records, err := l.index.List()
	if err != nil {
		l.logger.Warn("lifecycle stats failed", zap.Error(err))
		return stats
	}
	stats.Total = len(records)

	now := l.now()
	totalAge := 0.0
	totalAccess := 0
	ratioSum := 0.0
	for _, meta := range records {
		stats.ByStage[meta.Stage]++
		totalAge += now.Sub(meta.CreatedAt).Seconds()
		totalAccess += meta.AccessCount
		if meta.CompressionRatio != nil {
			stats.Compression.Count++
			ratioSum += *meta.CompressionRatio
		}
	}
	if stats.Total > 0 {
		stats.AvgAgeSeconds = totalAge / float64(stats.Total)
		stats.AvgAccessCount = float64(totalAccess) / float64(stats.Total)
	}
	if stats.Compression.Count > 0 {
		stats.Compression.AvgRatio = ratioSum / float64(stats.Compression.Count)
	}
	return stats
}

// CleanupForgotten deletes archive files older than retention that no
// lifecycle record references anymore, such as leftovers from a crash
// between an archive write and the record update. Returns how many files
// were removed.
func (l *LifecycleManager) CleanupForgotten(retention time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.index.List()
	if err != nil {
		l.logger.Warn("forgotten cleanup failed", zap.Error(err))
		return 0
	}
	tracked := make(map[string]struct{}, len(records))
	for _, meta := range records {
		if meta.ArchivePath != "" {
			tracked[meta.ArchivePath] = struct{}{}
		}
	}

	removed, err := l.archiver.CleanupOlderThan(l.now().Add(-retention), tracked)
	if err != nil {
		l.logger.Warn("forgotten cleanup failed", zap.Error(err))
	}
	return removed
}
