package memory

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/mnemora/mnemora/config"
	"github.com/mnemora/mnemora/internal/metrics"
	"github.com/mnemora/mnemora/types"
)

// ArchiveRecord is the self-contained on-disk form of an archived item. It
// carries everything needed to restore the item without consulting live
// tier state.
type ArchiveRecord struct {
	MemoryID     string         `json:"memory_id"`
	Tier         types.Tier     `json:"tier"`
	Content      string         `json:"content"`
	Metadata     types.Metadata `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed *time.Time     `json:"last_accessed,omitempty"`
	AccessCount  int            `json:"access_count"`
	Importance   float64        `json:"importance"`
	ArchivedAt   time.Time      `json:"archived_at"`
}

// Item converts the record back into a memory item for re-insertion.
func (r *ArchiveRecord) Item() *types.MemoryItem {
	item := &types.MemoryItem{
		ID:          r.MemoryID,
		Content:     r.Content,
		Timestamp:   r.CreatedAt,
		Metadata:    r.Metadata.Clone(),
		AccessCount: r.AccessCount,
		Importance:  r.Importance,
	}
	if r.LastAccessed != nil {
		t := *r.LastAccessed
		item.LastAccessed = &t
	}
	return item
}

const gzipSuffix = ".gz"

// Archiver writes archive records to per-tier directories under a root.
// Writes go through a temp file and rename so readers never observe a
// partial record.
type Archiver struct {
	root    string
	level   int
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewArchiver creates the archive root and returns an archiver.
func NewArchiver(cfg config.ArchiveConfig, collector *metrics.Collector, logger *zap.Logger) (*Archiver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Root == "" {
		return nil, types.NewError(types.ErrConfiguration, "archive root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, types.NewError(types.ErrStorage, "create archive root").WithCause(err)
	}
	level := cfg.CompressionLevel
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &Archiver{
		root:    cfg.Root,
		level:   level,
		metrics: collector,
		logger:  logger.With(zap.String("component", "archiver")),
	}, nil
}

// Write persists the record as plain JSON and returns the file path.
func (a *Archiver) Write(record *ArchiveRecord) (string, error) {
	if record == nil || record.MemoryID == "" {
		return "", types.NewError(types.ErrStorage, "archive record requires a memory id")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", types.NewError(types.ErrSerialization, "encode archive record").WithCause(err)
	}

	dir := filepath.Join(a.root, string(record.Tier))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", types.NewError(types.ErrStorage, "create tier archive directory").WithCause(err)
	}

	path := filepath.Join(dir, record.MemoryID+".json")
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}

	a.metrics.RecordArchiveBytes(int64(len(data)))
	a.logger.Debug("archive written", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// Compress rewrites a plain archive file as gzip, removes the original,
// and returns the new path with the achieved compression ratio in [0,1).
func (a *Archiver) Compress(path string) (string, float64, error) {
	if strings.HasSuffix(path, gzipSuffix) {
		return path, 0, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, types.NewError(types.ErrStorage, "read archive for compression").WithCause(err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, a.level)
	if err != nil {
		return "", 0, types.NewError(types.ErrCompression, "init gzip writer").WithCause(err)
	}
	if _, err := zw.Write(data); err != nil {
		return "", 0, types.NewError(types.ErrCompression, "compress archive").WithCause(err)
	}
	if err := zw.Close(); err != nil {
		return "", 0, types.NewError(types.ErrCompression, "finish gzip stream").WithCause(err)
	}
	compressed := buf.Bytes()

	newPath := path + gzipSuffix
	if err := writeAtomic(newPath, compressed); err != nil {
		return "", 0, err
	}
	if err := os.Remove(path); err != nil {
		return "", 0, types.NewError(types.ErrStorage, "remove uncompressed archive").WithCause(err)
	}

	ratio := 0.0
	if len(data) > 0 {
		ratio = 1 - float64(len(compressed))/float64(len(data))
		if ratio < 0 {
			ratio = 0
		}
	}
	if saved := len(data) - len(compressed); saved > 0 {
		a.metrics.RecordCompressionSaved(int64(saved))
	}
	a.logger.Debug("archive compressed",
		zap.String("path", newPath),
		zap.Float64("ratio", ratio))
	return newPath, ratio, nil
}

// Read loads an archive record, decompressing when the file is gzipped.
func (a *Archiver) Read(path string) (*ArchiveRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "open archive file").WithCause(err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, gzipSuffix) {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, types.NewError(types.ErrCompression, "open gzip archive").WithCause(err)
		}
		defer zr.Close()
		reader = zr
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "read archive file").WithCause(err)
	}
	var record ArchiveRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, types.NewError(types.ErrSerialization, "decode archive record").WithCause(err)
	}
	return &record, nil
}

// Remove deletes the archive file. A missing file is not an error.
func (a *Archiver) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return types.NewError(types.ErrStorage, "remove archive file").WithCause(err)
	}
	return nil
}

// CleanupOlderThan removes archive files whose modification time is older
// than the cutoff, skipping paths in keep, and returns how many were
// deleted. Keep holds the files still referenced by lifecycle records.
func (a *Archiver) CleanupOlderThan(cutoff time.Time, keep map[string]struct{}) (int, error) {
	removed := 0
	err := filepath.Walk(a.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if _, referenced := keep[path]; referenced {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, types.NewError(types.ErrStorage, "archive cleanup walk").WithCause(err)
	}
	if removed > 0 {
		a.logger.Info("archive cleanup completed", zap.Int("removed", removed))
	}
	return removed, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return types.NewError(types.ErrStorage, "create temp archive file").WithCause(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.NewError(types.ErrStorage, "write temp archive file").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.NewError(types.ErrStorage, "close temp archive file").WithCause(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return types.NewError(types.ErrStorage, "rename temp archive file").WithCause(err)
	}
	return nil
}
