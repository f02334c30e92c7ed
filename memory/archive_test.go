package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemora/mnemora/config"
	"github.com/mnemora/mnemora/types"
)

func newTestArchiver(t *testing.T) *Archiver {
	t.Helper()
	a, err := NewArchiver(config.ArchiveConfig{
		Root:             filepath.Join(t.TempDir(), "archive"),
		CompressionLevel: 6,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	return a
}

func testArchiveRecord(id string, content string) *ArchiveRecord {
	created := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	accessed := created.Add(time.Hour)
	return &ArchiveRecord{
		MemoryID:     id,
		Tier:         types.TierEpisodic,
		Content:      content,
		Metadata:     types.Metadata{"service": types.StringValue("billing")},
		CreatedAt:    created,
		LastAccessed: &accessed,
		AccessCount:  4,
		Importance:   0.75,
		ArchivedAt:   accessed.Add(time.Hour),
	}
}

func TestArchiver_WriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	a := newTestArchiver(t)
	record := testArchiveRecord("mem-1", "connection reset during charge")

	path, err := a.Write(record)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "mem-1.json"))
	require.Contains(t, path, string(types.TierEpisodic), "per-tier subdirectory")

	loaded, err := a.Read(path)
	require.NoError(t, err)
	require.Equal(t, record.MemoryID, loaded.MemoryID)
	require.Equal(t, record.Content, loaded.Content)
	require.Equal(t, record.AccessCount, loaded.AccessCount)
	require.Equal(t, record.Importance, loaded.Importance)
	require.Equal(t, "billing", loaded.Metadata.Text("service"))
	require.True(t, record.CreatedAt.Equal(loaded.CreatedAt))
	require.NotNil(t, loaded.LastAccessed)

	item := loaded.Item()
	require.Equal(t, "mem-1", item.ID)
	require.Equal(t, 4, item.AccessCount)
}

func TestArchiver_CompressShrinksAndRoundTrips(t *testing.T) {
	t.Parallel()

	a := newTestArchiver(t)
	// ~10KB of repetitive content compresses well
	record := testArchiveRecord("mem-2", strings.Repeat("timeout while charging card; ", 400))

	path, err := a.Write(record)
	require.NoError(t, err)

	gzPath, ratio, err := a.Compress(path)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(gzPath, ".json.gz"))
	require.Greater(t, ratio, 0.0)
	require.Less(t, ratio, 1.0)

	// original is gone
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	loaded, err := a.Read(gzPath)
	require.NoError(t, err)
	require.Equal(t, record.Content, loaded.Content)

	// compressing twice is a no-op
	again, ratio2, err := a.Compress(gzPath)
	require.NoError(t, err)
	require.Equal(t, gzPath, again)
	require.Zero(t, ratio2)
}

func TestArchiver_Remove(t *testing.T) {
	t.Parallel()

	a := newTestArchiver(t)
	path, err := a.Write(testArchiveRecord("mem-3", "x"))
	require.NoError(t, err)

	require.NoError(t, a.Remove(path))
	// idempotent
	require.NoError(t, a.Remove(path))
	require.NoError(t, a.Remove(""))
}

func TestArchiver_CleanupOlderThan(t *testing.T) {
	t.Parallel()

	a := newTestArchiver(t)
	oldPath, err := a.Write(testArchiveRecord("old", "x"))
	require.NoError(t, err)
	keptPath, err := a.Write(testArchiveRecord("kept", "y"))
	require.NoError(t, err)
	newPath, err := a.Write(testArchiveRecord("new", "z"))
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))
	require.NoError(t, os.Chtimes(keptPath, past, past))

	// referenced files survive regardless of age
	keep := map[string]struct{}{keptPath: {}}
	removed, err := a.CleanupOlderThan(time.Now().Add(-24*time.Hour), keep)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = os.Stat(oldPath)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(keptPath)
	require.NoError(t, err)
	_, err = os.Stat(newPath)
	require.NoError(t, err)
}

func TestNewArchiver_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewArchiver(config.ArchiveConfig{}, nil, zap.NewNop())
	require.Error(t, err)

	// out-of-range level falls back to the default instead of failing
	a, err := NewArchiver(config.ArchiveConfig{
		Root:             filepath.Join(t.TempDir(), "archive"),
		CompressionLevel: 99,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, a)
}
