package storage

import (
	"path/filepath"
	"testing"

	"github.com/matodo9x-maker/bot-trade/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnap() snapshot.Snapshot {
	return snapshot.Snapshot{
		SchemaVersion:   "v3",
		SnapshotID:      "snap-1",
		SnapshotTimeUTC: 1700000000,
		ObserverTimeUTC: 1700000000,
		Symbol:          "BTCUSDT",
		LTF:             snapshot.LTFBlock{TF: "5m", Timestamp: 1700000000},
		HTF: map[string]snapshot.TFBlock{
			"15m": {Trend: "up"}, "1h": {Trend: "up"}, "4h": {Trend: "flat"},
		},
	}
}

func TestSnapshotRepoSaveAndGet(t *testing.T) {
	repo, err := NewSnapshotRepo(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, repo.Save(sampleSnap()))

	got, ok, err := repo.Get("snap-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", got["symbol"])
}

func TestSnapshotRepoRejectsOverwrite(t *testing.T) {
	repo, err := NewSnapshotRepo(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, repo.Save(sampleSnap()))
	err = repo.Save(sampleSnap())
	assert.Error(t, err)
}

func TestSnapshotRepoGetMissingReturnsNotFound(t *testing.T) {
	repo, err := NewSnapshotRepo(t.TempDir())
	require.NoError(t, err)
	_, ok, err := repo.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotRepoPathsAreIsolatedByDir(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewSnapshotRepo(dir)
	require.NoError(t, err)
	require.NoError(t, repo.Save(sampleSnap()))
	assert.FileExists(t, filepath.Join(dir, "snap-1.json"))
}
