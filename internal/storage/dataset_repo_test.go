package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParquetDatasetRepoAppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rl_dataset_v1.parquet")
	repo, err := NewParquetDatasetRepo(path, []string{"ltf_range_pct", "ltf_atr_pct"})
	require.NoError(t, err)

	first := []DatasetRow{
		{TradeID: "t1", Symbol: "BTCUSDT", CycleTimeUTC: 1700000000, FeatureVersion: "v1", Features: []float64{0.01, 0.02}, HasLabel: true, Label: 1.0},
	}
	require.NoError(t, repo.AppendRows(first))

	second := []DatasetRow{
		{TradeID: "t2", Symbol: "ETHUSDT", CycleTimeUTC: 1700000600, FeatureVersion: "v1", Features: []float64{0.03, 0.04}, HasLabel: false},
	}
	require.NoError(t, repo.AppendRows(second))

	all, err := repo.readAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "t1", all[0].TradeID)
	assert.True(t, all[0].HasLabel)
	assert.InDelta(t, 1.0, all[0].Label, 1e-9)
	assert.Equal(t, "t2", all[1].TradeID)
	assert.False(t, all[1].HasLabel)
	assert.InDelta(t, 0.03, all[1].Features[0], 1e-9)
}
