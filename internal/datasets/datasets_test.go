package datasets

import (
	"path/filepath"
	"testing"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/features"
	"github.com/matodo9x-maker/bot-trade/internal/policy"
	"github.com/matodo9x-maker/bot-trade/internal/snapshot"
	"github.com/matodo9x-maker/bot-trade/internal/storage"
	"github.com/matodo9x-maker/bot-trade/internal/trade"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullSnapshot(id string, snapTime int64) snapshot.Snapshot {
	return snapshot.Snapshot{
		SchemaVersion:   "v3",
		SnapshotID:      id,
		SnapshotTimeUTC: snapTime,
		ObserverTimeUTC: snapTime,
		Symbol:          "BTCUSDT",
		LTF: snapshot.LTFBlock{
			TF: "5m", Timestamp: snapTime,
			Price:          snapshot.Price{Close: 100, RangePct: 0.01, ATRPct: 0.009, VolatilityRegime: "normal"},
			MicroStructure: snapshot.MicroStructure{HHLLState: "HH", BOS: true, DistanceToStructure: 0.004},
		},
		HTF: map[string]snapshot.TFBlock{
			"15m": {Trend: "up", MarketRegime: "trend", VolatilityRegime: "normal"},
			"1h":  {Trend: "up", MarketRegime: "trend", VolatilityRegime: "high"},
			"4h":  {Trend: "down", MarketRegime: "range", VolatilityRegime: "normal", LiquidityState: "pool"},
		},
		Context: snapshot.Context{Session: "us", FundingRate: 0.0001, FundingZScore: 0.5, SpreadPct: 0.0003, DailyATRPct: 0.02, DailyATRRatio30: 1.1},
	}
}

func testMapper(t *testing.T) *features.Mapper {
	t.Helper()
	m, err := features.LoadSpec("../../config/feature_spec_v1.yaml")
	require.NoError(t, err)
	return m
}

func TestRLDatasetBuilderExportsOnlyNewClosedTrades(t *testing.T) {
	dir := t.TempDir()
	snapRepo, err := storage.NewSnapshotRepo(filepath.Join(dir, "snapshots"))
	require.NoError(t, err)
	tradeRepo, err := storage.NewTradeRepo(filepath.Join(dir, "open.csv"), filepath.Join(dir, "closed.csv"))
	require.NoError(t, err)
	dataset, err := storage.NewParquetDatasetRepo(filepath.Join(dir, "rl.parquet"), []string{})
	require.NoError(t, err)
	exported, err := LoadExportState(filepath.Join(dir, "export_state.json"))
	require.NoError(t, err)
	mapper := testMapper(t)

	require.NoError(t, snapRepo.Save(fullSnapshot("snap-entry", 1700000000)))

	d := policy.Decision{Direction: broker.SideLong, EntryPrice: 100, SLPrice: 98, TPPrice: 104, RR: 2, RiskUnit: 2, Confidence: 0.9}
	agg := trade.CreateOpen("t1", "BTCUSDT", "snap-entry", 1700000000, d, nil)
	require.NoError(t, agg.AttachExecution(trade.ExecutionState{
		Status: trade.StatusClosed, EntryTimeUTC: 1700000000, EntryFillPrice: 100,
		ExitTimeUTC: 1700000600, ExitFillPrice: 104, ExitType: trade.ExitTypeTP, Qty: 1,
	}))
	reward, err := trade.CalculateReward(d, agg.ExecutionState, []broker.Candle{{High: 105, Low: 99}})
	require.NoError(t, err)
	require.NoError(t, agg.AttachReward(reward))
	require.NoError(t, tradeRepo.UpdateClosed(agg))

	builder := NewRLDatasetBuilder(tradeRepo, snapRepo, dataset, mapper, exported)
	n, err := builder.BuildAndSave(true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n2, err := builder.BuildAndSave(true)
	require.NoError(t, err)
	assert.Equal(t, 0, n2, "second run should skip the already-exported trade")
}

func TestMarketEachCycleBuilderJoinsSnapshotAndCycleLog(t *testing.T) {
	dir := t.TempDir()
	snapRepo, err := storage.NewSnapshotRepo(filepath.Join(dir, "snapshots"))
	require.NoError(t, err)
	cycles, err := storage.NewDecisionCycleRepo(filepath.Join(dir, "cycles.jsonl"))
	require.NoError(t, err)
	dataset, err := storage.NewParquetDatasetRepo(filepath.Join(dir, "market_each_cycle.parquet"), []string{})
	require.NoError(t, err)
	mapper := testMapper(t)

	require.NoError(t, snapRepo.Save(fullSnapshot("snap-1", 1700000000)))
	require.NoError(t, cycles.Append(map[string]any{
		"snapshot_id": "snap-1", "symbol": "BTCUSDT", "cycle_time_utc": 1700000000.0, "is_opened": true, "trade_id": "t1",
	}))
	require.NoError(t, cycles.Append(map[string]any{
		"snapshot_id": "missing-snap", "symbol": "ETHUSDT", "cycle_time_utc": 1700000100.0,
	}))

	builder := NewMarketEachCycleBuilder(cycles, snapRepo, dataset, mapper)
	n, err := builder.BuildAndAppend(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the row referencing a missing snapshot must be skipped")
}

func TestWinLossLabelDerivesFromSign(t *testing.T) {
	assert.Equal(t, 1, WinLossLabel(storage.DatasetRow{Label: 0.5}))
	assert.Equal(t, 0, WinLossLabel(storage.DatasetRow{Label: -0.5}))
}

func TestExportStatePersistsAcrossKeys(t *testing.T) {
	dir := t.TempDir()
	es, err := LoadExportState(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	require.NoError(t, es.MarkExported("rl_exported_trade_ids", []string{"t1"}))
	require.NoError(t, es.MarkExported("scorer_exported_trade_ids", []string{"t2"}))

	assert.True(t, es.Contains("rl_exported_trade_ids", "t1"))
	assert.True(t, es.Contains("scorer_exported_trade_ids", "t2"))
	assert.False(t, es.Contains("rl_exported_trade_ids", "t2"))
}
