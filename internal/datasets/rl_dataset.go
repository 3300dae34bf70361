package datasets

import (
	"github.com/matodo9x-maker/bot-trade/internal/features"
	"github.com/matodo9x-maker/bot-trade/internal/storage"
)

const rlExportedKey = "rl_exported_trade_ids"

// RLDatasetBuilder turns closed trades into reinforcement-learning
// transitions (entry-state features, action, reward, next-state
// features), grounded on dataset_build_usecase.py's build_rl_dataset_rows.
//
// The Parquet row schema here is narrower than the Python dict row:
// it carries the fixed feature vector plus reward_state.pnl_r as the
// single Label, not every behavior-policy/risk-plan metadata field the
// Python row also attaches. The decision and policy info stay in the
// trade CSV log itself; this builder's job is specifically to produce
// the numeric tensor a model trains on.
type RLDatasetBuilder struct {
	trades   *storage.TradeRepo
	snaps    *storage.SnapshotRepo
	dataset  *storage.ParquetDatasetRepo
	mapper   *features.Mapper
	exported *ExportState
}

func NewRLDatasetBuilder(trades *storage.TradeRepo, snaps *storage.SnapshotRepo, dataset *storage.ParquetDatasetRepo, mapper *features.Mapper, exported *ExportState) *RLDatasetBuilder {
	return &RLDatasetBuilder{trades: trades, snaps: snaps, dataset: dataset, mapper: mapper, exported: exported}
}

// BuildAndSave maps every not-yet-exported closed trade with a reward
// attached to one dataset row, appends them, and records the ids as
// exported. onlyNew=false maps every closed trade with a reward again
// and appends those rows to the existing dataset file; rows already in
// the file are kept, so the file is not rebuilt from scratch.
func (b *RLDatasetBuilder) BuildAndSave(onlyNew bool) (int, error) {
	closed, err := b.trades.ListClosed()
	if err != nil {
		return 0, err
	}

	var rows []storage.DatasetRow
	var exportedIDs []string
	for _, t := range closed {
		if onlyNew && b.exported.Contains(rlExportedKey, t.TradeID) {
			continue
		}
		if t.RewardState == nil {
			continue
		}
		entrySnap, ok, err := b.snaps.Get(t.EntrySnapshotID)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}

		out, err := b.mapper.Map(entrySnap)
		if err != nil {
			continue
		}

		rows = append(rows, storage.DatasetRow{
			TradeID:        t.TradeID,
			Symbol:         t.Symbol,
			CycleTimeUTC:   t.EntrySnapshotTimeUTC,
			FeatureVersion: out.FeatureVersion,
			Features:       toFloat64s(out.Features),
			HasLabel:       true,
			Label:          t.RewardState.PnLR,
		})
		exportedIDs = append(exportedIDs, t.TradeID)
	}

	if len(rows) == 0 {
		return 0, nil
	}
	if err := b.dataset.AppendRows(rows); err != nil {
		return 0, err
	}
	if err := b.exported.MarkExported(rlExportedKey, exportedIDs); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func toFloat64s(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
