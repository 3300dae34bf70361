package datasets

import (
	"github.com/matodo9x-maker/bot-trade/internal/features"
	"github.com/matodo9x-maker/bot-trade/internal/storage"
)

const scorerExportedKey = "scorer_exported_trade_ids"

// ScorerDatasetBuilder builds the supervised-learning dataset the
// linear/logistic model scorer trains on: entry-state features plus a
// win/loss label, grounded on scorer_dataset_build_usecase.py.
//
// label_cls (win/loss) is not stored as a separate column; it is
// exactly sign(Label) > 0, matching the Python build_rows' label_cls =
// 1 if pnl_r > 0 else 0 — storing both would just be a derived
// duplicate of the regression label.
type ScorerDatasetBuilder struct {
	trades   *storage.TradeRepo
	snaps    *storage.SnapshotRepo
	dataset  *storage.ParquetDatasetRepo
	mapper   *features.Mapper
	exported *ExportState
}

func NewScorerDatasetBuilder(trades *storage.TradeRepo, snaps *storage.SnapshotRepo, dataset *storage.ParquetDatasetRepo, mapper *features.Mapper, exported *ExportState) *ScorerDatasetBuilder {
	return &ScorerDatasetBuilder{trades: trades, snaps: snaps, dataset: dataset, mapper: mapper, exported: exported}
}

func (b *ScorerDatasetBuilder) BuildAndSave(onlyNew bool) (int, error) {
	closed, err := b.trades.ListClosed()
	if err != nil {
		return 0, err
	}

	var rows []storage.DatasetRow
	var exportedIDs []string
	for _, t := range closed {
		if onlyNew && b.exported.Contains(scorerExportedKey, t.TradeID) {
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
	if err := b.exported.MarkExported(scorerExportedKey, exportedIDs); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// WinLossLabel derives the classification label the Python
// label_cls column stores explicitly.
func WinLossLabel(row storage.DatasetRow) int {
	if row.Label > 0 {
		return 1
	}
	return 0
}
