package datasets

import (
	"github.com/matodo9x-maker/bot-trade/internal/features"
	"github.com/matodo9x-maker/bot-trade/internal/storage"
)

// MarketEachCycleBuilder builds the market_each_cycle dataset: one row
// per decision cycle (including SKIP and BLOCK outcomes), joining the
// decision-cycle log against the snapshot it was computed from,
// grounded on market_each_cycle_build_usecase.py. This is the
// canonical dataset for supervised scorer training and meta-labeling,
// since unlike the RL/scorer datasets it keeps negative samples (cycles
// that never became a trade).
//
// The decision-cycle JSONL row this builder reads carries symbol,
// observer_time_utc, cycle_time_utc, is_opened, block_reason, error,
// snapshot_id, snapshot_time_utc, decision_id and trade_id. It does not
// carry rule_confidence, model_score, a risk_blocked flag or mode, and
// this builder adds no gate metadata as Parquet columns either. Its
// output is the feature tensor plus the label that row's outcome implies.
type MarketEachCycleBuilder struct {
	decisionCycles *storage.DecisionCycleRepo
	snaps          *storage.SnapshotRepo
	dataset        *storage.ParquetDatasetRepo
	mapper         *features.Mapper
}

func NewMarketEachCycleBuilder(decisionCycles *storage.DecisionCycleRepo, snaps *storage.SnapshotRepo, dataset *storage.ParquetDatasetRepo, mapper *features.Mapper) *MarketEachCycleBuilder {
	return &MarketEachCycleBuilder{decisionCycles: decisionCycles, snaps: snaps, dataset: dataset, mapper: mapper}
}

// BuildAndAppend reads every decision-cycle row, maps its snapshot to
// a feature vector, and appends up to maxRows dataset rows (0 means
// unlimited). The label is the row's is_opened flag: opened-and-
// profitable data only exists once a trade closes, so this dataset's
// label is simply whether the cycle resulted in an opened trade. Every
// call maps the whole log from the start; rows appended by earlier
// calls are not skipped, and no decision_id bookkeeping is kept.
func (b *MarketEachCycleBuilder) BuildAndAppend(maxRows int) (int, error) {
	recs, err := b.decisionCycles.ReadAll()
	if err != nil {
		return 0, err
	}

	var rows []storage.DatasetRow
	for _, rec := range recs {
		snapshotID, ok := rec["snapshot_id"].(string)
		if !ok || snapshotID == "" {
			continue
		}
		snap, ok, err := b.snaps.Get(snapshotID)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}

		out, err := b.mapper.Map(snap)
		if err != nil {
			continue
		}

		row := storage.DatasetRow{
			TradeID:        stringField(rec, "trade_id"),
			Symbol:         stringField(rec, "symbol"),
			CycleTimeUTC:   int64Field(rec, "cycle_time_utc"),
			FeatureVersion: out.FeatureVersion,
			Features:       toFloat64s(out.Features),
			HasLabel:       true,
			Label:          boolFieldToFloat(rec, "is_opened"),
		}
		rows = append(rows, row)
		if maxRows > 0 && len(rows) >= maxRows {
			break
		}
	}

	if len(rows) == 0 {
		return 0, nil
	}
	if err := b.dataset.AppendRows(rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func stringField(rec map[string]any, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

func int64Field(rec map[string]any, key string) int64 {
	switch v := rec[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func boolFieldToFloat(rec map[string]any, key string) float64 {
	if v, ok := rec[key].(bool); ok && v {
		return 1.0
	}
	return 0.0
}
