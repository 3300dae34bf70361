package snapshot

// ToMap renders the snapshot as a generic tree so the feature mapper
// can walk it with JSON-path-style lookups ($.ltf.price.close), the
// same shape SnapshotV3.to_dict() produces for FeatureMapperV1.
func (s Snapshot) ToMap() map[string]any {
	htf := make(map[string]any, len(s.HTF))
	for tf, block := range s.HTF {
		htf[tf] = map[string]any{
			"trend":             block.Trend,
			"bos":               block.BOS,
			"liquidity_state":   block.LiquidityState,
			"market_regime":     block.MarketRegime,
			"volatility_regime": block.VolatilityRegime,
		}
	}
	return map[string]any{
		"schema_version":    s.SchemaVersion,
		"snapshot_id":       s.SnapshotID,
		"snapshot_time_utc": s.SnapshotTimeUTC,
		"observer_time_utc": s.ObserverTimeUTC,
		"symbol":            s.Symbol,
		"ltf": map[string]any{
			"tf":        s.LTF.TF,
			"timestamp": s.LTF.Timestamp,
			"price": map[string]any{
				"open": s.LTF.Price.Open, "high": s.LTF.Price.High, "low": s.LTF.Price.Low,
				"close": s.LTF.Price.Close, "volume": s.LTF.Price.Volume,
				"range_pct": s.LTF.Price.RangePct, "atr_pct": s.LTF.Price.ATRPct,
				"volatility_regime": s.LTF.Price.VolatilityRegime,
			},
			"micro_structure": map[string]any{
				"hh_ll_state":           s.LTF.MicroStructure.HHLLState,
				"bos":                   s.LTF.MicroStructure.BOS,
				"distance_to_structure": s.LTF.MicroStructure.DistanceToStructure,
			},
		},
		"htf": htf,
		"context": map[string]any{
			"session": s.Context.Session, "exchange": s.Context.Exchange,
			"funding_rate": s.Context.FundingRate, "funding_zscore": s.Context.FundingZScore,
			"bid": s.Context.Bid, "ask": s.Context.Ask, "mid": s.Context.Mid,
			"spread_pct": s.Context.SpreadPct,
			"daily_atr_pct": s.Context.DailyATRPct, "daily_atr_ratio_30": s.Context.DailyATRRatio30,
		},
	}
}
