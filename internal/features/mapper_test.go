package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() map[string]any {
	return map[string]any{
		"schema_version":    "v3",
		"snapshot_time_utc": int64(1700000000),
		"ltf": map[string]any{
			"price": map[string]any{
				"range_pct": 0.012,
				"atr_pct":   0.009,
				"volatility_regime": "normal",
			},
			"micro_structure": map[string]any{
				"hh_ll_state":           "HH",
				"bos":                   true,
				"distance_to_structure": 0.004,
			},
		},
		"htf": map[string]any{
			"15m": map[string]any{"trend": "up", "bos": false, "liquidity_state": "", "market_regime": "trend", "volatility_regime": "normal"},
			"1h":  map[string]any{"trend": "up", "bos": true, "liquidity_state": "", "market_regime": "trend", "volatility_regime": "high"},
			"4h":  map[string]any{"trend": "down", "bos": false, "liquidity_state": "pool", "market_regime": "range", "volatility_regime": "normal"},
		},
		"context": map[string]any{
			"session":             "ny",
			"funding_rate":        0.0001,
			"funding_zscore":      0.5,
			"spread_pct":          0.0003,
			"daily_atr_pct":       0.02,
			"daily_atr_ratio_30":  1.1,
		},
	}
}

func TestMapperProducesFullLengthVector(t *testing.T) {
	m, err := LoadSpec("../../config/feature_spec_v1.yaml")
	require.NoError(t, err)

	out, err := m.Map(sampleSnapshot())
	require.NoError(t, err)
	assert.Len(t, out.Features, 28)
	assert.Equal(t, "v1", out.FeatureVersion)
	assert.NotEmpty(t, out.FeatureHash)
}

func TestMapperOneHotEncodings(t *testing.T) {
	m, err := LoadSpec("../../config/feature_spec_v1.yaml")
	require.NoError(t, err)

	out, err := m.Map(sampleSnapshot())
	require.NoError(t, err)

	idx := make(map[string]int, len(m.featuresSpec))
	for i, f := range m.featuresSpec {
		idx[f.Key] = i
	}
	assert.Equal(t, float32(1.0), out.Features[idx["ltf_vol_normal"]])
	assert.Equal(t, float32(0.0), out.Features[idx["ltf_vol_dead"]])
	assert.Equal(t, float32(1.0), out.Features[idx["session_us"]])
	assert.Equal(t, float32(1.0), out.Features[idx["htf_1h_vol_high"]])
	assert.Equal(t, float32(1.0), out.Features[idx["htf_4h_liquidity_state"]])
	assert.Equal(t, float32(0.0), out.Features[idx["htf_15m_trend_down"]])
}

func TestMapperRejectsForbiddenKeys(t *testing.T) {
	m, err := LoadSpec("../../config/feature_spec_v1.yaml")
	require.NoError(t, err)

	snap := sampleSnapshot()
	snap["decision"] = map[string]any{"side": "LONG"}
	_, err = m.Map(snap)
	assert.Error(t, err)
}

func TestMapperRejectsWrongSchemaVersion(t *testing.T) {
	m, err := LoadSpec("../../config/feature_spec_v1.yaml")
	require.NoError(t, err)

	snap := sampleSnapshot()
	snap["schema_version"] = "v2"
	_, err = m.Map(snap)
	assert.Error(t, err)
}

func TestComputeFeatureHashDeterministic(t *testing.T) {
	h1 := computeFeatureHash("v1", []string{"a", "b", "c"})
	h2 := computeFeatureHash("v1", []string{"a", "b", "c"})
	assert.Equal(t, h1, h2)

	h3 := computeFeatureHash("v1", []string{"a", "b", "d"})
	assert.NotEqual(t, h1, h3)
}
