package policy

import (
	"testing"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/scorer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapWith(trend string, atrPct, close float64, volRegime string, fundingZ float64) map[string]any {
	return map[string]any{
		"schema_version":    "v3",
		"snapshot_time_utc": int64(1700000000),
		"ltf": map[string]any{
			"price": map[string]any{"close": close, "atr_pct": atrPct, "volatility_regime": volRegime},
		},
		"htf": map[string]any{
			"1h": map[string]any{"trend": trend},
		},
		"context": map[string]any{"funding_zscore": fundingZ},
	}
}

func TestRulePolicyLongOnUptrend(t *testing.T) {
	p := NewRulePolicy(2.0, 1.0)
	d, err := p.Decide(snapWith("up", 0.01, 100, "normal", 0))
	require.NoError(t, err)
	require.NoError(t, d.Validate())
	assert.Equal(t, broker.SideLong, d.Direction)
	assert.Less(t, d.SLPrice, d.EntryPrice)
	assert.Greater(t, d.TPPrice, d.EntryPrice)
}

func TestRulePolicyShortOnDowntrend(t *testing.T) {
	p := NewRulePolicy(2.0, 1.0)
	d, err := p.Decide(snapWith("down", 0.01, 100, "normal", 0))
	require.NoError(t, err)
	require.NoError(t, d.Validate())
	assert.Equal(t, broker.SideShort, d.Direction)
	assert.Greater(t, d.SLPrice, d.EntryPrice)
	assert.Less(t, d.TPPrice, d.EntryPrice)
}

func TestRiskAwarePolicyVolRegimeDrivesRR(t *testing.T) {
	p := NewRiskAwarePolicy()
	dead, err := p.Decide(snapWith("up", 0.002, 100, "dead", 0))
	require.NoError(t, err)
	expansion, err := p.Decide(snapWith("up", 0.002, 100, "expansion", 0))
	require.NoError(t, err)
	assert.Greater(t, expansion.RR, dead.RR)
}

func TestRiskAwarePolicyFundingZReducesRR(t *testing.T) {
	p := NewRiskAwarePolicy()
	noFunding, err := p.Decide(snapWith("up", 0.002, 100, "normal", 0))
	require.NoError(t, err)
	highFunding, err := p.Decide(snapWith("up", 0.002, 100, "normal", 2.0))
	require.NoError(t, err)
	assert.Less(t, highFunding.RR, noFunding.RR)
}

func TestHybridPolicyMulMode(t *testing.T) {
	rule := NewRulePolicy(2.0, 1.0)
	h := NewHybridPolicy(rule, nil, scorer.NeutralScorer{}, "mul")
	d, err := h.Decide(snapWith("up", 0.01, 100, "normal", 0))
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestDecisionValidateRejectsBadRiskUnit(t *testing.T) {
	d := Decision{EntryPrice: 100, SLPrice: 95, RiskUnit: 1, Confidence: 0.5, RR: 1}
	assert.Error(t, d.Validate())
}
