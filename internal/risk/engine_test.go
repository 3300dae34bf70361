package risk

import (
	"testing"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/policy"
	"github.com/stretchr/testify/assert"
)

func baseDecision() policy.Decision {
	return policy.Decision{
		Direction: broker.SideLong, EntryPrice: 100, SLPrice: 98, TPPrice: 104,
		RR: 2, RiskUnit: 2, Confidence: 0.9,
	}
}

func TestBuildPlanRejectsLowConfidence(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d := baseDecision()
	d.Confidence = 0.1
	plan := e.BuildPlan(AccountState{EquityUSDT: 1000, FreeUSDT: 1000}, broker.MarketConstraints{MinNotionalUSDT: 5, QtyStep: 0.001}, d)
	assert.False(t, plan.OK)
	assert.Contains(t, plan.Reason, "confidence")
}

func TestBuildPlanHappyPath(t *testing.T) {
	e := NewEngine(DefaultConfig())
	plan := e.BuildPlan(AccountState{EquityUSDT: 1000, FreeUSDT: 1000}, broker.MarketConstraints{MinNotionalUSDT: 5, QtyStep: 0.001}, baseDecision())
	assert.True(t, plan.OK)
	assert.Greater(t, plan.Qty, 0.0)
	assert.GreaterOrEqual(t, plan.Leverage, 1)
	assert.LessOrEqual(t, plan.Leverage, DefaultConfig().MaxLeverage)
}

func TestBuildPlanRejectsBelowMinNotionalWhenSkip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiskPerTradeUSDT = 0.01 // tiny risk budget -> tiny notional
	e := NewEngine(cfg)
	plan := e.BuildPlan(AccountState{EquityUSDT: 1000, FreeUSDT: 1000}, broker.MarketConstraints{MinNotionalUSDT: 1000, QtyStep: 0.001}, baseDecision())
	assert.False(t, plan.OK)
	assert.Contains(t, plan.Reason, "notional<")
}

func TestBuildPlanOverridesMinNotionalWithCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiskPerTradeUSDT = 0.5 // qty 0.25 -> notional 25 < 50, so the override runs
	cfg.MinNotionalPolicy = MinNotionalOverrideWithCap
	cfg.MaxRiskMultiplierOnOverride = 100
	e := NewEngine(cfg)
	plan := e.BuildPlan(AccountState{EquityUSDT: 1000, FreeUSDT: 1000}, broker.MarketConstraints{MinNotionalUSDT: 50, QtyStep: 0.001}, baseDecision())
	assert.True(t, plan.OK)
	assert.GreaterOrEqual(t, plan.NotionalUSDT, 50.0)
}

func TestFloorToStepExactness(t *testing.T) {
	assert.InDelta(t, 1.234, floorToStep(1.2349, 0.001), 1e-9)
	assert.InDelta(t, 1.235, ceilToStep(1.2341, 0.001), 1e-9)
}
