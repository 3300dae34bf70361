// Package policy turns a snapshot into a trade decision. Policies
// never decide "no trade" — rejecting a low-confidence or poorly sized
// signal is the risk engine's job, not the policy's, mirroring
// trade_ai/domain/policies/{rule_policy_v1,risk_aware_policy_v1,hybrid_policy_v1}.py.
package policy

import (
	"fmt"
	"math"
	"strings"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/config"
	"github.com/matodo9x-maker/bot-trade/internal/features"
	"github.com/matodo9x-maker/bot-trade/internal/scorer"
)

// Decision is the policy's output: direction, price levels, and a
// confidence the risk engine gates on. Mirrors trade_decision.py's
// invariants (action_type matches direction, risk_unit = |entry-sl|,
// confidence in [0,1], rr >= 0) without carrying its action_type field,
// which exists only to disambiguate direction for a tabular ML target.
type Decision struct {
	Direction       broker.Side
	EntryPrice      float64
	SLPrice         float64
	TPPrice         float64
	RR              float64
	RiskUnit        float64
	Confidence      float64
	DecisionTimeUTC int64
}

// Validate enforces trade_decision.py's __post_init__ invariants.
func (d Decision) Validate() error {
	if d.RiskUnit <= 0 {
		return fmt.Errorf("policy: risk_unit must be > 0")
	}
	calc := math.Abs(d.EntryPrice - d.SLPrice)
	if math.Abs(calc-d.RiskUnit) > 1e-9+1e-12*math.Abs(d.RiskUnit) {
		return fmt.Errorf("policy: risk_unit must equal |entry_price - sl_price|")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("policy: confidence must be in [0,1]")
	}
	if d.RR < 0 {
		return fmt.Errorf("policy: rr must be non-negative")
	}
	return nil
}

// Policy maps a snapshot tree (Snapshot.ToMap()) to a Decision.
type Policy interface {
	Decide(snap map[string]any) (Decision, error)
}

// RulePolicy derives direction from the 1h HTF trend and a fixed RR,
// with a stop distance driven by LTF ATR% (or a 0.1% floor).
type RulePolicy struct {
	RR    float64
	ATRK  float64
}

// NewRulePolicy mirrors RulePolicyV1's defaults (rr=2.0, atr_k=1.0).
func NewRulePolicy(rr, atrK float64) RulePolicy {
	if rr <= 0 {
		rr = 2.0
	}
	if atrK <= 0 {
		atrK = 1.0
	}
	return RulePolicy{RR: rr, ATRK: atrK}
}

func (p RulePolicy) Decide(snap map[string]any) (Decision, error) {
	entry := floatAt(snap, "ltf", "price", "close")
	atrPct := floatAt(snap, "ltf", "price", "atr_pct")

	slDistance := 0.001 * entry
	if atrPct > 0 {
		slDistance = atrPct * p.ATRK * entry
	}
	slDistance = math.Max(slDistance, 1e-8)

	direction := directionFromHTF1h(snap)

	var slPrice, tpPrice float64
	if direction == broker.SideLong {
		slPrice = entry - slDistance
		tpPrice = entry + p.RR*slDistance
	} else {
		slPrice = entry + slDistance
		tpPrice = entry - p.RR*slDistance
	}

	return Decision{
		Direction:       direction,
		EntryPrice:      entry,
		SLPrice:         slPrice,
		TPPrice:         tpPrice,
		RR:              p.RR,
		RiskUnit:        math.Abs(entry - slPrice),
		Confidence:      1.0,
		DecisionTimeUTC: intAt(snap, "snapshot_time_utc"),
	}, nil
}

// DefaultVolRR is risk_aware_policy_v1.py's DEFAULT_VOL_RR table.
var DefaultVolRR = map[string]float64{"dead": 1.0, "normal": 2.0, "expansion": 3.0}

// RiskAwarePolicy picks RR from the LTF volatility regime, then
// modulates it by ATR% strength and funding z-score before deriving
// SL/TP the same way RulePolicy does.
type RiskAwarePolicy struct {
	RRMap         map[string]float64
	ATRK          float64
	RRFloor       float64
	RRCeiling     float64
	VolWeight     float64
	ATRWeight     float64
	FundingWeight float64
}

// NewRiskAwarePolicy mirrors RiskAwarePolicyV1's constructor defaults.
func NewRiskAwarePolicy() RiskAwarePolicy {
	return RiskAwarePolicy{
		RRMap:         DefaultVolRR,
		ATRK:          1.0,
		RRFloor:       0.5,
		RRCeiling:     10.0,
		VolWeight:     1.0,
		ATRWeight:     1.0,
		FundingWeight: 0.5,
	}
}

func (p RiskAwarePolicy) computeRR(snap map[string]any) float64 {
	volRegime, _ := pathAt(snap, "ltf", "price", "volatility_regime").(string)
	baseRR, ok := p.RRMap[volRegime]
	if !ok {
		baseRR = p.RRMap["normal"]
	}

	atrPct := floatAt(snap, "ltf", "price", "atr_pct")
	atrTerm := 1.0 + p.ATRWeight*(atrPct*100.0)

	fundingZ := floatAt(snap, "context", "funding_zscore")
	fundingAdj := 1.0 - p.FundingWeight*fundingZ

	rr := baseRR * p.VolWeight * atrTerm * fundingAdj
	return clamp(rr, p.RRFloor, p.RRCeiling)
}

func (p RiskAwarePolicy) Decide(snap map[string]any) (Decision, error) {
	entry := floatAt(snap, "ltf", "price", "close")
	if entry == 0 {
		entry = 1.0
	}
	atrPct := floatAt(snap, "ltf", "price", "atr_pct")

	slDistance := 0.001 * entry
	if atrPct > 0 {
		slDistance = p.ATRK * atrPct * entry
	}
	slDistance = math.Max(slDistance, 1e-8)

	rr := p.computeRR(snap)
	direction := directionFromHTF1h(snap)

	var slPrice, tpPrice float64
	if direction == broker.SideLong {
		slPrice = entry - slDistance
		tpPrice = entry + rr*slDistance
	} else {
		slPrice = entry + slDistance
		tpPrice = entry - rr*slDistance
	}

	riskUnit := math.Abs(entry - slPrice)
	if riskUnit <= 0 {
		riskUnit = math.Max(1e-8, math.Abs(entry)*1e-6)
	}

	return Decision{
		Direction:       direction,
		EntryPrice:      entry,
		SLPrice:         slPrice,
		TPPrice:         tpPrice,
		RR:              rr,
		RiskUnit:        riskUnit,
		Confidence:      1.0,
		DecisionTimeUTC: intAt(snap, "snapshot_time_utc"),
	}, nil
}

// HybridPolicy wraps a rule-shaped policy (usually RiskAwarePolicy) for
// direction/SL/TP and blends its confidence with a model score.
type HybridPolicy struct {
	Rule   Policy
	Mapper *features.Mapper
	Scorer scorer.Scorer
	Mode   config.HybridConfMode
}

// NewHybridPolicy builds a HybridPolicy. mapper/sc may be nil, in which
// case the model contributes a neutral 1.0 (Decide still succeeds).
func NewHybridPolicy(rule Policy, mapper *features.Mapper, sc scorer.Scorer, mode config.HybridConfMode) HybridPolicy {
	if sc == nil {
		sc = scorer.NeutralScorer{}
	}
	if mode == "" {
		mode = config.HybridConfMul
	}
	return HybridPolicy{Rule: rule, Mapper: mapper, Scorer: sc, Mode: mode}
}

func (h HybridPolicy) Decide(snap map[string]any) (Decision, error) {
	base, err := h.Rule.Decide(snap)
	if err != nil {
		return Decision{}, err
	}

	modelScore := 1.0
	if h.Mapper != nil {
		if out, err := h.Mapper.Map(snap); err == nil {
			modelScore = h.Scorer.Score(out.Features).Score
		}
	}

	var final float64
	switch h.Mode {
	case config.HybridConfModel:
		final = modelScore
	case config.HybridConfRule:
		final = base.Confidence
	default: // mul
		final = base.Confidence * modelScore
	}

	base.Confidence = clamp(final, 0, 1)
	return base, nil
}

// Components exposes the rule confidence and raw model score Decide
// blends into its final confidence, so the runtime loop can record them
// separately in an opened trade's policy info the way
// _hybrid_conf_components does. ok is false if the rule policy itself
// failed to produce a decision.
func (h HybridPolicy) Components(snap map[string]any) (ruleConf, modelScore float64, ok bool) {
	base, err := h.Rule.Decide(snap)
	if err != nil {
		return 0, 0, false
	}
	modelScore = 1.0
	if h.Mapper != nil {
		if out, err := h.Mapper.Map(snap); err == nil {
			modelScore = h.Scorer.Score(out.Features).Score
		}
	}
	return base.Confidence, modelScore, true
}

func directionFromHTF1h(snap map[string]any) broker.Side {
	trend, _ := pathAt(snap, "htf", "1h", "trend").(string)
	if strings.ToLower(trend) == "up" {
		return broker.SideLong
	}
	return broker.SideShort
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func pathAt(snap map[string]any, keys ...string) any {
	var cur any = snap
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[k]
		if !ok {
			return nil
		}
	}
	return cur
}

func floatAt(snap map[string]any, keys ...string) float64 {
	v := pathAt(snap, keys...)
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}

func intAt(snap map[string]any, key string) int64 {
	switch x := snap[key].(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}
