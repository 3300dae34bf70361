// Package risk sizes trades against account equity and venue
// constraints (RiskEngine) and gates new entries against the recent
// trade ledger (RiskGuard), grounded on
// trade_ai/domain/services/{risk_engine_v1,risk_guard_v1}.py.
//
// Step/notional rounding uses github.com/shopspring/decimal instead of
// raw float64 division so floor_to_step/ceil_to_step stay exact for
// typical exchange step sizes (e.g. 0.001), avoiding the float
// round-trip error the teacher's own position sizing in trader.go is
// exposed to.
package risk

import (
	"fmt"
	"strings"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/policy"
	"github.com/shopspring/decimal"
)

// AccountState is the account equity/free-margin reading the engine
// sizes against.
type AccountState struct {
	EquityUSDT float64
	FreeUSDT   float64
}

// MinNotionalPolicy selects the min-notional violation behavior.
type MinNotionalPolicy string

const (
	MinNotionalSkip             MinNotionalPolicy = "skip"
	MinNotionalOverrideWithCap  MinNotionalPolicy = "override_with_cap"
)

// Config mirrors RiskConfig's fields and defaults exactly.
type Config struct {
	RiskPerTradePct    float64
	RiskPerTradeUSDT   float64 // 0 means unset; falls back to pct

	DefaultLeverage int
	MaxLeverage     int
	MarginUtilization float64

	MaxNotionalUSDT           float64 // 0 means unset
	MaxExposurePctPerSymbol   float64 // 0 means unset

	MinNotionalPolicy             MinNotionalPolicy
	MaxRiskMultiplierOnOverride   float64
	MaxRiskOverrideUSDT           float64 // 0 means unset

	MinConfidence float64
}

// DefaultConfig mirrors RiskConfig's published defaults.
func DefaultConfig() Config {
	return Config{
		RiskPerTradePct:             0.25,
		DefaultLeverage:             3,
		MaxLeverage:                 10,
		MarginUtilization:           0.30,
		MinNotionalPolicy:           MinNotionalSkip,
		MaxRiskMultiplierOnOverride: 2.0,
		MinConfidence:               0.55,
	}
}

// Plan is the engine's sizing output.
type Plan struct {
	OK      bool
	Reason  string
	Qty     float64
	NotionalUSDT float64
	Leverage     int
	RiskUSDT     float64
	RiskPct      float64
}

// Engine sizes trades deterministically from (account, constraints,
// decision, config). It never decides direction or price levels —
// that's the policy's job; this module only sizes.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) Engine {
	return Engine{cfg: cfg}
}

func floorToStep(x, step float64) float64 {
	if step <= 0 {
		return x
	}
	dx := decimal.NewFromFloat(x)
	ds := decimal.NewFromFloat(step)
	steps := dx.Div(ds).Floor()
	f, _ := steps.Mul(ds).Float64()
	return f
}

func ceilToStep(x, step float64) float64 {
	if step <= 0 {
		return x
	}
	dx := decimal.NewFromFloat(x)
	ds := decimal.NewFromFloat(step)
	steps := dx.Div(ds).Ceil()
	f, _ := steps.Mul(ds).Float64()
	return f
}

// BuildPlan is the engine's single entry point, short-circuiting on
// the first failing check and returning (ok=false, reason).
func (e Engine) BuildPlan(account AccountState, constraints broker.MarketConstraints, decision policy.Decision) Plan {
	cfg := e.cfg

	if decision.Confidence < cfg.MinConfidence {
		return Plan{OK: false, Reason: fmt.Sprintf("confidence<%.4f", cfg.MinConfidence)}
	}

	if !(account.EquityUSDT > 0 && account.FreeUSDT > 0) {
		return Plan{OK: false, Reason: "account_balance_invalid"}
	}

	riskBudget := cfg.RiskPerTradeUSDT
	if riskBudget <= 0 {
		riskBudget = account.EquityUSDT * (cfg.RiskPerTradePct / 100.0)
	}
	if riskBudget <= 0 {
		return Plan{OK: false, Reason: "risk_budget_invalid"}
	}

	entry := decision.EntryPrice
	sl := decision.SLPrice
	stopDist := abs(entry - sl)
	if stopDist <= 0 {
		return Plan{OK: false, Reason: "stop_distance_invalid"}
	}

	qty := floorToStep(riskBudget/stopDist, constraints.QtyStep)
	if constraints.MinQty > 0 {
		qty = maxF(constraints.MinQty, qty)
		qty = ceilToStep(qty, constraints.QtyStep)
	}
	if qty <= 0 {
		return Plan{OK: false, Reason: "qty_invalid"}
	}

	minNotional := constraints.MinNotionalUSDT
	if minNotional <= 0 {
		minNotional = 5.0
	}

	if cfg.MaxNotionalUSDT > 0 {
		capQty := cfg.MaxNotionalUSDT / entry
		qty = minF(qty, floorToStep(capQty, constraints.QtyStep))
		if constraints.MinQty > 0 {
			qty = maxF(constraints.MinQty, qty)
			qty = ceilToStep(qty, constraints.QtyStep)
		}
	}

	notional := qty * entry

	lev := cfg.DefaultLeverage
	lev = maxI(1, minI(cfg.MaxLeverage, lev))

	marginLimit := maxF(0, cfg.MarginUtilization*account.FreeUSDT)
	if cfg.MaxExposurePctPerSymbol > 0 {
		symbolCap := account.EquityUSDT * (cfg.MaxExposurePctPerSymbol / 100.0)
		marginLimit = minF(marginLimit, symbolCap)
	}
	if marginLimit <= 0 {
		return Plan{OK: false, Reason: "margin_limit_invalid"}
	}

	marginReq := notional / float64(lev)
	if marginReq > marginLimit {
		neededLev := ceilDiv(notional, marginLimit)
		lev = maxI(lev, minI(cfg.MaxLeverage, maxI(1, neededLev)))
		marginReq = notional / float64(lev)
	}

	if marginReq > marginLimit {
		qtyMax := (marginLimit * float64(lev)) / entry
		qty = minF(qty, floorToStep(qtyMax, constraints.QtyStep))
		if constraints.MinQty > 0 {
			qty = maxF(constraints.MinQty, qty)
			qty = ceilToStep(qty, constraints.QtyStep)
		}
		notional = qty * entry
		marginReq = notional / float64(lev)
	}

	if marginReq > marginLimit {
		return Plan{OK: false, Reason: "margin_too_high"}
	}
	if qty <= 0 {
		return Plan{OK: false, Reason: "qty_too_small_after_margin"}
	}

	if notional < minNotional {
		if strings.ToLower(string(cfg.MinNotionalPolicy)) != string(MinNotionalOverrideWithCap) {
			return Plan{OK: false, Reason: fmt.Sprintf("notional<%.4f", minNotional)}
		}

		qty2 := ceilToStep(minNotional/entry, constraints.QtyStep)
		if constraints.MinQty > 0 {
			qty2 = maxF(constraints.MinQty, qty2)
			qty2 = ceilToStep(qty2, constraints.QtyStep)
		}
		notional2 := qty2 * entry
		risk2 := qty2 * stopDist

		if risk2 > riskBudget*cfg.MaxRiskMultiplierOnOverride {
			return Plan{OK: false, Reason: "min_notional_override_risk_too_high"}
		}
		if cfg.MaxRiskOverrideUSDT > 0 && risk2 > cfg.MaxRiskOverrideUSDT {
			return Plan{OK: false, Reason: "min_notional_override_cap_exceeded"}
		}

		marginReq2 := notional2 / float64(lev)
		if marginReq2 > marginLimit {
			neededLev2 := ceilDiv(notional2, marginLimit)
			lev2 := minI(cfg.MaxLeverage, maxI(lev, neededLev2))
			marginReq2 = notional2 / float64(lev2)
			if marginReq2 > marginLimit {
				return Plan{OK: false, Reason: "min_notional_override_margin_too_high"}
			}
			lev = lev2
		}

		qty = qty2
		notional = notional2
	}

	riskUSDT := qty * stopDist
	riskPct := (riskUSDT / account.EquityUSDT) * 100.0

	return Plan{
		OK: true, Reason: "ok",
		Qty: qty, NotionalUSDT: notional, Leverage: lev,
		RiskUSDT: riskUSDT, RiskPct: riskPct,
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxI(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minI(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func ceilDiv(notional, marginLimit float64) int {
	if marginLimit <= 0 {
		return 1
	}
	n := notional / marginLimit
	i := int(n)
	if float64(i) < n {
		i++
	}
	return i
}
