package risk

import (
	"sort"
	"time"
)

// ClosedTrade is the minimal view of a closed trade the guard needs;
// internal/trade's TradeAggregate is reduced to this shape by the
// caller so this package never imports internal/trade.
type ClosedTrade struct {
	ExitTimeUTC int64
	PnLUSDT     float64
}

// GuardConfig mirrors RiskGuardConfig's fields and defaults.
type GuardConfig struct {
	MaxDailyLossUSDT     float64 // 0 means unset
	MaxDailyLossPct      float64 // 0 means unset
	MaxConsecutiveLosses int
	CooldownSec          int64
	MaxTradesPerDay      int // 0 means unset
}

// DefaultGuardConfig mirrors RiskGuardConfig's published defaults.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{MaxConsecutiveLosses: 3}
}

// GuardResult is the guard's per-check verdict plus diagnostic metrics.
type GuardResult struct {
	OK      bool
	Reason  string
	Metrics map[string]float64
}

// Guard evaluates the recent closed-trade ledger before a new entry.
type Guard struct {
	cfg GuardConfig
}

func NewGuard(cfg GuardConfig) Guard {
	return Guard{cfg: cfg}
}

// Check runs the guard's five gates in order: cooldown, daily trade
// cap, daily loss USDT, daily loss %, and consecutive-loss streak.
// "Today" is computed by normalizing nowUTC to UTC before truncating
// to a calendar day boundary, never mixing a naive and tz-aware read
// of the same timestamp the way risk_guard_v1.py's datetime handling
// risks.
func (g Guard) Check(closed []ClosedTrade, nowUTC time.Time, equityUSDT float64) GuardResult {
	now := nowUTC.UTC()
	dayStart := now.Truncate(24 * time.Hour)

	sorted := make([]ClosedTrade, len(closed))
	copy(sorted, closed)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ExitTimeUTC < sorted[j].ExitTimeUTC })

	var today []ClosedTrade
	for _, t := range sorted {
		if t.ExitTimeUTC >= dayStart.Unix() {
			today = append(today, t)
		}
	}
	var pnlToday float64
	for _, t := range today {
		pnlToday += t.PnLUSDT
	}
	nToday := len(today)

	if g.cfg.CooldownSec > 0 && len(sorted) > 0 {
		lastExit := sorted[len(sorted)-1].ExitTimeUTC
		sinceExit := now.Unix() - lastExit
		if lastExit > 0 && sinceExit < g.cfg.CooldownSec {
			return GuardResult{OK: false, Reason: "cooldown", Metrics: map[string]float64{
				"cooldown_sec": float64(g.cfg.CooldownSec), "seconds_since_last_exit": float64(sinceExit),
			}}
		}
	}

	if g.cfg.MaxTradesPerDay > 0 && nToday >= g.cfg.MaxTradesPerDay {
		return GuardResult{OK: false, Reason: "max_trades_per_day", Metrics: map[string]float64{
			"trades_today": float64(nToday), "max_trades_per_day": float64(g.cfg.MaxTradesPerDay),
		}}
	}

	if g.cfg.MaxDailyLossUSDT > 0 && pnlToday <= -absF(g.cfg.MaxDailyLossUSDT) {
		return GuardResult{OK: false, Reason: "max_daily_loss_usdt", Metrics: map[string]float64{
			"pnl_today_usdt": pnlToday, "max_daily_loss_usdt": g.cfg.MaxDailyLossUSDT,
		}}
	}

	if g.cfg.MaxDailyLossPct > 0 && equityUSDT > 0 {
		cap := equityUSDT * (g.cfg.MaxDailyLossPct / 100.0)
		if pnlToday <= -absF(cap) {
			return GuardResult{OK: false, Reason: "max_daily_loss_pct", Metrics: map[string]float64{
				"pnl_today_usdt": pnlToday, "cap_usdt": cap, "max_daily_loss_pct": g.cfg.MaxDailyLossPct,
			}}
		}
	}

	if g.cfg.MaxConsecutiveLosses > 0 && len(sorted) > 0 {
		streak := 0
		for i := len(sorted) - 1; i >= 0; i-- {
			if sorted[i].PnLUSDT < 0 {
				streak++
				if streak >= g.cfg.MaxConsecutiveLosses {
					return GuardResult{OK: false, Reason: "max_consecutive_losses", Metrics: map[string]float64{
						"loss_streak": float64(streak), "max_consecutive_losses": float64(g.cfg.MaxConsecutiveLosses),
					}}
				}
			} else {
				break
			}
		}
	}

	return GuardResult{OK: true, Reason: "ok", Metrics: map[string]float64{
		"pnl_today_usdt": pnlToday, "trades_today": float64(nToday),
	}}
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
