package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuardCooldown(t *testing.T) {
	g := NewGuard(GuardConfig{CooldownSec: 600})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	closed := []ClosedTrade{{ExitTimeUTC: now.Add(-5 * time.Minute).Unix(), PnLUSDT: 10}}
	res := g.Check(closed, now, 1000)
	assert.False(t, res.OK)
	assert.Equal(t, "cooldown", res.Reason)
}

func TestGuardMaxTradesPerDay(t *testing.T) {
	g := NewGuard(GuardConfig{MaxTradesPerDay: 2})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	dayStart := now.Truncate(24 * time.Hour)
	closed := []ClosedTrade{
		{ExitTimeUTC: dayStart.Add(time.Hour).Unix(), PnLUSDT: 5},
		{ExitTimeUTC: dayStart.Add(2 * time.Hour).Unix(), PnLUSDT: 5},
	}
	res := g.Check(closed, now, 1000)
	assert.False(t, res.OK)
	assert.Equal(t, "max_trades_per_day", res.Reason)
}

func TestGuardDailyLossUSDT(t *testing.T) {
	g := NewGuard(GuardConfig{MaxDailyLossUSDT: 50})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	dayStart := now.Truncate(24 * time.Hour)
	closed := []ClosedTrade{{ExitTimeUTC: dayStart.Add(time.Hour).Unix(), PnLUSDT: -60}}
	res := g.Check(closed, now, 1000)
	assert.False(t, res.OK)
	assert.Equal(t, "max_daily_loss_usdt", res.Reason)
}

func TestGuardConsecutiveLosses(t *testing.T) {
	g := NewGuard(GuardConfig{MaxConsecutiveLosses: 3})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	closed := []ClosedTrade{
		{ExitTimeUTC: now.Add(-4 * time.Hour).Unix(), PnLUSDT: -1},
		{ExitTimeUTC: now.Add(-3 * time.Hour).Unix(), PnLUSDT: -1},
		{ExitTimeUTC: now.Add(-2 * time.Hour).Unix(), PnLUSDT: -1},
	}
	res := g.Check(closed, now, 1000)
	assert.False(t, res.OK)
	assert.Equal(t, "max_consecutive_losses", res.Reason)
}

func TestGuardUTCBucketingDoesNotLeakPriorDayLosses(t *testing.T) {
	g := NewGuard(GuardConfig{MaxDailyLossUSDT: 50})
	now := time.Date(2026, 1, 2, 0, 30, 0, 0, time.UTC)
	closed := []ClosedTrade{{ExitTimeUTC: now.Add(-2 * time.Hour).Unix(), PnLUSDT: -1000}}
	res := g.Check(closed, now, 1000)
	assert.True(t, res.OK)
}

func TestGuardOKWhenNoTrades(t *testing.T) {
	g := NewGuard(DefaultGuardConfig())
	res := g.Check(nil, time.Now(), 1000)
	assert.True(t, res.OK)
}
