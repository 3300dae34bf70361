package trade

import (
	"testing"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDecision() policy.Decision {
	return policy.Decision{Direction: broker.SideLong, EntryPrice: 100, SLPrice: 98, TPPrice: 104, RR: 2, RiskUnit: 2, Confidence: 0.9}
}

func TestCreateOpenStartsOpen(t *testing.T) {
	a := CreateOpen("t1", "BTCUSDT", "snap1", 1700000000, sampleDecision(), nil)
	assert.Equal(t, StatusOpen, a.ExecutionState.Status)
}

func TestAttachExecutionClosesAndIsTerminal(t *testing.T) {
	a := CreateOpen("t1", "BTCUSDT", "snap1", 1700000000, sampleDecision(), nil)
	err := a.AttachExecution(ExecutionState{
		Status: StatusClosed, EntryTimeUTC: 1700000000, EntryFillPrice: 100,
		ExitTimeUTC: 1700000600, ExitFillPrice: 104, ExitType: ExitTypeTP, Qty: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, a.ExecutionState.Status)

	err = a.AttachExecution(ExecutionState{Status: StatusOpen})
	assert.ErrorIs(t, err, errClosed)
}

func TestExecutionStateValidateRequiresFillsWhenClosed(t *testing.T) {
	e := ExecutionState{Status: StatusClosed}
	assert.Error(t, e.Validate())

	e2 := ExecutionState{Status: StatusClosed, EntryTimeUTC: 1, EntryFillPrice: 1, ExitTimeUTC: 2, ExitFillPrice: 2}
	assert.NoError(t, e2.Validate())
}

func TestAttachRewardRequiresClosed(t *testing.T) {
	a := CreateOpen("t1", "BTCUSDT", "snap1", 1700000000, sampleDecision(), nil)
	err := a.AttachReward(RewardState{PnLRaw: 1, PnLR: 0.5})
	assert.Error(t, err)
}

func TestCalculateRewardLongWithQty(t *testing.T) {
	exec := ExecutionState{
		Status: StatusClosed, EntryTimeUTC: 1700000000, EntryFillPrice: 100,
		ExitTimeUTC: 1700000600, ExitFillPrice: 104, ExitType: ExitTypeTP,
		Qty: 2, FeesTotal: 0.4, FundingPaid: 0.1,
	}
	bars := []broker.Candle{
		{High: 105, Low: 99},
		{High: 106, Low: 97},
	}
	r, err := CalculateReward(sampleDecision(), exec, bars)
	require.NoError(t, err)
	assert.True(t, r.HasPnLUSDT)
	assert.InDelta(t, (2*4.0)-0.4-0.1, r.PnLUSDT, 1e-9)
	assert.InDelta(t, 6.0, r.MFE, 1e-9)
	assert.InDelta(t, 3.0, r.MAE, 1e-9)
	assert.Equal(t, int64(600), r.HoldingSeconds)
}

func TestCalculateRewardRejectsZeroRiskUnit(t *testing.T) {
	d := sampleDecision()
	d.RiskUnit = 0
	exec := ExecutionState{Status: StatusClosed, EntryTimeUTC: 1, EntryFillPrice: 100, ExitTimeUTC: 2, ExitFillPrice: 101}
	_, err := CalculateReward(d, exec, nil)
	assert.Error(t, err)
}

func TestCalculateRewardRejectsNonClosedExecution(t *testing.T) {
	exec := ExecutionState{Status: StatusOpen}
	_, err := CalculateReward(sampleDecision(), exec, nil)
	assert.Error(t, err)
}

func TestPnLUSDTFallsBackToRawTimesQty(t *testing.T) {
	a := CreateOpen("t1", "BTCUSDT", "snap1", 1700000000, sampleDecision(), nil)
	a.RewardState = &RewardState{PnLRaw: 2.0, HasQty: true, Qty: 3.0}
	pnl, ok := a.PnLUSDT()
	assert.True(t, ok)
	assert.InDelta(t, 6.0, pnl, 1e-9)
}
