// Package trade owns the trade lifecycle state machine (OPEN -> CLOSED)
// and reward/PnL computation, grounded on
// trade_ai/domain/entities/{trade_aggregate,execution_state,reward_state}.py
// and trade_ai/domain/services/{reward_calculator,mfe_mae_calculator}.py.
package trade

import (
	"fmt"
	"strings"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/policy"
)

// Status is an execution's lifecycle state. CLOSED is terminal.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// ExitType records why a position closed.
type ExitType string

const (
	ExitTypeTP      ExitType = "TP"
	ExitTypeSL      ExitType = "SL"
	ExitTypeUnknown ExitType = "UNKNOWN"
)

// ExecutionState tracks order fills and venue metadata for one trade.
type ExecutionState struct {
	Status Status

	EntryTimeUTC    int64
	EntryFillPrice  float64
	ExitTimeUTC     int64
	ExitFillPrice   float64
	ExitType        ExitType
	FeesTotal       float64
	FundingPaid     float64

	Exchange       string
	AccountType    string // "USDT-M"
	MarginMode     string // "isolated"
	PositionMode   string // "oneway"
	Leverage       int
	Qty            float64
	Notional       float64
	EntryOrderID   string
	TPOrderID      string
	SLOrderID      string
	ClientOrderID  string
}

// Validate enforces execution_state.py's validate(): a CLOSED
// execution must carry both entry and exit fill data.
func (e ExecutionState) Validate() error {
	if e.Status != StatusOpen && e.Status != StatusClosed {
		return fmt.Errorf("trade: status must be OPEN or CLOSED")
	}
	if e.Status == StatusClosed {
		if e.EntryTimeUTC == 0 || e.EntryFillPrice == 0 {
			return fmt.Errorf("trade: closed execution must have entry fill info")
		}
		if e.ExitTimeUTC == 0 || e.ExitFillPrice == 0 {
			return fmt.Errorf("trade: closed execution must have exit fill info")
		}
	}
	return nil
}

// RewardState is only attachable once execution is CLOSED.
type RewardState struct {
	PnLRaw         float64
	PnLR           float64
	MFE            float64
	MAE            float64
	HoldingSeconds int64
	RewardVersion  string

	HasPnLUSDT   bool
	PnLUSDT      float64
	HasRiskUSDT  bool
	RiskUSDT     float64
	HasQty       bool
	Qty          float64
	HasFeesUSDT  bool
	FeesUSDT     float64
	HasFundingUSDT bool
	FundingUSDT  float64
}

// Aggregate owns one decision, one execution state, and an optional
// reward, plus entry/exit snapshot references and policy metadata.
type Aggregate struct {
	SchemaVersion string
	TradeID       string
	Symbol        string

	EntrySnapshotID      string
	ExitSnapshotID       string
	EntrySnapshotTimeUTC int64
	ExitSnapshotTimeUTC  int64

	Decision       policy.Decision
	ExecutionState ExecutionState
	RewardState    *RewardState
	PolicyInfo     map[string]any
}

var errClosed = fmt.Errorf("trade: execution already closed")

// CreateOpen starts a new aggregate with an OPEN execution state.
func CreateOpen(tradeID, symbol, entrySnapshotID string, entrySnapshotTimeUTC int64, decision policy.Decision, policyInfo map[string]any) Aggregate {
	return Aggregate{
		SchemaVersion:        "v3",
		TradeID:              tradeID,
		Symbol:               symbol,
		EntrySnapshotID:      entrySnapshotID,
		EntrySnapshotTimeUTC: entrySnapshotTimeUTC,
		Decision:             decision,
		ExecutionState:       ExecutionState{Status: StatusOpen},
		PolicyInfo:           policyInfo,
	}
}

// AttachExecution merges in new fill/metadata fields, optionally
// closing the trade. Calling it on an already-CLOSED aggregate is an
// error; CLOSED is terminal.
func (a *Aggregate) AttachExecution(update ExecutionState) error {
	if a.ExecutionState.Status == StatusClosed {
		return errClosed
	}

	if update.EntryTimeUTC != 0 {
		a.ExecutionState.EntryTimeUTC = update.EntryTimeUTC
	}
	if update.EntryFillPrice != 0 {
		a.ExecutionState.EntryFillPrice = update.EntryFillPrice
	}
	if update.Exchange != "" {
		a.ExecutionState.Exchange = update.Exchange
	}
	if update.AccountType != "" {
		a.ExecutionState.AccountType = update.AccountType
	}
	if update.MarginMode != "" {
		a.ExecutionState.MarginMode = update.MarginMode
	}
	if update.PositionMode != "" {
		a.ExecutionState.PositionMode = update.PositionMode
	}
	if update.Leverage != 0 {
		a.ExecutionState.Leverage = update.Leverage
	}
	if update.Qty != 0 {
		a.ExecutionState.Qty = update.Qty
	}
	if update.Notional != 0 {
		a.ExecutionState.Notional = update.Notional
	}
	if update.EntryOrderID != "" {
		a.ExecutionState.EntryOrderID = update.EntryOrderID
	}
	if update.TPOrderID != "" {
		a.ExecutionState.TPOrderID = update.TPOrderID
	}
	if update.SLOrderID != "" {
		a.ExecutionState.SLOrderID = update.SLOrderID
	}
	if update.ClientOrderID != "" {
		a.ExecutionState.ClientOrderID = update.ClientOrderID
	}

	if update.Status == StatusOpen {
		a.ExecutionState.FeesTotal = update.FeesTotal
		a.ExecutionState.FundingPaid = update.FundingPaid
		return nil
	}

	a.ExecutionState.ExitTimeUTC = update.ExitTimeUTC
	a.ExecutionState.ExitFillPrice = update.ExitFillPrice
	a.ExecutionState.ExitType = update.ExitType
	a.ExecutionState.FeesTotal = update.FeesTotal
	a.ExecutionState.FundingPaid = update.FundingPaid
	a.ExecutionState.Status = StatusClosed
	return nil
}

// AttachReward records the computed reward, only valid once CLOSED.
func (a *Aggregate) AttachReward(r RewardState) error {
	if a.ExecutionState.Status != StatusClosed {
		return fmt.Errorf("trade: cannot attach reward unless trade is CLOSED")
	}
	a.RewardState = &r
	return nil
}

// PnLUSDT returns the realized USDT PnL for a closed trade, falling
// back to the raw per-unit PnL (scaled by qty when known) the way
// risk_guard_v1.py's _trade_pnl_usdt does when pnl_usdt wasn't stored.
// Callers reduce this into a risk.ClosedTrade for the guard's ledger
// scan rather than having internal/risk import this package.
func (a Aggregate) PnLUSDT() (float64, bool) {
	if a.RewardState == nil {
		return 0, false
	}
	if a.RewardState.HasPnLUSDT {
		return a.RewardState.PnLUSDT, true
	}
	if a.RewardState.HasQty {
		return a.RewardState.Qty * a.RewardState.PnLRaw, true
	}
	return a.RewardState.PnLRaw, true
}

// CalculateReward computes a RewardState from a closed execution and
// the decision it satisfied, plus the OHLC bars spanning the holding
// period (for MFE/MAE). execution.Status must already be CLOSED.
func CalculateReward(decision policy.Decision, execution ExecutionState, bars []broker.Candle) (RewardState, error) {
	if execution.Status != StatusClosed {
		return RewardState{}, fmt.Errorf("trade: execution must be CLOSED")
	}

	entryPrice := execution.EntryFillPrice
	exitPrice := execution.ExitFillPrice
	fees := execution.FeesTotal
	funding := execution.FundingPaid
	holdingSeconds := execution.ExitTimeUTC - execution.EntryTimeUTC

	dirSign := 1.0
	if strings.ToUpper(string(decision.Direction)) != "LONG" {
		dirSign = -1.0
	}
	priceDelta := (exitPrice - entryPrice) * dirSign

	feesUnit, fundingUnit := fees, funding
	var pnlUSDT, riskUSDT float64
	hasQty := execution.Qty > 0
	if hasQty {
		q := execution.Qty
		feesUnit = fees / q
		fundingUnit = funding / q
		pnlUSDT = (q * priceDelta) - fees - funding
		riskUSDT = q * decision.RiskUnit
	}

	pnlRaw := priceDelta - (feesUnit + fundingUnit)

	if decision.RiskUnit <= 0 {
		return RewardState{}, fmt.Errorf("trade: decision.risk_unit must be > 0")
	}
	pnlR := pnlRaw / decision.RiskUnit

	mfe, mae := calculateMFEMAE(entryPrice, decision.Direction, bars)

	return RewardState{
		PnLRaw: pnlRaw, PnLR: pnlR, MFE: mfe, MAE: mae,
		HoldingSeconds: holdingSeconds, RewardVersion: "v1",
		HasPnLUSDT: hasQty, PnLUSDT: pnlUSDT,
		HasRiskUSDT: hasQty, RiskUSDT: riskUSDT,
		HasQty: hasQty, Qty: execution.Qty,
		HasFeesUSDT: true, FeesUSDT: fees,
		HasFundingUSDT: true, FundingUSDT: funding,
	}, nil
}

// calculateMFEMAE computes MFE/MAE as non-negative magnitudes in both
// directions: for LONG, MFE is the best favorable excursion above entry
// and MAE the worst adverse excursion below entry; for SHORT the roles
// invert. Both are reported as |excursion|, never signed.
func calculateMFEMAE(entryPrice float64, direction broker.Side, bars []broker.Candle) (mfe, mae float64) {
	if len(bars) == 0 {
		return 0, 0
	}
	if strings.ToUpper(string(direction)) == "LONG" {
		mfe = bars[0].High - entryPrice
		worstAdverse := bars[0].Low - entryPrice
		for _, b := range bars[1:] {
			if v := b.High - entryPrice; v > mfe {
				mfe = v
			}
			if v := b.Low - entryPrice; v < worstAdverse {
				worstAdverse = v
			}
		}
		mae = -worstAdverse
		return mfe, mae
	}

	mfe = entryPrice - bars[0].Low
	worstAdverse := entryPrice - bars[0].High
	for _, b := range bars[1:] {
		if v := entryPrice - b.Low; v > mfe {
			mfe = v
		}
		if v := entryPrice - b.High; v < worstAdverse {
			worstAdverse = v
		}
	}
	mae = -worstAdverse
	return mfe, mae
}
