package storage

import (
	"path/filepath"
	"testing"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/policy"
	"github.com/matodo9x-maker/bot-trade/internal/trade"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTradeRepo(t *testing.T) *TradeRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := NewTradeRepo(filepath.Join(dir, "open.csv"), filepath.Join(dir, "closed.csv"))
	require.NoError(t, err)
	return repo
}

func sampleAggregate(id string) trade.Aggregate {
	d := policy.Decision{Direction: broker.SideLong, EntryPrice: 100, SLPrice: 98, TPPrice: 104, RR: 2, RiskUnit: 2, Confidence: 0.8}
	return trade.CreateOpen(id, "BTCUSDT", "snap1", 1700000000, d, nil)
}

func TestTradeRepoSaveOpenAndGetOpen(t *testing.T) {
	repo := newTradeRepo(t)
	require.NoError(t, repo.SaveOpen(sampleAggregate("t1")))

	got, ok, err := repo.GetOpen("t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", got.Symbol)
}

func TestTradeRepoGetOpenReturnsLatestRow(t *testing.T) {
	repo := newTradeRepo(t)
	a := sampleAggregate("t1")
	require.NoError(t, repo.SaveOpen(a))

	require.NoError(t, a.AttachExecution(trade.ExecutionState{Status: trade.StatusOpen, Qty: 5}))
	require.NoError(t, repo.SaveOpen(a))

	got, ok, err := repo.GetOpen("t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5.0, got.ExecutionState.Qty)
}

func TestTradeRepoUpdateClosedRemovesFromOpen(t *testing.T) {
	repo := newTradeRepo(t)
	a := sampleAggregate("t1")
	require.NoError(t, repo.SaveOpen(a))

	require.NoError(t, a.AttachExecution(trade.ExecutionState{
		Status: trade.StatusClosed, EntryTimeUTC: 1700000000, EntryFillPrice: 100,
		ExitTimeUTC: 1700000600, ExitFillPrice: 104, ExitType: trade.ExitTypeTP, Qty: 1,
	}))
	require.NoError(t, repo.UpdateClosed(a))

	_, ok, err := repo.GetOpen("t1")
	require.NoError(t, err)
	assert.False(t, ok)

	closed, err := repo.ListClosed()
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, trade.StatusClosed, closed[0].ExecutionState.Status)
}

func TestTradeRepoListOpenCollapsesToLatestPerID(t *testing.T) {
	repo := newTradeRepo(t)
	a1 := sampleAggregate("t1")
	a2 := sampleAggregate("t2")
	require.NoError(t, repo.SaveOpen(a1))
	require.NoError(t, repo.SaveOpen(a2))
	require.NoError(t, a1.AttachExecution(trade.ExecutionState{Status: trade.StatusOpen, Qty: 9}))
	require.NoError(t, repo.SaveOpen(a1))

	open, err := repo.ListOpen()
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, a := range open {
		if a.TradeID == "t1" {
			assert.Equal(t, 9.0, a.ExecutionState.Qty)
		}
	}
}

func TestTradeRepoUpdateExecutionStateFailsForUnknownTrade(t *testing.T) {
	repo := newTradeRepo(t)
	ok, err := repo.UpdateExecutionState("missing", trade.ExecutionState{Status: trade.StatusOpen, Qty: 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTradeRepoUpdateExecutionStateRejectsReopeningClosedTrade(t *testing.T) {
	repo := newTradeRepo(t)
	a := sampleAggregate("t1")
	require.NoError(t, a.AttachExecution(trade.ExecutionState{
		Status: trade.StatusClosed, EntryTimeUTC: 1, EntryFillPrice: 100, ExitTimeUTC: 2, ExitFillPrice: 101,
	}))
	require.NoError(t, repo.SaveOpen(a))

	ok, err := repo.UpdateExecutionState("t1", trade.ExecutionState{Status: trade.StatusOpen})
	require.NoError(t, err)
	assert.False(t, ok)
}
