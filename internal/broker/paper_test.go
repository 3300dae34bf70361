package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperExchangeTickersSynthetic(t *testing.T) {
	p := NewPaperExchange(nil)
	out, err := p.Tickers(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	tk, ok := out["BTCUSDT"]
	require.True(t, ok)
	assert.Greater(t, tk.Last, 0.0)
	assert.Greater(t, tk.Ask, tk.Bid)
}

func TestPaperExchangePlaceEntryAndBrackets(t *testing.T) {
	p := NewPaperExchange(nil)
	ctx := context.Background()
	_, err := p.Tickers(ctx, []string{"ETHUSDT"})
	require.NoError(t, err)

	res, err := p.PlaceEntryAndBrackets(ctx, "ETHUSDT", SideLong, 1.5, 2100, 1950, "client-1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.EntryOrder.OrderID)
	assert.NotEmpty(t, res.TPOrderID)
	assert.NotEmpty(t, res.SLOrderID)
	assert.Equal(t, "FILLED", res.EntryOrder.Status)

	o, err := p.GetOrder(ctx, "ETHUSDT", res.TPOrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderTypeTakeProfit, o.Type)
}

func TestPaperExchangeBalances(t *testing.T) {
	SetPaperBalances(500, 400)
	defer SetPaperBalances(1000, 1000)
	p := NewPaperExchange(nil)
	equity, free, err := p.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 500.0, equity)
	assert.Equal(t, 400.0, free)
}
