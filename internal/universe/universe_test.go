package universe

import (
	"context"
	"testing"
	"time"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	symbols []string
	tickers map[string]broker.Ticker
	bars    map[string][]broker.Candle
	funding map[string]float64
}

func (f *fakeExchange) Name() string { return "fake" }
func (f *fakeExchange) ListActiveSymbols(ctx context.Context) ([]string, error) {
	return f.symbols, nil
}
func (f *fakeExchange) Tickers(ctx context.Context, symbols []string) (map[string]broker.Ticker, error) {
	return f.tickers, nil
}
func (f *fakeExchange) OHLCV(ctx context.Context, symbol, tf string, limit int) ([]broker.Candle, error) {
	return f.bars[symbol], nil
}
func (f *fakeExchange) FundingRate(ctx context.Context, symbol string) (float64, error) {
	return f.funding[symbol], nil
}
func (f *fakeExchange) OpenInterest(ctx context.Context, symbol string) (float64, bool, error) {
	return 0, false, nil
}
func (f *fakeExchange) Balance(ctx context.Context) (float64, float64, error) { return 1000, 1000, nil }
func (f *fakeExchange) MarketConstraints(ctx context.Context, symbol string) (broker.MarketConstraints, error) {
	return broker.MarketConstraints{}, nil
}
func (f *fakeExchange) SetOneWayMode(ctx context.Context) error                      { return nil }
func (f *fakeExchange) SetIsolatedMargin(ctx context.Context, symbol string) error    { return nil }
func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, lev int) error { return nil }
func (f *fakeExchange) PlaceEntryAndBrackets(ctx context.Context, symbol string, side broker.Side, qty, tp, sl float64, clientID string) (*broker.BracketResult, error) {
	return nil, broker.ErrUnsupported
}
func (f *fakeExchange) GetOrder(ctx context.Context, symbol, orderID string) (*broker.PlacedOrder, error) {
	return nil, broker.ErrUnsupported
}
func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeExchange) PositionQty(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}

func makeBars(n int, start float64, step float64) []broker.Candle {
	out := make([]broker.Candle, n)
	price := start
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		o := price
		c := price + step
		out[i] = broker.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     o, High: c + step, Low: o - step, Close: c, Volume: 1000,
		}
		price = c
	}
	return out
}

func TestSelectorPicksLiquidLowCorrelatedSymbols(t *testing.T) {
	symbols := []string{"BTCUSDT", "ETHUSDT", "XYZUSDT", "USDCUSDT"}
	ex := &fakeExchange{
		symbols: symbols,
		tickers: map[string]broker.Ticker{
			"BTCUSDT":  {Symbol: "BTCUSDT", Bid: 100, Ask: 100.05, Last: 100, QuoteVol: 50_000_000},
			"ETHUSDT":  {Symbol: "ETHUSDT", Bid: 50, Ask: 50.02, Last: 50, QuoteVol: 40_000_000},
			"XYZUSDT":  {Symbol: "XYZUSDT", Bid: 1, Ask: 1.0005, Last: 1, QuoteVol: 30_000_000},
			"USDCUSDT": {Symbol: "USDCUSDT", Bid: 1, Ask: 1.0001, Last: 1, QuoteVol: 100_000_000},
		},
		bars: map[string][]broker.Candle{
			"BTCUSDT": makeBars(260, 100, 1.0),
			"ETHUSDT": makeBars(260, 50, -0.6),
			"XYZUSDT": makeBars(260, 1, 0.02),
		},
		funding: map[string]float64{"BTCUSDT": 0.0001, "ETHUSDT": 0.0001, "XYZUSDT": 0.0001},
	}

	sel := NewSelector(DefaultConfig())
	report, err := sel.Select(context.Background(), ex, nil, nil, nil)
	require.NoError(t, err)

	var syms []string
	for _, c := range report.Selected {
		syms = append(syms, c.Symbol)
	}
	assert.NotContains(t, syms, "USDCUSDT", "stablecoin base must be excluded")
	assert.NotEmpty(t, syms)
}

func TestSelectorFallsBackWhenNothingScores(t *testing.T) {
	ex := &fakeExchange{symbols: nil, tickers: map[string]broker.Ticker{}}
	sel := NewSelector(DefaultConfig())
	report, err := sel.Select(context.Background(), ex, nil, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, report.Selected)
}

func TestPearsonDetectsPerfectCorrelation(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	b := []float64{2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22, 24}
	c, ok := pearson(a, b)
	require.True(t, ok)
	assert.InDelta(t, 1.0, c, 1e-9)
}

func TestATRPctFromCandles(t *testing.T) {
	bars := makeBars(30, 100, 1.0)
	pct, ok := atrPctFromCandles(bars, 14)
	require.True(t, ok)
	assert.Greater(t, pct, 0.0)
}
