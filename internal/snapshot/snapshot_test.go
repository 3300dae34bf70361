package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	bars map[string][]broker.Candle
}

func (f *fakeExchange) Name() string { return "fake" }
func (f *fakeExchange) ListActiveSymbols(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeExchange) Tickers(ctx context.Context, symbols []string) (map[string]broker.Ticker, error) {
	return map[string]broker.Ticker{}, nil
}
func (f *fakeExchange) OHLCV(ctx context.Context, symbol, tf string, limit int) ([]broker.Candle, error) {
	return f.bars[tf], nil
}
func (f *fakeExchange) FundingRate(ctx context.Context, symbol string) (float64, error) { return 0.0001, nil }
func (f *fakeExchange) OpenInterest(ctx context.Context, symbol string) (float64, bool, error) {
	return 0, false, nil
}
func (f *fakeExchange) Balance(ctx context.Context) (float64, float64, error) { return 1000, 1000, nil }
func (f *fakeExchange) MarketConstraints(ctx context.Context, symbol string) (broker.MarketConstraints, error) {
	return broker.MarketConstraints{MinNotionalUSDT: 5, QtyStep: 0.001}, nil
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

func makeBars(n int, tf string, start float64) []broker.Candle {
	out := make([]broker.Candle, n)
	step := tfDuration(tf)
	price := start
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		o := price
		c := price * 1.001
		out[i] = broker.Candle{
			OpenTime: base.Add(time.Duration(i) * step),
			Open:     o, High: c * 1.002, Low: o * 0.998, Close: c, Volume: 100,
		}
		price = c
	}
	return out
}

func TestBuilderProducesValidSnapshot(t *testing.T) {
	ex := &fakeExchange{bars: map[string][]broker.Candle{
		"5m":  makeBars(230, "5m", 100),
		"15m": makeBars(230, "15m", 100),
		"1h":  makeBars(230, "1h", 100),
		"4h":  makeBars(230, "4h", 100),
	}}
	b, err := NewBuilder(ex, DefaultConfig())
	require.NoError(t, err)
	b.now = func() time.Time {
		last := ex.bars["5m"][len(ex.bars["5m"])-1]
		return last.OpenTime.Add(6 * time.Minute)
	}

	snap, err := b.Build(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NoError(t, snap.Validate())
	assert.LessOrEqual(t, snap.SnapshotTimeUTC, snap.ObserverTimeUTC)
	assert.Equal(t, "5m", snap.LTF.TF)
	assert.Contains(t, snap.HTF, "15m")
	assert.Contains(t, snap.HTF, "1h")
	assert.Contains(t, snap.HTF, "4h")
}

func TestBuilderRejectsBadConfig(t *testing.T) {
	_, err := NewBuilder(&fakeExchange{}, Config{LTFTF: "1m", HTFTFs: []string{"15m", "1h", "4h"}})
	require.Error(t, err)

	_, err = NewBuilder(&fakeExchange{}, Config{LTFTF: "5m", HTFTFs: []string{"15m", "1h"}})
	require.Error(t, err)
}

func TestSnapshotIDDeterministic(t *testing.T) {
	id1 := computeSnapshotID("binance", "BTCUSDT", "5m", 1700000100)
	id2 := computeSnapshotID("binance", "BTCUSDT", "5m", 1700000100)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 20)
}
