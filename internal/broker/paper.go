package broker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperExchange simulates a venue over real or synthetic tickers: reads
// (tickers, OHLCV, funding) are delegated to an optional underlying
// Exchange for realistic market data, while all writes (orders,
// leverage, margin mode) are simulated in memory. Grounded on the
// teacher's PaperBroker (broker_paper.go) generalized from a single
// fixed-price bootstrap to a multi-symbol price cache fed by the
// delegate.
type PaperExchange struct {
	delegate Exchange // optional; nil means fully synthetic (demo mode)

	mu       sync.Mutex
	lastSeen map[string]float64
	orders   map[string]*PlacedOrder
}

// NewPaperExchange wraps delegate (which may be nil for a fully
// synthetic venue) to simulate order placement without touching a
// real account.
func NewPaperExchange(delegate Exchange) *PaperExchange {
	return &PaperExchange{
		delegate: delegate,
		lastSeen: make(map[string]float64),
		orders:   make(map[string]*PlacedOrder),
	}
}

func (p *PaperExchange) Name() string { return "paper" }

func (p *PaperExchange) ListActiveSymbols(ctx context.Context) ([]string, error) {
	if p.delegate != nil {
		return p.delegate.ListActiveSymbols(ctx)
	}
	return []string{"BTCUSDT", "ETHUSDT"}, nil
}

func (p *PaperExchange) Tickers(ctx context.Context, symbols []string) (map[string]Ticker, error) {
	if p.delegate != nil {
		out, err := p.delegate.Tickers(ctx, symbols)
		if err == nil {
			p.mu.Lock()
			for sym, t := range out {
				p.lastSeen[sym] = t.Last
			}
			p.mu.Unlock()
		}
		return out, err
	}
	out := make(map[string]Ticker, len(symbols))
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sym := range symbols {
		price := p.lastSeen[sym]
		if price <= 0 {
			price = syntheticSeedPrice(sym)
			p.lastSeen[sym] = price
		}
		out[sym] = Ticker{Symbol: sym, Bid: price * 0.9995, Ask: price * 1.0005, Last: price, Timestamp: time.Now().UTC()}
	}
	return out, nil
}

func (p *PaperExchange) OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if p.delegate != nil {
		return p.delegate.OHLCV(ctx, symbol, timeframe, limit)
	}
	return syntheticCandles(symbol, timeframe, limit), nil
}

func (p *PaperExchange) FundingRate(ctx context.Context, symbol string) (float64, error) {
	if p.delegate != nil {
		return p.delegate.FundingRate(ctx, symbol)
	}
	return 0, nil
}

func (p *PaperExchange) OpenInterest(ctx context.Context, symbol string) (float64, bool, error) {
	if p.delegate != nil {
		return p.delegate.OpenInterest(ctx, symbol)
	}
	return 0, false, nil
}

func (p *PaperExchange) Balance(ctx context.Context) (float64, float64, error) {
	return paperEquityUSDT, paperFreeUSDT, nil
}

// paperEquityUSDT/paperFreeUSDT are set once at wiring time from config;
// kept package-level to match the teacher's env-driven paper balance
// pattern (GetAvailableBase/GetAvailableQuote reading PAPER_* env vars)
// without re-reading the environment on every call.
var (
	paperEquityUSDT = 1000.0
	paperFreeUSDT   = 1000.0
)

// SetPaperBalances configures the simulated account; called once during
// wiring from the loaded Config.
func SetPaperBalances(equity, free float64) {
	paperEquityUSDT = equity
	paperFreeUSDT = free
}

func (p *PaperExchange) MarketConstraints(ctx context.Context, symbol string) (MarketConstraints, error) {
	if p.delegate != nil {
		return p.delegate.MarketConstraints(ctx, symbol)
	}
	return MarketConstraints{MinNotionalUSDT: 5, MinQty: 0.001, QtyStep: 0.001, PriceStep: 0.01}, nil
}

func (p *PaperExchange) SetOneWayMode(ctx context.Context) error          { return nil }
func (p *PaperExchange) SetIsolatedMargin(ctx context.Context, s string) error { return nil }
func (p *PaperExchange) SetLeverage(ctx context.Context, s string, l int) error { return nil }

func (p *PaperExchange) PlaceEntryAndBrackets(ctx context.Context, symbol string, side Side, qty, tpPrice, slPrice float64, clientID string) (*BracketResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price := p.lastSeen[symbol]
	if price <= 0 {
		price = syntheticSeedPrice(symbol)
	}
	entry := &PlacedOrder{
		OrderID:  uuid.New().String(),
		Symbol:   symbol,
		Type:     OrderTypeMarket,
		Side:     side,
		Qty:      qty,
		Price:    price,
		Status:   "FILLED",
		FilledAt: time.Now().UTC(),
	}
	tpID := uuid.New().String()
	slID := uuid.New().String()
	p.orders[entry.OrderID] = entry
	p.orders[tpID] = &PlacedOrder{OrderID: tpID, Symbol: symbol, Type: OrderTypeTakeProfit, Side: side, Qty: qty, Price: tpPrice, Status: "NEW"}
	p.orders[slID] = &PlacedOrder{OrderID: slID, Symbol: symbol, Type: OrderTypeStopMarket, Side: side, Qty: qty, Price: slPrice, Status: "NEW"}
	return &BracketResult{EntryOrder: entry, TPOrderID: tpID, SLOrderID: slID, ClientID: clientID}, nil
}

func (p *PaperExchange) GetOrder(ctx context.Context, symbol, orderID string) (*PlacedOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.orders[orderID]; ok {
		return o, nil
	}
	return nil, ErrUnsupported
}

func (p *PaperExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.orders[orderID]; ok {
		o.Status = "CANCELED"
	}
	return nil
}

func (p *PaperExchange) PositionQty(ctx context.Context, symbol string) (float64, error) {
	// The paper venue never closes positions out from under the runtime;
	// the monitor loop tracks open quantity from the trade aggregate
	// instead of querying the venue.
	return 0, ErrUnsupported
}

func syntheticSeedPrice(symbol string) float64 {
	h := 0
	for _, c := range symbol {
		h = h*31 + int(c)
	}
	if h < 0 {
		h = -h
	}
	return 10 + float64(h%90000)/100.0
}

func syntheticCandles(symbol, timeframe string, limit int) []Candle {
	r := rand.New(rand.NewSource(int64(len(symbol)) + int64(limit)))
	price := syntheticSeedPrice(symbol)
	now := time.Now().UTC()
	step := timeframeDuration(timeframe)
	out := make([]Candle, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		o := price
		c := price * (1 + (r.Float64()-0.5)*0.01)
		h := max2(o, c) * (1 + r.Float64()*0.002)
		l := min2(o, c) * (1 - r.Float64()*0.002)
		out = append(out, Candle{
			OpenTime: now.Add(-time.Duration(i+1) * step),
			Open:     o, High: h, Low: l, Close: c,
			Volume: 1000 + r.Float64()*500,
		})
		price = c
	}
	return out
}

func timeframeDuration(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
