// Package broker defines the uniform capability set the runtime needs
// over a USDT-margined perpetual futures venue, and provides concrete
// implementations for Binance, a deterministic paper venue, and a
// synthetic demo venue.
//
// The interface shape follows the teacher's Broker interface (broker.go):
// a small set of methods the trading loop calls directly, with venue
// quirks hidden behind each implementation rather than leaking into the
// interface.
package broker

import (
	"context"
	"errors"
	"time"
)

// Side is the direction of an order or position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Candle is one OHLCV bar on a given timeframe.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Ticker is a best bid/ask/last snapshot for a symbol.
type Ticker struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	QuoteVol  float64
	Timestamp time.Time
}

// MarketConstraints describes venue-imposed sizing limits for a symbol.
type MarketConstraints struct {
	MinNotionalUSDT float64
	MinQty          float64
	QtyStep         float64
	PriceStep       float64
}

// OrderType distinguishes the three order legs of a bracket.
type OrderType string

const (
	OrderTypeMarket         OrderType = "MARKET"
	OrderTypeTakeProfit     OrderType = "TAKE_PROFIT_MARKET"
	OrderTypeStopMarket     OrderType = "STOP_MARKET"
)

// PlacedOrder normalizes a venue order response.
type PlacedOrder struct {
	OrderID  string
	Symbol   string
	Type     OrderType
	Side     Side
	Qty      float64
	Price    float64
	Status   string
	FilledAt time.Time
}

// BracketResult is the outcome of placing an entry plus TP/SL legs.
// TP/SL order IDs may be empty when the venue does not support the
// corresponding order type; the runtime must tolerate that and fall
// back to monitoring price against the configured levels.
type BracketResult struct {
	EntryOrder *PlacedOrder
	TPOrderID  string
	SLOrderID  string
	ClientID   string
}

// ErrUnsupported signals a best-effort operation the venue does not
// implement (e.g. stop orders on some testnets); callers must treat it
// as a soft failure, not a fatal one.
var ErrUnsupported = errors.New("broker: operation not supported by venue")

// Exchange is the capability set the runtime needs from any USDT-M
// futures venue.
type Exchange interface {
	Name() string

	// ListActiveSymbols returns all tradable USDT-margined linear
	// perpetual symbols, e.g. "BTCUSDT".
	ListActiveSymbols(ctx context.Context) ([]string, error)

	// Tickers returns a best-effort batch of tickers for the given
	// symbols (or all active symbols if symbols is empty).
	Tickers(ctx context.Context, symbols []string) (map[string]Ticker, error)

	// OHLCV returns up to limit closed-or-open bars ending at "now",
	// most recent last. The caller (snapshot builder) is responsible
	// for dropping a still-open last bar.
	OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)

	// FundingRate returns the current funding rate, or 0 on failure.
	FundingRate(ctx context.Context, symbol string) (float64, error)

	// OpenInterest returns open interest in base units, or (0, false)
	// when unavailable.
	OpenInterest(ctx context.Context, symbol string) (float64, bool, error)

	// Balance returns USDT-M equity and free margin.
	Balance(ctx context.Context) (equity float64, free float64, err error)

	// MarketConstraints returns sizing limits for a symbol.
	MarketConstraints(ctx context.Context, symbol string) (MarketConstraints, error)

	// SetOneWayMode, SetIsolatedMargin, SetLeverage are best-effort:
	// a venue that rejects a no-op change (already set) must not
	// surface an error the caller has to special-case.
	SetOneWayMode(ctx context.Context) error
	SetIsolatedMargin(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceEntryAndBrackets submits one market entry order plus a
	// take-profit and a stop-loss leg. The Binance implementation places
	// both legs as close-position trigger orders at mark price
	// (TAKE_PROFIT_MARKET and STOP_MARKET); the take-profit leg is not a
	// resting limit order.
	PlaceEntryAndBrackets(ctx context.Context, symbol string, side Side, qty, tpPrice, slPrice float64, clientID string) (*BracketResult, error)

	GetOrder(ctx context.Context, symbol, orderID string) (*PlacedOrder, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// PositionQty returns the signed position size (positive long,
	// negative short, ~0 flat).
	PositionQty(ctx context.Context, symbol string) (float64, error)
}
