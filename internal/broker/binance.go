package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/hashicorp/go-retryablehttp"
)

// BinanceExchange implements Exchange over Binance's USDT-M futures API,
// grounded on the client construction and order-placement shape in
// execution_service.go/predator_engine.go (binance.NewFuturesClient,
// futures.UseTestnet, NewCreateOrderService chains). Every call,
// funding rate and open interest included, goes through the futures
// client; the retryablehttp client and baseURL that NewBinanceExchange
// builds are not used by any method, so no call is retried.
type BinanceExchange struct {
	client     *futures.Client
	httpClient *retryablehttp.Client
	baseURL    string
}

// NewBinanceExchange builds a client against either the production or
// testnet USDT-M futures API.
func NewBinanceExchange(apiKey, apiSecret string, testnet bool) *BinanceExchange {
	futures.UseTestnet = testnet
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil

	base := "https://fapi.binance.com"
	if testnet {
		base = "https://testnet.binancefuture.com"
	}
	return &BinanceExchange{
		client:     futures.NewClient(apiKey, apiSecret),
		httpClient: rc,
		baseURL:    base,
	}
}

func (b *BinanceExchange) Name() string { return "binance" }

func (b *BinanceExchange) ListActiveSymbols(ctx context.Context) ([]string, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: exchange info: %w", err)
	}
	out := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" {
			continue
		}
		if s.QuoteAsset != "USDT" {
			continue
		}
		if s.Status != "TRADING" {
			continue
		}
		out = append(out, s.Symbol)
	}
	return out, nil
}

func (b *BinanceExchange) Tickers(ctx context.Context, symbols []string) (map[string]Ticker, error) {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	books, err := b.client.NewListBookTickersService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: book tickers: %w", err)
	}
	prices, err := b.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: list prices: %w", err)
	}
	lastBySymbol := make(map[string]float64, len(prices))
	for _, p := range prices {
		lastBySymbol[p.Symbol] = atofOrZero(p.Price)
	}

	out := make(map[string]Ticker)
	now := time.Now().UTC()
	for _, bt := range books {
		if len(want) > 0 && !want[bt.Symbol] {
			continue
		}
		out[bt.Symbol] = Ticker{
			Symbol:    bt.Symbol,
			Bid:       atofOrZero(bt.BidPrice),
			Ask:       atofOrZero(bt.AskPrice),
			Last:      lastBySymbol[bt.Symbol],
			Timestamp: now,
		}
	}
	return out, nil
}

func (b *BinanceExchange) OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	kl, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", symbol, timeframe, err)
	}
	out := make([]Candle, 0, len(kl))
	for _, k := range kl {
		out = append(out, Candle{
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     atofOrZero(k.Open),
			High:     atofOrZero(k.High),
			Low:      atofOrZero(k.Low),
			Close:    atofOrZero(k.Close),
			Volume:   atofOrZero(k.Volume),
		})
	}
	return out, nil
}

func (b *BinanceExchange) FundingRate(ctx context.Context, symbol string) (float64, error) {
	rates, err := b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil || len(rates) == 0 {
		return 0, nil
	}
	return atofOrZero(rates[0].LastFundingRate), nil
}

func (b *BinanceExchange) OpenInterest(ctx context.Context, symbol string) (float64, bool, error) {
	oi, err := b.client.NewOpenInterestService().Symbol(symbol).Do(ctx)
	if err != nil || oi == nil {
		return 0, false, nil
	}
	return atofOrZero(oi.OpenInterest), true, nil
}

func (b *BinanceExchange) Balance(ctx context.Context) (float64, float64, error) {
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("binance: balance: %w", err)
	}
	for _, bal := range balances {
		if bal.Asset == "USDT" {
			equity := atofOrZero(bal.Balance)
			free := atofOrZero(bal.AvailableBalance)
			return equity, free, nil
		}
	}
	return 0, 0, fmt.Errorf("binance: no USDT balance entry")
}

func (b *BinanceExchange) MarketConstraints(ctx context.Context, symbol string) (MarketConstraints, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return MarketConstraints{}, fmt.Errorf("binance: exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		mc := MarketConstraints{MinNotionalUSDT: 5}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "LOT_SIZE":
				mc.QtyStep = atofOrZero(fmt.Sprint(f["stepSize"]))
				mc.MinQty = atofOrZero(fmt.Sprint(f["minQty"]))
			case "PRICE_FILTER":
				mc.PriceStep = atofOrZero(fmt.Sprint(f["tickSize"]))
			case "MIN_NOTIONAL":
				if v := atofOrZero(fmt.Sprint(f["notional"])); v > 0 {
					mc.MinNotionalUSDT = v
				}
			}
		}
		return mc, nil
	}
	return MarketConstraints{}, fmt.Errorf("binance: symbol %s not found", symbol)
}

func (b *BinanceExchange) SetOneWayMode(ctx context.Context) error {
	err := b.client.NewChangePositionModeService().Dual(false).Do(ctx)
	if err != nil && isAlreadySetErr(err) {
		return nil
	}
	return err
}

func (b *BinanceExchange) SetIsolatedMargin(ctx context.Context, symbol string) error {
	err := b.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(futures.MarginTypeIsolated).Do(ctx)
	if err != nil && isAlreadySetErr(err) {
		return nil
	}
	return err
}

func (b *BinanceExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return err
}

func (b *BinanceExchange) PlaceEntryAndBrackets(ctx context.Context, symbol string, side Side, qty, tpPrice, slPrice float64, clientID string) (*BracketResult, error) {
	entrySide := futures.SideTypeBuy
	closeSide := futures.SideTypeSell
	if side == SideShort {
		entrySide = futures.SideTypeSell
		closeSide = futures.SideTypeBuy
	}
	qtyStr := strconv.FormatFloat(qty, 'f', -1, 64)

	entryRes, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(entrySide).
		Type(futures.OrderTypeMarket).
		Quantity(qtyStr).
		NewClientOrderID(clientID + "-entry").
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: entry order: %w", err)
	}
	entry := &PlacedOrder{
		OrderID: strconv.FormatInt(entryRes.OrderID, 10),
		Symbol:  symbol,
		Type:    OrderTypeMarket,
		Side:    side,
		Qty:     qty,
		Status:  string(entryRes.Status),
	}

	result := &BracketResult{EntryOrder: entry, ClientID: clientID}

	tpRes, tpErr := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(closeSide).
		Type(futures.OrderTypeTakeProfitMarket).
		StopPrice(strconv.FormatFloat(tpPrice, 'f', -1, 64)).
		ClosePosition(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		NewClientOrderID(clientID + "-tp").
		Do(ctx)
	if tpErr == nil {
		result.TPOrderID = strconv.FormatInt(tpRes.OrderID, 10)
	}

	slRes, slErr := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(closeSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(strconv.FormatFloat(slPrice, 'f', -1, 64)).
		ClosePosition(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		NewClientOrderID(clientID + "-sl").
		Do(ctx)
	if slErr == nil {
		result.SLOrderID = strconv.FormatInt(slRes.OrderID, 10)
	}

	return result, nil
}

func (b *BinanceExchange) GetOrder(ctx context.Context, symbol, orderID string) (*PlacedOrder, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, err
	}
	o, err := b.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: get order: %w", err)
	}
	return &PlacedOrder{
		OrderID: orderID,
		Symbol:  symbol,
		Status:  string(o.Status),
		Price:   atofOrZero(o.AvgPrice),
		Qty:     atofOrZero(o.ExecutedQuantity),
	}, nil
}

func (b *BinanceExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return err
	}
	_, err = b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	return err
}

func (b *BinanceExchange) PositionQty(ctx context.Context, symbol string) (float64, error) {
	risks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: position risk: %w", err)
	}
	for _, r := range risks {
		if r.Symbol == symbol {
			return atofOrZero(r.PositionAmt), nil
		}
	}
	return 0, nil
}

func atofOrZero(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func isAlreadySetErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "No need to change") || strings.Contains(s, "already")
}
