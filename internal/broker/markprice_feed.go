package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MarkPriceFeed keeps a live cache of mark prices from Binance's
// combined-stream websocket. Nothing in the runtime constructs or runs
// one: the paper monitor's TP/SL touch check reads REST tickers only.
type MarkPriceFeed struct {
	wsBaseURL string

	mu    sync.RWMutex
	marks map[string]float64
}

// NewMarkPriceFeed builds a feed against the production or testnet
// combined stream host.
func NewMarkPriceFeed(testnet bool) *MarkPriceFeed {
	base := "wss://fstream.binance.com/stream"
	if testnet {
		base = "wss://stream.binancefuture.com/stream"
	}
	return &MarkPriceFeed{wsBaseURL: base, marks: make(map[string]float64)}
}

// Get returns the last seen mark price for symbol, or (0, false) if no
// message has arrived yet.
func (f *MarkPriceFeed) Get(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.marks[symbol]
	return v, ok
}

type markPriceEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
	} `json:"data"`
}

// Run subscribes to markPrice@1s streams for the given symbols and
// updates the cache until ctx is cancelled. Reconnects with a fixed
// backoff on any read/dial error; callers run this in a goroutine.
func (f *MarkPriceFeed) Run(ctx context.Context, symbols []string) {
	if len(symbols) == 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := f.connectOnce(ctx, symbols); err != nil {
			log.Printf("[BROKER] mark price feed error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func (f *MarkPriceFeed) connectOnce(ctx context.Context, symbols []string) error {
	streams := ""
	for i, s := range symbols {
		if i > 0 {
			streams += "/"
		}
		streams += fmt.Sprintf("%s@markPrice@1s", toLowerASCII(s))
	}
	url := f.wsBaseURL + "?streams=" + streams

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var ev markPriceEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		price, err := strconv.ParseFloat(ev.Data.Price, 64)
		if err != nil || ev.Data.Symbol == "" {
			continue
		}
		f.mu.Lock()
		f.marks[ev.Data.Symbol] = price
		f.mu.Unlock()
	}
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
