// Command backfill builds a CSV of recent OHLCV bars from a
// broker.Exchange, adapting backfill_bridge_paged.go's paging loop from
// the FastAPI bridge's /candles endpoint to the uniform
// broker.Exchange.OHLCV call. Each page requests the latest -limit bars,
// so the output holds at most one window; earlier history is not fetched.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/config"
)

func main() {
	var (
		symbol    = flag.String("symbol", "BTCUSDT", "symbol to backfill")
		timeframe = flag.String("timeframe", "5m", "candle timeframe")
		limit     = flag.Int("limit", 500, "candles per page (venue max applies)")
		pages     = flag.Int("pages", 20, "how many pages to fetch (each page requests the same latest window)")
		outPath   = flag.String("out", "", "output CSV path, default data/backfill/<symbol>_<timeframe>.csv")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	ex := broker.NewBinanceExchange(cfg.APIKey, cfg.APISecret, cfg.ExchangeTestnet)

	if *outPath == "" {
		*outPath = filepath.Join("data", "backfill", fmt.Sprintf("%s_%s.csv", *symbol, *timeframe))
	}

	ctx := context.Background()
	all := make(map[int64]broker.Candle)

	for p := 0; p < *pages; p++ {
		batch, err := ex.OHLCV(ctx, *symbol, *timeframe, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ohlcv page %d: %v\n", p, err)
			break
		}
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			all[c.OpenTime.Unix()] = c
		}
		// go-binance's Klines endpoint has no "endTime" paging plumbed
		// through broker.Exchange, so repeated pages over-fetch the same
		// window; the unix-keyed map above dedupes it away. A venue that
		// exposed true backward paging could cut *limit rows per call
		// instead of refetching the same tail every page.
	}

	rows := make([]broker.Candle, 0, len(all))
	for _, c := range all {
		rows = append(rows, c)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].OpenTime.Before(rows[j].OpenTime) })

	if err := writeCSV(*outPath, rows); err != nil {
		fmt.Fprintf(os.Stderr, "write csv: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s (%d rows)\n", *outPath, len(rows))
}

func writeCSV(path string, rows []broker.Candle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, c := range rows {
		if err := w.Write([]string{
			c.OpenTime.UTC().Format(time.RFC3339),
			fmt.Sprintf("%v", c.Open),
			fmt.Sprintf("%v", c.High),
			fmt.Sprintf("%v", c.Low),
			fmt.Sprintf("%v", c.Close),
			fmt.Sprintf("%v", c.Volume),
		}); err != nil {
			return err
		}
	}
	return nil
}
