// Command bottrade is the bot's main entrypoint.
//
// Boot sequence:
//  1. config.Load() – read .env and build the runtime Config
//  2. wire an exchange adapter for cfg.Mode
//  3. internal/runtime.Build() – wire every repository/usecase/policy
//  4. start the Prometheus /healthz + /metrics server on cfg.Port
//  5. run the loop until SIGINT/SIGTERM
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/config"
	"github.com/matodo9x-maker/bot-trade/internal/runtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ex := buildExchange(cfg)

	pipeline, err := runtime.Build(cfg, ex)
	if err != nil {
		log.Fatalf("runtime: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.Printf("serving metrics on :%d/metrics", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("bottrade starting mode=%s exchange=%s symbols_auto=%v", cfg.Mode, cfg.Exchange, cfg.SymbolsAuto)
	pipeline.Run(ctx)

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

// buildExchange dispatches on BOT_MODE the same way Python's
// make_exchange_from_env selects a ccxt client vs a synthetic one:
// demo never touches the venue, data and live read real market data,
// and only live places real orders. paper and demo share the same
// PaperExchange wrapper, differing only in whether it delegates reads
// to a real venue.
func buildExchange(cfg config.Config) broker.Exchange {
	switch cfg.Mode {
	case config.ModeDemo:
		return broker.NewPaperExchange(nil)
	case config.ModePaper:
		return broker.NewPaperExchange(broker.NewBinanceExchange(cfg.APIKey, cfg.APISecret, cfg.ExchangeTestnet))
	default: // data, live
		return broker.NewBinanceExchange(cfg.APIKey, cfg.APISecret, cfg.ExchangeTestnet)
	}
}
