// Command selectuniverse runs one universe-selector cycle against the
// configured exchange and prints the resulting report, generalizing
// tools/select_universe.py's select-then-print shape. Dry-run tooling:
// it writes the full report as indented JSON to
// <DataDir>/runtime/universe_selection.json (the trading loop instead
// appends summary rows to universe_selection.jsonl) and never feeds a
// decision cycle.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/config"
	"github.com/matodo9x-maker/bot-trade/internal/universe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	ex := broker.NewBinanceExchange(cfg.APIKey, cfg.APISecret, cfg.ExchangeTestnet)

	sel := universe.NewSelector(universeConfigFromCfg(cfg))
	report, err := sel.Select(context.Background(), ex, nil, nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "select: %v\n", err)
		os.Exit(1)
	}

	outPath := filepath.Join(cfg.DataDir, "runtime", "universe_selection.json")
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Selected symbols:")
	for _, c := range report.Selected {
		fmt.Printf(" - %s (score=%.4f)\n", c.Symbol, c.Score)
	}
	fmt.Printf("\nSaved: %s\n", outPath)
}

func universeConfigFromCfg(cfg config.Config) universe.Config {
	u := universe.DefaultConfig()
	u.TargetSymbols = cfg.UniverseTargetSymbols
	u.MinQuoteVolUSDT = cfg.UniverseMinQuoteVolUSDT
	u.MinATRPct = cfg.UniverseMinATRPct
	u.MaxCorr = cfg.UniverseMaxCorr
	u.CorrTF = cfg.UniverseCorrTF
	u.ATRTimeframe = cfg.UniverseATRTF
	u.MaxCandidatesByLiquidity = cfg.UniverseCandidateCap
	u.MaxSpreadPct = cfg.UniverseMaxSpreadPct
	u.MaxAbsFunding = cfg.UniverseMaxAbsFunding
	u.StickyKeep = cfg.UniverseStickyKeep
	u.IncludeSymbols = cfg.UniverseIncludeBases
	u.ExcludeSymbols = cfg.UniverseExcludeBases
	if len(cfg.UniverseExcludeStable) > 0 {
		u.ExcludeBases = cfg.UniverseExcludeStable
	}
	return u
}
