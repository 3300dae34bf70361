// Command migratestate adapts migrate_state.go's legacy-state-transform
// shape (read -in, transform, write -out or -inplace with a .bak) to a
// narrower job: turning a legacy single-lot Position row, as the
// teacher's spot bot persisted it, into one line of the new
// trades_open.csv TradeAggregate format.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/policy"
	"github.com/matodo9x-maker/bot-trade/internal/trade"
)

// legacyPosition mirrors the teacher's old aggregate-lot shape: a single
// resting position with a stop/take pair and no execution-state split.
type legacyPosition struct {
	OpenPrice float64   `json:"OpenPrice"`
	Side      string    `json:"Side"`
	SizeBase  float64   `json:"SizeBase"`
	Stop      float64   `json:"Stop"`
	Take      float64   `json:"Take"`
	OpenTime  time.Time `json:"OpenTime"`
	EntryFee  float64   `json:"EntryFee"`
}

func main() {
	in := flag.String("in", "", "path to a legacy Position JSON file")
	symbol := flag.String("symbol", "", "symbol the legacy position belongs to")
	out := flag.String("out", "", "path to write the migrated trades_open.csv row (ignored if -inplace)")
	inplace := flag.Bool("inplace", false, "append to an existing trades_open.csv, creating a .bak first")
	flag.Parse()

	if *in == "" || *symbol == "" {
		exitf("missing -in <file> and/or -symbol <SYMBOL>")
	}
	if !*inplace && *out == "" {
		exitf("either specify -out <file> or use -inplace")
	}

	raw, err := os.ReadFile(*in)
	if err != nil {
		exitf("read input: %v", err)
	}
	var legacy legacyPosition
	if err := json.Unmarshal(raw, &legacy); err != nil {
		exitf("parse legacy JSON: %v", err)
	}

	agg := toAggregate(legacy, *symbol)
	data, err := json.Marshal(agg)
	if err != nil {
		exitf("marshal migrated trade: %v", err)
	}
	row := fmt.Sprintf("%s,%s\n", agg.TradeID, data)

	if *inplace {
		target := filepath.Join("data", "runtime", "trades_open.csv")
		backup := target + ".bak"
		if err := copyFile(target, backup); err != nil {
			exitf("create backup: %v", err)
		}
		f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			exitf("open %s: %v", target, err)
		}
		defer f.Close()
		if _, err := f.WriteString(row); err != nil {
			exitf("append row: %v", err)
		}
		fmt.Printf("Migrated in-place. Backup: %s\n", backup)
		return
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		exitf("ensure out dir: %v", err)
	}
	if err := os.WriteFile(*out, []byte(row), 0o644); err != nil {
		exitf("write out: %v", err)
	}
	fmt.Printf("Migrated row written to: %s\n", *out)
}

func toAggregate(p legacyPosition, symbol string) trade.Aggregate {
	side := broker.SideLong
	if p.Side == "SELL" || p.Side == "SHORT" {
		side = broker.SideShort
	}
	decision := policy.Decision{
		Direction:       side,
		EntryPrice:      p.OpenPrice,
		SLPrice:         p.Stop,
		TPPrice:         p.Take,
		RiskUnit:        absFloat(p.OpenPrice - p.Stop),
		DecisionTimeUTC: p.OpenTime.Unix(),
	}
	agg := trade.CreateOpen(
		fmt.Sprintf("legacy-%s-%d", symbol, p.OpenTime.Unix()),
		symbol,
		"",
		p.OpenTime.Unix(),
		decision,
		map[string]any{"migrated_from": "legacy_position"},
	)
	agg.ExecutionState.EntryTimeUTC = p.OpenTime.Unix()
	agg.ExecutionState.EntryFillPrice = p.OpenPrice
	agg.ExecutionState.Qty = p.SizeBase
	agg.ExecutionState.FeesTotal = p.EntryFee
	return agg
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if os.IsNotExist(err) {
		return os.WriteFile(dst, []byte("trade_id,json\n"), 0o644)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o644)
}

func exitf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "migratestate: "+format+"\n", a...)
	os.Exit(1)
}
