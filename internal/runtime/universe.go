package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/matodo9x-maker/bot-trade/internal/metrics"
	"github.com/matodo9x-maker/bot-trade/internal/universe"
)

// selectSymbolsAuto runs one universe refresh: load the previous
// selection and per-symbol history, run the selector, persist the
// report and a flattened per-candidate cycle log, and remember the new
// selection for next time. Grounded on _select_symbols_auto, which
// rebuilds history/prevMetrics from the universe cycle log on every
// call rather than keeping them resident in memory.
func (p *Pipeline) selectSymbolsAuto(ctx context.Context) ([]string, error) {
	prevSelected, err := p.loadUniverseLast()
	if err != nil {
		return nil, err
	}

	history, prevMetrics, err := p.loadUniverseHistory()
	if err != nil {
		return nil, err
	}

	report, err := p.selector.Select(ctx, p.ex, prevSelected, history, prevMetrics)
	if err != nil {
		return nil, fmt.Errorf("runtime: universe select: %w", err)
	}

	if err := p.universeSelections.Append(universeSelectionRow(report)); err != nil {
		return nil, fmt.Errorf("runtime: append universe selection: %w", err)
	}
	if err := p.appendUniverseCycleRows(report); err != nil {
		return nil, err
	}

	selected := make([]string, 0, len(report.Selected))
	for _, c := range report.Selected {
		selected = append(selected, c.Symbol)
	}
	if len(selected) == 0 {
		selected = []string{"BTCUSDT"}
	}

	if err := p.saveUniverseLast(selected); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.lastUniverseSelected = selected
	p.mu.Unlock()

	return selected, nil
}

func (p *Pipeline) loadUniverseLast() ([]string, error) {
	data, err := os.ReadFile(p.universeLastPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runtime: reading %s: %w", p.universeLastPath, err)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("runtime: parsing %s: %w", p.universeLastPath, err)
	}
	return out, nil
}

func (p *Pipeline) saveUniverseLast(symbols []string) error {
	data, err := json.Marshal(symbols)
	if err != nil {
		return fmt.Errorf("runtime: marshal universe_last: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.universeLastPath), 0o755); err != nil {
		return fmt.Errorf("runtime: mkdir for universe_last: %w", err)
	}
	if err := os.WriteFile(p.universeLastPath, data, 0o644); err != nil {
		return fmt.Errorf("runtime: writing universe_last: %w", err)
	}
	return nil
}

// loadUniverseHistory rebuilds per-symbol funding/ATR series and the
// previous cycle's per-symbol metrics from the bounded tail of the
// universe cycle log, mirroring _select_symbols_auto's
// history_by_symbol/prevMetrics_by_symbol construction.
func (p *Pipeline) loadUniverseHistory() (map[string]universe.History, map[string]universe.PrevMetrics, error) {
	rows, err := p.universeCycles.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("runtime: reading universe cycles: %w", err)
	}
	maxRows := p.cfg.UniverseCyclesHistoryMaxRows
	if maxRows <= 0 {
		maxRows = 5000
	}
	if len(rows) > maxRows {
		rows = rows[len(rows)-maxRows:]
	}

	history := make(map[string]universe.History)
	prevMetrics := make(map[string]universe.PrevMetrics)
	var lastCycleTime float64

	for _, row := range rows {
		symbol, _ := row["symbol"].(string)
		if symbol == "" {
			continue
		}
		h := history[symbol]
		if fr, ok := row["funding_rate"].(float64); ok {
			h.FundingRate = append(h.FundingRate, fr)
		}
		if atr, ok := row["atr_pct"].(float64); ok {
			h.ATRPct = append(h.ATRPct, atr)
		}
		history[symbol] = h

		ts, _ := row["timestamp_unix"].(float64)
		if ts >= lastCycleTime {
			lastCycleTime = ts
			pm := universe.PrevMetrics{}
			if v, ok := row["quote_vol_usdt"].(float64); ok {
				pm.QuoteVolUSDT, pm.HasQuoteVol = v, true
			}
			if v, ok := row["atr_pct"].(float64); ok {
				pm.ATRPct, pm.HasATRPct = v, true
			}
			if v, ok := row["open_interest"].(float64); ok {
				pm.OpenInterest, pm.HasOpenInterest = v, true
			}
			prevMetrics[symbol] = pm
		}
	}
	return history, prevMetrics, nil
}

func (p *Pipeline) appendUniverseCycleRows(report universe.Report) error {
	selected := make(map[string]int, len(report.Selected))
	for i, c := range report.Selected {
		selected[c.Symbol] = i + 1
	}
	for _, c := range report.CandidatesScored {
		row := map[string]any{
			"timestamp_unix":  report.TimestampUnix,
			"exchange":        report.Exchange,
			"symbol":          c.Symbol,
			"quote_vol_usdt":  c.QuoteVolUSDT,
			"atr_tf":          c.ATRTimeframe,
			"atr_pct":         c.ATRPct,
			"atr_burst":       c.ATRBurst,
			"spread_pct":      c.SpreadPct,
			"funding_rate":    c.FundingRate,
			"funding_z":       c.FundingZ,
			"vol_accel":       c.VolAccel,
			"open_interest":   c.OpenInterest,
			"oi_accel":        c.OIAccel,
			"score":           c.Score,
			"target_symbols":  report.Config.TargetSymbols,
		}
		if rank, ok := selected[c.Symbol]; ok {
			row["selected"] = true
			row["rank"] = rank
		} else {
			row["selected"] = false
		}
		if err := p.universeCycles.Append(row); err != nil {
			return fmt.Errorf("runtime: append universe cycle row: %w", err)
		}
	}
	return nil
}

func universeSelectionRow(report universe.Report) map[string]any {
	selected := make([]string, len(report.Selected))
	for i, c := range report.Selected {
		selected[i] = c.Symbol
	}
	excluded := make([]map[string]any, len(report.Excluded))
	for i, e := range report.Excluded {
		excluded[i] = map[string]any{"symbol": e.Symbol, "reason": e.Reason}
	}
	return map[string]any{
		"schema_version": report.SchemaVersion,
		"timestamp_unix": report.TimestampUnix,
		"exchange":       report.Exchange,
		"selected":       selected,
		"excluded":       excluded,
	}
}

// maybeRefreshUniverse checks whether it's time for a scheduled
// universe refresh and runs one if so, publishing a universe.refreshed
// event that the Telegram sink turns into a notification.
func (p *Pipeline) maybeRefreshUniverse(ctx context.Context, now time.Time) error {
	if !p.cfg.SymbolsAuto {
		return nil
	}
	p.mu.Lock()
	due := now.After(p.universeNextRefresh)
	p.mu.Unlock()
	if !due {
		return nil
	}

	symbols, err := p.selectSymbolsAuto(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.symbols = symbols
	p.universeNextRefresh = now.Add(refreshInterval(p.cfg.UniverseRefreshMin))
	p.mu.Unlock()
	p.resolveMaxOpenPositions()

	metrics.UniverseRefreshes.Inc()
	metrics.UniverseSize.Set(float64(len(symbols)))
	p.dispatcher.Publish("universe.refreshed", map[string]any{"symbols": symbols})
	return nil
}
