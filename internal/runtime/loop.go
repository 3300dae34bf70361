package runtime

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/config"
	"github.com/matodo9x-maker/bot-trade/internal/metrics"
	"github.com/matodo9x-maker/bot-trade/internal/policy"
	"github.com/matodo9x-maker/bot-trade/internal/risk"
	"github.com/matodo9x-maker/bot-trade/internal/snapshot"
	"github.com/matodo9x-maker/bot-trade/internal/storage"
	"github.com/matodo9x-maker/bot-trade/internal/trade"
)

// Run drives the paper/live trading loop until ctx is canceled,
// mirroring run_paper_or_live_loop's while True: universe refresh,
// monitor open trades, open new trades, sleep. A panic or error inside
// one cycle is logged and the loop continues; it never exits except on
// ctx.Done().
func (p *Pipeline) Run(ctx context.Context) {
	cycle := time.Duration(p.cfg.CycleSec) * time.Second
	if cycle < 5*time.Second {
		cycle = 5 * time.Second
	}
	ticker := time.NewTicker(cycle)
	defer ticker.Stop()

	p.runCycleSafe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runCycleSafe(ctx)
		}
	}
}

func (p *Pipeline) runCycleSafe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("runtime: cycle panic recovered: %v", r)
		}
	}()
	if err := p.runCycle(ctx); err != nil {
		log.Printf("runtime: cycle error: %v", err)
	}
}

func (p *Pipeline) runCycle(ctx context.Context) error {
	now := time.Now().UTC()

	if err := p.maybeRefreshUniverse(ctx, now); err != nil {
		log.Printf("runtime: universe refresh failed: %v", err)
	}

	if err := p.monitorOpenTrades(ctx, now); err != nil {
		log.Printf("runtime: monitor phase failed: %v", err)
	}

	p.mu.Lock()
	symbols := append([]string(nil), p.symbols...)
	p.mu.Unlock()

	for _, symbol := range symbols {
		if err := p.openPhase(ctx, symbol, now); err != nil {
			log.Printf("runtime: open phase failed for %s: %v", symbol, err)
		}
	}

	metrics.OpenPositions.Set(float64(p.countOpen()))
	return nil
}

func (p *Pipeline) countOpen() int {
	open, err := p.trades.ListOpen()
	if err != nil {
		return 0
	}
	return len(open)
}

// monitorOpenTrades checks every currently open trade for a TP/SL
// touch (paper) or a closed position (live), closing and scoring any
// that have exited. Grounded on run_paper_or_live_loop's monitor phase.
func (p *Pipeline) monitorOpenTrades(ctx context.Context, now time.Time) error {
	open, err := p.trades.ListOpen()
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}

	symbols := make([]string, 0, len(open))
	for _, t := range open {
		symbols = append(symbols, t.Symbol)
	}
	tickers, err := p.ex.Tickers(ctx, symbols)
	if err != nil {
		tickers = map[string]broker.Ticker{}
	}

	for _, t := range open {
		if err := p.monitorOne(ctx, t, tickers, now); err != nil {
			log.Printf("runtime: monitor %s (%s) failed: %v", t.Symbol, t.TradeID, err)
		}
	}
	return nil
}

func (p *Pipeline) monitorOne(ctx context.Context, t trade.Aggregate, tickers map[string]broker.Ticker, now time.Time) error {
	if p.cfg.Mode == config.ModeLive {
		return p.monitorLiveOne(ctx, t, now)
	}
	return p.monitorPaperOne(ctx, t, tickers, now)
}

// monitorPaperOne simulates a synthetic TP/SL touch using the last
// ticker price, since the paper venue never fills brackets on its own.
func (p *Pipeline) monitorPaperOne(ctx context.Context, t trade.Aggregate, tickers map[string]broker.Ticker, now time.Time) error {
	tk, ok := tickers[t.Symbol]
	if !ok || tk.Last == 0 {
		return nil
	}
	exitType, exitPrice, hit := evaluateTPSL(t.Decision, tk.Last)
	if !hit {
		return nil
	}
	feeRate := p.cfg.FeeRate
	notional := t.ExecutionState.Notional
	fees := 0.0
	if notional != 0 {
		fees = absF(notional) * feeRate * 2
	}
	return p.closeTrade(ctx, t, exitType, exitPrice, now, fees)
}

// monitorLiveOne determines whether a live position has closed by
// reading the signed position quantity; the TP/SL order status then
// disambiguates which leg filled, and the remaining leg is canceled.
func (p *Pipeline) monitorLiveOne(ctx context.Context, t trade.Aggregate, now time.Time) error {
	qty, err := p.ex.PositionQty(ctx, t.Symbol)
	if err != nil {
		return nil
	}
	if absF(qty) >= 1e-9 {
		return nil
	}

	exitType := trade.ExitTypeUnknown
	exitPrice := t.Decision.TPPrice

	if t.ExecutionState.TPOrderID != "" {
		if o, err := p.ex.GetOrder(ctx, t.Symbol, t.ExecutionState.TPOrderID); err == nil && o.Status == "FILLED" {
			exitType, exitPrice = trade.ExitTypeTP, o.Price
			if t.ExecutionState.SLOrderID != "" {
				_ = p.ex.CancelOrder(ctx, t.Symbol, t.ExecutionState.SLOrderID)
			}
		}
	}
	if exitType == trade.ExitTypeUnknown && t.ExecutionState.SLOrderID != "" {
		if o, err := p.ex.GetOrder(ctx, t.Symbol, t.ExecutionState.SLOrderID); err == nil && o.Status == "FILLED" {
			exitType, exitPrice = trade.ExitTypeSL, o.Price
			if t.ExecutionState.TPOrderID != "" {
				_ = p.ex.CancelOrder(ctx, t.Symbol, t.ExecutionState.TPOrderID)
			}
		}
	}

	return p.closeTrade(ctx, t, exitType, exitPrice, now, t.ExecutionState.FeesTotal)
}

func evaluateTPSL(d policy.Decision, last float64) (trade.ExitType, float64, bool) {
	if d.Direction == broker.SideLong {
		if last >= d.TPPrice {
			return trade.ExitTypeTP, d.TPPrice, true
		}
		if last <= d.SLPrice {
			return trade.ExitTypeSL, d.SLPrice, true
		}
		return "", 0, false
	}
	if last <= d.TPPrice {
		return trade.ExitTypeTP, d.TPPrice, true
	}
	if last >= d.SLPrice {
		return trade.ExitTypeSL, d.SLPrice, true
	}
	return "", 0, false
}

// closeTrade attaches the exit fill, computes MFE/MAE from the holding
// period's OHLCV, attaches the reward, and rewrites the trade record,
// then rebuilds the RL and scorer datasets so the new example is
// immediately available.
func (p *Pipeline) closeTrade(ctx context.Context, t trade.Aggregate, exitType trade.ExitType, exitPrice float64, now time.Time, fees float64) error {
	update := trade.ExecutionState{
		Status:        trade.StatusClosed,
		ExitTimeUTC:   now.Unix(),
		ExitFillPrice: exitPrice,
		ExitType:      exitType,
		FeesTotal:     fees,
		FundingPaid:   t.ExecutionState.FundingPaid,
	}
	if err := t.AttachExecution(update); err != nil {
		return err
	}

	bars, err := p.ex.OHLCV(ctx, t.Symbol, p.cfg.LTF, 288)
	if err != nil {
		bars = nil
	}
	bars = barsSince(bars, t.ExecutionState.EntryTimeUTC)

	reward, err := trade.CalculateReward(t.Decision, t.ExecutionState, bars)
	if err != nil {
		return err
	}
	if err := t.AttachReward(reward); err != nil {
		return err
	}

	if err := p.trades.UpdateClosed(t); err != nil {
		return err
	}

	if err := p.executions.Append(map[string]any{
		"trade_id":  t.TradeID,
		"symbol":    t.Symbol,
		"exit_type": string(exitType),
		"exit_time_utc": update.ExitTimeUTC,
		"exit_price":    exitPrice,
		"pnl_r":         reward.PnLR,
	}); err != nil {
		log.Printf("runtime: append execution event for %s failed: %v", t.TradeID, err)
	}

	pnlUSDT, _ := t.PnLUSDT()
	metrics.TradesClosed.WithLabelValues(t.Symbol, string(exitType)).Inc()
	metrics.PnLRealizedUSDT.Add(pnlUSDT)
	p.dispatcher.Publish("trade.closed", map[string]any{
		"symbol": t.Symbol, "exit_type": string(exitType), "pnl_r": reward.PnLR,
	})

	if _, err := p.rlBuilder.BuildAndSave(true); err != nil {
		log.Printf("runtime: rebuild rl dataset failed: %v", err)
	}
	if _, err := p.scorerBuilder.BuildAndSave(true); err != nil {
		log.Printf("runtime: rebuild scorer dataset failed: %v", err)
	}
	return nil
}

func barsSince(bars []broker.Candle, entryUnix int64) []broker.Candle {
	if entryUnix == 0 {
		return bars
	}
	for i, b := range bars {
		if b.OpenTime.Unix() >= entryUnix {
			return bars[i:]
		}
	}
	return bars
}

// openPhase evaluates one symbol's current snapshot for a new entry.
// It always appends a decision-cycle record, even when the cycle is
// skipped or blocked by a gate, so the offline dataset builders see
// every cycle rather than only the ones that opened a trade.
func (p *Pipeline) openPhase(ctx context.Context, symbol string, now time.Time) error {
	snap, err := p.snapBuilder.Build(ctx, symbol)
	if err != nil {
		p.appendDecisionCycle(symbol, now, nil, "", false, "snapshot_error", err.Error())
		metrics.DecisionCycles.WithLabelValues(symbol, "snapshot_error").Inc()
		return nil
	}

	if err := p.snaps.Save(snap); err != nil && !errors.Is(err, storage.ErrSnapshotExists) {
		p.appendDecisionCycle(symbol, now, &snap, "", false, "snapshot_save_error", err.Error())
		metrics.DecisionCycles.WithLabelValues(symbol, "snapshot_save_error").Inc()
		return nil
	}

	if err := p.appendMarketFeatureRow(snap); err != nil {
		log.Printf("runtime: market feature append failed for %s: %v", symbol, err)
	}

	snapMap := snap.ToMap()
	decision, err := p.pol.Decide(snapMap)
	if err != nil {
		p.appendDecisionCycle(symbol, now, &snap, "", false, "decision_error", err.Error())
		metrics.DecisionCycles.WithLabelValues(symbol, "decision_error").Inc()
		return nil
	}
	p.adjustConfidence(snapMap, &decision)

	reason, ok := p.preGates(symbol, decision, now)
	if !ok {
		p.appendDecisionCycle(symbol, now, &snap, "", false, reason, "")
		metrics.DecisionCycles.WithLabelValues(symbol, reason).Inc()
		metrics.RiskBlocks.WithLabelValues(reason).Inc()
		return nil
	}

	constraints, err := p.ex.MarketConstraints(ctx, symbol)
	if err != nil {
		p.appendDecisionCycle(symbol, now, &snap, "", false, "market_constraints_error", err.Error())
		metrics.DecisionCycles.WithLabelValues(symbol, "market_constraints_error").Inc()
		return nil
	}

	account, err := p.accountState(ctx)
	if err != nil {
		p.appendDecisionCycle(symbol, now, &snap, "", false, "account_error", err.Error())
		metrics.DecisionCycles.WithLabelValues(symbol, "account_error").Inc()
		return nil
	}

	plan := p.riskEngine.BuildPlan(account, constraints, decision)
	if !plan.OK {
		p.appendDecisionCycle(symbol, now, &snap, "", false, plan.Reason, "")
		metrics.DecisionCycles.WithLabelValues(symbol, plan.Reason).Inc()
		metrics.RiskBlocks.WithLabelValues(plan.Reason).Inc()
		return nil
	}

	tradeID := uuid.New().String()
	return p.openTrade(ctx, tradeID, symbol, snap, decision, plan, now)
}

// adjustConfidence logs the rule/model components on a HybridPolicy so
// later analysis can separate "the rule liked it" from "the model
// liked it", mirroring _hybrid_conf_components. Other policy kinds are
// left as-is.
func (p *Pipeline) adjustConfidence(snapMap map[string]any, decision *policy.Decision) {
	hp, ok := p.pol.(policy.HybridPolicy)
	if !ok {
		return
	}
	ruleConf, modelScore, ok := hp.Components(snapMap)
	if !ok {
		return
	}
	p.lastRuleConf, p.lastModelScore = ruleConf, modelScore
}

// preGates runs the pre-open checks in the fixed order the runtime
// loop must never reorder: position-count cap, symbol-already-open,
// the risk guard, in that order. Returns the blocking reason, or
// ok=true if every gate passed.
func (p *Pipeline) preGates(symbol string, decision policy.Decision, now time.Time) (string, bool) {
	open, err := p.trades.ListOpen()
	if err != nil {
		return "open_trades_read_error", false
	}
	if len(open) >= p.maxOpenPositions {
		return "max_open_positions", false
	}
	for _, t := range open {
		if t.Symbol == symbol {
			return "already_open_symbol", false
		}
	}

	guardApplies := p.cfg.Mode == config.ModeLive || p.cfg.RiskGuardPaper
	if guardApplies {
		closed, err := p.trades.ListClosed()
		if err != nil {
			return "closed_trades_read_error", false
		}
		equity := p.cfg.PaperEquityUSDT
		if p.cfg.Mode == config.ModeLive {
			if eq, _, err := p.ex.Balance(context.Background()); err == nil {
				equity = eq
			}
		}
		result := p.riskGuard.Check(reduceClosedTrades(closed), now, equity)
		if !result.OK {
			return "risk_guard_" + result.Reason, false
		}
	}
	return "", true
}

func reduceClosedTrades(closed []trade.Aggregate) []risk.ClosedTrade {
	out := make([]risk.ClosedTrade, 0, len(closed))
	for _, t := range closed {
		pnl, ok := t.PnLUSDT()
		if !ok {
			continue
		}
		out = append(out, risk.ClosedTrade{ExitTimeUTC: t.ExecutionState.ExitTimeUTC, PnLUSDT: pnl})
	}
	return out
}

func (p *Pipeline) accountState(ctx context.Context) (risk.AccountState, error) {
	if p.cfg.Mode == config.ModeLive {
		equity, free, err := p.ex.Balance(ctx)
		if err != nil {
			return risk.AccountState{}, err
		}
		return risk.AccountState{EquityUSDT: equity, FreeUSDT: free}, nil
	}
	return risk.AccountState{EquityUSDT: p.cfg.PaperEquityUSDT, FreeUSDT: p.cfg.PaperFreeUSDT}, nil
}

// openTrade accepts a sized plan: creates the trade aggregate, appends
// the plan event, and either places real orders (live) or simulates an
// immediate fill (paper).
func (p *Pipeline) openTrade(ctx context.Context, tradeID, symbol string, snap snapshot.Snapshot, decision policy.Decision, plan risk.Plan, now time.Time) error {
	policyInfo := map[string]any{
		"rule_confidence": p.lastRuleConf,
		"model_score":     p.lastModelScore,
		"policy_mode":     string(p.cfg.HybridConfMode),
	}
	agg := trade.CreateOpen(tradeID, symbol, snap.SnapshotID, snap.SnapshotTimeUTC, decision, policyInfo)
	if err := p.trades.SaveOpen(agg); err != nil {
		return err
	}

	if err := p.orders.Append(map[string]any{
		"type": "trade.open.plan", "trade_id": tradeID, "symbol": symbol,
		"direction": string(decision.Direction), "qty": plan.Qty, "leverage": plan.Leverage,
		"notional_usdt": plan.NotionalUSDT,
	}); err != nil {
		log.Printf("runtime: append order plan event failed: %v", err)
	}

	var update trade.ExecutionState
	if p.cfg.Mode == config.ModeLive {
		u, err := p.placeLiveOrders(ctx, symbol, decision, plan)
		if err != nil {
			return err
		}
		update = u
	} else {
		update = p.simulatePaperFill(symbol, decision, plan)
	}

	if ok, err := p.trades.UpdateExecutionState(tradeID, update); err != nil || !ok {
		if err != nil {
			return err
		}
	}

	p.appendDecisionCycle(symbol, now, &snap, tradeID, true, "", "")
	metrics.DecisionCycles.WithLabelValues(symbol, "opened").Inc()
	metrics.TradesOpened.WithLabelValues(symbol, string(decision.Direction)).Inc()
	p.dispatcher.Publish("trade.open", map[string]any{
		"symbol": symbol, "direction": string(decision.Direction),
		"entry_price": decision.EntryPrice, "sl_price": decision.SLPrice,
		"tp_price": decision.TPPrice, "confidence": decision.Confidence,
	})
	return nil
}

func (p *Pipeline) placeLiveOrders(ctx context.Context, symbol string, decision policy.Decision, plan risk.Plan) (trade.ExecutionState, error) {
	if err := p.ex.SetOneWayMode(ctx); err != nil && err != broker.ErrUnsupported {
		log.Printf("runtime: set one-way mode failed: %v", err)
	}
	if err := p.ex.SetIsolatedMargin(ctx, symbol); err != nil && err != broker.ErrUnsupported {
		log.Printf("runtime: set isolated margin failed: %v", err)
	}
	if err := p.ex.SetLeverage(ctx, symbol, plan.Leverage); err != nil && err != broker.ErrUnsupported {
		log.Printf("runtime: set leverage failed: %v", err)
	}

	clientID := uuid.New().String()
	result, err := p.ex.PlaceEntryAndBrackets(ctx, symbol, decision.Direction, plan.Qty, decision.TPPrice, decision.SLPrice, clientID)
	if err != nil {
		return trade.ExecutionState{}, err
	}

	if err := p.orders.Append(map[string]any{
		"type": "order.entry", "symbol": symbol, "order_id": result.EntryOrder.OrderID,
		"tp_order_id": result.TPOrderID, "sl_order_id": result.SLOrderID, "client_id": clientID,
	}); err != nil {
		log.Printf("runtime: append entry order event failed: %v", err)
	}

	return trade.ExecutionState{
		Status: trade.StatusOpen,
		EntryTimeUTC: result.EntryOrder.FilledAt.Unix(), EntryFillPrice: result.EntryOrder.Price,
		Exchange: p.ex.Name(), AccountType: "USDT-M", MarginMode: "isolated", PositionMode: "oneway",
		Leverage: plan.Leverage, Qty: plan.Qty, Notional: plan.NotionalUSDT,
		EntryOrderID: result.EntryOrder.OrderID, TPOrderID: result.TPOrderID, SLOrderID: result.SLOrderID,
		ClientOrderID: clientID,
	}, nil
}

func (p *Pipeline) simulatePaperFill(symbol string, decision policy.Decision, plan risk.Plan) trade.ExecutionState {
	fees := absF(plan.NotionalUSDT) * p.cfg.FeeRate
	return trade.ExecutionState{
		Status: trade.StatusOpen,
		EntryTimeUTC: time.Now().UTC().Unix(), EntryFillPrice: decision.EntryPrice,
		Exchange: p.ex.Name(), AccountType: "USDT-M", MarginMode: "isolated", PositionMode: "oneway",
		Leverage: plan.Leverage, Qty: plan.Qty, Notional: plan.NotionalUSDT,
		FeesTotal: fees, ClientOrderID: uuid.New().String(),
	}
}

func (p *Pipeline) appendDecisionCycle(symbol string, now time.Time, snap *snapshot.Snapshot, tradeID string, isOpened bool, reason, errMsg string) {
	row := map[string]any{
		"symbol": symbol, "observer_time_utc": now.Unix(), "cycle_time_utc": now.Unix(),
		"is_opened": isOpened, "block_reason": reason,
	}
	if errMsg != "" {
		row["error"] = errMsg
	}
	if snap != nil {
		row["snapshot_id"] = snap.SnapshotID
		row["snapshot_time_utc"] = snap.SnapshotTimeUTC
		row["decision_id"] = computeDecisionID(p.ex.Name(), symbol, snap.SnapshotID, snap.SnapshotTimeUTC)
	}
	if tradeID != "" {
		row["trade_id"] = tradeID
	}
	if err := p.decisionCycles.Append(row); err != nil {
		log.Printf("runtime: append decision cycle failed: %v", err)
	}
}

// appendMarketFeatureRow writes the raw, unlabeled feature vector for
// every evaluated cycle, independent of whether a trade opened. This
// is a distinct path from the offline MarketEachCycleBuilder, which
// joins the decision-cycle log against snapshots after the fact; this
// append happens live, once per cycle, the way the original loop calls
// feats.features(...) directly inline.
func (p *Pipeline) appendMarketFeatureRow(snap snapshot.Snapshot) error {
	out, err := p.mapper.Map(snap.ToMap())
	if err != nil {
		return err
	}
	return p.marketDataset.AppendRows([]storage.DatasetRow{{
		TradeID: "", Symbol: snap.Symbol, CycleTimeUTC: snap.SnapshotTimeUTC,
		FeatureVersion: out.FeatureVersion, Features: toFloat64s(out.Features),
	}})
}

func toFloat64s(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
