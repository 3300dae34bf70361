// Package runtime is the per-cycle orchestration loop that ties every
// other package together, grounded on live.go's runLive shape (ticker
// loop, warmup, ctx.Done() select) generalized to the multi-symbol,
// multi-phase sequence apps/runtime_trader.py's run_paper_or_live_loop
// runs: universe refresh, monitor open trades, open new trades, sleep.
package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
	"github.com/matodo9x-maker/bot-trade/internal/config"
	"github.com/matodo9x-maker/bot-trade/internal/datasets"
	"github.com/matodo9x-maker/bot-trade/internal/events"
	"github.com/matodo9x-maker/bot-trade/internal/features"
	"github.com/matodo9x-maker/bot-trade/internal/policy"
	"github.com/matodo9x-maker/bot-trade/internal/risk"
	"github.com/matodo9x-maker/bot-trade/internal/scorer"
	"github.com/matodo9x-maker/bot-trade/internal/snapshot"
	"github.com/matodo9x-maker/bot-trade/internal/storage"
	"github.com/matodo9x-maker/bot-trade/internal/universe"
)

// Pipeline wires every repository, usecase, policy, and risk component
// the loop needs, the Go analogue of build_pipeline()'s returned dict.
type Pipeline struct {
	cfg config.Config
	ex  broker.Exchange

	snapBuilder *snapshot.Builder
	selector    *universe.Selector
	mapper      *features.Mapper
	pol         policy.Policy
	riskEngine  risk.Engine
	riskGuard   risk.Guard

	trades             *storage.TradeRepo
	snaps              *storage.SnapshotRepo
	decisionCycles     *storage.DecisionCycleRepo
	orders             *storage.OrderEventRepo
	executions         *storage.ExecutionEventRepo
	universeCycles     *storage.UniverseCycleRepo
	universeSelections *storage.UniverseSelectionRepo
	marketDataset      *storage.ParquetDatasetRepo

	rlBuilder     *datasets.RLDatasetBuilder
	scorerBuilder *datasets.ScorerDatasetBuilder

	dispatcher *events.Dispatcher

	mu                  sync.Mutex
	symbols             []string
	maxOpenPositions    int
	autoMaxOpenPositions bool
	universeNextRefresh time.Time
	lastUniverseSelected []string
	lastRuleConf         float64
	lastModelScore       float64

	universeLastPath string
}

// Build constructs a Pipeline from cfg and an already-configured
// exchange adapter. It is the single place every repository path and
// in-process component gets wired, mirroring build_pipeline()'s role.
func Build(cfg config.Config, ex broker.Exchange) (*Pipeline, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	runtimeDir := filepath.Join(dataDir, "runtime")
	datasetDir := filepath.Join(dataDir, "datasets")

	mapper, err := features.LoadSpec(filepath.Join("config", "feature_spec_v1.yaml"))
	if err != nil {
		return nil, fmt.Errorf("runtime: loading feature spec: %w", err)
	}

	snaps, err := storage.NewSnapshotRepo(filepath.Join(runtimeDir, "snapshots"))
	if err != nil {
		return nil, fmt.Errorf("runtime: snapshot repo: %w", err)
	}
	trades, err := storage.NewTradeRepo(filepath.Join(runtimeDir, "trades_open.csv"), filepath.Join(runtimeDir, "trades_closed.csv"))
	if err != nil {
		return nil, fmt.Errorf("runtime: trade repo: %w", err)
	}
	decisionCycles, err := storage.NewDecisionCycleRepo(filepath.Join(runtimeDir, "decision_cycles.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("runtime: decision cycle repo: %w", err)
	}
	orders, err := storage.NewOrderEventRepo(filepath.Join(runtimeDir, "orders.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("runtime: order event repo: %w", err)
	}
	executions, err := storage.NewExecutionEventRepo(filepath.Join(runtimeDir, "executions.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("runtime: execution event repo: %w", err)
	}
	universeCycles, err := storage.NewUniverseCycleRepo(filepath.Join(runtimeDir, "universe_cycles.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("runtime: universe cycle repo: %w", err)
	}
	universeSelections, err := storage.NewUniverseSelectionRepo(filepath.Join(runtimeDir, "universe_selection.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("runtime: universe selection repo: %w", err)
	}

	featureNames := mapper.FeatureNames()
	rlDataset, err := storage.NewParquetDatasetRepo(filepath.Join(datasetDir, "rl", "rl_dataset_v1.parquet"), featureNames)
	if err != nil {
		return nil, fmt.Errorf("runtime: rl dataset repo: %w", err)
	}
	scorerDataset, err := storage.NewParquetDatasetRepo(filepath.Join(datasetDir, "supervised", "scorer_dataset_v1.parquet"), featureNames)
	if err != nil {
		return nil, fmt.Errorf("runtime: scorer dataset repo: %w", err)
	}
	marketDataset, err := storage.NewParquetDatasetRepo(filepath.Join(datasetDir, "market", "market_each_cycle_v1.parquet"), featureNames)
	if err != nil {
		return nil, fmt.Errorf("runtime: market dataset repo: %w", err)
	}
	exportState, err := datasets.LoadExportState(filepath.Join(runtimeDir, "dataset_export_state.json"))
	if err != nil {
		return nil, fmt.Errorf("runtime: dataset export state: %w", err)
	}

	if cfg.UseJSONLFallback {
		rlDataset.SetJSONLFallback(true)
		scorerDataset.SetJSONLFallback(true)
		marketDataset.SetJSONLFallback(true)
	}

	snapBuilder, err := snapshot.NewBuilder(ex, snapshot.Config{
		LTFTF: cfg.LTF, HTFTFs: cfg.HTFList,
		ATRPeriod: cfg.ATRPeriod, VolThresholdATRPct: cfg.VolThresholdATRPct,
		MSLookback: cfg.MSLookback, MAFast: cfg.MAFast, MASlow: cfg.MASlow,
		HTFVolThresholdATRPct: cfg.HTFVolThresholdATRPct,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: snapshot builder: %w", err)
	}

	pol := buildPolicy(cfg, mapper)

	if cfg.Mode != config.ModeLive {
		broker.SetPaperBalances(cfg.PaperEquityUSDT, cfg.PaperFreeUSDT)
	}

	riskEngine := risk.NewEngine(riskConfigFromCfg(cfg))
	riskGuard := risk.NewGuard(guardConfigFromCfg(cfg))

	dispatcher := events.NewDispatcher()
	sink := events.NewTelegramSink(cfg.TelegramEnabled, cfg.TelegramToken, cfg.TelegramChatID)
	notifier := events.NewNotifier(sink)
	dispatcher.Subscribe("trade.open", notifier.HandleEvent)
	dispatcher.Subscribe("trade.closed", notifier.HandleEvent)
	dispatcher.Subscribe("universe.refreshed", notifier.HandleEvent)
	dispatcher.Subscribe("bot.start", notifier.HandleEvent)

	p := &Pipeline{
		cfg: cfg, ex: ex,
		snapBuilder: snapBuilder,
		selector:    universe.NewSelector(universeConfigFromCfg(cfg)),
		mapper:      mapper,
		pol:         pol,
		riskEngine:  riskEngine,
		riskGuard:   riskGuard,

		trades: trades, snaps: snaps,
		decisionCycles: decisionCycles, orders: orders, executions: executions,
		universeCycles: universeCycles, universeSelections: universeSelections,
		marketDataset: marketDataset,

		rlBuilder:     datasets.NewRLDatasetBuilder(trades, snaps, rlDataset, mapper, exportState),
		scorerBuilder: datasets.NewScorerDatasetBuilder(trades, snaps, scorerDataset, mapper, exportState),

		dispatcher: dispatcher,

		universeLastPath: filepath.Join(runtimeDir, "universe_last.json"),
	}

	if err := p.resolveInitialSymbols(); err != nil {
		return nil, err
	}
	p.resolveMaxOpenPositions()

	dispatcher.Publish("bot.start", map[string]any{})
	return p, nil
}

func buildPolicy(cfg config.Config, mapper *features.Mapper) policy.Policy {
	rule := policy.Policy(policy.NewRiskAwarePolicy())
	if cfg.Policy == "rule" {
		return rule
	}
	sc := scorer.Scorer(scorer.NeutralScorer{})
	if cfg.ScorerModelPath != "" {
		sc = scorer.NewLinearScorer(cfg.ScorerModelPath)
	}
	return policy.NewHybridPolicy(rule, mapper, sc, cfg.HybridConfMode)
}

func riskConfigFromCfg(cfg config.Config) risk.Config {
	return risk.Config{
		RiskPerTradePct: cfg.RiskPerTradePct, RiskPerTradeUSDT: cfg.RiskPerTradeUSDT,
		DefaultLeverage: cfg.DefaultLeverage, MaxLeverage: cfg.MaxLeverage,
		MarginUtilization: cfg.MarginUtilization,
		MaxNotionalUSDT: cfg.MaxNotionalUSDT, MaxExposurePctPerSymbol: cfg.MaxExposurePctPerSymbol,
		MinNotionalPolicy: risk.MinNotionalPolicy(cfg.MinNotionalPolicy),
		MaxRiskMultiplierOnOverride: cfg.MaxRiskMultiplierOnOverride, MaxRiskOverrideUSDT: cfg.MaxRiskOverrideUSDT,
		MinConfidence: cfg.MinConfidence,
	}
}

func guardConfigFromCfg(cfg config.Config) risk.GuardConfig {
	return risk.GuardConfig{
		MaxDailyLossUSDT: cfg.MaxDailyLossUSDT, MaxDailyLossPct: cfg.MaxDailyLossPct,
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses, CooldownSec: int64(cfg.CooldownSec),
		MaxTradesPerDay: cfg.MaxTradesPerDay,
	}
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

func (p *Pipeline) resolveInitialSymbols() error {
	if !p.cfg.SymbolsAuto {
		p.symbols = p.cfg.Symbols
		return nil
	}
	symbols, err := p.selectSymbolsAuto(context.Background())
	if err != nil {
		return fmt.Errorf("runtime: initial universe selection: %w", err)
	}
	p.symbols = symbols
	p.universeNextRefresh = time.Now().Add(refreshInterval(p.cfg.UniverseRefreshMin))
	return nil
}

func refreshInterval(minutes int) time.Duration {
	d := time.Duration(minutes) * time.Minute
	if d < time.Minute {
		d = time.Minute
	}
	return d
}

// resolveMaxOpenPositions mirrors run_paper_or_live_loop's
// MAX_OPEN_POSITIONS auto-sizing: live mode always respects the
// configured cap, but paper mode with no meaningful cap auto-scales to
// the universe size so a multi-symbol universe isn't starved by a
// single-symbol default, unless the operator opts back in via
// PAPER_RESPECT_MAX_OPEN_POSITIONS (carried here as MaxOpenPositions
// being explicitly set above 1 by the operator).
func (p *Pipeline) resolveMaxOpenPositions() {
	if p.cfg.Mode == config.ModeLive {
		p.maxOpenPositions = maxI(1, p.cfg.MaxOpenPositions)
		return
	}
	if p.cfg.MaxOpenPositions <= 1 && len(p.symbols) > 1 {
		p.maxOpenPositions = maxI(1, len(p.symbols))
		p.autoMaxOpenPositions = true
		return
	}
	if p.cfg.MaxOpenPositions > 0 {
		p.maxOpenPositions = p.cfg.MaxOpenPositions
		return
	}
	p.maxOpenPositions = maxI(1, len(p.symbols))
}

func maxI(a, b int) int {
	if a > b {
		return a
	}
	return b
}
