// Package metrics registers the Prometheus gauges/counters the runtime
// loop updates each cycle. Same shape as the teacher's metrics.go:
// package-level vars, each registered with the default registry through
// promauto at package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DecisionCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_decision_cycles_total",
		Help: "Decision cycles evaluated, labeled by symbol and outcome.",
	}, []string{"symbol", "outcome"})

	RiskBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_risk_blocks_total",
		Help: "Pre-open gate rejections, labeled by reason.",
	}, []string{"reason"})

	TradesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_trades_opened_total",
		Help: "Trades opened, labeled by symbol and direction.",
	}, []string{"symbol", "direction"})

	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_trades_closed_total",
		Help: "Trades closed, labeled by symbol and exit type.",
	}, []string{"symbol", "exit_type"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_open_positions",
		Help: "Currently open trades.",
	})

	UniverseRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_universe_refreshes_total",
		Help: "Universe selector refresh cycles run.",
	})

	UniverseSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_universe_size",
		Help: "Symbols in the currently selected universe.",
	})

	PnLRealizedUSDT = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_pnl_realized_usdt_total",
		Help: "Cumulative realized PnL in USDT (sum of positive and negative).",
	})

	EquityUSDT = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_equity_usdt",
		Help: "Last known account equity in USDT.",
	})
)
