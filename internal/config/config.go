// Package config holds the typed runtime configuration for the trading
// engine and the single pass over the environment that populates it.
//
// The .env file itself is loaded with godotenv (see Load); once loaded,
// every value is read through getEnv* helpers in the style the
// rest of this codebase uses for env access.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mode selects which of the four runtime behaviors the engine runs.
type Mode string

const (
	ModeDemo  Mode = "demo"
	ModeData  Mode = "data"
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// MinNotionalPolicy controls risk-engine behavior when a sized position
// would fall under the venue's minimum notional.
type MinNotionalPolicy string

const (
	MinNotionalSkip         MinNotionalPolicy = "skip"
	MinNotionalOverrideCap  MinNotionalPolicy = "override_with_cap"
)

// HybridConfMode controls how rule confidence and model score are combined.
type HybridConfMode string

const (
	HybridConfMul   HybridConfMode = "mul"
	HybridConfModel HybridConfMode = "model"
	HybridConfRule  HybridConfMode = "rule"
)

// Config is the single source of runtime knobs. It is built once at
// startup by Load and passed down by value/pointer to every component.
type Config struct {
	Mode        Mode
	LiveConfirm bool

	Symbols      []string // resolved list, or nil if AUTO
	SymbolsAuto  bool
	CycleSec     int

	LTF     string
	HTFList []string

	ATRPeriod              int
	VolThresholdATRPct     float64
	HTFVolThresholdATRPct  float64
	MSLookback             int
	MAFast                 int
	MASlow                 int

	Exchange        string
	ExchangeTestnet bool
	APIKey          string
	APISecret       string
	APIPassphrase   string
	ExchangeTimeout time.Duration

	RiskPerTradePct            float64
	RiskPerTradeUSDT            float64
	DefaultLeverage             int
	MaxLeverage                 int
	MarginUtilization           float64
	MaxNotionalUSDT              float64
	MaxExposurePctPerSymbol     float64
	MinNotionalPolicy           MinNotionalPolicy
	MaxRiskMultiplierOnOverride float64
	MaxRiskOverrideUSDT          float64
	MinConfidence                float64

	MaxDailyLossUSDT      float64
	MaxDailyLossPct       float64
	MaxConsecutiveLosses  int
	CooldownSec           int
	MaxTradesPerDay       int
	RiskGuardPaper        bool
	MaxOpenPositions      int

	UniverseSelectorVersion int
	UniverseTargetSymbols   int
	UniverseRefreshMin      int
	UniverseMinQuoteVolUSDT float64
	UniverseMinATRPct       float64
	UniverseMaxCorr         float64
	UniverseCorrTF          string
	UniverseATRTF           string
	UniverseCandidateCap    int
	UniverseMaxSpreadPct    float64
	UniverseMaxAbsFunding   float64
	UniverseStickyKeep      int
	UniverseIncludeBases    []string
	UniverseExcludeBases    []string
	UniverseExcludeStable   []string
	UniverseCyclesHistoryMaxRows int

	Policy         string // rule|hybrid
	ScorerModelPath string
	ScorerModelType string
	HybridConfMode HybridConfMode

	PaperEquityUSDT float64
	PaperFreeUSDT   float64
	FeeRate         float64

	UseJSONLFallback bool

	TelegramEnabled bool
	TelegramToken   string
	TelegramChatID  string
	LogLevel        string
	Port            int

	DataDir string

	DevEnableDemoData bool
}

// Load reads .env (if present) then populates Config from the process
// environment, applying defaults and validating the invariants the rest
// of the system assumes (5m LTF, required HTF set, live confirmation).
func Load() (Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	c := Config{
		Mode:        Mode(strings.ToLower(getEnv("BOT_MODE", "paper"))),
		LiveConfirm: getEnvBool("LIVE_CONFIRM", false),

		CycleSec: getEnvInt("BOT_CYCLE_SEC", 300),

		LTF:     getEnv("BOT_LTF", "5m"),
		HTFList: splitCSV(getEnv("BOT_HTF_LIST", "15m,1h,4h")),

		ATRPeriod:             getEnvInt("ATR_PERIOD", 14),
		VolThresholdATRPct:    getEnvFloat("VOL_THRESHOLD_ATR_PCT", 0.004),
		HTFVolThresholdATRPct: getEnvFloat("HTF_VOL_THRESHOLD_ATR_PCT", 0.006),
		MSLookback:            getEnvInt("MS_LOOKBACK", 20),
		MAFast:                getEnvInt("MA_FAST", 20),
		MASlow:                getEnvInt("MA_SLOW", 50),

		Exchange:        strings.ToLower(getEnv("EXCHANGE", "binance")),
		ExchangeTestnet: getEnvBool("EXCHANGE_TESTNET", true),
		APIKey:          getEnv("EXCHANGE_API_KEY", ""),
		APISecret:       getEnv("EXCHANGE_API_SECRET", ""),
		APIPassphrase:   getEnv("EXCHANGE_API_PASSPHRASE", ""),
		ExchangeTimeout: time.Duration(getEnvInt("EXCHANGE_TIMEOUT_MS", 30000)) * time.Millisecond,

		RiskPerTradePct:             getEnvFloat("RISK_PER_TRADE_PCT", 0.25),
		RiskPerTradeUSDT:            getEnvFloat("RISK_PER_TRADE_USDT", 0),
		DefaultLeverage:             getEnvInt("LEVERAGE", 3),
		MaxLeverage:                 getEnvInt("MAX_LEVERAGE", 10),
		MarginUtilization:           getEnvFloat("MARGIN_UTILIZATION", 0.3),
		MaxNotionalUSDT:             getEnvFloat("MAX_NOTIONAL_USDT", 0),
		MaxExposurePctPerSymbol:     getEnvFloat("MAX_EXPOSURE_PCT_PER_SYMBOL", 0),
		MinNotionalPolicy:           MinNotionalPolicy(getEnv("MIN_NOTIONAL_POLICY", string(MinNotionalOverrideCap))),
		MaxRiskMultiplierOnOverride: getEnvFloat("MAX_RISK_MULTIPLIER_ON_OVERRIDE", 2.0),
		MaxRiskOverrideUSDT:         getEnvFloat("MAX_RISK_OVERRIDE_USDT", 0),
		MinConfidence:               getEnvFloat("MIN_CONFIDENCE", 0.0),

		MaxDailyLossUSDT:     getEnvFloat("MAX_DAILY_LOSS_USDT", 0),
		MaxDailyLossPct:      getEnvFloat("MAX_DAILY_LOSS_PCT", 3.0),
		MaxConsecutiveLosses: getEnvInt("MAX_CONSECUTIVE_LOSSES", 4),
		CooldownSec:          getEnvInt("COOLDOWN_SEC", 0),
		MaxTradesPerDay:      getEnvInt("MAX_TRADES_PER_DAY", 20),
		RiskGuardPaper:       getEnvBool("RISK_GUARD_PAPER", false),
		MaxOpenPositions:     getEnvInt("MAX_OPEN_POSITIONS", 3),

		UniverseSelectorVersion: getEnvInt("UNIVERSE_SELECTOR_VERSION", 3),
		UniverseTargetSymbols:   getEnvInt("UNIVERSE_TARGET_SYMBOLS", 8),
		UniverseRefreshMin:      getEnvInt("UNIVERSE_REFRESH_MIN", 60),
		UniverseMinQuoteVolUSDT: getEnvFloat("UNIVERSE_MIN_QUOTE_VOL_USDT", 20_000_000),
		UniverseMinATRPct:       getEnvFloat("UNIVERSE_MIN_ATR_PCT", 0.004),
		UniverseMaxCorr:         getEnvFloat("UNIVERSE_MAX_CORR", 0.85),
		UniverseCorrTF:          getEnv("UNIVERSE_CORR_TF", "1h"),
		UniverseATRTF:           getEnv("UNIVERSE_ATR_TF", "1h"),
		UniverseCandidateCap:    getEnvInt("UNIVERSE_MAX_CANDIDATES_BY_LIQUIDITY", 160),
		UniverseMaxSpreadPct:    getEnvFloat("UNIVERSE_MAX_SPREAD_PCT", 0.003),
		UniverseMaxAbsFunding:   getEnvFloat("UNIVERSE_MAX_ABS_FUNDING", 0.003),
		UniverseStickyKeep:      getEnvInt("UNIVERSE_STICKY_KEEP", 2),
		UniverseIncludeBases:    splitCSV(getEnv("UNIVERSE_INCLUDE_BASES", "")),
		UniverseExcludeBases:    splitCSV(getEnv("UNIVERSE_EXCLUDE_BASES", "")),
		UniverseExcludeStable:   splitCSV(getEnv("UNIVERSE_EXCLUDE_STABLE_BASES", "USDC,FDUSD,TUSD,DAI,BUSD")),
		UniverseCyclesHistoryMaxRows: getEnvInt("UNIVERSE_CYCLES_HISTORY_MAX_ROWS", 5000),

		Policy:          strings.ToLower(getEnv("BOT_POLICY", "hybrid")),
		ScorerModelPath: getEnv("SCORER_MODEL_PATH", ""),
		ScorerModelType: strings.ToLower(getEnv("SCORER_MODEL_TYPE", "auto")),
		HybridConfMode:  HybridConfMode(getEnv("HYBRID_CONF_MODE", string(HybridConfMul))),

		PaperEquityUSDT: getEnvFloat("PAPER_EQUITY_USDT", 1000),
		PaperFreeUSDT:   getEnvFloat("PAPER_FREE_USDT", 1000),
		FeeRate:         getEnvFloat("FEE_RATE", 0.0006),

		UseJSONLFallback: getEnvBool("USE_JSONL_FALLBACK", false),

		TelegramEnabled: getEnvBool("TELEGRAM_ENABLED", false),
		TelegramToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:  getEnv("TELEGRAM_CHAT_ID", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Port:            getEnvInt("PORT", 8080),

		DataDir: getEnv("DATA_DIR", "./data"),

		DevEnableDemoData: getEnvBool("DEV_ENABLE_DEMO_DATA", false),
	}

	symbolsRaw := strings.TrimSpace(getEnv("BOT_SYMBOLS", ""))
	switch {
	case strings.EqualFold(symbolsRaw, "AUTO"):
		c.SymbolsAuto = true
	case symbolsRaw != "":
		c.Symbols = splitCSV(symbolsRaw)
	default:
		if single := getEnv("BOT_SYMBOL", ""); single != "" {
			c.Symbols = []string{single}
		} else {
			c.SymbolsAuto = true
		}
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate enforces the invariants the rest of the system assumes and
// never silently relaxes: the 5m LTF lock, the required HTF set, and the
// live-mode confirmation gate.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeDemo, ModeData, ModePaper, ModeLive:
	default:
		return fmt.Errorf("config: unknown BOT_MODE %q", c.Mode)
	}
	if c.Mode == ModeLive && !c.LiveConfirm {
		return fmt.Errorf("config: BOT_MODE=live requires LIVE_CONFIRM=1")
	}
	if (c.Mode == ModeDemo || c.Mode == ModeData) && !c.DevEnableDemoData {
		return fmt.Errorf("config: BOT_MODE=%s requires DEV_ENABLE_DEMO_DATA=1", c.Mode)
	}
	if c.LTF != "5m" {
		return fmt.Errorf("config: BOT_LTF must be 5m, got %q", c.LTF)
	}
	required := map[string]bool{"15m": false, "1h": false, "4h": false}
	for _, tf := range c.HTFList {
		if _, ok := required[tf]; ok {
			required[tf] = true
		}
	}
	for tf, present := range required {
		if !present {
			return fmt.Errorf("config: BOT_HTF_LIST must include %s", tf)
		}
	}
	switch c.Exchange {
	case "binance":
	case "bybit", "mexc":
		return fmt.Errorf("config: EXCHANGE=%s is not implemented in this build", c.Exchange)
	default:
		return fmt.Errorf("config: unknown EXCHANGE %q", c.Exchange)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
