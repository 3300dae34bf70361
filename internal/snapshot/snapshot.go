// Package snapshot builds immutable, leakage-free multi-timeframe market
// snapshots from an exchange adapter, grounded on
// infrastructure/market/snapshot_builder_v1.py and, for the underlying
// TA math, the teacher's indicators.go (SMA/RSI/ZScore shape).
package snapshot

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
)

// ForbiddenKeys are outcome/decision fields that must never appear on a
// snapshot; their presence signals leakage from a later pipeline stage.
var ForbiddenKeys = map[string]struct{}{
	"decision": {}, "execution_state": {}, "reward_state": {}, "risk_unit": {},
	"pnl": {}, "pnl_raw": {}, "pnl_r": {}, "exit_price": {}, "exit_time_utc": {},
	"tp_price": {}, "sl_price": {}, "rr": {},
}

// ErrForbiddenKey names the leakage-key failure. No function in this
// package returns it; the feature mapper rejects such snapshots with its
// own error.
var ErrForbiddenKey = errors.New("snapshot: forbidden leakage key present")

// Price holds OHLCV plus derived volatility fields for one timeframe bar.
type Price struct {
	Open, High, Low, Close, Volume float64
	RangePct                       float64
	ATRPct                         float64
	VolatilityRegime               string // dead|normal|expansion
}

// MicroStructure captures the simple HH/LL/HL/LH read used downstream.
type MicroStructure struct {
	HHLLState            string // HH|LL|HL|LH
	BOS                  bool
	DistanceToStructure  float64
}

// LTFBlock is the lower-timeframe block (locked to 5m).
type LTFBlock struct {
	TF             string
	Timestamp      int64
	Price          Price
	MicroStructure MicroStructure
}

// TFBlock is one higher-timeframe reading.
type TFBlock struct {
	Trend             string // up|down|flat
	BOS               bool
	LiquidityState    string // reserved for a future liquidity-pool model, always empty for now
	MarketRegime      string // trend|range
	VolatilityRegime  string // normal|high
}

// Context carries session/funding/spread/daily-ATR fields.
type Context struct {
	Session          string
	Exchange         string
	FundingRate      float64
	FundingZScore    float64
	Bid, Ask, Mid    float64
	SpreadPct        float64
	DailyATRPct      float64
	DailyATRRatio30  float64
}

// Snapshot is the immutable per-symbol market read.
type Snapshot struct {
	SchemaVersion   string
	SnapshotID      string
	SnapshotTimeUTC int64
	ObserverTimeUTC int64
	Symbol          string
	LTF             LTFBlock
	HTF             map[string]TFBlock
	Context         Context
}

// Validate enforces the invariants every snapshot must satisfy:
// schema version, LTF lock, required HTF keys, and the ordering of
// snapshot vs observer time.
func (s Snapshot) Validate() error {
	if s.SchemaVersion != "v3" {
		return fmt.Errorf("snapshot: schema_version must be v3, got %q", s.SchemaVersion)
	}
	if s.SnapshotTimeUTC > s.ObserverTimeUTC {
		return fmt.Errorf("snapshot: snapshot_time_utc must be <= observer_time_utc")
	}
	if s.LTF.TF != "5m" {
		return fmt.Errorf("snapshot: ltf.tf must be 5m, got %q", s.LTF.TF)
	}
	for _, tf := range []string{"15m", "1h", "4h"} {
		if _, ok := s.HTF[tf]; !ok {
			return fmt.Errorf("snapshot: htf missing required timeframe %s", tf)
		}
	}
	return nil
}

// Config locks the timeframe shape the builder operates under.
type Config struct {
	LTFTF   string
	HTFTFs  []string

	ATRPeriod             int
	VolThresholdATRPct    float64
	MSLookback            int
	MAFast                int
	MASlow                int
	HTFVolThresholdATRPct float64
}

// DefaultConfig mirrors SnapshotBuilderConfig's defaults.
func DefaultConfig() Config {
	return Config{
		LTFTF:                 "5m",
		HTFTFs:                []string{"15m", "1h", "4h"},
		ATRPeriod:             14,
		VolThresholdATRPct:    0.003,
		MSLookback:            20,
		MAFast:                20,
		MASlow:                50,
		HTFVolThresholdATRPct: 0.01,
	}
}

// Validate enforces the hard lock: LTF must be 5m and HTF must include
// {15m, 1h, 4h}. This is the Go analogue of SnapshotBuilderConfig's
// __post_init__ raising ValueError; here it is surfaced as a
// constructor error rather than a panic.
func (c Config) Validate() error {
	if c.LTFTF != "5m" {
		return fmt.Errorf("snapshot: config.LTFTF must be 5m, got %q", c.LTFTF)
	}
	req := map[string]bool{"15m": false, "1h": false, "4h": false}
	for _, tf := range c.HTFTFs {
		if _, ok := req[tf]; ok {
			req[tf] = true
		}
	}
	for tf, ok := range req {
		if !ok {
			return fmt.Errorf("snapshot: config.HTFTFs must include %s", tf)
		}
	}
	return nil
}

// Builder assembles Snapshots from venue data, keeping the per-symbol
// funding history and daily-ATR caches an instance needs between calls.
type Builder struct {
	ex  broker.Exchange
	cfg Config

	mu          sync.Mutex
	fundingHist map[string][]float64
	dailyCache  map[string]dailyCacheEntry

	now func() time.Time // overridable for tests
}

type dailyCacheEntry struct {
	at              time.Time
	dailyATRPct     float64
	dailyATRRatio30 float64
}

// NewBuilder constructs a Builder, rejecting a misconfigured timeframe
// set up front.
func NewBuilder(ex broker.Exchange, cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{
		ex:          ex,
		cfg:         cfg,
		fundingHist: make(map[string][]float64),
		dailyCache:  make(map[string]dailyCacheEntry),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Build fetches venue data for symbol and assembles a Snapshot using
// only closed bars. A venue call failing for HTF or funding/spread/daily
// data degrades that block to zero values rather than failing the
// whole build; a missing LTF series returns an error since no
// meaningful snapshot can be built without it.
func (b *Builder) Build(ctx context.Context, symbol string) (Snapshot, error) {
	now := b.now()
	nowMs := now.UnixMilli()

	ltfBars, err := b.ex.OHLCV(ctx, symbol, b.cfg.LTFTF, 220)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: ltf ohlcv: %w", err)
	}
	ltfBars = dropOpenBar(ltfBars, nowMs, tfMillis(b.cfg.LTFTF))
	if len(ltfBars) == 0 {
		return Snapshot{}, fmt.Errorf("snapshot: no closed %s bars for %s", b.cfg.LTFTF, symbol)
	}

	lastBar := ltfBars[len(ltfBars)-1]
	closeTimeUTC := lastBar.OpenTime.Add(tfDuration(b.cfg.LTFTF)).Unix()

	snapID := computeSnapshotID(b.ex.Name(), symbol, b.cfg.LTFTF, closeTimeUTC)

	closes := closesOf(ltfBars)
	highs := highsOf(ltfBars)
	lows := lowsOf(ltfBars)

	c := lastBar.Close
	rngPct := 0.0
	if c != 0 {
		rngPct = (lastBar.High - lastBar.Low) / c
	}
	atrSeries := atr(highs, lows, closes, b.cfg.ATRPeriod)
	atrVal := last(atrSeries)
	atrPct := 0.0
	if c != 0 {
		atrPct = atrVal / c
	}
	volRegime := volatilityRegime(atrPct, b.cfg.VolThresholdATRPct)

	lookback := b.cfg.MSLookback
	if lookback < 5 {
		lookback = 5
	}
	msCloses := tail(closes, lookback)
	hhll := hhLLState(msCloses)
	bos := hhll == "HH" || hhll == "LL"
	distToStruct := distanceToStructure(msCloses, c)

	htf := make(map[string]TFBlock, len(b.cfg.HTFTFs))
	for _, tf := range b.cfg.HTFTFs {
		// A failed read leaves the zero-valued block in place.
		block, _ := b.buildHTFBlock(ctx, symbol, tf, nowMs)
		htf[tf] = block
	}

	fundingRate, _ := b.ex.FundingRate(ctx, symbol)
	fundingZ := b.updateFundingHistory(symbol, fundingRate)

	bid, ask, mid, spreadPct := b.spreadOf(ctx, symbol, c)
	dailyATRPct, dailyATRRatio30 := b.dailyATR(ctx, symbol, now)

	snap := Snapshot{
		SchemaVersion:   "v3",
		SnapshotID:      snapID,
		SnapshotTimeUTC: closeTimeUTC,
		ObserverTimeUTC: now.Unix(),
		Symbol:          symbol,
		LTF: LTFBlock{
			TF:        b.cfg.LTFTF,
			Timestamp: closeTimeUTC,
			Price: Price{
				Open: lastBar.Open, High: lastBar.High, Low: lastBar.Low, Close: c, Volume: lastBar.Volume,
				RangePct: rngPct, ATRPct: atrPct, VolatilityRegime: volRegime,
			},
			MicroStructure: MicroStructure{HHLLState: hhll, BOS: bos, DistanceToStructure: distToStruct},
		},
		HTF: htf,
		Context: Context{
			Session:         sessionFor(closeTimeUTC),
			Exchange:        b.ex.Name(),
			FundingRate:     fundingRate,
			FundingZScore:   fundingZ,
			Bid:             bid,
			Ask:             ask,
			Mid:             mid,
			SpreadPct:       spreadPct,
			DailyATRPct:     dailyATRPct,
			DailyATRRatio30: dailyATRRatio30,
		},
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (b *Builder) buildHTFBlock(ctx context.Context, symbol, tf string, nowMs int64) (TFBlock, bool) {
	bars, err := b.ex.OHLCV(ctx, symbol, tf, 220)
	if err != nil || len(bars) == 0 {
		return TFBlock{}, false
	}
	bars = dropOpenBar(bars, nowMs, tfMillis(tf))
	if len(bars) == 0 {
		return TFBlock{}, false
	}
	closes := closesOf(bars)
	highs := highsOf(bars)
	lows := lowsOf(bars)
	lastC := last(closes)
	maF := last(sma(closes, b.cfg.MAFast))
	maS := last(sma(closes, b.cfg.MASlow))

	trend := "flat"
	switch {
	case lastC > maS && maF >= maS:
		trend = "up"
	case lastC < maS && maF <= maS:
		trend = "down"
	}

	maSpread := 0.0
	if lastC != 0 {
		maSpread = math.Abs(maF-maS) / lastC
	}
	marketRegime := "range"
	if maSpread >= 0.0015 {
		marketRegime = "trend"
	}

	atrH := last(atr(highs, lows, closes, b.cfg.ATRPeriod))
	atrPctH := 0.0
	if lastC != 0 {
		atrPctH = atrH / lastC
	}
	volRegime := "normal"
	if atrPctH >= b.cfg.HTFVolThresholdATRPct {
		volRegime = "high"
	}

	lookback := b.cfg.MSLookback
	if lookback < 5 {
		lookback = 5
	}
	hhll := hhLLState(tail(closes, lookback))
	bos := hhll == "HH" || hhll == "LL"

	// LiquidityState stays at its zero value; no liquidity-pool model feeds it yet.
	return TFBlock{Trend: trend, BOS: bos, MarketRegime: marketRegime, VolatilityRegime: volRegime}, true
}

func (b *Builder) updateFundingHistory(symbol string, funding float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	hist := append(b.fundingHist[symbol], funding)
	if len(hist) > 200 {
		hist = hist[len(hist)-200:]
	}
	b.fundingHist[symbol] = hist

	if len(hist) < 20 {
		return 0
	}
	var sum float64
	for _, x := range hist {
		sum += x
	}
	mean := sum / float64(len(hist))
	var sq float64
	for _, x := range hist {
		d := x - mean
		sq += d * d
	}
	variance := sq / float64(len(hist)-1)
	sd := math.Sqrt(variance)
	if sd <= 1e-12 {
		return 0
	}
	return (funding - mean) / sd
}

func (b *Builder) spreadOf(ctx context.Context, symbol string, fallbackClose float64) (bid, ask, mid, spreadPct float64) {
	tks, err := b.ex.Tickers(ctx, []string{symbol})
	if err != nil {
		return 0, 0, 0, 0
	}
	t, ok := tks[symbol]
	if !ok {
		return 0, 0, 0, 0
	}
	bid, ask = t.Bid, t.Ask
	if bid == 0 && ask == 0 {
		bid, ask = fallbackClose, fallbackClose
	}
	mid = (bid + ask) / 2
	if mid != 0 {
		spreadPct = math.Abs(ask-bid) / mid
	}
	return
}

func (b *Builder) dailyATR(ctx context.Context, symbol string, now time.Time) (float64, float64) {
	b.mu.Lock()
	cached, ok := b.dailyCache[symbol]
	b.mu.Unlock()
	if ok && now.Sub(cached.at) <= 6*time.Hour {
		return cached.dailyATRPct, cached.dailyATRRatio30
	}

	bars, err := b.ex.OHLCV(ctx, symbol, "1d", 70)
	pct, ratio := 0.0, 0.0
	if err == nil && len(bars) >= 20 {
		highs, lows, closes := highsOf(bars), lowsOf(bars), closesOf(bars)
		series := atr(highs, lows, closes, b.cfg.ATRPeriod)
		var trimmed []float64
		for i, v := range series {
			if i >= b.cfg.ATRPeriod-1 {
				trimmed = append(trimmed, v)
			}
		}
		if len(trimmed) > 0 {
			cur := trimmed[len(trimmed)-1]
			window := tail(trimmed, 30)
			var sum float64
			for _, v := range window {
				sum += v
			}
			mean30 := sum / float64(len(window))
			closeD := last(closes)
			if closeD != 0 {
				pct = cur / closeD
			}
			if mean30 != 0 {
				ratio = cur / mean30
			}
		}
	}

	b.mu.Lock()
	b.dailyCache[symbol] = dailyCacheEntry{at: now, dailyATRPct: pct, dailyATRRatio30: ratio}
	b.mu.Unlock()
	return pct, ratio
}

func volatilityRegime(atrPct, threshold float64) string {
	if threshold <= 0 {
		return "normal"
	}
	switch {
	case atrPct < 0.5*threshold:
		return "dead"
	case atrPct < 1.5*threshold:
		return "normal"
	default:
		return "expansion"
	}
}

func hhLLState(closes []float64) string {
	if len(closes) < 3 {
		return "HL"
	}
	prev := closes[:len(closes)-1]
	lastC := closes[len(closes)-1]
	hi, lo := prev[0], prev[0]
	for _, v := range prev {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	if lastC >= hi {
		return "HH"
	}
	if lastC <= lo {
		return "LL"
	}
	if lastC >= prev[len(prev)-1] {
		return "HL"
	}
	return "LH"
}

func distanceToStructure(closes []float64, c float64) float64 {
	if len(closes) == 0 || c == 0 {
		return 0
	}
	hi, lo := closes[0], closes[0]
	for _, v := range closes {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	dHi := math.Abs(c - hi)
	dLo := math.Abs(c - lo)
	if dHi < dLo {
		return dHi / c
	}
	return dLo / c
}

func sessionFor(unixUTC int64) string {
	h := time.Unix(unixUTC, 0).UTC().Hour()
	switch {
	case h >= 0 && h < 8:
		return "asia"
	case h >= 8 && h < 16:
		return "london"
	default:
		return "ny"
	}
}

func computeSnapshotID(exchange, symbol, tf string, closeTimeUTC int64) string {
	key := fmt.Sprintf("%s|%s|%s|%d|v3", exchange, symbol, tf, closeTimeUTC)
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:20]
}

func tfMillis(tf string) int64 { return tfDuration(tf).Milliseconds() }

func tfDuration(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

func dropOpenBar(bars []broker.Candle, nowMs, tfMs int64) []broker.Candle {
	if len(bars) == 0 {
		return bars
	}
	lastOpenMs := bars[len(bars)-1].OpenTime.UnixMilli()
	if nowMs < lastOpenMs+tfMs && len(bars) >= 2 {
		return bars[:len(bars)-1]
	}
	return bars
}

func closesOf(bars []broker.Candle) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func highsOf(bars []broker.Candle) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func lowsOf(bars []broker.Candle) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
