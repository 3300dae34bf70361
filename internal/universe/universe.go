// Package universe selects the set of symbols the runtime trades each
// refresh cycle, grounded on
// trade_ai/infrastructure/market/universe_selector_v3.py: liquidity and
// quality filters over a bulk ticker scan, a richer score blending
// liquidity, volatility, open interest and funding signals, then a
// correlation-aware greedy selection with a sticky carryover of
// previously selected symbols.
package universe

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/matodo9x-maker/bot-trade/internal/broker"
)

// Config mirrors UniverseConfigV3's defaults exactly.
type Config struct {
	TargetSymbols            int
	MinQuoteVolUSDT          float64
	MaxCandidatesByLiquidity int
	MaxSpreadPct             float64
	MaxAbsFunding            float64
	MinLastPrice             float64

	ATRTimeframe string
	ATRPeriod    int
	ATRLimit     int
	MinATRPct    float64

	MaxCorr    float64
	CorrTF     string
	CorrLimit  int

	StickyEnabled bool
	StickyKeep    int

	HistoryPoints int

	WLiq         float64
	WATR         float64
	WVolBurst    float64
	WVolAccel    float64
	WOI          float64
	WOIAccel     float64
	WFundAbsPen  float64
	WFundZPen    float64
	WSpreadPen   float64

	ExcludeBases   []string
	IncludeSymbols []string
	ExcludeSymbols []string
}

// DefaultConfig returns UniverseConfigV3's published defaults.
func DefaultConfig() Config {
	return Config{
		TargetSymbols:            8,
		MinQuoteVolUSDT:          20_000_000,
		MaxCandidatesByLiquidity: 160,
		MaxSpreadPct:             0.0030,
		MaxAbsFunding:            0.0030,
		MinLastPrice:             0,
		ATRTimeframe:             "1h",
		ATRPeriod:                14,
		ATRLimit:                 200,
		MinATRPct:                0.004,
		MaxCorr:                  0.85,
		CorrTF:                   "1h",
		CorrLimit:                250,
		StickyEnabled:            true,
		StickyKeep:               2,
		HistoryPoints:            64,
		WLiq:                     1.0,
		WATR:                     2.0,
		WVolBurst:                0.7,
		WVolAccel:                0.8,
		WOI:                      0.7,
		WOIAccel:                 0.6,
		WFundAbsPen:              1.2,
		WFundZPen:                0.7,
		WSpreadPen:               1.0,
		ExcludeBases:             []string{"USDC", "BUSD", "TUSD", "FDUSD", "DAI", "USDP", "USDE", "USTC"},
	}
}

// PrevMetrics is the per-symbol snapshot of metrics from the previous
// refresh, used to derive acceleration terms.
type PrevMetrics struct {
	QuoteVolUSDT   float64
	ATRPct         float64
	OpenInterest   float64
	HasQuoteVol    bool
	HasATRPct      bool
	HasOpenInterest bool
}

// History holds bounded per-symbol metric series used for funding
// z-scores and volatility-burst medians.
type History struct {
	FundingRate []float64
	ATRPct      []float64
}

// CandidateScore is one symbol's computed ranking row.
type CandidateScore struct {
	Symbol        string
	QuoteVolUSDT  float64
	ATRTimeframe  string
	ATRPct        float64
	ATRBurst      float64
	HasATRBurst   bool
	SpreadPct     float64
	HasSpreadPct  bool
	FundingRate   float64
	FundingZ      float64
	HasFundingZ   bool
	VolAccel      float64
	HasVolAccel   bool
	OpenInterest  float64
	HasOI         bool
	OIAccel       float64
	HasOIAccel    bool
	Score         float64
}

// Excluded records why a candidate was dropped from scoring.
type Excluded struct {
	Symbol string
	Reason string
}

// Report is the output of one selection pass.
type Report struct {
	SchemaVersion    string
	TimestampUnix    int64
	Exchange         string
	Config           Config
	Selected         []CandidateScore
	CandidatesScored []CandidateScore
	Excluded         []Excluded
}

// Selector runs the V3 selection pipeline against an exchange.
type Selector struct {
	cfg Config
	now func() int64
}

// NewSelector builds a Selector from cfg.
func NewSelector(cfg Config) *Selector {
	return &Selector{cfg: cfg}
}

// Select runs one selection pass. prevSelected is the previous cycle's
// selected symbols (for sticky carryover); history/prevMetrics may be
// nil maps when no prior cycle data exists.
func (s *Selector) Select(
	ctx context.Context,
	ex broker.Exchange,
	prevSelected []string,
	history map[string]History,
	prevMetrics map[string]PrevMetrics,
) (Report, error) {
	now := nowUnix(s.now)

	markets, err := ex.ListActiveSymbols(ctx)
	if err != nil {
		markets = nil
	}

	include := toSet(s.cfg.IncludeSymbols)
	exclude := toSet(s.cfg.ExcludeSymbols)
	stableBases := toSet(s.cfg.ExcludeBases)
	prev := normalizeAll(prevSelected)

	candidates := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		candidates[normalize(m)] = struct{}{}
	}
	for sym := range include {
		candidates[sym] = struct{}{}
	}
	for sym := range exclude {
		delete(candidates, sym)
	}

	var excluded []Excluded
	symList := make([]string, 0, len(candidates))
	for sym := range candidates {
		symList = append(symList, sym)
	}
	sort.Strings(symList)

	tickers, err := ex.Tickers(ctx, symList)
	if err != nil {
		tickers = map[string]broker.Ticker{}
	}

	type liqRow struct {
		symbol       string
		quoteVol     float64
		last         float64
		spreadPct    float64
		hasSpread    bool
		forced       bool
	}
	var liqRows []liqRow
	for _, sym := range symList {
		base := strings.TrimSuffix(sym, "USDT")
		if _, bad := stableBases[base]; bad {
			excluded = append(excluded, Excluded{sym, "stablecoin_base"})
			continue
		}
		tk, ok := tickers[sym]
		if !ok {
			excluded = append(excluded, Excluded{sym, "ticker_unavailable"})
			continue
		}
		if tk.Last <= 0 {
			excluded = append(excluded, Excluded{sym, "bad_last_price"})
			continue
		}
		if _, forced := include[sym]; !forced && tk.Last < s.cfg.MinLastPrice {
			excluded = append(excluded, Excluded{sym, "min_last_price"})
			continue
		}
		spreadPct, hasSpread := 0.0, false
		if tk.Bid > 0 && tk.Ask >= tk.Bid {
			mid := (tk.Bid + tk.Ask) / 2
			if mid > 0 {
				spreadPct, hasSpread = (tk.Ask-tk.Bid)/mid, true
			}
		}
		liqRows = append(liqRows, liqRow{sym, tk.QuoteVol, tk.Last, spreadPct, hasSpread, false})
	}
	sort.Slice(liqRows, func(i, j int) bool { return liqRows[i].quoteVol > liqRows[j].quoteVol })

	topN := s.cfg.MaxCandidatesByLiquidity
	if topN < 10 {
		topN = 10
	}
	if topN > len(liqRows) {
		topN = len(liqRows)
	}
	top := append([]liqRow(nil), liqRows[:topN]...)
	for sym := range include {
		found := false
		for _, r := range top {
			if r.symbol == sym {
				found = true
				break
			}
		}
		if !found {
			top = append(top, liqRow{symbol: sym, forced: true})
		}
	}

	var scored []CandidateScore
	for _, row := range top {
		_, forced := include[row.symbol]
		forced = forced || row.forced

		if !forced && row.quoteVol < s.cfg.MinQuoteVolUSDT {
			excluded = append(excluded, Excluded{row.symbol, "low_liquidity"})
			continue
		}
		if !forced && row.hasSpread && row.spreadPct > s.cfg.MaxSpreadPct {
			excluded = append(excluded, Excluded{row.symbol, "wide_spread"})
			continue
		}

		funding, _ := ex.FundingRate(ctx, row.symbol)
		if !forced && s.cfg.MaxAbsFunding > 0 && math.Abs(funding) > s.cfg.MaxAbsFunding {
			excluded = append(excluded, Excluded{row.symbol, "extreme_funding"})
			continue
		}

		bars, err := ex.OHLCV(ctx, row.symbol, s.cfg.ATRTimeframe, s.cfg.ATRLimit)
		if err != nil || len(bars) == 0 {
			excluded = append(excluded, Excluded{row.symbol, "ohlcv_failed"})
			continue
		}
		atrPct, ok := atrPctFromCandles(bars, s.cfg.ATRPeriod)
		if !ok {
			excluded = append(excluded, Excluded{row.symbol, "atr_unavailable"})
			continue
		}
		if !forced && atrPct < s.cfg.MinATRPct {
			excluded = append(excluded, Excluded{row.symbol, "low_volatility"})
			continue
		}

		oi, hasOI, _ := ex.OpenInterest(ctx, row.symbol)

		hist := history[row.symbol]
		prevm := prevMetrics[row.symbol]

		fundHist := trailing(hist.FundingRate, s.cfg.HistoryPoints)
		fundZ, hasFundZ := zscore(fundHist, funding)

		volAccel, hasVolAccel := 0.0, false
		if prevm.HasQuoteVol && prevm.QuoteVolUSDT > 0 {
			volAccel, hasVolAccel = (row.quoteVol-prevm.QuoteVolUSDT)/prevm.QuoteVolUSDT, true
		}

		atrBurst, hasATRBurst := 1.0, false
		switch {
		case prevm.HasATRPct && prevm.ATRPct > 1e-12:
			atrBurst, hasATRBurst = atrPct/prevm.ATRPct, true
		default:
			atrHist := trailing(hist.ATRPct, s.cfg.HistoryPoints)
			if len(atrHist) >= 8 {
				med := median(atrHist)
				if med > 1e-12 {
					atrBurst, hasATRBurst = atrPct/med, true
				}
			}
		}

		oiAccel, hasOIAccel := 0.0, false
		if hasOI && prevm.HasOpenInterest && prevm.OpenInterest > 0 {
			oiAccel, hasOIAccel = (oi-prevm.OpenInterest)/prevm.OpenInterest, true
		}

		liqTerm := math.Log10(math.Max(row.quoteVol, 1))
		oiTerm := 0.0
		if hasOI {
			oiTerm = math.Log10(math.Max(oi, 1))
		}
		spreadPen := 0.0
		if row.hasSpread {
			spreadPen = row.spreadPct
		}
		fundZAbs := 0.0
		if hasFundZ {
			fundZAbs = math.Abs(fundZ)
		}

		vAcc := clamp(ternary(hasVolAccel, volAccel, 0), -0.7, 3.0)
		vBurst := clamp(ternary(hasATRBurst, atrBurst, 1.0), 0.3, 5.0)
		oiA := clamp(ternary(hasOIAccel, oiAccel, 0), -0.7, 3.0)

		score := s.cfg.WLiq*liqTerm +
			s.cfg.WATR*atrPct +
			s.cfg.WVolBurst*vBurst +
			s.cfg.WVolAccel*vAcc +
			s.cfg.WOI*oiTerm +
			s.cfg.WOIAccel*oiA -
			s.cfg.WSpreadPen*spreadPen*100 -
			s.cfg.WFundAbsPen*math.Abs(funding)*400 -
			s.cfg.WFundZPen*fundZAbs*0.5

		scored = append(scored, CandidateScore{
			Symbol: row.symbol, QuoteVolUSDT: row.quoteVol, ATRTimeframe: s.cfg.ATRTimeframe,
			ATRPct: atrPct, ATRBurst: vBurst, HasATRBurst: hasATRBurst,
			SpreadPct: row.spreadPct, HasSpreadPct: row.hasSpread,
			FundingRate: funding, FundingZ: fundZ, HasFundingZ: hasFundZ,
			VolAccel: vAcc, HasVolAccel: hasVolAccel,
			OpenInterest: oi, HasOI: hasOI, OIAccel: oiA, HasOIAccel: hasOIAccel,
			Score: score,
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	selected, excludedByCorr := s.selectCorrelated(ctx, ex, scored, prev)
	excluded = append(excluded, excludedByCorr...)

	if len(selected) == 0 {
		selected = fallback(scored)
	}

	return Report{
		SchemaVersion:    "universe_v3",
		TimestampUnix:    now,
		Exchange:         ex.Name(),
		Config:           s.cfg,
		Selected:         selected,
		CandidatesScored: scored,
		Excluded:         excluded,
	}, nil
}

func (s *Selector) selectCorrelated(ctx context.Context, ex broker.Exchange, scored []CandidateScore, prev []string) ([]CandidateScore, []Excluded) {
	retCache := map[string][]float64{}
	getRets := func(sym string) ([]float64, bool) {
		if r, ok := retCache[sym]; ok {
			return r, true
		}
		bars, err := ex.OHLCV(ctx, sym, s.cfg.CorrTF, s.cfg.CorrLimit)
		if err != nil || len(bars) == 0 {
			return nil, false
		}
		rets, ok := logReturns(bars)
		if !ok {
			return nil, false
		}
		retCache[sym] = rets
		return rets, true
	}

	var selected []CandidateScore
	var excluded []Excluded

	scoredIdx := make(map[string]CandidateScore, len(scored))
	for _, c := range scored {
		scoredIdx[c.Symbol] = c
	}

	if s.cfg.StickyEnabled {
		n := s.cfg.StickyKeep
		for _, sym := range prev {
			if n <= 0 {
				break
			}
			if c, ok := scoredIdx[sym]; ok {
				selected = append(selected, c)
				n--
			}
		}
	}

	for _, row := range scored {
		if len(selected) >= s.cfg.TargetSymbols {
			break
		}
		if containsScore(selected, row.Symbol) {
			continue
		}
		rets, ok := getRets(row.Symbol)
		if !ok {
			excluded = append(excluded, Excluded{row.Symbol, "returns_unavailable"})
			continue
		}
		bad := false
		for _, s2 := range selected {
			rets2, ok := getRets(s2.Symbol)
			if !ok {
				continue
			}
			c, ok := pearson(rets, rets2)
			if ok && math.Abs(c) > s.cfg.MaxCorr {
				bad = true
				break
			}
		}
		if bad {
			excluded = append(excluded, Excluded{row.Symbol, "high_correlation"})
			continue
		}
		selected = append(selected, row)
	}
	return selected, excluded
}

func fallback(scored []CandidateScore) []CandidateScore {
	if len(scored) > 0 {
		return []CandidateScore{scored[0]}
	}
	return []CandidateScore{{Symbol: "BTCUSDT"}}
}

func containsScore(xs []CandidateScore, sym string) bool {
	for _, x := range xs {
		if x.Symbol == sym {
			return true
		}
	}
	return false
}

func atrPctFromCandles(bars []broker.Candle, period int) (float64, bool) {
	if len(bars) < period+1 {
		return 0, false
	}
	var trs []float64
	var prevClose float64
	hasPrev := false
	for _, b := range bars {
		var tr float64
		if !hasPrev {
			tr = b.High - b.Low
		} else {
			tr = math.Max(b.High-b.Low, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
		}
		trs = append(trs, tr)
		prevClose = b.Close
		hasPrev = true
	}
	if len(trs) < period+1 {
		return 0, false
	}
	var sum float64
	for _, x := range trs[len(trs)-period:] {
		sum += x
	}
	atr := sum / float64(period)
	lastClose := bars[len(bars)-1].Close
	if lastClose <= 0 {
		return 0, false
	}
	return atr / lastClose, true
}

func logReturns(bars []broker.Candle) ([]float64, bool) {
	if len(bars) < 5 {
		return nil, false
	}
	var rets []float64
	for i := 1; i < len(bars); i++ {
		a, b := bars[i-1].Close, bars[i].Close
		if a <= 0 || b <= 0 {
			continue
		}
		rets = append(rets, math.Log(b/a))
	}
	if len(rets) < 10 {
		return nil, false
	}
	return rets, true
}

func pearson(a, b []float64) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 12 {
		return 0, false
	}
	a2, b2 := a[len(a)-n:], b[len(b)-n:]
	var ma, mb float64
	for i := 0; i < n; i++ {
		ma += a2[i]
		mb += b2[i]
	}
	ma /= float64(n)
	mb /= float64(n)
	var va, vb, cov float64
	for i := 0; i < n; i++ {
		da, db := a2[i]-ma, b2[i]-mb
		va += da * da
		vb += db * db
		cov += da * db
	}
	if va <= 0 || vb <= 0 {
		return 0, false
	}
	return cov / math.Sqrt(va*vb), true
}

func zscore(series []float64, x float64) (float64, bool) {
	if len(series) < 8 {
		return 0, false
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))
	var sq float64
	for _, v := range series {
		d := v - mean
		sq += d * d
	}
	variance := sq / float64(max(1, len(series)-1))
	if variance <= 1e-18 {
		return 0, false
	}
	return (x - mean) / math.Sqrt(variance), true
}

func median(xs []float64) float64 {
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	return cp[len(cp)/2]
}

func trailing(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func ternary(cond bool, a, b float64) float64 {
	if cond {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func normalize(sym string) string {
	return strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(sym, "/", "")))
}

func normalizeAll(xs []string) []string {
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if x = normalize(x); x != "" {
			out = append(out, x)
		}
	}
	return out
}

func toSet(xs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		if n := normalize(x); n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

func nowUnix(now func() int64) int64 {
	if now != nil {
		return now()
	}
	return time.Now().UTC().Unix()
}
