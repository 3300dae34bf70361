package snapshot

import "math"

// sma returns the n-period simple moving average of closes, aligned to
// the input; indices before the first full window are NaN. Same shape
// as the teacher's SMA helper (indicators.go).
func sma(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 || len(closes) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum float64
	for i := range closes {
		sum += closes[i]
		if i >= n {
			sum -= closes[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// ema returns the n-period exponential moving average, NaN before the
// seed window fills.
func ema(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 || len(closes) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	k := 2.0 / (float64(n) + 1.0)
	var prev float64
	seeded := false
	for i := range closes {
		if !seeded {
			out[i] = math.NaN()
			if i == n-1 {
				var sum float64
				for j := i - n + 1; j <= i; j++ {
					sum += closes[j]
				}
				prev = sum / float64(n)
				out[i] = prev
				seeded = true
			}
			continue
		}
		prev = closes[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

// trueRange and atr follow Wilder's definition over OHLC bars.
func trueRange(high, low, prevClose []float64) []float64 {
	out := make([]float64, len(high))
	for i := range high {
		if i == 0 {
			out[i] = high[i] - low[i]
			continue
		}
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - prevClose[i-1])
		lc := math.Abs(low[i] - prevClose[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

func atr(high, low, closeSeries []float64, n int) []float64 {
	tr := trueRange(high, low, closeSeries)
	out := make([]float64, len(tr))
	if n <= 0 || len(tr) == 0 {
		return out
	}
	var sum float64
	for i := range tr {
		sum += tr[i]
		if i >= n {
			sum -= tr[i-n]
		}
		if i >= n-1 {
			if i == n-1 {
				out[i] = sum / float64(n)
			} else {
				out[i] = (out[i-1]*float64(n-1) + tr[i]) / float64(n)
			}
		}
	}
	return out
}

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}
