package indicators

import (
	"fmt"

	"autotrader/pkg/types"
)

// StochasticResult bundles slow %K and %D, aligned to the input bars.
type StochasticResult struct {
	K []float64 // slow %K: SMA(smooth) of raw %K
	D []float64 // %D: SMA(d) of slow %K
}

// Stochastic computes the slow stochastic oscillator:
// raw %K = 100 * (close - min_low_k) / (max_high_k - min_low_k),
// slow %K = SMA(smooth) of raw, %D = SMA(d) of slow %K.
func Stochastic(bars []types.Bar, kPeriod, dPeriod, smooth int) (*StochasticResult, error) {
	if kPeriod < 1 || dPeriod < 1 || smooth < 1 {
		return nil, fmt.Errorf("stochastic: periods must be >= 1, got k=%d d=%d smooth=%d", kPeriod, dPeriod, smooth)
	}
	need := kPeriod + smooth + dPeriod - 2
	if len(bars) < need {
		return nil, insufficient("stochastic", need, len(bars))
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
	}
	hi := rollingMax(highs, kPeriod)
	lo := rollingMin(lows, kPeriod)

	raw := nanSlice(len(bars))
	for i := kPeriod - 1; i < len(bars); i++ {
		span := hi[i] - lo[i]
		if span == 0 {
			raw[i] = 50 // flat window: neither overbought nor oversold
			continue
		}
		raw[i] = 100 * (bars[i].Close - lo[i]) / span
	}

	k := smaOverDefined(raw, smooth)
	d := smaOverDefined(k, dPeriod)
	return &StochasticResult{K: k, D: d}, nil
}

// smaOverDefined averages a series that begins with NaNs, emitting a
// value only once the full window is defined.
func smaOverDefined(vals []float64, n int) []float64 {
	out := nanSlice(len(vals))
	for i := n - 1; i < len(vals); i++ {
		var sum float64
		ok := true
		for j := i - n + 1; j <= i; j++ {
			if !Defined(vals[j]) {
				ok = false
				break
			}
			sum += vals[j]
		}
		if ok {
			out[i] = sum / float64(n)
		}
	}
	return out
}
