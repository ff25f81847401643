package indicators

import (
	"fmt"
	"math"

	"autotrader/pkg/types"
)

// TrueRange computes TR = max(h-l, |h-prev_close|, |l-prev_close|) per
// bar. The first bar has no previous close, so TR[0] = high - low.
func TrueRange(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		if i == 0 {
			out[i] = b.High - b.Low
			continue
		}
		prev := bars[i-1].Close
		out[i] = math.Max(b.High-b.Low,
			math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
	}
	return out
}

// ATR computes the average true range as SMA(n) of the true range.
// Defined from index n (the first TR that uses a previous close plus
// n-1 more).
func ATR(bars []types.Bar, n int) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("atr: period must be >= 1, got %d", n)
	}
	if len(bars) < n+1 {
		return nil, insufficient("atr", n+1, len(bars))
	}

	tr := TrueRange(bars)
	out := nanSlice(len(bars))
	var sum float64
	// Skip tr[0]: it lacks a previous close.
	for i := 1; i < len(tr); i++ {
		sum += tr[i]
		if i > n {
			sum -= tr[i-n]
		}
		if i >= n {
			out[i] = sum / float64(n)
		}
	}
	return out, nil
}
