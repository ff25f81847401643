package indicators

import "fmt"

// EMA computes the exponential moving average with smoothing
// alpha = 2/(n+1), seeded with SMA(n) at index n-1.
func EMA(vals []float64, n int) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("ema: period must be >= 1, got %d", n)
	}
	if len(vals) < n {
		return nil, insufficient("ema", n, len(vals))
	}

	out := nanSlice(len(vals))
	alpha := 2.0 / float64(n+1)

	var seed float64
	for i := 0; i < n; i++ {
		seed += vals[i]
	}
	out[n-1] = seed / float64(n)

	for i := n; i < len(vals); i++ {
		out[i] = alpha*vals[i] + (1-alpha)*out[i-1]
	}
	return out, nil
}

// emaAt computes an EMA over a series that may begin with NaNs (such as
// a MACD line). Seeding starts at the first window of n defined values.
func emaAt(vals []float64, n int) []float64 {
	out := nanSlice(len(vals))
	alpha := 2.0 / float64(n+1)

	start := -1
	for i, v := range vals {
		if Defined(v) {
			start = i
			break
		}
	}
	if start < 0 || len(vals)-start < n {
		return out
	}

	var seed float64
	for i := start; i < start+n; i++ {
		seed += vals[i]
	}
	out[start+n-1] = seed / float64(n)

	for i := start + n; i < len(vals); i++ {
		out[i] = alpha*vals[i] + (1-alpha)*out[i-1]
	}
	return out
}
