package indicators

import "fmt"

// SMA computes the simple moving average of the last n values, aligned
// to the input. Defined from index n-1.
func SMA(vals []float64, n int) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("sma: period must be >= 1, got %d", n)
	}
	if len(vals) < n {
		return nil, insufficient("sma", n, len(vals))
	}

	out := nanSlice(len(vals))
	var sum float64
	for i, v := range vals {
		sum += v
		if i >= n {
			sum -= vals[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		}
	}
	return out, nil
}
