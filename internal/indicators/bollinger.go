package indicators

import "fmt"

// BollingerBands bundles the middle SMA and the upper/lower bands at
// k population standard deviations.
type BollingerBands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger computes SMA(n) +/- k*sigma(n), sigma over the same window.
func Bollinger(closes []float64, n int, k float64) (*BollingerBands, error) {
	if k <= 0 {
		return nil, fmt.Errorf("bollinger: k must be > 0, got %v", k)
	}
	mid, err := SMA(closes, n)
	if err != nil {
		return nil, insufficient("bollinger", n, len(closes))
	}
	sd, err := StdDev(closes, n)
	if err != nil {
		return nil, insufficient("bollinger", n, len(closes))
	}

	upper := nanSlice(len(closes))
	lower := nanSlice(len(closes))
	for i := range closes {
		if Defined(mid[i]) && Defined(sd[i]) {
			upper[i] = mid[i] + k*sd[i]
			lower[i] = mid[i] - k*sd[i]
		}
	}
	return &BollingerBands{Middle: mid, Upper: upper, Lower: lower}, nil
}
