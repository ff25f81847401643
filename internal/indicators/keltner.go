package indicators

import (
	"fmt"

	"autotrader/pkg/types"
)

// KeltnerChannel bundles the EMA midline and the ATR-width bands.
type KeltnerChannel struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Keltner computes mid = EMA(emaN) of closes, bands = mid +/- mult*ATR(atrN).
func Keltner(bars []types.Bar, emaN, atrN int, mult float64) (*KeltnerChannel, error) {
	if mult <= 0 {
		return nil, fmt.Errorf("keltner: multiplier must be > 0, got %v", mult)
	}
	need := emaN
	if atrN+1 > need {
		need = atrN + 1
	}
	if len(bars) < need {
		return nil, insufficient("keltner", need, len(bars))
	}

	mid, err := EMA(Closes(bars), emaN)
	if err != nil {
		return nil, err
	}
	atr, err := ATR(bars, atrN)
	if err != nil {
		return nil, err
	}

	upper := nanSlice(len(bars))
	lower := nanSlice(len(bars))
	for i := range bars {
		if Defined(mid[i]) && Defined(atr[i]) {
			upper[i] = mid[i] + mult*atr[i]
			lower[i] = mid[i] - mult*atr[i]
		}
	}
	return &KeltnerChannel{Middle: mid, Upper: upper, Lower: lower}, nil
}
