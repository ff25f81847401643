package indicators

import (
	"fmt"

	"autotrader/pkg/types"
)

// DonchianChannel bundles the breakout levels for both directions:
// EntryHigh/ExitLow drive long entries and exits, EntryLow/ExitHigh are
// the symmetric levels for shorts.
type DonchianChannel struct {
	EntryHigh []float64 // max high over the entry window
	ExitLow   []float64 // min low over the exit window
	EntryLow  []float64 // min low over the entry window
	ExitHigh  []float64 // max high over the exit window
}

// Donchian computes rolling extremes over the entry and exit windows.
func Donchian(bars []types.Bar, entryN, exitN int) (*DonchianChannel, error) {
	if entryN < 1 || exitN < 1 {
		return nil, fmt.Errorf("donchian: periods must be >= 1, got entry=%d exit=%d", entryN, exitN)
	}
	need := entryN
	if exitN > need {
		need = exitN
	}
	if len(bars) < need {
		return nil, insufficient("donchian", need, len(bars))
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
	}

	return &DonchianChannel{
		EntryHigh: rollingMax(highs, entryN),
		ExitLow:   rollingMin(lows, exitN),
		EntryLow:  rollingMin(lows, entryN),
		ExitHigh:  rollingMax(highs, exitN),
	}, nil
}
