// Package indicators provides the technical indicators used by the
// signal generator and the backtest driver.
//
// Every indicator is a pure function over an ordered OHLCV series. The
// result is aligned to the input: positions before the indicator's
// warm-up are math.NaN, and a series too short to produce even one
// defined value returns ErrInsufficientData instead of a padded slice,
// so NaN never reaches the signal layer by accident.
package indicators

import (
	"errors"
	"fmt"
	"math"

	"autotrader/pkg/types"
)

// ErrInsufficientData is returned when the history is shorter than the
// indicator's warm-up requirement.
var ErrInsufficientData = errors.New("insufficient data")

func insufficient(name string, need, have int) error {
	return fmt.Errorf("%w: %s needs %d bars, have %d", ErrInsufficientData, name, need, have)
}

// Closes extracts the close series from bars.
func Closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// nanSlice returns a slice of n NaNs; defined values overwrite them.
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Defined reports whether v is a usable indicator value.
func Defined(v float64) bool {
	return !math.IsNaN(v)
}

// rollingMax returns, per index, the maximum of vals over the window of
// n entries ending at that index (inclusive). NaN before warm-up.
func rollingMax(vals []float64, n int) []float64 {
	out := nanSlice(len(vals))
	for i := n - 1; i < len(vals); i++ {
		m := vals[i]
		for j := i - n + 1; j < i; j++ {
			if vals[j] > m {
				m = vals[j]
			}
		}
		out[i] = m
	}
	return out
}

// rollingMin mirrors rollingMax.
func rollingMin(vals []float64, n int) []float64 {
	out := nanSlice(len(vals))
	for i := n - 1; i < len(vals); i++ {
		m := vals[i]
		for j := i - n + 1; j < i; j++ {
			if vals[j] < m {
				m = vals[j]
			}
		}
		out[i] = m
	}
	return out
}

// StdDev computes the population standard deviation over a rolling
// window of n values. Used by Bollinger and the mean-reversion z-score.
func StdDev(vals []float64, n int) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("stddev: period must be >= 1, got %d", n)
	}
	if len(vals) < n {
		return nil, insufficient("stddev", n, len(vals))
	}
	out := nanSlice(len(vals))
	for i := n - 1; i < len(vals); i++ {
		var sum float64
		for j := i - n + 1; j <= i; j++ {
			sum += vals[j]
		}
		mean := sum / float64(n)
		var sq float64
		for j := i - n + 1; j <= i; j++ {
			d := vals[j] - mean
			sq += d * d
		}
		out[i] = math.Sqrt(sq / float64(n))
	}
	return out, nil
}

// midpoint returns (max high + min low) / 2 over the window of n bars
// ending at each index. This is the Ichimoku conversion primitive.
func midpoint(bars []types.Bar, n int) []float64 {
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
	}
	hi := rollingMax(highs, n)
	lo := rollingMin(lows, n)
	out := nanSlice(len(bars))
	for i := range bars {
		if Defined(hi[i]) && Defined(lo[i]) {
			out[i] = (hi[i] + lo[i]) / 2
		}
	}
	return out
}
