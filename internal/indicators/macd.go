package indicators

import "fmt"

// MACDResult bundles the MACD line, its signal line, and the histogram,
// all aligned to the input closes.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes EMA(fast) - EMA(slow) and a signal EMA over the MACD
// line. The histogram is MACD - signal. The signal line needs
// slow+signalN-1 bars before its first defined value.
func MACD(closes []float64, fast, slow, signalN int) (*MACDResult, error) {
	if fast >= slow {
		return nil, fmt.Errorf("macd: fast period %d must be < slow period %d", fast, slow)
	}
	need := slow + signalN - 1
	if len(closes) < need {
		return nil, insufficient("macd", need, len(closes))
	}

	fastEMA, err := EMA(closes, fast)
	if err != nil {
		return nil, err
	}
	slowEMA, err := EMA(closes, slow)
	if err != nil {
		return nil, err
	}

	macd := nanSlice(len(closes))
	for i := range closes {
		if Defined(fastEMA[i]) && Defined(slowEMA[i]) {
			macd[i] = fastEMA[i] - slowEMA[i]
		}
	}

	signal := emaAt(macd, signalN)

	hist := nanSlice(len(closes))
	for i := range closes {
		if Defined(macd[i]) && Defined(signal[i]) {
			hist[i] = macd[i] - signal[i]
		}
	}

	return &MACDResult{MACD: macd, Signal: signal, Histogram: hist}, nil
}
