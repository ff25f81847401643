package indicators

import (
	"autotrader/pkg/types"
)

// VWAP computes the intraday cumulative volume-weighted average price,
// resetting at each session boundary (calendar date change). Bars with
// zero cumulative volume carry the typical price.
func VWAP(bars []types.Bar) ([]float64, error) {
	if len(bars) == 0 {
		return nil, insufficient("vwap", 1, 0)
	}

	out := make([]float64, len(bars))
	var cumPV, cumVol float64
	var session string

	for i, b := range bars {
		day := b.Timestamp.Format("2006-01-02")
		if day != session {
			session = day
			cumPV, cumVol = 0, 0
		}
		typical := (b.High + b.Low + b.Close) / 3
		cumPV += typical * b.Volume
		cumVol += b.Volume
		if cumVol == 0 {
			out[i] = typical
			continue
		}
		out[i] = cumPV / cumVol
	}
	return out, nil
}
