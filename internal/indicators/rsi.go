package indicators

import "fmt"

// RSI computes the relative strength index with Wilder's smoothing:
// gain and loss averages are EMAs with alpha = 1/n, seeded by the
// simple average of the first n differences. Defined from index n.
func RSI(closes []float64, n int) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("rsi: period must be >= 1, got %d", n)
	}
	if len(closes) < n+1 {
		return nil, insufficient("rsi", n+1, len(closes))
	}

	out := nanSlice(len(closes))

	var gainSum, lossSum float64
	for i := 1; i <= n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gainSum += d
		} else {
			lossSum -= d
		}
	}
	avgGain := gainSum / float64(n)
	avgLoss := lossSum / float64(n)
	out[n] = rsiValue(avgGain, avgLoss)

	for i := n + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		var gain, loss float64
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
