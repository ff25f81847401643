package indicators

import (
	"errors"
	"math"
	"testing"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMAKnownValues(t *testing.T) {
	t.Parallel()
	out, err := SMA([]float64{1, 2, 3, 4, 5}, 3)
	if err != nil {
		t.Fatalf("SMA: %v", err)
	}
	if Defined(out[0]) || Defined(out[1]) {
		t.Error("values before warm-up must be NaN")
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if !almost(out[i+2], w) {
			t.Errorf("SMA[%d] = %v, want %v", i+2, out[i+2], w)
		}
	}
}

func TestSMAInsufficientData(t *testing.T) {
	t.Parallel()
	_, err := SMA([]float64{1, 2}, 3)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	t.Parallel()
	out, err := EMA([]float64{1, 2, 3, 4, 5}, 3)
	if err != nil {
		t.Fatalf("EMA: %v", err)
	}
	// alpha = 0.5; seed at index 2 is SMA(3) = 2.
	if !almost(out[2], 2) {
		t.Errorf("EMA seed = %v, want 2", out[2])
	}
	if !almost(out[3], 3) {
		t.Errorf("EMA[3] = %v, want 3", out[3])
	}
	if !almost(out[4], 4) {
		t.Errorf("EMA[4] = %v, want 4", out[4])
	}
}

func TestRSIAllGains(t *testing.T) {
	t.Parallel()
	closes := make([]float64, 16)
	for i := range closes {
		closes[i] = float64(10 + i)
	}
	out, err := RSI(closes, 14)
	if err != nil {
		t.Fatalf("RSI: %v", err)
	}
	if !almost(out[len(out)-1], 100) {
		t.Errorf("RSI of monotone gains = %v, want 100", out[len(out)-1])
	}
}

func TestRSIWilderSmoothing(t *testing.T) {
	t.Parallel()
	closes := []float64{10, 11, 10, 11, 10}
	out, err := RSI(closes, 3)
	if err != nil {
		t.Fatalf("RSI: %v", err)
	}
	// Seed at index 3: avgGain = 2/3, avgLoss = 1/3, RSI = 66.667.
	if math.Abs(out[3]-100.0*2/3) > 1e-6 {
		t.Errorf("RSI[3] = %v, want %v", out[3], 100.0*2/3)
	}
	// Index 4: avgGain = 4/9, avgLoss = 5/9, RSI = 100 - 100/(1+0.8) = 44.44.
	if math.Abs(out[4]-44.444444444) > 1e-6 {
		t.Errorf("RSI[4] = %v, want 44.444", out[4])
	}
}

func TestMACDWarmup(t *testing.T) {
	t.Parallel()
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i%5)
	}
	res, err := MACD(closes, 12, 26, 9)
	if err != nil {
		t.Fatalf("MACD: %v", err)
	}
	// Signal needs slow+signal-1 = 34 bars: index 33 is the first defined.
	if Defined(res.Signal[32]) {
		t.Error("signal defined before warm-up")
	}
	if !Defined(res.Signal[33]) {
		t.Error("signal not defined at first valid index")
	}
	last := len(closes) - 1
	if !almost(res.Histogram[last], res.MACD[last]-res.Signal[last]) {
		t.Error("histogram != macd - signal")
	}

	if _, err := MACD(closes[:20], 12, 26, 9); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("short MACD err = %v, want ErrInsufficientData", err)
	}
}

func TestStdDevPopulation(t *testing.T) {
	t.Parallel()
	out, err := StdDev([]float64{1, 2, 3}, 3)
	if err != nil {
		t.Fatalf("StdDev: %v", err)
	}
	if !almost(out[2], math.Sqrt(2.0/3.0)) {
		t.Errorf("StdDev = %v, want %v", out[2], math.Sqrt(2.0/3.0))
	}
}

func TestBollingerFlatSeries(t *testing.T) {
	t.Parallel()
	closes := []float64{5, 5, 5, 5, 5}
	bb, err := Bollinger(closes, 3, 2)
	if err != nil {
		t.Fatalf("Bollinger: %v", err)
	}
	last := len(closes) - 1
	if !almost(bb.Middle[last], 5) || !almost(bb.Upper[last], 5) || !almost(bb.Lower[last], 5) {
		t.Errorf("flat series bands = %v/%v/%v, want 5/5/5",
			bb.Lower[last], bb.Middle[last], bb.Upper[last])
	}
}

// Indicator purity: the k-th prefix of the full result must equal the
// result over the k-th prefix of the series, wherever both are defined.
func TestSMAPrefixStability(t *testing.T) {
	t.Parallel()
	series := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5}
	full, err := SMA(series, 4)
	if err != nil {
		t.Fatalf("SMA full: %v", err)
	}
	for k := 4; k <= len(series); k++ {
		prefix, err := SMA(series[:k], 4)
		if err != nil {
			t.Fatalf("SMA prefix %d: %v", k, err)
		}
		for i := range prefix {
			if Defined(prefix[i]) != Defined(full[i]) {
				t.Fatalf("prefix %d index %d: definedness mismatch", k, i)
			}
			if Defined(prefix[i]) && !almost(prefix[i], full[i]) {
				t.Fatalf("prefix %d index %d: %v != %v", k, i, prefix[i], full[i])
			}
		}
	}
}

func TestRSIPrefixStability(t *testing.T) {
	t.Parallel()
	series := []float64{10, 12, 11, 13, 12, 14, 13, 15, 14, 16, 15}
	full, err := RSI(series, 5)
	if err != nil {
		t.Fatalf("RSI full: %v", err)
	}
	prefix, err := RSI(series[:8], 5)
	if err != nil {
		t.Fatalf("RSI prefix: %v", err)
	}
	for i := range prefix {
		if Defined(prefix[i]) && !almost(prefix[i], full[i]) {
			t.Fatalf("index %d: %v != %v", i, prefix[i], full[i])
		}
	}
}
