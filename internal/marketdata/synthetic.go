package marketdata

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"autotrader/pkg/types"
)

// Synthetic generates deterministic OHLCV series. Every value is a
// pure function of (symbol, bar index), so two overlapping windows
// agree bar for bar and repeated runs reproduce exactly. It backs dry
// runs and the optimizer when no feed is configured, and the paper
// broker quotes off its latest close.
type Synthetic struct {
	mu    sync.Mutex
	base  float64 // price level every series oscillates around
	drift float64 // per-bar log drift
	vol   float64 // noise amplitude as a fraction of price
	last  map[string]float64
}

// NewSynthetic creates a generator. base anchors every series; drift
// and vol shape the trend and noise.
func NewSynthetic(base, drift, vol float64) *Synthetic {
	return &Synthetic{
		base:  base,
		drift: drift,
		vol:   vol,
		last:  make(map[string]float64),
	}
}

// GetBars generates limit bars ending at the bar boundary at or before
// end.
func (s *Synthetic) GetBars(_ context.Context, symbol string, tf types.Timeframe, end time.Time, limit int) ([]types.Bar, error) {
	if symbol == "" {
		return nil, ErrUnknownSymbol
	}
	if limit <= 0 {
		return nil, ErrNoData
	}
	step := tf.Duration()
	endIdx := end.UnixNano() / int64(step)
	firstIdx := endIdx - int64(limit) + 1
	if firstIdx < 1 {
		firstIdx = 1
	}
	if firstIdx > endIdx {
		return nil, ErrNoData
	}

	seed := symbolSeed(symbol)
	bars := make([]types.Bar, 0, limit)
	for idx := firstIdx; idx <= endIdx; idx++ {
		open := s.closeAt(seed, idx-1)
		cls := s.closeAt(seed, idx)
		span := math.Abs(cls-open) + cls*s.vol/2*noise01(seed, idx, 1)
		high := math.Max(open, cls) + span/2
		low := math.Min(open, cls) - span/2
		vol := 1_000 + 9_000*noise01(seed, idx, 2)

		bars = append(bars, types.Bar{
			Timestamp: time.Unix(0, idx*int64(step)).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cls,
			Volume:    math.Round(vol),
		})
	}

	s.mu.Lock()
	s.last[symbol] = bars[len(bars)-1].Close
	s.mu.Unlock()
	return bars, nil
}

// Quote returns the most recently generated close for symbol, or the
// base price before any bars were generated. Shaped to back the paper
// broker's QuoteFunc.
func (s *Synthetic) Quote(_ context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.last[symbol]; ok {
		return p, nil
	}
	return s.base, nil
}

// closeAt is the closed-form price path: a slow drift, two cycles that
// give crossover and reversion strategies something to trade, and
// bounded hash noise.
func (s *Synthetic) closeAt(seed uint64, idx int64) float64 {
	phase := float64(seed % 997)
	t := float64(idx)
	cycle := 0.04*math.Sin(t/24+phase) + 0.02*math.Sin(t/7+phase/3)
	n := s.vol * (2*noise01(seed, idx, 0) - 1)
	price := s.base * math.Exp(s.drift*t) * (1 + cycle + n)
	if price < 0.01 {
		price = 0.01
	}
	return price
}

// noise01 hashes (seed, idx, salt) into [0, 1).
func noise01(seed uint64, idx int64, salt uint64) float64 {
	x := seed ^ uint64(idx)*0x9E3779B97F4A7C15 ^ salt*0xBF58476D1CE4E5B9
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return float64(x>>11) / float64(1<<53)
}

func symbolSeed(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return h.Sum64()
}

var _ Source = (*Synthetic)(nil)
