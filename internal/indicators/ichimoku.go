package indicators

import (
	"fmt"

	"autotrader/pkg/types"
)

// IchimokuCloud bundles the Ichimoku series, aligned to the input.
// SenkouA/SenkouB are displaced forward: the value at index i is the
// cloud drawn under bar i, computed displacement bars earlier. SpanASrc
// and SpanBSrc keep the undisplaced spans, which describe the cloud
// that will apply displacement bars ahead ("future cloud"). Chikou is
// the close displaced backward.
type IchimokuCloud struct {
	Tenkan   []float64 // conversion line: midpoint(tenkanN)
	Kijun    []float64 // base line: midpoint(kijunN)
	SenkouA  []float64 // (tenkan+kijun)/2 shifted +displacement
	SenkouB  []float64 // midpoint(senkouBN) shifted +displacement
	SpanASrc []float64 // undisplaced senkou A
	SpanBSrc []float64 // undisplaced senkou B
	Chikou   []float64 // close shifted -displacement
}

// Ichimoku computes the Ichimoku Kinko Hyo system with the classic
// (9, 26, 52, 26) defaults supplied by the caller.
func Ichimoku(bars []types.Bar, tenkanN, kijunN, senkouBN, displacement int) (*IchimokuCloud, error) {
	if tenkanN < 1 || kijunN < 1 || senkouBN < 1 || displacement < 1 {
		return nil, fmt.Errorf("ichimoku: all periods must be >= 1")
	}
	need := senkouBN + displacement
	if len(bars) < need {
		return nil, insufficient("ichimoku", need, len(bars))
	}

	n := len(bars)
	tenkan := midpoint(bars, tenkanN)
	kijun := midpoint(bars, kijunN)
	spanB := midpoint(bars, senkouBN)

	spanA := nanSlice(n)
	for i := range bars {
		if Defined(tenkan[i]) && Defined(kijun[i]) {
			spanA[i] = (tenkan[i] + kijun[i]) / 2
		}
	}

	senkouA := nanSlice(n)
	senkouB := nanSlice(n)
	for i := displacement; i < n; i++ {
		senkouA[i] = spanA[i-displacement]
		senkouB[i] = spanB[i-displacement]
	}

	chikou := nanSlice(n)
	for i := 0; i+displacement < n; i++ {
		chikou[i] = bars[i+displacement].Close
	}

	return &IchimokuCloud{
		Tenkan:   tenkan,
		Kijun:    kijun,
		SenkouA:  senkouA,
		SenkouB:  senkouB,
		SpanASrc: spanA,
		SpanBSrc: spanB,
		Chikou:   chikou,
	}, nil
}
