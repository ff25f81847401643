// Package signal maps OHLCV history and strategy parameters to trading
// signals. The generator is deterministic and side-effect free: given
// the same bars and parameters it always produces the same signal, so
// the live check pipeline and the backtest driver share it.
//
// Dispatch is a table over the closed StrategyType set. Each entry
// computes its indicator bundle (current and previous values, for
// crossing detection) and applies the type's rule. Strength is 0 for
// HOLD and clamped to [0.3, 1] for everything else, so downstream
// risk sizing always has a floor to work with.
package signal

import (
	"errors"
	"fmt"
	"math"

	"autotrader/internal/indicators"
	"autotrader/pkg/types"
)

// Result is the outcome of evaluating one strategy on one symbol.
type Result struct {
	Type       types.SignalType
	Strength   float64
	Reasoning  string
	Indicators map[string]float64 // snapshot persisted with the Signal record
}

// ErrUnknownStrategy is returned for a strategy type outside the table.
var ErrUnknownStrategy = errors.New("unknown strategy type")

// signalFunc computes a signal from the bar window. Implementations
// return ErrInsufficientData (wrapped) when the window is too short.
type signalFunc func(params types.Params, bars []types.Bar, hasPosition bool) (*Result, error)

// table is the closed dispatch set. Adding a strategy type means adding
// an entry here and a warm-up entry in WarmupBars.
var table = map[types.StrategyType]signalFunc{
	types.StrategySMACrossover:    smaCrossover,
	types.StrategyRSI:             rsiSignal,
	types.StrategyMACD:            macdSignal,
	types.StrategyBollingerBands:  bollingerSignal,
	types.StrategyMeanReversion:   meanReversionSignal,
	types.StrategyVWAP:            vwapSignal,
	types.StrategyMomentum:        momentumSignal,
	types.StrategyBreakout:        breakoutSignal,
	types.StrategyPairsTrading:    pairsSignal,
	types.StrategyStochastic:      stochasticSignal,
	types.StrategyKeltnerChannel:  keltnerSignal,
	types.StrategyATRTrailingStop: atrTrailingSignal,
	types.StrategyDonchianChannel: donchianSignal,
	types.StrategyIchimokuCloud:   ichimokuSignal,
}

// Evaluate generates a signal for one symbol. bars must be strictly
// ascending. hasPosition reflects the broker snapshot at check time.
func Evaluate(st types.StrategyType, params types.Params, bars []types.Bar, hasPosition bool) (*Result, error) {
	fn, ok := table[st]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, st)
	}
	if len(bars) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 bars, have %d", indicators.ErrInsufficientData, len(bars))
	}
	res, err := fn(params, bars, hasPosition)
	if err != nil {
		return nil, err
	}
	// HOLD carries no strength; actionable signals carry at least 0.3.
	if res.Type == types.SignalHold {
		res.Strength = 0
	} else {
		res.Strength = clampStrength(res.Strength)
	}
	return res, nil
}

// WarmupBars returns the minimum history length for the strategy to
// produce a defined current and previous indicator value. The check
// pipeline fetches this many bars plus slack.
func WarmupBars(st types.StrategyType, params types.Params) int {
	switch st {
	case types.StrategySMACrossover:
		return params.Int("long_period", 20) + 2
	case types.StrategyRSI:
		return params.Int("period", 14) + 2
	case types.StrategyMACD:
		return params.Int("slow_period", 26) + params.Int("signal_period", 9) + 1
	case types.StrategyBollingerBands:
		return params.Int("period", 20) + 2
	case types.StrategyMeanReversion, types.StrategyPairsTrading:
		return params.Int("period", 20) + 2
	case types.StrategyVWAP:
		return 2
	case types.StrategyMomentum:
		return params.Int("period", 10) + 2
	case types.StrategyBreakout:
		return params.Int("period", 20) + 2
	case types.StrategyStochastic:
		return params.Int("k_period", 14) + params.Int("smooth", 3) + params.Int("d_period", 3) + 1
	case types.StrategyKeltnerChannel:
		ema := params.Int("ema_period", 20)
		atr := params.Int("atr_period", 10) + 1
		if atr > ema {
			ema = atr
		}
		return ema + 2
	case types.StrategyATRTrailingStop:
		n := params.Int("trend_period", 50)
		if lb := params.Int("lookback", 22) + params.Int("atr_period", 14) + 1; lb > n {
			n = lb
		}
		return n + 2
	case types.StrategyDonchianChannel:
		entry, _ := donchianWindows(params)
		return entry + 2
	case types.StrategyIchimokuCloud:
		return params.Int("senkou_b_period", 52) + params.Int("displacement", 26) + 2
	default:
		return 2
	}
}

// clampStrength pins actionable signal strength into [0.3, 1].
func clampStrength(s float64) float64 {
	if math.IsNaN(s) || s < 0.3 {
		return 0.3
	}
	if s > 1 {
		return 1
	}
	return s
}

// hold builds a HOLD result with the given indicator view.
func hold(reason string, view map[string]float64) *Result {
	return &Result{Type: types.SignalHold, Strength: 0, Reasoning: reason, Indicators: view}
}

// lastTwo returns the final two values of a series when both are
// defined. ok is false during warm-up.
func lastTwo(series []float64) (cur, prev float64, ok bool) {
	n := len(series)
	if n < 2 {
		return 0, 0, false
	}
	cur, prev = series[n-1], series[n-2]
	return cur, prev, indicators.Defined(cur) && indicators.Defined(prev)
}

// crossedAbove reports a cross of a above b between the previous and
// current values.
func crossedAbove(curA, prevA, curB, prevB float64) bool {
	return prevA <= prevB && curA > curB
}

// crossedBelow mirrors crossedAbove.
func crossedBelow(curA, prevA, curB, prevB float64) bool {
	return prevA >= prevB && curA < curB
}
