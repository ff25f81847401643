// Package optimizer ranks strategies by backtesting them over
// historical bars. A job fans symbol×strategy pairs across a bounded
// worker pool, scores each run with a composite of return, Sharpe,
// drawdown and win rate, and writes the ranked results back to the job
// record. The optimizer never touches the scheduler: it produces plans
// the control surface may choose to deploy.
package optimizer

import (
	"errors"
	"fmt"
	"math"

	"autotrader/internal/signal"
	"autotrader/pkg/types"
)

// tradingDaysPerYear annualises the Sharpe ratio of daily bars.
const tradingDaysPerYear = 252

var errNoBars = errors.New("no bars in range")

// roundTrip is one closed buy/sell cycle.
type roundTrip struct {
	pl float64
}

// backtest replays one strategy over one symbol's bars, filling at the
// signal bar's close. The walk is strictly chronological: the signal at
// bar i sees bars[0..i] and nothing later.
func backtest(st types.StrategyType, params types.Params, bars []types.Bar, initialCapital float64) (types.BacktestMetrics, error) {
	if len(bars) == 0 {
		return types.BacktestMetrics{}, errNoBars
	}
	warmup := signal.WarmupBars(st, params)
	if len(bars) <= warmup {
		return types.BacktestMetrics{}, fmt.Errorf("%w: have %d bars, need more than %d", errNoBars, len(bars), warmup)
	}

	cash := initialCapital
	qty := 0
	entry := 0.0
	var trips []roundTrip
	equity := make([]float64, 0, len(bars)-warmup)

	for i := warmup; i < len(bars); i++ {
		window := bars[:i+1]
		close := bars[i].Close

		res, err := signal.Evaluate(st, params, window, qty > 0)
		if err != nil {
			return types.BacktestMetrics{}, fmt.Errorf("bar %d: %w", i, err)
		}

		switch res.Type {
		case types.SignalBuy:
			if qty == 0 && close > 0 {
				qty = int(cash / close)
				if qty > 0 {
					cash -= float64(qty) * close
					entry = close
				}
			}
		case types.SignalSell:
			if qty > 0 {
				cash += float64(qty) * close
				trips = append(trips, roundTrip{pl: float64(qty) * (close - entry)})
				qty = 0
			}
		}

		equity = append(equity, cash+float64(qty)*close)
	}

	// Liquidate any open position at the final close so the last trade
	// counts.
	if qty > 0 {
		final := bars[len(bars)-1].Close
		cash += float64(qty) * final
		trips = append(trips, roundTrip{pl: float64(qty) * (final - entry)})
		qty = 0
	}

	return computeMetrics(initialCapital, cash, equity, trips), nil
}

func computeMetrics(initial, final float64, equity []float64, trips []roundTrip) types.BacktestMetrics {
	m := types.BacktestMetrics{
		TotalReturnPct: (final - initial) / initial * 100,
		MaxDrawdownPct: maxDrawdownPct(equity),
		TotalTrades:    len(trips),
		SharpeRatio:    sharpe(equity),
	}

	wins, gains, losses := 0, 0.0, 0.0
	for _, t := range trips {
		if t.pl > 0 {
			wins++
			gains += t.pl
		} else {
			losses += -t.pl
		}
	}
	if len(trips) > 0 {
		m.WinRate = float64(wins) / float64(len(trips)) * 100
	}
	switch {
	case losses > 0:
		m.ProfitFactor = gains / losses
	case gains > 0:
		m.ProfitFactor = math.Inf(1)
	}
	return m
}

// maxDrawdownPct is the largest peak-to-trough equity decline, as a
// positive percentage of the peak.
func maxDrawdownPct(equity []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			dd := (peak - e) / peak * 100
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe annualises the mean/stddev of per-bar equity returns, risk-free
// rate zero. Fewer than two returns, or zero variance, yields 0.
func sharpe(equity []float64) float64 {
	if len(equity) < 3 {
		return 0
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] > 0 {
			rets = append(rets, equity[i]/equity[i-1]-1)
		}
	}
	if len(rets) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	variance := 0.0
	for _, r := range rets {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(rets) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
}
