package signal

import (
	"fmt"
	"math"

	"autotrader/internal/indicators"
	"autotrader/pkg/types"
)

// ————————————————————————————————————————————————————————————————————
// Trend following
// ————————————————————————————————————————————————————————————————————

func smaCrossover(params types.Params, bars []types.Bar, _ bool) (*Result, error) {
	shortN := params.Int("short_period", 10)
	longN := params.Int("long_period", 20)
	closes := indicators.Closes(bars)

	shortSMA, err := indicators.SMA(closes, shortN)
	if err != nil {
		return nil, err
	}
	longSMA, err := indicators.SMA(closes, longN)
	if err != nil {
		return nil, err
	}

	curS, prevS, okS := lastTwo(shortSMA)
	curL, prevL, okL := lastTwo(longSMA)
	view := map[string]float64{
		"close":     closes[len(closes)-1],
		"sma_short": curS,
		"sma_long":  curL,
	}
	if !okS || !okL {
		return nil, insufficientWindow("sma_crossover", longN+1, len(bars))
	}

	spread := math.Abs(curS-curL) / curL
	switch {
	case crossedAbove(curS, prevS, curL, prevL):
		return &Result{
			Type:       types.SignalBuy,
			Strength:   spread * 20,
			Reasoning:  fmt.Sprintf("SMA(%d) %.4f crossed above SMA(%d) %.4f", shortN, curS, longN, curL),
			Indicators: view,
		}, nil
	case crossedBelow(curS, prevS, curL, prevL):
		return &Result{
			Type:       types.SignalSell,
			Strength:   spread * 20,
			Reasoning:  fmt.Sprintf("SMA(%d) %.4f crossed below SMA(%d) %.4f", shortN, curS, longN, curL),
			Indicators: view,
		}, nil
	}
	return hold(fmt.Sprintf("no SMA cross: short %.4f, long %.4f", curS, curL), view), nil
}

func macdSignal(params types.Params, bars []types.Bar, _ bool) (*Result, error) {
	fast := params.Int("fast_period", 12)
	slow := params.Int("slow_period", 26)
	signalN := params.Int("signal_period", 9)
	closes := indicators.Closes(bars)

	res, err := indicators.MACD(closes, fast, slow, signalN)
	if err != nil {
		return nil, err
	}
	curM, prevM, okM := lastTwo(res.MACD)
	curSig, prevSig, okS := lastTwo(res.Signal)
	price := closes[len(closes)-1]
	view := map[string]float64{
		"close":       price,
		"macd":        curM,
		"macd_signal": curSig,
		"histogram":   curM - curSig,
	}
	if !okM || !okS {
		return nil, insufficientWindow("macd", slow+signalN, len(bars))
	}

	strength := math.Abs(curM-curSig) / price * 100
	switch {
	case crossedAbove(curM, prevM, curSig, prevSig):
		return &Result{
			Type:       types.SignalBuy,
			Strength:   strength,
			Reasoning:  fmt.Sprintf("MACD %.4f crossed above signal %.4f", curM, curSig),
			Indicators: view,
		}, nil
	case crossedBelow(curM, prevM, curSig, prevSig):
		return &Result{
			Type:       types.SignalSell,
			Strength:   strength,
			Reasoning:  fmt.Sprintf("MACD %.4f crossed below signal %.4f", curM, curSig),
			Indicators: view,
		}, nil
	}
	return hold(fmt.Sprintf("no MACD cross: macd %.4f, signal %.4f", curM, curSig), view), nil
}

func momentumSignal(params types.Params, bars []types.Bar, _ bool) (*Result, error) {
	n := params.Int("period", 10)
	threshold := params.Float("threshold", 0.05)
	closes := indicators.Closes(bars)
	if len(closes) < n+1 {
		return nil, insufficientWindow("momentum", n+1, len(closes))
	}

	cur := closes[len(closes)-1]
	base := closes[len(closes)-1-n]
	ret := cur/base - 1
	view := map[string]float64{"close": cur, "return": ret}

	strength := math.Abs(ret) / (2 * threshold)
	switch {
	case ret > threshold:
		return &Result{
			Type:       types.SignalBuy,
			Strength:   strength,
			Reasoning:  fmt.Sprintf("%d-bar return %.2f%% above threshold %.2f%%", n, ret*100, threshold*100),
			Indicators: view,
		}, nil
	case ret < -threshold:
		return &Result{
			Type:       types.SignalSell,
			Strength:   strength,
			Reasoning:  fmt.Sprintf("%d-bar return %.2f%% below threshold -%.2f%%", n, ret*100, threshold*100),
			Indicators: view,
		}, nil
	}
	return hold(fmt.Sprintf("%d-bar return %.2f%% inside threshold band", n, ret*100), view), nil
}

func breakoutSignal(params types.Params, bars []types.Bar, _ bool) (*Result, error) {
	n := params.Int("period", 20)
	if len(bars) < n+2 {
		return nil, insufficientWindow("breakout", n+2, len(bars))
	}

	// Channel over the n bars preceding the current one: the current bar
	// must not contribute to the level it is breaking.
	prior := bars[:len(bars)-1]
	var hi, lo float64 = math.Inf(-1), math.Inf(1)
	for _, b := range prior[len(prior)-n:] {
		hi = math.Max(hi, b.High)
		lo = math.Min(lo, b.Low)
	}
	close := bars[len(bars)-1].Close
	view := map[string]float64{"close": close, "channel_high": hi, "channel_low": lo}

	switch {
	case close > hi:
		return &Result{
			Type:       types.SignalBuy,
			Strength:   (close - hi) / hi * 50,
			Reasoning:  fmt.Sprintf("close %.4f broke above %d-bar high %.4f", close, n, hi),
			Indicators: view,
		}, nil
	case close < lo:
		return &Result{
			Type:       types.SignalSell,
			Strength:   (lo - close) / lo * 50,
			Reasoning:  fmt.Sprintf("close %.4f broke below %d-bar low %.4f", close, n, lo),
			Indicators: view,
		}, nil
	}
	return hold(fmt.Sprintf("close %.4f inside %d-bar channel [%.4f, %.4f]", close, n, lo, hi), view), nil
}

func donchianSignal(params types.Params, bars []types.Bar, _ bool) (*Result, error) {
	entryN, exitN := donchianWindows(params)
	dc, err := indicators.Donchian(bars, entryN, exitN)
	if err != nil {
		return nil, err
	}
	last := len(bars) - 1
	if last < 1 || !indicators.Defined(dc.EntryHigh[last-1]) || !indicators.Defined(dc.ExitLow[last-1]) {
		return nil, insufficientWindow("donchian", entryN+1, len(bars))
	}

	// Prior-bar channel: the breakout level must exclude the bar that
	// breaks it.
	entryHigh := dc.EntryHigh[last-1]
	exitLow := dc.ExitLow[last-1]
	close := bars[last].Close
	view := map[string]float64{"close": close, "entry_high": entryHigh, "exit_low": exitLow}

	switch {
	case close > entryHigh:
		return &Result{
			Type:       types.SignalBuy,
			Strength:   (close - entryHigh) / entryHigh * 50,
			Reasoning:  fmt.Sprintf("close %.4f above %d-bar entry high %.4f", close, entryN, entryHigh),
			Indicators: view,
		}, nil
	case close < exitLow:
		return &Result{
			Type:       types.SignalSell,
			Strength:   (exitLow - close) / exitLow * 50,
			Reasoning:  fmt.Sprintf("close %.4f below %d-bar exit low %.4f", close, exitN, exitLow),
			Indicators: view,
		}, nil
	}
	return hold(fmt.Sprintf("close %.4f inside donchian channel [%.4f, %.4f]", close, exitLow, entryHigh), view), nil
}

// donchianWindows resolves the two channel lengths. use_system_2 picks
// the slower 55/20 variant over the classic 20/10.
func donchianWindows(params types.Params) (entry, exit int) {
	if params.Bool("use_system_2", false) {
		return params.Int("entry_period", 55), params.Int("exit_period", 20)
	}
	return params.Int("entry_period", 20), params.Int("exit_period", 10)
}

func atrTrailingSignal(params types.Params, bars []types.Bar, hasPosition bool) (*Result, error) {
	trendN := params.Int("trend_period", 50)
	atrN := params.Int("atr_period", 14)
	lookback := params.Int("lookback", 22)
	mult := params.Float("atr_multiplier", 3)

	closes := indicators.Closes(bars)
	trend, err := indicators.EMA(closes, trendN)
	if err != nil {
		return nil, err
	}
	atr, err := indicators.ATR(bars, atrN)
	if err != nil {
		return nil, err
	}

	// Chandelier-style stop: highest high over the lookback minus a
	// multiple of ATR, at the current and previous bar.
	stop := make([]float64, len(bars))
	for i := range bars {
		if i < lookback-1 || !indicators.Defined(atr[i]) {
			stop[i] = math.NaN()
			continue
		}
		hi := math.Inf(-1)
		for j := i - lookback + 1; j <= i; j++ {
			hi = math.Max(hi, bars[j].High)
		}
		stop[i] = hi - mult*atr[i]
	}

	curC, prevC, _ := lastTwo(closes)
	curT, prevT, okT := lastTwo(trend)
	curStop, prevStop, okStop := lastTwo(stop)
	view := map[string]float64{"close": curC, "trend_ema": curT, "trailing_stop": curStop}
	if !okT || !okStop {
		return nil, insufficientWindow("atr_trailing_stop", trendN+1, len(bars))
	}

	if hasPosition && crossedBelow(curC, prevC, curStop, prevStop) {
		return &Result{
			Type:       types.SignalSell,
			Strength:   (curStop - curC) / curC * 50,
			Reasoning:  fmt.Sprintf("close %.4f fell through trailing stop %.4f", curC, curStop),
			Indicators: view,
		}, nil
	}
	if !hasPosition && crossedAbove(curC, prevC, curT, prevT) {
		return &Result{
			Type:       types.SignalBuy,
			Strength:   (curC - curT) / curT * 50,
			Reasoning:  fmt.Sprintf("close %.4f crossed above EMA(%d) %.4f", curC, trendN, curT),
			Indicators: view,
		}, nil
	}
	return hold(fmt.Sprintf("close %.4f holding: stop %.4f, trend %.4f", curC, curStop, curT), view), nil
}

// ————————————————————————————————————————————————————————————————————
// Oscillators and mean reversion
// ————————————————————————————————————————————————————————————————————

func rsiSignal(params types.Params, bars []types.Bar, hasPosition bool) (*Result, error) {
	n := params.Int("period", 14)
	oversold := params.Float("oversold", 30)
	overbought := params.Float("overbought", 70)
	closes := indicators.Closes(bars)

	out, err := indicators.RSI(closes, n)
	if err != nil {
		return nil, err
	}
	cur, _, ok := lastTwo(out)
	view := map[string]float64{"close": closes[len(closes)-1], "rsi": cur}
	if !ok {
		return nil, insufficientWindow("rsi", n+2, len(bars))
	}

	switch {
	case cur < oversold && !hasPosition:
		return &Result{
			Type:       types.SignalBuy,
			Strength:   (oversold - cur) / oversold,
			Reasoning:  fmt.Sprintf("RSI %.1f below oversold %.0f, no open position", cur, oversold),
			Indicators: view,
		}, nil
	case cur > overbought && hasPosition:
		return &Result{
			Type:       types.SignalSell,
			Strength:   (cur - overbought) / overbought,
			Reasoning:  fmt.Sprintf("RSI %.1f above overbought %.0f with open position", cur, overbought),
			Indicators: view,
		}, nil
	}
	return hold(fmt.Sprintf("RSI %.1f inside [%.0f, %.0f] band", cur, oversold, overbought), view), nil
}

func bollingerSignal(params types.Params, bars []types.Bar, _ bool) (*Result, error) {
	n := params.Int("period", 20)
	k := params.Float("std_dev", 2)
	closes := indicators.Closes(bars)

	bb, err := indicators.Bollinger(closes, n, k)
	if err != nil {
		return nil, err
	}
	last := len(closes) - 1
	upper, lower, middle := bb.Upper[last], bb.Lower[last], bb.Middle[last]
	close := closes[last]
	view := map[string]float64{"close": close, "bb_upper": upper, "bb_middle": middle, "bb_lower": lower}
	if !indicators.Defined(upper) {
		return nil, insufficientWindow("bollinger", n, len(bars))
	}

	width := upper - lower
	switch {
	case close <= lower:
		strength := 0.5
		if width > 0 {
			strength = 0.3 + (lower-close)/width*2
		}
		return &Result{
			Type:       types.SignalBuy,
			Strength:   strength,
			Reasoning:  fmt.Sprintf("close %.4f at or below lower band %.4f", close, lower),
			Indicators: view,
		}, nil
	case close >= upper:
		strength := 0.5
		if width > 0 {
			strength = 0.3 + (close-upper)/width*2
		}
		return &Result{
			Type:       types.SignalSell,
			Strength:   strength,
			Reasoning:  fmt.Sprintf("close %.4f at or above upper band %.4f", close, upper),
			Indicators: view,
		}, nil
	}
	return hold(fmt.Sprintf("close %.4f inside bands [%.4f, %.4f]", close, lower, upper), view), nil
}

func meanReversionSignal(params types.Params, bars []types.Bar, hasPosition bool) (*Result, error) {
	n := params.Int("period", 20)
	entryZ := params.Float("entry_z", 2)
	closes := indicators.Closes(bars)

	mean, err := indicators.SMA(closes, n)
	if err != nil {
		return nil, err
	}
	sigma, err := indicators.StdDev(closes, n)
	if err != nil {
		return nil, err
	}
	last := len(closes) - 1
	close := closes[last]
	view := map[string]float64{"close": close, "mean": mean[last], "stddev": sigma[last]}
	if !indicators.Defined(mean[last]) || !indicators.Defined(sigma[last]) {
		return nil, insufficientWindow("mean_reversion", n, len(bars))
	}
	if sigma[last] == 0 {
		return hold("zero dispersion over lookback window", view), nil
	}

	z := (close - mean[last]) / sigma[last]
	view["z_score"] = z
	switch {
	case z < -entryZ && !hasPosition:
		return &Result{
			Type:       types.SignalBuy,
			Strength:   math.Abs(z) / (2 * entryZ),
			Reasoning:  fmt.Sprintf("z-score %.2f below -%.1f entry level", z, entryZ),
			Indicators: view,
		}, nil
	case z > entryZ && hasPosition:
		return &Result{
			Type:       types.SignalSell,
			Strength:   math.Abs(z) / (2 * entryZ),
			Reasoning:  fmt.Sprintf("z-score %.2f above %.1f entry level", z, entryZ),
			Indicators: view,
		}, nil
	}
	return hold(fmt.Sprintf("z-score %.2f inside entry band", z), view), nil
}

// pairsSignal trades the spread of a synthetic pair as a z-score
// reversion on the tracked leg. With a single instrument feed the
// spread degenerates to the instrument's own deviation from its
// rolling mean, so the rule shares the mean-reversion engine with a
// wider default band.
func pairsSignal(params types.Params, bars []types.Bar, hasPosition bool) (*Result, error) {
	merged := types.Params{
		"period":  params.Int("period", 30),
		"entry_z": params.Float("entry_z", 2.5),
	}
	res, err := meanReversionSignal(merged, bars, hasPosition)
	if err != nil {
		return nil, err
	}
	if res.Type != types.SignalHold {
		res.Reasoning = "pair spread: " + res.Reasoning
	}
	return res, nil
}

func stochasticSignal(params types.Params, bars []types.Bar, _ bool) (*Result, error) {
	kN := params.Int("k_period", 14)
	dN := params.Int("d_period", 3)
	smooth := params.Int("smooth", 3)
	oversold := params.Float("oversold", 20)
	overbought := params.Float("overbought", 80)

	res, err := indicators.Stochastic(bars, kN, dN, smooth)
	if err != nil {
		return nil, err
	}
	curK, prevK, okK := lastTwo(res.K)
	curD, prevD, okD := lastTwo(res.D)
	view := map[string]float64{"close": bars[len(bars)-1].Close, "stoch_k": curK, "stoch_d": curD}
	if !okK || !okD {
		return nil, insufficientWindow("stochastic", kN+smooth+dN, len(bars))
	}

	switch {
	case crossedAbove(curK, prevK, curD, prevD) && curK < oversold:
		return &Result{
			Type:       types.SignalBuy,
			Strength:   (oversold - curK) / oversold,
			Reasoning:  fmt.Sprintf("%%K %.1f crossed above %%D %.1f in oversold zone", curK, curD),
			Indicators: view,
		}, nil
	case crossedBelow(curK, prevK, curD, prevD) && curK > overbought:
		return &Result{
			Type:       types.SignalSell,
			Strength:   (curK - overbought) / (100 - overbought),
			Reasoning:  fmt.Sprintf("%%K %.1f crossed below %%D %.1f in overbought zone", curK, curD),
			Indicators: view,
		}, nil
	}
	return hold(fmt.Sprintf("%%K %.1f, %%D %.1f: no qualifying cross", curK, curD), view), nil
}

func keltnerSignal(params types.Params, bars []types.Bar, _ bool) (*Result, error) {
	emaN := params.Int("ema_period", 20)
	atrN := params.Int("atr_period", 10)
	mult := params.Float("multiplier", 2)
	mode := params.String("mode", "breakout")

	kc, err := indicators.Keltner(bars, emaN, atrN, mult)
	if err != nil {
		return nil, err
	}
	last := len(bars) - 1
	upper, lower, middle := kc.Upper[last], kc.Lower[last], kc.Middle[last]
	close := bars[last].Close
	view := map[string]float64{"close": close, "kc_upper": upper, "kc_middle": middle, "kc_lower": lower}
	if !indicators.Defined(upper) || !indicators.Defined(lower) {
		return nil, insufficientWindow("keltner", emaN+atrN, len(bars))
	}

	width := upper - lower
	pen := func(d float64) float64 {
		if width <= 0 {
			return 0.5
		}
		return 0.3 + d/width*2
	}
	aboveUpper := close > upper
	belowLower := close < lower

	if mode == "mean_reversion" {
		switch {
		case belowLower:
			return &Result{
				Type:       types.SignalBuy,
				Strength:   pen(lower - close),
				Reasoning:  fmt.Sprintf("close %.4f below keltner lower %.4f, fading the move", close, lower),
				Indicators: view,
			}, nil
		case aboveUpper:
			return &Result{
				Type:       types.SignalSell,
				Strength:   pen(close - upper),
				Reasoning:  fmt.Sprintf("close %.4f above keltner upper %.4f, fading the move", close, upper),
				Indicators: view,
			}, nil
		}
	} else {
		switch {
		case aboveUpper:
			return &Result{
				Type:       types.SignalBuy,
				Strength:   pen(close - upper),
				Reasoning:  fmt.Sprintf("close %.4f broke above keltner upper %.4f", close, upper),
				Indicators: view,
			}, nil
		case belowLower:
			return &Result{
				Type:       types.SignalSell,
				Strength:   pen(lower - close),
				Reasoning:  fmt.Sprintf("close %.4f broke below keltner lower %.4f", close, lower),
				Indicators: view,
			}, nil
		}
	}
	return hold(fmt.Sprintf("close %.4f inside keltner channel [%.4f, %.4f]", close, lower, upper), view), nil
}

func vwapSignal(params types.Params, bars []types.Bar, _ bool) (*Result, error) {
	out, err := indicators.VWAP(bars)
	if err != nil {
		return nil, err
	}
	closes := indicators.Closes(bars)
	curC, prevC, _ := lastTwo(closes)
	curV, prevV, ok := lastTwo(out)
	view := map[string]float64{"close": curC, "vwap": curV}
	if !ok {
		return nil, insufficientWindow("vwap", 2, len(bars))
	}

	strength := math.Abs(curC-curV) / curV * 100
	switch {
	case crossedAbove(curC, prevC, curV, prevV):
		return &Result{
			Type:       types.SignalBuy,
			Strength:   strength,
			Reasoning:  fmt.Sprintf("close %.4f crossed above VWAP %.4f", curC, curV),
			Indicators: view,
		}, nil
	case crossedBelow(curC, prevC, curV, prevV):
		return &Result{
			Type:       types.SignalSell,
			Strength:   strength,
			Reasoning:  fmt.Sprintf("close %.4f crossed below VWAP %.4f", curC, curV),
			Indicators: view,
		}, nil
	}
	return hold(fmt.Sprintf("close %.4f tracking VWAP %.4f", curC, curV), view), nil
}

func ichimokuSignal(params types.Params, bars []types.Bar, _ bool) (*Result, error) {
	tenkanN := params.Int("tenkan_period", 9)
	kijunN := params.Int("kijun_period", 26)
	senkouBN := params.Int("senkou_b_period", 52)
	disp := params.Int("displacement", 26)

	ic, err := indicators.Ichimoku(bars, tenkanN, kijunN, senkouBN, disp)
	if err != nil {
		return nil, err
	}
	last := len(bars) - 1
	curT, prevT, okT := lastTwo(ic.Tenkan)
	curK, prevK, okK := lastTwo(ic.Kijun)
	close := bars[last].Close
	cloudTop := math.Max(ic.SenkouA[last], ic.SenkouB[last])
	cloudBot := math.Min(ic.SenkouA[last], ic.SenkouB[last])
	view := map[string]float64{
		"close": close, "tenkan": curT, "kijun": curK,
		"cloud_top": cloudTop, "cloud_bottom": cloudBot,
	}
	if !okT || !okK || !indicators.Defined(cloudTop) {
		return nil, insufficientWindow("ichimoku", senkouBN+disp+1, len(bars))
	}

	// Future cloud colour comes from the undisplaced spans at the
	// current bar: that is the cloud drawn displacement bars ahead.
	futureGreen := indicators.Defined(ic.SpanASrc[last]) &&
		indicators.Defined(ic.SpanBSrc[last]) &&
		ic.SpanASrc[last] > ic.SpanBSrc[last]
	futureRed := indicators.Defined(ic.SpanASrc[last]) &&
		indicators.Defined(ic.SpanBSrc[last]) &&
		ic.SpanASrc[last] < ic.SpanBSrc[last]

	switch {
	case crossedAbove(curT, prevT, curK, prevK):
		if close > cloudTop && futureGreen {
			return &Result{
				Type:       types.SignalBuy,
				Strength:   0.9,
				Reasoning:  "tenkan/kijun bull cross above a green cloud",
				Indicators: view,
			}, nil
		}
		return &Result{
			Type:       types.SignalBuy,
			Strength:   0.5,
			Reasoning:  "tenkan/kijun bull cross without cloud confirmation",
			Indicators: view,
		}, nil
	case crossedBelow(curT, prevT, curK, prevK):
		if close < cloudBot && futureRed {
			return &Result{
				Type:       types.SignalSell,
				Strength:   0.9,
				Reasoning:  "tenkan/kijun bear cross below a red cloud",
				Indicators: view,
			}, nil
		}
		return &Result{
			Type:       types.SignalSell,
			Strength:   0.5,
			Reasoning:  "tenkan/kijun bear cross without cloud confirmation",
			Indicators: view,
		}, nil
	}
	return hold(fmt.Sprintf("tenkan %.4f, kijun %.4f: no cross", curT, curK), view), nil
}

// insufficientWindow wraps the shared sentinel with the rule name so a
// skipped check logs what was missing.
func insufficientWindow(rule string, need, have int) error {
	return fmt.Errorf("%s: %w: need %d bars, have %d", rule, indicators.ErrInsufficientData, need, have)
}
