package types

import (
	"testing"
	"time"
)

func TestActionSeverityOrdering(t *testing.T) {
	t.Parallel()
	order := []RuleAction{ActionAlert, ActionReduceSize, ActionBlock, ActionClosePosition, ActionCloseAll}
	for i := 1; i < len(order); i++ {
		if order[i].Severity() <= order[i-1].Severity() {
			t.Errorf("%s severity %d not above %s severity %d",
				order[i], order[i].Severity(), order[i-1], order[i-1].Severity())
		}
	}
	if ActionAlert.Blocking() || ActionReduceSize.Blocking() {
		t.Error("ALERT and REDUCE_SIZE must not be blocking")
	}
	if !ActionBlock.Blocking() || !ActionCloseAll.Blocking() {
		t.Error("BLOCK and CLOSE_ALL must be blocking")
	}
}

func TestParamsAccessors(t *testing.T) {
	t.Parallel()
	p := Params{
		"period":       14.0,
		"count":        3,
		"use_system_2": true,
		"flag":         1.0,
		"mode":         "breakout",
	}

	if got := p.Float("period", 0); got != 14 {
		t.Errorf("Float(period) = %v, want 14", got)
	}
	if got := p.Int("count", 0); got != 3 {
		t.Errorf("Int(count) = %v, want 3", got)
	}
	if got := p.Float("missing", 20); got != 20 {
		t.Errorf("Float default = %v, want 20", got)
	}
	if !p.Bool("use_system_2", false) {
		t.Error("Bool(use_system_2) = false, want true")
	}
	if !p.Bool("flag", false) {
		t.Error("Bool(flag=1.0) = false, want true")
	}
	if got := p.String("mode", "mean_reversion"); got != "breakout" {
		t.Errorf("String(mode) = %q, want breakout", got)
	}
}

func TestLiveStrategyDue(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

	ls := &LiveStrategy{CheckInterval: 5 * time.Minute}
	if !ls.Due(now) {
		t.Error("strategy with nil last_check must be due")
	}

	recent := now.Add(-time.Minute)
	ls.LastCheck = &recent
	if ls.Due(now) {
		t.Error("strategy checked 1m ago with 5m cadence must not be due")
	}

	old := now.Add(-5 * time.Minute)
	ls.LastCheck = &old
	if !ls.Due(now) {
		t.Error("strategy checked exactly one cadence ago must be due")
	}
}

func TestLiveStrategyValidate(t *testing.T) {
	t.Parallel()
	min := 60 * time.Second

	ok := &LiveStrategy{ID: "ls1", Symbols: []string{"AAPL"}, CheckInterval: 5 * time.Minute, PositionSizePct: 0.02}
	if err := ok.Validate(min); err != nil {
		t.Errorf("valid strategy rejected: %v", err)
	}

	noSymbols := &LiveStrategy{ID: "ls2", CheckInterval: 5 * time.Minute, PositionSizePct: 0.02}
	if err := noSymbols.Validate(min); err == nil {
		t.Error("empty symbol list must be rejected")
	}

	fast := &LiveStrategy{ID: "ls3", Symbols: []string{"AAPL"}, CheckInterval: 30 * time.Second, PositionSizePct: 0.02}
	if err := fast.Validate(min); err == nil {
		t.Error("cadence below floor must be rejected")
	}

	oversized := &LiveStrategy{ID: "ls4", Symbols: []string{"AAPL"}, CheckInterval: 5 * time.Minute, PositionSizePct: 1.5}
	if err := oversized.Validate(min); err == nil {
		t.Error("position_size_pct > 1 must be rejected")
	}
}

func TestStrategyTypeValid(t *testing.T) {
	t.Parallel()
	for _, st := range AllStrategyTypes {
		if !st.Valid() {
			t.Errorf("%s not recognised as valid", st)
		}
	}
	if StrategyType("MARTINGALE").Valid() {
		t.Error("unknown strategy type reported valid")
	}
}

func TestTimeframeDuration(t *testing.T) {
	t.Parallel()
	if Timeframe5Min.Duration() != 5*time.Minute {
		t.Errorf("5Min duration = %v", Timeframe5Min.Duration())
	}
	if Timeframe1Day.Duration() != 24*time.Hour {
		t.Errorf("1Day duration = %v", Timeframe1Day.Duration())
	}
	if Timeframe("2Week").Valid() {
		t.Error("unknown timeframe reported valid")
	}
}
