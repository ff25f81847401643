package risk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"autotrader/internal/broker"
	"autotrader/internal/clock"
	"autotrader/internal/config"
	"autotrader/internal/notify"
	"autotrader/internal/store"
	"autotrader/pkg/types"
)

type fakeBroker struct {
	account   types.Account
	positions []types.Position
	err       error
}

func (f *fakeBroker) GetAccount(context.Context) (*types.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	a := f.account
	return &a, nil
}

func (f *fakeBroker) ListPositions(context.Context) ([]types.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]types.Position(nil), f.positions...), nil
}

func (f *fakeBroker) GetPosition(_ context.Context, symbol string) (*types.Position, error) {
	for _, p := range f.positions {
		if p.Symbol == symbol {
			pos := p
			return &pos, nil
		}
	}
	return nil, nil
}

func (f *fakeBroker) ListOrders(context.Context) ([]types.Order, error) { return nil, nil }
func (f *fakeBroker) PlaceOrder(context.Context, broker.OrderRequest) (*types.Order, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeBroker) CancelOrder(context.Context, string) error { return nil }

type captureSink struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (c *captureSink) Send(_ context.Context, n notify.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
}

func newTestManager(t *testing.T, bk *fakeBroker, rules ...types.RiskRule) (*Manager, *store.Memory, *captureSink) {
	t.Helper()
	st := store.NewMemory()
	for i := range rules {
		if err := st.SaveRiskRule(context.Background(), &rules[i]); err != nil {
			t.Fatal(err)
		}
	}
	sink := &captureSink{}
	cfg := config.RiskConfig{DefaultPositionSizePct: 0.02, RiskPerTrade: 0.01}
	clk := clock.NewFake(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	return NewManager(cfg, st, bk, sink, clk, slog.New(slog.DiscardHandler)), st, sink
}

func healthyAccount() types.Account {
	return types.Account{Equity: 100_000, Cash: 100_000, BuyingPower: 100_000, PeakEquity: 100_000}
}

func TestPositionSizeBuyingPowerFraction(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t, &fakeBroker{})
	acct := healthyAccount()

	ls := &types.LiveStrategy{PositionSizePct: 0.02}
	if qty := m.PositionSize(&acct, ls, 100, 0); qty != 20 {
		t.Errorf("qty = %d, want 20", qty)
	}
}

func TestPositionSizeCashCap(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t, &fakeBroker{})
	acct := healthyAccount()

	ls := &types.LiveStrategy{PositionSizePct: 0.02, MaxPositionSize: 500}
	if qty := m.PositionSize(&acct, ls, 100, 0); qty != 5 {
		t.Errorf("qty = %d, want 5 (cash cap binds)", qty)
	}
}

func TestPositionSizeStopBudget(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t, &fakeBroker{})
	acct := healthyAccount()

	// Risk budget 1% of 100k = 1000; stop distance 50 allows 20 shares,
	// tighter than the 2% BP fraction of 200 shares at price 10.
	ls := &types.LiveStrategy{PositionSizePct: 0.02}
	if qty := m.PositionSize(&acct, ls, 10, -40); qty != 200 {
		t.Errorf("negative stop ignored: qty = %d, want 200", qty)
	}
	if qty := m.PositionSize(&acct, ls, 100, 50); qty != 20 {
		t.Errorf("qty = %d, want 20 (risk budget binds)", qty)
	}
}

func TestPositionSizeBelowMinimumIsZero(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t, &fakeBroker{})
	acct := types.Account{Equity: 1_000, BuyingPower: 1_000, PeakEquity: 1_000}

	ls := &types.LiveStrategy{PositionSizePct: 0.02}
	if qty := m.PositionSize(&acct, ls, 100, 0); qty != 0 {
		t.Errorf("qty = %d, want 0 when under one share", qty)
	}
}

func TestCheckOrderSellBypassesRules(t *testing.T) {
	t.Parallel()
	bk := &fakeBroker{account: types.Account{Equity: 100_000, DayPL: -50_000, PeakEquity: 100_000}}
	m, _, _ := newTestManager(t, bk, types.RiskRule{
		ID: "r1", Owner: "alice", Name: "daily loss", Type: types.RuleMaxDailyLoss,
		Threshold: 1_000, Action: types.ActionBlock, IsActive: true,
	})

	ls := &types.LiveStrategy{ID: "ls-1", Owner: "alice"}
	v, err := m.CheckOrder(context.Background(), ls, "AAPL", types.SideSell, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Allowed || v.Quantity != 10 {
		t.Errorf("verdict = %+v, want sell allowed in full", v)
	}
}

func TestCheckOrderBlocksOnDailyLoss(t *testing.T) {
	t.Parallel()
	bk := &fakeBroker{account: types.Account{Equity: 95_000, DayPL: -5_000, BuyingPower: 95_000, PeakEquity: 100_000}}
	m, st, sink := newTestManager(t, bk, types.RiskRule{
		ID: "r1", Owner: "alice", Name: "daily loss", Type: types.RuleMaxDailyLoss,
		Threshold: 1_000, Action: types.ActionBlock, IsActive: true,
	})

	ls := &types.LiveStrategy{ID: "ls-1", Owner: "alice"}
	v, err := m.CheckOrder(context.Background(), ls, "AAPL", types.SideBuy, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if v.Allowed || v.Action != types.ActionBlock || v.Quantity != 0 {
		t.Errorf("verdict = %+v, want blocked", v)
	}

	rules, _ := st.ListRiskRules(context.Background(), "alice")
	if rules[0].BreachCount != 1 || rules[0].LastBreachAt == nil {
		t.Errorf("breach counter not updated: %+v", rules[0])
	}
	if len(sink.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sink.sent))
	}
	if sink.sent[0].Priority != types.PriorityHigh {
		t.Errorf("priority = %s, want HIGH for a block", sink.sent[0].Priority)
	}
}

func TestCheckOrderDailyLossProjectsProposedOrder(t *testing.T) {
	t.Parallel()
	// Today's loss alone (500) is inside the 1000 limit; the breach
	// depends on the order's worst-case loss on top of it.
	bk := &fakeBroker{account: types.Account{Equity: 99_500, DayPL: -500, BuyingPower: 99_500, PeakEquity: 100_000}}
	m, _, _ := newTestManager(t, bk, types.RiskRule{
		ID: "r1", Owner: "alice", Name: "daily loss", Type: types.RuleMaxDailyLoss,
		Threshold: 1_000, Action: types.ActionBlock, IsActive: true,
	})

	ls := &types.LiveStrategy{ID: "ls-1", Owner: "alice"}
	v, err := m.CheckOrder(context.Background(), ls, "AAPL", types.SideBuy, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if v.Allowed {
		t.Errorf("verdict = %+v, want blocked: -500 - 1000 reaches the limit", v)
	}

	// Exactly at the limit still breaches (projected -1000 <= -1000).
	v, err = m.CheckOrder(context.Background(), ls, "AAPL", types.SideBuy, 5, 100)
	if err != nil {
		t.Fatal(err)
	}
	if v.Allowed {
		t.Errorf("verdict = %+v, want blocked at the boundary", v)
	}

	v, err = m.CheckOrder(context.Background(), ls, "AAPL", types.SideBuy, 4, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Allowed || v.Quantity != 4 {
		t.Errorf("verdict = %+v, want allowed under the projected limit", v)
	}
}

func TestCheckOrderReduceSizeClearsDailyLoss(t *testing.T) {
	t.Parallel()
	bk := &fakeBroker{account: types.Account{Equity: 99_500, DayPL: -500, BuyingPower: 99_500, PeakEquity: 100_000}}
	m, _, sink := newTestManager(t, bk, types.RiskRule{
		ID: "r1", Owner: "alice", Name: "daily loss", Type: types.RuleMaxDailyLoss,
		Threshold: 1_000, Action: types.ActionReduceSize, IsActive: true,
	})

	ls := &types.LiveStrategy{ID: "ls-1", Owner: "alice"}
	v, err := m.CheckOrder(context.Background(), ls, "AAPL", types.SideBuy, 50, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Allowed || v.Action != types.ActionReduceSize {
		t.Fatalf("verdict = %+v, want reduced", v)
	}
	// -500 - 100q stays above -1000 only for q <= 4.
	if v.Quantity != 4 {
		t.Errorf("reduced quantity = %d, want 4", v.Quantity)
	}
	if len(sink.sent) != 1 || sink.sent[0].Priority != types.PriorityMedium {
		t.Errorf("notifications = %+v, want one MEDIUM", sink.sent)
	}
}

func TestCheckOrderStrategyDailyLossOverride(t *testing.T) {
	t.Parallel()
	bk := &fakeBroker{account: types.Account{Equity: 99_500, DayPL: -500, BuyingPower: 99_500, PeakEquity: 100_000}}
	m, _, _ := newTestManager(t, bk, types.RiskRule{
		ID: "r1", Owner: "alice", Name: "daily loss", Type: types.RuleMaxDailyLoss,
		Threshold: 10_000, Action: types.ActionBlock, IsActive: true,
	})

	// The account-wide limit is loose; the strategy's own 1000 cap binds.
	capped := &types.LiveStrategy{ID: "ls-1", Owner: "alice", DailyLossLimit: 1_000}
	v, err := m.CheckOrder(context.Background(), capped, "AAPL", types.SideBuy, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if v.Allowed {
		t.Errorf("verdict = %+v, want blocked by the strategy limit", v)
	}

	uncapped := &types.LiveStrategy{ID: "ls-2", Owner: "alice"}
	v, err = m.CheckOrder(context.Background(), uncapped, "AAPL", types.SideBuy, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Allowed {
		t.Errorf("verdict = %+v, want allowed under the account-wide limit", v)
	}
}

func TestCheckOrderActionPrecedence(t *testing.T) {
	t.Parallel()
	bk := &fakeBroker{account: types.Account{Equity: 80_000, DayPL: -20_000, BuyingPower: 80_000, PeakEquity: 100_000}}
	m, _, _ := newTestManager(t, bk,
		types.RiskRule{
			ID: "r1", Owner: "alice", Name: "loss alert", Type: types.RuleMaxDailyLoss,
			Threshold: 1_000, Action: types.ActionAlert, IsActive: true,
		},
		types.RiskRule{
			ID: "r2", Owner: "alice", Name: "drawdown kill", Type: types.RuleMaxDrawdown,
			Threshold: 10, Action: types.ActionCloseAll, IsActive: true,
		},
	)

	ls := &types.LiveStrategy{ID: "ls-1", Owner: "alice"}
	v, err := m.CheckOrder(context.Background(), ls, "AAPL", types.SideBuy, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if v.Allowed || v.Action != types.ActionCloseAll {
		t.Errorf("verdict = %+v, want CLOSE_ALL to win precedence", v)
	}
}

func TestCheckOrderReduceSize(t *testing.T) {
	t.Parallel()
	bk := &fakeBroker{account: healthyAccount()}
	m, _, _ := newTestManager(t, bk, types.RiskRule{
		ID: "r1", Owner: "alice", Name: "size cap", Type: types.RuleMaxPositionSize,
		Threshold: 1_000, Action: types.ActionReduceSize, IsActive: true,
	})

	ls := &types.LiveStrategy{ID: "ls-1", Owner: "alice"}
	v, err := m.CheckOrder(context.Background(), ls, "AAPL", types.SideBuy, 50, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Allowed || v.Action != types.ActionReduceSize {
		t.Fatalf("verdict = %+v, want reduced", v)
	}
	// 1000 / 100 = 10 shares is the largest passing quantity.
	if v.Quantity != 10 {
		t.Errorf("reduced quantity = %d, want 10", v.Quantity)
	}
}

func TestCheckOrderAlertOnlyAllows(t *testing.T) {
	t.Parallel()
	bk := &fakeBroker{account: types.Account{Equity: 95_000, DayPL: -5_000, BuyingPower: 95_000, PeakEquity: 100_000}}
	m, _, sink := newTestManager(t, bk, types.RiskRule{
		ID: "r1", Owner: "alice", Name: "soft loss", Type: types.RuleMaxDailyLoss,
		Threshold: 1_000, Action: types.ActionAlert, IsActive: true,
	})

	ls := &types.LiveStrategy{ID: "ls-1", Owner: "alice"}
	v, err := m.CheckOrder(context.Background(), ls, "AAPL", types.SideBuy, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Allowed || v.Quantity != 10 {
		t.Errorf("verdict = %+v, want allowed in full with alert", v)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sink.sent))
	}
	if sink.sent[0].Priority != types.PriorityLow {
		t.Errorf("priority = %s, want LOW for alert-only", sink.sent[0].Priority)
	}
}

func TestReduceSizeIgnoresAlertOnlyBreaches(t *testing.T) {
	t.Parallel()
	// The alert rule breaches at any quantity; it must not keep the
	// binary search from finding the size the cap rule accepts.
	bk := &fakeBroker{account: types.Account{Equity: 95_000, DayPL: -5_000, BuyingPower: 95_000, PeakEquity: 100_000}}
	m, _, _ := newTestManager(t, bk,
		types.RiskRule{
			ID: "r1", Owner: "alice", Name: "size cap", Type: types.RuleMaxPositionSize,
			Threshold: 1_000, Action: types.ActionReduceSize, IsActive: true,
		},
		types.RiskRule{
			ID: "r2", Owner: "alice", Name: "soft loss", Type: types.RuleMaxDailyLoss,
			Threshold: 1_000, Action: types.ActionAlert, IsActive: true,
		},
	)

	ls := &types.LiveStrategy{ID: "ls-1", Owner: "alice"}
	v, err := m.CheckOrder(context.Background(), ls, "AAPL", types.SideBuy, 50, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Allowed || v.Action != types.ActionReduceSize {
		t.Fatalf("verdict = %+v, want reduced despite the alert breach", v)
	}
	if v.Quantity != 10 {
		t.Errorf("reduced quantity = %d, want 10", v.Quantity)
	}
}

func TestCheckOrderInactiveAndForeignRulesIgnored(t *testing.T) {
	t.Parallel()
	bk := &fakeBroker{account: types.Account{Equity: 95_000, DayPL: -5_000, BuyingPower: 95_000, PeakEquity: 100_000}}
	m, _, _ := newTestManager(t, bk,
		types.RiskRule{
			ID: "r1", Owner: "alice", Name: "disabled", Type: types.RuleMaxDailyLoss,
			Threshold: 1_000, Action: types.ActionBlock, IsActive: false,
		},
		types.RiskRule{
			ID: "r2", Owner: "alice", StrategyID: "other-strategy", Name: "scoped",
			Type: types.RuleMaxDailyLoss, Threshold: 1_000, Action: types.ActionBlock, IsActive: true,
		},
	)

	ls := &types.LiveStrategy{ID: "ls-1", Owner: "alice"}
	v, err := m.CheckOrder(context.Background(), ls, "AAPL", types.SideBuy, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Allowed {
		t.Errorf("verdict = %+v, want allowed (no applicable rules)", v)
	}
}

func TestPortfolioRiskZeroFilledOnError(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t, &fakeBroker{err: errors.New("venue down")})

	view := m.PortfolioRisk(context.Background())
	if view.Error == "" {
		t.Error("expected Error to be set")
	}
	if view.AccountValue != 0 || view.NumberOfPositions != 0 {
		t.Errorf("view = %+v, want zero-filled", view)
	}
}

func TestPortfolioRiskComputesRatios(t *testing.T) {
	t.Parallel()
	bk := &fakeBroker{
		account: types.Account{Equity: 100_000, Cash: 60_000, BuyingPower: 60_000, DayPL: 1_000, PeakEquity: 110_000},
		positions: []types.Position{
			{Symbol: "AAPL", Quantity: 100, MarketValue: 25_000, UnrealizedPL: 2_000},
			{Symbol: "MSFT", Quantity: 50, MarketValue: 15_000, UnrealizedPL: -500},
		},
	}
	m, _, _ := newTestManager(t, bk)

	view := m.PortfolioRisk(context.Background())
	if view.TotalPositionValue != 40_000 || view.NumberOfPositions != 2 {
		t.Errorf("view = %+v", view)
	}
	if view.Leverage != 0.4 {
		t.Errorf("leverage = %v, want 0.4", view.Leverage)
	}
	if view.DailyPLPercent != 1 {
		t.Errorf("daily pl pct = %v, want 1", view.DailyPLPercent)
	}
	if view.MaxDrawdownPercent <= 9 || view.MaxDrawdownPercent >= 10 {
		t.Errorf("drawdown = %v, want ~9.09", view.MaxDrawdownPercent)
	}
}
