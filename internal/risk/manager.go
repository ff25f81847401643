// Package risk is the pre-trade gate. Every order the executor wants
// to place passes through Manager.CheckOrder, which evaluates the
// owner's active rules against the live account snapshot and answers
// with a verdict: allow, reduce, or block, plus any portfolio-level
// action (close one position, close everything).
//
// Rule actions are ordered by severity; when several rules breach at
// once the most severe action wins:
//
//	CLOSE_ALL > CLOSE_POSITION > BLOCK > REDUCE_SIZE > ALERT
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"autotrader/internal/broker"
	"autotrader/internal/clock"
	"autotrader/internal/config"
	"autotrader/internal/notify"
	"autotrader/internal/store"
	"autotrader/pkg/types"
)

// Breach is one rule whose threshold the proposed order (or the
// portfolio itself) violates.
type Breach struct {
	Rule     types.RiskRule
	Observed float64
	Message  string
}

// Verdict is the outcome of a pre-trade check.
type Verdict struct {
	Allowed  bool
	Action   types.RuleAction // most severe breached action, empty when clean
	Quantity int              // possibly reduced; 0 when blocked
	Breaches []Breach
	Reason   string
}

// Manager evaluates risk rules and sizes positions.
type Manager struct {
	cfg    config.RiskConfig
	store  store.StateStore
	broker broker.Client
	notify notify.Sink
	clock  clock.Clock
	logger *slog.Logger
}

// NewManager creates the risk gate.
func NewManager(cfg config.RiskConfig, st store.StateStore, bk broker.Client, sink notify.Sink, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  st,
		broker: bk,
		notify: sink,
		clock:  clk,
		logger: logger.With("component", "risk"),
	}
}

// snapshot is the account state one check evaluates against.
type snapshot struct {
	account   *types.Account
	positions []types.Position
}

// CheckOrder evaluates the owner's rules against a proposed order of
// qty shares at price. Sell orders that reduce an existing position
// pass without rule evaluation: closing risk off is always allowed.
func (m *Manager) CheckOrder(ctx context.Context, ls *types.LiveStrategy, symbol string, side types.Side, qty int, price float64) (*Verdict, error) {
	if qty <= 0 || price <= 0 {
		return &Verdict{Allowed: false, Reason: "nothing to submit"}, nil
	}
	if side == types.SideSell {
		return &Verdict{Allowed: true, Quantity: qty, Reason: "position-reducing order"}, nil
	}

	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := m.activeRules(ctx, ls)
	if err != nil {
		return nil, err
	}

	breaches := m.evaluate(rules, snap, ls, symbol, qty, price)
	if len(breaches) == 0 {
		return &Verdict{Allowed: true, Quantity: qty}, nil
	}

	worst := worstAction(breaches)
	m.recordBreaches(ctx, ls, breaches, worst)

	if worst == types.ActionReduceSize {
		reduced := m.reduceQuantity(rules, snap, ls, symbol, qty, price)
		if reduced > 0 {
			return &Verdict{
				Allowed:  true,
				Action:   worst,
				Quantity: reduced,
				Breaches: breaches,
				Reason:   fmt.Sprintf("size reduced %d -> %d by risk rules", qty, reduced),
			}, nil
		}
		worst = types.ActionBlock
	}
	if worst == types.ActionAlert {
		return &Verdict{
			Allowed:  true,
			Action:   worst,
			Quantity: qty,
			Breaches: breaches,
			Reason:   "alert-only breaches",
		}, nil
	}
	return &Verdict{
		Allowed:  false,
		Action:   worst,
		Quantity: 0,
		Breaches: breaches,
		Reason:   breaches[0].Message,
	}, nil
}

// evaluate runs every rule against the proposed order and returns the
// breaches, most severe action first.
func (m *Manager) evaluate(rules []types.RiskRule, snap *snapshot, ls *types.LiveStrategy, symbol string, qty int, price float64) []Breach {
	notional := float64(qty) * price
	var breaches []Breach

	for _, rule := range rules {
		var b *Breach
		switch rule.Type {
		case types.RuleMaxPositionSize:
			current := positionValue(snap.positions, symbol)
			if current+notional > rule.Threshold {
				b = &Breach{
					Observed: current + notional,
					Message: fmt.Sprintf("position size %.2f would exceed limit %.2f",
						current+notional, rule.Threshold),
				}
			}
		case types.RuleMaxDailyLoss:
			// Projected: today's P&L less the order's worst-case loss
			// (full notional). Quantity-dependent, so REDUCE_SIZE can
			// shrink an entry back under the limit.
			threshold := rule.Threshold
			if ls.DailyLossLimit > 0 && ls.DailyLossLimit < threshold {
				threshold = ls.DailyLossLimit
			}
			projected := snap.account.DayPL - notional
			if projected <= -threshold {
				b = &Breach{
					Observed: projected,
					Message: fmt.Sprintf("projected daily loss %.2f breaches limit %.2f",
						-projected, threshold),
				}
			}
		case types.RuleMaxDrawdown:
			dd := drawdownPct(snap.account)
			if dd > rule.Threshold {
				b = &Breach{
					Observed: dd,
					Message:  fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%", dd, rule.Threshold),
				}
			}
		case types.RulePositionLimit:
			if !hasPosition(snap.positions, symbol) && float64(len(snap.positions)+1) > rule.Threshold {
				b = &Breach{
					Observed: float64(len(snap.positions) + 1),
					Message: fmt.Sprintf("open positions would reach %d, limit %.0f",
						len(snap.positions)+1, rule.Threshold),
				}
			}
		case types.RuleMaxLeverage:
			if snap.account.Equity > 0 {
				lev := (totalPositionValue(snap.positions) + notional) / snap.account.Equity
				if lev > rule.Threshold {
					b = &Breach{
						Observed: lev,
						Message:  fmt.Sprintf("leverage %.2fx exceeds limit %.2fx", lev, rule.Threshold),
					}
				}
			}
		default:
			m.logger.Warn("unknown rule type skipped", "rule_id", rule.ID, "type", rule.Type)
		}
		if b != nil {
			b.Rule = rule
			breaches = append(breaches, *b)
		}
	}

	// Most severe first so Reason surfaces the binding constraint.
	for i := 1; i < len(breaches); i++ {
		for j := i; j > 0 && breaches[j].Rule.Action.Severity() > breaches[j-1].Rule.Action.Severity(); j-- {
			breaches[j], breaches[j-1] = breaches[j-1], breaches[j]
		}
	}
	return breaches
}

// reduceQuantity binary-searches the largest quantity in [1, qty) that
// clears every size-constraining rule. ALERT breaches never bind: they
// notify, they don't shrink orders.
func (m *Manager) reduceQuantity(rules []types.RiskRule, snap *snapshot, ls *types.LiveStrategy, symbol string, qty int, price float64) int {
	lo, hi := 0, qty // invariant: lo passes (0 trivially), hi fails
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if bindingBreaches(m.evaluate(rules, snap, ls, symbol, mid, price)) == 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

func bindingBreaches(breaches []Breach) int {
	n := 0
	for _, b := range breaches {
		if b.Rule.Action != types.ActionAlert {
			n++
		}
	}
	return n
}

// PositionSize computes the order quantity for an entry signal:
// the smallest of the buying-power fraction, the absolute cash cap,
// and (with a stop) the risk-per-trade budget. A result below one
// share is zero — the account cannot express the position.
func (m *Manager) PositionSize(account *types.Account, ls *types.LiveStrategy, price, stopPrice float64) int {
	if price <= 0 || account == nil {
		return 0
	}
	pct := ls.PositionSizePct
	if pct <= 0 {
		pct = m.cfg.DefaultPositionSizePct
	}

	size := pct * account.BuyingPower / price
	if ls.MaxPositionSize > 0 {
		size = math.Min(size, ls.MaxPositionSize/price)
	}
	if stopPrice > 0 && math.Abs(price-stopPrice) > 0 {
		riskBudget := m.cfg.RiskPerTrade * account.Equity
		size = math.Min(size, riskBudget/math.Abs(price-stopPrice))
	}

	qty := int(math.Floor(size))
	if qty < 1 {
		return 0
	}
	return qty
}

// PortfolioRisk builds the dashboard risk view. A failed account fetch
// yields a zero-filled view with Error set rather than an error: the
// dashboard renders what it can.
func (m *Manager) PortfolioRisk(ctx context.Context) types.PortfolioRisk {
	account, err := m.broker.GetAccount(ctx)
	if err != nil {
		m.logger.Warn("portfolio risk: account fetch failed", "error", err)
		return types.PortfolioRisk{Error: err.Error()}
	}
	positions, err := m.broker.ListPositions(ctx)
	if err != nil {
		m.logger.Warn("portfolio risk: positions fetch failed", "error", err)
		return types.PortfolioRisk{Error: err.Error()}
	}

	pv := totalPositionValue(positions)
	var upl float64
	for _, p := range positions {
		upl += p.UnrealizedPL
	}

	view := types.PortfolioRisk{
		AccountValue:       account.Equity,
		BuyingPower:        account.BuyingPower,
		TotalPositionValue: pv,
		Cash:               account.Cash,
		NumberOfPositions:  len(positions),
		DailyPL:            account.DayPL,
		TotalUnrealizedPL:  upl,
		MaxDrawdownPercent: drawdownPct(account),
	}
	if account.Equity > 0 {
		view.DailyPLPercent = account.DayPL / account.Equity * 100
		view.Leverage = pv / account.Equity
	}
	if basis := pv - upl; basis > 0 {
		view.TotalUnrealizedPLPct = upl / basis * 100
	}
	return view
}

func (m *Manager) snapshot(ctx context.Context) (*snapshot, error) {
	account, err := m.broker.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk snapshot: %w", err)
	}
	positions, err := m.broker.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk snapshot: %w", err)
	}
	return &snapshot{account: account, positions: positions}, nil
}

// activeRules returns the owner's enabled rules that apply to this
// strategy: account-wide rules plus rules pinned to its ID.
func (m *Manager) activeRules(ctx context.Context, ls *types.LiveStrategy) ([]types.RiskRule, error) {
	all, err := m.store.ListRiskRules(ctx, ls.Owner)
	if err != nil {
		return nil, fmt.Errorf("list risk rules: %w", err)
	}
	var out []types.RiskRule
	for _, r := range all {
		if !r.IsActive {
			continue
		}
		if r.StrategyID != "" && r.StrategyID != ls.ID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// recordBreaches bumps breach counters and notifies the owner.
func (m *Manager) recordBreaches(ctx context.Context, ls *types.LiveStrategy, breaches []Breach, worst types.RuleAction) {
	now := m.clock.Now().UTC()
	for _, b := range breaches {
		rule := b.Rule
		rule.BreachCount++
		rule.LastBreachAt = &now
		if err := m.store.SaveRiskRule(ctx, &rule); err != nil {
			m.logger.Warn("update breach counter failed", "rule_id", rule.ID, "error", err)
		}
		m.logger.Warn("risk rule breached",
			"rule", rule.Name, "action", rule.Action, "observed", b.Observed, "owner", ls.Owner)
	}

	m.notify.Send(ctx, notify.Notification{
		Owner:      ls.Owner,
		Priority:   breachPriority(worst),
		Title:      "risk rule breached",
		Message:    breaches[0].Message,
		StrategyID: ls.ID,
		Timestamp:  now,
	})
}

// breachPriority maps the binding action to the notification contract:
// HIGH for BLOCK and the close actions, MEDIUM for REDUCE_SIZE, LOW
// for ALERT.
func breachPriority(action types.RuleAction) types.Priority {
	switch {
	case action.Severity() >= types.ActionBlock.Severity():
		return types.PriorityHigh
	case action == types.ActionReduceSize:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

func worstAction(breaches []Breach) types.RuleAction {
	worst := types.ActionAlert
	for _, b := range breaches {
		if b.Rule.Action.Severity() > worst.Severity() {
			worst = b.Rule.Action
		}
	}
	return worst
}

func drawdownPct(a *types.Account) float64 {
	if a.PeakEquity <= 0 || a.Equity >= a.PeakEquity {
		return 0
	}
	return (a.PeakEquity - a.Equity) / a.PeakEquity * 100
}

func positionValue(positions []types.Position, symbol string) float64 {
	for _, p := range positions {
		if p.Symbol == symbol {
			return math.Abs(p.MarketValue)
		}
	}
	return 0
}

func totalPositionValue(positions []types.Position) float64 {
	var total float64
	for _, p := range positions {
		total += math.Abs(p.MarketValue)
	}
	return total
}

func hasPosition(positions []types.Position, symbol string) bool {
	for _, p := range positions {
		if p.Symbol == symbol && p.Quantity != 0 {
			return true
		}
	}
	return false
}
