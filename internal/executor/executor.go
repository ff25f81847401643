// Package executor turns signals into broker orders. It owns the
// submission path end to end: per-owner rate limiting, position
// sizing, the pre-trade risk gate, retry with exponential backoff on
// transient venue failures, and the transactional audit record for
// every executed signal.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"autotrader/internal/broker"
	"autotrader/internal/clock"
	"autotrader/internal/config"
	"autotrader/internal/notify"
	"autotrader/internal/risk"
	"autotrader/internal/store"
	"autotrader/pkg/types"
)

// brokerTimeout caps any single venue call.
const brokerTimeout = 15 * time.Second

// Executor routes signals to the broker.
type Executor struct {
	cfg     config.ExecutorConfig
	broker  broker.Client
	risk    *risk.Manager
	store   store.StateStore
	notify  notify.Sink
	limiter *broker.RateLimiter
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates an executor.
func New(cfg config.ExecutorConfig, bk broker.Client, rm *risk.Manager, st store.StateStore, sink notify.Sink, clk clock.Clock, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:     cfg,
		broker:  bk,
		risk:    rm,
		store:   st,
		notify:  sink,
		limiter: broker.NewRateLimiter(cfg.RateBurst, cfg.RatePerSecond),
		clock:   clk,
		logger:  logger.With("component", "executor"),
	}
}

// Execute processes one signal for one live strategy. The strategy
// record is mutated in place (counters, timestamps) and persisted; the
// returned order is nil whenever nothing was routed to the venue.
func (e *Executor) Execute(ctx context.Context, ls *types.LiveStrategy, sig *types.Signal) (*types.Order, error) {
	now := e.clock.Now().UTC()
	ls.TotalSignals++
	ls.LastSignalAt = &now
	ls.UpdatedAt = now

	log := e.logger.With("strategy_id", ls.ID, "symbol", sig.Symbol, "signal", sig.Type)

	// HOLD is recorded, never routed.
	if sig.Type == types.SignalHold {
		return nil, e.store.RecordExecution(ctx, ls, sig, nil, nil)
	}

	if !ls.AutoExecute {
		log.Info("signal recorded, auto-execute off", "strength", sig.Strength)
		return nil, e.recordUnexecuted(ctx, ls, sig, types.AuditSignal, "auto_execute disabled")
	}

	// Per-owner throttle. An empty bucket defers the signal rather than
	// queueing order flow behind a stale evaluation.
	if !e.limiter.Bucket(ls.Owner).TryTake() {
		log.Warn("order rate limit exhausted, deferring signal")
		return nil, e.recordUnexecuted(ctx, ls, sig, types.AuditSignal, "rate limit exhausted, deferred")
	}

	price := sig.Indicators["close"]
	if price <= 0 {
		return nil, e.recordUnexecuted(ctx, ls, sig, types.AuditSignal, "no reference price in signal")
	}

	side := types.SideBuy
	if sig.Type == types.SignalSell {
		side = types.SideSell
	}

	qty, reason, err := e.quantity(ctx, ls, sig, side, price)
	if err != nil {
		return nil, err
	}
	if qty <= 0 {
		log.Info("signal not tradeable", "reason", reason)
		return nil, e.recordUnexecuted(ctx, ls, sig, types.AuditSignal, reason)
	}

	verdict, err := e.risk.CheckOrder(ctx, ls, sig.Symbol, side, qty, price)
	if err != nil {
		return nil, fmt.Errorf("risk check: %w", err)
	}
	if verdict.Action.Severity() >= types.ActionClosePosition.Severity() {
		e.enforce(ctx, ls, sig.Symbol, verdict.Action)
	}
	// A risk block is an error-class audit event, not a plain
	// unexecuted signal.
	if !verdict.Allowed {
		log.Warn("order blocked by risk", "action", verdict.Action, "reason", verdict.Reason)
		return nil, e.recordUnexecuted(ctx, ls, sig, types.AuditError, "risk: "+verdict.Reason)
	}
	qty = verdict.Quantity

	order, err := e.submit(ctx, ls, sig, side, qty)
	if err != nil {
		errEntry := e.auditEntry(ls, sig, types.AuditError)
		errEntry.Details = map[string]any{"error": err.Error()}
		if recErr := e.store.RecordExecution(ctx, ls, sig, nil, []types.AuditEntry{errEntry}); recErr != nil {
			log.Error("record failed execution", "error", recErr)
		}
		e.notify.Send(ctx, notify.Notification{
			Owner:      ls.Owner,
			Priority:   types.PriorityMedium,
			Title:      "order submission failed",
			Message:    err.Error(),
			StrategyID: ls.ID,
			Timestamp:  now,
		})
		return nil, err
	}

	sig.Executed = true
	sig.OrderID = order.ID
	ls.ExecutedTrades++
	ls.LastTradeAt = &now

	// Audit entries land in causal order: signal before order, fill
	// last when the venue already reports one.
	entries := []types.AuditEntry{
		e.auditEntry(ls, sig, types.AuditSignal),
		e.orderEntry(ls, sig, order, types.AuditOrder),
	}
	if order.FilledAt != nil {
		entries = append(entries, e.orderEntry(ls, sig, order, types.AuditFill))
	}
	if err := e.store.RecordExecution(ctx, ls, sig, order, entries); err != nil {
		return order, fmt.Errorf("record execution: %w", err)
	}
	log.Info("order placed", "order_id", order.ID, "side", side, "qty", qty)
	return order, nil
}

// quantity resolves how many shares the signal trades. A sell closes
// the open position; a buy is sized by the risk manager. An explicit
// Signal.Quantity overrides both.
func (e *Executor) quantity(ctx context.Context, ls *types.LiveStrategy, sig *types.Signal, side types.Side, price float64) (int, string, error) {
	if sig.Quantity > 0 {
		return sig.Quantity, "", nil
	}

	cctx, cancel := context.WithTimeout(ctx, brokerTimeout)
	defer cancel()

	if side == types.SideSell {
		pos, err := e.broker.GetPosition(cctx, sig.Symbol)
		if err != nil {
			return 0, "", fmt.Errorf("get position: %w", err)
		}
		if pos == nil || pos.Quantity <= 0 {
			return 0, "no open position to close", nil
		}
		return pos.Quantity, "", nil
	}

	account, err := e.broker.GetAccount(cctx)
	if err != nil {
		return 0, "", fmt.Errorf("get account: %w", err)
	}
	if ls.MaxPositions > 0 {
		open, err := e.openStrategyPositions(cctx, ls)
		if err != nil {
			return 0, "", err
		}
		if open >= ls.MaxPositions {
			return 0, fmt.Sprintf("max positions reached (%d)", ls.MaxPositions), nil
		}
	}

	qty := e.risk.PositionSize(account, ls, price, sig.Indicators["trailing_stop"])
	if qty <= 0 {
		return 0, "position size below one share", nil
	}
	return qty, "", nil
}

// openStrategyPositions counts open positions among the strategy's
// symbols.
func (e *Executor) openStrategyPositions(ctx context.Context, ls *types.LiveStrategy) (int, error) {
	positions, err := e.broker.ListPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list positions: %w", err)
	}
	symbols := make(map[string]bool, len(ls.Symbols))
	for _, s := range ls.Symbols {
		symbols[s] = true
	}
	count := 0
	for _, p := range positions {
		if symbols[p.Symbol] && p.Quantity != 0 {
			count++
		}
	}
	return count, nil
}

// submit places the order, retrying transient venue failures with
// exponential backoff. Terminal failures (4xx) abort immediately.
func (e *Executor) submit(ctx context.Context, ls *types.LiveStrategy, sig *types.Signal, side types.Side, qty int) (*types.Order, error) {
	req := broker.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     side,
		Quantity: qty,
		Type:     types.OrderMarket,
		ClientID: sig.ID, // idempotent resubmission after a retried timeout
	}

	backoff := e.cfg.Retry.Base()
	var lastErr error
	for attempt := 1; attempt <= e.cfg.Retry.MaxAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, brokerTimeout)
		order, err := e.broker.PlaceOrder(cctx, req)
		cancel()
		if err == nil {
			order.LiveStrategyID = ls.ID
			return order, nil
		}
		lastErr = err
		if !broker.IsTransient(err) {
			return nil, fmt.Errorf("place order: %w", err)
		}
		e.logger.Warn("transient order failure, backing off",
			"attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * e.cfg.Retry.Factor)
	}
	return nil, fmt.Errorf("place order after %d attempts: %w", e.cfg.Retry.MaxAttempts, lastErr)
}

// enforce carries out a portfolio-level rule action.
func (e *Executor) enforce(ctx context.Context, ls *types.LiveStrategy, symbol string, action types.RuleAction) {
	switch action {
	case types.ActionClosePosition:
		e.closePosition(ctx, ls, symbol)
	case types.ActionCloseAll:
		positions, err := e.broker.ListPositions(ctx)
		if err != nil {
			e.logger.Error("close-all: list positions failed", "error", err)
			return
		}
		for _, p := range positions {
			e.closePosition(ctx, ls, p.Symbol)
		}
	}
}

func (e *Executor) closePosition(ctx context.Context, ls *types.LiveStrategy, symbol string) {
	cctx, cancel := context.WithTimeout(ctx, brokerTimeout)
	defer cancel()

	pos, err := e.broker.GetPosition(cctx, symbol)
	if err != nil || pos == nil || pos.Quantity <= 0 {
		return
	}
	order, err := e.broker.PlaceOrder(cctx, broker.OrderRequest{
		Symbol:   symbol,
		Side:     types.SideSell,
		Quantity: pos.Quantity,
		Type:     types.OrderMarket,
	})
	if err != nil {
		e.logger.Error("risk close failed", "symbol", symbol, "error", err)
		return
	}
	order.LiveStrategyID = ls.ID
	if err := e.store.SaveOrder(ctx, order); err != nil {
		e.logger.Error("save risk close order", "order_id", order.ID, "error", err)
	}
	e.logger.Warn("position closed by risk action", "symbol", symbol, "qty", pos.Quantity)
}

// recordUnexecuted persists a signal that produced no order, with the
// reason in the audit trail under the given event type.
func (e *Executor) recordUnexecuted(ctx context.Context, ls *types.LiveStrategy, sig *types.Signal, event types.AuditEvent, reason string) error {
	entry := e.auditEntry(ls, sig, event)
	entry.Details = map[string]any{"executed": false, "reason": reason}
	return e.store.RecordExecution(ctx, ls, sig, nil, []types.AuditEntry{entry})
}

func (e *Executor) auditEntry(ls *types.LiveStrategy, sig *types.Signal, event types.AuditEvent) types.AuditEntry {
	return types.AuditEntry{
		ID:         uuid.NewString(),
		Timestamp:  e.clock.Now().UTC(),
		Owner:      ls.Owner,
		Event:      event,
		StrategyID: ls.ID,
		Symbol:     sig.Symbol,
		Details:    map[string]any{"signal_type": string(sig.Type), "strength": sig.Strength},
	}
}

func (e *Executor) orderEntry(ls *types.LiveStrategy, sig *types.Signal, order *types.Order, event types.AuditEvent) types.AuditEntry {
	return types.AuditEntry{
		ID:         uuid.NewString(),
		Timestamp:  e.clock.Now().UTC(),
		Owner:      ls.Owner,
		Event:      event,
		StrategyID: ls.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      order.FillPrice,
		OrderID:    order.ID,
		Details:    map[string]any{"signal_id": sig.ID},
	}
}
