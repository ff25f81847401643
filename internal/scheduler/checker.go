// Package scheduler drives live strategies: a ticker wakes every tick
// period, finds ACTIVE strategies whose cadence has elapsed, and runs
// each through the check pipeline on a bounded worker pool. One
// strategy is never checked concurrently with itself.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"autotrader/internal/broker"
	"autotrader/internal/clock"
	"autotrader/internal/executor"
	"autotrader/internal/indicators"
	"autotrader/internal/marketdata"
	"autotrader/internal/notify"
	"autotrader/internal/signal"
	"autotrader/internal/store"
	"autotrader/pkg/types"
)

const (
	barsTimeout   = 10 * time.Second
	brokerTimeout = 15 * time.Second
	storeTimeout  = 5 * time.Second

	// errorThreshold consecutive failed checks flip a strategy to ERROR.
	errorThreshold = 5

	// warmupSlack extra bars fetched beyond the indicator warm-up, so a
	// few missing sessions don't starve the evaluation.
	warmupSlack = 10
)

// Checker runs the per-strategy check pipeline: refresh last_check,
// fetch bars, evaluate the signal, route it to the executor. Symbols
// within one strategy are processed serially.
type Checker struct {
	store     store.StateStore
	bars      marketdata.Source
	broker    broker.Client
	executor  *executor.Executor
	notify    notify.Sink
	clock     clock.Clock
	timeframe types.Timeframe
	logger    *slog.Logger
}

// NewChecker wires the pipeline.
func NewChecker(st store.StateStore, bars marketdata.Source, bk broker.Client, exec *executor.Executor, sink notify.Sink, clk clock.Clock, tf types.Timeframe, logger *slog.Logger) *Checker {
	if !tf.Valid() {
		tf = types.Timeframe5Min
	}
	return &Checker{
		store:     st,
		bars:      bars,
		broker:    bk,
		executor:  exec,
		notify:    sink,
		clock:     clk,
		timeframe: tf,
		logger:    logger.With("component", "checker"),
	}
}

// Check runs one full evaluation of a live strategy.
func (c *Checker) Check(ctx context.Context, ls *types.LiveStrategy) error {
	now := c.clock.Now().UTC()
	log := c.logger.With("strategy_id", ls.ID, "name", ls.Name)

	// last_check moves forward before any work so a strategy whose
	// check keeps crashing cannot hot-loop every tick.
	ls.LastCheck = &now
	ls.UpdatedAt = now
	if err := c.save(ctx, ls); err != nil {
		return fmt.Errorf("advance last_check: %w", err)
	}

	def, err := c.definition(ctx, ls)
	if err != nil {
		c.recordFailure(ctx, ls, err)
		return err
	}

	var checkErr error
	for _, symbol := range ls.Symbols {
		if err := c.checkSymbol(ctx, ls, def, symbol); err != nil {
			log.Error("symbol check failed", "symbol", symbol, "error", err)
			checkErr = errors.Join(checkErr, fmt.Errorf("%s: %w", symbol, err))
		}
	}

	if checkErr != nil {
		c.recordFailure(ctx, ls, checkErr)
		return checkErr
	}
	if ls.ErrorCount > 0 {
		ls.ErrorCount = 0
		ls.LastError = ""
		if err := c.save(ctx, ls); err != nil {
			log.Warn("reset error count failed", "error", err)
		}
	}
	return nil
}

func (c *Checker) checkSymbol(ctx context.Context, ls *types.LiveStrategy, def *types.Strategy, symbol string) error {
	need := signal.WarmupBars(def.Type, def.Parameters) + warmupSlack

	bctx, cancel := context.WithTimeout(ctx, barsTimeout)
	bars, err := c.bars.GetBars(bctx, symbol, c.timeframe, c.clock.Now().UTC(), need)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, brokerTimeout)
	pos, err := c.broker.GetPosition(pctx, symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}
	hasPosition := pos != nil && pos.Quantity > 0

	res, err := signal.Evaluate(def.Type, def.Parameters, bars, hasPosition)
	if errors.Is(err, indicators.ErrInsufficientData) {
		// Not a fault: the symbol simply has too little history yet.
		c.logger.Debug("insufficient history, skipping symbol",
			"strategy_id", ls.ID, "symbol", symbol, "bars", len(bars))
		return nil
	}
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	sig := &types.Signal{
		ID:             uuid.NewString(),
		LiveStrategyID: ls.ID,
		Symbol:         symbol,
		Timestamp:      c.clock.Now().UTC(),
		Type:           res.Type,
		Strength:       res.Strength,
		Reasoning:      res.Reasoning,
		Indicators:     res.Indicators,
	}
	if _, err := c.executor.Execute(ctx, ls, sig); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return nil
}

// definition loads the deployed strategy's type and parameters.
func (c *Checker) definition(ctx context.Context, ls *types.LiveStrategy) (*types.Strategy, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	def, err := c.store.GetStrategy(sctx, ls.StrategyID)
	if err != nil {
		return nil, fmt.Errorf("load strategy definition: %w", err)
	}
	return def, nil
}

// recordFailure bumps the consecutive error counter and, at the
// threshold, parks the strategy in ERROR and tells the owner.
func (c *Checker) recordFailure(ctx context.Context, ls *types.LiveStrategy, cause error) {
	ls.ErrorCount++
	ls.LastError = cause.Error()

	if ls.ErrorCount >= errorThreshold && ls.Status == types.StatusActive {
		ls.Status = types.StatusError
		c.logger.Error("strategy moved to ERROR after repeated failures",
			"strategy_id", ls.ID, "errors", ls.ErrorCount, "last_error", ls.LastError)
		c.notify.Send(ctx, notify.Notification{
			Owner:      ls.Owner,
			Priority:   types.PriorityHigh,
			Title:      "strategy stopped after repeated failures",
			Message:    ls.LastError,
			StrategyID: ls.ID,
			Timestamp:  c.clock.Now().UTC(),
		})
	}
	if err := c.save(ctx, ls); err != nil {
		c.logger.Error("persist failure state", "strategy_id", ls.ID, "error", err)
	}
}

func (c *Checker) save(ctx context.Context, ls *types.LiveStrategy) error {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return c.store.SaveLiveStrategy(sctx, ls)
}
