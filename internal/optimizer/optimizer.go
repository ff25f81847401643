package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"autotrader/internal/clock"
	"autotrader/internal/config"
	"autotrader/internal/marketdata"
	"autotrader/internal/notify"
	"autotrader/internal/store"
	"autotrader/pkg/types"
)

const (
	barsTimeout  = 30 * time.Second
	storeTimeout = 5 * time.Second
)

// Composite score weights. Normalisation is min-max within each
// symbol's cohort, so weights compare runs on the same instrument.
const (
	weightReturn   = 0.30
	weightSharpe   = 0.30
	weightDrawdown = 0.20
	weightWinRate  = 0.20
)

// Optimizer runs backtest sweeps. It reads market data and strategy
// definitions, never live deployments.
type Optimizer struct {
	cfg    config.OptimizerConfig
	store  store.StateStore
	bars   marketdata.Source
	notify notify.Sink
	clock  clock.Clock
	logger *slog.Logger
}

// New creates an optimizer.
func New(cfg config.OptimizerConfig, st store.StateStore, bars marketdata.Source, sink notify.Sink, clk clock.Clock, logger *slog.Logger) *Optimizer {
	return &Optimizer{
		cfg:    cfg,
		store:  st,
		bars:   bars,
		notify: sink,
		clock:  clk,
		logger: logger.With("component", "optimizer"),
	}
}

type task struct {
	symbol   string
	strategy types.Strategy
}

// Run executes the sweep for one job and persists the outcome. The
// caller owns asynchrony: the control surface launches Run on a
// goroutine and polls the job record. The job fails only when every
// sub-task errors; partial failures surface per-result.
func (o *Optimizer) Run(ctx context.Context, job *types.OptimizationJob) error {
	log := o.logger.With("job_id", job.ID, "owner", job.Owner)

	started := o.clock.Now().UTC()
	job.Status = types.JobRunning
	job.StartedAt = &started
	if err := o.saveJob(ctx, job); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}

	results, err := o.sweep(ctx, job)
	finished := o.clock.Now().UTC()
	job.FinishedAt = &finished
	if err != nil {
		job.Status = types.JobFailed
		job.Error = err.Error()
		log.Error("optimization failed", "error", err)
	} else {
		job.Status = types.JobCompleted
		job.Results = results
		log.Info("optimization completed", "results", len(results))
	}
	if saveErr := o.saveJob(ctx, job); saveErr != nil {
		return fmt.Errorf("persist job outcome: %w", saveErr)
	}

	o.notify.Send(ctx, notify.Notification{
		Owner:     job.Owner,
		Priority:  notifyPriority(job.Status),
		Title:     fmt.Sprintf("optimization %s", job.Status),
		Message:   jobSummary(job),
		Timestamp: finished,
	})
	return err
}

func (o *Optimizer) sweep(ctx context.Context, job *types.OptimizationJob) ([]types.OptimizationResult, error) {
	strategies, err := o.resolveStrategies(ctx, job)
	if err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no strategies to optimize for owner %s", job.Owner)
	}
	if len(job.Symbols) == 0 {
		return nil, fmt.Errorf("no symbols in job")
	}

	barsBySymbol := make(map[string][]types.Bar, len(job.Symbols))
	for _, symbol := range job.Symbols {
		bars, err := o.loadBars(ctx, symbol, job.Start, job.End)
		if err != nil {
			o.logger.Warn("bars unavailable, skipping symbol",
				"job_id", job.ID, "symbol", symbol, "error", err)
			continue
		}
		barsBySymbol[symbol] = bars
	}
	if len(barsBySymbol) == 0 {
		return nil, fmt.Errorf("no market data for any symbol in job")
	}

	var tasks []task
	for _, symbol := range job.Symbols {
		if _, ok := barsBySymbol[symbol]; !ok {
			continue
		}
		for _, st := range strategies {
			tasks = append(tasks, task{symbol: symbol, strategy: st})
		}
	}

	workers := o.cfg.WorkerPoolSize
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]types.OptimizationResult, 0, len(tasks))
	)
	for _, tk := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(tk task) {
			defer func() {
				<-sem
				wg.Done()
			}()
			res := types.OptimizationResult{
				StrategyID: tk.strategy.ID,
				Type:       tk.strategy.Type,
				Symbol:     tk.symbol,
				Parameters: tk.strategy.Parameters,
			}
			metrics, err := backtest(tk.strategy.Type, tk.strategy.Parameters, barsBySymbol[tk.symbol], job.InitialCapital)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Metrics = metrics
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(tk)
	}
	wg.Wait()

	if allFailed(results) {
		return nil, fmt.Errorf("every backtest errored, first: %s", firstError(results))
	}
	scoreAndRank(results)
	return results, nil
}

// resolveStrategies loads the job's strategy set, defaulting to every
// definition the owner has.
func (o *Optimizer) resolveStrategies(ctx context.Context, job *types.OptimizationJob) ([]types.Strategy, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if len(job.StrategyIDs) == 0 {
		return o.store.ListStrategies(sctx, job.Owner)
	}
	out := make([]types.Strategy, 0, len(job.StrategyIDs))
	for _, id := range job.StrategyIDs {
		s, err := o.store.GetStrategy(sctx, id)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", id, err)
		}
		out = append(out, *s)
	}
	return out, nil
}

// loadBars fetches daily bars covering [start, end]. Indicator warm-up
// consumes the first bars of the range, matching what a freshly
// deployed strategy would see.
func (o *Optimizer) loadBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	days := int(end.Sub(start).Hours()/24) + 1
	if days < 2 {
		return nil, fmt.Errorf("date range shorter than two days")
	}
	bctx, cancel := context.WithTimeout(ctx, barsTimeout)
	defer cancel()

	bars, err := o.bars.GetBars(bctx, symbol, types.Timeframe1Day, end, days)
	if err != nil {
		return nil, err
	}
	trimmed := bars[:0:0]
	for _, b := range bars {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			trimmed = append(trimmed, b)
		}
	}
	return trimmed, nil
}

// scoreAndRank computes the composite score per result, normalising
// metrics within each symbol's cohort, then ranks globally by score.
func scoreAndRank(results []types.OptimizationResult) {
	bySymbol := make(map[string][]int)
	for i, r := range results {
		if r.Error == "" {
			bySymbol[r.Symbol] = append(bySymbol[r.Symbol], i)
		}
	}

	for _, cohort := range bySymbol {
		returns := metricColumn(results, cohort, func(m types.BacktestMetrics) float64 { return m.TotalReturnPct })
		sharpes := metricColumn(results, cohort, func(m types.BacktestMetrics) float64 { return m.SharpeRatio })
		drawdowns := metricColumn(results, cohort, func(m types.BacktestMetrics) float64 { return math.Abs(m.MaxDrawdownPct) })
		winRates := metricColumn(results, cohort, func(m types.BacktestMetrics) float64 { return m.WinRate })

		for j, idx := range cohort {
			results[idx].Score = weightReturn*minMax(returns, j) +
				weightSharpe*minMax(sharpes, j) +
				weightDrawdown*(1-minMax(drawdowns, j)) +
				weightWinRate*minMax(winRates, j)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		// Errored runs sink to the bottom.
		if (results[i].Error == "") != (results[j].Error == "") {
			return results[i].Error == ""
		}
		return results[i].Score > results[j].Score
	})
	for i := range results {
		results[i].Rank = i + 1
	}
}

func metricColumn(results []types.OptimizationResult, cohort []int, f func(types.BacktestMetrics) float64) []float64 {
	col := make([]float64, len(cohort))
	for j, idx := range cohort {
		v := f(results[idx].Metrics)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		col[j] = v
	}
	return col
}

// minMax normalises col[j] into [0,1]. A degenerate cohort (all equal)
// maps to 0.5 so the term neither rewards nor penalises.
func minMax(col []float64, j int) float64 {
	lo, hi := col[0], col[0]
	for _, v := range col {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return 0.5
	}
	return (col[j] - lo) / (hi - lo)
}

func allFailed(results []types.OptimizationResult) bool {
	if len(results) == 0 {
		return true
	}
	for _, r := range results {
		if r.Error == "" {
			return false
		}
	}
	return true
}

func firstError(results []types.OptimizationResult) string {
	for _, r := range results {
		if r.Error != "" {
			return r.Error
		}
	}
	return "no tasks ran"
}

func (o *Optimizer) saveJob(ctx context.Context, job *types.OptimizationJob) error {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return o.store.SaveOptimizationJob(sctx, job)
}

func notifyPriority(status types.JobStatus) types.Priority {
	if status == types.JobFailed {
		return types.PriorityMedium
	}
	return types.PriorityLow
}

func jobSummary(job *types.OptimizationJob) string {
	if job.Status == types.JobFailed {
		return job.Error
	}
	if len(job.Results) == 0 {
		return "no results"
	}
	top := job.Results[0]
	return fmt.Sprintf("%d results, top: %s on %s (score %.3f)",
		len(job.Results), top.Type, top.Symbol, top.Score)
}
