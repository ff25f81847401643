package control

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
	"autotrader/internal/marketdata"
	"autotrader/internal/notify"
	"autotrader/internal/optimizer"
	"autotrader/internal/risk"
	"autotrader/internal/store"
	"autotrader/pkg/types"
)

type captureSink struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (c *captureSink) Send(_ context.Context, n notify.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
}

type fixture struct {
	svc   *Service
	store *store.Memory
	clock *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	clk := clock.NewFake(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	logger := slog.New(slog.DiscardHandler)
	md := marketdata.NewSynthetic(100, 0.0005, 0.02)
	paper := broker.NewPaper(50_000, md.Quote, clk, logger)
	sink := &captureSink{}
	rm := risk.NewManager(config.RiskConfig{DefaultPositionSizePct: 0.02, RiskPerTrade: 0.01},
		st, paper, sink, clk, logger)
	opt := optimizer.New(config.OptimizerConfig{WorkerPoolSize: 2}, st, md, sink, clk, logger)
	svc := New(config.SchedulerConfig{
		TickPeriodSeconds:       60,
		WorkerPoolSize:          4,
		MinCheckIntervalSeconds: 60,
	}, st, rm, opt, sink, clk, logger)
	return &fixture{svc: svc, store: st, clock: clk}
}

func (f *fixture) saveStrategy(t *testing.T, id, owner string) {
	t.Helper()
	err := f.store.SaveStrategy(context.Background(), &types.Strategy{
		ID:         id,
		Owner:      owner,
		Name:       "sma " + id,
		Type:       types.StrategySMACrossover,
		Parameters: types.Params{"short_period": 5, "long_period": 10},
		Symbols:    []string{"AAPL", "MSFT"},
		CreatedAt:  f.clock.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestQuickDeployAppliesDefaults(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.saveStrategy(t, "def-1", "alice")

	ls, err := f.svc.QuickDeploy(context.Background(), "alice", QuickDeployRequest{StrategyID: "def-1"})
	if err != nil {
		t.Fatalf("quick deploy: %v", err)
	}
	if ls.Status != types.StatusActive {
		t.Errorf("status = %s, want ACTIVE", ls.Status)
	}
	if ls.CheckInterval != 300*time.Second {
		t.Errorf("check interval = %s, want 5m", ls.CheckInterval)
	}
	if !ls.AutoExecute {
		t.Error("auto execute should default on")
	}
	if ls.MaxPositions != 5 || ls.PositionSizePct != 0.02 {
		t.Errorf("sizing defaults wrong: max=%d pct=%v", ls.MaxPositions, ls.PositionSizePct)
	}
	if len(ls.Symbols) != 2 {
		t.Errorf("symbols should default to the definition's: %v", ls.Symbols)
	}

	stored, err := f.store.GetLiveStrategy(context.Background(), ls.ID)
	if err != nil {
		t.Fatalf("deployment not persisted: %v", err)
	}
	if stored.Status != types.StatusActive {
		t.Errorf("stored status = %s", stored.Status)
	}

	audit, err := f.store.ListAudit(context.Background(), "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(audit) != 1 || audit[0].Event != types.AuditDeploy {
		t.Errorf("deploy audit entry missing: %+v", audit)
	}
}

func TestQuickDeployRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.saveStrategy(t, "def-1", "alice")

	if _, err := f.svc.QuickDeploy(context.Background(), "mallory", QuickDeployRequest{StrategyID: "def-1"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign owner: err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.QuickDeploy(context.Background(), "alice", QuickDeployRequest{StrategyID: "nope"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing strategy: err = %v, want ErrNotFound", err)
	}
	_, err := f.svc.QuickDeploy(context.Background(), "alice", QuickDeployRequest{
		StrategyID:    "def-1",
		CheckInterval: 10 * time.Second, // below the 60s floor
	})
	if err == nil {
		t.Error("sub-minimum cadence accepted")
	}
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.saveStrategy(t, "def-1", "alice")
	ls, err := f.svc.QuickDeploy(context.Background(), "alice", QuickDeployRequest{StrategyID: "def-1"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	paused, err := f.svc.PauseStrategy(ctx, "alice", ls.ID)
	if err != nil || paused.Status != types.StatusPaused {
		t.Fatalf("pause: %v, status %s", err, paused.Status)
	}
	// Idempotent.
	if _, err := f.svc.PauseStrategy(ctx, "alice", ls.ID); err != nil {
		t.Fatalf("re-pause: %v", err)
	}

	started, err := f.svc.StartStrategy(ctx, "alice", ls.ID)
	if err != nil || started.Status != types.StatusActive {
		t.Fatalf("start: %v, status %s", err, started.Status)
	}

	stopped, err := f.svc.StopStrategy(ctx, "alice", ls.ID)
	if err != nil || stopped.Status != types.StatusStopped {
		t.Fatalf("stop: %v, status %s", err, stopped.Status)
	}
	// STOPPED is terminal.
	if _, err := f.svc.StartStrategy(ctx, "alice", ls.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("start after stop: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.PauseStrategy(ctx, "mallory", ls.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign pause: err = %v, want ErrForbidden", err)
	}
}

func TestStartOutOfErrorClearsCounters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.saveStrategy(t, "def-1", "alice")
	ls, err := f.svc.QuickDeploy(context.Background(), "alice", QuickDeployRequest{StrategyID: "def-1"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	broken, _ := f.store.GetLiveStrategy(ctx, ls.ID)
	broken.Status = types.StatusError
	broken.ErrorCount = 5
	broken.LastError = "boom"
	_ = f.store.SaveLiveStrategy(ctx, broken)

	started, err := f.svc.StartStrategy(ctx, "alice", ls.ID)
	if err != nil {
		t.Fatalf("start from ERROR: %v", err)
	}
	if started.Status != types.StatusActive || started.ErrorCount != 0 || started.LastError != "" {
		t.Errorf("error state not cleared: %+v", started)
	}
}

func TestListActiveStrategiesFilters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.saveStrategy(t, "def-1", "alice")
	ctx := context.Background()

	a, _ := f.svc.QuickDeploy(ctx, "alice", QuickDeployRequest{StrategyID: "def-1"})
	b, _ := f.svc.QuickDeploy(ctx, "alice", QuickDeployRequest{StrategyID: "def-1"})
	if _, err := f.svc.PauseStrategy(ctx, "alice", b.ID); err != nil {
		t.Fatal(err)
	}

	active, err := f.svc.ListActiveStrategies(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Errorf("active = %v, want only %s", active, a.ID)
	}
}

func TestGetDashboardAggregates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.saveStrategy(t, "def-1", "alice")
	ctx := context.Background()

	ls, err := f.svc.QuickDeploy(ctx, "alice", QuickDeployRequest{StrategyID: "def-1"})
	if err != nil {
		t.Fatal(err)
	}
	sig := &types.Signal{
		ID:             "sig-1",
		LiveStrategyID: ls.ID,
		Symbol:         "AAPL",
		Timestamp:      f.clock.Now(),
		Type:           types.SignalBuy,
		Strength:       0.8,
	}
	if err := f.store.SaveSignal(ctx, sig); err != nil {
		t.Fatal(err)
	}

	d, err := f.svc.GetDashboard(ctx, "alice")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(d.Strategies) != 1 {
		t.Errorf("strategies = %d, want 1", len(d.Strategies))
	}
	if len(d.RecentSignals) != 1 || d.RecentSignals[0].ID != "sig-1" {
		t.Errorf("recent signals = %v", d.RecentSignals)
	}
	if d.PortfolioRisk.Error != "" || d.PortfolioRisk.AccountValue != 50_000 {
		t.Errorf("portfolio risk = %+v", d.PortfolioRisk)
	}
	if len(d.RecentAudit) == 0 {
		t.Error("recent audit empty, deploy entry expected")
	}
}

func TestRunOptimizationValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	end := f.clock.Now()

	cases := []struct {
		name string
		req  OptimizationRequest
	}{
		{"no symbols", OptimizationRequest{Start: end.AddDate(0, -6, 0), End: end, InitialCapital: 1000}},
		{"inverted dates", OptimizationRequest{Symbols: []string{"AAPL"}, Start: end, End: end.AddDate(0, -6, 0), InitialCapital: 1000}},
		{"no capital", OptimizationRequest{Symbols: []string{"AAPL"}, Start: end.AddDate(0, -6, 0), End: end}},
	}
	for _, tc := range cases {
		if _, err := f.svc.RunOptimization(ctx, "alice", tc.req); err == nil {
			t.Errorf("%s: accepted", tc.name)
		}
	}
}

func TestRunOptimizationCompletesAsync(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.saveStrategy(t, "def-1", "alice")
	ctx := context.Background()
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	job, err := f.svc.RunOptimization(ctx, "alice", OptimizationRequest{
		Symbols:        []string{"AAPL"},
		Start:          end.AddDate(0, 0, -180),
		End:            end,
		InitialCapital: 10_000,
	})
	if err != nil {
		t.Fatalf("run optimization: %v", err)
	}
	if job.Status != types.JobPending {
		t.Errorf("initial status = %s, want PENDING", job.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := f.svc.GetOptimizationJob(ctx, "alice", job.ID)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if got.Status == types.JobCompleted {
			if len(got.Results) == 0 {
				t.Fatal("completed with no results")
			}
			break
		}
		if got.Status == types.JobFailed {
			t.Fatalf("job failed: %s", got.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", got.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if _, err := f.svc.GetOptimizationJob(ctx, "mallory", job.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign poll: err = %v, want ErrForbidden", err)
	}
}

func TestExecuteOptimalDeploysWinners(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.saveStrategy(t, "def-1", "alice")
	f.saveStrategy(t, "def-2", "alice")
	ctx := context.Background()

	job := &types.OptimizationJob{
		ID:     "job-1",
		Owner:  "alice",
		Status: types.JobCompleted,
		Results: []types.OptimizationResult{
			{Rank: 1, StrategyID: "def-1", Type: types.StrategySMACrossover, Symbol: "AAPL", Score: 0.9},
			{Rank: 2, StrategyID: "def-2", Type: types.StrategySMACrossover, Symbol: "MSFT", Score: 0.7},
			{Rank: 3, StrategyID: "def-1", Type: types.StrategySMACrossover, Symbol: "TSLA", Error: "no bars"},
		},
	}
	if err := f.store.SaveOptimizationJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	deployed, err := f.svc.ExecuteOptimal(ctx, "alice", "job-1", 1)
	if err != nil {
		t.Fatalf("execute optimal: %v", err)
	}
	if len(deployed) != 1 {
		t.Fatalf("deployed = %d, want 1", len(deployed))
	}
	top := deployed[0]
	if top.StrategyID != "def-1" || len(top.Symbols) != 1 || top.Symbols[0] != "AAPL" {
		t.Errorf("wrong winner deployed: %+v", top)
	}
	if top.Status != types.StatusActive || top.CheckInterval != 300*time.Second {
		t.Errorf("deploy defaults not applied: %+v", top)
	}

	// A pending job cannot be deployed from.
	job.Status = types.JobRunning
	_ = f.store.SaveOptimizationJob(ctx, job)
	if _, err := f.svc.ExecuteOptimal(ctx, "alice", "job-1", 1); err == nil {
		t.Error("deploy from RUNNING job accepted")
	}
}
