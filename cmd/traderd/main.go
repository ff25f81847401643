// traderd — the automated trading control plane daemon.
//
// Architecture:
//
//	main.go                  — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	internal/scheduler       — tick loop: finds due strategies, runs checks on a worker pool
//	internal/signal          — strategy dispatch table: bars in, BUY/SELL/HOLD out
//	internal/indicators      — pure indicator math (SMA, EMA, RSI, MACD, ATR, Ichimoku, ...)
//	internal/risk            — pre-trade rule gate, position sizing, portfolio risk view
//	internal/executor        — signal→order path: rate limit, size, risk-check, submit with retry
//	internal/optimizer       — parallel backtest sweeps ranked by composite score
//	internal/control         — operator surface: quick-deploy, lifecycle, dashboard, optimization
//	internal/api             — HTTP/WebSocket dashboard over the control service
//	internal/broker          — venue clients: REST (live) and the in-process paper venue
//	internal/marketdata      — OHLCV sources: REST bars API and deterministic synthetic series
//	internal/store           — state persistence: Postgres in production, memory for dry runs
//	internal/notify          — notification fan-out: log, NATS, dashboard stream
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"autotrader/internal/api"
	"autotrader/internal/broker"
	"autotrader/internal/clock"
	"autotrader/internal/config"
	"autotrader/internal/control"
	"autotrader/internal/executor"
	"autotrader/internal/marketdata"
	"autotrader/internal/notify"
	"autotrader/internal/optimizer"
	"autotrader/internal/risk"
	"autotrader/internal/scheduler"
	"autotrader/internal/store"
	"autotrader/pkg/types"
)

// paperStartingCash funds the in-process paper venue in dry-run mode.
const paperStartingCash = 100_000

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	clk := clock.Real{}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// State store: Postgres when configured, memory otherwise.
	var st store.StateStore
	if cfg.Store.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		st = pg
		logger.Info("state store: postgres")
	} else {
		st = store.NewMemory()
		logger.Warn("state store: in-memory, state will not survive restarts")
	}

	// Market data: REST bars API, or synthetic series when no endpoint
	// is configured.
	var bars marketdata.Source
	if cfg.MarketData.BaseURL != "" {
		bars = marketdata.NewREST(*cfg, logger)
		logger.Info("market data: rest", "base_url", cfg.MarketData.BaseURL)
	} else {
		bars = marketdata.NewSynthetic(100, 0.0003, 0.015)
		logger.Warn("market data: synthetic series, no endpoint configured")
	}
	timeframe := types.Timeframe(cfg.MarketData.Timeframe)

	// Broker: dry runs trade against the in-process paper venue, priced
	// off the latest bar close.
	var venue broker.Client
	if cfg.DryRun {
		quote := func(qctx context.Context, symbol string) (float64, error) {
			b, err := bars.GetBars(qctx, symbol, timeframe, clk.Now(), 1)
			if err != nil {
				return 0, err
			}
			return b[len(b)-1].Close, nil
		}
		venue = broker.NewPaper(paperStartingCash, quote, clk, logger)
	} else {
		venue = broker.NewREST(*cfg, logger)
	}

	// Notifications fan out to the log, NATS when configured, and the
	// dashboard stream.
	sinks := notify.Multi{notify.NewLogSink(logger)}
	if cfg.Notify.NATSURL != "" {
		nats, err := notify.NewNATSSink(cfg.Notify.NATSURL, cfg.Notify.Subject, logger)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		defer nats.Close()
		sinks = append(sinks, nats)
	}
	var hub *api.Hub
	if cfg.Dashboard.Enabled {
		hub = api.NewHub(logger)
		sinks = append(sinks, api.NewNotificationSink(hub))
	}

	riskMgr := risk.NewManager(cfg.Risk, st, venue, sinks, clk, logger)
	exec := executor.New(cfg.Executor, venue, riskMgr, st, sinks, clk, logger)
	checker := scheduler.NewChecker(st, bars, venue, exec, sinks, clk, timeframe, logger)
	sched := scheduler.New(cfg.Scheduler, st, checker, clk, logger)
	opt := optimizer.New(cfg.Optimizer, st, bars, sinks, clk, logger)
	ctl := control.New(cfg.Scheduler, st, riskMgr, opt, sinks, clk, logger)

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, ctl, hub, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — orders fill against the paper venue")
	}
	logger.Info("trading control plane started",
		"tick_period", cfg.Scheduler.TickPeriod(),
		"workers", cfg.Scheduler.WorkerPoolSize,
		"timeframe", timeframe,
		"dry_run", cfg.DryRun,
	)

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-sched.Fatal():
		logger.Error("scheduler fatal", "error", err)
		exitCode = 1
	}
	stop()

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	// The scheduler drains in-flight checks for up to 30s after ctx is
	// cancelled; wait for it before the process exits.
	<-schedDone
	os.Exit(exitCode)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
