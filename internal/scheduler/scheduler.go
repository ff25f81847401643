package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autotrader/internal/clock"
	"autotrader/internal/config"
	"autotrader/internal/store"
	"autotrader/pkg/types"
)

// drainGrace bounds how long shutdown waits for in-flight checks.
const drainGrace = 30 * time.Second

// fatalFaults consecutive tick failures abort the process: the
// scheduler cannot see its strategies, so running blind is worse than
// crashing loudly.
const fatalFaults = 10

// Scheduler owns the tick loop. Due strategies are dispatched onto a
// bounded pool; an in-flight set guarantees a strategy is never
// checked concurrently with itself, and a slow check simply causes the
// strategy to miss ticks (cadence is a floor, not a deadline).
type Scheduler struct {
	cfg     config.SchedulerConfig
	store   store.StateStore
	checker *Checker
	clock   clock.Clock
	logger  *slog.Logger

	sem   chan struct{}
	fatal chan error
	grace time.Duration

	// checkCtx parents every check; cancelChecks fires when the drain
	// grace expires so stuck workers unwind instead of outliving Run.
	checkCtx     context.Context
	cancelChecks context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]bool
	faults   int

	wg sync.WaitGroup
}

// New creates a scheduler over the given checker.
func New(cfg config.SchedulerConfig, st store.StateStore, checker *Checker, clk clock.Clock, logger *slog.Logger) *Scheduler {
	workers := cfg.WorkerPoolSize
	if workers < 1 {
		workers = 1
	}
	checkCtx, cancelChecks := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:          cfg,
		store:        st,
		checker:      checker,
		clock:        clk,
		logger:       logger.With("component", "scheduler"),
		sem:          make(chan struct{}, workers),
		fatal:        make(chan error, 1),
		grace:        drainGrace,
		checkCtx:     checkCtx,
		cancelChecks: cancelChecks,
		inFlight:     make(map[string]bool),
	}
}

// Fatal reports unrecoverable scheduler failures. The process should
// exit non-zero when this fires.
func (s *Scheduler) Fatal() <-chan error {
	return s.fatal
}

// Run ticks until ctx is cancelled, then drains in-flight checks.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		"tick_period", s.cfg.TickPeriod(), "workers", cap(s.sem))

	ticker := time.NewTicker(s.cfg.TickPeriod())
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, draining in-flight checks")
			s.drain()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick finds due strategies and dispatches them. A full pool skips the
// strategy until a later tick rather than queueing stale work.
func (s *Scheduler) tick(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	active, err := s.store.ListLiveByStatus(sctx, types.StatusActive)
	cancel()
	if err != nil {
		s.recordTickFault(err)
		return
	}
	s.resetTickFaults()

	now := s.clock.Now().UTC()
	for _, ls := range active {
		if !ls.Due(now) {
			continue
		}
		s.dispatch(ls)
	}
}

// dispatch runs one check on the pool unless the strategy is already
// in flight or the pool is saturated.
func (s *Scheduler) dispatch(ls types.LiveStrategy) {
	s.mu.Lock()
	if s.inFlight[ls.ID] {
		s.mu.Unlock()
		return
	}
	select {
	case s.sem <- struct{}{}:
	default:
		s.mu.Unlock()
		s.logger.Warn("worker pool saturated, deferring strategy",
			"strategy_id", ls.ID)
		return
	}
	s.inFlight[ls.ID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, ls.ID)
			s.mu.Unlock()
			<-s.sem
			s.wg.Done()
		}()

		// Checks outlive a cancelled tick loop (shutdown drains them),
		// so the budget derives from the scheduler's own context,
		// capped at twice the tick period. drain cancels that context
		// when the grace expires.
		cctx, cancel := context.WithTimeout(s.checkCtx, 2*s.cfg.TickPeriod())
		defer cancel()

		if err := s.checker.Check(cctx, &ls); err != nil {
			s.logger.Warn("check failed", "strategy_id", ls.ID, "error", err)
		}
	}()
}

// drain waits for in-flight checks. When the grace period expires the
// remaining checks are cancelled, and drain still waits for the
// workers to observe the cancellation and finish their bookkeeping.
func (s *Scheduler) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("all checks drained")
	case <-time.After(s.grace):
		s.logger.Warn("drain grace expired, cancelling remaining checks")
		s.cancelChecks()
		<-done
	}
	s.cancelChecks()
}

func (s *Scheduler) recordTickFault(err error) {
	s.mu.Lock()
	s.faults++
	faults := s.faults
	s.mu.Unlock()

	s.logger.Error("tick failed", "consecutive", faults, "error", err)
	if faults >= fatalFaults {
		select {
		case s.fatal <- fmt.Errorf("%d consecutive tick failures, last: %w", faults, err):
		default:
		}
	}
}

func (s *Scheduler) resetTickFaults() {
	s.mu.Lock()
	s.faults = 0
	s.mu.Unlock()
}
