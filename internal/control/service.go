// Package control is the operator-facing surface of the trading core:
// quick-deploys, lifecycle transitions, the dashboard view, and the
// optimization workflow. Validation happens here so bad input never
// reaches the scheduler. The HTTP layer is a thin shell over this
// service.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"autotrader/internal/clock"
	"autotrader/internal/config"
	"autotrader/internal/notify"
	"autotrader/internal/optimizer"
	"autotrader/internal/risk"
	"autotrader/internal/store"
	"autotrader/pkg/types"
)

const storeTimeout = 5 * time.Second

// Defaults applied by the quick-deploy path when the request leaves a
// field unset.
const (
	DefaultCheckInterval   = 300 * time.Second
	DefaultMaxPositions    = 5
	DefaultPositionSizePct = 0.02
)

var (
	// ErrForbidden marks access to another owner's records.
	ErrForbidden = errors.New("record belongs to another owner")
	// ErrInvalidTransition marks a lifecycle change the current status
	// does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Service implements the control surface.
type Service struct {
	cfg       config.SchedulerConfig
	store     store.StateStore
	risk      *risk.Manager
	optimizer *optimizer.Optimizer
	notify    notify.Sink
	clock     clock.Clock
	logger    *slog.Logger
}

// New creates the control service.
func New(cfg config.SchedulerConfig, st store.StateStore, rm *risk.Manager, opt *optimizer.Optimizer, sink notify.Sink, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		store:     st,
		risk:      rm,
		optimizer: opt,
		notify:    sink,
		clock:     clk,
		logger:    logger.With("component", "control"),
	}
}

// QuickDeployRequest creates an ACTIVE LiveStrategy from an existing
// strategy definition. Zero-valued fields take the documented defaults;
// AutoExecute defaults to on, so it is a pointer.
type QuickDeployRequest struct {
	StrategyID      string        `json:"strategy_id"`
	Symbols         []string      `json:"symbols,omitempty"` // default: the definition's symbols
	Name            string        `json:"name,omitempty"`
	CheckInterval   time.Duration `json:"check_interval,omitempty"`
	AutoExecute     *bool         `json:"auto_execute,omitempty"`
	MaxPositions    int           `json:"max_positions,omitempty"`
	PositionSizePct float64       `json:"position_size_pct,omitempty"`
	MaxPositionSize float64       `json:"max_position_size,omitempty"`
	DailyLossLimit  float64       `json:"daily_loss_limit,omitempty"`
}

// QuickDeploy creates and persists an ACTIVE LiveStrategy. The
// scheduler picks it up on its next tick; no restart or registration
// step exists.
func (s *Service) QuickDeploy(ctx context.Context, owner string, req QuickDeployRequest) (*types.LiveStrategy, error) {
	def, err := s.ownedStrategy(ctx, owner, req.StrategyID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	ls := &types.LiveStrategy{
		ID:              uuid.NewString(),
		Owner:           owner,
		StrategyID:      def.ID,
		Name:            req.Name,
		Symbols:         req.Symbols,
		Status:          types.StatusActive,
		CheckInterval:   req.CheckInterval,
		AutoExecute:     true,
		MaxPositions:    req.MaxPositions,
		PositionSizePct: req.PositionSizePct,
		MaxPositionSize: req.MaxPositionSize,
		DailyLossLimit:  req.DailyLossLimit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if ls.Name == "" {
		ls.Name = def.Name
	}
	if len(ls.Symbols) == 0 {
		ls.Symbols = def.Symbols
	}
	if ls.CheckInterval == 0 {
		ls.CheckInterval = DefaultCheckInterval
	}
	if req.AutoExecute != nil {
		ls.AutoExecute = *req.AutoExecute
	}
	if ls.MaxPositions == 0 {
		ls.MaxPositions = DefaultMaxPositions
	}
	if ls.PositionSizePct == 0 {
		ls.PositionSizePct = DefaultPositionSizePct
	}

	if err := ls.Validate(s.cfg.MinCheckInterval()); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := s.store.SaveLiveStrategy(sctx, ls); err != nil {
		return nil, fmt.Errorf("save live strategy: %w", err)
	}
	if err := s.store.AppendAudit(sctx, types.AuditEntry{
		ID:         uuid.NewString(),
		Timestamp:  now,
		Owner:      owner,
		Event:      types.AuditDeploy,
		StrategyID: ls.ID,
		Details: map[string]any{
			"strategy_id":    def.ID,
			"strategy_type":  string(def.Type),
			"symbols":        ls.Symbols,
			"check_interval": ls.CheckInterval.String(),
		},
	}); err != nil {
		s.logger.Warn("audit deploy", "live_strategy_id", ls.ID, "error", err)
	}
	s.logger.Info("strategy deployed",
		"live_strategy_id", ls.ID, "owner", owner, "type", def.Type, "symbols", ls.Symbols)
	return ls, nil
}

// ————————————————————————————————————————————————————————————————————————
// Lifecycle
// ————————————————————————————————————————————————————————————————————————

// StartStrategy moves a PENDING, PAUSED, or ERROR strategy to ACTIVE.
// Starting an ACTIVE strategy is a no-op. A start out of ERROR clears
// the failure counters.
func (s *Service) StartStrategy(ctx context.Context, owner, id string) (*types.LiveStrategy, error) {
	return s.transition(ctx, owner, id, types.StatusActive, func(ls *types.LiveStrategy) error {
		switch ls.Status {
		case types.StatusActive:
			return nil
		case types.StatusPending, types.StatusPaused:
			return nil
		case types.StatusError:
			ls.ErrorCount = 0
			ls.LastError = ""
			return nil
		default:
			return fmt.Errorf("%w: cannot start a %s strategy", ErrInvalidTransition, ls.Status)
		}
	})
}

// PauseStrategy moves an ACTIVE strategy to PAUSED. Pausing a PAUSED
// strategy is a no-op.
func (s *Service) PauseStrategy(ctx context.Context, owner, id string) (*types.LiveStrategy, error) {
	return s.transition(ctx, owner, id, types.StatusPaused, func(ls *types.LiveStrategy) error {
		switch ls.Status {
		case types.StatusActive, types.StatusPaused:
			return nil
		default:
			return fmt.Errorf("%w: cannot pause a %s strategy", ErrInvalidTransition, ls.Status)
		}
	})
}

// StopStrategy moves any strategy to STOPPED. Stop is terminal and
// always permitted.
func (s *Service) StopStrategy(ctx context.Context, owner, id string) (*types.LiveStrategy, error) {
	return s.transition(ctx, owner, id, types.StatusStopped, func(*types.LiveStrategy) error {
		return nil
	})
}

func (s *Service) transition(ctx context.Context, owner, id string, to types.StrategyStatus, permit func(*types.LiveStrategy) error) (*types.LiveStrategy, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	ls, err := s.store.GetLiveStrategy(sctx, id)
	if err != nil {
		return nil, err
	}
	if ls.Owner != owner {
		return nil, ErrForbidden
	}
	if err := permit(ls); err != nil {
		return nil, err
	}
	if ls.Status == to {
		return ls, nil
	}

	from := ls.Status
	now := s.clock.Now().UTC()
	ls.Status = to
	ls.UpdatedAt = now
	if err := s.store.SaveLiveStrategy(sctx, ls); err != nil {
		return nil, fmt.Errorf("save status: %w", err)
	}
	if err := s.store.AppendAudit(sctx, types.AuditEntry{
		ID:         uuid.NewString(),
		Timestamp:  now,
		Owner:      owner,
		Event:      types.AuditStatus,
		StrategyID: ls.ID,
		Details:    map[string]any{"from": string(from), "to": string(to)},
	}); err != nil {
		s.logger.Warn("audit status change", "live_strategy_id", ls.ID, "error", err)
	}
	s.logger.Info("strategy status changed",
		"live_strategy_id", ls.ID, "from", from, "to", to)
	return ls, nil
}

// ————————————————————————————————————————————————————————————————————————
// Read side
// ————————————————————————————————————————————————————————————————————————

// ListActiveStrategies returns the owner's ACTIVE deployments.
func (s *Service) ListActiveStrategies(ctx context.Context, owner string) ([]types.LiveStrategy, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	all, err := s.store.ListLiveStrategies(sctx, owner)
	if err != nil {
		return nil, err
	}
	active := all[:0:0]
	for _, ls := range all {
		if ls.Status == types.StatusActive {
			active = append(active, ls)
		}
	}
	return active, nil
}

// Dashboard is the aggregated operator view for one owner.
type Dashboard struct {
	Owner         string               `json:"owner"`
	GeneratedAt   time.Time            `json:"generated_at"`
	Strategies    []types.LiveStrategy `json:"strategies"`
	PortfolioRisk types.PortfolioRisk  `json:"portfolio_risk"`
	RecentSignals []types.Signal       `json:"recent_signals"`
	RecentOrders  []types.Order        `json:"recent_orders"`
	RecentAudit   []types.AuditEntry   `json:"recent_audit"`
}

// recentLimit caps per-strategy history pulled into the dashboard.
const recentLimit = 10

// GetDashboard aggregates the owner's deployments, portfolio risk, and
// recent activity. Risk metrics degrade to a zero view with Error set
// when the broker is unreachable; the rest of the dashboard still loads.
func (s *Service) GetDashboard(ctx context.Context, owner string) (*Dashboard, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	strategies, err := s.store.ListLiveStrategies(sctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}

	d := &Dashboard{
		Owner:       owner,
		GeneratedAt: s.clock.Now().UTC(),
		Strategies:  strategies,
	}
	d.PortfolioRisk = s.risk.PortfolioRisk(ctx)

	for _, ls := range strategies {
		sigs, err := s.store.ListSignals(sctx, ls.ID, recentLimit)
		if err != nil {
			s.logger.Warn("dashboard signals", "live_strategy_id", ls.ID, "error", err)
			continue
		}
		d.RecentSignals = append(d.RecentSignals, sigs...)
		orders, err := s.store.ListOrders(sctx, ls.ID, recentLimit)
		if err != nil {
			s.logger.Warn("dashboard orders", "live_strategy_id", ls.ID, "error", err)
			continue
		}
		d.RecentOrders = append(d.RecentOrders, orders...)
	}

	audit, err := s.store.ListAudit(sctx, owner, recentLimit*2)
	if err != nil {
		s.logger.Warn("dashboard audit", "owner", owner, "error", err)
	} else {
		d.RecentAudit = audit
	}
	return d, nil
}

// ————————————————————————————————————————————————————————————————————————
// Optimization workflow
// ————————————————————————————————————————————————————————————————————————

// OptimizationRequest starts a backtest sweep.
type OptimizationRequest struct {
	Symbols        []string  `json:"symbols"`
	Start          time.Time `json:"start_date"`
	End            time.Time `json:"end_date"`
	InitialCapital float64   `json:"initial_capital"`
	StrategyIDs    []string  `json:"strategy_ids,omitempty"` // default: every strategy the owner has
}

// RunOptimization validates the request, persists a PENDING job, and
// runs the sweep on a background goroutine. Callers poll the job by ID.
func (s *Service) RunOptimization(ctx context.Context, owner string, req OptimizationRequest) (*types.OptimizationJob, error) {
	if len(req.Symbols) == 0 {
		return nil, fmt.Errorf("symbols list is empty")
	}
	if !req.End.After(req.Start) {
		return nil, fmt.Errorf("end_date %s not after start_date %s",
			req.End.Format(time.RFC3339), req.Start.Format(time.RFC3339))
	}
	if req.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial_capital must be positive")
	}
	for _, id := range req.StrategyIDs {
		if _, err := s.ownedStrategy(ctx, owner, id); err != nil {
			return nil, err
		}
	}

	job := &types.OptimizationJob{
		ID:             uuid.NewString(),
		Owner:          owner,
		Symbols:        req.Symbols,
		StrategyIDs:    req.StrategyIDs,
		Start:          req.Start,
		End:            req.End,
		InitialCapital: req.InitialCapital,
		Status:         types.JobPending,
		CreatedAt:      s.clock.Now().UTC(),
	}
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := s.store.SaveOptimizationJob(sctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	// The sweep outlives the request.
	run := *job
	go func() {
		if err := s.optimizer.Run(context.Background(), &run); err != nil {
			s.logger.Error("optimization run failed", "job_id", run.ID, "error", err)
		}
	}()

	s.logger.Info("optimization started",
		"job_id", job.ID, "owner", owner, "symbols", job.Symbols)
	return job, nil
}

// GetOptimizationJob returns the current job record.
func (s *Service) GetOptimizationJob(ctx context.Context, owner, id string) (*types.OptimizationJob, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	job, err := s.store.GetOptimizationJob(sctx, id)
	if err != nil {
		return nil, err
	}
	if job.Owner != owner {
		return nil, ErrForbidden
	}
	return job, nil
}

// ExecuteOptimal quick-deploys the top-N ranked winners of a completed
// job with the standard deploy defaults. Errored results don't count
// against N.
func (s *Service) ExecuteOptimal(ctx context.Context, owner, jobID string, topN int) ([]types.LiveStrategy, error) {
	if topN <= 0 {
		return nil, fmt.Errorf("top_n must be positive")
	}
	job, err := s.GetOptimizationJob(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobCompleted {
		return nil, fmt.Errorf("job %s is %s, not COMPLETED", job.ID, job.Status)
	}

	var deployed []types.LiveStrategy
	for _, res := range job.Results {
		if len(deployed) >= topN {
			break
		}
		if res.Error != "" {
			continue
		}
		ls, err := s.QuickDeploy(ctx, owner, QuickDeployRequest{
			StrategyID: res.StrategyID,
			Symbols:    []string{res.Symbol},
			Name:       fmt.Sprintf("%s on %s (optimized)", res.Type, res.Symbol),
		})
		if err != nil {
			return deployed, fmt.Errorf("deploy rank %d (%s on %s): %w", res.Rank, res.StrategyID, res.Symbol, err)
		}
		deployed = append(deployed, *ls)
	}
	if len(deployed) == 0 {
		return nil, fmt.Errorf("job %s has no deployable results", job.ID)
	}
	return deployed, nil
}

func (s *Service) ownedStrategy(ctx context.Context, owner, id string) (*types.Strategy, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	def, err := s.store.GetStrategy(sctx, id)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", id, err)
	}
	if def.Owner != owner {
		return nil, ErrForbidden
	}
	if !def.Type.Valid() {
		return nil, fmt.Errorf("strategy %s: unknown type %q", id, def.Type)
	}
	return def, nil
}
