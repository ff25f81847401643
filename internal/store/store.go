// Package store persists control-plane state: strategy definitions,
// live deployments, signals, orders, risk rules, the audit log, and
// optimization jobs. Memory backs tests and local dry runs; Postgres
// backs production. Market data is never stored here.
package store

import (
	"context"
	"errors"

	"autotrader/pkg/types"
)

// ErrNotFound is returned for lookups of records that do not exist.
var ErrNotFound = errors.New("not found")

// StateStore is the persistence surface. Writers pass fully-formed
// records; Save methods upsert by ID. All calls honour the context
// deadline (callers budget 5s).
type StateStore interface {
	// Strategy definitions.
	SaveStrategy(ctx context.Context, s *types.Strategy) error
	GetStrategy(ctx context.Context, id string) (*types.Strategy, error)
	ListStrategies(ctx context.Context, owner string) ([]types.Strategy, error)

	// Live deployments. An empty owner lists every tenant's.
	SaveLiveStrategy(ctx context.Context, ls *types.LiveStrategy) error
	GetLiveStrategy(ctx context.Context, id string) (*types.LiveStrategy, error)
	ListLiveStrategies(ctx context.Context, owner string) ([]types.LiveStrategy, error)
	ListLiveByStatus(ctx context.Context, status types.StrategyStatus) ([]types.LiveStrategy, error)

	// Signal and order history, newest first.
	SaveSignal(ctx context.Context, sig *types.Signal) error
	ListSignals(ctx context.Context, liveStrategyID string, limit int) ([]types.Signal, error)
	SaveOrder(ctx context.Context, o *types.Order) error
	ListOrders(ctx context.Context, liveStrategyID string, limit int) ([]types.Order, error)

	// Risk rules.
	SaveRiskRule(ctx context.Context, r *types.RiskRule) error
	ListRiskRules(ctx context.Context, owner string) ([]types.RiskRule, error)

	// Append-only audit log, newest first on read.
	AppendAudit(ctx context.Context, e types.AuditEntry) error
	ListAudit(ctx context.Context, owner string, limit int) ([]types.AuditEntry, error)

	// RecordExecution commits one executed signal atomically: the
	// signal, its order, the audit entries (in the given order), and
	// the live strategy's updated counters. Either all land or none.
	RecordExecution(ctx context.Context, ls *types.LiveStrategy, sig *types.Signal, o *types.Order, entries []types.AuditEntry) error

	// Optimization jobs, with embedded results.
	SaveOptimizationJob(ctx context.Context, job *types.OptimizationJob) error
	GetOptimizationJob(ctx context.Context, id string) (*types.OptimizationJob, error)
	ListOptimizationJobs(ctx context.Context, owner string) ([]types.OptimizationJob, error)
}
