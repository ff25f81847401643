package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"autotrader/pkg/types"
)

// Memory is the in-process StateStore. Every read returns a copy so
// callers can't mutate shared state behind the lock.
type Memory struct {
	mu         sync.RWMutex
	strategies map[string]types.Strategy
	live       map[string]types.LiveStrategy
	signals    []types.Signal
	orders     []types.Order
	rules      map[string]types.RiskRule
	audit      []types.AuditEntry
	jobs       map[string]types.OptimizationJob
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		strategies: make(map[string]types.Strategy),
		live:       make(map[string]types.LiveStrategy),
		rules:      make(map[string]types.RiskRule),
		jobs:       make(map[string]types.OptimizationJob),
	}
}

// ————————————————————————————————————————————————————————————————————
// Strategy definitions
// ————————————————————————————————————————————————————————————————————

func (m *Memory) SaveStrategy(_ context.Context, s *types.Strategy) error {
	if s.ID == "" {
		return fmt.Errorf("save strategy: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.ID] = cloneStrategy(*s)
	return nil
}

func (m *Memory) GetStrategy(_ context.Context, id string) (*types.Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	s = cloneStrategy(s)
	return &s, nil
}

func (m *Memory) ListStrategies(_ context.Context, owner string) ([]types.Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		if owner == "" || s.Owner == owner {
			out = append(out, cloneStrategy(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ————————————————————————————————————————————————————————————————————
// Live deployments
// ————————————————————————————————————————————————————————————————————

func (m *Memory) SaveLiveStrategy(_ context.Context, ls *types.LiveStrategy) error {
	if ls.ID == "" {
		return fmt.Errorf("save live strategy: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[ls.ID] = cloneLive(*ls)
	return nil
}

func (m *Memory) GetLiveStrategy(_ context.Context, id string) (*types.LiveStrategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ls, ok := m.live[id]
	if !ok {
		return nil, fmt.Errorf("live strategy %s: %w", id, ErrNotFound)
	}
	ls = cloneLive(ls)
	return &ls, nil
}

func (m *Memory) ListLiveStrategies(_ context.Context, owner string) ([]types.LiveStrategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.LiveStrategy, 0, len(m.live))
	for _, ls := range m.live {
		if owner == "" || ls.Owner == owner {
			out = append(out, cloneLive(ls))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListLiveByStatus(_ context.Context, status types.StrategyStatus) ([]types.LiveStrategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.LiveStrategy
	for _, ls := range m.live {
		if ls.Status == status {
			out = append(out, cloneLive(ls))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ————————————————————————————————————————————————————————————————————
// Signals, orders, rules, audit
// ————————————————————————————————————————————————————————————————————

func (m *Memory) SaveSignal(_ context.Context, sig *types.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertSignalLocked(*sig)
	return nil
}

func (m *Memory) ListSignals(_ context.Context, liveStrategyID string, limit int) ([]types.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Signal
	for i := len(m.signals) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if liveStrategyID == "" || m.signals[i].LiveStrategyID == liveStrategyID {
			out = append(out, cloneSignal(m.signals[i]))
		}
	}
	return out, nil
}

func (m *Memory) SaveOrder(_ context.Context, o *types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertOrderLocked(*o)
	return nil
}

func (m *Memory) ListOrders(_ context.Context, liveStrategyID string, limit int) ([]types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Order
	for i := len(m.orders) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if liveStrategyID == "" || m.orders[i].LiveStrategyID == liveStrategyID {
			out = append(out, m.orders[i])
		}
	}
	return out, nil
}

func (m *Memory) SaveRiskRule(_ context.Context, r *types.RiskRule) error {
	if r.ID == "" {
		return fmt.Errorf("save risk rule: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = *r
	return nil
}

func (m *Memory) ListRiskRules(_ context.Context, owner string) ([]types.RiskRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.RiskRule
	for _, r := range m.rules {
		if owner == "" || r.Owner == owner {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AppendAudit(_ context.Context, e types.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, cloneAudit(e))
	return nil
}

func (m *Memory) ListAudit(_ context.Context, owner string, limit int) ([]types.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.AuditEntry
	for i := len(m.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if owner == "" || m.audit[i].Owner == owner {
			out = append(out, cloneAudit(m.audit[i]))
		}
	}
	return out, nil
}

// RecordExecution commits a signal, order, audit entries, and the
// updated strategy counters under one lock acquisition, which is the
// in-memory equivalent of a transaction.
func (m *Memory) RecordExecution(_ context.Context, ls *types.LiveStrategy, sig *types.Signal, o *types.Order, entries []types.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sig != nil {
		m.upsertSignalLocked(*sig)
	}
	if o != nil {
		m.upsertOrderLocked(*o)
	}
	for _, e := range entries {
		m.audit = append(m.audit, cloneAudit(e))
	}
	if ls != nil {
		m.live[ls.ID] = cloneLive(*ls)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————
// Optimization jobs
// ————————————————————————————————————————————————————————————————————

func (m *Memory) SaveOptimizationJob(_ context.Context, job *types.OptimizationJob) error {
	if job.ID == "" {
		return fmt.Errorf("save optimization job: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(*job)
	return nil
}

func (m *Memory) GetOptimizationJob(_ context.Context, id string) (*types.OptimizationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("optimization job %s: %w", id, ErrNotFound)
	}
	job = cloneJob(job)
	return &job, nil
}

func (m *Memory) ListOptimizationJobs(_ context.Context, owner string) ([]types.OptimizationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.OptimizationJob
	for _, job := range m.jobs {
		if owner == "" || job.Owner == owner {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ————————————————————————————————————————————————————————————————————
// Internals
// ————————————————————————————————————————————————————————————————————

func (m *Memory) upsertSignalLocked(sig types.Signal) {
	for i := range m.signals {
		if m.signals[i].ID == sig.ID {
			m.signals[i] = cloneSignal(sig)
			return
		}
	}
	m.signals = append(m.signals, cloneSignal(sig))
}

func (m *Memory) upsertOrderLocked(o types.Order) {
	for i := range m.orders {
		if m.orders[i].ID == o.ID {
			m.orders[i] = o
			return
		}
	}
	m.orders = append(m.orders, o)
}

func cloneStrategy(s types.Strategy) types.Strategy {
	s.Parameters = cloneParams(s.Parameters)
	s.Symbols = append([]string(nil), s.Symbols...)
	return s
}

func cloneLive(ls types.LiveStrategy) types.LiveStrategy {
	ls.Symbols = append([]string(nil), ls.Symbols...)
	if ls.State != nil {
		state := make(map[string]float64, len(ls.State))
		for k, v := range ls.State {
			state[k] = v
		}
		ls.State = state
	}
	return ls
}

func cloneSignal(sig types.Signal) types.Signal {
	if sig.Indicators != nil {
		ind := make(map[string]float64, len(sig.Indicators))
		for k, v := range sig.Indicators {
			ind[k] = v
		}
		sig.Indicators = ind
	}
	return sig
}

func cloneAudit(e types.AuditEntry) types.AuditEntry {
	if e.Details != nil {
		details := make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		e.Details = details
	}
	return e
}

func cloneJob(job types.OptimizationJob) types.OptimizationJob {
	job.Symbols = append([]string(nil), job.Symbols...)
	job.StrategyIDs = append([]string(nil), job.StrategyIDs...)
	results := make([]types.OptimizationResult, len(job.Results))
	for i, r := range job.Results {
		r.Parameters = cloneParams(r.Parameters)
		results[i] = r
	}
	job.Results = results
	return job
}

func cloneParams(p types.Params) types.Params {
	if p == nil {
		return nil
	}
	out := make(types.Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

var _ StateStore = (*Memory)(nil)
