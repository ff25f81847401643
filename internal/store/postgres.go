package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"autotrader/pkg/types"
)

// Postgres is the production StateStore, backed by a pgx pool. Flexible
// fields (parameters, indicator snapshots, audit details, results) are
// stored as JSONB; everything queried on gets a real column.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS strategies (
	id          TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	name        TEXT NOT NULL,
	type        TEXT NOT NULL,
	parameters  JSONB NOT NULL DEFAULT '{}',
	symbols     TEXT[] NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS live_strategies (
	id          TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	strategy_id TEXT NOT NULL,
	doc         JSONB NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS live_strategies_status_idx ON live_strategies (status);
CREATE INDEX IF NOT EXISTS live_strategies_owner_idx ON live_strategies (owner);
CREATE TABLE IF NOT EXISTS signals (
	id               TEXT PRIMARY KEY,
	live_strategy_id TEXT NOT NULL,
	ts               TIMESTAMPTZ NOT NULL,
	doc              JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS signals_strategy_idx ON signals (live_strategy_id, ts DESC);
CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	live_strategy_id TEXT NOT NULL,
	submitted_at     TIMESTAMPTZ NOT NULL,
	doc              JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_strategy_idx ON orders (live_strategy_id, submitted_at DESC);
CREATE TABLE IF NOT EXISTS risk_rules (
	id    TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	doc   JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_log (
	seq   BIGSERIAL PRIMARY KEY,
	id    TEXT NOT NULL,
	owner TEXT NOT NULL,
	ts    TIMESTAMPTZ NOT NULL,
	doc   JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_owner_idx ON audit_log (owner, seq DESC);
CREATE TABLE IF NOT EXISTS optimization_jobs (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	doc        JSONB NOT NULL
);`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————
// Strategy definitions
// ————————————————————————————————————————————————————————————————————

func (p *Postgres) SaveStrategy(ctx context.Context, s *types.Strategy) error {
	params, err := json.Marshal(s.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO strategies (id, owner, name, type, parameters, symbols, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type,
			parameters = EXCLUDED.parameters, symbols = EXCLUDED.symbols`,
		s.ID, s.Owner, s.Name, string(s.Type), params, s.Symbols, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("save strategy: %w", err)
	}
	return nil
}

func (p *Postgres) GetStrategy(ctx context.Context, id string) (*types.Strategy, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, owner, name, type, parameters, symbols, created_at
		FROM strategies WHERE id = $1`, id)
	var s types.Strategy
	var typ string
	var params []byte
	err := row.Scan(&s.ID, &s.Owner, &s.Name, &typ, &params, &s.Symbols, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy: %w", err)
	}
	s.Type = types.StrategyType(typ)
	if err := json.Unmarshal(params, &s.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	return &s, nil
}

func (p *Postgres) ListStrategies(ctx context.Context, owner string) ([]types.Strategy, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, owner, name, type, parameters, symbols, created_at
		FROM strategies WHERE ($1 = '' OR owner = $1) ORDER BY created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	var out []types.Strategy
	for rows.Next() {
		var s types.Strategy
		var typ string
		var params []byte
		if err := rows.Scan(&s.ID, &s.Owner, &s.Name, &typ, &params, &s.Symbols, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		s.Type = types.StrategyType(typ)
		if err := json.Unmarshal(params, &s.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————
// Live deployments
// ————————————————————————————————————————————————————————————————————

func (p *Postgres) SaveLiveStrategy(ctx context.Context, ls *types.LiveStrategy) error {
	return saveLiveStrategyTx(ctx, p.pool, ls)
}

func (p *Postgres) GetLiveStrategy(ctx context.Context, id string) (*types.LiveStrategy, error) {
	row := p.pool.QueryRow(ctx, `SELECT doc FROM live_strategies WHERE id = $1`, id)
	var doc []byte
	err := row.Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("live strategy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get live strategy: %w", err)
	}
	var ls types.LiveStrategy
	if err := json.Unmarshal(doc, &ls); err != nil {
		return nil, fmt.Errorf("unmarshal live strategy: %w", err)
	}
	return &ls, nil
}

func (p *Postgres) ListLiveStrategies(ctx context.Context, owner string) ([]types.LiveStrategy, error) {
	return p.queryLive(ctx, `
		SELECT doc FROM live_strategies WHERE ($1 = '' OR owner = $1) ORDER BY created_at`, owner)
}

func (p *Postgres) ListLiveByStatus(ctx context.Context, status types.StrategyStatus) ([]types.LiveStrategy, error) {
	return p.queryLive(ctx, `
		SELECT doc FROM live_strategies WHERE status = $1 ORDER BY created_at`, string(status))
}

func (p *Postgres) queryLive(ctx context.Context, sql string, arg any) ([]types.LiveStrategy, error) {
	rows, err := p.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("list live strategies: %w", err)
	}
	defer rows.Close()

	var out []types.LiveStrategy
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan live strategy: %w", err)
		}
		var ls types.LiveStrategy
		if err := json.Unmarshal(doc, &ls); err != nil {
			return nil, fmt.Errorf("unmarshal live strategy: %w", err)
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————
// Signals, orders, rules, audit
// ————————————————————————————————————————————————————————————————————

func (p *Postgres) SaveSignal(ctx context.Context, sig *types.Signal) error {
	return saveSignalTx(ctx, p.pool, sig)
}

func (p *Postgres) ListSignals(ctx context.Context, liveStrategyID string, limit int) ([]types.Signal, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT doc FROM signals
		WHERE ($1 = '' OR live_strategy_id = $1)
		ORDER BY ts DESC
		LIMIT CASE WHEN $2 <= 0 THEN NULL ELSE $2 END`, liveStrategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []types.Signal
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		var sig types.Signal
		if err := json.Unmarshal(doc, &sig); err != nil {
			return nil, fmt.Errorf("unmarshal signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveOrder(ctx context.Context, o *types.Order) error {
	return saveOrderTx(ctx, p.pool, o)
}

func (p *Postgres) ListOrders(ctx context.Context, liveStrategyID string, limit int) ([]types.Order, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT doc FROM orders
		WHERE ($1 = '' OR live_strategy_id = $1)
		ORDER BY submitted_at DESC
		LIMIT CASE WHEN $2 <= 0 THEN NULL ELSE $2 END`, liveStrategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		var o types.Order
		if err := json.Unmarshal(doc, &o); err != nil {
			return nil, fmt.Errorf("unmarshal order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveRiskRule(ctx context.Context, r *types.RiskRule) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal risk rule: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO risk_rules (id, owner, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, r.ID, r.Owner, doc)
	if err != nil {
		return fmt.Errorf("save risk rule: %w", err)
	}
	return nil
}

func (p *Postgres) ListRiskRules(ctx context.Context, owner string) ([]types.RiskRule, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT doc FROM risk_rules WHERE ($1 = '' OR owner = $1) ORDER BY id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list risk rules: %w", err)
	}
	defer rows.Close()

	var out []types.RiskRule
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan risk rule: %w", err)
		}
		var r types.RiskRule
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("unmarshal risk rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendAudit(ctx context.Context, e types.AuditEntry) error {
	return appendAuditTx(ctx, p.pool, e)
}

func (p *Postgres) ListAudit(ctx context.Context, owner string, limit int) ([]types.AuditEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT doc FROM audit_log
		WHERE ($1 = '' OR owner = $1)
		ORDER BY seq DESC
		LIMIT CASE WHEN $2 <= 0 THEN NULL ELSE $2 END`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []types.AuditEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		var e types.AuditEntry
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, fmt.Errorf("unmarshal audit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordExecution lands the signal, order, audit entries, and strategy
// counters in one transaction so a crash can't leave an executed order
// without its audit trail.
func (p *Postgres) RecordExecution(ctx context.Context, ls *types.LiveStrategy, sig *types.Signal, o *types.Order, entries []types.AuditEntry) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if sig != nil {
		if err := saveSignalTx(ctx, tx, sig); err != nil {
			return err
		}
	}
	if o != nil {
		if err := saveOrderTx(ctx, tx, o); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := appendAuditTx(ctx, tx, e); err != nil {
			return err
		}
	}
	if ls != nil {
		if err := saveLiveStrategyTx(ctx, tx, ls); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit execution record: %w", err)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————
// Optimization jobs
// ————————————————————————————————————————————————————————————————————

func (p *Postgres) SaveOptimizationJob(ctx context.Context, job *types.OptimizationJob) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal optimization job: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO optimization_jobs (id, owner, created_at, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		job.ID, job.Owner, job.CreatedAt, doc)
	if err != nil {
		return fmt.Errorf("save optimization job: %w", err)
	}
	return nil
}

func (p *Postgres) GetOptimizationJob(ctx context.Context, id string) (*types.OptimizationJob, error) {
	row := p.pool.QueryRow(ctx, `SELECT doc FROM optimization_jobs WHERE id = $1`, id)
	var doc []byte
	err := row.Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("optimization job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get optimization job: %w", err)
	}
	var job types.OptimizationJob
	if err := json.Unmarshal(doc, &job); err != nil {
		return nil, fmt.Errorf("unmarshal optimization job: %w", err)
	}
	return &job, nil
}

func (p *Postgres) ListOptimizationJobs(ctx context.Context, owner string) ([]types.OptimizationJob, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT doc FROM optimization_jobs WHERE ($1 = '' OR owner = $1) ORDER BY created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("list optimization jobs: %w", err)
	}
	defer rows.Close()

	var out []types.OptimizationJob
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan optimization job: %w", err)
		}
		var job types.OptimizationJob
		if err := json.Unmarshal(doc, &job); err != nil {
			return nil, fmt.Errorf("unmarshal optimization job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————
// Shared writers, usable on the pool or inside a transaction
// ————————————————————————————————————————————————————————————————————

// dbExec covers *pgxpool.Pool and pgx.Tx.
type dbExec interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func saveLiveStrategyTx(ctx context.Context, db dbExec, ls *types.LiveStrategy) error {
	doc, err := json.Marshal(ls)
	if err != nil {
		return fmt.Errorf("marshal live strategy: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO live_strategies (id, owner, strategy_id, doc, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, status = EXCLUDED.status`,
		ls.ID, ls.Owner, ls.StrategyID, doc, string(ls.Status), ls.CreatedAt)
	if err != nil {
		return fmt.Errorf("save live strategy: %w", err)
	}
	return nil
}

func saveSignalTx(ctx context.Context, db dbExec, sig *types.Signal) error {
	doc, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO signals (id, live_strategy_id, ts, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		sig.ID, sig.LiveStrategyID, sig.Timestamp, doc)
	if err != nil {
		return fmt.Errorf("save signal: %w", err)
	}
	return nil
}

func saveOrderTx(ctx context.Context, db dbExec, o *types.Order) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO orders (id, live_strategy_id, submitted_at, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		o.ID, o.LiveStrategyID, o.SubmittedAt, doc)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func appendAuditTx(ctx context.Context, db dbExec, e types.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO audit_log (id, owner, ts, doc) VALUES ($1, $2, $3, $4)`,
		e.ID, e.Owner, e.Timestamp, doc)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

var _ StateStore = (*Postgres)(nil)
