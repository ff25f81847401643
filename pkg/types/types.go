// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the control plane — strategy
// and signal enums, OHLCV bars, live strategy instances, risk rules,
// orders, audit entries, and optimisation jobs. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// SignalType is the outcome of one strategy evaluation for one symbol.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// Side represents the direction of an order as the broker sees it.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType enumerates supported order types. The executor only emits
// market orders; limit support exists for the broker contract.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// StrategyType identifies which signal function a strategy uses.
// The set is closed: adding a type means adding an indicator bundle and
// a signal function to the generator's dispatch table.
type StrategyType string

const (
	StrategySMACrossover    StrategyType = "SMA_CROSSOVER"
	StrategyRSI             StrategyType = "RSI"
	StrategyMACD            StrategyType = "MACD"
	StrategyBollingerBands  StrategyType = "BOLLINGER_BANDS"
	StrategyMeanReversion   StrategyType = "MEAN_REVERSION"
	StrategyVWAP            StrategyType = "VWAP"
	StrategyMomentum        StrategyType = "MOMENTUM"
	StrategyBreakout        StrategyType = "BREAKOUT"
	StrategyPairsTrading    StrategyType = "PAIRS_TRADING"
	StrategyStochastic      StrategyType = "STOCHASTIC"
	StrategyKeltnerChannel  StrategyType = "KELTNER_CHANNEL"
	StrategyATRTrailingStop StrategyType = "ATR_TRAILING_STOP"
	StrategyDonchianChannel StrategyType = "DONCHIAN_CHANNEL"
	StrategyIchimokuCloud   StrategyType = "ICHIMOKU_CLOUD"
)

// AllStrategyTypes lists every supported strategy type in a stable order.
var AllStrategyTypes = []StrategyType{
	StrategySMACrossover,
	StrategyRSI,
	StrategyMACD,
	StrategyBollingerBands,
	StrategyMeanReversion,
	StrategyVWAP,
	StrategyMomentum,
	StrategyBreakout,
	StrategyPairsTrading,
	StrategyStochastic,
	StrategyKeltnerChannel,
	StrategyATRTrailingStop,
	StrategyDonchianChannel,
	StrategyIchimokuCloud,
}

// Valid reports whether t is a known strategy type.
func (t StrategyType) Valid() bool {
	for _, known := range AllStrategyTypes {
		if t == known {
			return true
		}
	}
	return false
}

// StrategyStatus is the lifecycle state of a LiveStrategy.
type StrategyStatus string

const (
	StatusPending StrategyStatus = "PENDING"
	StatusActive  StrategyStatus = "ACTIVE"
	StatusPaused  StrategyStatus = "PAUSED"
	StatusStopped StrategyStatus = "STOPPED"
	StatusError   StrategyStatus = "ERROR"
)

// RuleType enumerates pre-trade risk checks.
type RuleType string

const (
	RuleMaxPositionSize RuleType = "MAX_POSITION_SIZE"
	RuleMaxDailyLoss    RuleType = "MAX_DAILY_LOSS"
	RuleMaxDrawdown     RuleType = "MAX_DRAWDOWN"
	RulePositionLimit   RuleType = "POSITION_LIMIT"
	RuleMaxLeverage     RuleType = "MAX_LEVERAGE"
)

// RuleAction is what the risk manager does when a rule breaches.
type RuleAction string

const (
	ActionAlert         RuleAction = "ALERT"
	ActionBlock         RuleAction = "BLOCK"
	ActionReduceSize    RuleAction = "REDUCE_SIZE"
	ActionClosePosition RuleAction = "CLOSE_POSITION"
	ActionCloseAll      RuleAction = "CLOSE_ALL"
)

// Severity orders actions so the strongest breached action wins:
// CLOSE_ALL > CLOSE_POSITION > BLOCK > REDUCE_SIZE > ALERT.
func (a RuleAction) Severity() int {
	switch a {
	case ActionCloseAll:
		return 5
	case ActionClosePosition:
		return 4
	case ActionBlock:
		return 3
	case ActionReduceSize:
		return 2
	case ActionAlert:
		return 1
	default:
		return 0
	}
}

// Blocking reports whether the action prevents the order from going out
// at its proposed size.
func (a RuleAction) Blocking() bool {
	return a.Severity() >= ActionBlock.Severity()
}

// Priority classifies notifications for the delivery sink.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// AuditEvent tags entries in the trade audit log.
type AuditEvent string

const (
	AuditSignal AuditEvent = "signal"
	AuditOrder  AuditEvent = "order"
	AuditFill   AuditEvent = "fill"
	AuditError  AuditEvent = "error"
	AuditDeploy AuditEvent = "deploy"
	AuditStatus AuditEvent = "status_change"
)

// JobStatus is the lifecycle state of an optimisation job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Timeframe is a bar interval token understood by the market data source.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1Min"
	Timeframe5Min  Timeframe = "5Min"
	Timeframe15Min Timeframe = "15Min"
	Timeframe1Hour Timeframe = "1Hour"
	Timeframe1Day  Timeframe = "1Day"
)

// Duration returns the wall-clock span of one bar.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1Min:
		return time.Minute
	case Timeframe5Min:
		return 5 * time.Minute
	case Timeframe15Min:
		return 15 * time.Minute
	case Timeframe1Hour:
		return time.Hour
	case Timeframe1Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Valid reports whether tf is a recognised timeframe token.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1Min, Timeframe5Min, Timeframe15Min, Timeframe1Hour, Timeframe1Day:
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Bar is one OHLCV observation. Bars in a series are strictly ascending
// by Timestamp with no gaps inside a trading session.
type Bar struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

// ————————————————————————————————————————————————————————————————————————
// Strategy parameters
// ————————————————————————————————————————————————————————————————————————

// Params is the opaque key→scalar parameter map of a strategy. Values
// decoded from JSON or YAML arrive as float64, bool, or string; the
// accessor methods normalise the common cases.
type Params map[string]any

// Float returns the parameter as float64, or def if absent or not numeric.
func (p Params) Float(key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

// Int returns the parameter as int, or def if absent or not numeric.
func (p Params) Int(key string, def int) int {
	return int(p.Float(key, float64(def)))
}

// Bool returns the parameter as bool. Numeric values are treated as
// true when non-zero, matching how JSON round-trips flags.
func (p Params) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	}
	return def
}

// String returns the parameter as string, or def if absent.
func (p Params) String(key string, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// ————————————————————————————————————————————————————————————————————————
// Entities
// ————————————————————————————————————————————————————————————————————————

// Strategy is the user-authored template: a named indicator configuration.
// Immutable in spirit — LiveStrategies reference it, never mutate it.
type Strategy struct {
	ID         string       `json:"id"`
	Owner      string       `json:"owner"`
	Name       string       `json:"name"`
	Type       StrategyType `json:"strategy_type"`
	Parameters Params       `json:"parameters"`
	Symbols    []string     `json:"symbols"`
	CreatedAt  time.Time    `json:"created_at"`
}

// LiveStrategy binds a Strategy to a live execution context. The
// scheduler owns the cadence fields; the executor bumps the counters
// through the state store's transactional update.
type LiveStrategy struct {
	ID              string         `json:"id"`
	Owner           string         `json:"owner"`
	StrategyID      string         `json:"strategy_id"`
	Name            string         `json:"name"`
	Symbols         []string       `json:"symbols"`
	Status          StrategyStatus `json:"status"`
	CheckInterval   time.Duration  `json:"check_interval"`    // cadence floor, >= 60s
	AutoExecute     bool           `json:"auto_execute"`      // route non-HOLD signals to the executor
	MaxPositions    int            `json:"max_positions"`     // open-position cap for this instance
	PositionSizePct float64        `json:"position_size_pct"` // fraction of buying power, 0 < p <= 1
	MaxPositionSize float64        `json:"max_position_size"` // absolute cash cap, 0 = unset
	DailyLossLimit  float64        `json:"daily_loss_limit"`  // 0 = unset

	LastCheck      *time.Time `json:"last_check"`
	LastSignalAt   *time.Time `json:"last_signal_at"`
	LastTradeAt    *time.Time `json:"last_trade_at"`
	TotalSignals   int        `json:"total_signals"`
	ExecutedTrades int        `json:"executed_trades"`
	ErrorCount     int        `json:"error_count"`
	LastError      string     `json:"last_error"`

	// State is a per-strategy scratchpad persisted between checks
	// (trailing-stop anchors and the like).
	State map[string]float64 `json:"state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Due reports whether the strategy should be checked at time now.
// Cadence is a floor, not a deadline: a strategy with no recorded check
// is always due.
func (ls *LiveStrategy) Due(now time.Time) bool {
	if ls.LastCheck == nil {
		return true
	}
	return now.Sub(*ls.LastCheck) >= ls.CheckInterval
}

// Validate enforces the invariants the control surface must reject on:
// non-empty symbols, cadence floor, sizing range.
func (ls *LiveStrategy) Validate(minCheckInterval time.Duration) error {
	if len(ls.Symbols) == 0 {
		return fmt.Errorf("live strategy %s: symbol list is empty", ls.ID)
	}
	if ls.CheckInterval < minCheckInterval {
		return fmt.Errorf("live strategy %s: check_interval %s below minimum %s",
			ls.ID, ls.CheckInterval, minCheckInterval)
	}
	if ls.PositionSizePct <= 0 || ls.PositionSizePct > 1 {
		return fmt.Errorf("live strategy %s: position_size_pct %.4f outside (0, 1]",
			ls.ID, ls.PositionSizePct)
	}
	return nil
}

// Signal is one append-only record of a strategy evaluation.
// Invariant: SignalHold implies Strength == 0 and Executed == false.
type Signal struct {
	ID             string             `json:"id"`
	LiveStrategyID string             `json:"live_strategy_id"`
	Symbol         string             `json:"symbol"`
	Timestamp      time.Time          `json:"timestamp"`
	Type           SignalType         `json:"signal_type"`
	Strength       float64            `json:"strength"` // [0, 1]; >= 0.3 for non-HOLD
	Reasoning      string             `json:"reasoning"`
	Indicators     map[string]float64 `json:"indicators"` // snapshot at evaluation time
	Executed       bool               `json:"executed"`
	OrderID        string             `json:"order_id,omitempty"`
	// Quantity, when non-zero, overrides the risk manager's sizing.
	Quantity int `json:"quantity,omitempty"`
}

// RiskRule is one user-owned pre-trade policy. StrategyID narrows the
// rule to a single live strategy; empty means it applies account-wide.
type RiskRule struct {
	ID           string     `json:"id"`
	Owner        string     `json:"owner"`
	StrategyID   string     `json:"strategy_id,omitempty"`
	Name         string     `json:"name"`
	Type         RuleType   `json:"rule_type"`
	Threshold    float64    `json:"threshold"`
	Action       RuleAction `json:"action"`
	IsActive     bool       `json:"is_active"`
	BreachCount  int        `json:"breach_count"`
	LastBreachAt *time.Time `json:"last_breach_at"`
}

// Order is the egress record of one broker submission. ID is assigned
// by the broker (or the paper ledger).
type Order struct {
	ID             string     `json:"id"`
	LiveStrategyID string     `json:"live_strategy_id"`
	Symbol         string     `json:"symbol"`
	Side           Side       `json:"side"`
	Quantity       int        `json:"quantity"`
	Type           OrderType  `json:"type"`
	LimitPrice     float64    `json:"limit_price,omitempty"`
	Status         string     `json:"status"`
	FillPrice      float64    `json:"fill_price,omitempty"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at,omitempty"`
}

// AuditEntry is one append-only line in the trade audit log. Entries for
// a single order appear in the order signal, order, fill.
type AuditEntry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"` // UTC
	Owner      string         `json:"owner"`
	Event      AuditEvent     `json:"event_type"`
	StrategyID string         `json:"strategy_id,omitempty"`
	Symbol     string         `json:"symbol,omitempty"`
	Side       Side           `json:"side,omitempty"`
	Quantity   int            `json:"qty,omitempty"`
	Price      float64        `json:"price,omitempty"`
	OrderID    string         `json:"order_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// OptimizationJob tracks one asynchronous backtest sweep.
type OptimizationJob struct {
	ID             string               `json:"id"`
	Owner          string               `json:"owner"`
	Symbols        []string             `json:"symbols"`
	StrategyIDs    []string             `json:"strategy_ids"`
	Start          time.Time            `json:"start_date"`
	End            time.Time            `json:"end_date"`
	InitialCapital float64              `json:"initial_capital"`
	Status         JobStatus            `json:"status"`
	Results        []OptimizationResult `json:"results,omitempty"`
	Error          string               `json:"error,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	FinishedAt     *time.Time           `json:"finished_at,omitempty"`
}

// OptimizationResult is one ranked (symbol, strategy) backtest outcome.
// It carries everything the quick-deploy path needs.
type OptimizationResult struct {
	Rank       int             `json:"rank"`
	StrategyID string          `json:"strategy_id"`
	Type       StrategyType    `json:"strategy_type"`
	Symbol     string          `json:"symbol"`
	Parameters Params          `json:"parameters"`
	Score      float64         `json:"score"`
	Metrics    BacktestMetrics `json:"metrics"`
	Error      string          `json:"error,omitempty"`
}

// BacktestMetrics are the per-run performance numbers the composite
// score is built from. ProfitFactor is +Inf when there are no losses.
type BacktestMetrics struct {
	TotalReturnPct float64 `json:"total_return_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	WinRate        float64 `json:"win_rate"`
	TotalTrades    int     `json:"total_trades"`
	ProfitFactor   float64 `json:"profit_factor"`
}

// ————————————————————————————————————————————————————————————————————————
// Broker views
// ————————————————————————————————————————————————————————————————————————

// Account is the broker's snapshot of one owner's account.
type Account struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
	DayPL       float64 `json:"day_pl"`      // today's realised + unrealised P&L
	PeakEquity  float64 `json:"peak_equity"` // rolling peak for drawdown
	Currency    string  `json:"currency"`
}

// Position is one open broker position.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     int     `json:"qty"`
	AvgEntry     float64 `json:"avg_entry_price"`
	MarketValue  float64 `json:"market_value"`
	UnrealizedPL float64 `json:"unrealized_pl"`
}

// PortfolioRisk is the scalar risk view used by the dashboard. When the
// account fetch fails the view is zero-filled with Error set.
type PortfolioRisk struct {
	AccountValue         float64 `json:"account_value"`
	BuyingPower          float64 `json:"buying_power"`
	TotalPositionValue   float64 `json:"total_position_value"`
	Cash                 float64 `json:"cash"`
	NumberOfPositions    int     `json:"number_of_positions"`
	DailyPL              float64 `json:"daily_pl"`
	DailyPLPercent       float64 `json:"daily_pl_percent"`
	TotalUnrealizedPL    float64 `json:"total_unrealized_pl"`
	TotalUnrealizedPLPct float64 `json:"total_unrealized_pl_percent"`
	Leverage             float64 `json:"leverage"`
	MaxDrawdownPercent   float64 `json:"max_drawdown_percent"`
	Error                string  `json:"error,omitempty"`
}
