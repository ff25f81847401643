// Package notify delivers operational events to tenants: risk-rule
// breaches, execution failures, strategies entering ERROR. Delivery is
// fire-and-forget; a failed notification is logged, never propagated
// into the trading path.
package notify

import (
	"context"
	"log/slog"
	"time"

	"autotrader/pkg/types"
)

// Notification is one event addressed to a single owner. Priority is
// the delivery contract: LOW for informational events, MEDIUM for
// degraded execution, HIGH for blocked orders and strategies entering
// ERROR, URGENT reserved for operator intervention.
type Notification struct {
	Owner      string         `json:"owner"`
	Priority   types.Priority `json:"priority"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	StrategyID string         `json:"strategy_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Sink delivers notifications. Send must not block the caller beyond
// the context deadline and must swallow its own failures.
type Sink interface {
	Send(ctx context.Context, n Notification)
}

// LogSink writes notifications to the structured log. It is the
// fallback when no broker is configured, and a reasonable companion
// alongside one.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink over the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "notify")}
}

func (s *LogSink) Send(_ context.Context, n Notification) {
	level := slog.LevelInfo
	switch n.Priority {
	case types.PriorityMedium:
		level = slog.LevelWarn
	case types.PriorityHigh, types.PriorityUrgent:
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, n.Title,
		"owner", n.Owner,
		"priority", n.Priority,
		"message", n.Message,
		"strategy_id", n.StrategyID)
}

// Multi fans one notification out to several sinks.
type Multi []Sink

func (m Multi) Send(ctx context.Context, n Notification) {
	for _, s := range m {
		s.Send(ctx, n)
	}
}
