package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes notifications as JSON to <prefix>.<owner>, so a
// tenant's client subscribes to its own subject and an operator
// console subscribes to <prefix>.>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSSink connects to the NATS server. prefix defaults to "notify"
// when empty.
func NewNATSSink(url, prefix string, logger *slog.Logger) (*NATSSink, error) {
	if prefix == "" {
		prefix = "notify"
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{
		conn:   conn,
		prefix: prefix,
		logger: logger.With("component", "notify_nats"),
	}, nil
}

func (s *NATSSink) Send(_ context.Context, n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("marshal notification", "error", err)
		return
	}
	subject := s.prefix + "." + n.Owner
	if err := s.conn.Publish(subject, payload); err != nil {
		s.logger.Error("publish notification", "subject", subject, "error", err)
	}
}

// Close drains the connection.
func (s *NATSSink) Close() {
	if err := s.conn.Drain(); err != nil {
		s.logger.Warn("drain nats", "error", err)
	}
}

var _ Sink = (*NATSSink)(nil)
var _ Sink = (*LogSink)(nil)
var _ Sink = (Multi)(nil)
