package api

import (
	"context"
	"time"

	"autotrader/internal/notify"
)

// Event is the wire envelope for everything pushed over the WebSocket.
type Event struct {
	Type      string    `json:"type"` // "snapshot", "notification"
	Timestamp time.Time `json:"timestamp"`
	Owner     string    `json:"owner,omitempty"`
	Data      any       `json:"data"`
}

const (
	EventSnapshot     = "snapshot"
	EventNotification = "notification"
)

// NotificationSink adapts the hub into the notification fan-out, so
// every alert the core emits also reaches connected dashboards.
type NotificationSink struct {
	hub *Hub
}

// NewNotificationSink wraps the hub as a notify.Sink.
func NewNotificationSink(hub *Hub) *NotificationSink {
	return &NotificationSink{hub: hub}
}

// Send broadcasts the notification. Delivery is best-effort, matching
// the sink contract.
func (s *NotificationSink) Send(_ context.Context, n notify.Notification) {
	s.hub.Broadcast(Event{
		Type:      EventNotification,
		Timestamp: n.Timestamp,
		Owner:     n.Owner,
		Data:      n,
	})
}

var _ notify.Sink = (*NotificationSink)(nil)
