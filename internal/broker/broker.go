// Package broker abstracts the order-routing venue. Two implementations
// exist: a REST client for a live brokerage API and an in-process paper
// broker that fills against quoted prices. The executor and risk
// manager only see the Client interface.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"autotrader/pkg/types"
)

// Client is the venue surface the rest of the system depends on. All
// calls honour the context deadline; the executor passes a 15s budget.
type Client interface {
	// GetAccount returns the current account snapshot.
	GetAccount(ctx context.Context) (*types.Account, error)
	// ListPositions returns all open positions.
	ListPositions(ctx context.Context) ([]types.Position, error)
	// GetPosition returns the open position for symbol, or nil when flat.
	GetPosition(ctx context.Context, symbol string) (*types.Position, error)
	// ListOrders returns working orders, newest first.
	ListOrders(ctx context.Context) ([]types.Order, error)
	// PlaceOrder submits one order and returns the venue's view of it.
	PlaceOrder(ctx context.Context, req OrderRequest) (*types.Order, error)
	// CancelOrder cancels a working order by venue ID.
	CancelOrder(ctx context.Context, orderID string) error
}

// OrderRequest is the venue-independent order submission.
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Side       types.Side      `json:"side"`
	Quantity   int             `json:"qty,string"`
	Type       types.OrderType `json:"type"`
	LimitPrice float64         `json:"limit_price,omitempty"`
	// ClientID makes resubmission after a retried timeout idempotent.
	ClientID string `json:"client_order_id,omitempty"`
}

// APIError is a non-2xx venue response. Status drives the retry
// decision: 5xx and throttling are transient, other 4xx are terminal.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker: status %d: %s", e.Status, e.Body)
}

// Transient reports whether the failure is worth retrying.
func (e *APIError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// IsTransient classifies any error from a Client call. Network-level
// errors (no APIError in the chain) count as transient.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return err != nil
}
