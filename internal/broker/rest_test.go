package broker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"autotrader/internal/config"
	"autotrader/pkg/types"
)

func TestPlaceOrderIsOneWireAttempt(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := config.Config{}
	cfg.Broker.BaseURL = srv.URL
	client := NewREST(cfg, slog.New(slog.DiscardHandler))

	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol:   "AAPL",
		Side:     types.SideBuy,
		Quantity: 1,
		Type:     types.OrderMarket,
	})
	if err == nil {
		t.Fatal("expected error on 500")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("err = %v, want APIError 500", err)
	}
	// Retry policy lives in the executor; the client must not layer its
	// own attempts underneath it.
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("wire attempts = %d, want 1", n)
	}
}
