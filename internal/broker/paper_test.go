package broker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"autotrader/internal/clock"
	"autotrader/pkg/types"
)

func fixedQuote(price float64) QuoteFunc {
	return func(context.Context, string) (float64, error) {
		return price, nil
	}
}

func newTestPaper(t *testing.T, cash, price float64) *Paper {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	return NewPaper(cash, fixedQuote(price), clk, slog.New(slog.DiscardHandler))
}

func TestPaperBuyThenSellRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newTestPaper(t, 10_000, 100)

	buy, err := p.PlaceOrder(ctx, OrderRequest{
		Symbol: "AAPL", Side: types.SideBuy, Quantity: 10, Type: types.OrderMarket,
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if buy.Status != "filled" || buy.FillPrice != 100 {
		t.Errorf("buy = %+v, want filled at 100", buy)
	}

	acct, err := p.GetAccount(ctx)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.Cash != 9_000 {
		t.Errorf("cash after buy = %v, want 9000", acct.Cash)
	}
	if acct.Equity != 10_000 {
		t.Errorf("equity after buy = %v, want 10000 (flat mark)", acct.Equity)
	}

	if _, err := p.PlaceOrder(ctx, OrderRequest{
		Symbol: "AAPL", Side: types.SideSell, Quantity: 10, Type: types.OrderMarket,
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	pos, err := p.GetPosition(ctx, "AAPL")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos != nil {
		t.Errorf("position after full close = %+v, want nil", pos)
	}
}

func TestPaperRejectsOverdraft(t *testing.T) {
	t.Parallel()
	p := newTestPaper(t, 500, 100)

	_, err := p.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: types.SideBuy, Quantity: 10, Type: types.OrderMarket,
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Transient() {
		t.Error("insufficient buying power must be terminal")
	}
}

func TestPaperRejectsShortSale(t *testing.T) {
	t.Parallel()
	p := newTestPaper(t, 10_000, 100)

	_, err := p.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: types.SideSell, Quantity: 1, Type: types.OrderMarket,
	})
	if err == nil {
		t.Fatal("selling with no position must fail")
	}
}

func TestPaperAveragesEntryAcrossFills(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	price := 100.0
	quote := func(context.Context, string) (float64, error) { return price, nil }
	p := NewPaper(100_000, quote, clk, slog.New(slog.DiscardHandler))

	if _, err := p.PlaceOrder(ctx, OrderRequest{
		Symbol: "MSFT", Side: types.SideBuy, Quantity: 10, Type: types.OrderMarket,
	}); err != nil {
		t.Fatal(err)
	}
	price = 200
	if _, err := p.PlaceOrder(ctx, OrderRequest{
		Symbol: "MSFT", Side: types.SideBuy, Quantity: 10, Type: types.OrderMarket,
	}); err != nil {
		t.Fatal(err)
	}

	pos, err := p.GetPosition(ctx, "MSFT")
	if err != nil {
		t.Fatal(err)
	}
	if pos.Quantity != 20 || pos.AvgEntry != 150 {
		t.Errorf("position = %+v, want 20 @ 150", pos)
	}
}

func TestIsTransientClassification(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want bool
	}{
		{&APIError{Status: 500}, true},
		{&APIError{Status: 503}, true},
		{&APIError{Status: 429}, true},
		{&APIError{Status: 403}, false},
		{&APIError{Status: 422}, false},
		{errors.New("connection reset"), true},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
