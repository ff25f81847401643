package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"autotrader/internal/config"
	"autotrader/pkg/types"
)

// REST is the live brokerage API client. It wraps a resty HTTP client
// with auth headers and a dry-run short circuit on mutating calls.
// Retry policy lives in the executor, so each PlaceOrder call is
// exactly one wire attempt.
type REST struct {
	http   *resty.Client
	dryRun bool
	logger *slog.Logger
}

// NewREST creates the live broker client. With cfg.DryRun set, order
// placement and cancellation log and return synthetic success without
// touching the venue; reads still go out.
func NewREST(cfg config.Config, logger *slog.Logger) *REST {
	base := cfg.Broker.BaseURL
	if cfg.DryRun && cfg.Broker.PaperURL != "" {
		base = cfg.Broker.PaperURL
	}

	httpClient := resty.New().
		SetBaseURL(base).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("APCA-API-KEY-ID", cfg.Broker.Key).
		SetHeader("APCA-API-SECRET-KEY", cfg.Broker.Secret)

	return &REST{
		http:   httpClient,
		dryRun: cfg.DryRun,
		logger: logger.With("component", "broker"),
	}
}

// restAccount is the venue's account wire format.
type restAccount struct {
	Equity         string `json:"equity"`
	Cash           string `json:"cash"`
	BuyingPower    string `json:"buying_power"`
	LastEquity     string `json:"last_equity"`
	Currency       string `json:"currency"`
	TradingBlocked bool   `json:"trading_blocked"`
}

// restPosition is the venue's position wire format.
type restPosition struct {
	Symbol       string `json:"symbol"`
	Qty          string `json:"qty"`
	AvgEntry     string `json:"avg_entry_price"`
	MarketValue  string `json:"market_value"`
	UnrealizedPL string `json:"unrealized_pl"`
}

// restOrder is the venue's order wire format.
type restOrder struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	Side        string     `json:"side"`
	Qty         string     `json:"qty"`
	Type        string     `json:"type"`
	LimitPrice  string     `json:"limit_price"`
	Status      string     `json:"status"`
	FilledPrice string     `json:"filled_avg_price"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FilledAt    *time.Time `json:"filled_at"`
}

func (r *REST) GetAccount(ctx context.Context) (*types.Account, error) {
	var raw restAccount
	resp, err := r.http.R().
		SetContext(ctx).
		SetResult(&raw).
		Get("/v2/account")
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}

	equity := parseF(raw.Equity)
	lastEquity := parseF(raw.LastEquity)
	acct := &types.Account{
		Equity:      equity,
		Cash:        parseF(raw.Cash),
		BuyingPower: parseF(raw.BuyingPower),
		DayPL:       equity - lastEquity,
		PeakEquity:  equity,
		Currency:    raw.Currency,
	}
	if lastEquity > equity {
		acct.PeakEquity = lastEquity
	}
	return acct, nil
}

func (r *REST) ListPositions(ctx context.Context) ([]types.Position, error) {
	var raw []restPosition
	resp, err := r.http.R().
		SetContext(ctx).
		SetResult(&raw).
		Get("/v2/positions")
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}

	out := make([]types.Position, len(raw))
	for i, p := range raw {
		out[i] = p.toPosition()
	}
	return out, nil
}

func (r *REST) GetPosition(ctx context.Context, symbol string) (*types.Position, error) {
	var raw restPosition
	resp, err := r.http.R().
		SetContext(ctx).
		SetResult(&raw).
		Get("/v2/positions/" + symbol)
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", symbol, err)
	}
	// The venue answers 404 for a flat symbol.
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	pos := raw.toPosition()
	return &pos, nil
}

func (r *REST) ListOrders(ctx context.Context) ([]types.Order, error) {
	var raw []restOrder
	resp, err := r.http.R().
		SetContext(ctx).
		SetQueryParam("status", "open").
		SetResult(&raw).
		Get("/v2/orders")
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}

	out := make([]types.Order, len(raw))
	for i, o := range raw {
		out[i] = o.toOrder()
	}
	return out, nil
}

func (r *REST) PlaceOrder(ctx context.Context, req OrderRequest) (*types.Order, error) {
	if r.dryRun {
		r.logger.Info("DRY-RUN: would place order",
			"symbol", req.Symbol, "side", req.Side, "qty", req.Quantity, "type", req.Type)
		now := time.Now().UTC()
		return &types.Order{
			ID:          "dry-run-" + uuid.NewString(),
			Symbol:      req.Symbol,
			Side:        req.Side,
			Quantity:    req.Quantity,
			Type:        req.Type,
			LimitPrice:  req.LimitPrice,
			Status:      "accepted",
			SubmittedAt: now,
		}, nil
	}

	body := map[string]any{
		"symbol":        req.Symbol,
		"side":          string(req.Side),
		"qty":           strconv.Itoa(req.Quantity),
		"type":          string(req.Type),
		"time_in_force": "day",
	}
	if req.Type == types.OrderLimit {
		body["limit_price"] = strconv.FormatFloat(req.LimitPrice, 'f', -1, 64)
	}
	if req.ClientID != "" {
		body["client_order_id"] = req.ClientID
	}

	var raw restOrder
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&raw).
		Post("/v2/orders")
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	order := raw.toOrder()
	return &order, nil
}

func (r *REST) CancelOrder(ctx context.Context, orderID string) error {
	if r.dryRun {
		r.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}

	resp, err := r.http.R().
		SetContext(ctx).
		Delete("/v2/orders/" + orderID)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

func (p restPosition) toPosition() types.Position {
	return types.Position{
		Symbol:       p.Symbol,
		Quantity:     int(parseF(p.Qty)),
		AvgEntry:     parseF(p.AvgEntry),
		MarketValue:  parseF(p.MarketValue),
		UnrealizedPL: parseF(p.UnrealizedPL),
	}
}

func (o restOrder) toOrder() types.Order {
	return types.Order{
		ID:          o.ID,
		Symbol:      o.Symbol,
		Side:        types.Side(o.Side),
		Quantity:    int(parseF(o.Qty)),
		Type:        types.OrderType(o.Type),
		LimitPrice:  parseF(o.LimitPrice),
		Status:      o.Status,
		FillPrice:   parseF(o.FilledPrice),
		SubmittedAt: o.SubmittedAt,
		FilledAt:    o.FilledAt,
	}
}

// parseF parses the venue's string-encoded decimals, treating empty or
// malformed fields as zero.
func parseF(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
