package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"autotrader/internal/clock"
	"autotrader/pkg/types"
)

// QuoteFunc supplies the current price for a symbol. The paper broker
// fills market orders at this price.
type QuoteFunc func(ctx context.Context, symbol string) (float64, error)

// Paper is an in-process broker that fills orders instantly against
// quoted prices and keeps the ledger in decimals so repeated fills
// never accumulate float drift. It implements Client.
type Paper struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	startCash decimal.Decimal
	peak      decimal.Decimal
	positions map[string]*paperPosition
	orders    []types.Order
	quote     QuoteFunc
	clock     clock.Clock
	logger    *slog.Logger
}

type paperPosition struct {
	qty      int
	avgEntry decimal.Decimal
}

// NewPaper creates a paper broker funded with startingCash.
func NewPaper(startingCash float64, quote QuoteFunc, clk clock.Clock, logger *slog.Logger) *Paper {
	cash := decimal.NewFromFloat(startingCash)
	return &Paper{
		cash:      cash,
		startCash: cash,
		peak:      cash,
		positions: make(map[string]*paperPosition),
		quote:     quote,
		clock:     clk,
		logger:    logger.With("component", "paper_broker"),
	}
}

func (p *Paper) GetAccount(ctx context.Context) (*types.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity, err := p.equityLocked(ctx)
	if err != nil {
		return nil, err
	}
	if equity.GreaterThan(p.peak) {
		p.peak = equity
	}
	ef, _ := equity.Float64()
	cf, _ := p.cash.Float64()
	pf, _ := p.peak.Float64()
	dayPL, _ := equity.Sub(p.startCash).Float64()
	return &types.Account{
		Equity:      ef,
		Cash:        cf,
		BuyingPower: cf,
		DayPL:       dayPL,
		PeakEquity:  pf,
		Currency:    "USD",
	}, nil
}

func (p *Paper) ListPositions(ctx context.Context) ([]types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	symbols := make([]string, 0, len(p.positions))
	for s := range p.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	out := make([]types.Position, 0, len(symbols))
	for _, s := range symbols {
		pos, err := p.positionLocked(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, *pos)
	}
	return out, nil
}

func (p *Paper) GetPosition(ctx context.Context, symbol string) (*types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.positions[symbol]; !ok {
		return nil, nil
	}
	return p.positionLocked(ctx, symbol)
}

func (p *Paper) ListOrders(ctx context.Context) ([]types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Fills are instant, so there are never working orders; return the
	// fill history newest first for the dashboard.
	out := make([]types.Order, len(p.orders))
	for i, o := range p.orders {
		out[len(p.orders)-1-i] = o
	}
	return out, nil
}

func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (*types.Order, error) {
	if req.Quantity <= 0 {
		return nil, &APIError{Status: http.StatusUnprocessableEntity, Body: "quantity must be positive"}
	}

	price := req.LimitPrice
	if req.Type == types.OrderMarket {
		quoted, err := p.quote(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("quote %s: %w", req.Symbol, err)
		}
		price = quoted
	}
	if price <= 0 {
		return nil, &APIError{Status: http.StatusUnprocessableEntity, Body: "no price available"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cost := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(req.Quantity)))
	pos := p.positions[req.Symbol]

	switch req.Side {
	case types.SideBuy:
		if cost.GreaterThan(p.cash) {
			return nil, &APIError{Status: http.StatusForbidden, Body: "insufficient buying power"}
		}
		p.cash = p.cash.Sub(cost)
		if pos == nil {
			p.positions[req.Symbol] = &paperPosition{qty: req.Quantity, avgEntry: decimal.NewFromFloat(price)}
		} else {
			oldVal := pos.avgEntry.Mul(decimal.NewFromInt(int64(pos.qty)))
			newQty := pos.qty + req.Quantity
			pos.avgEntry = oldVal.Add(cost).Div(decimal.NewFromInt(int64(newQty)))
			pos.qty = newQty
		}
	case types.SideSell:
		if pos == nil || pos.qty < req.Quantity {
			return nil, &APIError{Status: http.StatusUnprocessableEntity, Body: "insufficient position"}
		}
		p.cash = p.cash.Add(cost)
		pos.qty -= req.Quantity
		if pos.qty == 0 {
			delete(p.positions, req.Symbol)
		}
	default:
		return nil, &APIError{Status: http.StatusUnprocessableEntity, Body: "unknown side"}
	}

	now := p.clock.Now()
	filled := now
	order := types.Order{
		ID:          uuid.NewString(),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Type:        req.Type,
		LimitPrice:  req.LimitPrice,
		Status:      "filled",
		FillPrice:   price,
		SubmittedAt: now,
		FilledAt:    &filled,
	}
	p.orders = append(p.orders, order)
	p.logger.Debug("paper fill",
		"symbol", req.Symbol, "side", req.Side, "qty", req.Quantity, "price", price)
	return &order, nil
}

func (p *Paper) CancelOrder(_ context.Context, orderID string) error {
	// Instant fills leave nothing to cancel.
	return &APIError{Status: http.StatusNotFound, Body: "order not open: " + orderID}
}

// equityLocked marks positions to the current quotes. Caller holds mu.
func (p *Paper) equityLocked(ctx context.Context) (decimal.Decimal, error) {
	equity := p.cash
	for symbol, pos := range p.positions {
		quoted, err := p.quote(ctx, symbol)
		if err != nil {
			return decimal.Zero, fmt.Errorf("quote %s: %w", symbol, err)
		}
		mv := decimal.NewFromFloat(quoted).Mul(decimal.NewFromInt(int64(pos.qty)))
		equity = equity.Add(mv)
	}
	return equity, nil
}

// positionLocked builds the marked-to-market view. Caller holds mu.
func (p *Paper) positionLocked(ctx context.Context, symbol string) (*types.Position, error) {
	pos := p.positions[symbol]
	quoted, err := p.quote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", symbol, err)
	}
	qty := decimal.NewFromInt(int64(pos.qty))
	mv := decimal.NewFromFloat(quoted).Mul(qty)
	upl := mv.Sub(pos.avgEntry.Mul(qty))
	entry, _ := pos.avgEntry.Float64()
	mvF, _ := mv.Float64()
	uplF, _ := upl.Float64()
	return &types.Position{
		Symbol:       symbol,
		Quantity:     pos.qty,
		AvgEntry:     entry,
		MarketValue:  mvF,
		UnrealizedPL: uplF,
	}, nil
}

var _ Client = (*Paper)(nil)
var _ Client = (*REST)(nil)
