// Package marketdata fetches OHLCV history. The live implementation is
// a REST client against a bars API; Synthetic generates deterministic
// series for dry runs, backtests without a feed, and tests.
package marketdata

import (
	"context"
	"errors"
	"time"

	"autotrader/pkg/types"
)

// ErrNoData means the symbol exists but the requested window is empty
// (halted instrument, market closed since listing, bad date range).
var ErrNoData = errors.New("no bars in requested window")

// ErrUnknownSymbol means the feed does not know the instrument at all.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Source supplies OHLCV bars, oldest first, strictly ascending by
// timestamp. Implementations honour the context deadline; the check
// pipeline passes a 10s budget.
type Source interface {
	// GetBars returns up to limit bars of the given timeframe ending at
	// or before end. Bars are ascending and gap-free filtering is the
	// caller's concern.
	GetBars(ctx context.Context, symbol string, tf types.Timeframe, end time.Time, limit int) ([]types.Bar, error)
}
