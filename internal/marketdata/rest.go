package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"autotrader/internal/config"
	"autotrader/pkg/types"
)

// REST fetches bars from the data vendor's HTTP API.
type REST struct {
	http   *resty.Client
	feed   string
	logger *slog.Logger
}

// NewREST creates the bars client. Auth rides on the same key pair as
// the broker, which is how the vendor provisions data entitlements.
func NewREST(cfg config.Config, logger *slog.Logger) *REST {
	httpClient := resty.New().
		SetBaseURL(cfg.MarketData.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("APCA-API-KEY-ID", cfg.Broker.Key).
		SetHeader("APCA-API-SECRET-KEY", cfg.Broker.Secret)

	return &REST{
		http:   httpClient,
		feed:   cfg.MarketData.Feed,
		logger: logger.With("component", "marketdata"),
	}
}

type barsResponse struct {
	Bars          []types.Bar `json:"bars"`
	Symbol        string      `json:"symbol"`
	NextPageToken string      `json:"next_page_token"`
}

// GetBars fetches up to limit bars ending at or before end, following
// pagination until the window is satisfied.
func (r *REST) GetBars(ctx context.Context, symbol string, tf types.Timeframe, end time.Time, limit int) ([]types.Bar, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("invalid timeframe %q", tf)
	}
	start := end.Add(-time.Duration(limit*3) * tf.Duration()) // slack for closed sessions

	var bars []types.Bar
	pageToken := ""
	for {
		req := r.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"timeframe":  string(tf),
				"start":      start.UTC().Format(time.RFC3339),
				"end":        end.UTC().Format(time.RFC3339),
				"limit":      fmt.Sprintf("%d", limit),
				"feed":       r.feed,
				"adjustment": "split",
			})
		if pageToken != "" {
			req.SetQueryParam("page_token", pageToken)
		}

		var result barsResponse
		resp, err := req.SetResult(&result).Get("/v2/stocks/" + symbol + "/bars")
		if err != nil {
			return nil, fmt.Errorf("get bars %s: %w", symbol, err)
		}
		switch resp.StatusCode() {
		case http.StatusOK:
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		default:
			return nil, fmt.Errorf("get bars %s: status %d: %s", symbol, resp.StatusCode(), resp.String())
		}

		bars = append(bars, result.Bars...)
		pageToken = result.NextPageToken
		if pageToken == "" || len(bars) >= limit {
			break
		}
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, symbol, tf)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

var _ Source = (*REST)(nil)
