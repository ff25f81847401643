package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"autotrader/pkg/types"
)

func TestSyntheticDeterministic(t *testing.T) {
	t.Parallel()
	end := time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC)

	a, err := NewSynthetic(100, 0, 0.01).GetBars(context.Background(), "AAPL", types.Timeframe5Min, end, 50)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	b, err := NewSynthetic(100, 0, 0.01).GetBars(context.Background(), "AAPL", types.Timeframe5Min, end, 50)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(a) != 50 || len(b) != 50 {
		t.Fatalf("lengths = %d/%d, want 50/50", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("bar %d differs across generators: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSyntheticWindowsOverlapConsistently(t *testing.T) {
	t.Parallel()
	s := NewSynthetic(100, 0, 0.01)
	end := time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC)

	long, err := s.GetBars(context.Background(), "MSFT", types.Timeframe5Min, end, 100)
	if err != nil {
		t.Fatal(err)
	}
	short, err := s.GetBars(context.Background(), "MSFT", types.Timeframe5Min, end, 20)
	if err != nil {
		t.Fatal(err)
	}
	offset := len(long) - len(short)
	for i := range short {
		if short[i] != long[offset+i] {
			t.Fatalf("overlap bar %d differs: %+v vs %+v", i, short[i], long[offset+i])
		}
	}
}

func TestSyntheticBarsAscendingAndSane(t *testing.T) {
	t.Parallel()
	s := NewSynthetic(100, 0.001, 0.02)
	end := time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC)

	bars, err := s.GetBars(context.Background(), "TSLA", types.Timeframe15Min, end, 60)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range bars {
		if i > 0 && !bars[i-1].Timestamp.Before(b.Timestamp) {
			t.Fatalf("timestamps not strictly ascending at %d", i)
		}
		if b.High < b.Low || b.High < b.Close || b.Low > b.Close || b.High < b.Open || b.Low > b.Open {
			t.Fatalf("bar %d violates OHLC ordering: %+v", i, b)
		}
		if b.Close <= 0 {
			t.Fatalf("bar %d has non-positive close", i)
		}
	}
}

func TestSyntheticErrors(t *testing.T) {
	t.Parallel()
	s := NewSynthetic(100, 0, 0.01)
	end := time.Now()

	if _, err := s.GetBars(context.Background(), "", types.Timeframe1Day, end, 10); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("empty symbol err = %v, want ErrUnknownSymbol", err)
	}
	if _, err := s.GetBars(context.Background(), "AAPL", types.Timeframe1Day, end, 0); !errors.Is(err, ErrNoData) {
		t.Errorf("zero limit err = %v, want ErrNoData", err)
	}
}

func TestSyntheticQuoteTracksLatestClose(t *testing.T) {
	t.Parallel()
	s := NewSynthetic(100, 0, 0.01)
	end := time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC)

	q, err := s.Quote(context.Background(), "NVDA")
	if err != nil || q != 100 {
		t.Fatalf("pre-walk quote = %v, %v; want base 100", q, err)
	}
	bars, err := s.GetBars(context.Background(), "NVDA", types.Timeframe5Min, end, 30)
	if err != nil {
		t.Fatal(err)
	}
	q, err = s.Quote(context.Background(), "NVDA")
	if err != nil {
		t.Fatal(err)
	}
	if q != bars[len(bars)-1].Close {
		t.Errorf("quote = %v, want latest close %v", q, bars[len(bars)-1].Close)
	}
}
