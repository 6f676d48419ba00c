package exchange

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

// stubMarket serves fixed market data for emulator tests.
type stubMarket struct {
	Gateway
	ticker Ticker
}

func (s *stubMarket) GetTicker(context.Context, string) (*Ticker, error) {
	t := s.ticker
	return &t, nil
}

func TestEmulatorRoundTrip(t *testing.T) {
	market := &stubMarket{ticker: Ticker{Symbol: "PEPEUSDT", Last: 0.01, Bid: 0.01, Ask: 0.01}}
	emu := NewEmulator(market, "USDT", 1000, zerolog.Nop())
	ctx := context.Background()

	res, err := emu.PlaceMarketOrder(ctx, "PEPEUSDT", "BUY", 10000)
	if err != nil {
		t.Fatal(err)
	}
	if res.FilledAmount != 10000 || res.AvgPrice != 0.01 {
		t.Fatalf("fill = %+v", res)
	}

	balances, _ := emu.GetBalances(ctx)
	if got := balances["PEPE"].Free; got != 10000 {
		t.Errorf("PEPE balance = %f, want 10000", got)
	}
	// 100 quote spent plus 0.1% fee.
	if got := balances["USDT"].Free; math.Abs(got-899.9) > 1e-9 {
		t.Errorf("USDT balance = %f, want 899.9", got)
	}

	if _, err := emu.PlaceMarketOrder(ctx, "PEPEUSDT", "SELL", 10000); err != nil {
		t.Fatal(err)
	}
	balances, _ = emu.GetBalances(ctx)
	if _, ok := balances["PEPE"]; ok {
		t.Error("PEPE should be fully sold")
	}
}

func TestEmulatorRejectsOverspend(t *testing.T) {
	market := &stubMarket{ticker: Ticker{Last: 1, Bid: 1, Ask: 1}}
	emu := NewEmulator(market, "USDT", 100, zerolog.Nop())

	_, err := emu.PlaceMarketOrder(context.Background(), "PEPEUSDT", "BUY", 200)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	_, err = emu.PlaceMarketOrder(context.Background(), "PEPEUSDT", "SELL", 1)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("sell without holdings: err = %v, want ErrInsufficientBalance", err)
	}
}

func TestOrderBookHelpers(t *testing.T) {
	book := &OrderBook{
		Bids: []BookLevel{{Price: 100, Amount: 7}, {Price: 99, Amount: 7}},
		Asks: []BookLevel{{Price: 101, Amount: 10}, {Price: 102, Amount: 10}},
	}
	if got := book.BidAskVolumeRatio(2); math.Abs(got-0.7) > 1e-9 {
		t.Errorf("ratio = %f, want 0.7", got)
	}
	if got := book.Spread(); math.Abs(got-0.01) > 1e-9 {
		t.Errorf("spread = %f, want 0.01", got)
	}

	empty := &OrderBook{}
	if empty.Spread() != 1 || empty.BidAskVolumeRatio(5) != 0 {
		t.Error("empty book should degrade to worst-case values")
	}
}

func TestUniverseFilterExcluded(t *testing.T) {
	f := UniverseFilter{ExcludedBases: []string{"BTC", "ETH"}}
	if !f.Excluded("BTC") || f.Excluded("PEPE") {
		t.Error("exclusion list not honored")
	}
}

func TestIsTransient(t *testing.T) {
	base := errors.New("connection reset")
	if !IsTransient(&TransientError{Op: "klines", Err: base}) {
		t.Error("TransientError should be transient")
	}
	if IsTransient(ErrInsufficientBalance) {
		t.Error("business rejection must not be retried")
	}
}
