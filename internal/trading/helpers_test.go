package trading

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"breakout-bot/internal/exchange"
)

// fakeClock is a settable time source for deterministic tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeGateway fills every market order at the configured price unless
// told otherwise.
type fakeGateway struct {
	mu       sync.Mutex
	balances map[string]exchange.Balance
	prices   map[string]float64
	zeroFill bool
	orders   []placedOrder
	nextID   int64
}

type placedOrder struct {
	Symbol string
	Side   string
	Amount float64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		balances: make(map[string]exchange.Balance),
		prices:   make(map[string]float64),
	}
}

func (g *fakeGateway) setBalance(asset string, free float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[asset] = exchange.Balance{Free: free, Total: free}
}

func (g *fakeGateway) setPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price
}

func (g *fakeGateway) GetTradeableSymbols(context.Context, exchange.UniverseFilter) ([]string, error) {
	return nil, nil
}

func (g *fakeGateway) GetKlines(context.Context, string, string, int) ([]exchange.Kline, error) {
	return nil, nil
}

func (g *fakeGateway) GetTicker(_ context.Context, symbol string) (*exchange.Ticker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.prices[symbol]
	return &exchange.Ticker{Symbol: symbol, Last: p, Bid: p, Ask: p}, nil
}

func (g *fakeGateway) GetOrderBook(context.Context, string, int) (*exchange.OrderBook, error) {
	return &exchange.OrderBook{}, nil
}

func (g *fakeGateway) GetBalances(context.Context) (map[string]exchange.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]exchange.Balance, len(g.balances))
	for k, v := range g.balances {
		out[k] = v
	}
	return out, nil
}

func (g *fakeGateway) PlaceMarketOrder(_ context.Context, symbol, side string, amount float64) (*exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.orders = append(g.orders, placedOrder{Symbol: symbol, Side: side, Amount: amount})
	if g.zeroFill {
		return &exchange.OrderResult{OrderID: "0", FilledAmount: 0}, nil
	}
	return &exchange.OrderResult{
		OrderID:      "fake",
		FilledAmount: amount,
		AvgPrice:     g.prices[symbol],
	}, nil
}

func (g *fakeGateway) PlaceLimitOrder(ctx context.Context, symbol, side string, amount, _ float64) (*exchange.OrderResult, error) {
	return g.PlaceMarketOrder(ctx, symbol, side, amount)
}

func (g *fakeGateway) CancelOrder(context.Context, string, string) error { return nil }

func testLogger() zerolog.Logger { return zerolog.Nop() }
