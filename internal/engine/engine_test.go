package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"breakout-bot/config"
	"breakout-bot/internal/exchange"
	"breakout-bot/internal/models"
	"breakout-bot/internal/scanner"
	"breakout-bot/internal/store"
	"breakout-bot/internal/trading"
)

type fakeGateway struct {
	mu       sync.Mutex
	symbols  []string
	klines   map[string][]exchange.Kline
	books    map[string]*exchange.OrderBook
	balances map[string]exchange.Balance
	prices   map[string]float64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		klines:   make(map[string][]exchange.Kline),
		books:    make(map[string]*exchange.OrderBook),
		balances: make(map[string]exchange.Balance),
		prices:   make(map[string]float64),
	}
}

func key(symbol, interval string) string { return symbol + "/" + interval }

func (g *fakeGateway) GetTradeableSymbols(context.Context, exchange.UniverseFilter) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.symbols, nil
}

func (g *fakeGateway) GetKlines(_ context.Context, symbol, interval string, _ int) ([]exchange.Kline, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.klines[key(symbol, interval)], nil
}

func (g *fakeGateway) GetTicker(_ context.Context, symbol string) (*exchange.Ticker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.prices[symbol]
	return &exchange.Ticker{Symbol: symbol, Last: p, Bid: p, Ask: p}, nil
}

func (g *fakeGateway) GetOrderBook(_ context.Context, symbol string, _ int) (*exchange.OrderBook, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.books[symbol]; ok {
		return b, nil
	}
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

// PlaceMarketOrder fills at the current price and moves the fake base
// asset balance so reconciliation sees what the bot holds.
func (g *fakeGateway) PlaceMarketOrder(_ context.Context, symbol, side string, amount float64) (*exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	base := symbol[:len(symbol)-len("USDT")]
	b := g.balances[base]
	if side == "BUY" {
		b.Free += amount
	} else {
		b.Free -= amount
	}
	b.Total = b.Free + b.Used
	g.balances[base] = b
	return &exchange.OrderResult{OrderID: "fake", FilledAmount: amount, AvgPrice: g.prices[symbol]}, nil
}

func (g *fakeGateway) PlaceLimitOrder(ctx context.Context, symbol, side string, amount, _ float64) (*exchange.OrderResult, error) {
	return g.PlaceMarketOrder(ctx, symbol, side, amount)
}

func (g *fakeGateway) CancelOrder(context.Context, string, string) error { return nil }

func (g *fakeGateway) setPrice(symbol string, p float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = p
}

type captureNotifier struct {
	mu      sync.Mutex
	actions []models.Action
	prompts []*models.Signal
}

func (n *captureNotifier) Notify(a models.Action) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actions = append(n.actions, a)
}

func (n *captureNotifier) PromptSignal(s *models.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prompts = append(n.prompts, s)
}

func (n *captureNotifier) types() []models.ActionType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.ActionType, len(n.actions))
	for i, a := range n.actions {
		out[i] = a.Type
	}
	return out
}

func breakoutSeries(base float64) []exchange.Kline {
	const n = 130
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	klines := make([]exchange.Kline, 0, n)
	prevClose := base
	for i := 0; i < n-1; i++ {
		close := base * 1.005
		if i%2 == 1 {
			close = base * 0.995
		}
		klines = append(klines, exchange.Kline{
			OpenTime: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:     prevClose, High: close + 0.002*base, Low: close - 0.002*base,
			Close: close, Volume: 1000,
		})
		prevClose = close
	}
	open := prevClose
	klines = append(klines, exchange.Kline{
		OpenTime: start.Add(time.Duration(n-1) * 5 * time.Minute),
		Open:     open, High: open * 1.032, Low: open,
		Close: open * 1.03, Volume: 4000,
	})
	return klines
}

type testEnv struct {
	gw     *fakeGateway
	st     *store.Memory
	eng    *Engine
	notif  *captureNotifier
	symbol string
}

func newTestEnv(t *testing.T, auto bool) *testEnv {
	t.Helper()
	symbol := "PEPEUSDT"
	gw := newFakeGateway()
	st := store.NewMemory()
	log := zerolog.Nop()
	now := func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	cfg := config.DefaultStrategy()

	series := breakoutSeries(0.01)
	last := series[len(series)-1].Close
	gw.symbols = []string{symbol}
	gw.klines[key(symbol, "5m")] = series
	gw.klines[key("BTCUSDT", "1h")] = []exchange.Kline{{Close: 50000}, {Close: 50100}}
	gw.klines[key(symbol, "1d")] = []exchange.Kline{{Low: last * 0.95, High: last * 1.05, Close: last}}
	gw.books[symbol] = &exchange.OrderBook{
		Bids: []exchange.BookLevel{{Price: last, Amount: 5000}},
		Asks: []exchange.BookLevel{{Price: last * 1.001, Amount: 5000}},
	}
	gw.balances["USDT"] = exchange.Balance{Free: 1000, Total: 1000}
	gw.setPrice(symbol, last)

	sig := trading.NewSignals(st, st, log, now)
	ad := trading.NewAdaptive(st, log)
	exec := trading.NewExecutor(gw, st, sig, ad, log, now)
	mgr := trading.NewManager(exec, st, log, now)
	sc := scanner.New(gw, st, sig, ad, cfg, log, now)

	notif := &captureNotifier{}
	eng := New(Options{
		Gateway: gw, Store: st, Scanner: sc, Signals: sig,
		Executor: exec, Manager: mgr, Adaptive: ad,
		Notifier: notif, Strategy: cfg, AutoTrade: auto,
		Log: log, Now: now,
	})
	return &testEnv{gw: gw, st: st, eng: eng, notif: notif, symbol: symbol}
}

func TestScanCyclePromptsWithoutAutoTrade(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	env.eng.scanCycle(ctx)

	if len(env.notif.prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(env.notif.prompts))
	}
	if positions, _ := env.st.OpenPositions(ctx); len(positions) != 0 {
		t.Error("no position should open before the operator decides")
	}
}

func TestAutoTradeOpensAndManagesPosition(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	env.eng.scanCycle(ctx)

	positions, err := env.st.OpenPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 {
		t.Fatalf("open positions = %d, want 1 (%v)", len(positions), env.notif.types())
	}
	pos := positions[0]

	// Price reaches TP1: the position cycle takes the first partial.
	env.gw.setPrice(env.symbol, pos.TP1*1.001)
	env.eng.positionCycle(ctx)

	positions, _ = env.st.OpenPositions(ctx)
	if len(positions) != 1 || positions[0].Status != models.PositionPartialTP1 {
		t.Fatalf("position after TP1 = %+v", positions)
	}

	var sawTP1 bool
	for _, typ := range env.notif.types() {
		if typ == models.ActionTP1 {
			sawTP1 = true
		}
	}
	if !sawTP1 {
		t.Errorf("notifications = %v, want TP1", env.notif.types())
	}
}

func TestDecideSignalReject(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	env.eng.scanCycle(ctx)
	sig := env.notif.prompts[0]

	if err := env.eng.DecideSignal(ctx, sig.ID, false, 0); err != nil {
		t.Fatal(err)
	}
	got, _ := env.st.GetSignal(ctx, sig.ID)
	if got.Status != models.SignalRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
	if positions, _ := env.st.OpenPositions(ctx); len(positions) != 0 {
		t.Error("rejected signal must not open a position")
	}
}

func TestDecideSignalWithNotionalOverride(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	env.eng.scanCycle(ctx)
	sig := env.notif.prompts[0]

	// The operator stakes 300 quote instead of the default 10% slice.
	if err := env.eng.DecideSignal(ctx, sig.ID, true, 300); err != nil {
		t.Fatal(err)
	}
	positions, _ := env.st.OpenPositions(ctx)
	if len(positions) != 1 {
		t.Fatalf("open positions = %d, want 1", len(positions))
	}
	if got := positions[0].EntryValue; got < 299 || got > 301 {
		t.Errorf("entry value = %f, want the 300 quote override", got)
	}
}

func TestCloseAllPositions(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	env.eng.scanCycle(ctx)
	if positions, _ := env.st.OpenPositions(ctx); len(positions) != 1 {
		t.Fatal("expected one open position")
	}

	if err := env.eng.CloseAllPositions(ctx); err != nil {
		t.Fatal(err)
	}
	if positions, _ := env.st.OpenPositions(ctx); len(positions) != 0 {
		t.Errorf("positions left open after close-all: %v", positions)
	}
}
