package exchange

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// Emulator is a paper-trading Gateway: market data comes from the real
// exchange, orders fill instantly against an in-memory account at the
// current price. Fees are charged in quote at the spot taker rate so
// simulated results stay close to live ones.
type Emulator struct {
	real Gateway
	log  zerolog.Logger

	mu       sync.Mutex
	balances map[string]float64
	nextID   int64
}

const emulatorFeeRate = 0.001

func NewEmulator(real Gateway, quoteAsset string, startingBalance float64, log zerolog.Logger) *Emulator {
	return &Emulator{
		real:     real,
		log:      log.With().Str("component", "emulator").Logger(),
		balances: map[string]float64{quoteAsset: startingBalance},
	}
}

func (e *Emulator) GetTradeableSymbols(ctx context.Context, f UniverseFilter) ([]string, error) {
	return e.real.GetTradeableSymbols(ctx, f)
}

func (e *Emulator) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	return e.real.GetKlines(ctx, symbol, interval, limit)
}

func (e *Emulator) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	return e.real.GetTicker(ctx, symbol)
}

func (e *Emulator) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	return e.real.GetOrderBook(ctx, symbol, depth)
}

func (e *Emulator) GetBalances(context.Context) (map[string]Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Balance, len(e.balances))
	for asset, free := range e.balances {
		if free <= 0 {
			continue
		}
		out[asset] = Balance{Free: free, Total: free}
	}
	return out, nil
}

func (e *Emulator) PlaceMarketOrder(ctx context.Context, symbol, side string, amount float64) (*OrderResult, error) {
	ticker, err := e.real.GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	price := ticker.Last
	if side == "BUY" {
		price = ticker.Ask
	} else if side == "SELL" {
		price = ticker.Bid
	}
	if price <= 0 {
		price = ticker.Last
	}
	return e.fill(symbol, side, amount, price)
}

// PlaceLimitOrder fills immediately at the limit price. Good enough for
// paper trading; resting orders are not simulated.
func (e *Emulator) PlaceLimitOrder(_ context.Context, symbol, side string, amount, price float64) (*OrderResult, error) {
	return e.fill(symbol, side, amount, price)
}

func (e *Emulator) fill(symbol, side string, amount, price float64) (*OrderResult, error) {
	base := baseOf(symbol)
	quote := symbol[len(base):]
	cost := amount * price
	fee := cost * emulatorFeeRate

	e.mu.Lock()
	defer e.mu.Unlock()

	if side == "BUY" {
		if e.balances[quote] < cost+fee {
			return nil, ErrInsufficientBalance
		}
		e.balances[quote] -= cost + fee
		e.balances[base] += amount
	} else {
		if e.balances[base] < amount {
			return nil, ErrInsufficientBalance
		}
		e.balances[base] -= amount
		e.balances[quote] += cost - fee
	}

	e.nextID++
	e.log.Info().Str("symbol", symbol).Str("side", side).
		Float64("amount", amount).Float64("price", price).Msg("emulated fill")
	return &OrderResult{
		OrderID:      "emu-" + strconv.FormatInt(e.nextID, 10),
		FilledAmount: amount,
		AvgPrice:     price,
	}, nil
}

func (e *Emulator) CancelOrder(context.Context, string, string) error { return nil }

// baseOf splits the base asset from a pair against the common quotes.
func baseOf(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "BUSD", "BTC", "ETH"} {
		if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
			return symbol[:len(symbol)-len(quote)]
		}
	}
	return symbol
}
