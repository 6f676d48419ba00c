package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gateway is the capability set the engine needs from a spot exchange.
// Any call may fail transiently (network) or with a business rejection;
// use IsTransient to tell them apart.
type Gateway interface {
	GetTradeableSymbols(ctx context.Context, f UniverseFilter) ([]string, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
	GetBalances(ctx context.Context) (map[string]Balance, error)
	PlaceMarketOrder(ctx context.Context, symbol, side string, amount float64) (*OrderResult, error)
	PlaceLimitOrder(ctx context.Context, symbol, side string, amount, price float64) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
}

// UniverseFilter narrows the tradable universe server-side where possible
// and client-side otherwise.
type UniverseFilter struct {
	QuoteAsset     string
	MinPrice       float64
	MaxPrice       float64
	MinQuoteVolume float64
	ExcludedBases  []string
}

// Excluded reports whether the base asset is filtered out.
func (f UniverseFilter) Excluded(base string) bool {
	for _, b := range f.ExcludedBases {
		if b == base {
			return true
		}
	}
	return false
}

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Ticker is the current top-of-book snapshot for a symbol.
type Ticker struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price  float64
	Amount float64
}

// OrderBook holds the top levels of both sides, best first.
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

// BidAskVolumeRatio sums the top n levels on each side and returns
// bid volume / ask volume. Zero ask volume yields 0.
func (ob *OrderBook) BidAskVolumeRatio(n int) float64 {
	var bid, ask float64
	for i, l := range ob.Bids {
		if i >= n {
			break
		}
		bid += l.Amount
	}
	for i, l := range ob.Asks {
		if i >= n {
			break
		}
		ask += l.Amount
	}
	if ask <= 0 {
		return 0
	}
	return bid / ask
}

// Spread returns (ask-bid)/bid as a fraction, or 1 when the book is empty.
func (ob *OrderBook) Spread() float64 {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return 1
	}
	bid := ob.Bids[0].Price
	if bid <= 0 {
		return 1
	}
	return (ob.Asks[0].Price - bid) / bid
}

// Balance is the exchange-reported holding of one asset.
type Balance struct {
	Free  float64
	Used  float64
	Total float64
}

// OrderResult reports what actually happened to a placed order.
type OrderResult struct {
	OrderID      string
	FilledAmount float64
	AvgPrice     float64
}

// ErrInsufficientBalance is the business rejection for orders the account
// cannot fund. It is never retried.
var ErrInsufficientBalance = errors.New("insufficient balance")

// TransientError wraps a network or timeout failure that is safe to retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
