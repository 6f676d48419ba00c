package exchange

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// RetryingGateway wraps a Gateway and retries transient failures on
// read-only calls with exponential backoff. Order placement is never
// retried here: a timed-out market order may still have filled, so the
// caller must treat it as failed-for-this-cycle instead of resubmitting.
type RetryingGateway struct {
	Gateway
	attempts int
	log      zerolog.Logger
}

func NewRetryingGateway(g Gateway, attempts int, log zerolog.Logger) *RetryingGateway {
	if attempts < 1 {
		attempts = 3
	}
	return &RetryingGateway{Gateway: g, attempts: attempts, log: log}
}

func (r *RetryingGateway) retry(ctx context.Context, op string, fn func() error) error {
	b := &backoff.Backoff{Min: 250 * time.Millisecond, Max: 5 * time.Second, Jitter: true}

	var err error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if err = fn(); err == nil || !IsTransient(err) {
			return err
		}
		d := b.Duration()
		r.log.Warn().Err(err).Str("op", op).Dur("backoff", d).Msg("transient gateway error, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return err
}

func (r *RetryingGateway) GetTradeableSymbols(ctx context.Context, f UniverseFilter) ([]string, error) {
	var out []string
	err := r.retry(ctx, "symbols", func() error {
		var err error
		out, err = r.Gateway.GetTradeableSymbols(ctx, f)
		return err
	})
	return out, err
}

func (r *RetryingGateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var out []Kline
	err := r.retry(ctx, "klines", func() error {
		var err error
		out, err = r.Gateway.GetKlines(ctx, symbol, interval, limit)
		return err
	})
	return out, err
}

func (r *RetryingGateway) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var out *Ticker
	err := r.retry(ctx, "ticker", func() error {
		var err error
		out, err = r.Gateway.GetTicker(ctx, symbol)
		return err
	})
	return out, err
}

func (r *RetryingGateway) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	var out *OrderBook
	err := r.retry(ctx, "orderbook", func() error {
		var err error
		out, err = r.Gateway.GetOrderBook(ctx, symbol, depth)
		return err
	})
	return out, err
}

func (r *RetryingGateway) GetBalances(ctx context.Context) (map[string]Balance, error) {
	var out map[string]Balance
	err := r.retry(ctx, "balances", func() error {
		var err error
		out, err = r.Gateway.GetBalances(ctx)
		return err
	})
	return out, err
}

func (r *RetryingGateway) CancelOrder(ctx context.Context, orderID, symbol string) error {
	return r.retry(ctx, "cancel", func() error {
		return r.Gateway.CancelOrder(ctx, orderID, symbol)
	})
}
