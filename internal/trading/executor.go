package trading

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"breakout-bot/config"
	"breakout-bot/internal/exchange"
	"breakout-bot/internal/models"
	"breakout-bot/internal/store"
)

// NearZero is the residual below which a position counts as fully closed.
// Exchange rounding routinely leaves dust smaller than this.
const NearZero = 1e-4

// QuoteAsset is the settlement currency for every pair the bot trades.
const QuoteAsset = "USDT"

var (
	// ErrOrderTooSmall means the computed order would be under the
	// exchange minimum after risk capping.
	ErrOrderTooSmall = errors.New("order below minimum size")
	// ErrNoFill means the market order came back with zero executed
	// quantity; the signal stays accepted for a later attempt.
	ErrNoFill = errors.New("order not filled")
)

// Executor turns accepted signals into positions and position slices into
// sells. It is the only component that places orders.
type Executor struct {
	gateway  exchange.Gateway
	store    store.Store
	signals  *Signals
	adaptive *Adaptive
	log      zerolog.Logger
	now      func() time.Time
}

func NewExecutor(gw exchange.Gateway, st store.Store, sig *Signals, ad *Adaptive, log zerolog.Logger, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		gateway:  gw,
		store:    st,
		signals:  sig,
		adaptive: ad,
		log:      log.With().Str("component", "executor").Logger(),
		now:      now,
	}
}

// OpenFromSignal sizes and places the entry order for an accepted signal.
// Sizing takes the configured slice of free quote balance, or quoteOverride
// when positive (capped at the free balance), then shrinks it until the
// distance to the stop risks no more than the per-trade cap. A zero fill
// leaves the signal accepted so a later cycle can retry.
func (e *Executor) OpenFromSignal(ctx context.Context, sig *models.Signal, cfg config.Strategy, quoteOverride float64) (*models.Position, []models.Action, error) {
	balances, err := e.gateway.GetBalances(ctx)
	if err != nil {
		return nil, nil, err
	}
	free := balances[QuoteAsset].Free

	ticker, err := e.gateway.GetTicker(ctx, sig.Symbol)
	if err != nil {
		return nil, nil, err
	}
	price := ticker.Last
	if price <= 0 {
		return nil, nil, ErrNoFill
	}

	quote := free * cfg.PositionSizePct
	if quoteOverride > 0 {
		quote = math.Min(quoteOverride, free)
	}
	if riskPerUnit := price - sig.StopLoss; riskPerUnit > 0 {
		maxRiskQuote := free * cfg.MaxRiskPerTrade
		if riskQuote := (quote / price) * riskPerUnit; riskQuote > maxRiskQuote {
			quote = maxRiskQuote / riskPerUnit * price
		}
	}
	if quote < cfg.MinOrderQuote {
		e.log.Info().Str("symbol", sig.Symbol).Float64("quote", quote).
			Float64("free", free).Msg("order below minimum, skipping")
		return nil, nil, ErrOrderTooSmall
	}

	res, err := e.gateway.PlaceMarketOrder(ctx, sig.Symbol, "BUY", quote/price)
	if err != nil {
		return nil, nil, err
	}
	if res.FilledAmount <= 0 {
		e.log.Warn().Str("symbol", sig.Symbol).Str("order_id", res.OrderID).Msg("entry order not filled")
		return nil, nil, ErrNoFill
	}

	now := e.now()
	pos := &models.Position{
		SignalID:      &sig.ID,
		Symbol:        sig.Symbol,
		Side:          "BUY",
		EntryPrice:    res.AvgPrice,
		EntryAmount:   res.FilledAmount,
		EntryValue:    res.AvgPrice * res.FilledAmount,
		EntryTime:     now,
		CurrentAmount: res.FilledAmount,
		StopLoss:      sig.StopLoss,
		TP1:           sig.TP1,
		TP2:           sig.TP2,
		MaxPrice:      res.AvgPrice,
		Status:        models.PositionOpen,
	}
	if err := e.store.CreatePosition(ctx, pos); err != nil {
		return nil, nil, err
	}

	trade := &models.Trade{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       "BUY",
		OrderType:  "MARKET",
		Price:      res.AvgPrice,
		Amount:     res.FilledAmount,
		Value:      res.AvgPrice * res.FilledAmount,
		OrderID:    res.OrderID,
		Reason:     models.ReasonSignal,
		CreatedAt:  now,
	}
	if err := e.store.CreateTrade(ctx, trade); err != nil {
		return nil, nil, err
	}
	if err := e.signals.MarkExecuted(ctx, sig); err != nil {
		return nil, nil, err
	}

	e.log.Info().Str("symbol", pos.Symbol).Int64("position_id", pos.ID).
		Float64("price", pos.EntryPrice).Float64("amount", pos.EntryAmount).
		Msg("position opened")

	actions := []models.Action{{
		Type:       models.ActionOpened,
		SignalID:   sig.ID,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       "BUY",
		Price:      pos.EntryPrice,
		Amount:     pos.EntryAmount,
		Value:      pos.EntryValue,
		Reason:     models.ReasonSignal,
	}}
	return pos, actions, nil
}

// ClosePortion sells part of a position at market, records the trade and
// updates the position in place and in the store. The requested amount is
// clamped to what the position still holds, so no sequence of calls can
// oversell. When the remainder drops under NearZero the position is
// finalized and the realized result feeds the risk controller; any risk
// change comes back in the returned actions.
func (e *Executor) ClosePortion(ctx context.Context, pos *models.Position, amount float64, reason models.TradeReason) (*models.Trade, []models.Action, error) {
	if amount > pos.CurrentAmount {
		amount = pos.CurrentAmount
	}
	if amount <= 0 {
		return nil, nil, nil
	}

	res, err := e.gateway.PlaceMarketOrder(ctx, pos.Symbol, "SELL", amount)
	if err != nil {
		return nil, nil, err
	}
	if res.FilledAmount <= 0 {
		return nil, nil, ErrNoFill
	}

	now := e.now()
	pnl := (res.AvgPrice - pos.EntryPrice) * res.FilledAmount
	pnlPct := 0.0
	if pos.EntryPrice > 0 {
		pnlPct = (res.AvgPrice - pos.EntryPrice) / pos.EntryPrice * 100
	}

	trade := &models.Trade{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       "SELL",
		OrderType:  "MARKET",
		Price:      res.AvgPrice,
		Amount:     res.FilledAmount,
		Value:      res.AvgPrice * res.FilledAmount,
		OrderID:    res.OrderID,
		PnL:        pnl,
		PnLPct:     pnlPct,
		Reason:     reason,
		CreatedAt:  now,
	}
	if err := e.store.CreateTrade(ctx, trade); err != nil {
		return nil, nil, err
	}

	pos.CurrentAmount -= res.FilledAmount
	pos.RealizedPnL += pnl

	var actions []models.Action
	if pos.CurrentAmount <= NearZero {
		riskAction, err := e.finalize(ctx, pos, res.AvgPrice, reason, now)
		if err != nil {
			return nil, nil, err
		}
		if riskAction != nil {
			actions = append(actions, *riskAction)
		}
	}

	if err := e.store.UpdatePosition(ctx, pos); err != nil {
		return nil, nil, err
	}

	e.log.Info().Str("symbol", pos.Symbol).Int64("position_id", pos.ID).
		Str("reason", string(reason)).Float64("price", res.AvgPrice).
		Float64("amount", res.FilledAmount).Float64("pnl", pnl).
		Msg("position reduced")
	return trade, actions, nil
}

// finalize marks a position closed, books the day's result and reports
// the outcome to the risk controller.
func (e *Executor) finalize(ctx context.Context, pos *models.Position, price float64, reason models.TradeReason, now time.Time) (*models.Action, error) {
	pos.CurrentAmount = 0
	pos.ClosedAt = &now
	pos.ClosePrice = price
	pos.CloseReason = reason
	pos.TotalPnL = pos.RealizedPnL
	if pos.EntryValue > 0 {
		pos.TotalPnLPct = pos.RealizedPnL / pos.EntryValue * 100
	}

	switch reason {
	case models.ReasonSL:
		pos.Status = models.PositionClosedSL
	case models.ReasonTP1, models.ReasonTP2, models.ReasonTP3, models.ReasonTrailing:
		pos.Status = models.PositionClosedTP
	default:
		pos.Status = models.PositionClosedManual
	}

	delta := models.DailyStats{TotalPnL: pos.TotalPnL}
	if pos.TotalPnL >= 0 {
		delta.TradesWon = 1
	} else {
		delta.TradesLost = 1
	}
	if reason == models.ReasonSL {
		delta.StopLossesToday = 1
	}
	if err := e.store.AddDailyStats(ctx, now, delta); err != nil {
		return nil, err
	}

	e.log.Info().Str("symbol", pos.Symbol).Int64("position_id", pos.ID).
		Str("status", string(pos.Status)).Float64("total_pnl", pos.TotalPnL).
		Float64("total_pnl_pct", pos.TotalPnLPct).Msg("position closed")

	return e.adaptive.OnTradeClosed(ctx, pos.Symbol, pos.TotalPnLPct)
}

// RecordExternalClose books a close that happened outside the bot. The
// whole tracked remainder is written off at the given price without
// placing an order; the position finalizes with the external reason.
func (e *Executor) RecordExternalClose(ctx context.Context, pos *models.Position, price float64) (*models.Trade, []models.Action, error) {
	now := e.now()
	amount := pos.CurrentAmount
	pnl := (price - pos.EntryPrice) * amount
	pnlPct := 0.0
	if pos.EntryPrice > 0 {
		pnlPct = (price - pos.EntryPrice) / pos.EntryPrice * 100
	}

	trade := &models.Trade{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       "SELL",
		OrderType:  "EXTERNAL",
		Price:      price,
		Amount:     amount,
		Value:      price * amount,
		PnL:        pnl,
		PnLPct:     pnlPct,
		Reason:     models.ReasonManualExternal,
		CreatedAt:  now,
	}
	if err := e.store.CreateTrade(ctx, trade); err != nil {
		return nil, nil, err
	}

	pos.RealizedPnL += pnl
	riskAction, err := e.finalize(ctx, pos, price, models.ReasonManualExternal, now)
	if err != nil {
		return nil, nil, err
	}
	if err := e.store.UpdatePosition(ctx, pos); err != nil {
		return nil, nil, err
	}

	var actions []models.Action
	if riskAction != nil {
		actions = append(actions, *riskAction)
	}
	return trade, actions, nil
}

// CloseAll liquidates every open position at market, used on shutdown
// when the operator wants a flat book.
func (e *Executor) CloseAll(ctx context.Context) error {
	positions, err := e.store.OpenPositions(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, pos := range positions {
		if _, _, err := e.ClosePortion(ctx, pos, pos.CurrentAmount, models.ReasonManual); err != nil {
			e.log.Error().Err(err).Str("symbol", pos.Symbol).Int64("position_id", pos.ID).
				Msg("close on shutdown failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// BaseAsset strips the quote suffix from a pair symbol.
func BaseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, QuoteAsset)
}
