package trading

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"breakout-bot/config"
	"breakout-bot/internal/models"
	"breakout-bot/internal/store"
)

// Manager walks each open position through its exit ladder once per tick:
// reconcile against the exchange first, then stop-loss, then trailing,
// then the partial take-profits. The stop always wins when several levels
// are crossed in the same tick.
type Manager struct {
	exec  *Executor
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewManager(exec *Executor, st store.Store, log zerolog.Logger, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		exec:  exec,
		store: st,
		log:   log.With().Str("component", "positions").Logger(),
		now:   now,
	}
}

// externalDust is how much of the tracked amount may be missing on the
// exchange before the position counts as closed externally. Covers fees
// paid in the base asset and rounding on partial fills.
func externalDust(tracked float64) float64 {
	return math.Max(0.1, 0.05*tracked)
}

// Tick advances one position given the current price and the exchange
// balance of its base asset. At most one lifecycle transition happens per
// tick; the high-water mark is updated regardless.
func (m *Manager) Tick(ctx context.Context, pos *models.Position, price, held float64, cfg config.Strategy) ([]models.Action, error) {
	if pos.Status.Closed() {
		return nil, nil
	}

	// Reconcile before any exit logic: selling an amount the exchange no
	// longer holds would fail anyway.
	if held < pos.CurrentAmount-externalDust(pos.CurrentAmount) {
		return m.externalClose(ctx, pos, price, held)
	}

	if price > pos.MaxPrice {
		pos.MaxPrice = price
	}
	if pos.TrailingStop > 0 {
		// The trailing stop only ever ratchets up.
		if next := pos.MaxPrice * (1 - cfg.TrailingPct); next > pos.TrailingStop {
			pos.TrailingStop = next
		}
	}

	switch {
	case price <= pos.StopLoss:
		return m.closeFull(ctx, pos, models.ReasonSL, models.ActionSL)

	case pos.TrailingStop > 0 && price <= pos.TrailingStop:
		return m.closeFull(ctx, pos, models.ReasonTrailing, models.ActionTrailing)

	case pos.Status == models.PositionOpen && price >= pos.TP1:
		pos.Status = models.PositionPartialTP1
		return m.sell(ctx, pos, pos.EntryAmount*cfg.TP1ClosePct, models.ReasonTP1, models.ActionTP1)

	case pos.Status == models.PositionPartialTP1 && price >= pos.TP2:
		amount := pos.EntryAmount * cfg.TP2ClosePct
		if limit := pos.CurrentAmount * 0.7; amount > limit {
			amount = limit
		}
		pos.Status = models.PositionPartialTP2
		pos.TrailingStop = pos.MaxPrice * (1 - cfg.TrailingPct)
		m.log.Info().Str("symbol", pos.Symbol).Int64("position_id", pos.ID).
			Float64("trailing_stop", pos.TrailingStop).Msg("trailing stop armed")
		return m.sell(ctx, pos, amount, models.ReasonTP2, models.ActionTP2)
	}

	// Nothing fired; persist the high-water mark and any trailing raise.
	return nil, m.store.UpdatePosition(ctx, pos)
}

func (m *Manager) closeFull(ctx context.Context, pos *models.Position, reason models.TradeReason, typ models.ActionType) ([]models.Action, error) {
	return m.sell(ctx, pos, pos.CurrentAmount, reason, typ)
}

func (m *Manager) sell(ctx context.Context, pos *models.Position, amount float64, reason models.TradeReason, typ models.ActionType) ([]models.Action, error) {
	trade, extra, err := m.exec.ClosePortion(ctx, pos, amount, reason)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, nil
	}
	actions := []models.Action{{
		Type:       typ,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       "SELL",
		Price:      trade.Price,
		Amount:     trade.Amount,
		Value:      trade.Value,
		Reason:     reason,
		PnL:        trade.PnL,
		PnLPct:     trade.PnLPct,
	}}
	return append(actions, extra...), nil
}

// externalClose books a position the operator sold outside the bot. No
// order is placed; the missing amount is written off at the current price
// and the notification carries a warning flag.
func (m *Manager) externalClose(ctx context.Context, pos *models.Position, price, held float64) ([]models.Action, error) {
	m.log.Warn().Str("symbol", pos.Symbol).Int64("position_id", pos.ID).
		Float64("tracked", pos.CurrentAmount).Float64("held", held).
		Msg("position closed outside the bot")

	trade, extra, err := m.exec.RecordExternalClose(ctx, pos, price)
	if err != nil {
		return nil, err
	}
	actions := []models.Action{{
		Type:       models.ActionExternalClose,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       "SELL",
		Price:      price,
		Amount:     trade.Amount,
		Value:      trade.Value,
		Reason:     models.ReasonManualExternal,
		PnL:        trade.PnL,
		PnLPct:     trade.PnLPct,
		Warning:    true,
	}}
	return append(actions, extra...), nil
}
