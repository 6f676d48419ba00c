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

// Signals owns the signal lifecycle: recording detections, the cooldown
// guard, the accept/reject decision and expiry of stale entries.
type Signals struct {
	store     store.Store
	cooldowns store.CooldownStore
	log       zerolog.Logger
	now       func() time.Time
}

// NewSignals wires the service. cooldowns may be a cache in front of the
// durable store; pass the store itself when no cache is configured.
func NewSignals(st store.Store, cooldowns store.CooldownStore, log zerolog.Logger, now func() time.Time) *Signals {
	if now == nil {
		now = time.Now
	}
	return &Signals{
		store:     st,
		cooldowns: cooldowns,
		log:       log.With().Str("component", "signals").Logger(),
		now:       now,
	}
}

// ShouldSignal reports whether symbol is outside its cooldown window.
func (s *Signals) ShouldSignal(ctx context.Context, symbol string, cooldown time.Duration) (bool, error) {
	last, ok, err := s.cooldowns.LastSignalAt(ctx, symbol)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return s.now().Sub(last) >= cooldown, nil
}

// Record persists a freshly detected signal as pending, starts the
// instrument's cooldown and counts it in the daily stats.
func (s *Signals) Record(ctx context.Context, sig *models.Signal, cooldown time.Duration) error {
	now := s.now()
	sig.Status = models.SignalPending
	sig.CreatedAt = now

	if err := s.store.CreateSignal(ctx, sig); err != nil {
		return err
	}
	if err := s.cooldowns.SetCooldown(ctx, sig.Symbol, now, cooldown); err != nil {
		s.log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("cooldown not recorded")
	}

	if err := s.store.AddDailyStats(ctx, now, models.DailyStats{SignalsSent: 1}); err != nil {
		return err
	}

	s.log.Info().Str("symbol", sig.Symbol).Int64("signal_id", sig.ID).
		Float64("price", sig.Price).Float64("growth", sig.CandleGrowthPct).
		Msg("signal recorded")
	return nil
}

// Decide resolves a pending signal. Repeat calls on a decided signal are
// no-ops returning the stored state, so a retried command cannot flip an
// outcome. Accepting checks the current price first: if it drifted past
// the configured limit the signal expires instead, whatever the caller
// asked for.
func (s *Signals) Decide(ctx context.Context, id int64, accept bool, currentPrice float64, cfg config.Strategy) (*models.Signal, error) {
	sig, err := s.store.GetSignal(ctx, id)
	if err != nil {
		return nil, err
	}
	if sig.Status != models.SignalPending {
		return sig, nil
	}

	now := s.now()
	sig.DecidedAt = &now

	var delta models.DailyStats
	switch {
	case !accept:
		sig.Status = models.SignalRejected
		delta.SignalsRejected = 1
	case s.drifted(sig, currentPrice, cfg):
		sig.Status = models.SignalExpired
		s.log.Info().Int64("signal_id", id).Float64("signal_price", sig.Price).
			Float64("current_price", currentPrice).Msg("price drifted, signal expired")
	default:
		sig.Status = models.SignalAccepted
		delta.SignalsAccepted = 1
	}

	if err := s.store.UpdateSignal(ctx, sig); err != nil {
		return nil, err
	}
	if delta.SignalsAccepted+delta.SignalsRejected > 0 {
		if err := s.store.AddDailyStats(ctx, now, delta); err != nil {
			return nil, err
		}
	}
	return sig, nil
}

func (s *Signals) drifted(sig *models.Signal, currentPrice float64, cfg config.Strategy) bool {
	if sig.Price <= 0 || currentPrice <= 0 {
		return true
	}
	return math.Abs(currentPrice-sig.Price)/sig.Price > cfg.PriceDriftLimit
}

// MarkExecuted moves an accepted signal to its final state once a
// position has been opened from it.
func (s *Signals) MarkExecuted(ctx context.Context, sig *models.Signal) error {
	sig.Status = models.SignalExecuted
	return s.store.UpdateSignal(ctx, sig)
}

// ExpireStale sweeps pending signals older than the configured expiry.
// Returns how many were expired.
func (s *Signals) ExpireStale(ctx context.Context, cfg config.Strategy) (int, error) {
	pending, err := s.store.PendingSignals(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	cutoff := now.Add(-cfg.SignalExpiry())
	var n int
	for _, sig := range pending {
		if sig.CreatedAt.After(cutoff) {
			continue
		}
		sig.Status = models.SignalExpired
		sig.DecidedAt = &now
		if err := s.store.UpdateSignal(ctx, sig); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.log.Info().Int("expired", n).Msg("stale signals expired")
	}
	return n, nil
}
