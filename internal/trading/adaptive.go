package trading

import (
	"context"

	"github.com/rs/zerolog"

	"breakout-bot/config"
	"breakout-bot/internal/models"
	"breakout-bot/internal/store"
)

// Thresholds for the per-trade and streak adjustments. PnL values are in
// percent of entry value, so a stopped-out position reports around -2.0.
const (
	badTradePct  = -0.3
	goodTradePct = 0.5

	badStreakAvgPct  = -0.2
	goodStreakAvgPct = 0.5

	streakWindow = 5
	pnlWindow    = 20

	manualModeTrades = 5
)

// Adaptive drives the per-instrument risk level. Losses push the level up
// (tighter stops, stricter entries), wins pull it down; a manual preset
// pins the level until enough trades have closed under it.
type Adaptive struct {
	store store.AdaptiveStore
	log   zerolog.Logger
}

func NewAdaptive(st store.AdaptiveStore, log zerolog.Logger) *Adaptive {
	return &Adaptive{store: st, log: log.With().Str("component", "adaptive").Logger()}
}

// RiskLevel returns the current level for symbol.
func (a *Adaptive) RiskLevel(ctx context.Context, symbol string) (int, error) {
	st, err := a.store.GetAdaptiveState(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return st.RiskLevel, nil
}

// StrategyFor resolves the threshold snapshot for one scan or tick of
// symbol at its current risk level.
func (a *Adaptive) StrategyFor(ctx context.Context, symbol string, base config.Strategy) (config.Strategy, error) {
	level, err := a.RiskLevel(ctx, symbol)
	if err != nil {
		return base, err
	}
	return base.ForRiskLevel(level), nil
}

// OnTradeClosed records a realized result and adjusts the risk level.
// Returns a RISK_CHANGED action when the level moved, nil otherwise.
func (a *Adaptive) OnTradeClosed(ctx context.Context, symbol string, pnlPct float64) (*models.Action, error) {
	st, err := a.store.GetAdaptiveState(ctx, symbol)
	if err != nil {
		return nil, err
	}

	st.LastPnLs = append(st.LastPnLs, pnlPct)
	if len(st.LastPnLs) > pnlWindow {
		st.LastPnLs = st.LastPnLs[len(st.LastPnLs)-pnlWindow:]
	}

	if st.ManualMode != models.OverrideNone {
		st.TradesInManual++
		if st.TradesInManual >= manualModeTrades {
			a.log.Info().Str("symbol", symbol).Str("mode", string(st.ManualMode)).
				Msg("manual risk preset expired, back to automatic")
			st.ManualMode = models.OverrideNone
			st.TradesInManual = 0
		}
		return nil, a.store.SaveAdaptiveState(ctx, st)
	}

	level := st.RiskLevel
	switch {
	case pnlPct <= badTradePct:
		level++
	case pnlPct >= goodTradePct:
		level--
	}

	if len(st.LastPnLs) >= streakWindow {
		var sum float64
		for _, p := range st.LastPnLs[len(st.LastPnLs)-streakWindow:] {
			sum += p
		}
		switch avg := sum / streakWindow; {
		case avg < badStreakAvgPct:
			level++
		case avg > goodStreakAvgPct:
			level--
		}
	}

	if level > config.MaxRiskLevel {
		level = config.MaxRiskLevel
	} else if level < config.MinRiskLevel {
		level = config.MinRiskLevel
	}

	changed := level != st.RiskLevel
	st.RiskLevel = level
	if err := a.store.SaveAdaptiveState(ctx, st); err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}

	a.log.Info().Str("symbol", symbol).Int("risk_level", level).Float64("pnl_pct", pnlPct).
		Msg("risk level adjusted")
	return &models.Action{
		Type:      models.ActionRiskChanged,
		Symbol:    symbol,
		PnLPct:    pnlPct,
		RiskLevel: level,
	}, nil
}

// SetManual applies a named preset and pins it for the next few trades.
func (a *Adaptive) SetManual(ctx context.Context, symbol string, mode models.OverrideMode) (*models.Action, error) {
	var level int
	switch mode {
	case models.OverrideSoft:
		level = -1
	case models.OverrideNormal:
		level = 0
	case models.OverrideHard:
		level = 1
	default:
		mode = models.OverrideNone
	}

	st, err := a.store.GetAdaptiveState(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if mode != models.OverrideNone {
		st.RiskLevel = level
	}
	st.ManualMode = mode
	st.TradesInManual = 0
	if err := a.store.SaveAdaptiveState(ctx, st); err != nil {
		return nil, err
	}

	a.log.Info().Str("symbol", symbol).Str("mode", string(mode)).Int("risk_level", st.RiskLevel).
		Msg("manual risk preset applied")
	return &models.Action{
		Type:      models.ActionRiskChanged,
		Symbol:    symbol,
		RiskLevel: st.RiskLevel,
	}, nil
}
