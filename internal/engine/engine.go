package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"breakout-bot/config"
	"breakout-bot/internal/exchange"
	"breakout-bot/internal/models"
	"breakout-bot/internal/scanner"
	"breakout-bot/internal/store"
	"breakout-bot/internal/trading"
)

// Notifier receives the engine's structured decisions. Implementations
// must not block; the engine calls them inline from its loops.
type Notifier interface {
	Notify(action models.Action)
	// PromptSignal asks the operator to accept or reject a fresh signal.
	PromptSignal(sig *models.Signal)
}

// NopNotifier discards everything, used when no channel is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(models.Action)        {}
func (NopNotifier) PromptSignal(*models.Signal) {}

// Engine schedules the two periodic jobs: the market scan and the
// position tick. Each loop finishes its in-flight cycle before Stop
// returns.
type Engine struct {
	gateway  exchange.Gateway
	store    store.Store
	scanner  *scanner.Scanner
	signals  *trading.Signals
	exec     *trading.Executor
	manager  *trading.Manager
	adaptive *trading.Adaptive
	notifier Notifier
	base     config.Strategy
	auto     bool
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type Options struct {
	Gateway  exchange.Gateway
	Store    store.Store
	Scanner  *scanner.Scanner
	Signals  *trading.Signals
	Executor *trading.Executor
	Manager  *trading.Manager
	Adaptive *trading.Adaptive
	Notifier Notifier
	Strategy config.Strategy
	// AutoTrade accepts and executes signals without operator approval.
	AutoTrade bool
	Log       zerolog.Logger
	Now       func() time.Time
}

func New(opts Options) *Engine {
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		gateway:  opts.Gateway,
		store:    opts.Store,
		scanner:  opts.Scanner,
		signals:  opts.Signals,
		exec:     opts.Executor,
		manager:  opts.Manager,
		adaptive: opts.Adaptive,
		notifier: opts.Notifier,
		base:     opts.Strategy,
		auto:     opts.AutoTrade,
		log:      opts.Log.With().Str("component", "engine").Logger(),
		now:      opts.Now,
	}
}

// SetNotifier swaps the notification sink. Call before Start; the
// notifier usually needs the engine for its own commands, so it is wired
// after construction.
func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n == nil {
		n = NopNotifier{}
	}
	e.notifier = n
}

func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})

	e.wg.Add(2)
	go e.loop(ctx, e.base.ScanInterval(), e.scanCycle)
	go e.loop(ctx, e.base.PositionCheckInterval(), e.positionCycle)
	e.log.Info().
		Dur("scan_interval", e.base.ScanInterval()).
		Dur("position_interval", e.base.PositionCheckInterval()).
		Bool("auto_trade", e.auto).
		Msg("engine started")
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	e.log.Info().Msg("engine stopped")
}

func (e *Engine) loop(ctx context.Context, interval time.Duration, cycle func(context.Context)) {
	defer e.wg.Done()

	cycle(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle(ctx)
		}
	}
}

func (e *Engine) scanCycle(ctx context.Context) {
	if _, err := e.signals.ExpireStale(ctx, e.base); err != nil {
		e.log.Error().Err(err).Msg("expire sweep failed")
	}

	report, err := e.scanner.Scan(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("scan failed")
		return
	}

	for _, sig := range report.Signals() {
		e.notifier.Notify(models.Action{
			Type:     models.ActionSignalFound,
			SignalID: sig.ID,
			Symbol:   sig.Symbol,
			Price:    sig.Price,
		})
		if e.auto {
			if err := e.DecideSignal(ctx, sig.ID, true, 0); err != nil {
				e.log.Error().Err(err).Int64("signal_id", sig.ID).Msg("auto execution failed")
			}
		} else {
			e.notifier.PromptSignal(sig)
		}
	}
}

// DecideSignal resolves a signal against the live price and, on accept,
// opens the position. quoteOverride replaces the configured position size
// when positive; zero keeps the default sizing. Safe to call repeatedly
// for the same signal.
func (e *Engine) DecideSignal(ctx context.Context, id int64, accept bool, quoteOverride float64) error {
	sig, err := e.store.GetSignal(ctx, id)
	if err != nil {
		return err
	}
	ticker, err := e.gateway.GetTicker(ctx, sig.Symbol)
	if err != nil {
		return err
	}

	cfg, err := e.adaptive.StrategyFor(ctx, sig.Symbol, e.base)
	if err != nil {
		return err
	}
	sig, err = e.signals.Decide(ctx, id, accept, ticker.Last, cfg)
	if err != nil {
		return err
	}
	if sig.Status != models.SignalAccepted {
		return nil
	}

	_, actions, err := e.exec.OpenFromSignal(ctx, sig, cfg, quoteOverride)
	if err != nil {
		return err
	}
	for _, a := range actions {
		e.notifier.Notify(a)
	}
	return nil
}

// SetRiskPreset applies a manual risk preset for one instrument.
func (e *Engine) SetRiskPreset(ctx context.Context, symbol string, mode models.OverrideMode) error {
	action, err := e.adaptive.SetManual(ctx, symbol, mode)
	if err != nil {
		return err
	}
	if action != nil {
		e.notifier.Notify(*action)
	}
	return nil
}

// positionCycle reconciles and advances every open position. One bad
// instrument never blocks the rest of the book.
func (e *Engine) positionCycle(ctx context.Context) {
	positions, err := e.store.OpenPositions(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("loading open positions failed")
		return
	}
	if len(positions) == 0 {
		return
	}

	balances, err := e.gateway.GetBalances(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("balance fetch failed, skipping position cycle")
		return
	}

	for _, pos := range positions {
		if err := e.tickPosition(ctx, pos, balances); err != nil {
			e.log.Error().Err(err).Str("symbol", pos.Symbol).Int64("position_id", pos.ID).
				Msg("position tick failed")
		}
	}
}

func (e *Engine) tickPosition(ctx context.Context, pos *models.Position, balances map[string]exchange.Balance) error {
	ticker, err := e.gateway.GetTicker(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	cfg, err := e.adaptive.StrategyFor(ctx, pos.Symbol, e.base)
	if err != nil {
		return err
	}

	held := balances[trading.BaseAsset(pos.Symbol)].Total
	actions, err := e.manager.Tick(ctx, pos, ticker.Last, held, cfg)
	if err != nil {
		return err
	}
	for _, a := range actions {
		e.notifier.Notify(a)
	}
	return nil
}

// CloseAllPositions liquidates the whole book, used on operator request
// or shutdown.
func (e *Engine) CloseAllPositions(ctx context.Context) error {
	return e.exec.CloseAll(ctx)
}
