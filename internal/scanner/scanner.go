package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"breakout-bot/config"
	"breakout-bot/internal/analysis"
	"breakout-bot/internal/exchange"
	"breakout-bot/internal/models"
	"breakout-bot/internal/store"
	"breakout-bot/internal/trading"
)

// Status classifies the outcome of scanning one instrument.
type Status int

const (
	// Ok means a signal was detected and recorded.
	Ok Status = iota
	// Skipped means a filter rejected the instrument this pass.
	Skipped
	// Faulted means an infrastructure error stopped the pipeline for
	// this instrument only; the rest of the scan continues.
	Faulted
)

// Result is the per-instrument outcome of one scan pass.
type Result struct {
	Symbol string
	Status Status
	Reason string // filter name for Skipped
	Err    error  // set for Faulted
	Signal *models.Signal
}

// Report summarizes one full scan. A non-empty Gate means the whole pass
// was suppressed before any instrument was looked at.
type Report struct {
	Gate    string
	Results []Result
}

// Signals returns the recorded signals of this pass.
func (r *Report) Signals() []*models.Signal {
	var out []*models.Signal
	for _, res := range r.Results {
		if res.Status == Ok {
			out = append(out, res.Signal)
		}
	}
	return out
}

const (
	btcSymbol   = "BTCUSDT"
	scanWorkers = 5
)

// Scanner runs the breakout pipeline across the tradable universe. The
// universe itself is cached with a TTL and survives listing outages by
// reusing the previous snapshot.
type Scanner struct {
	gateway  exchange.Gateway
	store    store.Store
	signals  *trading.Signals
	adaptive *trading.Adaptive
	base     config.Strategy
	log      zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	universe  []string
	fetchedAt time.Time
}

func New(gw exchange.Gateway, st store.Store, sig *trading.Signals, ad *trading.Adaptive, base config.Strategy, log zerolog.Logger, now func() time.Time) *Scanner {
	if now == nil {
		now = time.Now
	}
	return &Scanner{
		gateway:  gw,
		store:    st,
		signals:  sig,
		adaptive: ad,
		base:     base,
		log:      log.With().Str("component", "scanner").Logger(),
		now:      now,
	}
}

// Universe returns the cached symbol list, refreshing it when the TTL has
// lapsed. A failed refresh falls back to the stale snapshot when one
// exists: a listing outage should not blind the position loops.
func (s *Scanner) Universe(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.universe) > 0 && s.now().Sub(s.fetchedAt) < s.base.UniverseTTL() {
		return s.universe, nil
	}

	symbols, err := s.gateway.GetTradeableSymbols(ctx, exchange.UniverseFilter{
		QuoteAsset:     trading.QuoteAsset,
		MinPrice:       s.base.MinPrice,
		MaxPrice:       s.base.MaxPrice,
		MinQuoteVolume: s.base.MinQuoteVolume,
		ExcludedBases:  s.base.ExcludedBases,
	})
	if err != nil {
		if len(s.universe) > 0 {
			s.log.Warn().Err(err).Int("stale_count", len(s.universe)).
				Msg("universe refresh failed, using stale snapshot")
			return s.universe, nil
		}
		return nil, err
	}

	s.universe = symbols
	s.fetchedAt = s.now()
	s.log.Info().Int("count", len(symbols)).Msg("universe refreshed")
	return symbols, nil
}

// Scan runs one full pass: global gates first, then the per-instrument
// pipeline over the universe with a bounded worker pool. An instrument
// fault never stops the others.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	if gate, err := s.gateCheck(ctx); err != nil {
		return nil, err
	} else if gate != "" {
		s.log.Info().Str("gate", gate).Msg("scan suppressed")
		return &Report{Gate: gate}, nil
	}

	universe, err := s.Universe(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(universe))
	sem := make(chan struct{}, scanWorkers)
	var wg sync.WaitGroup
	for i, symbol := range universe {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, symbol string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.scanSymbol(ctx, symbol)
		}(i, symbol)
	}
	wg.Wait()

	report := &Report{Results: results}
	for _, r := range results {
		if r.Status == Faulted {
			s.log.Warn().Err(r.Err).Str("symbol", r.Symbol).Msg("instrument scan faulted")
		}
	}
	if found := len(report.Signals()); found > 0 {
		s.log.Info().Int("signals", found).Int("scanned", len(universe)).Msg("scan finished")
	}
	return report, nil
}

// gateCheck evaluates the pass-wide suppressions. Returns a non-empty
// reason string when the whole scan should be skipped.
func (s *Scanner) gateCheck(ctx context.Context) (string, error) {
	if h := s.now().UTC().Hour(); h >= s.base.NightStartHour && h < s.base.NightEndHour {
		return "night hours", nil
	}

	stats, err := s.store.GetDailyStats(ctx, s.now())
	if err != nil {
		return "", err
	}
	if stats.StopLossesToday >= s.base.MaxDailyLosses {
		return fmt.Sprintf("daily loss cap (%d stop-losses)", stats.StopLossesToday), nil
	}

	open, err := s.store.OpenPositions(ctx)
	if err != nil {
		return "", err
	}
	if len(open) >= s.base.MaxPositions {
		return fmt.Sprintf("max positions (%d open)", len(open)), nil
	}

	drop, err := s.btcHourlyChange(ctx)
	if err != nil {
		// Treat an unreadable BTC feed as a gate: trading into an
		// unknown market regime is worse than missing a candle.
		s.log.Warn().Err(err).Msg("btc gate check failed, suppressing scan")
		return "btc feed unavailable", nil
	}
	if drop <= s.base.BTCDropThreshold {
		return fmt.Sprintf("btc down %.1f%% in 1h", drop*100), nil
	}
	return "", nil
}

func (s *Scanner) btcHourlyChange(ctx context.Context) (float64, error) {
	klines, err := s.gateway.GetKlines(ctx, btcSymbol, "1h", 2)
	if err != nil {
		return 0, err
	}
	if len(klines) < 2 || klines[0].Close <= 0 {
		return 0, fmt.Errorf("btc klines: got %d candles", len(klines))
	}
	prev := klines[len(klines)-2]
	last := klines[len(klines)-1]
	return (last.Close - prev.Close) / prev.Close, nil
}

func skip(symbol, reason string) Result {
	return Result{Symbol: symbol, Status: Skipped, Reason: reason}
}

func fault(symbol string, err error) Result {
	return Result{Symbol: symbol, Status: Faulted, Err: err}
}

// scanSymbol runs the staged pipeline for one instrument. Cheap checks
// come first so most symbols drop out before the order book fetch.
func (s *Scanner) scanSymbol(ctx context.Context, symbol string) Result {
	cfg, err := s.adaptive.StrategyFor(ctx, symbol, s.base)
	if err != nil {
		return fault(symbol, err)
	}

	ok, err := s.signals.ShouldSignal(ctx, symbol, cfg.Cooldown())
	if err != nil {
		return fault(symbol, err)
	}
	if !ok {
		return skip(symbol, "cooldown")
	}

	klines, err := s.gateway.GetKlines(ctx, symbol, cfg.MainInterval, cfg.CandleLimit)
	if err != nil {
		return fault(symbol, err)
	}
	if len(klines) < cfg.MinCandles {
		return skip(symbol, "insufficient history")
	}

	ind := analysis.CalculateIndicators(klines, cfg)
	if ind == nil {
		return skip(symbol, "insufficient history")
	}

	acc := analysis.DetectAccumulation(ind, cfg)
	if !acc.OK() {
		return skip(symbol, "no accumulation")
	}

	br := analysis.DetectBreakout(ind, cfg)
	if !br.OK() {
		return skip(symbol, "no breakout")
	}

	book, err := s.gateway.GetOrderBook(ctx, symbol, 10)
	if err != nil {
		return fault(symbol, err)
	}
	pump := analysis.CheckFalsePump(book, cfg)
	if !pump.OK() {
		return skip(symbol, "false pump")
	}

	fomo, err := s.fomoCheck(ctx, symbol, ind.Close, cfg)
	if err != nil {
		return fault(symbol, err)
	}
	if !fomo {
		return skip(symbol, "too far from daily low")
	}

	levels := analysis.CalculateLevels(ind, cfg)
	sig := &models.Signal{
		Symbol:            symbol,
		Price:             ind.Close,
		CandleGrowthPct:   ind.CandleGrowth,
		VolumeRatio:       ind.VolumeRatio,
		SpreadPct:         pump.Spread,
		RSI:               ind.RSI,
		EMA7:              ind.EMA7,
		EMA14:             ind.EMA14,
		EMA28:             ind.EMA28,
		EMA100:            ind.EMA100,
		AccumulationRange: acc.RangeRatio,
		EntryLow:          levels.EntryLow,
		EntryHigh:         levels.EntryHigh,
		StopLoss:          levels.StopLoss,
		TP1:               levels.TP1,
		TP2:               levels.TP2,
		TP3:               levels.TP3,
	}
	if err := s.signals.Record(ctx, sig, cfg.Cooldown()); err != nil {
		return fault(symbol, err)
	}
	return Result{Symbol: symbol, Status: Ok, Signal: sig}
}

// fomoCheck rejects entries too far above the daily low: the move is
// already several legs old and the stop would sit under nothing.
func (s *Scanner) fomoCheck(ctx context.Context, symbol string, price float64, cfg config.Strategy) (bool, error) {
	daily, err := s.gateway.GetKlines(ctx, symbol, "1d", 1)
	if err != nil {
		return false, err
	}
	if len(daily) == 0 || daily[0].Low <= 0 {
		return false, fmt.Errorf("daily kline missing for %s", symbol)
	}
	return price <= daily[0].Low*(1+cfg.MaxFromDailyLowPct), nil
}
