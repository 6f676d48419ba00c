package analysis

import (
	"math"

	"breakout-bot/config"
	"breakout-bot/internal/exchange"
)

// AccumulationMetrics explains why a symbol did or did not qualify as
// consolidating before a breakout.
type AccumulationMetrics struct {
	RangeRatio     float64 // (high-low over lookback) / ATR
	AvgVolumeRatio float64
	RangeOK        bool
	VolumeOK       bool
}

func (m AccumulationMetrics) OK() bool { return m.RangeOK && m.VolumeOK }

// DetectAccumulation checks whether the lookback window was a tight,
// quiet range. A wide or high-volume window means the move already
// happened and the breakout candle would be chasing it.
func DetectAccumulation(ind *Indicators, cfg config.Strategy) AccumulationMetrics {
	m := AccumulationMetrics{AvgVolumeRatio: ind.AvgVolumeRatio}
	if ind.ATR > 0 {
		m.RangeRatio = (ind.High20 - ind.Low20) / ind.ATR
		m.RangeOK = m.RangeRatio <= cfg.AccumulationRangeMult
	}
	m.VolumeOK = ind.AvgVolumeRatio < cfg.AccumulationVolRatio
	return m
}

// BreakoutMetrics explains the breakout decision for one candle.
type BreakoutMetrics struct {
	CandleGrowth float64
	VolumeRatio  float64
	RSI          float64
	GrowthOK     bool
	VolumeOK     bool
	RSIOK        bool
	AboveRange   bool
}

func (m BreakoutMetrics) OK() bool {
	return m.GrowthOK && m.VolumeOK && m.RSIOK && m.AboveRange
}

// DetectBreakout checks the last candle for a volume-backed push through
// the top of the accumulation range. Growth above the maximum is rejected
// as well: a candle that large is a pump, not an entry.
func DetectBreakout(ind *Indicators, cfg config.Strategy) BreakoutMetrics {
	m := BreakoutMetrics{
		CandleGrowth: ind.CandleGrowth,
		VolumeRatio:  ind.VolumeRatio,
		RSI:          ind.RSI,
	}
	m.GrowthOK = ind.CandleGrowth >= cfg.MinCandleGrowth && ind.CandleGrowth <= cfg.MaxCandleGrowth
	m.VolumeOK = ind.VolumeRatio >= cfg.VolumeBreakoutMult
	m.RSIOK = ind.RSI <= cfg.MaxRSI
	m.AboveRange = ind.Close > ind.PrevHigh20
	return m
}

// PumpMetrics explains the order-book sanity check.
type PumpMetrics struct {
	Spread      float64
	BidAskRatio float64
	SpreadOK    bool
	DepthOK     bool
}

func (m PumpMetrics) OK() bool { return m.SpreadOK && m.DepthOK }

// CheckFalsePump inspects the live order book: a wide spread or an
// ask-heavy book right after a green candle is the signature of a pump
// being distributed into.
func CheckFalsePump(book *exchange.OrderBook, cfg config.Strategy) PumpMetrics {
	m := PumpMetrics{
		Spread:      book.Spread(),
		BidAskRatio: book.BidAskVolumeRatio(5),
	}
	m.SpreadOK = m.Spread <= cfg.MaxSpread
	m.DepthOK = m.BidAskRatio >= cfg.MinBidAskRatio
	return m
}

// Levels are the actionable prices derived from a confirmed breakout.
type Levels struct {
	EntryLow  float64
	EntryHigh float64
	StopLoss  float64
	TP1       float64
	TP2       float64
	TP3       float64
}

// RiskPct is the relative distance from the mid entry to the stop.
func (l Levels) RiskPct() float64 {
	mid := (l.EntryLow + l.EntryHigh) / 2
	if mid <= 0 {
		return 0
	}
	return (mid - l.StopLoss) / mid
}

// CalculateLevels derives entry band, stop and take-profit prices from
// the breakout close. The stop sits under structure, min of the slow EMA
// and the swing low, with a small buffer; it is then pulled up so the
// distance from entry never exceeds the configured cap.
func CalculateLevels(ind *Indicators, cfg config.Strategy) Levels {
	price := ind.Close

	structural := math.Min(ind.EMA28, ind.Low20) * (1 - cfg.SLBufferPct)
	floor := price * (1 - cfg.SLMaxDistancePct)
	sl := math.Max(structural, floor)

	return Levels{
		EntryLow:  price * 0.998,
		EntryHigh: price * 1.002,
		StopLoss:  sl,
		TP1:       price * (1 + cfg.TP1Pct),
		TP2:       price * (1 + cfg.TP2Pct),
		TP3:       price * (1 + cfg.TP3Pct),
	}
}
