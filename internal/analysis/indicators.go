package analysis

import (
	"math"

	"breakout-bot/config"
	"breakout-bot/internal/exchange"
)

// Indicators holds the derived values for the most recent candle of a
// series. All rolling windows are anchored at the last candle.
type Indicators struct {
	Close        float64
	CandleGrowth float64 // (close-open)/open of the last candle

	EMA7   float64
	EMA14  float64
	EMA28  float64
	EMA100 float64

	VolumeSMA      float64
	VolumeRatio    float64 // last volume / SMA
	AvgVolumeRatio float64 // mean volume ratio over the lookback window

	ATR float64
	RSI float64

	High20     float64 // rolling high over lookback, including last candle
	Low20      float64
	PrevHigh20 float64 // rolling high excluding the last candle

	EMASpread   float64 // (|ema7-ema14| + |ema14-ema28|) / close
	EMA100Slope float64 // 5-candle relative slope of the trend EMA
}

// CalculateIndicators computes the full indicator set. Returns nil when the
// series is too short for the trend EMA or the lookback windows; callers
// treat that as "no signal", not a fault.
func CalculateIndicators(klines []exchange.Kline, cfg config.Strategy) *Indicators {
	need := cfg.EMATrend
	if cfg.Lookback+2 > need {
		need = cfg.Lookback + 2
	}
	if len(klines) < need {
		return nil
	}

	closes := make([]float64, len(klines))
	volumes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
		volumes[i] = k.Volume
	}

	last := klines[len(klines)-1]
	n := len(klines)

	ema7 := emaSeries(closes, cfg.EMAFast)
	ema14 := emaSeries(closes, cfg.EMAMid)
	ema28 := emaSeries(closes, cfg.EMASlow)
	ema100 := emaSeries(closes, cfg.EMATrend)

	ind := &Indicators{
		Close:  last.Close,
		EMA7:   ema7[n-1],
		EMA14:  ema14[n-1],
		EMA28:  ema28[n-1],
		EMA100: ema100[n-1],
	}

	if last.Open > 0 {
		ind.CandleGrowth = (last.Close - last.Open) / last.Open
	}

	ind.VolumeSMA = sma(volumes, n-1, cfg.VolumeSMA)
	if ind.VolumeSMA > 0 {
		ind.VolumeRatio = last.Volume / ind.VolumeSMA
	}

	// Mean of per-candle volume ratios across the lookback window, each
	// candle measured against its own trailing SMA.
	var ratioSum float64
	var ratioCount int
	for i := n - cfg.Lookback; i < n; i++ {
		s := sma(volumes, i, cfg.VolumeSMA)
		if s > 0 {
			ratioSum += volumes[i] / s
			ratioCount++
		}
	}
	if ratioCount > 0 {
		ind.AvgVolumeRatio = ratioSum / float64(ratioCount)
	}

	ind.ATR = atr(klines, cfg.ATRPeriod)
	ind.RSI = rsi(closes, cfg.RSIPeriod)

	ind.High20 = rollingHigh(klines, n-cfg.Lookback, n)
	ind.Low20 = rollingLow(klines, n-cfg.Lookback, n)
	ind.PrevHigh20 = rollingHigh(klines, n-cfg.Lookback-1, n-1)

	if last.Close > 0 {
		ind.EMASpread = (math.Abs(ind.EMA7-ind.EMA14) + math.Abs(ind.EMA14-ind.EMA28)) / last.Close
	}
	if prev := ema100[n-6]; prev > 0 {
		ind.EMA100Slope = (ema100[n-1] - prev) / prev
	}

	return ind
}

// emaSeries computes an exponential moving average seeded with the first
// value, matching the recursive form ema[i] = v*k + ema[i-1]*(1-k).
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// sma is the trailing simple average of window values ending at index i.
func sma(values []float64, i, window int) float64 {
	if i+1 < window {
		return 0
	}
	var sum float64
	for j := i - window + 1; j <= i; j++ {
		sum += values[j]
	}
	return sum / float64(window)
}

func atr(klines []exchange.Kline, period int) float64 {
	if len(klines) < period+1 {
		return 0
	}
	var sum float64
	for i := len(klines) - period; i < len(klines); i++ {
		tr := math.Max(klines[i].High-klines[i].Low,
			math.Max(math.Abs(klines[i].High-klines[i-1].Close),
				math.Abs(klines[i].Low-klines[i-1].Close)))
		sum += tr
	}
	return sum / float64(period)
}

func rsi(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

func rollingHigh(klines []exchange.Kline, from, to int) float64 {
	if from < 0 {
		from = 0
	}
	h := -math.MaxFloat64
	for i := from; i < to; i++ {
		if klines[i].High > h {
			h = klines[i].High
		}
	}
	return h
}

func rollingLow(klines []exchange.Kline, from, to int) float64 {
	if from < 0 {
		from = 0
	}
	l := math.MaxFloat64
	for i := from; i < to; i++ {
		if klines[i].Low < l {
			l = klines[i].Low
		}
	}
	return l
}
