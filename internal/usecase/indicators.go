package usecase

import "github.com/vitos/stock_auto_trader/internal/domain"

const (
	rsiPeriod      = 14
	shortSMAWindow = 5
	longSMAWindow  = 20
)

// SMA returns the simple moving average of the last window values.
func SMA(values []int64, window int) (float64, bool) {
	if window <= 0 || len(values) < window {
		return 0, false
	}
	var sum int64
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return float64(sum) / float64(window), true
}

// RSI returns the latest relative strength index over the closes, using
// simple rolling means of gains and losses.
func RSI(closes []int64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		delta := float64(closes[i] - closes[i-1])
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	gain /= float64(period)
	loss /= float64(period)

	if loss == 0 {
		loss = 1e-10
	}
	rs := gain / loss
	return 100.0 - 100.0/(1.0+rs), true
}

// DailyUptrend reports whether the daily bars confirm a short-term uptrend:
// SMA5 above SMA20 and the latest close above SMA5. Fewer bars than the
// long window counts as filter-fail.
func DailyUptrend(candles []domain.Candle) bool {
	if len(candles) < longSMAWindow {
		return false
	}

	closes := make([]int64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	shortSMA, ok := SMA(closes, shortSMAWindow)
	if !ok {
		return false
	}
	longSMA, ok := SMA(closes, longSMAWindow)
	if !ok {
		return false
	}

	latestClose := float64(closes[len(closes)-1])
	return shortSMA > longSMA && latestClose > shortSMA
}
