// Package formulas provides technical indicator calculations over price
// history. All functions return nil when the input series is too short for
// the indicator to be meaningful.
package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateSMA calculates the simple moving average over the given period.
func CalculateSMA(closes []float64, length int) *float64 {
	if len(closes) < length {
		return nil
	}

	sma := talib.Sma(closes, length)
	return lastValid(sma)
}

// CalculateRSI calculates the Relative Strength Index.
//
// RSI = 100 - (100 / (1 + RS)), RS = average gain / average loss over N
// periods. Needs length+1 closes for the first delta.
func CalculateRSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)
	return lastValid(rsi)
}

// MACDResult carries the three MACD series endpoints.
type MACDResult struct {
	Line      *float64
	Signal    *float64
	Histogram *float64
}

// CalculateMACD calculates MACD with the standard 12/26/9 parameters.
func CalculateMACD(closes []float64) MACDResult {
	const (
		fastPeriod   = 12
		slowPeriod   = 26
		signalPeriod = 9
	)

	if len(closes) < slowPeriod+signalPeriod {
		return MACDResult{}
	}

	line, signal, histogram := talib.Macd(closes, fastPeriod, slowPeriod, signalPeriod)
	return MACDResult{
		Line:      lastValid(line),
		Signal:    lastValid(signal),
		Histogram: lastValid(histogram),
	}
}

// StochResult carries the %K and %D endpoints of the stochastic oscillator.
type StochResult struct {
	K *float64
	D *float64
}

// CalculateStoch calculates the stochastic oscillator with the standard
// 9/3/3 parameters.
func CalculateStoch(highs, lows, closes []float64) StochResult {
	const (
		fastKPeriod = 9
		slowKPeriod = 3
		slowDPeriod = 3
	)

	if len(closes) < fastKPeriod+slowKPeriod+slowDPeriod {
		return StochResult{}
	}

	k, d := talib.Stoch(highs, lows, closes, fastKPeriod, slowKPeriod, talib.SMA, slowDPeriod, talib.SMA)
	return StochResult{K: lastValid(k), D: lastValid(d)}
}

// lastValid returns a pointer to the last non-NaN value of the series.
func lastValid(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if isNaN(v) {
		return nil
	}
	return &v
}

func isNaN(f float64) bool {
	return f != f
}
