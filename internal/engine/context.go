package engine

import "github.com/aquilalabs/watchdeck/internal/domain"

// Context bundles everything a condition is evaluated against: the card's
// pre-transition state, the stock snapshot fixed for the event batch, and
// derived technical indicators. Evaluation is a pure function of this value.
type Context struct {
	Card       *domain.Card
	Snapshot   *domain.Snapshot
	Indicators *domain.IndicatorSet
}

// fieldValue is the small value union the condition language operates on.
type fieldValue struct {
	num   float64
	str   string
	isStr bool
}

func numValue(f float64) fieldValue { return fieldValue{num: f} }
func strValue(s string) fieldValue  { return fieldValue{str: s, isStr: true} }

// Lookup resolves a field identifier against the context. The second return
// is false for unknown fields and for indicator fields that could not be
// computed (insufficient history); both evaluate to a failure, never to a
// silent false.
func (c *Context) Lookup(field string) (fieldValue, bool) {
	switch field {
	case "stockCode":
		return strValue(c.Card.StockCode), true
	case "stockName":
		return strValue(c.Card.StockName), true
	case "cardStatus":
		return strValue(string(c.Card.Status)), true
	}

	if c.Snapshot != nil {
		switch field {
		case "price", "currentPrice":
			return numValue(c.Snapshot.Price), true
		case "openPrice":
			return numValue(c.Snapshot.Open), true
		case "highPrice":
			return numValue(c.Snapshot.High), true
		case "lowPrice":
			return numValue(c.Snapshot.Low), true
		case "previousClose":
			return numValue(c.Snapshot.PreviousClose), true
		case "changePercent":
			return numValue(c.Snapshot.ChangePercent), true
		case "change":
			return numValue(c.Snapshot.Change()), true
		case "volume":
			return numValue(float64(c.Snapshot.Volume)), true
		}
	}

	if c.Indicators != nil {
		var p *float64
		switch field {
		case "ma5":
			p = c.Indicators.MA5
		case "ma10":
			p = c.Indicators.MA10
		case "ma20":
			p = c.Indicators.MA20
		case "ma60":
			p = c.Indicators.MA60
		case "rsi", "rsi14":
			p = c.Indicators.RSI14
		case "macd", "macdLine":
			p = c.Indicators.MACDLine
		case "macdSignal":
			p = c.Indicators.MACDSignal
		case "macdHistogram":
			p = c.Indicators.MACDHistogram
		case "kValue", "kdK":
			p = c.Indicators.KdK
		case "dValue", "kdD":
			p = c.Indicators.KdD
		case "avgVolume":
			p = c.Indicators.AvgVolume
		case "volumeRatio":
			p = c.Indicators.VolumeRatio
		default:
			return fieldValue{}, false
		}
		if p == nil {
			return fieldValue{}, false
		}
		return numValue(*p), true
	}

	return fieldValue{}, false
}
