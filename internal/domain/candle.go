package domain

import "time"

// MinCandles is the shortest series the indicator engine accepts.
const MinCandles = 20

// Candle represents a single OHLC candle for an asset.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
}

// CandleSeries is an ascending-by-time run of candles for one asset and
// one lookback window.
type CandleSeries []Candle

// Closes returns the closing prices in series order.
func (s CandleSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// First returns the earliest candle. Callers must check the length.
func (s CandleSeries) First() Candle { return s[0] }

// Last returns the latest candle. Callers must check the length.
func (s CandleSeries) Last() Candle { return s[len(s)-1] }
