package ta

import (
	"fmt"
	"math"

	"market-signal-bot/internal/domain"

	"github.com/cinar/indicator"
	"github.com/samber/lo"
)

const (
	RSIPeriod        = 14
	SMAPeriod        = 20
	MACDFastPeriod   = 12
	MACDSlowPeriod   = 26
	MACDSignalPeriod = 9
)

// Compute derives the indicator snapshot from the series' closes. The series
// must already be in ascending time order.
func Compute(series domain.CandleSeries) (domain.IndicatorSnapshot, error) {
	if len(series) < domain.MinCandles {
		return domain.IndicatorSnapshot{}, fmt.Errorf("%d candles, need %d: %w",
			len(series), domain.MinCandles, domain.ErrInsufficientData)
	}
	closes := series.Closes()

	macd, macdSignal := MACDSeries(closes, MACDFastPeriod, MACDSlowPeriod, MACDSignalPeriod)
	snap := domain.IndicatorSnapshot{
		RSI:        lo.LastOrEmpty(RSISeries(closes, RSIPeriod)),
		SMA:        lo.LastOrEmpty(indicator.Sma(SMAPeriod, closes)),
		MACD:       lo.LastOrEmpty(macd),
		MACDSignal: lo.LastOrEmpty(macdSignal),
	}
	snap.MACDDiff = snap.MACD - snap.MACDSignal

	for name, v := range map[string]float64{
		"rsi":         snap.RSI,
		"sma":         snap.SMA,
		"macd":        snap.MACD,
		"macd_signal": snap.MACDSignal,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.IndicatorSnapshot{}, fmt.Errorf("%s undefined: %w", name, domain.ErrInsufficientData)
		}
	}
	return snap, nil
}
