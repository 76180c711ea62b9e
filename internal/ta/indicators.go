package ta

import "math"

// ewm is the recursive exponential mean (pandas ewm with adjust=False),
// seeded with the first value.
func ewm(values []float64, alpha float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// EMASeries uses span smoothing, alpha = 2/(period+1).
func EMASeries(values []float64, period int) []float64 {
	if period <= 1 {
		return ewm(values, 1)
	}
	return ewm(values, 2/float64(period+1))
}

// RSISeries smooths gains and losses with alpha 1/period. The move at index 0
// counts as zero, so the first delta enters as a regular update. RSI is 100
// whenever the average loss is zero, flat input included. Entries before
// index period-1 are NaN.
func RSISeries(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gains[i] = math.Max(delta, 0)
		losses[i] = math.Max(-delta, 0)
	}
	alpha := 1 / float64(period)
	avgGain := ewm(gains, alpha)
	avgLoss := ewm(losses, alpha)

	series := make([]float64, len(closes))
	for i := range series {
		if i < period-1 {
			series[i] = math.NaN()
			continue
		}
		series[i] = rsiFromAvg(avgGain[i], avgLoss[i])
	}
	return series
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// MACDSeries returns the MACD line (fast EMA minus slow EMA) and its signal
// EMA. Both are defined from the first value on.
func MACDSeries(values []float64, fast, slow, signal int) (macd, signalLine []float64) {
	if len(values) == 0 {
		return nil, nil
	}
	fastEMA := EMASeries(values, fast)
	slowEMA := EMASeries(values, slow)
	macd = make([]float64, len(values))
	for i := range values {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	return macd, EMASeries(macd, signal)
}
