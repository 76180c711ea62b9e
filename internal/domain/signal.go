package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable means the market data retrieval failed or returned
	// a payload that could not be parsed.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrInsufficientData means the series is too short or an indicator is
	// undefined for it.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrNoSubscriber means a digest is due but no chat has subscribed.
	ErrNoSubscriber = errors.New("no subscribed chat")
)

// Signal is the tri-state trading signal.
type Signal int

const (
	SignalNeutral Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "neutral"
	}
}

// Label returns the localized signal label used in reports.
func (s Signal) Label() string {
	switch s {
	case SignalBuy:
		return "سیگنال خرید"
	case SignalSell:
		return "سیگنال فروش"
	default:
		return "خنثی"
	}
}

func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signal) UnmarshalText(b []byte) error {
	switch string(b) {
	case "buy":
		*s = SignalBuy
	case "sell":
		*s = SignalSell
	case "neutral":
		*s = SignalNeutral
	default:
		return fmt.Errorf("unknown signal %q", string(b))
	}
	return nil
}

// IndicatorSnapshot holds the last value of each indicator for one series.
type IndicatorSnapshot struct {
	RSI        float64 `json:"rsi"`
	SMA        float64 `json:"sma"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	// MACDDiff is informational; the decision rule does not read it.
	MACDDiff float64 `json:"macd_diff"`
}

// SignalResult is the outcome of evaluating one asset.
type SignalResult struct {
	Asset               AssetConfig        `json:"asset"`
	CurrentPrice        float64            `json:"current_price"`
	WeeklyChangePercent float64            `json:"weekly_change_percent"`
	Signal              Signal             `json:"signal"`
	Indicators          *IndicatorSnapshot `json:"indicators,omitempty"`
	Degraded            bool               `json:"degraded"`
	Report              string             `json:"report"`
}
