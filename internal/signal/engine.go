package signal

import (
	"fmt"
	"strings"
	"time"

	"market-signal-bot/internal/domain"
	"market-signal-bot/internal/ta"
)

const (
	buyMaxRSI  = 40
	sellMinRSI = 60
)

// Classify maps weekly change and RSI to a signal. The rules are checked in
// order and are mutually exclusive.
func Classify(weeklyChangePercent, rsi float64) domain.Signal {
	switch {
	case weeklyChangePercent > 0 && rsi < buyMaxRSI:
		return domain.SignalBuy
	case weeklyChangePercent < 0 && rsi > sellMinRSI:
		return domain.SignalSell
	default:
		return domain.SignalNeutral
	}
}

// IndicatorFunc computes the indicator snapshot for a series.
type IndicatorFunc func(domain.CandleSeries) (domain.IndicatorSnapshot, error)

// Engine evaluates one asset's series into a SignalResult. It holds no
// state between calls.
type Engine struct {
	indicators IndicatorFunc
	anchor     Anchor
}

type Option func(*Engine)

// WithAnchor selects the reference candle for the weekly change.
func WithAnchor(a Anchor) Option {
	return func(e *Engine) { e.anchor = a }
}

// WithIndicators replaces the indicator computation.
func WithIndicators(fn IndicatorFunc) Option {
	return func(e *Engine) { e.indicators = fn }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{indicators: ta.Compute, anchor: AnchorFirst()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate classifies the series. Short series, undefined indicators and
// a missing anchor yield a degraded Neutral result instead of an error.
func (e *Engine) Evaluate(asset domain.AssetConfig, series domain.CandleSeries) domain.SignalResult {
	if len(series) < domain.MinCandles {
		return Degraded(asset)
	}

	start, ok := e.anchor.Find(series)
	if !ok || start.Close == 0 {
		return Degraded(asset)
	}

	snap, err := e.indicators(series)
	if err != nil {
		return Degraded(asset)
	}

	current := series.Last().Close
	change := (current - start.Close) / start.Close * 100
	sig := Classify(change, snap.RSI)

	return domain.SignalResult{
		Asset:               asset,
		CurrentPrice:        current,
		WeeklyChangePercent: change,
		Signal:              sig,
		Indicators:          &snap,
		Report:              FormatReport(asset.Label, current, change, sig),
	}
}

// Degraded is the result for an asset without enough usable data.
func Degraded(asset domain.AssetConfig) domain.SignalResult {
	return domain.SignalResult{
		Asset:    asset,
		Signal:   domain.SignalNeutral,
		Degraded: true,
		Report:   asset.Label + ": داده کافی موجود نیست.",
	}
}

// FormatReport renders the per-asset report. Field order and rounding are
// fixed.
func FormatReport(label string, price, changePercent float64, sig domain.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", label)
	fmt.Fprintf(&b, "قیمت فعلی: %.2f USD\n", price)
	fmt.Fprintf(&b, "تغییرات هفتگی: %.2f%%\n", changePercent)
	fmt.Fprintf(&b, "سیگنال: %s", sig.Label())
	return b.String()
}

// Anchor picks the candle whose close is the week's reference price.
type Anchor struct {
	weekday *time.Weekday
}

// AnchorFirst uses the earliest candle in the window.
func AnchorFirst() Anchor { return Anchor{} }

// AnchorWeekday uses the earliest candle whose UTC open time falls on day.
// A series without such a candle has no anchor.
func AnchorWeekday(day time.Weekday) Anchor { return Anchor{weekday: &day} }

func (a Anchor) Find(series domain.CandleSeries) (domain.Candle, bool) {
	if len(series) == 0 {
		return domain.Candle{}, false
	}
	if a.weekday == nil {
		return series.First(), true
	}
	for _, c := range series {
		if c.OpenTime.UTC().Weekday() == *a.weekday {
			return c, true
		}
	}
	return domain.Candle{}, false
}

func (a Anchor) String() string {
	if a.weekday == nil {
		return "first"
	}
	return a.weekday.String()
}
