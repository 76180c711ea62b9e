package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"market-signal-bot/internal/domain"
	signalengine "market-signal-bot/internal/signal"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultLookbackDays = 7
	WeeklyDigestHeader  = "پیام هفتگی:\n"
	reportSeparator     = "\n\n"
)

var ErrNoAssets = errors.New("no assets configured")

// CandleSource provides candle series for an asset.
type CandleSource interface {
	GetCandles(ctx context.Context, assetID string, lookbackDays int) (domain.CandleSeries, error)
}

// Evaluator turns a series into a signal result.
type Evaluator interface {
	Evaluate(asset domain.AssetConfig, series domain.CandleSeries) domain.SignalResult
}

// SignalService runs the candle store and decision engine for single-asset
// queries and the multi-asset digest.
type SignalService struct {
	tracer       trace.Tracer
	candles      CandleSource
	engine       Evaluator
	assets       []domain.AssetConfig
	lookbackDays int
}

// NewSignalService validates the asset set. An empty or duplicated set is a
// configuration error.
func NewSignalService(
	tracer trace.Tracer,
	candles CandleSource,
	engine Evaluator,
	assets []domain.AssetConfig,
	lookbackDays int,
) (*SignalService, error) {
	if len(assets) == 0 {
		return nil, ErrNoAssets
	}
	if dups := lo.FindDuplicatesBy(assets, func(a domain.AssetConfig) string { return a.ID }); len(dups) > 0 {
		return nil, fmt.Errorf("duplicate asset id %q", dups[0].ID)
	}
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &SignalService{
		tracer:       tracer,
		candles:      candles,
		engine:       engine,
		assets:       append([]domain.AssetConfig(nil), assets...),
		lookbackDays: lookbackDays,
	}, nil
}

// Assets returns the configured assets in order.
func (s *SignalService) Assets() []domain.AssetConfig {
	return append([]domain.AssetConfig(nil), s.assets...)
}

// LookupAsset finds a configured asset by id or command, case-insensitively.
func (s *SignalService) LookupAsset(key string) (domain.AssetConfig, bool) {
	key = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(key, "/")))
	return lo.Find(s.assets, func(a domain.AssetConfig) bool {
		return a.ID == key || a.Command == key
	})
}

// Evaluate fetches candles for one asset and classifies them. Data errors
// degrade the result instead of failing.
func (s *SignalService) Evaluate(ctx context.Context, asset domain.AssetConfig) domain.SignalResult {
	ctx, span := s.tracer.Start(ctx, "signal-service.evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("asset", asset.ID))

	series, err := s.candles.GetCandles(ctx, asset.ID, s.lookbackDays)
	if err != nil {
		log.Printf("candle fetch error for %s: %v", asset.ID, err)
		span.SetAttributes(attribute.Bool("degraded", true))
		return signalengine.Degraded(asset)
	}

	res := s.engine.Evaluate(asset, series)
	span.SetAttributes(
		attribute.String("signal", res.Signal.String()),
		attribute.Bool("degraded", res.Degraded),
	)
	return res
}

// EvaluateAll evaluates assets in order. One asset's failure never stops
// the others.
func (s *SignalService) EvaluateAll(ctx context.Context, assets []domain.AssetConfig) []domain.SignalResult {
	ctx, span := s.tracer.Start(ctx, "signal-service.evaluate-all")
	defer span.End()

	return lo.Map(assets, func(a domain.AssetConfig, _ int) domain.SignalResult {
		return s.Evaluate(ctx, a)
	})
}

// Summarize joins each asset's report with a blank line, in asset order.
func (s *SignalService) Summarize(ctx context.Context, assets []domain.AssetConfig) string {
	return JoinReports(s.EvaluateAll(ctx, assets))
}

// WeeklyDigest is the scheduled message covering every configured asset.
func (s *SignalService) WeeklyDigest(ctx context.Context) string {
	return WeeklyDigestHeader + s.Summarize(ctx, s.assets)
}

func JoinReports(results []domain.SignalResult) string {
	return strings.Join(lo.Map(results, func(r domain.SignalResult, _ int) string {
		return r.Report
	}), reportSeparator)
}
