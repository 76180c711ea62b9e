package job

import (
	"context"
	"log"
	"time"

	"market-signal-bot/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type CandleGetter interface {
	GetCandles(ctx context.Context, assetID string, lookbackDays int) (domain.CandleSeries, error)
}

// CandleWarmer refreshes the candle cache one asset per tick, round-robin,
// so interactive requests usually hit a warm entry.
type CandleWarmer struct {
	tracer       trace.Tracer
	candles      CandleGetter
	assets       []domain.AssetConfig
	lookbackDays int
	interval     time.Duration
}

func NewCandleWarmer(tracer trace.Tracer, candles CandleGetter, assets []domain.AssetConfig, lookbackDays int, interval time.Duration) *CandleWarmer {
	return &CandleWarmer{
		tracer:       tracer,
		candles:      candles,
		assets:       assets,
		lookbackDays: lookbackDays,
		interval:     interval,
	}
}

// Start blocks until ctx is cancelled. A non-positive interval disables it.
func (w *CandleWarmer) Start(ctx context.Context) {
	if w.interval <= 0 || len(w.assets) == 0 {
		log.Println("Candle warmer disabled")
		<-ctx.Done()
		return
	}

	idx := 0
	w.warmNext(ctx, &idx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.warmNext(ctx, &idx)
		}
	}
}

func (w *CandleWarmer) warmNext(ctx context.Context, idx *int) {
	ctx, span := w.tracer.Start(ctx, "candle-warmer.warm")
	defer span.End()

	asset := w.assets[*idx%len(w.assets)]
	*idx++

	if _, err := w.candles.GetCandles(ctx, asset.ID, w.lookbackDays); err != nil {
		log.Printf("candle warm error for %s: %v", asset.ID, err)
	}
}
