package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"market-signal-bot/internal/domain"
	"market-signal-bot/internal/provider"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCandleTTL = 60 * time.Second
	// DefaultFetchTimeout bounds a shared refresh once it no longer follows
	// the caller that started it.
	DefaultFetchTimeout = 90 * time.Second
)

// OHLCFetcher is the external market data retrieval.
type OHLCFetcher interface {
	FetchOHLC(ctx context.Context, assetID string, days int) ([][]float64, error)
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

type entry struct {
	series    domain.CandleSeries
	fetchedAt time.Time
}

// redisEntry is the mirrored form: the raw payload plus its fetch time.
type redisEntry struct {
	Rows      [][]float64 `json:"rows"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// CandleStore memoizes OHLC fetches per (asset, lookback) for a short TTL.
// Concurrent misses on one key share a single fetch.
type CandleStore struct {
	tracer  trace.Tracer
	fetcher OHLCFetcher
	redis   RedisClient
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	flights singleflight.Group
}

type Option func(*CandleStore)

// WithRedis mirrors entries into Redis with the same TTL.
func WithRedis(client RedisClient) Option {
	return func(s *CandleStore) { s.redis = client }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *CandleStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(s *CandleStore) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *CandleStore) { s.now = now }
}

func NewCandleStore(tracer trace.Tracer, fetcher OHLCFetcher, opts ...Option) *CandleStore {
	s := &CandleStore{
		tracer:       tracer,
		fetcher:      fetcher,
		ttl:          DefaultCandleTTL,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		entries:      make(map[string]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(assetID string, days int) string {
	return fmt.Sprintf("%s_%d", assetID, days)
}

// GetCandles returns the candle series for assetID over lookbackDays.
// Failures wrap domain.ErrDataUnavailable. The returned slice is the caller's
// own copy.
//
// A refresh shared by several callers is detached from the cancellation of
// whichever caller started it. A caller whose ctx ends first gets an error
// while the others still receive the result.
func (s *CandleStore) GetCandles(ctx context.Context, assetID string, lookbackDays int) (domain.CandleSeries, error) {
	ctx, span := s.tracer.Start(ctx, "candle-store.get-candles")
	defer span.End()

	key := cacheKey(assetID, lookbackDays)
	span.SetAttributes(attribute.String("key", key))

	if series, ok := s.fresh(key); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return slices.Clone(series), nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key, func() (interface{}, error) {
		// Another flight may have refreshed the key while we waited on the lock.
		if series, ok := s.fresh(key); ok {
			return series, nil
		}
		fetchCtx, cancel := context.WithTimeout(flightCtx, s.fetchTimeout)
		defer cancel()
		return s.refresh(fetchCtx, key, assetID, lookbackDays)
	})
	span.SetAttributes(attribute.Bool("cache_hit", false))

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %v: %w", assetID, ctx.Err(), domain.ErrDataUnavailable)
	case res := <-ch:
		span.SetAttributes(attribute.Bool("shared", res.Shared))
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.(domain.CandleSeries)), nil
	}
}

// Invalidate drops the entry for a key, forcing the next read to refetch.
func (s *CandleStore) Invalidate(assetID string, lookbackDays int) {
	s.mu.Lock()
	delete(s.entries, cacheKey(assetID, lookbackDays))
	s.mu.Unlock()
}

func (s *CandleStore) fresh(key string) (domain.CandleSeries, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || s.now().Sub(e.fetchedAt) >= s.ttl {
		return nil, false
	}
	return e.series, true
}

func (s *CandleStore) refresh(ctx context.Context, key, assetID string, days int) (domain.CandleSeries, error) {
	if series, fetchedAt, ok := s.readMirror(ctx, key); ok {
		s.store(key, entry{series: series, fetchedAt: fetchedAt})
		return series, nil
	}

	rows, err := s.fetcher.FetchOHLC(ctx, assetID, days)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", assetID, err, domain.ErrDataUnavailable)
	}
	series, err := provider.ParseOHLC(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", assetID, err)
	}

	fetchedAt := s.now()
	s.store(key, entry{series: series, fetchedAt: fetchedAt})
	s.writeMirror(ctx, key, redisEntry{Rows: rows, FetchedAt: fetchedAt})
	return series, nil
}

func (s *CandleStore) store(key string, e entry) {
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

func (s *CandleStore) readMirror(ctx context.Context, key string) (domain.CandleSeries, time.Time, bool) {
	if s.redis == nil {
		return nil, time.Time{}, false
	}
	data, err := s.redis.Get(ctx, "ohlc:"+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("redis cache read error for %s: %v", key, err)
		}
		return nil, time.Time{}, false
	}
	var cached redisEntry
	if err := json.Unmarshal(data, &cached); err != nil {
		log.Printf("redis cache decode error for %s: %v", key, err)
		return nil, time.Time{}, false
	}
	if s.now().Sub(cached.FetchedAt) >= s.ttl {
		return nil, time.Time{}, false
	}
	series, err := provider.ParseOHLC(cached.Rows)
	if err != nil {
		return nil, time.Time{}, false
	}
	return series, cached.FetchedAt, true
}

func (s *CandleStore) writeMirror(ctx context.Context, key string, e redisEntry) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, "ohlc:"+key, data, s.ttl).Err(); err != nil {
		log.Printf("redis cache write error for %s: %v", key, err)
	}
}
