package cache

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market-signal-bot/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func TestCandleStoreCachesWithinTTL(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{rows: testRows(25)}
	clock := &fakeClock{t: time.Date(2025, 1, 4, 8, 0, 0, 0, time.UTC)}
	store := NewCandleStore(testTracer, fetcher, WithClock(clock.Now))

	first, err := store.GetCandles(context.Background(), "bitcoin", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(59 * time.Second)
	second, err := store.GetCandles(context.Background(), "bitcoin", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected 1 fetch within TTL, got %d", got)
	}
	if len(first) != 25 || !reflect.DeepEqual(first, second) {
		t.Fatal("expected the cached series to be returned unchanged")
	}
}

func TestCandleStoreReturnsCallerOwnedSeries(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{rows: testRows(25)}
	store := NewCandleStore(testTracer, fetcher)

	first, err := store.GetCandles(context.Background(), "bitcoin", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first[0].Close = -1
	first[1].Close = -1

	second, err := store.GetCandles(context.Background(), "bitcoin", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 25 || second[0].Close != 100 || second[1].Close != 101 {
		t.Fatalf("cached entry was modified through a returned series: %+v", second[:2])
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected second read to hit the cache, got %d fetches", got)
	}
}

func TestCandleStoreRefetchesAfterTTL(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{rows: testRows(25)}
	clock := &fakeClock{t: time.Date(2025, 1, 4, 8, 0, 0, 0, time.UTC)}
	store := NewCandleStore(testTracer, fetcher, WithClock(clock.Now))

	if _, err := store.GetCandles(context.Background(), "bitcoin", 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(60 * time.Second)
	if _, err := store.GetCandles(context.Background(), "bitcoin", 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.GetCandles(context.Background(), "bitcoin", 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Fatalf("expected exactly one refetch after expiry, got %d fetches", got)
	}
}

func TestCandleStoreKeysByAssetAndLookback(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{rows: testRows(25)}
	store := NewCandleStore(testTracer, fetcher)

	ctx := context.Background()
	_, _ = store.GetCandles(ctx, "bitcoin", 7)
	_, _ = store.GetCandles(ctx, "bitcoin", 14)
	_, _ = store.GetCandles(ctx, "ripple", 7)
	_, _ = store.GetCandles(ctx, "ripple", 7)

	if got := fetcher.calls.Load(); got != 3 {
		t.Fatalf("expected 3 fetches for 3 keys, got %d", got)
	}
}

func TestCandleStoreSingleFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	fetcher := &countingFetcher{rows: testRows(25), gate: release}
	store := NewCandleStore(testTracer, fetcher)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.GetCandles(context.Background(), "ethereum", 7)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected concurrent misses to share one fetch, got %d", got)
	}
}

func TestCandleStoreCancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	fetcher := &countingFetcher{rows: testRows(25), gate: release}
	store := NewCandleStore(testTracer, fetcher)

	shortCtx, cancel := context.WithCancel(context.Background())
	shortErr := make(chan error, 1)
	go func() {
		_, err := store.GetCandles(shortCtx, "bitcoin", 7)
		shortErr <- err
	}()
	waitForCalls(t, fetcher, 1)

	type result struct {
		series domain.CandleSeries
		err    error
	}
	live := make(chan result, 1)
	go func() {
		series, err := store.GetCandles(context.Background(), "bitcoin", 7)
		live <- result{series, err}
	}()

	cancel()
	select {
	case err := <-shortErr:
		if !errors.Is(err, domain.ErrDataUnavailable) {
			t.Fatalf("expected ErrDataUnavailable for the cancelled caller, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case res := <-live:
		if res.err != nil {
			t.Fatalf("live caller failed: %v", res.err)
		}
		if len(res.series) != 25 {
			t.Fatalf("expected 25 candles, got %d", len(res.series))
		}
	case <-time.After(time.Second):
		t.Fatal("live caller did not return")
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected a single shared fetch, got %d", got)
	}
}

func TestCandleStoreFetchTimeoutBoundsSharedFetch(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{rows: testRows(25), gate: make(chan struct{})}
	store := NewCandleStore(testTracer, fetcher, WithFetchTimeout(20*time.Millisecond))

	_, err := store.GetCandles(context.Background(), "ripple", 7)
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable after fetch timeout, got %v", err)
	}
}

func TestCandleStoreFetchErrorIsDataUnavailable(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{err: errors.New("boom")}
	store := NewCandleStore(testTracer, fetcher)

	_, err := store.GetCandles(context.Background(), "cardano", 7)
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}

	// Failures are not cached.
	_, _ = store.GetCandles(context.Background(), "cardano", 7)
	if got := fetcher.calls.Load(); got != 2 {
		t.Fatalf("expected failed fetch to be retried, got %d fetches", got)
	}
}

func TestCandleStoreMalformedPayloadIsDataUnavailable(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{rows: [][]float64{{1, 2}}}
	store := NewCandleStore(testTracer, fetcher)

	if _, err := store.GetCandles(context.Background(), "cardano", 7); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestCandleStoreInvalidate(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{rows: testRows(25)}
	store := NewCandleStore(testTracer, fetcher)

	_, _ = store.GetCandles(context.Background(), "ripple", 7)
	store.Invalidate("ripple", 7)
	_, _ = store.GetCandles(context.Background(), "ripple", 7)
	if got := fetcher.calls.Load(); got != 2 {
		t.Fatalf("expected refetch after invalidate, got %d", got)
	}
}

func TestCandleStoreWritesRedisMirror(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{rows: testRows(25)}
	rdb := newFakeRedis()
	store := NewCandleStore(testTracer, fetcher, WithRedis(rdb))

	if _, err := store.GetCandles(context.Background(), "bitcoin", 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, ok := rdb.get("ohlc:bitcoin_7")
	if !ok {
		t.Fatal("expected mirrored entry")
	}
	var mirrored redisEntry
	if err := json.Unmarshal(data, &mirrored); err != nil {
		t.Fatalf("decode mirror: %v", err)
	}
	if len(mirrored.Rows) != 25 {
		t.Fatalf("expected 25 mirrored rows, got %d", len(mirrored.Rows))
	}
	if rdb.lastTTL != DefaultCandleTTL {
		t.Fatalf("expected mirror ttl %v, got %v", DefaultCandleTTL, rdb.lastTTL)
	}
}

func TestCandleStoreReadsFreshRedisMirror(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 4, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: now}
	rdb := newFakeRedis()
	data, _ := json.Marshal(redisEntry{Rows: testRows(21), FetchedAt: now.Add(-10 * time.Second)})
	rdb.data["ohlc:bitcoin_7"] = data

	fetcher := &countingFetcher{rows: testRows(25)}
	store := NewCandleStore(testTracer, fetcher, WithRedis(rdb), WithClock(clock.Now))

	series, err := store.GetCandles(context.Background(), "bitcoin", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series) != 21 || fetcher.calls.Load() != 0 {
		t.Fatalf("expected mirror hit without fetch, got %d candles, %d fetches", len(series), fetcher.calls.Load())
	}

	// The mirrored fetch time still bounds the entry's lifetime.
	clock.Advance(50 * time.Second)
	delete(rdb.data, "ohlc:bitcoin_7")
	if _, err := store.GetCandles(context.Background(), "bitcoin", 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.calls.Load() != 1 {
		t.Fatalf("expected refetch once the mirrored entry aged out, got %d", fetcher.calls.Load())
	}
}

func TestCandleStoreIgnoresRedisErrors(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	rdb.getErr = errors.New("redis down")
	rdb.setErr = errors.New("redis down")
	fetcher := &countingFetcher{rows: testRows(25)}
	store := NewCandleStore(testTracer, fetcher, WithRedis(rdb))

	series, err := store.GetCandles(context.Background(), "bitcoin", 7)
	if err != nil || len(series) != 25 {
		t.Fatalf("expected fetch to succeed despite redis errors, got %d candles, err %v", len(series), err)
	}
}

func testRows(n int) [][]float64 {
	base := time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC)
	rows := make([][]float64, n)
	for i := range rows {
		price := 100 + float64(i)
		rows[i] = []float64{float64(base.Add(time.Duration(i) * 4 * time.Hour).UnixMilli()), price, price, price, price}
	}
	return rows
}

type countingFetcher struct {
	rows  [][]float64
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *countingFetcher) FetchOHLC(ctx context.Context, assetID string, days int) ([][]float64, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func waitForCalls(t *testing.T, f *countingFetcher, n int32) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for f.calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("fetcher reached %d calls, want %d", f.calls.Load(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeRedis struct {
	mu      sync.Mutex
	data    map[string][]byte
	lastTTL time.Duration
	setErr  error
	getErr  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte)}
}

func (f *fakeRedis) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = append([]byte(nil), v...)
	case string:
		f.data[key] = []byte(v)
	default:
		bytes, _ := json.Marshal(v)
		f.data[key] = bytes
	}
	f.lastTTL = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(string(v), nil)
	}
	return redis.NewStringResult("", redis.Nil)
}
