package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"market-signal-bot/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoProvider fetches OHLC data from the CoinGecko free API.
type CoinGeckoProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

// NewCoinGeckoProvider creates a new provider with built-in rate limiting.
// Rate limited to 8 requests per minute (one token every 7.5 seconds).
func NewCoinGeckoProvider(tracer trace.Tracer, timeout time.Duration) *CoinGeckoProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CoinGeckoProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: coingeckoBaseURL,
		tracer:  tracer,
		limiter: NewRateLimiter(8, 7500*time.Millisecond),
	}
}

// FetchOHLC returns the raw /ohlc rows for a coin: [timestamp_ms, open, high, low, close].
func (p *CoinGeckoProvider) FetchOHLC(ctx context.Context, assetID string, days int) ([][]float64, error) {
	ctx, span := p.tracer.Start(ctx, "coingecko.fetch-ohlc")
	defer span.End()
	span.SetAttributes(attribute.String("asset", assetID), attribute.Int("days", days))

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", strconv.Itoa(days))
	endpoint := fmt.Sprintf("%s/coins/%s/ohlc?%s", p.baseURL, url.PathEscape(assetID), q.Encode())

	body, err := p.doRequest(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch ohlc for %s: %w", assetID, err)
	}

	var rows [][]float64
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse ohlc for %s: %w", assetID, err)
	}
	return rows, nil
}

func (p *CoinGeckoProvider) doRequest(ctx context.Context, url string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("coingecko API error %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// ParseOHLC turns raw OHLC rows into an ascending candle series.
// Rows sharing a timestamp collapse to the last one seen.
func ParseOHLC(rows [][]float64) (domain.CandleSeries, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty ohlc payload: %w", domain.ErrDataUnavailable)
	}

	byTS := make(map[int64]domain.Candle, len(rows))
	for i, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("ohlc row %d has %d fields: %w", i, len(row), domain.ErrDataUnavailable)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("ohlc row %d is not finite: %w", i, domain.ErrDataUnavailable)
			}
		}
		tsMs := int64(row[0])
		byTS[tsMs] = domain.Candle{
			OpenTime: time.UnixMilli(tsMs).UTC(),
			Open:     row[1],
			High:     row[2],
			Low:      row[3],
			Close:    row[4],
		}
	}

	series := make(domain.CandleSeries, 0, len(byTS))
	for _, c := range byTS {
		series = append(series, c)
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].OpenTime.Before(series[j].OpenTime)
	})
	return series, nil
}
