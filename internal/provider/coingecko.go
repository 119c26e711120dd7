package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"coinlens/internal/domain"
	"coinlens/internal/fetch"

	"go.opentelemetry.io/otel/trace"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoProvider serves market quotes and OHLCV candles from the
// CoinGecko free API. It is the tier-1 market data source.
type CoinGeckoProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

// NewCoinGeckoProvider creates a new provider with built-in rate limiting.
// Rate limited to 8 requests per minute (one token every 7.5 seconds).
func NewCoinGeckoProvider(tracer trace.Tracer) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: coingeckoBaseURL,
		tracer:  tracer,
		limiter: NewRateLimiter(8, 7500*time.Millisecond),
	}
}

// Quote is the market.quote caller. Params: symbol.
func (p *CoinGeckoProvider) Quote(ctx context.Context, params map[string]string) (any, error) {
	_, span := p.tracer.Start(ctx, "coingecko.quote")
	defer span.End()

	symbol := params["symbol"]
	cgID, ok := domain.CoinGeckoID[symbol]
	if !ok {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&include_24hr_vol=true&include_24hr_change=true&include_market_cap=true&include_last_updated_at=true",
		p.baseURL, cgID)

	body, err := p.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch quote for %s: %w", symbol, err)
	}

	// Response shape: {"bitcoin": {"usd": 97000, "usd_24h_vol": ..., "usd_24h_change": ..., "usd_market_cap": ..., "last_updated_at": ...}}
	var raw map[string]map[string]*float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse quote for %s: %w", symbol, err)
	}

	return normalizeCoinGeckoQuote(symbol, raw[cgID])
}

// normalizeCoinGeckoQuote maps a simple/price row onto the canonical
// quote. A missing or non-positive price is a provider failure, never a
// zero-valued record.
func normalizeCoinGeckoQuote(symbol string, row map[string]*float64) (*domain.Quote, error) {
	if row == nil {
		return nil, fmt.Errorf("no row for %s: %w", symbol, fetch.ErrMalformed)
	}
	price := row["usd"]
	if price == nil || *price <= 0 || math.IsNaN(*price) {
		return nil, fmt.Errorf("invalid usd price for %s: %w", symbol, fetch.ErrMalformed)
	}

	q := &domain.Quote{
		Symbol:          symbol,
		PriceUSD:        *price,
		LastUpdatedUnix: time.Now().Unix(),
	}
	if v := row["usd_24h_vol"]; v != nil {
		q.Volume24h = *v
	}
	if v := row["usd_24h_change"]; v != nil {
		q.Change24hPct = *v
	}
	if v := row["usd_market_cap"]; v != nil {
		q.MarketCapUSD = *v
	}
	if v := row["last_updated_at"]; v != nil && *v > 0 {
		q.LastUpdatedUnix = int64(*v)
	}
	return q, nil
}

// Candles is the market.ohlcv caller. Params: symbol, interval, limit.
// market_chart with days=1 gives ~5min granularity (5m, 15m, 1h);
// days=30 gives ~1h granularity (4h, 1d).
func (p *CoinGeckoProvider) Candles(ctx context.Context, params map[string]string) (any, error) {
	_, span := p.tracer.Start(ctx, "coingecko.candles")
	defer span.End()

	symbol := params["symbol"]
	interval := params["interval"]
	cgID, ok := domain.CoinGeckoID[symbol]
	if !ok {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}
	if !domain.IsSupportedInterval(interval) {
		return nil, fmt.Errorf("unsupported interval: %s", interval)
	}

	days := 1
	if interval == "4h" || interval == "1d" {
		days = 30
	}

	url := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=%d", p.baseURL, cgID, days)
	body, err := p.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch market chart for %s: %w", symbol, err)
	}

	var raw struct {
		Prices       [][]float64 `json:"prices"`
		TotalVolumes [][]float64 `json:"total_volumes"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse market chart for %s: %w", symbol, err)
	}
	if len(raw.Prices) == 0 {
		return nil, fmt.Errorf("empty market chart for %s: %w", symbol, fetch.ErrMalformed)
	}

	candles := buildCandlesFromMarketChart(symbol, interval, raw.Prices, raw.TotalVolumes)
	if limit := params["limit"]; limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n < len(candles) {
			candles = candles[len(candles)-n:]
		}
	}
	return candles, nil
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

	return readBody(resp, "coingecko")
}

type volumePoint struct {
	ts  int64
	vol float64
}

// buildCandlesFromMarketChart constructs candles of the given interval
// from raw market_chart price/volume arrays.
func buildCandlesFromMarketChart(symbol, interval string, prices, volumes [][]float64) []*domain.Candle {
	if len(prices) == 0 {
		return nil
	}

	intervalDuration := intervalToDuration(interval)
	if intervalDuration == 0 {
		return nil
	}

	// Build volume lookup by timestamp for closest-match volume assignment
	volPoints := make([]volumePoint, 0, len(volumes))
	for _, v := range volumes {
		if len(v) >= 2 {
			volPoints = append(volPoints, volumePoint{ts: int64(v[0]), vol: v[1]})
		}
	}

	// Sort prices by timestamp
	sort.Slice(prices, func(i, j int) bool {
		return prices[i][0] < prices[j][0]
	})

	// Bucket prices into candle windows
	type bucket struct {
		open     float64
		high     float64
		low      float64
		close    float64
		openTime time.Time
	}

	buckets := make(map[int64]*bucket)

	for _, pt := range prices {
		if len(pt) < 2 {
			continue
		}
		tsMs := int64(pt[0])
		price := pt[1]
		t := time.UnixMilli(tsMs)

		// Floor to interval boundary
		bucketTS := t.Truncate(intervalDuration).UnixMilli()

		b, exists := buckets[bucketTS]
		if !exists {
			b = &bucket{
				open:     price,
				high:     price,
				low:      price,
				close:    price,
				openTime: time.UnixMilli(bucketTS),
			}
			buckets[bucketTS] = b
		} else {
			b.high = math.Max(b.high, price)
			b.low = math.Min(b.low, price)
			b.close = price // last price in the bucket becomes the close
		}
	}

	// Build sorted candle list
	sortedKeys := make([]int64, 0, len(buckets))
	for k := range buckets {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Slice(sortedKeys, func(i, j int) bool { return sortedKeys[i] < sortedKeys[j] })

	// Assign volume: find the closest volume point for each bucket
	candles := make([]*domain.Candle, 0, len(sortedKeys))
	for _, k := range sortedKeys {
		b := buckets[k]
		vol := findClosestVolume(volPoints, k+int64(intervalDuration/time.Millisecond))
		candles = append(candles, &domain.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: b.openTime.UTC(),
			Open:     b.open,
			High:     b.high,
			Low:      b.low,
			Close:    b.close,
			Volume:   vol,
		})
	}

	return candles
}

func findClosestVolume(volumes []volumePoint, targetMs int64) float64 {
	if len(volumes) == 0 {
		return 0
	}
	closest := volumes[0]
	minDiff := int64(math.MaxInt64)
	for _, v := range volumes {
		diff := v.ts - targetMs
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff = diff
			closest = v
		}
	}
	return closest.vol
}
