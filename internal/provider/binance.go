package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"coinlens/internal/domain"
	"coinlens/internal/fetch"

	"go.opentelemetry.io/otel/trace"
)

const binanceBaseURL = "https://api.binance.com"

// BinanceProvider serves quotes and OHLCV candles from the Binance
// public spot API. USDT pairs are treated as USD.
type BinanceProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
}

func NewBinanceProvider(tracer trace.Tracer) *BinanceProvider {
	return &BinanceProvider{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: binanceBaseURL,
		tracer:  tracer,
	}
}

// Quote is the market.quote caller. Params: symbol.
func (p *BinanceProvider) Quote(ctx context.Context, params map[string]string) (any, error) {
	_, span := p.tracer.Start(ctx, "binance.quote")
	defer span.End()

	symbol := params["symbol"]
	pair, ok := domain.BinancePair[symbol]
	if !ok {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}

	body, err := p.doRequest(ctx, fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", p.baseURL, pair))
	if err != nil {
		return nil, fmt.Errorf("fetch ticker for %s: %w", symbol, err)
	}

	// Binance returns every numeric field as a string.
	var raw struct {
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		QuoteVolume        string `json:"quoteVolume"`
		CloseTime          int64  `json:"closeTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse ticker for %s: %w", symbol, err)
	}

	return normalizeBinanceTicker(symbol, raw.LastPrice, raw.PriceChangePercent, raw.QuoteVolume, raw.CloseTime)
}

func normalizeBinanceTicker(symbol, lastPrice, changePct, quoteVolume string, closeTimeMs int64) (*domain.Quote, error) {
	price, err := strconv.ParseFloat(lastPrice, 64)
	if err != nil || price <= 0 {
		return nil, fmt.Errorf("invalid lastPrice %q for %s: %w", lastPrice, symbol, fetch.ErrMalformed)
	}

	q := &domain.Quote{
		Symbol:          symbol,
		PriceUSD:        price,
		LastUpdatedUnix: time.Now().Unix(),
	}
	if v, err := strconv.ParseFloat(changePct, 64); err == nil {
		q.Change24hPct = v
	}
	if v, err := strconv.ParseFloat(quoteVolume, 64); err == nil {
		q.Volume24h = v
	}
	if closeTimeMs > 0 {
		q.LastUpdatedUnix = closeTimeMs / 1000
	}
	return q, nil
}

// Candles is the market.ohlcv caller. Params: symbol, interval, limit.
func (p *BinanceProvider) Candles(ctx context.Context, params map[string]string) (any, error) {
	_, span := p.tracer.Start(ctx, "binance.candles")
	defer span.End()

	symbol := params["symbol"]
	interval := params["interval"]
	pair, ok := domain.BinancePair[symbol]
	if !ok {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}
	if !domain.IsSupportedInterval(interval) {
		return nil, fmt.Errorf("unsupported interval: %s", interval)
	}

	limit := 100
	if l := params["limit"]; l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	body, err := p.doRequest(ctx, fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		p.baseURL, pair, interval, limit))
	if err != nil {
		return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}

	// Each kline row: [openTime, open, high, low, close, volume, ...]
	// with prices as strings.
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse klines for %s: %w", symbol, err)
	}

	return normalizeBinanceKlines(symbol, interval, raw)
}

func normalizeBinanceKlines(symbol, interval string, rows [][]any) ([]*domain.Candle, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty klines for %s: %w", symbol, fetch.ErrMalformed)
	}

	candles := make([]*domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("short kline row for %s: %w", symbol, fetch.ErrMalformed)
		}
		openTimeMs := asFloat(row[0])
		open := asFloat(row[1])
		high := asFloat(row[2])
		low := asFloat(row[3])
		closePrice := asFloat(row[4])
		volume := asFloat(row[5])
		if openTimeMs <= 0 || open <= 0 || high <= 0 || low <= 0 || closePrice <= 0 {
			return nil, fmt.Errorf("invalid kline row for %s: %w", symbol, fetch.ErrMalformed)
		}
		candles = append(candles, &domain.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: time.UnixMilli(int64(openTimeMs)).UTC(),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
		})
	}
	return candles, nil
}

func (p *BinanceProvider) doRequest(ctx context.Context, url string) ([]byte, error) {
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

	// Binance signals bans with 418 in addition to the usual 429.
	if resp.StatusCode == http.StatusTeapot {
		return nil, fmt.Errorf("binance responded %d: %w", resp.StatusCode, fetch.ErrRateLimited)
	}
	return readBody(resp, "binance")
}
