package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"coinlens/internal/domain"
	"coinlens/internal/fetch"

	"go.opentelemetry.io/otel/trace"
)

const coinMarketCapBaseURL = "https://pro-api.coinmarketcap.com"

// CoinMarketCapProvider serves market quotes from the CoinMarketCap Pro
// API. Requires a static API key.
type CoinMarketCapProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	tracer  trace.Tracer
}

func NewCoinMarketCapProvider(tracer trace.Tracer, apiKey string) *CoinMarketCapProvider {
	return &CoinMarketCapProvider{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: coinMarketCapBaseURL,
		apiKey:  apiKey,
		tracer:  tracer,
	}
}

type cmcQuoteRow struct {
	CMCRank     int    `json:"cmc_rank"`
	LastUpdated string `json:"last_updated"`
	Quote       map[string]struct {
		Price            *float64 `json:"price"`
		Volume24h        *float64 `json:"volume_24h"`
		PercentChange24h *float64 `json:"percent_change_24h"`
		MarketCap        *float64 `json:"market_cap"`
	} `json:"quote"`
}

// Quote is the market.quote caller. Params: symbol.
func (p *CoinMarketCapProvider) Quote(ctx context.Context, params map[string]string) (any, error) {
	_, span := p.tracer.Start(ctx, "coinmarketcap.quote")
	defer span.End()

	symbol := params["symbol"]
	if !domain.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}

	url := fmt.Sprintf("%s/v1/cryptocurrency/quotes/latest?symbol=%s&convert=USD", p.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp, "coinmarketcap")
	if err != nil {
		return nil, fmt.Errorf("fetch quote for %s: %w", symbol, err)
	}

	var payload struct {
		Data map[string]cmcQuoteRow `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse quote for %s: %w", symbol, err)
	}

	row, ok := payload.Data[symbol]
	if !ok {
		return nil, fmt.Errorf("no row for %s: %w", symbol, fetch.ErrMalformed)
	}
	return normalizeCMCQuote(symbol, row)
}

func normalizeCMCQuote(symbol string, row cmcQuoteRow) (*domain.Quote, error) {
	usd, ok := row.Quote["USD"]
	if !ok {
		return nil, fmt.Errorf("no USD quote for %s: %w", symbol, fetch.ErrMalformed)
	}
	if usd.Price == nil || *usd.Price <= 0 {
		return nil, fmt.Errorf("invalid price for %s: %w", symbol, fetch.ErrMalformed)
	}

	q := &domain.Quote{
		Symbol:          symbol,
		PriceUSD:        *usd.Price,
		Rank:            row.CMCRank,
		LastUpdatedUnix: time.Now().Unix(),
	}
	if usd.Volume24h != nil {
		q.Volume24h = *usd.Volume24h
	}
	if usd.PercentChange24h != nil {
		q.Change24hPct = *usd.PercentChange24h
	}
	if usd.MarketCap != nil {
		q.MarketCapUSD = *usd.MarketCap
	}
	if ts, err := time.Parse(time.RFC3339, row.LastUpdated); err == nil {
		q.LastUpdatedUnix = ts.Unix()
	}
	return q, nil
}
