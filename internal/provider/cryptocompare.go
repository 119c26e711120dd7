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

const cryptoCompareBaseURL = "https://min-api.cryptocompare.com"

// CryptoCompareProvider serves quotes and the latest news articles from
// the CryptoCompare min-api. The API key is optional for low volumes.
type CryptoCompareProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	tracer  trace.Tracer
}

func NewCryptoCompareProvider(tracer trace.Tracer, apiKey string) *CryptoCompareProvider {
	return &CryptoCompareProvider{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: cryptoCompareBaseURL,
		apiKey:  apiKey,
		tracer:  tracer,
	}
}

// Quote is the market.quote caller. Params: symbol.
func (p *CryptoCompareProvider) Quote(ctx context.Context, params map[string]string) (any, error) {
	_, span := p.tracer.Start(ctx, "cryptocompare.quote")
	defer span.End()

	symbol := params["symbol"]
	if !domain.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}

	url := fmt.Sprintf("%s/data/pricemultifull?fsyms=%s&tsyms=USD", p.baseURL, symbol)
	body, err := p.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch quote for %s: %w", symbol, err)
	}

	var payload struct {
		Raw map[string]map[string]struct {
			Price        *float64 `json:"PRICE"`
			Volume24hTo  *float64 `json:"TOTALVOLUME24HTO"`
			ChangePct24h *float64 `json:"CHANGEPCT24HOUR"`
			MktCap       *float64 `json:"MKTCAP"`
			LastUpdate   int64    `json:"LASTUPDATE"`
		} `json:"RAW"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse quote for %s: %w", symbol, err)
	}

	usd, ok := payload.Raw[symbol]["USD"]
	if !ok {
		return nil, fmt.Errorf("no USD row for %s: %w", symbol, fetch.ErrMalformed)
	}
	if usd.Price == nil || *usd.Price <= 0 {
		return nil, fmt.Errorf("invalid PRICE for %s: %w", symbol, fetch.ErrMalformed)
	}

	q := &domain.Quote{
		Symbol:          symbol,
		PriceUSD:        *usd.Price,
		LastUpdatedUnix: time.Now().Unix(),
	}
	if usd.Volume24hTo != nil {
		q.Volume24h = *usd.Volume24hTo
	}
	if usd.ChangePct24h != nil {
		q.Change24hPct = *usd.ChangePct24h
	}
	if usd.MktCap != nil {
		q.MarketCapUSD = *usd.MktCap
	}
	if usd.LastUpdate > 0 {
		q.LastUpdatedUnix = usd.LastUpdate
	}
	return q, nil
}

// News is the news.latest caller. Params: limit.
func (p *CryptoCompareProvider) News(ctx context.Context, params map[string]string) (any, error) {
	_, span := p.tracer.Start(ctx, "cryptocompare.news")
	defer span.End()

	limit := 40
	if l := params["limit"]; l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	body, err := p.doRequest(ctx, p.baseURL+"/data/v2/news/?lang=EN")
	if err != nil {
		return nil, fmt.Errorf("fetch news: %w", err)
	}

	var payload struct {
		Data []struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			URL         string `json:"url"`
			Body        string `json:"body"`
			Source      string `json:"source"`
			PublishedOn int64  `json:"published_on"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse news: %w", err)
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("news response has no rows: %w", fetch.ErrMalformed)
	}

	items := make([]domain.NewsItem, 0, limit)
	for _, row := range payload.Data {
		if len(items) >= limit {
			break
		}
		title := sanitizeText(row.Title, 300)
		if title == "" || row.PublishedOn <= 0 {
			continue
		}
		items = append(items, domain.NewsItem{
			Source:      "cryptocompare",
			SourceID:    sanitizeText(row.ID, 250),
			Title:       title,
			URL:         sanitizeText(row.URL, 500),
			Excerpt:     sanitizeText(row.Body, 420),
			Author:      sanitizeText(row.Source, 120),
			PublishedAt: time.Unix(row.PublishedOn, 0).UTC(),
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("news response has no usable rows: %w", fetch.ErrMalformed)
	}
	return items, nil
}

func (p *CryptoCompareProvider) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Apikey "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return readBody(resp, "cryptocompare")
}
