package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"coinlens/internal/domain"
	"coinlens/internal/fetch"

	"go.opentelemetry.io/otel/trace"
)

// Fetcher is the orchestrated fetch layer the service sits on.
type Fetcher interface {
	Fetch(ctx context.Context, category domain.Category, params map[string]string) (fetch.Envelope, error)
	ResetProvider(name string) error
	ClearCache(ctx context.Context)
	ProviderStats() map[string]fetch.ProviderStats
}

// History persists fresh fetch results and serves historical reads. The
// service runs without it when Postgres is not configured.
type History interface {
	InsertQuote(ctx context.Context, q *domain.Quote, source string, capturedAt time.Time) error
	InsertFearGreed(ctx context.Context, point *domain.FearGreedPoint) error
	UpsertCandles(ctx context.Context, candles []*domain.Candle) error
	RecentQuotes(ctx context.Context, symbol string, limit int) ([]*domain.Quote, error)
	RecentFearGreed(ctx context.Context, limit int) ([]*domain.FearGreedPoint, error)
}

// DataService is the typed facade over the fetch layer. Handlers and the
// bot talk to it instead of the orchestrator directly.
type DataService struct {
	tracer  trace.Tracer
	fetcher Fetcher
	history History
}

func NewDataService(tracer trace.Tracer, fetcher Fetcher, history History) *DataService {
	return &DataService{
		tracer:  tracer,
		fetcher: fetcher,
		history: history,
	}
}

// GetQuote returns the current quote for a supported symbol.
func (s *DataService) GetQuote(ctx context.Context, symbol string) (*domain.Quote, fetch.Meta, error) {
	ctx, span := s.tracer.Start(ctx, "data-service.get-quote")
	defer span.End()

	if !domain.IsSupportedSymbol(symbol) {
		return nil, fetch.Meta{}, fmt.Errorf("unsupported symbol: %s", symbol)
	}

	env, err := s.fetcher.Fetch(ctx, domain.CategoryQuote, map[string]string{"symbol": symbol})
	if err != nil {
		return nil, env.Meta, err
	}

	var quote domain.Quote
	if err := env.DecodeData(&quote); err != nil {
		return nil, env.Meta, fmt.Errorf("decode quote payload: %w", err)
	}

	if s.history != nil && !env.Meta.Cached {
		if err := s.history.InsertQuote(ctx, &quote, env.Meta.Source, env.Meta.FetchedAt); err != nil {
			log.Printf("quote history write failed for %s: %v", symbol, err)
		}
	}
	return &quote, env.Meta, nil
}

// GetCandles returns OHLCV candles for a supported symbol and interval.
func (s *DataService) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, fetch.Meta, error) {
	ctx, span := s.tracer.Start(ctx, "data-service.get-candles")
	defer span.End()

	if !domain.IsSupportedSymbol(symbol) {
		return nil, fetch.Meta{}, fmt.Errorf("unsupported symbol: %s", symbol)
	}
	if !domain.IsSupportedInterval(interval) {
		return nil, fetch.Meta{}, fmt.Errorf("unsupported interval: %s", interval)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	env, err := s.fetcher.Fetch(ctx, domain.CategoryOHLCV, map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, env.Meta, err
	}

	var candles []*domain.Candle
	if err := env.DecodeData(&candles); err != nil {
		return nil, env.Meta, fmt.Errorf("decode candle payload: %w", err)
	}

	if s.history != nil && !env.Meta.Cached {
		if err := s.history.UpsertCandles(ctx, candles); err != nil {
			log.Printf("candle history write failed for %s/%s: %v", symbol, interval, err)
		}
	}
	return candles, env.Meta, nil
}

// GetNews returns the latest news items across configured sources.
func (s *DataService) GetNews(ctx context.Context, limit int) ([]domain.NewsItem, fetch.Meta, error) {
	ctx, span := s.tracer.Start(ctx, "data-service.get-news")
	defer span.End()

	params := map[string]string{}
	if limit > 0 && limit <= 100 {
		params["limit"] = strconv.Itoa(limit)
	}

	env, err := s.fetcher.Fetch(ctx, domain.CategoryNews, params)
	if err != nil {
		return nil, env.Meta, err
	}

	var items []domain.NewsItem
	if err := env.DecodeData(&items); err != nil {
		return nil, env.Meta, fmt.Errorf("decode news payload: %w", err)
	}
	return items, env.Meta, nil
}

// GetFearGreed returns the current fear & greed index reading.
func (s *DataService) GetFearGreed(ctx context.Context) (*domain.FearGreedPoint, fetch.Meta, error) {
	ctx, span := s.tracer.Start(ctx, "data-service.get-feargreed")
	defer span.End()

	env, err := s.fetcher.Fetch(ctx, domain.CategoryFearGreed, nil)
	if err != nil {
		return nil, env.Meta, err
	}

	var point domain.FearGreedPoint
	if err := env.DecodeData(&point); err != nil {
		return nil, env.Meta, fmt.Errorf("decode fear & greed payload: %w", err)
	}

	if s.history != nil && !env.Meta.Cached {
		if err := s.history.InsertFearGreed(ctx, &point); err != nil {
			log.Printf("fear & greed history write failed: %v", err)
		}
	}
	return &point, env.Meta, nil
}

// GetChainStats returns the on-chain activity snapshot for a symbol.
func (s *DataService) GetChainStats(ctx context.Context, symbol string) (*domain.ChainStats, fetch.Meta, error) {
	ctx, span := s.tracer.Start(ctx, "data-service.get-chain-stats")
	defer span.End()

	env, err := s.fetcher.Fetch(ctx, domain.CategoryOnChain, map[string]string{"symbol": symbol})
	if err != nil {
		return nil, env.Meta, err
	}

	var stats domain.ChainStats
	if err := env.DecodeData(&stats); err != nil {
		return nil, env.Meta, fmt.Errorf("decode chain stats payload: %w", err)
	}
	return &stats, env.Meta, nil
}

// Fetch serves the generic category endpoint; the envelope goes out as-is.
func (s *DataService) Fetch(ctx context.Context, category domain.Category, params map[string]string) (fetch.Envelope, error) {
	ctx, span := s.tracer.Start(ctx, "data-service.fetch")
	defer span.End()

	return s.fetcher.Fetch(ctx, category, params)
}

// QuoteHistory returns persisted quote snapshots, newest first.
func (s *DataService) QuoteHistory(ctx context.Context, symbol string, limit int) ([]*domain.Quote, error) {
	if s.history == nil {
		return nil, fmt.Errorf("history persistence is not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.history.RecentQuotes(ctx, symbol, limit)
}

// FearGreedHistory returns persisted index readings, newest first.
func (s *DataService) FearGreedHistory(ctx context.Context, limit int) ([]*domain.FearGreedPoint, error) {
	if s.history == nil {
		return nil, fmt.Errorf("history persistence is not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.history.RecentFearGreed(ctx, limit)
}

// ResetProvider clears backoff and failure state for one provider.
func (s *DataService) ResetProvider(name string) error {
	return s.fetcher.ResetProvider(name)
}

// ClearCache drops every cached fetch result.
func (s *DataService) ClearCache(ctx context.Context) {
	s.fetcher.ClearCache(ctx)
}

// ProviderStats reports per-provider health counters.
func (s *DataService) ProviderStats() map[string]fetch.ProviderStats {
	return s.fetcher.ProviderStats()
}
