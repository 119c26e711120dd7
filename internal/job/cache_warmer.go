package job

import (
	"context"
	"log"
	"time"

	"coinlens/internal/domain"
	"coinlens/internal/fetch"

	"go.opentelemetry.io/otel/trace"
)

// Warmable is the slice of the fetch layer the warmer drives.
type Warmable interface {
	Fetch(ctx context.Context, category domain.Category, params map[string]string) (fetch.Envelope, error)
}

// CacheWarmer runs background goroutines that keep hot keys in cache so
// interactive requests rarely pay the upstream round trip.
type CacheWarmer struct {
	tracer       trace.Tracer
	fetcher      Warmable
	pollInterval time.Duration
}

func NewCacheWarmer(tracer trace.Tracer, fetcher Warmable, pollIntervalSecs int) *CacheWarmer {
	return &CacheWarmer{
		tracer:       tracer,
		fetcher:      fetcher,
		pollInterval: time.Duration(pollIntervalSecs) * time.Second,
	}
}

// Start launches the warming goroutines. Blocks until ctx is cancelled.
func (w *CacheWarmer) Start(ctx context.Context) {
	log.Println("Cache warmer starting...")

	// Quotes for every supported symbol on the configured interval.
	go w.warmLoop(ctx, "quotes", w.pollInterval, 0, w.warmQuotes)

	// Sentiment and news refresh on a slower cycle, staggered so the
	// startup burst does not hit every upstream at once.
	go w.warmLoop(ctx, "sentiment-news", 5*time.Minute, 10*time.Second, w.warmSentimentAndNews)

	// Hourly candles, one symbol per tick round-robin.
	go w.warmCandlesLoop(ctx)

	<-ctx.Done()
	log.Println("Cache warmer stopped")
}

func (w *CacheWarmer) warmLoop(ctx context.Context, name string, interval, delay time.Duration, fn func(context.Context)) {
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (w *CacheWarmer) warmQuotes(ctx context.Context) {
	ctx, span := w.tracer.Start(ctx, "cache-warmer.warm-quotes")
	defer span.End()

	for _, symbol := range domain.SupportedSymbols {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.fetcher.Fetch(ctx, domain.CategoryQuote, map[string]string{"symbol": symbol}); err != nil {
			log.Printf("quote warm failed for %s: %v", symbol, err)
		}
	}
}

func (w *CacheWarmer) warmSentimentAndNews(ctx context.Context) {
	ctx, span := w.tracer.Start(ctx, "cache-warmer.warm-sentiment-news")
	defer span.End()

	if _, err := w.fetcher.Fetch(ctx, domain.CategoryFearGreed, nil); err != nil {
		log.Printf("fear & greed warm failed: %v", err)
	}
	if _, err := w.fetcher.Fetch(ctx, domain.CategoryNews, nil); err != nil {
		log.Printf("news warm failed: %v", err)
	}
}

func (w *CacheWarmer) warmCandlesLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(30 * time.Second):
	}

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	symbolIndex := 0
	w.warmCandleBatch(ctx, &symbolIndex)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.warmCandleBatch(ctx, &symbolIndex)
		}
	}
}

func (w *CacheWarmer) warmCandleBatch(ctx context.Context, symbolIndex *int) {
	symbols := domain.SupportedSymbols
	symbol := symbols[*symbolIndex%len(symbols)]
	*symbolIndex++

	if _, err := w.fetcher.Fetch(ctx, domain.CategoryOHLCV, map[string]string{
		"symbol":   symbol,
		"interval": "1h",
		"limit":    "100",
	}); err != nil {
		log.Printf("candle warm failed for %s: %v", symbol, err)
	}
}
