package domain

import "time"

// Category is a logical kind of data request, independent of which
// upstream provider ends up serving it.
type Category string

const (
	CategoryQuote     Category = "market.quote"
	CategoryOHLCV     Category = "market.ohlcv"
	CategoryNews      Category = "news.latest"
	CategoryFearGreed Category = "sentiment.fearGreed"
	CategoryOnChain   Category = "onchain.stats"
)

// Categories lists every category the service knows about.
var Categories = []Category{
	CategoryQuote, CategoryOHLCV, CategoryNews, CategoryFearGreed, CategoryOnChain,
}

// Quote is the canonical market quote record, regardless of provider.
type Quote struct {
	Symbol          string  `json:"symbol"`
	PriceUSD        float64 `json:"price_usd"`
	Change24hPct    float64 `json:"change_24h_pct"`
	Volume24h       float64 `json:"volume_24h"`
	MarketCapUSD    float64 `json:"market_cap_usd,omitempty"`
	Rank            int     `json:"rank,omitempty"`
	LastUpdatedUnix int64   `json:"last_updated_unix"`
}

// NewsItem is a single canonical news/content entry.
type NewsItem struct {
	Source      string    `json:"source"`
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Excerpt     string    `json:"excerpt,omitempty"`
	Author      string    `json:"author,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// FearGreedPoint is the canonical crypto fear & greed index reading.
type FearGreedPoint struct {
	Value            int       `json:"value"`
	Classification   string    `json:"classification"`
	Timestamp        time.Time `json:"timestamp"`
	TimeUntilUpdateS int       `json:"time_until_update_s,omitempty"`
}

// ChainStats is a canonical on-chain activity snapshot for one asset.
type ChainStats struct {
	Chain      string             `json:"chain"`
	Symbol     string             `json:"symbol"`
	BucketTime time.Time          `json:"bucket_time"`
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}
