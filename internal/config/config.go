package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPPort         int
	TelegramBotToken string
	DatabaseURL      string
	RedisURL         string
	AdminAPIKey      string

	CMCAPIKey           string
	CryptoCompareAPIKey string
	NewsFeeds           []string
	RedditSubreddit     string

	WarmPollSecs int

	QuoteTTLSecs     int
	OHLCVTTLSecs     int
	NewsTTLSecs      int
	FearGreedTTLSecs int
	OnChainTTLSecs   int
}

func Load() *Config {
	cfg := &Config{
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		AdminAPIKey:         strings.TrimSpace(os.Getenv("ADMIN_API_KEY")),
		CMCAPIKey:           strings.TrimSpace(os.Getenv("CMC_API_KEY")),
		CryptoCompareAPIKey: strings.TrimSpace(os.Getenv("CRYPTOCOMPARE_API_KEY")),
	}

	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set, history persistence disabled")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.AdminAPIKey == "" {
		log.Println("Warning: ADMIN_API_KEY not set, admin endpoints are unprotected")
	}
	if cfg.CMCAPIKey == "" {
		log.Println("Warning: CMC_API_KEY not set, CoinMarketCap provider disabled")
	}

	cfg.HTTPPort = 8080
	if v := strings.TrimSpace(os.Getenv("HTTP_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 65536 {
			cfg.HTTPPort = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("NEWS_FEEDS")); v != "" {
		for _, feed := range strings.Split(v, ",") {
			if feed = strings.TrimSpace(feed); feed != "" {
				cfg.NewsFeeds = append(cfg.NewsFeeds, feed)
			}
		}
	}

	cfg.RedditSubreddit = strings.TrimSpace(os.Getenv("REDDIT_SUBREDDIT"))
	if cfg.RedditSubreddit == "" {
		cfg.RedditSubreddit = "CryptoCurrency"
	}

	cfg.WarmPollSecs = 60
	if v := os.Getenv("WARM_POLL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WarmPollSecs = n
		}
	}

	cfg.QuoteTTLSecs = ttlSecs("QUOTE_TTL_SECS", 30)
	cfg.OHLCVTTLSecs = ttlSecs("OHLCV_TTL_SECS", 300)
	cfg.NewsTTLSecs = ttlSecs("NEWS_TTL_SECS", 300)
	cfg.FearGreedTTLSecs = ttlSecs("FEARGREED_TTL_SECS", 1800)
	cfg.OnChainTTLSecs = ttlSecs("ONCHAIN_TTL_SECS", 600)

	return cfg
}

func ttlSecs(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
