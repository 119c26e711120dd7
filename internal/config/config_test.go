package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("WARM_POLL_SECS", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("NEWS_FEEDS", "")
	t.Setenv("QUOTE_TTL_SECS", "")

	cfg := Load()
	if cfg.RedisURL != "localhost:6379" {
		t.Fatalf("expected default redis url, got %s", cfg.RedisURL)
	}
	if cfg.HTTPPort != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.HTTPPort)
	}
	if cfg.WarmPollSecs != 60 {
		t.Fatalf("expected default warm poll secs 60, got %d", cfg.WarmPollSecs)
	}
	if cfg.QuoteTTLSecs != 30 || cfg.FearGreedTTLSecs != 1800 {
		t.Fatalf("unexpected default TTLs: %+v", cfg)
	}
	if cfg.RedditSubreddit != "CryptoCurrency" {
		t.Fatalf("expected default subreddit, got %s", cfg.RedditSubreddit)
	}
	if len(cfg.NewsFeeds) != 0 {
		t.Fatalf("expected no configured feeds, got %v", cfg.NewsFeeds)
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("REDIS_URL", "redis:6379")
	t.Setenv("WARM_POLL_SECS", "120")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("NEWS_FEEDS", "https://a.example/rss, https://b.example/rss,")
	t.Setenv("QUOTE_TTL_SECS", "15")

	cfg := Load()
	if cfg.TelegramBotToken != "token" || cfg.DatabaseURL != "postgres://example" || cfg.RedisURL != "redis:6379" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.WarmPollSecs != 120 || cfg.HTTPPort != 9090 || cfg.QuoteTTLSecs != 15 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.NewsFeeds) != 2 || cfg.NewsFeeds[0] != "https://a.example/rss" {
		t.Fatalf("unexpected feeds: %v", cfg.NewsFeeds)
	}

	t.Setenv("WARM_POLL_SECS", "bad")
	cfg = Load()
	if cfg.WarmPollSecs != 60 {
		t.Fatalf("invalid warm poll secs should fall back to default, got %d", cfg.WarmPollSecs)
	}
}
