package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinlens/internal/bot"
	"coinlens/internal/cache"
	"coinlens/internal/config"
	"coinlens/internal/db"
	"coinlens/internal/domain"
	"coinlens/internal/fetch"
	"coinlens/internal/handler"
	"coinlens/internal/job"
	"coinlens/internal/provider"
	"coinlens/internal/repository"
	"coinlens/internal/service"
	"coinlens/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	_ "coinlens/docs"
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	initPostgresFunc       = db.InitPostgres
	initRedisFunc          = cache.InitRedis
	initTracerFunc         = tracing.InitTracer
	buildRegistryFunc      = buildRegistry
	newHistoryRepoFunc     = repository.NewHistoryRepository
	newCacheWarmerFunc     = job.NewCacheWarmer
	startWarmerFunc        = func(w *job.CacheWarmer, ctx context.Context) { go w.Start(ctx) }
	startTelegramBotFunc   = bot.StartTelegramBot
	newHandlerFunc         = handler.New
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Coinlens API
// @version         1.0
// @description     Resilient multi-provider crypto market data service.

// @host      localhost:8080
// @BasePath  /
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Postgres and Redis
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Build the provider registry and fetch orchestrator
	registry, err := buildRegistryFunc(tracer, cfg)
	if err != nil {
		log.Fatalf("failed to build provider registry: %v", err)
	}

	var store fetch.Store = fetch.NewMemoryStore()
	if cache.Client != nil {
		store = cache.NewRedisStore(cache.Client)
	}

	health := fetch.NewHealthTracker(fetch.DefaultBackoffPolicy)
	orchestrator := fetch.NewOrchestrator(tracer, registry, health, store)

	// History persistence is optional; the service runs cache-only
	// without a database.
	var history service.History
	if db.Pool != nil {
		repo := newHistoryRepoFunc(db.Pool, tracer)
		if err := repo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		history = repo
	}

	dataService := service.NewDataService(tracer, orchestrator, history)

	// Start cache warmer (background goroutines, stopped by ctx cancel)
	warmer := newCacheWarmerFunc(tracer, orchestrator, cfg.WarmPollSecs)
	startWarmerFunc(warmer, ctx)

	// Start Telegram bot
	os.Setenv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	startTelegramBotFunc(dataService)

	// Create handlers and routes
	h := newHandlerFunc(tracer, dataService, cfg.AdminAPIKey)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("coinlens"))

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

// buildRegistry wires every configured provider into the fetch registry.
// Tier 1 providers are preferred; higher tiers are fallbacks.
func buildRegistry(tracer trace.Tracer, cfg *config.Config) (*fetch.Registry, error) {
	registry := fetch.NewRegistry()

	quoteTTL := time.Duration(cfg.QuoteTTLSecs) * time.Second
	ohlcvTTL := time.Duration(cfg.OHLCVTTLSecs) * time.Second
	newsTTL := time.Duration(cfg.NewsTTLSecs) * time.Second
	fearGreedTTL := time.Duration(cfg.FearGreedTTLSecs) * time.Second
	onChainTTL := time.Duration(cfg.OnChainTTLSecs) * time.Second

	coingecko := provider.NewCoinGeckoProvider(tracer)
	if err := registry.Register(fetch.Descriptor{
		Name: "coingecko",
		Tier: 1,
		Categories: map[domain.Category]fetch.CategoryConfig{
			domain.CategoryQuote: {TTL: quoteTTL},
			domain.CategoryOHLCV: {TTL: ohlcvTTL},
		},
	}, map[domain.Category]fetch.Caller{
		domain.CategoryQuote: coingecko.Quote,
		domain.CategoryOHLCV: coingecko.Candles,
	}); err != nil {
		return nil, err
	}

	binance := provider.NewBinanceProvider(tracer)
	if err := registry.Register(fetch.Descriptor{
		Name: "binance",
		Tier: 2,
		Categories: map[domain.Category]fetch.CategoryConfig{
			domain.CategoryQuote: {TTL: quoteTTL},
			domain.CategoryOHLCV: {TTL: ohlcvTTL},
		},
	}, map[domain.Category]fetch.Caller{
		domain.CategoryQuote: binance.Quote,
		domain.CategoryOHLCV: binance.Candles,
	}); err != nil {
		return nil, err
	}

	if cfg.CMCAPIKey != "" {
		cmc := provider.NewCoinMarketCapProvider(tracer, cfg.CMCAPIKey)
		if err := registry.Register(fetch.Descriptor{
			Name: "coinmarketcap",
			Tier: 2,
			Categories: map[domain.Category]fetch.CategoryConfig{
				domain.CategoryQuote: {TTL: quoteTTL},
			},
		}, map[domain.Category]fetch.Caller{
			domain.CategoryQuote: cmc.Quote,
		}); err != nil {
			return nil, err
		}
	}

	cryptocompare := provider.NewCryptoCompareProvider(tracer, cfg.CryptoCompareAPIKey)
	if err := registry.Register(fetch.Descriptor{
		Name: "cryptocompare",
		Tier: 2,
		Categories: map[domain.Category]fetch.CategoryConfig{
			domain.CategoryQuote: {TTL: quoteTTL},
		},
	}, map[domain.Category]fetch.Caller{
		domain.CategoryQuote: cryptocompare.Quote,
	}); err != nil {
		return nil, err
	}

	// News providers get their own registry entries so the quote tier of
	// a shared upstream does not dictate news priority.
	if err := registry.Register(fetch.Descriptor{
		Name: "cryptocompare-news",
		Tier: 1,
		Categories: map[domain.Category]fetch.CategoryConfig{
			domain.CategoryNews: {TTL: newsTTL},
		},
	}, map[domain.Category]fetch.Caller{
		domain.CategoryNews: cryptocompare.News,
	}); err != nil {
		return nil, err
	}

	rss := provider.NewRSSProvider(tracer, cfg.NewsFeeds)
	if err := registry.Register(fetch.Descriptor{
		Name:    "rss",
		Tier:    2,
		Timeout: 20 * time.Second,
		Categories: map[domain.Category]fetch.CategoryConfig{
			domain.CategoryNews: {TTL: newsTTL},
		},
	}, map[domain.Category]fetch.Caller{
		domain.CategoryNews: rss.News,
	}); err != nil {
		return nil, err
	}

	reddit := provider.NewRedditProvider(tracer, cfg.RedditSubreddit)
	if err := registry.Register(fetch.Descriptor{
		Name: "reddit",
		Tier: 3,
		Categories: map[domain.Category]fetch.CategoryConfig{
			domain.CategoryNews: {TTL: newsTTL},
		},
	}, map[domain.Category]fetch.Caller{
		domain.CategoryNews: reddit.News,
	}); err != nil {
		return nil, err
	}

	fearGreed := provider.NewFearGreedProvider(tracer)
	if err := registry.Register(fetch.Descriptor{
		Name: "alternative.me",
		Tier: 1,
		Categories: map[domain.Category]fetch.CategoryConfig{
			domain.CategoryFearGreed: {TTL: fearGreedTTL},
		},
	}, map[domain.Category]fetch.Caller{
		domain.CategoryFearGreed: fearGreed.Latest,
	}); err != nil {
		return nil, err
	}

	btc := provider.NewBTCMempoolProvider(tracer, "")
	if err := registry.Register(fetch.Descriptor{
		Name:    "mempool.space",
		Tier:    1,
		Timeout: 20 * time.Second,
		Categories: map[domain.Category]fetch.CategoryConfig{
			domain.CategoryOnChain: {TTL: onChainTTL, Symbols: []string{"BTC"}},
		},
	}, map[domain.Category]fetch.Caller{
		domain.CategoryOnChain: btc.Stats,
	}); err != nil {
		return nil, err
	}

	eth := provider.NewETHBlockscoutProvider(tracer, "")
	if err := registry.Register(fetch.Descriptor{
		Name:    "blockscout",
		Tier:    2,
		Timeout: 20 * time.Second,
		Categories: map[domain.Category]fetch.CategoryConfig{
			domain.CategoryOnChain: {TTL: onChainTTL, Symbols: []string{"ETH"}},
		},
	}, map[domain.Category]fetch.Caller{
		domain.CategoryOnChain: eth.Stats,
	}); err != nil {
		return nil, err
	}

	return registry, nil
}
