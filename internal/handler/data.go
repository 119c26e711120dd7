package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"coinlens/internal/domain"
	"coinlens/internal/fetch"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// writeFetchError maps a fetch-layer error onto an HTTP status. The
// attempted providers go out with the body so callers can see why every
// candidate was rejected.
func writeFetchError(c *gin.Context, meta fetch.Meta, err error) {
	status := http.StatusInternalServerError
	var exhausted *fetch.ExhaustedError
	var budget *fetch.BudgetExceededError
	switch {
	case errors.Is(err, fetch.ErrUnsupportedCategory):
		status = http.StatusBadRequest
	case errors.As(err, &exhausted):
		status = http.StatusBadGateway
	case errors.As(err, &budget):
		status = http.StatusGatewayTimeout
	}

	body := gin.H{"success": false, "error": err.Error()}
	if len(meta.Attempted) > 0 {
		body["attempted"] = meta.Attempted
	}
	c.JSON(status, body)
}

// GetQuote godoc
// @Summary      Get current quote for a crypto asset
// @Description  Returns the latest price, 24h change, and volume, with source provenance
// @Tags         market
// @Produce      json
// @Param        symbol  path  string  true  "Asset symbol (e.g., BTC, ETH)"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/quote/{symbol} [get]
func (h *Handler) GetQuote(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-quote")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	if !domain.IsSupportedSymbol(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported symbol: " + symbol,
			"supported_symbols": domain.SupportedSymbols,
		})
		return
	}

	quote, meta, err := h.dataService.GetQuote(ctx, symbol)
	if err != nil {
		writeFetchError(c, meta, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": quote, "meta": meta})
}

// GetCandles godoc
// @Summary      Get OHLCV candles
// @Description  Returns candle data for a given asset and interval
// @Tags         market
// @Produce      json
// @Param        symbol    path   string  true   "Asset symbol (e.g., BTC, ETH)"
// @Param        interval  query  string  false  "Candle interval (5m, 15m, 1h, 4h, 1d)"  default(1h)
// @Param        limit     query  int     false  "Number of candles (default 100, max 500)"  default(100)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/candles/{symbol} [get]
func (h *Handler) GetCandles(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-candles")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	if !domain.IsSupportedSymbol(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported symbol: " + symbol,
			"supported_symbols": domain.SupportedSymbols,
		})
		return
	}

	interval := c.DefaultQuery("interval", "1h")
	if !domain.IsSupportedInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":               "unsupported interval: " + interval,
			"supported_intervals": domain.SupportedIntervals,
		})
		return
	}

	limit := 100
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	candles, meta, err := h.dataService.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		writeFetchError(c, meta, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"symbol":   symbol,
		"interval": interval,
		"data":     candles,
		"meta":     meta,
	})
}

// GetNews godoc
// @Summary      Get latest crypto news
// @Description  Returns recent news items aggregated across configured sources
// @Tags         news
// @Produce      json
// @Param        limit  query  int  false  "Number of items (default 40, max 100)"  default(40)
// @Success      200  {object}  map[string]interface{}
// @Router       /api/news [get]
func (h *Handler) GetNews(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-news")
	defer span.End()

	limit := 0
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	items, meta, err := h.dataService.GetNews(ctx, limit)
	if err != nil {
		writeFetchError(c, meta, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": items, "meta": meta})
}

// GetFearGreed godoc
// @Summary      Get the crypto fear & greed index
// @Description  Returns the current index value and classification
// @Tags         sentiment
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/sentiment/feargreed [get]
func (h *Handler) GetFearGreed(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-feargreed")
	defer span.End()

	point, meta, err := h.dataService.GetFearGreed(ctx)
	if err != nil {
		writeFetchError(c, meta, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": point, "meta": meta})
}

// GetChainStats godoc
// @Summary      Get on-chain activity stats
// @Description  Returns an on-chain activity snapshot for BTC or ETH
// @Tags         onchain
// @Produce      json
// @Param        symbol  path  string  true  "Asset symbol (BTC or ETH)"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/onchain/{symbol} [get]
func (h *Handler) GetChainStats(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-chain-stats")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	stats, meta, err := h.dataService.GetChainStats(ctx, symbol)
	if err != nil {
		writeFetchError(c, meta, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats, "meta": meta})
}

// GetData godoc
// @Summary      Fetch any data category
// @Description  Generic access to the fetch layer; query parameters are passed through as fetch parameters
// @Tags         data
// @Produce      json
// @Param        category  path  string  true  "Data category (e.g., market.quote, news.latest)"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/data/{category} [get]
func (h *Handler) GetData(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-data")
	defer span.End()

	category := domain.Category(c.Param("category"))
	span.SetAttributes(attribute.String("category", string(category)))

	params := map[string]string{}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	env, err := h.dataService.Fetch(ctx, category, params)
	if err != nil {
		writeFetchError(c, env.Meta, err)
		return
	}

	c.JSON(http.StatusOK, env)
}

// GetQuoteHistory godoc
// @Summary      Get persisted quote snapshots
// @Tags         history
// @Produce      json
// @Param        symbol  path   string  true   "Asset symbol (e.g., BTC, ETH)"
// @Param        limit   query  int     false  "Number of snapshots (default 100, max 500)"  default(100)
// @Success      200  {object}  map[string]interface{}
// @Router       /api/history/quotes/{symbol} [get]
func (h *Handler) GetQuoteHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-quote-history")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	quotes, err := h.dataService.QuoteHistory(ctx, symbol, limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "quotes": quotes})
}

// GetFearGreedHistory godoc
// @Summary      Get persisted fear & greed readings
// @Tags         history
// @Produce      json
// @Param        limit  query  int  false  "Number of readings (default 100, max 500)"  default(100)
// @Success      200  {object}  map[string]interface{}
// @Router       /api/history/feargreed [get]
func (h *Handler) GetFearGreedHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-feargreed-history")
	defer span.End()

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	points, err := h.dataService.FearGreedHistory(ctx, limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"points": points})
}
