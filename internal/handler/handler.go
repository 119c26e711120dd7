package handler

import (
	"coinlens/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type Handler struct {
	tracer      trace.Tracer
	dataService *service.DataService
	adminKey    string
}

func New(tracer trace.Tracer, dataService *service.DataService, adminKey string) *Handler {
	return &Handler{
		tracer:      tracer,
		dataService: dataService,
		adminKey:    adminKey,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		api.GET("/quote/:symbol", h.GetQuote)
		api.GET("/candles/:symbol", h.GetCandles)
		api.GET("/news", h.GetNews)
		api.GET("/sentiment/feargreed", h.GetFearGreed)
		api.GET("/onchain/:symbol", h.GetChainStats)
		api.GET("/data/:category", h.GetData)
		api.GET("/history/quotes/:symbol", h.GetQuoteHistory)
		api.GET("/history/feargreed", h.GetFearGreedHistory)
	}

	admin := r.Group("/api/admin", APIKeyAuth(h.adminKey))
	{
		admin.GET("/providers", h.GetProviderStats)
		admin.POST("/providers/:name/reset", h.ResetProvider)
		admin.POST("/cache/clear", h.ClearCache)
	}
}
