package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetProviderStats godoc
// @Summary      Get per-provider health stats
// @Description  Returns failure counters, backoff state, and last error per provider
// @Tags         admin
// @Produce      json
// @Security     ApiKeyAuth
// @Success      200  {object}  map[string]interface{}
// @Router       /api/admin/providers [get]
func (h *Handler) GetProviderStats(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.provider-stats")
	defer span.End()

	c.JSON(http.StatusOK, gin.H{"providers": h.dataService.ProviderStats()})
}

// ResetProvider godoc
// @Summary      Reset a provider's health state
// @Description  Clears failure counters and any active backoff window
// @Tags         admin
// @Produce      json
// @Security     ApiKeyAuth
// @Param        name  path  string  true  "Provider name"
// @Success      200  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/admin/providers/{name}/reset [post]
func (h *Handler) ResetProvider(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.reset-provider")
	defer span.End()

	name := c.Param("name")
	span.SetAttributes(attribute.String("provider", name))

	if err := h.dataService.ResetProvider(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reset", "provider": name})
}

// ClearCache godoc
// @Summary      Clear the fetch cache
// @Description  Drops every cached result so the next fetch per key goes upstream
// @Tags         admin
// @Produce      json
// @Security     ApiKeyAuth
// @Success      200  {object}  map[string]string
// @Router       /api/admin/cache/clear [post]
func (h *Handler) ClearCache(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.clear-cache")
	defer span.End()

	h.dataService.ClearCache(ctx)
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
