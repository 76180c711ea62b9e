package handler

import (
	"net/http"

	"market-signal-bot/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// ListAssets returns the configured assets in digest order.
func (h *Handler) ListAssets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"assets": h.signals.Assets()})
}

// GetSignal evaluates one asset, looked up by CoinGecko id or command.
func (h *Handler) GetSignal(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-signal")
	defer span.End()

	key := c.Param("asset")
	span.SetAttributes(attribute.String("asset", key))

	asset, ok := h.signals.LookupAsset(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "unknown asset: " + key,
			"assets": h.signals.Assets(),
		})
		return
	}

	c.JSON(http.StatusOK, h.signals.Evaluate(ctx, asset))
}

// GetSummary evaluates every asset and returns the joined report along with
// the per-asset results.
func (h *Handler) GetSummary(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-summary")
	defer span.End()

	results := h.signals.EvaluateAll(ctx, h.signals.Assets())
	c.JSON(http.StatusOK, gin.H{
		"summary": service.JoinReports(results),
		"results": results,
	})
}
