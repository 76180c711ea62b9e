package handler

import (
	"context"

	"market-signal-bot/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// SignalQuerier is the part of the signal service the HTTP API uses.
type SignalQuerier interface {
	Assets() []domain.AssetConfig
	LookupAsset(key string) (domain.AssetConfig, bool)
	Evaluate(ctx context.Context, asset domain.AssetConfig) domain.SignalResult
	EvaluateAll(ctx context.Context, assets []domain.AssetConfig) []domain.SignalResult
}

type Handler struct {
	tracer  trace.Tracer
	signals SignalQuerier
	apiKey  string
}

func New(tracer trace.Tracer, signals SignalQuerier, apiKey string) *Handler {
	return &Handler{
		tracer:  tracer,
		signals: signals,
		apiKey:  apiKey,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api", APIKeyAuth(h.apiKey))
	api.GET("/assets", h.ListAssets)
	api.GET("/signals", h.GetSummary)
	api.GET("/signals/:asset", h.GetSignal)
}
