// Package webhook module wiring and route registration.
package webhook

import (
	"github.com/jackc/pgx/v5/pgxpool"

	apphttp "leadflow_backend/internal/http"
	leadrepo "leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module is the inbound webhook bounded context implementing http.Module.
type Module struct {
	handler        *Handler
	repo           *Repository
	fallbackSecret string
}

func NewModule(pool *pgxpool.Pool, lifecycle Lifecycle, cfg config.WebhookConfig, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	service := NewService(repo, leadrepo.New(pool), lifecycle, val, log)

	return &Module{
		handler:        NewHandler(service),
		repo:           repo,
		fallbackSecret: cfg.GetWebhookSigningSecret(),
	}
}

func (m *Module) Name() string {
	return "webhook"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/webhooks")
	group.Use(ctx.WebhookRateLimiter.RateLimit())
	group.Use(SignatureMiddleware(m.repo, m.fallbackSecret))
	group.POST("/:source", m.handler.HandleEvent)
}

var _ apphttp.Module = (*Module)(nil)
