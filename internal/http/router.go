package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig bundles the controllers the router exposes.
type RouterConfig struct {
	Health  *HealthController
	Webhook *WebhookController
	Status  *StatusController
}

// NewRouter builds the gin engine with the webhook receiver, operator
// status, health and prometheus metrics endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", cfg.Health.Status)
	router.GET("/status", cfg.Status.Status)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/cruiseline-pricing-updated", cfg.Webhook.PricingUpdated)
	}

	return router
}
