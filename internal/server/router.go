package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type RouterConfig struct {
	Handlers       *Handlers
	AuthMiddleware *AuthMiddleware
	ServiceName    string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(AttachTraceContext())
	r.Use(CORS())

	h := cfg.Handlers

	// Health
	r.GET("/healthcheck", h.HealthCheck)

	api := r.Group("/api")
	{
		// Auth (public)
		api.POST("/login", h.Login)
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// User (Me)
		protected.GET("/me", h.GetMe)

		// Connectors
		protected.GET("/connectors", h.ListConnectors)
		protected.POST("/connectors/:type", h.ConnectConnector)
		protected.GET("/connectors/:type/auth-url", h.ConnectorAuthURL)
		protected.POST("/connectors/:type/exchange", h.ConnectorExchange)
		protected.POST("/connectors/:type/sync", h.SyncConnector)
		protected.DELETE("/connectors/:type", h.DisconnectConnector)

		// Search
		protected.POST("/search", h.Search)

		// Knowledge gaps
		protected.POST("/analyze", h.Analyze)
		protected.GET("/gaps", h.ListGaps)
		protected.GET("/gaps/:id", h.GetGap)
		protected.POST("/gaps/:id/answers", h.SubmitAnswer)
		protected.POST("/complete", h.CompleteProcess)

		// Progress (SSE)
		protected.GET("/progress/stream", h.ProgressStream)
	}

	return r
}
