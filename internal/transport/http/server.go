package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/auth"
	"github.com/vovakirdan/wirerelay-server/internal/config"
	"github.com/vovakirdan/wirerelay-server/internal/core"
	"github.com/vovakirdan/wirerelay-server/internal/metrics"
	"github.com/vovakirdan/wirerelay-server/internal/store"
)

// NewServer builds the HTTP server: WebSocket relay, REST API, health and metrics.
// m may be nil, in which case /metrics is not mounted.
func NewServer(hub *core.Hub, authService *auth.Service, messages store.MessageStore, m *metrics.Metrics, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, WSOptions{
		RateLimit:       cfg.WSRateLimit,
		RateBurst:       cfg.WSRateBurst,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}, logger)))
	if m != nil && cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	apiHandlers := NewAPIHandlers(authService, logger)
	relayHandlers := NewRelayHandlers(hub, messages, cfg.StoreTimeout, logger)

	api := router.Group("/api")
	{
		api.POST("/signup", apiHandlers.SignUp)
		api.POST("/login", apiHandlers.Login)
		api.GET("/presence/:identity", relayHandlers.Presence)

		protected := api.Group("")
		protected.Use(AuthMiddleware(authService, logger))
		protected.GET("/messages", relayHandlers.History)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
